package account

import (
	"time"

	"github.com/coachpay/engine/auth"
)

// Account describes a user of the platform: client, trainer or administrator
type Account struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"uniqueIndex"`
	Role      auth.Role `json:"role" gorm:"index"`
	CreatedAt time.Time `json:"createdAt"` // Start of the trial window
}
