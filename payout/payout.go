package payout

import "time"

// Kind identifies which connected account receives a trainer's share
type Kind string

// Destination kinds, team taking priority over individual
const (
	KindTeam       Kind = "team"
	KindIndividual Kind = "individual"
	KindNone       Kind = "none"
)

// Destination is resolved per transaction and never persisted
type Destination struct {
	ConnectedAccountID string `json:"connectedAccountId,omitempty"`
	Kind               Kind   `json:"destinationKind"`
	DisplayName        string `json:"displayName,omitempty"`
}

// Shares reports whether a split can be routed to this destination
func (d Destination) Shares() bool {
	return d.Kind != KindNone && len(d.ConnectedAccountID) > 0
}

// Trainer is a coach who may own a connected payout account
type Trainer struct {
	ID                 string    `json:"id" gorm:"primaryKey"`
	AccountID          string    `json:"accountId" gorm:"index"`
	DisplayName        string    `json:"displayName"`
	ConnectedAccountID string    `json:"connectedAccountId"` // Stripe Connect account, empty until onboarding completes
	CreatedAt          time.Time `json:"createdAt"`
}

// Team groups trainers under a shared payout account
type Team struct {
	ID                 string    `json:"id" gorm:"primaryKey"`
	Name               string    `json:"name"`
	ConnectedAccountID string    `json:"connectedAccountId"`
	CreatedAt          time.Time `json:"createdAt"`
}

// TeamMembership links a trainer to a team
type TeamMembership struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	TeamID    string    `json:"teamId" gorm:"index"`
	TrainerID string    `json:"trainerId" gorm:"index"`
	Active    bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"createdAt"`

	Team Team `json:"team"`
}
