package delivery

import (
	"time"

	"github.com/coachpay/engine/db"
)

// ServiceDelivery is a purchased service a trainer has to fulfil for a client
type ServiceDelivery struct {
	ID              string      `json:"id" gorm:"primaryKey"`
	TrainerID       string      `json:"trainerId" gorm:"index"`
	ClientID        string      `json:"clientId" gorm:"index"`
	SubscriptionID  string      `json:"subscriptionId,omitempty" gorm:"index"`
	ServiceType     ServiceType `json:"serviceType"`
	Status          Status      `json:"status" gorm:"index"`
	Renewal         bool        `json:"renewal"`
	SourceRef       string      `json:"-" gorm:"uniqueIndex"`         // Invoice or payment intent that paid for this delivery
	PaymentIntentID string      `json:"paymentIntentId" gorm:"index"` // Corresponds to Stripe's PaymentIntent ID
	DisputeStatus   string      `json:"disputeStatus,omitempty"`      // Stripe's dispute status string, verbatim
	DisputedAt      *time.Time  `json:"disputedAt,omitempty"`
	DisputeEventAt  *time.Time  `json:"-"`
	DeliveredAt     *time.Time  `json:"deliveredAt,omitempty"`
	Metadata        db.Metadata `json:"metadata"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`

	Tasks []Task `json:"tasks" gorm:"foreignKey:DeliveryID"`
}

// Task is one checklist item of a ServiceDelivery
type Task struct {
	ID                  string     `json:"id" gorm:"primaryKey"`
	DeliveryID          string     `json:"deliveryId" gorm:"index"`
	TemplateID          string     `json:"templateId"`
	Title               string     `json:"title"`
	TaskType            TaskType   `json:"taskType"`
	Status              TaskStatus `json:"status"`
	Position            int        `json:"order"`
	IsRequired          bool       `json:"isRequired"`
	AutoCompleteOn      string     `json:"autoCompleteOn,omitempty" gorm:"index"`
	RequiredCompletions int        `json:"requiredCompletions"`
	Completions         int        `json:"completions"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// derivedStatus computes the delivery status implied by its tasks. Once no required task is
// left open or completed the delivery closes: COMPLETED if any work was completed, else CANCELLED.
func derivedStatus(tasks []Task) Status {
	required, done, completed, progressed := 0, 0, false, false
	for _, task := range tasks {
		if task.Status == TaskCompleted {
			completed = true
		}
		if task.Status == TaskInProgress || task.Status == TaskCompleted {
			progressed = true
		}
		if !task.IsRequired || task.Status == TaskCancelled {
			continue
		}
		required++
		if task.Status == TaskCompleted {
			done++
		}
	}
	switch {
	case required == 0 && completed:
		return StatusCompleted
	case required == 0:
		return StatusCancelled
	case done == required:
		return StatusCompleted
	case progressed:
		return StatusInProgress
	default:
		return StatusPending
	}
}
