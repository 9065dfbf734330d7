package subscription

import (
	"time"

	"github.com/coachpay/engine/compliance"
	"github.com/coachpay/engine/db"
)

// Subscription is one billing period chain of a user. Rows are never deleted.
type Subscription struct {
	ID                      string              `json:"id" gorm:"primaryKey"`
	UserID                  string              `json:"userId" gorm:"index"`
	TrainerID               string              `json:"trainerId" gorm:"index"`
	Status                  Status              `json:"status" gorm:"index"`
	StartDate               time.Time           `json:"startDate"`
	EndDate                 time.Time           `json:"endDate"`
	PackageID               string              `json:"packageId"`
	OriginPlatform          compliance.Platform `json:"originPlatform"`
	GatewaySubscriptionID   string              `json:"gatewaySubscriptionId" gorm:"uniqueIndex"` // Corresponds to Stripe's Subscription ID
	GatewayInitialInvoiceID string              `json:"gatewayInitialInvoiceId"`                  // Invoice of the first charge, distinguishes renewals
	FailedRetries           int                 `json:"failedRetries"`
	GraceEndsAt             *time.Time          `json:"graceEndsAt"`
	LastEventAt             *time.Time          `json:"-"` // Timestamp of the last gateway event applied to this row
	CreatedAt               time.Time           `json:"createdAt"`
	UpdatedAt               time.Time           `json:"updatedAt"`
}

// Package is immutable reference data describing what a subscription buys
type Package struct {
	ID               string      `json:"id" gorm:"primaryKey"`
	Name             string      `json:"name"`
	DurationDays     int         `json:"durationDays"`
	GatewayLookupKey string      `json:"gatewayLookupKey" gorm:"index"` // Corresponds to Stripe's Price lookup_key
	ServiceType      string      `json:"serviceType"`                   // Empty when the package carries no deliverable
	Discount         db.Metadata `json:"discount"`
}

// BillingRecord is one invoice or charge attempt. Only refund fields are ever updated.
type BillingRecord struct {
	ID               string        `json:"id" gorm:"primaryKey"`
	SubscriptionID   string        `json:"subscriptionId" gorm:"index"`
	GatewayInvoiceID string        `json:"gatewayInvoiceId" gorm:"uniqueIndex:idx_billing_attempt"`
	Attempt          int           `json:"attempt" gorm:"uniqueIndex:idx_billing_attempt"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	Status           BillingStatus `json:"status"`
	PeriodStart      time.Time     `json:"periodStart"`
	PeriodEnd        time.Time     `json:"periodEnd"`
	RefundAmount     int64         `json:"refundAmount"`
	RefundReason     string        `json:"refundReason"`
	RefundedAt       *time.Time    `json:"refundedAt"`
	CreatedAt        time.Time     `json:"createdAt"`
}
