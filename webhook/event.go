package webhook

import (
	"errors"
	"time"

	"github.com/coachpay/engine/compliance"
)

// Sentinel errors
var (
	ErrInvalidSignature    = errors.New("webhook signature is invalid")
	ErrInvalidEvent        = errors.New("webhook event is malformed")
	ErrEventIgnored        = errors.New("webhook event type is not handled")
	ErrUnknownSubscription = errors.New("event references an unknown subscription")
)

// EventType is the gateway independent kind of an inbound event
type EventType string

// Handled event types
const (
	SubscriptionCreated   EventType = "subscription.created"
	SubscriptionRenewed   EventType = "subscription.renewed"
	SubscriptionCancelled EventType = "subscription.cancelled"
	InvoicePaid           EventType = "invoice.paid"
	InvoiceFailed         EventType = "invoice.failed"
	PaymentSucceeded      EventType = "payment.succeeded"
	ChargeRefunded        EventType = "charge.refunded"
	DisputeCreated        EventType = "dispute.created"
	DisputeUpdated        EventType = "dispute.updated"
	DisputeClosed         EventType = "dispute.closed"
)

// Event is a verified and parsed gateway event. Exactly one of the object fields is set.
type Event struct {
	ID         string
	Type       EventType
	OccurredAt time.Time

	Subscription *SubscriptionObject
	Invoice      *InvoiceObject
	Payment      *PaymentObject
	Charge       *ChargeObject
	Dispute      *DisputeObject
}

// SubscriptionObject is the subscription an event refers to
type SubscriptionObject struct {
	GatewayID         string
	Status            string
	UserID            string
	TrainerID         string
	PackageID         string
	Platform          compliance.Platform
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	Ended             bool // the gateway deleted the subscription
	LatestInvoiceID   string
}

// InvoiceObject is the invoice an event refers to
type InvoiceObject struct {
	ID                    string
	SubscriptionGatewayID string
	PaymentIntentID       string
	Amount                int64
	Currency              string
	PeriodStart           time.Time
	PeriodEnd             time.Time
	AttemptCount          int
	NextPaymentAttempt    *time.Time
}

// PaymentObject is a one-off payment made through checkout
type PaymentObject struct {
	PaymentIntentID string
	InvoiceID       string // set when the payment settles a subscription invoice
	Amount          int64
	Currency        string
	UserID          string
	TrainerID       string
	PackageID       string
}

// ChargeObject is the charge an event refers to
type ChargeObject struct {
	ID              string
	PaymentIntentID string
	InvoiceID       string
	AmountRefunded  int64
	FullyRefunded   bool
	RefundReason    string
}

// DisputeObject is the dispute an event refers to
type DisputeObject struct {
	ID              string
	ChargeID        string
	PaymentIntentID string
	Amount          int64
	Currency        string
	Reason          string
	Status          string
	EvidenceDueBy   *time.Time
}
