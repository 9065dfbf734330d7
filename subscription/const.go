package subscription

// Status is the entitlement state of a subscription row, and of a user once resolved
type Status string

// Defining the subscription statuses
const (
	StatusNone            Status = "NO_SUBSCRIPTION"
	StatusTrial           Status = "TRIAL"
	StatusGracePeriod     Status = "GRACE_PERIOD"
	StatusActive          Status = "ACTIVE"
	StatusCancelledActive Status = "CANCELLED_ACTIVE"
	StatusExpired         Status = "EXPIRED"
)

// Statuses lists every Status
var Statuses = []Status{
	StatusNone,
	StatusTrial,
	StatusGracePeriod,
	StatusActive,
	StatusCancelledActive,
	StatusExpired,
}

// HasPremiumAccess reports whether a user in this state may use paid features
func (s Status) HasPremiumAccess() bool {
	switch s {
	case StatusActive, StatusCancelledActive, StatusGracePeriod, StatusTrial:
		return true
	case StatusNone, StatusExpired:
		return false
	}
	return false
}

// paid reports whether a row in this state was ever charged
func (s Status) paid() bool {
	switch s {
	case StatusActive, StatusCancelledActive, StatusGracePeriod, StatusExpired:
		return true
	case StatusNone, StatusTrial:
		return false
	}
	return false
}

// current reports whether a row in this state grants access until its end date
func (s Status) current() bool {
	return s == StatusActive || s == StatusCancelledActive
}

// BillingStatus is the outcome of one invoice or charge attempt
type BillingStatus string

const (
	BillingSuccess  BillingStatus = "SUCCESS"
	BillingFailed   BillingStatus = "FAILED"
	BillingRefunded BillingStatus = "REFUNDED"
)
