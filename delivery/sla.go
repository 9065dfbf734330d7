package delivery

import (
	"errors"
	"time"
)

// ServiceType names a purchasable service with a deliverable
type ServiceType string

// Known service types
const (
	ServiceCoachingBundle  ServiceType = "COACHING_BUNDLE"
	ServiceWorkoutPlan     ServiceType = "WORKOUT_PLAN"
	ServiceMealPlan        ServiceType = "MEAL_PLAN"
	ServiceInPersonSession ServiceType = "IN_PERSON_SESSION"
)

// ErrUnknownServiceType is returned for a service type without an SLA
var ErrUnknownServiceType = errors.New("unknown service type")

var slaDays = map[ServiceType]int{
	ServiceCoachingBundle:  5,
	ServiceWorkoutPlan:     3,
	ServiceMealPlan:        3,
	ServiceInPersonSession: 7,
}

// SLADays returns the fulfilment window of a service type in days
func SLADays(serviceType ServiceType) (int, error) {
	days, ok := slaDays[serviceType]
	if !ok {
		return 0, ErrUnknownServiceType
	}
	return days, nil
}

// DueDate is createdAt plus the SLA window of serviceType
func DueDate(createdAt time.Time, serviceType ServiceType) (time.Time, error) {
	days, err := SLADays(serviceType)
	if err != nil {
		return time.Time{}, err
	}
	return createdAt.AddDate(0, 0, days), nil
}

// Urgency buckets a delivery by how close it is to its due date
type Urgency string

// Urgency buckets, in precedence order
const (
	UrgencyCompleted Urgency = "completed"
	UrgencyOverdue   Urgency = "overdue"
	UrgencyDueToday  Urgency = "due-today"
	UrgencyDueSoon   Urgency = "due-soon"
	UrgencyUpcoming  Urgency = "upcoming"
)

const dueSoonDays = 2

// Classify returns the urgency of a delivery with the given status and due date. Days are
// calendar days in now's location.
func Classify(status Status, dueDate, now time.Time) Urgency {
	if status.Terminal() {
		return UrgencyCompleted
	}
	remaining := calendarDays(now, dueDate.In(now.Location()))
	switch {
	case remaining < 0:
		return UrgencyOverdue
	case remaining == 0:
		return UrgencyDueToday
	case remaining <= dueSoonDays:
		return UrgencyDueSoon
	default:
		return UrgencyUpcoming
	}
}

// Deadline is the due date and urgency of a delivery at an instant
type Deadline struct {
	DueDate time.Time `json:"dueDate"`
	Urgency Urgency   `json:"urgency"`
}

// Track computes the Deadline of a delivery created at createdAt
func Track(createdAt time.Time, serviceType ServiceType, status Status, now time.Time) (Deadline, error) {
	due, err := DueDate(createdAt, serviceType)
	if err != nil {
		return Deadline{}, err
	}
	return Deadline{
		DueDate: due,
		Urgency: Classify(status, due, now),
	}, nil
}

// calendarDays counts the date boundaries between from and to, ignoring the time of day
func calendarDays(from, to time.Time) int {
	y1, m1, d1 := from.Date()
	y2, m2, d2 := to.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
