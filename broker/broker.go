package broker

import (
	"github.com/coachpay/engine/notify"
)

// Broker defines the interface for publishing notifications via message broker
type Broker interface {
	notify.Dispatcher
	Close()
}
