package notify

import (
	"context"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Template identifies the message a messaging collaborator renders
type Template string

// Known templates
const (
	TemplateDisputeCreated Template = "dispute_created"
	TemplateDisputeUpdated Template = "dispute_updated"
	TemplateDisputeClosed  Template = "dispute_closed"
)

// Message is a transport agnostic notification for a single recipient
type Message struct {
	Recipient string                 `json:"recipient"`
	Template  Template               `json:"template"`
	Subject   string                 `json:"subject"`
	Payload   map[string]interface{} `json:"payload"`
}

// Dispatcher hands a Message to whatever delivers it (email, push, chat)
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// AdminDirectory lists the recipients of administrative notifications
type AdminDirectory interface {
	AdminIDs(ctx context.Context) ([]string, error)
}

// Options provides initialization parameters for Notifier
type Options struct {
	Logger     *zap.Logger
	Dispatcher Dispatcher
	Admins     AdminDirectory
}

// Notifier fans notifications out to recipients
type Notifier struct {
	Options
}

// New returns a Notifier
func New(option Options) (*Notifier, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Dispatcher == nil {
		return nil, fmt.Errorf("nil Dispatcher is invalid")
	}
	if option.Admins == nil {
		return nil, fmt.Errorf("nil Admins is invalid")
	}
	return &Notifier{
		Options: option,
	}, nil
}

// Result summarizes a fan-out
type Result struct {
	Sent   []string
	Failed []string
}

// NotifyAdmins sends one message per administrator. A failure for one administrator is logged and
// does not stop the others; only a failure to list administrators is returned.
func (n *Notifier) NotifyAdmins(ctx context.Context, template Template, subject string, payload map[string]interface{}) (Result, error) {
	var result Result

	admins, err := n.Admins.AdminIDs(ctx)
	if err != nil {
		return result, extErrors.Wrap(err, "Cannot list administrators")
	}

	for _, id := range admins {
		msg := Message{
			Recipient: id,
			Template:  template,
			Subject:   subject,
			Payload:   payload,
		}
		if err := n.dispatch(ctx, msg); err != nil {
			n.Logger.Error("Unable to notify administrator",
				zap.String("Recipient", id),
				zap.String("Template", string(template)),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, id)
			continue
		}
		result.Sent = append(result.Sent, id)
	}

	return result, nil
}

func (n *Notifier) dispatch(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher panicked: %v", r)
		}
	}()
	return n.Dispatcher.Dispatch(ctx, msg)
}

// LogDispatcher writes messages to the log. It is used when no broker is configured.
type LogDispatcher struct {
	Logger *zap.Logger
}

// Dispatch logs msg
func (l LogDispatcher) Dispatch(ctx context.Context, msg Message) error {
	l.Logger.Info("Notification",
		zap.String("Recipient", msg.Recipient),
		zap.String("Template", string(msg.Template)),
		zap.String("Subject", msg.Subject),
		zap.Any("Payload", msg.Payload),
	)
	return nil
}
