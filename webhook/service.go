package webhook

import (
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"

	resp "github.com/coachpay/engine/response"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

const maxBodyBytes = int64(65536)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Logger        *zap.Logger
	Processor     *Processor
	WebhookSecret string
}

// Service receives gateway webhooks
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the webhook router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Processor == nil {
		return nil, fmt.Errorf("nil Processor is invalid")
	}
	if len(option.WebhookSecret) == 0 {
		return nil, fmt.Errorf("empty WebhookSecret is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unable to read request body"))
		return
	}

	event, err := ParseStripe(payload, r.Header.Get("Stripe-Signature"), s.WebhookSecret)
	switch {
	case errors.Is(err, ErrEventIgnored):
		resp.WriteResponse(w, r, "ignored")
		return
	case errors.Is(err, ErrInvalidSignature):
		s.Logger.Warn("Rejected webhook with invalid signature",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid signature"))
		return
	case err != nil:
		s.Logger.Warn("Rejected malformed webhook",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Malformed event"))
		return
	}

	logger := s.Logger.With(
		zap.String("EventID", event.ID),
		zap.String("EventType", string(event.Type)),
	)

	err = s.Processor.Process(r.Context(), event)
	switch {
	case err == nil:
		resp.WriteResponse(w, r, "ok")
	case errors.Is(err, ErrInvalidEvent):
		logger.Warn("Event failed validation",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Malformed event"))
	case errors.Is(err, ErrUnknownSubscription):
		logger.Info("Event references an unknown subscription, asking gateway to retry")
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Subscription not found"))
	default:
		logger.Error("Unable to process webhook event",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
	}
}

// Router will return the routes under webhook API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/stripe", s.stripeWebhook)

	return r
}
