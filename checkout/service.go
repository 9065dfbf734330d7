package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coachpay/engine/auth"
	"github.com/coachpay/engine/compliance"
	"github.com/coachpay/engine/external"
	"github.com/coachpay/engine/payout"
	resp "github.com/coachpay/engine/response"
	"github.com/coachpay/engine/revenue"
	"github.com/coachpay/engine/subscription"
	"github.com/coachpay/engine/webhook"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// IntentCreator creates payment intents on the gateway
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// PackageLookup finds purchasable packages
type PackageLookup interface {
	GetPackage(ctx context.Context, id string) (*subscription.Package, error)
}

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Logger   *zap.Logger
	Auth     *auth.Auth
	Planner  *Planner
	Intents  IntentCreator
	Packages PackageLookup
}

// Service exposes the initial charge path
type Service struct {
	ServiceOptions
	validate *validator.Validate
}

// NewService will create an instance of the checkout API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.Planner == nil {
		return nil, fmt.Errorf("nil Planner is invalid")
	}
	if option.Intents == nil {
		return nil, fmt.Errorf("nil Intents is invalid")
	}
	if option.Packages == nil {
		return nil, fmt.Errorf("nil Packages is invalid")
	}
	return &Service{
		ServiceOptions: option,
		validate:       validator.New(),
	}, nil
}

// IntentRequest describes a purchase from a trainer
type IntentRequest struct {
	TrainerID string             `json:"trainerId" validate:"required"`
	PackageID string             `json:"packageId"`
	Currency  string             `json:"currency" validate:"required,len=3,alpha"`
	Platform  string             `json:"platform" validate:"omitempty,oneof=ios android web"`
	Items     []revenue.LineItem `json:"items" validate:"required,min=1,max=50,dive"`
}

// IntentResponse is returned once the payment intent exists
type IntentResponse struct {
	PaymentIntentID string       `json:"paymentIntentId"`
	ClientSecret    string       `json:"clientSecret"`
	Instructions    Instructions `json:"instructions"`
}

func (s *Service) createIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	var req IntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	logger := s.Logger.With(
		zap.String("AccountID", claims.ID),
		zap.String("TrainerID", req.TrainerID),
	)

	if len(req.PackageID) > 0 {
		_, err := s.Packages.GetPackage(ctx, req.PackageID)
		if errors.Is(err, subscription.ErrNotFound) {
			resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Package not found"))
			return
		}
		if err != nil {
			logger.Error("Unable to look up package",
				zap.String("PackageID", req.PackageID),
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrUnexpected())
			return
		}
	}

	instructions, err := s.Planner.Plan(ctx, req.TrainerID, req.Items)
	switch {
	case err == nil:
	case errors.Is(err, revenue.ErrInvalidLineItem), errors.Is(err, revenue.ErrAmountOverflow):
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	case errors.Is(err, external.ErrPriceNotFound):
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unknown price"))
		return
	case errors.Is(err, payout.ErrTrainerNotFound):
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Trainer not found"))
		return
	default:
		logger.Error("Unable to plan checkout",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadGateway())
		return
	}

	params := &stripe.PaymentIntentParams{
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.AddMetadata(webhook.MetadataUserID, claims.ID)
	params.AddMetadata(webhook.MetadataTrainerID, req.TrainerID)
	if len(req.PackageID) > 0 {
		params.AddMetadata(webhook.MetadataPackageID, req.PackageID)
	}
	if platform, err := compliance.ParsePlatform(req.Platform); err == nil {
		params.AddMetadata(webhook.MetadataPlatform, string(platform))
	}
	instructions.Apply(params)

	pi, err := s.Intents.CreatePaymentIntent(ctx, params)
	if err != nil {
		logger.Error("Unable to create payment intent",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadGateway())
		return
	}

	logger.Info("Payment intent created",
		zap.String("PaymentIntentID", pi.ID),
		zap.String("DestinationKind", string(instructions.Destination.Kind)),
		zap.Int64("ApplicationFeeAmount", instructions.Split.ApplicationFeeAmount),
	)

	resp.WriteResponse(w, r, IntentResponse{
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		Instructions:    instructions,
	})
}

// Router will return the routes under checkout API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())

	r.Post("/intents", s.createIntent)

	return r
}
