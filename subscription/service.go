package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coachpay/engine/account"
	"github.com/coachpay/engine/auth"
	resp "github.com/coachpay/engine/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Logger              *zap.Logger
	Auth                *auth.Auth
	AccountManager      *account.Manager
	SubscriptionManager *Manager
	Now                 func() time.Time
}

// Service exposes entitlement and reconciliation
type Service struct {
	ServiceOptions
	validate *validator.Validate
}

// NewService will create an instance of the subscription API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.AccountManager == nil {
		return nil, fmt.Errorf("nil AccountManager is invalid")
	}
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	return &Service{
		ServiceOptions: option,
		validate:       validator.New(),
	}, nil
}

func (s *Service) getEntitlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, _ := auth.FromContext(ctx)
	logger := s.Logger.With(zap.String("AccountID", claims.ID))

	acct, err := s.AccountManager.GetByID(ctx, claims.ID)
	if errors.Is(err, account.ErrNotFound) {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Account not found"))
		return
	}
	if err != nil {
		logger.Error("Unable to load account",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	ent, err := s.SubscriptionManager.Entitlement(ctx, acct.ID, acct.CreatedAt, s.Now())
	if err != nil {
		logger.Error("Unable to resolve entitlement",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to resolve entitlement"))
		return
	}

	resp.WriteResponse(w, r, ent)
}

// ReconcileRequest lists the subscriptions to verify against the gateway
type ReconcileRequest struct {
	SubscriptionIDs []string `json:"subscriptionIds" validate:"required,min=1,max=100,dive,required"`
}

func (s *Service) reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("subscriptionIds must list between 1 and 100 ids"))
		return
	}

	results := s.SubscriptionManager.Reconcile(r.Context(), req.SubscriptionIDs)

	resp.WriteResponse(w, r, results)
}

// Router will return the routes under subscription API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())

	r.Get("/entitlement", s.getEntitlement)

	r.With(s.Auth.RequireRole(auth.RoleAdmin)).Post("/reconcile", s.reconcile)

	return r
}
