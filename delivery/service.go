package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coachpay/engine/auth"
	"github.com/coachpay/engine/payout"
	resp "github.com/coachpay/engine/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// TrainerDirectory maps a login account to its trainer record
type TrainerDirectory interface {
	GetByAccount(ctx context.Context, accountID string) (*payout.Trainer, error)
}

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Logger          *zap.Logger
	Auth            *auth.Auth
	DeliveryManager *Manager
	Trainers        TrainerDirectory
	Now             func() time.Time
}

// Service exposes deliveries to trainers and administrators
type Service struct {
	ServiceOptions
	validate *validator.Validate
}

// NewService will create an instance of the delivery API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.DeliveryManager == nil {
		return nil, fmt.Errorf("nil DeliveryManager is invalid")
	}
	if option.Trainers == nil {
		return nil, fmt.Errorf("nil Trainers is invalid")
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	return &Service{
		ServiceOptions: option,
		validate:       validator.New(),
	}, nil
}

// View is a delivery with its deadline at the time of the request
type View struct {
	ServiceDelivery
	Deadline
}

func (s *Service) view(d ServiceDelivery, now time.Time) View {
	deadline, err := Track(d.CreatedAt, d.ServiceType, d.Status, now)
	if err != nil {
		s.Logger.Warn("Delivery has no SLA",
			zap.String("DeliveryID", d.ID),
			zap.String("ServiceType", string(d.ServiceType)),
		)
	}
	return View{ServiceDelivery: d, Deadline: deadline}
}

func (s *Service) writeManagerError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		resp.WriteError(w, r, resp.ErrNotFound())
	case errors.Is(err, ErrInvalidTransition):
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Task status transition is not allowed"))
	case errors.Is(err, ErrClosed):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Delivery is already closed"))
	case errors.Is(err, ErrStaleState):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Delivery was modified concurrently, please retry"))
	default:
		logger.Error("Unable to update delivery",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
	}
}

// trainerID returns the trainer record behind the caller's account, or an empty string when the
// account has none
func (s *Service) trainerID(ctx context.Context, claims *auth.Claims) (string, error) {
	trainer, err := s.Trainers.GetByAccount(ctx, claims.ID)
	if errors.Is(err, payout.ErrTrainerNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return trainer.ID, nil
}

func (s *Service) listDeliveries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	var trainerID string
	if claims.Role == auth.RoleAdmin {
		trainerID = r.URL.Query().Get("trainerId")
		if len(trainerID) == 0 {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("trainerId is required"))
			return
		}
	} else {
		id, err := s.trainerID(ctx, claims)
		if err != nil {
			s.Logger.Error("Unable to look up trainer",
				zap.String("AccountID", claims.ID),
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrUnexpected())
			return
		}
		if len(id) == 0 {
			resp.WriteResponse(w, r, []View{})
			return
		}
		trainerID = id
	}
	all := r.URL.Query().Get("all") == "true"

	deliveries, err := s.DeliveryManager.ListForTrainer(ctx, trainerID, all)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to list deliveries"))
		return
	}

	now := s.Now()
	views := make([]View, 0, len(deliveries))
	for _, d := range deliveries {
		views = append(views, s.view(d, now))
	}
	resp.WriteResponse(w, r, views)
}

func (s *Service) getDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	d, err := s.DeliveryManager.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeManagerError(w, r, s.Logger, err)
		return
	}
	if claims.Role != auth.RoleAdmin && d.ClientID != claims.ID {
		trainerID, err := s.trainerID(ctx, claims)
		if err != nil {
			s.writeManagerError(w, r, s.Logger, err)
			return
		}
		if len(trainerID) == 0 || d.TrainerID != trainerID {
			resp.WriteError(w, r, resp.ErrNotFound())
			return
		}
	}
	resp.WriteResponse(w, r, s.view(*d, s.Now()))
}

// ActionRequest reports an external action a trainer performed for a client
type ActionRequest struct {
	TrainerID string `json:"trainerId"` // administrators act on behalf of this trainer
	ClientID  string `json:"clientId" validate:"required"`
	Action    string `json:"action" validate:"required,oneof=training_plan_assigned meal_plan_assigned check_in_replied session_scheduled session_completed"`
}

func (s *Service) recordAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("clientId and a known action are required"))
		return
	}

	trainerID := req.TrainerID
	if claims.Role != auth.RoleAdmin {
		id, err := s.trainerID(ctx, claims)
		if err != nil {
			s.writeManagerError(w, r, s.Logger, err)
			return
		}
		if len(id) == 0 {
			resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Trainer profile not found"))
			return
		}
		trainerID = id
	}
	if len(trainerID) == 0 {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("trainerId is required"))
		return
	}

	logger := s.Logger.With(
		zap.String("AccountID", claims.ID),
		zap.String("TrainerID", trainerID),
		zap.String("ClientID", req.ClientID),
		zap.String("Action", req.Action),
	)

	now := s.Now()
	d, err := s.DeliveryManager.RecordAction(ctx, ActionOption{
		TrainerID: trainerID,
		ClientID:  req.ClientID,
		Action:    req.Action,
		At:        now,
	})
	if err != nil {
		s.writeManagerError(w, r, logger, err)
		return
	}
	if d == nil {
		resp.WriteResponse(w, r, nil)
		return
	}
	resp.WriteResponse(w, r, s.view(*d, now))
}

// TransitionRequest moves a task to another status
type TransitionRequest struct {
	Status TaskStatus `json:"status" validate:"required,oneof=IN_PROGRESS COMPLETED CANCELLED"`
}

func (s *Service) transitionTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)
	taskID := chi.URLParam(r, "taskID")

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid task status"))
		return
	}

	logger := s.Logger.With(zap.String("TaskID", taskID))

	owner, err := s.DeliveryManager.GetByTask(ctx, taskID)
	if err != nil {
		s.writeManagerError(w, r, logger, err)
		return
	}
	if claims.Role != auth.RoleAdmin {
		trainerID, err := s.trainerID(ctx, claims)
		if err != nil {
			s.writeManagerError(w, r, logger, err)
			return
		}
		if len(trainerID) == 0 || owner.TrainerID != trainerID {
			logger.Warn("Trainer does not own the delivery of this task",
				zap.String("AccountID", claims.ID),
			)
			resp.WriteError(w, r, resp.ErrNotFound())
			return
		}
	}

	now := s.Now()
	d, err := s.DeliveryManager.TransitionTask(ctx, taskID, req.Status, now)
	if err != nil {
		s.writeManagerError(w, r, logger, err)
		return
	}
	resp.WriteResponse(w, r, s.view(*d, now))
}

func (s *Service) cancelDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	now := s.Now()
	d, err := s.DeliveryManager.Cancel(r.Context(), id, now)
	if err != nil {
		s.writeManagerError(w, r, s.Logger.With(zap.String("DeliveryID", id)), err)
		return
	}
	resp.WriteResponse(w, r, s.view(*d, now))
}

// Router will return the routes under delivery API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())

	r.Get("/", s.listDeliveries)
	r.Get("/{id}", s.getDelivery)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.RequireRole(auth.RoleTrainer, auth.RoleAdmin))
		r.Post("/actions", s.recordAction)
		r.Post("/tasks/{taskID}/transition", s.transitionTask)
	})

	r.With(s.Auth.RequireRole(auth.RoleAdmin)).Post("/{id}/cancel", s.cancelDelivery)

	return r
}
