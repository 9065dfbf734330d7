package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coachpay/engine/db"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sentinel errors
var (
	ErrNotFound          = errors.New("delivery not found")
	ErrStaleState        = errors.New("delivery changed concurrently")
	ErrInvalidTransition = errors.New("task status transition is not allowed")
	ErrClosed            = errors.New("delivery is already completed or cancelled")
)

// Manager handles the database operations relating to ServiceDelivery and Task
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for deliveries
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if db == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if err := db.AutoMigrate(&ServiceDelivery{}, &Task{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize delivery.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// CreateOption describes a paid service to be fulfilled
type CreateOption struct {
	TrainerID       string
	ClientID        string
	SubscriptionID  string
	ServiceType     ServiceType
	SourceRef       string // invoice or payment intent id; creation is idempotent on it
	PaymentIntentID string
	Renewal         bool
	Metadata        db.Metadata
	Now             time.Time
}

// Create inserts a delivery and its expanded task checklist. If a delivery already exists for
// the same SourceRef, that one is returned and created is false.
func (m *Manager) Create(ctx context.Context, opt CreateOption) (delivery *ServiceDelivery, created bool, err error) {
	if len(opt.SourceRef) == 0 {
		return nil, false, fmt.Errorf("CreateOption.SourceRef is required")
	}
	if opt.Now.IsZero() {
		opt.Now = time.Now()
	}
	now := opt.Now.UTC()

	id := uuid.New().String()
	tasks, err := ExpandTasks(opt.ServiceType, id, opt.Renewal, now)
	if err != nil {
		return nil, false, err
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d := ServiceDelivery{
			ID:              id,
			TrainerID:       opt.TrainerID,
			ClientID:        opt.ClientID,
			SubscriptionID:  opt.SubscriptionID,
			ServiceType:     opt.ServiceType,
			Status:          StatusPending,
			Renewal:         opt.Renewal,
			SourceRef:       opt.SourceRef,
			PaymentIntentID: opt.PaymentIntentID,
			Metadata:        opt.Metadata,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&d)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		created = true
		if len(tasks) == 0 {
			return nil
		}
		return tx.Create(&tasks).Error
	})
	if err != nil {
		m.logger.Error("Unable to create new delivery in database",
			zap.String("SourceRef", opt.SourceRef),
			zap.Error(err),
		)
		return nil, false, extErrors.Wrap(err, "Cannot create delivery")
	}

	if created {
		delivery, err = m.Get(ctx, id)
	} else {
		delivery, err = m.getBySourceRef(ctx, opt.SourceRef)
	}
	return delivery, created, err
}

// Get returns the delivery with id and its tasks in checklist order
func (m *Manager) Get(ctx context.Context, id string) (*ServiceDelivery, error) {
	return m.first(ctx, "id = ?", id)
}

func (m *Manager) getBySourceRef(ctx context.Context, ref string) (*ServiceDelivery, error) {
	return m.first(ctx, "source_ref = ?", ref)
}

func (m *Manager) first(ctx context.Context, query string, arg string) (*ServiceDelivery, error) {
	var d ServiceDelivery
	result := m.db.WithContext(ctx).
		Preload("Tasks", orderTasks).
		Where(query, arg).
		First(&d)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get delivery")
	}
	return &d, nil
}

func orderTasks(db *gorm.DB) *gorm.DB {
	return db.Order("position asc")
}

// ListForTrainer returns a trainer's deliveries, oldest first. Closed ones are included only if all is set.
func (m *Manager) ListForTrainer(ctx context.Context, trainerID string, all bool) ([]ServiceDelivery, error) {
	results := make([]ServiceDelivery, 0, 4)
	baseQuery := m.db.WithContext(ctx).
		Preload("Tasks", orderTasks).
		Order("created_at asc")
	if !all {
		baseQuery = baseQuery.Where("status IN ?", []Status{StatusPending, StatusInProgress})
	}
	result := baseQuery.Find(&results, "trainer_id = ?", trainerID)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list deliveries")
	}
	return results, nil
}

// ListByPaymentIntent returns every delivery paid by a payment intent
func (m *Manager) ListByPaymentIntent(ctx context.Context, paymentIntentID string) ([]ServiceDelivery, error) {
	results := make([]ServiceDelivery, 0, 1)
	result := m.db.WithContext(ctx).
		Order("created_at asc").
		Find(&results, "payment_intent_id = ?", paymentIntentID)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list deliveries by payment intent")
	}
	return results, nil
}

// LambdaUpdateFunc mutates a locked delivery and its tasks in place, returning the indices of the
// tasks it changed. Returning an error aborts the update.
type LambdaUpdateFunc func(current *ServiceDelivery) (changed []int, err error)

// LambdaUpdate runs lambda inside a transaction over the delivery locked FOR UPDATE. Changed
// tasks and the delivery itself are written with conditional updates on their previous state, so a
// concurrent writer yields ErrStaleState instead of a lost update. Unless lambda set the delivery
// status itself, it is derived from the tasks.
func (m *Manager) LambdaUpdate(ctx context.Context, id string, now time.Time, lambda LambdaUpdateFunc) (*ServiceDelivery, error) {
	now = now.UTC()
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current ServiceDelivery
		lookupRes := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&current, "id = ?", id)
		if errors.Is(lookupRes.Error, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if lookupRes.Error != nil {
			return lookupRes.Error
		}
		if current.Status.Terminal() {
			return ErrClosed
		}
		if err := tx.Where("delivery_id = ?", id).Order("position asc").Find(&current.Tasks).Error; err != nil {
			return err
		}

		previous := make([]Task, len(current.Tasks))
		copy(previous, current.Tasks)
		previousStatus := current.Status

		changed, err := lambda(&current)
		if err != nil {
			return err
		}

		for _, k := range changed {
			task, prev := current.Tasks[k], previous[k]
			result := tx.Model(&Task{}).
				Where("id = ? AND status = ? AND completions = ?", task.ID, prev.Status, prev.Completions).
				Updates(map[string]interface{}{
					"status":       task.Status,
					"completions":  task.Completions,
					"completed_at": task.CompletedAt,
					"updated_at":   now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrStaleState
			}
		}

		next := current.Status
		if next == previousStatus {
			next = derivedStatus(current.Tasks)
		}
		if next == previousStatus {
			return nil
		}
		updates := map[string]interface{}{
			"status":     next,
			"updated_at": now,
		}
		if next == StatusCompleted {
			updates["delivered_at"] = now
		}
		result := tx.Model(&ServiceDelivery{}).
			Where("id = ? AND status = ?", id, previousStatus).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrStaleState
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStaleState) || errors.Is(err, ErrClosed) || errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		m.logger.Error("Unable to update delivery",
			zap.String("DeliveryID", id),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot update delivery")
	}
	return m.Get(ctx, id)
}

// ActionOption is an external action performed by a trainer for a client
type ActionOption struct {
	TrainerID string
	ClientID  string
	Action    string
	At        time.Time
}

// RecordAction counts an occurrence of an external action against the oldest open delivery
// between the trainer and client that has an open task waiting for it. A task completes once its
// count reaches RequiredCompletions. It returns nil when no delivery is waiting for the action.
func (m *Manager) RecordAction(ctx context.Context, opt ActionOption) (*ServiceDelivery, error) {
	if len(opt.Action) == 0 {
		return nil, fmt.Errorf("ActionOption.Action is required")
	}
	if opt.At.IsZero() {
		opt.At = time.Now()
	}
	at := opt.At.UTC()

	var target ServiceDelivery
	waiting := m.db.WithContext(ctx).
		Model(&Task{}).
		Select("delivery_id").
		Where("auto_complete_on = ? AND status IN ?", opt.Action, []TaskStatus{TaskPending, TaskInProgress})
	result := m.db.WithContext(ctx).
		Where("trainer_id = ? AND client_id = ?", opt.TrainerID, opt.ClientID).
		Where("status IN ?", []Status{StatusPending, StatusInProgress}).
		Where("id IN (?)", waiting).
		Order("created_at asc").
		Limit(1).
		Find(&target)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot find delivery for action")
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	return m.LambdaUpdate(ctx, target.ID, at, func(current *ServiceDelivery) ([]int, error) {
		changed := make([]int, 0, 1)
		for k := range current.Tasks {
			task := &current.Tasks[k]
			if task.AutoCompleteOn != opt.Action || !task.Status.Open() {
				continue
			}
			task.Completions++
			if task.Completions >= task.RequiredCompletions {
				task.Status = TaskCompleted
				task.CompletedAt = &at
			} else {
				task.Status = TaskInProgress
			}
			changed = append(changed, k)
		}
		if len(changed) == 0 {
			return nil, ErrStaleState
		}
		return changed, nil
	})
}

func (m *Manager) getTask(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	result := m.db.WithContext(ctx).First(&task, "id = ?", taskID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot get task")
	}
	return &task, nil
}

// GetByTask returns the delivery owning a task
func (m *Manager) GetByTask(ctx context.Context, taskID string) (*ServiceDelivery, error) {
	task, err := m.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, task.DeliveryID)
}

// TransitionTask moves a task to next if the transition table allows it
func (m *Manager) TransitionTask(ctx context.Context, taskID string, next TaskStatus, at time.Time) (*ServiceDelivery, error) {
	task, err := m.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	at = at.UTC()

	return m.LambdaUpdate(ctx, task.DeliveryID, at, func(current *ServiceDelivery) ([]int, error) {
		for k := range current.Tasks {
			t := &current.Tasks[k]
			if t.ID != taskID {
				continue
			}
			if !t.Status.CanTransition(next) {
				return nil, ErrInvalidTransition
			}
			t.Status = next
			if next == TaskCompleted {
				t.CompletedAt = &at
			}
			return []int{k}, nil
		}
		return nil, ErrNotFound
	})
}

// Cancel closes a delivery and every open task of it
func (m *Manager) Cancel(ctx context.Context, id string, at time.Time) (*ServiceDelivery, error) {
	return m.LambdaUpdate(ctx, id, at, func(current *ServiceDelivery) ([]int, error) {
		changed := make([]int, 0, len(current.Tasks))
		for k := range current.Tasks {
			if current.Tasks[k].Status.Open() {
				current.Tasks[k].Status = TaskCancelled
				changed = append(changed, k)
			}
		}
		current.Status = StatusCancelled
		return changed, nil
	})
}

// DisputeOption is the dispute state reported by the gateway for a payment intent
type DisputeOption struct {
	PaymentIntentID string
	DisputeStatus   string
	EventAt         time.Time
}

// MarkDisputed records the dispute state on every delivery paid by the payment intent. Applying
// the same event twice changes nothing, and an event older than the last applied one is ignored.
// It returns the number of deliveries changed.
func (m *Manager) MarkDisputed(ctx context.Context, opt DisputeOption) (int64, error) {
	if len(opt.PaymentIntentID) == 0 {
		return 0, fmt.Errorf("DisputeOption.PaymentIntentID is required")
	}
	eventAt := opt.EventAt.UTC()
	result := m.db.WithContext(ctx).
		Model(&ServiceDelivery{}).
		Where("payment_intent_id = ?", opt.PaymentIntentID).
		Where("(dispute_event_at IS NULL OR dispute_event_at < ? OR (dispute_event_at = ? AND dispute_status <> ?))", eventAt, eventAt, opt.DisputeStatus).
		Updates(map[string]interface{}{
			"dispute_status":   opt.DisputeStatus,
			"disputed_at":      gorm.Expr("COALESCE(disputed_at, ?)", eventAt),
			"dispute_event_at": eventAt,
		})
	if result.Error != nil {
		m.logger.Error("Unable to mark deliveries disputed",
			zap.String("PaymentIntentID", opt.PaymentIntentID),
			zap.Error(result.Error),
		)
		return 0, extErrors.Wrap(result.Error, "Cannot mark deliveries disputed")
	}
	return result.RowsAffected, nil
}
