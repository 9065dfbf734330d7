package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sentinel errors
var (
	ErrNotFound   = errors.New("subscription not found")
	ErrStaleState = errors.New("subscription changed since the event was produced")
)

// ManagerOptions configures a Manager
type ManagerOptions struct {
	DB      *gorm.DB
	Logger  *zap.Logger
	Gateway GatewayReader

	TrialDays            int
	MaxRetries           int
	ReconcileConcurrency int
}

// Manager handles the database operations relating to Subscriptions and their billing history
type Manager struct {
	ManagerOptions
	resolver *Resolver
}

// NewManager returns a new Manager for subscriptions
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.TrialDays < 0 {
		return nil, fmt.Errorf("negative TrialDays is invalid")
	}
	if option.ReconcileConcurrency <= 0 {
		option.ReconcileConcurrency = 5
	}
	if err := option.DB.AutoMigrate(&Subscription{}, &Package{}, &BillingRecord{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize subscription.Manager")
	}
	return &Manager{
		ManagerOptions: option,
		resolver:       NewResolver(option.Logger),
	}, nil
}

// Create inserts sub unless a row for the same gateway subscription exists.
// It reports whether a row was inserted.
func (m *Manager) Create(ctx context.Context, sub *Subscription) (bool, error) {
	if len(sub.GatewaySubscriptionID) == 0 {
		return false, fmt.Errorf("GatewaySubscriptionID is required")
	}
	if len(sub.ID) == 0 {
		sub.ID = uuid.New().String()
	}
	result := m.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(sub)
	if result.Error != nil {
		m.Logger.Error("Unable to create new subscription in database",
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot create subscription")
	}
	return result.RowsAffected == 1, nil
}

// Get returns the subscription with id
func (m *Manager) Get(ctx context.Context, id string) (*Subscription, error) {
	return m.first(ctx, "id = ?", id)
}

// GetByGatewayID returns the subscription mirroring a gateway subscription
func (m *Manager) GetByGatewayID(ctx context.Context, gatewayID string) (*Subscription, error) {
	return m.first(ctx, "gateway_subscription_id = ?", gatewayID)
}

func (m *Manager) first(ctx context.Context, query string, arg string) (*Subscription, error) {
	var sub Subscription
	result := m.DB.WithContext(ctx).Where(query, arg).First(&sub)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription")
	}
	return &sub, nil
}

// ListForUser returns every row of a user, historical ones included, newest first
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]Subscription, error) {
	results := make([]Subscription, 0, 2)
	result := m.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&results)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list subscriptions")
	}
	return results, nil
}

// GetPackage returns the package with id
func (m *Manager) GetPackage(ctx context.Context, id string) (*Package, error) {
	var pkg Package
	result := m.DB.WithContext(ctx).First(&pkg, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot get package")
	}
	return &pkg, nil
}

// TransitionOption describes a conditional status change
type TransitionOption struct {
	SubscriptionID string
	From           []Status // the write is rejected unless the row is in one of these
	To             Status
	EventAt        time.Time // the write is rejected if a newer event was already applied

	EndDate       *time.Time
	FailedRetries *int
	GraceEndsAt   *time.Time
	ClearGrace    bool
}

// Transition applies a compare-and-set status change. A row that moved on, or that already
// absorbed a newer event, yields ErrStaleState and is left untouched.
func (m *Manager) Transition(ctx context.Context, opt TransitionOption) (*Subscription, error) {
	if len(opt.SubscriptionID) == 0 {
		return nil, fmt.Errorf("TransitionOption.SubscriptionID is required")
	}
	if len(opt.From) == 0 {
		return nil, fmt.Errorf("TransitionOption.From is required")
	}
	if opt.EventAt.IsZero() {
		return nil, fmt.Errorf("TransitionOption.EventAt is required")
	}
	eventAt := opt.EventAt.UTC()

	updates := map[string]interface{}{
		"status":        opt.To,
		"last_event_at": eventAt,
	}
	if opt.EndDate != nil {
		updates["end_date"] = opt.EndDate.UTC()
	}
	if opt.FailedRetries != nil {
		updates["failed_retries"] = *opt.FailedRetries
	}
	if opt.GraceEndsAt != nil {
		updates["grace_ends_at"] = opt.GraceEndsAt.UTC()
	}
	if opt.ClearGrace {
		updates["failed_retries"] = 0
		updates["grace_ends_at"] = nil
	}

	result := m.DB.WithContext(ctx).
		Model(&Subscription{}).
		Where("id = ?", opt.SubscriptionID).
		Where("status IN ?", opt.From).
		Where("(last_event_at IS NULL OR last_event_at <= ?)", eventAt).
		Updates(updates)
	if result.Error != nil {
		m.Logger.Error("Unable to transition subscription",
			zap.String("SubscriptionID", opt.SubscriptionID),
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot transition subscription")
	}

	sub, err := m.Get(ctx, opt.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		return sub, ErrStaleState
	}
	return sub, nil
}

// RecordBilling inserts a billing record unless the same invoice attempt is already recorded.
// It reports whether a row was inserted.
func (m *Manager) RecordBilling(ctx context.Context, rec *BillingRecord) (bool, error) {
	if len(rec.GatewayInvoiceID) == 0 {
		return false, fmt.Errorf("GatewayInvoiceID is required")
	}
	if len(rec.ID) == 0 {
		rec.ID = uuid.New().String()
	}
	result := m.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if result.Error != nil {
		m.Logger.Error("Unable to record billing attempt",
			zap.String("InvoiceID", rec.GatewayInvoiceID),
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot record billing attempt")
	}
	return result.RowsAffected == 1, nil
}

// RefundOption describes a refund observed on the gateway
type RefundOption struct {
	GatewayInvoiceID string
	Amount           int64 // cumulative refunded amount
	Reason           string
	RefundedAt       time.Time
}

// AppendRefund records a refund on the successful billing record of an invoice. Refund amounts only
// grow, so replays and out-of-order deliveries of older refunds are no-ops.
func (m *Manager) AppendRefund(ctx context.Context, opt RefundOption) (bool, error) {
	refundedAt := opt.RefundedAt.UTC()
	result := m.DB.WithContext(ctx).
		Model(&BillingRecord{}).
		Where("gateway_invoice_id = ?", opt.GatewayInvoiceID).
		Where("status IN ?", []BillingStatus{BillingSuccess, BillingRefunded}).
		Where("refund_amount < ?", opt.Amount).
		Updates(map[string]interface{}{
			"status":        BillingRefunded,
			"refund_amount": opt.Amount,
			"refund_reason": opt.Reason,
			"refunded_at":   refundedAt,
		})
	if result.Error != nil {
		return false, extErrors.Wrap(result.Error, "Cannot append refund")
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	var count int64
	if err := m.DB.WithContext(ctx).
		Model(&BillingRecord{}).
		Where("gateway_invoice_id = ?", opt.GatewayInvoiceID).
		Where("status IN ?", []BillingStatus{BillingSuccess, BillingRefunded}).
		Count(&count).Error; err != nil {
		return false, extErrors.Wrap(err, "Cannot look up billing record")
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// ListBilling returns the billing history of a subscription, oldest first
func (m *Manager) ListBilling(ctx context.Context, subscriptionID string) ([]BillingRecord, error) {
	results := make([]BillingRecord, 0, 4)
	result := m.DB.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at asc").
		Order("attempt asc").
		Find(&results)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list billing records")
	}
	return results, nil
}

// Entitlement loads a user's rows and resolves the current access state
func (m *Manager) Entitlement(ctx context.Context, userID string, accountCreatedAt, now time.Time) (Entitlement, error) {
	rows, err := m.ListForUser(ctx, userID)
	if err != nil {
		return Entitlement{}, err
	}
	return m.resolver.Resolve(ResolveInput{
		Rows:  rows,
		Trial: m.trialWindow(accountCreatedAt),
		Grace: m.graceWindow(rows),
		Now:   now,
	}), nil
}

func (m *Manager) trialWindow(accountCreatedAt time.Time) *TrialWindow {
	if m.TrialDays == 0 || accountCreatedAt.IsZero() {
		return nil
	}
	return &TrialWindow{
		Start: accountCreatedAt,
		End:   accountCreatedAt.Add(time.Duration(m.TrialDays) * day),
	}
}

func (m *Manager) graceWindow(rows []Subscription) *GraceWindow {
	var latest *Subscription
	for k := range rows {
		row := &rows[k]
		if row.Status != StatusGracePeriod || row.GraceEndsAt == nil {
			continue
		}
		if latest == nil || row.GraceEndsAt.After(*latest.GraceEndsAt) {
			latest = row
		}
	}
	if latest == nil {
		return nil
	}
	return &GraceWindow{
		SubscriptionID: latest.ID,
		EndsAt:         *latest.GraceEndsAt,
		FailedRetries:  latest.FailedRetries,
		MaxRetries:     m.MaxRetries,
	}
}
