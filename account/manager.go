package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/coachpay/engine/auth"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no account matches
var ErrNotFound = errors.New("account not found")

// Manager handles the database operations relating to Accounts
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for accounts
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if db == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if err := db.AutoMigrate(&Account{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize account.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Create inserts a new account
func (m *Manager) Create(ctx context.Context, acct *Account) error {
	result := m.db.WithContext(ctx).Create(acct)
	if result.Error != nil {
		m.logger.Error("Unable to create new account in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create account")
	}
	return nil
}

// GetByID will try to return the account in the database by id
func (m *Manager) GetByID(ctx context.Context, id string) (*Account, error) {
	var acct Account

	result := m.db.WithContext(ctx).First(&acct, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get account by id")
	}

	return &acct, nil
}

// ListByRole returns every account holding role, oldest first
func (m *Manager) ListByRole(ctx context.Context, role auth.Role) ([]Account, error) {
	results := make([]Account, 0, 4)

	result := m.db.WithContext(ctx).
		Where("role = ?", role).
		Order("created_at asc").
		Find(&results)

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list accounts by role")
	}

	return results, nil
}

// AdminIDs returns the ids of every administrator
func (m *Manager) AdminIDs(ctx context.Context) ([]string, error) {
	admins, err := m.ListByRole(ctx, auth.RoleAdmin)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(admins))
	for _, admin := range admins {
		ids = append(ids, admin.ID)
	}
	return ids, nil
}
