package payout

import (
	"context"
	"errors"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrTrainerNotFound is returned when the trainer does not exist
var ErrTrainerNotFound = errors.New("trainer not found")

// Manager reads trainer and team records to resolve payout destinations
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for payout destinations
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if db == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if err := db.AutoMigrate(&Trainer{}, &Team{}, &TeamMembership{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize payout.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// GetByAccount returns the trainer record of a login account
func (m *Manager) GetByAccount(ctx context.Context, accountID string) (*Trainer, error) {
	var trainer Trainer
	result := m.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at asc").
		First(&trainer)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrTrainerNotFound
	}
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get trainer by account")
	}
	return &trainer, nil
}

// Resolve returns where a trainer's share should be routed. The result reflects the records at
// call time; connect onboarding may complete between calls, so callers must not cache it.
func (m *Manager) Resolve(ctx context.Context, trainerID string) (Destination, error) {
	var trainer Trainer
	result := m.db.WithContext(ctx).First(&trainer, "id = ?", trainerID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return Destination{}, ErrTrainerNotFound
	}
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return Destination{}, extErrors.Wrap(result.Error, "Cannot get trainer by id")
	}

	memberships := make([]TeamMembership, 0, 1)
	result = m.db.WithContext(ctx).
		Preload("Team").
		Where("trainer_id = ?", trainerID).
		Where("active = ?", true).
		Order("created_at asc").
		Order("id asc").
		Find(&memberships)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return Destination{}, extErrors.Wrap(result.Error, "Cannot list team memberships")
	}

	return m.choose(trainer, memberships), nil
}

func (m *Manager) choose(trainer Trainer, memberships []TeamMembership) Destination {
	if len(memberships) > 0 {
		if len(memberships) > 1 {
			m.warnMultipleTeams(trainer.ID, memberships)
		}
		team := memberships[0].Team
		if len(team.ConnectedAccountID) > 0 {
			return Destination{
				ConnectedAccountID: team.ConnectedAccountID,
				Kind:               KindTeam,
				DisplayName:        team.Name,
			}
		}
	}
	if len(trainer.ConnectedAccountID) > 0 {
		return Destination{
			ConnectedAccountID: trainer.ConnectedAccountID,
			Kind:               KindIndividual,
			DisplayName:        trainer.DisplayName,
		}
	}
	return Destination{Kind: KindNone}
}

func (m *Manager) warnMultipleTeams(trainerID string, memberships []TeamMembership) {
	payable := 0
	for _, membership := range memberships {
		if len(membership.Team.ConnectedAccountID) > 0 {
			payable++
		}
	}
	if payable < 2 {
		return
	}
	m.logger.Warn("Trainer has several active teams with payout accounts, using the oldest membership",
		zap.String("TrainerID", trainerID),
		zap.String("TeamID", memberships[0].TeamID),
		zap.Int("Memberships", len(memberships)),
	)
}
