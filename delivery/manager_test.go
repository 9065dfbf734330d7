package delivery

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newTestManager(t *testing.T) *Manager {
	m, err := NewManager(zap.NewNop(), setupTestDB(t))
	require.NoError(t, err)
	return m
}

func createWorkoutPlan(t *testing.T, m *Manager, ref string) *ServiceDelivery {
	d, ok, err := m.Create(context.Background(), CreateOption{
		TrainerID:       "tr_1",
		ClientID:        "client_1",
		ServiceType:     ServiceWorkoutPlan,
		SourceRef:       ref,
		PaymentIntentID: "pi_" + ref,
		Now:             created,
	})
	require.NoError(t, err)
	require.True(t, ok)
	return d
}

func TestCreateIsIdempotentOnSourceRef(t *testing.T) {
	m := newTestManager(t)
	d := createWorkoutPlan(t, m, "in_1")
	assert.Equal(t, StatusPending, d.Status)
	require.Len(t, d.Tasks, 2)
	assert.Equal(t, "review_intake", d.Tasks[0].TemplateID)

	again, ok, err := m.Create(context.Background(), CreateOption{
		TrainerID:   "tr_1",
		ClientID:    "client_1",
		ServiceType: ServiceWorkoutPlan,
		SourceRef:   "in_1",
		Now:         created.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, d.ID, again.ID)
	assert.Len(t, again.Tasks, 2)
}

func TestCreateRejectsUnknownServiceType(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.Create(context.Background(), CreateOption{ServiceType: "UNKNOWN", SourceRef: "in_1"})
	assert.ErrorIs(t, err, ErrUnknownServiceType)
}

func TestWorkoutPlanLifecycle(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	d := createWorkoutPlan(t, m, "in_1")

	deadline, err := Track(d.CreatedAt, d.ServiceType, d.Status, created.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, UrgencyDueSoon, deadline.Urgency)

	deadline, err = Track(d.CreatedAt, d.ServiceType, d.Status, created.AddDate(0, 0, 4))
	require.NoError(t, err)
	assert.Equal(t, UrgencyOverdue, deadline.Urgency)

	done, err := m.RecordAction(ctx, ActionOption{
		TrainerID: "tr_1",
		ClientID:  "client_1",
		Action:    ActionTrainingPlanAssigned,
		At:        created.AddDate(0, 0, 4),
	})
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.DeliveredAt)
	assert.Equal(t, TaskPending, done.Tasks[0].Status)
	assert.Equal(t, TaskCompleted, done.Tasks[1].Status)
	assert.Equal(t, 1, done.Tasks[1].Completions)

	deadline, err = Track(done.CreatedAt, done.ServiceType, done.Status, created.AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.Equal(t, UrgencyCompleted, deadline.Urgency)
}

func TestRecordActionHonorsRequiredCompletions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, _, err := m.Create(ctx, CreateOption{
		TrainerID:   "tr_1",
		ClientID:    "client_1",
		ServiceType: ServiceCoachingBundle,
		SourceRef:   "in_1",
		Now:         created,
	})
	require.NoError(t, err)

	action := ActionOption{TrainerID: "tr_1", ClientID: "client_1", Action: ActionCheckInReplied, At: created.Add(time.Hour)}

	d, err := m.RecordAction(ctx, action)
	require.NoError(t, err)
	checkIn := d.Tasks[3]
	assert.Equal(t, "weekly_check_in", checkIn.TemplateID)
	assert.Equal(t, TaskInProgress, checkIn.Status)
	assert.Equal(t, 1, checkIn.Completions)
	assert.Equal(t, StatusInProgress, d.Status)

	d, err = m.RecordAction(ctx, action)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, d.Tasks[3].Status)
	// required tasks are still open
	assert.Equal(t, StatusInProgress, d.Status)

	d, err = m.RecordAction(ctx, action)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestRecordActionTargetsOldestOpenDelivery(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	first := createWorkoutPlan(t, m, "in_1")
	second, _, err := m.Create(ctx, CreateOption{
		TrainerID:   "tr_1",
		ClientID:    "client_1",
		ServiceType: ServiceWorkoutPlan,
		SourceRef:   "in_2",
		Renewal:     true,
		Now:         created.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	require.Len(t, second.Tasks, 1)

	action := ActionOption{TrainerID: "tr_1", ClientID: "client_1", Action: ActionTrainingPlanAssigned, At: created.AddDate(0, 1, 1)}
	d, err := m.RecordAction(ctx, action)
	require.NoError(t, err)
	assert.Equal(t, first.ID, d.ID)

	d, err = m.RecordAction(ctx, action)
	require.NoError(t, err)
	assert.Equal(t, second.ID, d.ID)
	assert.Equal(t, StatusCompleted, d.Status)

	other, err := m.RecordAction(ctx, ActionOption{TrainerID: "tr_2", ClientID: "client_1", Action: ActionTrainingPlanAssigned})
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestTransitionTask(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	d := createWorkoutPlan(t, m, "in_1")
	intake, plan := d.Tasks[0], d.Tasks[1]

	updated, err := m.TransitionTask(ctx, intake.ID, TaskInProgress, created.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, TaskInProgress, updated.Tasks[0].Status)
	assert.Equal(t, StatusInProgress, updated.Status)

	_, err = m.TransitionTask(ctx, intake.ID, TaskPending, created.Add(time.Hour))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	updated, err = m.TransitionTask(ctx, plan.ID, TaskCompleted, created.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)

	_, err = m.TransitionTask(ctx, intake.ID, TaskCompleted, created.Add(3*time.Hour))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = m.TransitionTask(ctx, "missing", TaskCompleted, created)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancellingRequiredTaskClosesDelivery(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	d := createWorkoutPlan(t, m, "in_1")

	updated, err := m.TransitionTask(ctx, d.Tasks[1].ID, TaskCancelled, created.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)
	assert.Nil(t, updated.DeliveredAt)

	deadline, err := Track(updated.CreatedAt, updated.ServiceType, updated.Status, created.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, UrgencyCompleted, deadline.Urgency)

	_, err = m.TransitionTask(ctx, d.Tasks[0].ID, TaskInProgress, created.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCancellingLastRequiredTaskAfterWorkCompletes(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	d := createWorkoutPlan(t, m, "in_1")

	updated, err := m.TransitionTask(ctx, d.Tasks[0].ID, TaskCompleted, created.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, updated.Status)

	updated, err = m.TransitionTask(ctx, d.Tasks[1].ID, TaskCancelled, created.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
	assert.NotNil(t, updated.DeliveredAt)
}

func TestDerivedStatus(t *testing.T) {
	task := func(status TaskStatus, required bool) Task {
		return Task{Status: status, IsRequired: required}
	}
	tests := []struct {
		name     string
		tasks    []Task
		expected Status
	}{
		{"untouched", []Task{task(TaskPending, false), task(TaskPending, true)}, StatusPending},
		{"optional progress", []Task{task(TaskInProgress, false), task(TaskPending, true)}, StatusInProgress},
		{"required done", []Task{task(TaskPending, false), task(TaskCompleted, true)}, StatusCompleted},
		{"one of two required done", []Task{task(TaskCompleted, true), task(TaskPending, true)}, StatusInProgress},
		{"cancelled required ignored", []Task{task(TaskCompleted, true), task(TaskCancelled, true)}, StatusCompleted},
		{"every required cancelled", []Task{task(TaskPending, false), task(TaskCancelled, true)}, StatusCancelled},
		{"every required cancelled after work", []Task{task(TaskCompleted, false), task(TaskCancelled, true)}, StatusCompleted},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, derivedStatus(test.tasks))
		})
	}
}

func TestCancel(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	d := createWorkoutPlan(t, m, "in_1")

	cancelled, err := m.Cancel(ctx, d.ID, created.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.DeliveredAt)
	for _, task := range cancelled.Tasks {
		assert.Equal(t, TaskCancelled, task.Status)
	}

	_, err = m.Cancel(ctx, d.ID, created.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMarkDisputedIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	createWorkoutPlan(t, m, "in_1")
	createWorkoutPlan(t, m, "in_2")
	at := created.Add(24 * time.Hour)

	opt := DisputeOption{PaymentIntentID: "pi_in_1", DisputeStatus: "needs_response", EventAt: at}
	n, err := m.MarkDisputed(ctx, opt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = m.MarkDisputed(ctx, opt)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// an older event arriving late is ignored
	n, err = m.MarkDisputed(ctx, DisputeOption{PaymentIntentID: "pi_in_1", DisputeStatus: "warning_needs_response", EventAt: at.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = m.MarkDisputed(ctx, DisputeOption{PaymentIntentID: "pi_in_1", DisputeStatus: "won", EventAt: at.Add(48 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	deliveries, err := m.ListByPaymentIntent(ctx, "pi_in_1")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "won", deliveries[0].DisputeStatus)
	require.NotNil(t, deliveries[0].DisputedAt)
	assert.True(t, deliveries[0].DisputedAt.Equal(at))

	untouched, err := m.ListByPaymentIntent(ctx, "pi_in_2")
	require.NoError(t, err)
	assert.Empty(t, untouched[0].DisputeStatus)
	assert.Nil(t, untouched[0].DisputedAt)
}
