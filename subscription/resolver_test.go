package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var resolveNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func TestResolvePrefersLatestCurrentRow(t *testing.T) {
	r := NewResolver(zap.NewNop())
	ent := r.Resolve(ResolveInput{
		Rows: []Subscription{
			{ID: "sub_a", Status: StatusActive, EndDate: resolveNow.Add(-day)},
			{ID: "sub_b", Status: StatusCancelledActive, EndDate: resolveNow.Add(7 * day)},
		},
		Now: resolveNow,
	})
	assert.Equal(t, StatusCancelledActive, ent.Status)
	assert.True(t, ent.HasPremiumAccess)
	assert.Equal(t, 7, ent.DaysRemaining)
	require.NotNil(t, ent.Current)
	assert.Equal(t, "sub_b", ent.Current.ID)
}

func TestResolveTieBreak(t *testing.T) {
	r := NewResolver(zap.NewNop())
	end := resolveNow.Add(3 * day)

	ent := r.Resolve(ResolveInput{
		Rows: []Subscription{
			{ID: "sub_b", Status: StatusCancelledActive, EndDate: end},
			{ID: "sub_c", Status: StatusActive, EndDate: end},
			{ID: "sub_a", Status: StatusActive, EndDate: end},
		},
		Now: resolveNow,
	})
	assert.Equal(t, StatusActive, ent.Status)
	assert.Equal(t, "sub_a", ent.Current.ID)
}

func TestResolveGraceOverridesTrial(t *testing.T) {
	r := NewResolver(zap.NewNop())
	rows := []Subscription{
		{ID: "sub_a", Status: StatusGracePeriod, EndDate: resolveNow.Add(-day), FailedRetries: 2},
	}

	ent := r.Resolve(ResolveInput{
		Rows:  rows,
		Trial: &TrialWindow{Start: resolveNow.Add(-day), End: resolveNow.Add(13 * day)},
		Grace: &GraceWindow{SubscriptionID: "sub_a", EndsAt: resolveNow.Add(36 * time.Hour), FailedRetries: 2, MaxRetries: 4},
		Now:   resolveNow,
	})
	assert.Equal(t, StatusGracePeriod, ent.Status)
	assert.True(t, ent.HasPremiumAccess)
	assert.Equal(t, 1, ent.DaysRemaining)
	assert.Equal(t, 2, ent.FailedRetries)
	assert.Equal(t, "sub_a", ent.Current.ID)
}

func TestResolveGraceExhausted(t *testing.T) {
	r := NewResolver(zap.NewNop())
	rows := []Subscription{
		{ID: "sub_a", Status: StatusGracePeriod, EndDate: resolveNow.Add(-day)},
	}

	ent := r.Resolve(ResolveInput{
		Rows:  rows,
		Grace: &GraceWindow{SubscriptionID: "sub_a", EndsAt: resolveNow.Add(day), FailedRetries: 4, MaxRetries: 4},
		Now:   resolveNow,
	})
	assert.Equal(t, StatusExpired, ent.Status)
	assert.False(t, ent.HasPremiumAccess)

	ent = r.Resolve(ResolveInput{
		Rows:  rows,
		Grace: &GraceWindow{SubscriptionID: "sub_a", EndsAt: resolveNow.Add(-time.Minute), FailedRetries: 1, MaxRetries: 4},
		Now:   resolveNow,
	})
	assert.Equal(t, StatusExpired, ent.Status)
}

func TestResolveTrial(t *testing.T) {
	r := NewResolver(zap.NewNop())

	ent := r.Resolve(ResolveInput{
		Trial: &TrialWindow{Start: resolveNow.Add(-2 * day), End: resolveNow.Add(11*day + 23*time.Hour)},
		Now:   resolveNow,
	})
	assert.Equal(t, StatusTrial, ent.Status)
	assert.True(t, ent.HasPremiumAccess)
	assert.Equal(t, 11, ent.DaysRemaining)
	assert.Nil(t, ent.Current)
}

func TestResolveTrialIgnoredAfterPaying(t *testing.T) {
	r := NewResolver(zap.NewNop())

	ent := r.Resolve(ResolveInput{
		Rows:  []Subscription{{ID: "sub_a", Status: StatusExpired, EndDate: resolveNow.Add(-day)}},
		Trial: &TrialWindow{Start: resolveNow.Add(-2 * day), End: resolveNow.Add(12 * day)},
		Now:   resolveNow,
	})
	assert.Equal(t, StatusExpired, ent.Status)
	assert.Equal(t, 0, ent.DaysRemaining)
	assert.Equal(t, "sub_a", ent.Current.ID)
}

func TestResolveNoSubscription(t *testing.T) {
	r := NewResolver(nil)

	ent := r.Resolve(ResolveInput{Now: resolveNow})
	assert.Equal(t, Entitlement{Status: StatusNone}, ent)

	ent = r.Resolve(ResolveInput{
		Trial: &TrialWindow{Start: resolveNow.Add(-20 * day), End: resolveNow.Add(-6 * day)},
		Now:   resolveNow,
	})
	assert.Equal(t, StatusNone, ent.Status)
}

func TestResolveEndedCurrentRowIsExpired(t *testing.T) {
	r := NewResolver(zap.NewNop())

	ent := r.Resolve(ResolveInput{
		Rows: []Subscription{{ID: "sub_a", Status: StatusActive, EndDate: resolveNow}},
		Now:  resolveNow,
	})
	assert.Equal(t, StatusExpired, ent.Status)
	assert.False(t, ent.HasPremiumAccess)
}

func TestDaysUntil(t *testing.T) {
	tests := []struct {
		end      time.Time
		expected int
	}{
		{resolveNow.Add(-time.Hour), 0},
		{resolveNow, 0},
		{resolveNow.Add(23 * time.Hour), 0},
		{resolveNow.Add(day), 1},
		{resolveNow.Add(30*day + time.Second), 30},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, daysUntil(resolveNow, test.end), test.end.String())
	}
}

func TestStatusAccess(t *testing.T) {
	expected := map[Status]bool{
		StatusNone:            false,
		StatusTrial:           true,
		StatusGracePeriod:     true,
		StatusActive:          true,
		StatusCancelledActive: true,
		StatusExpired:         false,
	}
	require.Len(t, Statuses, len(expected))
	for _, s := range Statuses {
		assert.Equal(t, expected[s], s.HasPremiumAccess(), string(s))
	}
}
