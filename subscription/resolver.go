package subscription

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

const day = 24 * time.Hour

// TrialWindow is the free period derived from account creation
type TrialWindow struct {
	Start time.Time
	End   time.Time
}

// GraceWindow is the retry window after a failed renewal
type GraceWindow struct {
	SubscriptionID string
	EndsAt         time.Time
	FailedRetries  int
	MaxRetries     int // zero means unbounded
}

func (g *GraceWindow) active(now time.Time) bool {
	if g == nil || !now.Before(g.EndsAt) {
		return false
	}
	return g.MaxRetries == 0 || g.FailedRetries < g.MaxRetries
}

// ResolveInput is everything the resolver needs, fetched ahead of time by the caller
type ResolveInput struct {
	Rows  []Subscription
	Trial *TrialWindow
	Grace *GraceWindow
	Now   time.Time
}

// Entitlement is the single authoritative access state of a user
type Entitlement struct {
	Status           Status        `json:"status"`
	HasPremiumAccess bool          `json:"hasPremiumAccess"`
	DaysRemaining    int           `json:"daysRemaining"`
	FailedRetries    int           `json:"failedRetries,omitempty"`
	Current          *Subscription `json:"subscription,omitempty"`
}

// Resolver picks the current entitlement from a user's subscription rows. It performs no I/O.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver returns a Resolver logging anomalies to logger
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// Resolve applies, first match wins: a current paid row, an open grace window, an open trial for a
// user who never paid, and finally EXPIRED or NO_SUBSCRIPTION.
func (r *Resolver) Resolve(in ResolveInput) Entitlement {
	now := in.Now

	if row := r.currentRow(in.Rows, now); row != nil {
		return entitlement(row.Status, daysUntil(now, row.EndDate), 0, row)
	}

	if in.Grace.active(now) {
		return entitlement(StatusGracePeriod, daysUntil(now, in.Grace.EndsAt), in.Grace.FailedRetries, findRow(in.Rows, in.Grace.SubscriptionID))
	}

	paid := latestPaidRow(in.Rows)

	if paid == nil && in.Trial != nil && !now.Before(in.Trial.Start) && now.Before(in.Trial.End) {
		return entitlement(StatusTrial, daysUntil(now, in.Trial.End), 0, nil)
	}

	if paid != nil {
		return entitlement(StatusExpired, 0, 0, paid)
	}
	return entitlement(StatusNone, 0, 0, nil)
}

func entitlement(status Status, days, retries int, row *Subscription) Entitlement {
	return Entitlement{
		Status:           status,
		HasPremiumAccess: status.HasPremiumAccess(),
		DaysRemaining:    days,
		FailedRetries:    retries,
		Current:          row,
	}
}

// currentRow returns the ACTIVE or CANCELLED_ACTIVE row with the latest end date still in the
// future. Ties prefer ACTIVE, then the lowest id, so the choice is deterministic.
func (r *Resolver) currentRow(rows []Subscription, now time.Time) *Subscription {
	candidates := make([]*Subscription, 0, 1)
	for k := range rows {
		if rows[k].Status.current() && rows[k].EndDate.After(now) {
			candidates = append(candidates, &rows[k])
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.EndDate.Equal(b.EndDate) {
			return a.EndDate.After(b.EndDate)
		}
		if a.Status != b.Status {
			return a.Status == StatusActive
		}
		return a.ID < b.ID
	})
	if len(candidates) > 1 {
		ids := make([]string, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.ID)
		}
		r.logger.Warn("Overlapping current subscription rows, using the latest end date",
			zap.String("UserID", candidates[0].UserID),
			zap.String("SubscriptionID", candidates[0].ID),
			zap.Strings("Overlapping", ids),
		)
	}
	return candidates[0]
}

func latestPaidRow(rows []Subscription) *Subscription {
	var latest *Subscription
	for k := range rows {
		if !rows[k].Status.paid() {
			continue
		}
		if latest == nil || rows[k].EndDate.After(latest.EndDate) {
			latest = &rows[k]
		}
	}
	return latest
}

func findRow(rows []Subscription, id string) *Subscription {
	for k := range rows {
		if rows[k].ID == id {
			return &rows[k]
		}
	}
	return nil
}

// daysUntil floors the remaining time to whole days and never goes negative
func daysUntil(now, end time.Time) int {
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining / day)
}
