package subscription

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GatewaySubscription is the gateway's view of a subscription
type GatewaySubscription struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	CurrentPeriodEnd  time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool      `json:"cancelAtPeriodEnd"`
}

// GatewayReader fetches subscriptions from the payment gateway
type GatewayReader interface {
	Subscription(ctx context.Context, gatewayID string) (*GatewaySubscription, error)
}

// ReconcileResult is the outcome of verifying one subscription. Each id gets its own result.
type ReconcileResult struct {
	SubscriptionID string               `json:"subscriptionId"`
	Verified       bool                 `json:"verified"`
	LocalStatus    Status               `json:"localStatus,omitempty"`
	GatewayData    *GatewaySubscription `json:"gatewayData,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// Reconcile compares each subscription against the gateway with a bounded number of concurrent
// lookups. A failure for one id never affects the others; results keep the order of ids.
func (m *Manager) Reconcile(ctx context.Context, ids []string) []ReconcileResult {
	results := make([]ReconcileResult, len(ids))

	g := new(errgroup.Group)
	g.SetLimit(m.ReconcileConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = m.reconcileOne(ctx, id)
			return nil
		})
	}
	g.Wait()

	return results
}

func (m *Manager) reconcileOne(ctx context.Context, id string) ReconcileResult {
	result := ReconcileResult{SubscriptionID: id}
	logger := m.Logger.With(zap.String("SubscriptionID", id))

	if m.Gateway == nil {
		result.Error = "gateway is not configured"
		return result
	}

	sub, err := m.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		result.Error = "subscription not found"
		return result
	}
	if err != nil {
		result.Error = "unable to load subscription"
		return result
	}
	result.LocalStatus = sub.Status

	remote, err := m.Gateway.Subscription(ctx, sub.GatewaySubscriptionID)
	if err != nil {
		logger.Error("Unable to fetch subscription from gateway",
			zap.String("GatewaySubscriptionID", sub.GatewaySubscriptionID),
			zap.Error(err),
		)
		result.Error = err.Error()
		return result
	}
	result.GatewayData = remote
	result.Verified = consistent(sub.Status, remote)

	if !result.Verified {
		logger.Warn("Subscription disagrees with gateway",
			zap.String("LocalStatus", string(sub.Status)),
			zap.String("GatewayStatus", remote.Status),
			zap.Bool("CancelAtPeriodEnd", remote.CancelAtPeriodEnd),
		)
	}

	return result
}

// consistent reports whether a local status agrees with the gateway's status
func consistent(local Status, remote *GatewaySubscription) bool {
	switch remote.Status {
	case "active", "trialing":
		if remote.CancelAtPeriodEnd {
			return local == StatusCancelledActive
		}
		return local == StatusActive
	case "past_due":
		return local == StatusGracePeriod
	case "canceled":
		return local == StatusExpired || local == StatusCancelledActive
	case "unpaid", "incomplete_expired":
		return local == StatusExpired
	case "incomplete":
		return local == StatusNone
	}
	return false
}
