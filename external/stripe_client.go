package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coachpay/engine/subscription"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
)

// ErrPriceNotFound is returned when no active price carries a lookup key
var ErrPriceNotFound = errors.New("no active price for lookup key")

// NewStripeClient returns a Stripe API client using the default backends
func NewStripeClient(key string) *client.API {
	sc := &client.API{}
	sc.Init(key, nil)
	return sc
}

// Gateway adapts the Stripe API to the engine
type Gateway struct {
	api    *client.API
	logger *zap.Logger
}

// NewGateway returns a Gateway over api
func NewGateway(logger *zap.Logger, api *client.API) (*Gateway, error) {
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if api == nil {
		return nil, fmt.Errorf("nil Stripe client is invalid")
	}
	return &Gateway{
		api:    api,
		logger: logger,
	}, nil
}

// UnitAmount returns the unit amount in minor units of the active price with lookupKey
func (g *Gateway) UnitAmount(ctx context.Context, lookupKey string) (int64, error) {
	lookupParams := &stripe.PriceListParams{
		ListParams: stripe.ListParams{
			Context: ctx,
		},
		Active: stripe.Bool(true),
		LookupKeys: []*string{
			stripe.String(lookupKey),
		},
	}
	pricesIter := g.api.Prices.List(lookupParams)
	var found *stripe.Price
	var count int = 0
	for pricesIter.Next() {
		count++
		found = pricesIter.Price()
	}
	if pricesIter.Err() != nil {
		return 0, extErrors.Wrap(pricesIter.Err(), "Cannot list prices by lookup key")
	}
	if count == 0 {
		return 0, ErrPriceNotFound
	}
	if count > 1 {
		return 0, fmt.Errorf("Inconsistent number of Prices for %s (expected: 1, actual: %d)", lookupKey, count)
	}
	return found.UnitAmount, nil
}

// PaymentIntentForCharge returns the id of the payment intent behind a charge, or an empty
// string when the charge was not created through one
func (g *Gateway) PaymentIntentForCharge(ctx context.Context, chargeID string) (string, error) {
	ch, err := g.api.Charges.Get(chargeID, &stripe.ChargeParams{
		Params: stripe.Params{
			Context: ctx,
		},
	})
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot get charge")
	}
	if ch.PaymentIntent == nil {
		return "", nil
	}
	return ch.PaymentIntent.ID, nil
}

// Subscription returns the gateway's view of a subscription
func (g *Gateway) Subscription(ctx context.Context, gatewayID string) (*subscription.GatewaySubscription, error) {
	sub, err := g.api.Subscriptions.Get(gatewayID, &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot get subscription")
	}
	return &subscription.GatewaySubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CurrentPeriodEnd:  time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}, nil
}

// CreatePaymentIntent creates a payment intent from params
func (g *Gateway) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	params.Context = ctx
	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		g.logger.Error("Unable to create payment intent in Stripe",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot create payment intent")
	}
	return pi, nil
}
