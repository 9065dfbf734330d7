package checkout

import (
	"context"
	"fmt"

	"github.com/coachpay/engine/payout"
	"github.com/coachpay/engine/revenue"

	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// DestinationResolver returns where a trainer's share is routed
type DestinationResolver interface {
	Resolve(ctx context.Context, trainerID string) (payout.Destination, error)
}

// Instructions are the payout instructions of one initial charge
type Instructions struct {
	Split       revenue.Split      `json:"split"`
	Destination payout.Destination `json:"destination"`
}

// Shared reports whether the fee and transfer are attached to the payment intent
func (i Instructions) Shared() bool {
	return i.Destination.Shares()
}

// Apply sets amount, application fee and transfer destination on params. Without a payable
// destination only the amount is set and the platform keeps the full charge.
func (i Instructions) Apply(params *stripe.PaymentIntentParams) {
	params.Amount = stripe.Int64(i.Split.TotalAmount)
	if !i.Shared() {
		params.ApplicationFeeAmount = nil
		params.TransferData = nil
		return
	}
	params.ApplicationFeeAmount = stripe.Int64(i.Split.ApplicationFeeAmount)
	params.TransferData = &stripe.PaymentIntentTransferDataParams{
		Destination: stripe.String(i.Destination.ConnectedAccountID),
	}
}

// PlannerOptions configures a Planner
type PlannerOptions struct {
	Logger      *zap.Logger
	Calculator  *revenue.Calculator
	Destination DestinationResolver
}

// Planner computes payout instructions for an initial charge
type Planner struct {
	PlannerOptions
}

// NewPlanner returns a Planner
func NewPlanner(option PlannerOptions) (*Planner, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Calculator == nil {
		return nil, fmt.Errorf("nil Calculator is invalid")
	}
	if option.Destination == nil {
		return nil, fmt.Errorf("nil Destination is invalid")
	}
	return &Planner{
		PlannerOptions: option,
	}, nil
}

// Plan splits items and resolves the trainer's destination. The destination is resolved on every
// call so a freshly onboarded connected account is picked up by the next charge.
func (p *Planner) Plan(ctx context.Context, trainerID string, items []revenue.LineItem) (Instructions, error) {
	split, err := p.Calculator.Calculate(ctx, items)
	if err != nil {
		return Instructions{}, err
	}
	dest, err := p.Destination.Resolve(ctx, trainerID)
	if err != nil {
		return Instructions{}, err
	}
	if !dest.Shares() {
		p.Logger.Info("Trainer has no payout destination, platform retains the charge",
			zap.String("TrainerID", trainerID),
			zap.Int64("TotalAmount", split.TotalAmount),
		)
	}
	return Instructions{
		Split:       split,
		Destination: dest,
	}, nil
}
