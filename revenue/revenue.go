package revenue

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// BasisPointsDenominator expresses fee rates in hundredths of a percent
const BasisPointsDenominator = 10000

// DefaultFeeBasisPoints is the platform fee of the current deployment (10%)
const DefaultFeeBasisPoints = 1000

// Sentinel errors
var (
	ErrInvalidLineItem = errors.New("invalid line item")
	ErrAmountOverflow  = errors.New("amount overflows int64 minor units")
)

// LineItem is one purchased entry. Exactly one of UnitAmount or PriceLookupKey is set.
// Amounts are in minor currency units.
type LineItem struct {
	UnitAmount     *int64 `json:"unitAmount,omitempty"`
	PriceLookupKey string `json:"priceLookupKey,omitempty"`
	Quantity       int64  `json:"quantity" validate:"min=1"`
}

// Flat returns a LineItem with a known unit amount
func Flat(unitAmount, quantity int64) LineItem {
	return LineItem{UnitAmount: &unitAmount, Quantity: quantity}
}

// Priced returns a LineItem whose unit amount is looked up on the gateway
func Priced(lookupKey string, quantity int64) LineItem {
	return LineItem{PriceLookupKey: lookupKey, Quantity: quantity}
}

func (i LineItem) validate() error {
	if i.Quantity < 1 {
		return errors.Wrap(ErrInvalidLineItem, "quantity must be at least 1")
	}
	hasAmount := i.UnitAmount != nil
	hasKey := len(i.PriceLookupKey) > 0
	if hasAmount == hasKey {
		return errors.Wrap(ErrInvalidLineItem, "exactly one of unitAmount or priceLookupKey is required")
	}
	if hasAmount && *i.UnitAmount < 0 {
		return errors.Wrap(ErrInvalidLineItem, "unitAmount cannot be negative")
	}
	return nil
}

// PriceLookup resolves a gateway price to its unit amount in minor units
type PriceLookup interface {
	UnitAmount(ctx context.Context, lookupKey string) (int64, error)
}

// Split is the partition of a payment between the platform and the payee
type Split struct {
	TotalAmount          int64 `json:"totalAmount"`
	ApplicationFeeAmount int64 `json:"applicationFeeAmount"`
	TrainerPayoutAmount  int64 `json:"trainerPayoutAmount"`
}

// CalculatorOptions configures a Calculator
type CalculatorOptions struct {
	FeeBasisPoints    int64
	Prices            PriceLookup
	LookupConcurrency int
}

// Calculator splits line items into a platform fee and a payout
type Calculator struct {
	CalculatorOptions
}

// NewCalculator returns a Calculator. Prices may be nil if only flat items are ever passed.
func NewCalculator(option CalculatorOptions) (*Calculator, error) {
	if option.FeeBasisPoints < 0 || option.FeeBasisPoints > BasisPointsDenominator {
		return nil, fmt.Errorf("FeeBasisPoints must be within [0, %d]", BasisPointsDenominator)
	}
	if option.LookupConcurrency <= 0 {
		option.LookupConcurrency = 4
	}
	return &Calculator{
		CalculatorOptions: option,
	}, nil
}

// Calculate resolves unit amounts and returns the exact partition of the total
func (c *Calculator) Calculate(ctx context.Context, items []LineItem) (Split, error) {
	amounts, err := c.unitAmounts(ctx, items)
	if err != nil {
		return Split{}, err
	}
	var total int64
	for k, item := range items {
		line, err := mul(amounts[k], item.Quantity)
		if err != nil {
			return Split{}, err
		}
		if total, err = add(total, line); err != nil {
			return Split{}, err
		}
	}
	return SplitTotal(total, c.FeeBasisPoints)
}

func (c *Calculator) unitAmounts(ctx context.Context, items []LineItem) ([]int64, error) {
	for k, item := range items {
		if err := item.validate(); err != nil {
			return nil, errors.Wrapf(err, "line item %d", k)
		}
		if item.UnitAmount == nil && c.Prices == nil {
			return nil, fmt.Errorf("line item %d needs a price lookup but none is configured", k)
		}
	}

	amounts := make([]int64, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.LookupConcurrency)
	for k, item := range items {
		if item.UnitAmount != nil {
			amounts[k] = *item.UnitAmount
			continue
		}
		k, key := k, item.PriceLookupKey
		g.Go(func() error {
			amount, err := c.Prices.UnitAmount(gctx, key)
			if err != nil {
				return errors.Wrapf(err, "Cannot look up price %s", key)
			}
			if amount < 0 {
				return errors.Wrapf(ErrInvalidLineItem, "price %s has negative amount", key)
			}
			amounts[k] = amount
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return amounts, nil
}

// SplitTotal partitions total with a half-up rounded fee. Fee plus payout always equals total.
func SplitTotal(total, feeBasisPoints int64) (Split, error) {
	if total < 0 {
		return Split{}, errors.Wrap(ErrInvalidLineItem, "total cannot be negative")
	}
	product, err := mul(total, feeBasisPoints)
	if err != nil {
		return Split{}, err
	}
	product, err = add(product, BasisPointsDenominator/2)
	if err != nil {
		return Split{}, err
	}
	fee := product / BasisPointsDenominator
	return Split{
		TotalAmount:          total,
		ApplicationFeeAmount: fee,
		TrainerPayoutAmount:  total - fee,
	}, nil
}

func mul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxInt64/b {
		return 0, ErrAmountOverflow
	}
	return a * b, nil
}

func add(a, b int64) (int64, error) {
	if a > math.MaxInt64-b {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}
