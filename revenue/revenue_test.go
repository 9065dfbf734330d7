package revenue

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePrices struct {
	amounts map[string]int64
	delay   time.Duration

	inFlight int32
	peak     int32
	calls    int32
	mu       sync.Mutex
}

func (f *fakePrices) UnitAmount(ctx context.Context, key string) (int64, error) {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	f.mu.Lock()
	if n > f.peak {
		f.peak = n
	}
	f.mu.Unlock()
	time.Sleep(f.delay)
	amount, ok := f.amounts[key]
	if !ok {
		return 0, fmt.Errorf("no such price %s", key)
	}
	return amount, nil
}

func TestSplitTotalPartitionsExactly(t *testing.T) {
	for _, bps := range []int64{0, 1, 999, 1000, 1250, 3333, 10000} {
		for total := int64(0); total <= 2500; total++ {
			split, err := SplitTotal(total, bps)
			require.NoError(t, err)
			require.Equal(t, total, split.ApplicationFeeAmount+split.TrainerPayoutAmount, "total=%d bps=%d", total, bps)
			require.GreaterOrEqual(t, split.ApplicationFeeAmount, int64(0))
			require.GreaterOrEqual(t, split.TrainerPayoutAmount, int64(0))
		}
	}
}

func TestSplitTotalRoundsHalfUp(t *testing.T) {
	tests := []struct {
		total int64
		fee   int64
	}{
		{0, 0},
		{4, 0},
		{5, 1},
		{14, 1},
		{15, 2},
		{999, 100},
		{29900, 2990},
	}
	for _, tt := range tests {
		split, err := SplitTotal(tt.total, DefaultFeeBasisPoints)
		require.NoError(t, err)
		assert.Equal(t, tt.fee, split.ApplicationFeeAmount, "total=%d", tt.total)
		assert.Equal(t, tt.total-tt.fee, split.TrainerPayoutAmount)
	}
}

func TestSplitTotalRejectsOverflow(t *testing.T) {
	_, err := SplitTotal(math.MaxInt64/2, DefaultFeeBasisPoints)
	assert.True(t, errors.Is(err, ErrAmountOverflow))
}

func TestCalculateFlatItems(t *testing.T) {
	calc, err := NewCalculator(CalculatorOptions{FeeBasisPoints: DefaultFeeBasisPoints})
	require.NoError(t, err)

	split, err := calc.Calculate(context.Background(), []LineItem{
		Flat(1999, 3),
		Flat(501, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6498), split.TotalAmount)
	assert.Equal(t, int64(650), split.ApplicationFeeAmount)
	assert.Equal(t, int64(5848), split.TrainerPayoutAmount)
}

func TestCalculateEmptyIsZero(t *testing.T) {
	calc, err := NewCalculator(CalculatorOptions{FeeBasisPoints: DefaultFeeBasisPoints})
	require.NoError(t, err)

	split, err := calc.Calculate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Split{}, split)
}

func TestCalculateLooksUpPricesWithBoundedConcurrency(t *testing.T) {
	prices := &fakePrices{
		amounts: map[string]int64{"plan_a": 1000, "plan_b": 250},
		delay:   10 * time.Millisecond,
	}
	calc, err := NewCalculator(CalculatorOptions{
		FeeBasisPoints:    DefaultFeeBasisPoints,
		Prices:            prices,
		LookupConcurrency: 2,
	})
	require.NoError(t, err)

	items := []LineItem{Flat(100, 1)}
	for i := 0; i < 6; i++ {
		items = append(items, Priced("plan_a", 1), Priced("plan_b", 2))
	}
	split, err := calc.Calculate(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, int64(100+6*1000+6*500), split.TotalAmount)
	assert.Equal(t, int32(12), atomic.LoadInt32(&prices.calls))
	assert.LessOrEqual(t, prices.peak, int32(2))
}

func TestCalculatePropagatesLookupFailure(t *testing.T) {
	calc, err := NewCalculator(CalculatorOptions{
		FeeBasisPoints: DefaultFeeBasisPoints,
		Prices:         &fakePrices{amounts: map[string]int64{}},
	})
	require.NoError(t, err)

	_, err = calc.Calculate(context.Background(), []LineItem{Priced("missing", 1)})
	assert.Error(t, err)
}

func TestCalculateValidatesItems(t *testing.T) {
	calc, err := NewCalculator(CalculatorOptions{FeeBasisPoints: DefaultFeeBasisPoints})
	require.NoError(t, err)

	negative := int64(-1)
	amount := int64(10)
	bad := []LineItem{
		{UnitAmount: &amount, Quantity: 0},
		{UnitAmount: &negative, Quantity: 1},
		{Quantity: 1},
		{UnitAmount: &amount, PriceLookupKey: "both", Quantity: 1},
	}
	for k, item := range bad {
		_, err := calc.Calculate(context.Background(), []LineItem{item})
		assert.True(t, errors.Is(err, ErrInvalidLineItem), "item %d: %v", k, err)
	}

	_, err = calc.Calculate(context.Background(), []LineItem{Priced("no_lookup_configured", 1)})
	assert.Error(t, err)
}

func TestNewCalculatorRejectsBadRate(t *testing.T) {
	_, err := NewCalculator(CalculatorOptions{FeeBasisPoints: -1})
	assert.Error(t, err)
	_, err = NewCalculator(CalculatorOptions{FeeBasisPoints: 10001})
	assert.Error(t, err)
}
