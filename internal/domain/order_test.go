package domain

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(OrderPending, OrderSubmitted))
	assert.True(t, CanTransition(OrderSubmitted, OrderFilled))
	assert.True(t, CanTransition(OrderPartiallyFilled, OrderFilled))
	assert.False(t, CanTransition(OrderPending, OrderFilled))
	assert.False(t, CanTransition(OrderSubmitted, OrderPending))

	for _, terminal := range []OrderStatus{OrderFilled, OrderCancelled, OrderRejected, OrderExpired} {
		assert.True(t, terminal.IsTerminal())
		assert.False(t, terminal.Cancellable())
		assert.False(t, CanTransition(terminal, OrderCancelled), "%s must be final", terminal)
	}
}

func TestOrder_ApplyFill(t *testing.T) {
	now := time.Now()
	o := &Order{Quantity: decimal.NewFromInt(10), Status: OrderPending}
	require.NoError(t, o.Transition(OrderSubmitted, now))

	require.NoError(t, o.ApplyFill(decimal.NewFromInt(4), decimal.NewFromInt(100), decimal.NewFromFloat(0.4), now))
	assert.Equal(t, OrderPartiallyFilled, o.Status)
	assert.True(t, o.Remaining().Equal(decimal.NewFromInt(6)))

	require.NoError(t, o.ApplyFill(decimal.NewFromInt(6), decimal.NewFromInt(110), decimal.NewFromFloat(0.66), now))
	assert.Equal(t, OrderFilled, o.Status)
	// (4*100 + 6*110) / 10 = 106
	assert.True(t, o.AvgFillPrice.Equal(decimal.NewFromInt(106)))
	assert.True(t, o.Fees.Equal(decimal.NewFromFloat(1.06)))
	assert.Len(t, o.Fills, 2)
	assert.False(t, o.FilledAt.IsZero())

	err := o.ApplyFill(decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.Zero, now)
	assert.True(t, errors.Is(err, ErrInvalidFill))
}

func TestOrder_TransitionRejectsReentry(t *testing.T) {
	o := &Order{Quantity: decimal.NewFromInt(1), Status: OrderPending}
	require.NoError(t, o.Transition(OrderCancelled, time.Now()))

	err := o.Transition(OrderSubmitted, time.Now())
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, OrderCancelled, o.Status)
}
