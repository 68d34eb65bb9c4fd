package agents

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/hive/internal/domain"
)

type seriesHistory struct {
	closes []decimal.Decimal
	err    error
}

func (h seriesHistory) Closes(_ context.Context, _ string, limit int) ([]decimal.Decimal, error) {
	if h.err != nil {
		return nil, h.err
	}
	if limit > 0 && len(h.closes) > limit {
		return h.closes[len(h.closes)-limit:], nil
	}
	return h.closes, nil
}

func series(values ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func ramp(from, step float64, n int) []decimal.Decimal {
	values := make([]float64, n)
	for i := range values {
		values[i] = from + step*float64(i)
	}
	return series(values...)
}

func TestRSI_Propose(t *testing.T) {
	dc := domain.DecisionContext{Symbol: "BTC/USD", CurrentPrice: decimal.NewFromInt(500)}

	tests := []struct {
		name   string
		closes []decimal.Decimal
		action domain.Action
	}{
		{name: "falling market is oversold", closes: ramp(200, -2, 40), action: domain.ActionBuy},
		{name: "rising market is overbought", closes: ramp(100, 2, 40), action: domain.ActionSell},
		{name: "choppy market holds", closes: series(100, 101, 100, 101, 100, 101, 100, 101, 100, 101, 100, 101, 100, 101, 100, 101, 100, 101, 100, 101), action: domain.ActionHold},
		{name: "flat market holds", closes: ramp(100, 0, 30), action: domain.ActionHold},
		{name: "short history holds", closes: ramp(100, 1, 5), action: domain.ActionHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewRSI(RSIConfig{}, seriesHistory{closes: tt.closes}).Propose(context.Background(), "a1", dc)
			require.NoError(t, err)
			assert.Equal(t, tt.action, p.Action, p.Reasoning)
			assert.Equal(t, "a1", p.AgentID)
			if tt.action != domain.ActionHold {
				assert.True(t, p.Quantity.Equal(decimal.NewFromInt(2)), "1000 notional at 500, got %s", p.Quantity)
				assert.True(t, p.Confidence.IsPositive())
			}
		})
	}

	_, err := NewRSI(RSIConfig{}, seriesHistory{err: errors.New("no data")}).Propose(context.Background(), "a1", dc)
	assert.Error(t, err)
}

func TestStaticAndRouter(t *testing.T) {
	static := NewStatic(map[string]domain.Proposal{
		"a1": {Action: domain.ActionBuy, Quantity: decimal.NewFromInt(1)},
	})
	dc := domain.DecisionContext{Symbol: "ETH/USD"}

	p, err := static.Propose(context.Background(), "a1", dc)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBuy, p.Action)
	assert.Equal(t, "ETH/USD", p.Symbol)

	p, err = static.Propose(context.Background(), "a2", dc)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, p.Action)

	router := NewRouter(static)
	router.Assign("a3", NewStatic(map[string]domain.Proposal{"a3": {Action: domain.ActionSell, Quantity: decimal.NewFromInt(2)}}))

	p, err = router.Propose(context.Background(), "a3", dc)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSell, p.Action)

	p, err = router.Propose(context.Background(), "a1", dc)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBuy, p.Action)

	p, err = NewRouter(nil).Propose(context.Background(), "a1", dc)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, p.Action)
}
