package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPosition_Apply(t *testing.T) {
	tests := []struct {
		name             string
		fills            []FillEvent
		expectedQty      decimal.Decimal
		expectedAvg      decimal.Decimal
		expectedRealized decimal.Decimal
	}{
		{
			name: "two buys average into VWAP",
			fills: []FillEvent{
				fillEvent(SideBuy, 1, 100, 0),
				fillEvent(SideBuy, 3, 200, 1),
			},
			expectedQty: decimal.NewFromInt(4),
			// (1*100 + 3*200) / 4 = 175
			expectedAvg:      decimal.NewFromInt(175),
			expectedRealized: decimal.Zero,
		},
		{
			name: "partial sell keeps entry price",
			fills: []FillEvent{
				fillEvent(SideBuy, 2, 100, 0),
				fillEvent(SideSell, 1, 130, 1),
			},
			expectedQty:      decimal.NewFromInt(1),
			expectedAvg:      decimal.NewFromInt(100),
			expectedRealized: decimal.NewFromInt(30),
		},
		{
			name: "overshooting sell flips to short at fill price",
			fills: []FillEvent{
				fillEvent(SideBuy, 1, 100, 0),
				fillEvent(SideSell, 3, 90, 1),
			},
			expectedQty:      decimal.NewFromInt(-2),
			expectedAvg:      decimal.NewFromInt(90),
			expectedRealized: decimal.NewFromInt(-10),
		},
		{
			name: "short covered lower is a gain",
			fills: []FillEvent{
				fillEvent(SideSell, 2, 100, 0),
				fillEvent(SideBuy, 2, 80, 1),
			},
			expectedQty:      decimal.Zero,
			expectedAvg:      decimal.Zero,
			expectedRealized: decimal.NewFromInt(40),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			positions := BuildPositions(tt.fills)
			pos, ok := positions["BTC/USD"]
			require.True(t, ok)
			assert.True(t, pos.Quantity.Equal(tt.expectedQty), "qty %s", pos.Quantity)
			assert.True(t, pos.AvgPrice.Equal(tt.expectedAvg), "avg %s", pos.AvgPrice)
			assert.True(t, pos.RealizedPnL.Equal(tt.expectedRealized), "realized %s", pos.RealizedPnL)
		})
	}
}

func TestPosition_MarkAndExposure(t *testing.T) {
	pos := &Position{Symbol: "ETH/USD"}
	pos.Apply(SideBuy, decimal.NewFromInt(2), decimal.NewFromInt(3000))

	pos.Mark(decimal.NewFromInt(3100))
	assert.True(t, pos.UnrealizedPnL.Equal(decimal.NewFromInt(200)))
	assert.True(t, pos.Exposure().Equal(decimal.NewFromInt(6200)))

	short := &Position{Symbol: "ETH/USD"}
	short.Apply(SideSell, decimal.NewFromInt(1), decimal.NewFromInt(3000))
	short.Mark(decimal.NewFromInt(3100))
	assert.True(t, short.UnrealizedPnL.Equal(decimal.NewFromInt(-100)))
}

func TestBuildPositions_OrdersByFillTime(t *testing.T) {
	// the sell arrives first in the slice but happened later
	fills := []FillEvent{
		fillEvent(SideSell, 1, 120, 5),
		fillEvent(SideBuy, 1, 100, 1),
	}
	pos := BuildPositions(fills)["BTC/USD"]
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.IsZero())
	assert.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 1, pos.WinningTrades)
}

func fillEvent(side Side, qty, price int64, offsetSec int) FillEvent {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return FillEvent{
		Symbol: "BTC/USD",
		Side:   side,
		Fill: Fill{
			Quantity: decimal.NewFromInt(qty),
			Price:    decimal.NewFromInt(price),
			At:       base.Add(time.Duration(offsetSec) * time.Second),
		},
	}
}
