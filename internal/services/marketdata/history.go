package marketdata

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/hive/internal/domain"
)

// TickHistory keeps the last prices seen per symbol.
type TickHistory struct {
	limit int

	mu     sync.RWMutex
	prices map[string][]decimal.Decimal
}

func NewTickHistory(limit int) *TickHistory {
	if limit <= 0 {
		limit = 500
	}
	return &TickHistory{limit: limit, prices: make(map[string][]decimal.Decimal)}
}

// Observe appends the tick price.
func (h *TickHistory) Observe(tick domain.MarketTick) {
	h.mu.Lock()
	defer h.mu.Unlock()
	series := append(h.prices[tick.Symbol], tick.Price)
	if over := len(series) - h.limit; over > 0 {
		series = append([]decimal.Decimal(nil), series[over:]...)
	}
	h.prices[tick.Symbol] = series
}

// Closes returns up to limit most recent prices, oldest first.
func (h *TickHistory) Closes(_ context.Context, symbol string, limit int) ([]decimal.Decimal, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	series := h.prices[symbol]
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	return append([]decimal.Decimal(nil), series...), nil
}

// CandleHistory reads closes from exchange candles.
type CandleHistory struct {
	source   CandleSource
	interval string
}

func NewCandleHistory(source CandleSource, interval string) *CandleHistory {
	if interval == "" {
		interval = "1m"
	}
	return &CandleHistory{source: source, interval: interval}
}

func (h *CandleHistory) Closes(ctx context.Context, symbol string, limit int) ([]decimal.Decimal, error) {
	pair, err := domain.ParsePair(symbol)
	if err != nil {
		return nil, err
	}
	candles, err := h.source.GetCandles(ctx, pair, h.interval, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "candles of %s", symbol)
	}
	out := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out, nil
}
