// Package marketdata produces market ticks for the execution engine, either
// simulated or polled from an exchange.
package marketdata

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/hive/internal/domain"
)

// Pricer returns the last traded price of a pair.
type Pricer interface {
	GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
}

// CandleSource returns recent OHLCV bars of a pair.
type CandleSource interface {
	GetCandles(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.Candle, error)
}

// exchangePair maps USD quotes to the USDT books the exchanges list.
func exchangePair(pair domain.Pair) domain.Pair {
	return pair.WithQuote("USD", "USDT")
}

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
