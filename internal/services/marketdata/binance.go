package marketdata

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/hive/internal/domain"
)

// BinancePricer reads prices and klines from the Binance public API.
type BinancePricer struct {
	client *binance.Client
}

func NewBinancePricer(client *binance.Client) *BinancePricer {
	return &BinancePricer{client: client}
}

func (p *BinancePricer) GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	pair = exchangePair(pair)
	prices, err := p.client.NewListPricesService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "binance price of %s", pair)
	}
	if len(prices) == 0 {
		return decimal.Zero, errors.Errorf("binance API returned empty prices for %s", pair)
	}
	return decimal.NewFromString(prices[0].Price)
}

func (p *BinancePricer) GetCandles(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.Candle, error) {
	pair = exchangePair(pair)
	klines, err := p.client.NewKlinesService().
		Symbol(pair.Symbol()).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s", pair)
	}

	out := make([]domain.Candle, len(klines))
	for i, k := range klines {
		v, err := parseDecimals(k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "parse kline %d of %s", i, pair)
		}
		out[i] = domain.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      v[0],
			High:      v[1],
			Low:       v[2],
			Close:     v[3],
			Volume:    v[4],
			CloseTime: time.UnixMilli(k.CloseTime),
		}
	}
	return out, nil
}
