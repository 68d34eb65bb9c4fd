package marketdata

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"

	"github.com/vadiminshakov/hive/internal/domain"
)

// HyperliquidPricer reads mid prices and candles from the Hyperliquid Info API.
// Hyperliquid keys markets by base coin, so the quote is ignored.
type HyperliquidPricer struct {
	info *hyperliquid.Info
}

func NewHyperliquidPricer(info *hyperliquid.Info) *HyperliquidPricer {
	return &HyperliquidPricer{info: info}
}

func (p *HyperliquidPricer) GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	if p.info == nil {
		return decimal.Zero, errors.New("hyperliquid info client is nil")
	}
	mids, err := p.info.AllMids(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "hyperliquid mids")
	}
	mid, ok := mids[strings.ToUpper(pair.From)]
	if !ok || mid == "" {
		return decimal.Zero, errors.Errorf("hyperliquid API returned empty mid price for %s", pair.From)
	}
	return decimal.NewFromString(mid)
}

func (p *HyperliquidPricer) GetCandles(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.Candle, error) {
	if p.info == nil {
		return nil, errors.New("hyperliquid info client is nil")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	dur, err := intervalDuration(interval)
	if err != nil {
		return nil, err
	}

	endMs := time.Now().UnixMilli()
	// two extra bars absorb rounding at the window edges
	startMs := endMs - (int64(limit)+2)*dur.Milliseconds()
	coin := strings.ToUpper(pair.From)

	candles, err := p.info.CandlesSnapshot(ctx, coin, interval, startMs, endMs)
	if err != nil {
		return nil, errors.Wrapf(err, "hyperliquid candles of %s", coin)
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	out := make([]domain.Candle, 0, len(candles))
	for i, c := range candles {
		v, err := parseDecimals(c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "parse candle %d of %s", i, coin)
		}
		out = append(out, domain.Candle{
			OpenTime:  time.UnixMilli(c.TimeOpen),
			Open:      v[0],
			High:      v[1],
			Low:       v[2],
			Close:     v[3],
			Volume:    v[4],
			CloseTime: time.UnixMilli(c.TimeClose),
		})
	}
	return out, nil
}

// intervalDuration parses exchange intervals such as 1m, 15m, 4h or 1d.
func intervalDuration(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, errors.Errorf("invalid interval %q", interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, errors.Errorf("invalid interval number %q", interval)
	}
	switch interval[len(interval)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, errors.Errorf("unsupported interval unit in %q", interval)
}
