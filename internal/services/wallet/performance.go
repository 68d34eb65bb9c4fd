package wallet

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/hive/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// WalletView is the read-only input of a performance computation.
type WalletView struct {
	Wallet    domain.Wallet
	Principal decimal.Decimal
	Equity    []domain.EquityPoint
}

// PerformanceSource computes performance metrics of a wallet.
type PerformanceSource interface {
	Performance(ctx context.Context, view WalletView) (domain.Performance, error)
}

// EquityCurveSource derives ROI from the wallet's principal and Sharpe from the
// increments of its ROI curve.
type EquityCurveSource struct{}

func (EquityCurveSource) Performance(_ context.Context, view WalletView) (domain.Performance, error) {
	return domain.Performance{
		WalletID: view.Wallet.ID,
		ROI:      roi(view.Wallet.Balance.Total, view.Principal),
		Sharpe:   Sharpe(view.Equity),
	}, nil
}

func roi(total, principal decimal.Decimal) decimal.Decimal {
	if !principal.IsPositive() {
		return decimal.Zero
	}
	return total.Sub(principal).Div(principal).Mul(hundred)
}

// Sharpe is the mean over the standard deviation of equity curve increments.
// It returns zero when there are fewer than two increments or no dispersion.
func Sharpe(curve []domain.EquityPoint) decimal.Decimal {
	if len(curve) < 3 {
		return decimal.Zero
	}

	deltas := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		d, _ := curve[i].Value.Sub(curve[i-1].Value).Float64()
		deltas = append(deltas, d)
	}
	period := len(deltas)

	means := helper.ChanToSlice(trend.NewSmaWithPeriod[float64](period).Compute(helper.SliceToChan(deltas)))
	stds := helper.ChanToSlice(volatility.NewMovingStdWithPeriod[float64](period).Compute(helper.SliceToChan(deltas)))
	if len(means) == 0 || len(stds) == 0 {
		return decimal.Zero
	}

	mean, std := means[len(means)-1], stds[len(stds)-1]
	if math.IsNaN(std) || math.IsNaN(mean) || std < 1e-9 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(mean / std).Round(4)
}

type cachedPerformance struct {
	perf    domain.Performance
	expires time.Time
}

// PerformanceCache memoizes a PerformanceSource per wallet for a TTL.
type PerformanceCache struct {
	source PerformanceSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cachedPerformance
}

// NewPerformanceCache wraps source with a TTL cache.
func NewPerformanceCache(source PerformanceSource, ttl time.Duration) *PerformanceCache {
	if source == nil {
		source = EquityCurveSource{}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PerformanceCache{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedPerformance),
	}
}

// Get returns the cached metrics of the wallet or computes them.
func (c *PerformanceCache) Get(ctx context.Context, view WalletView) (domain.Performance, error) {
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[view.Wallet.ID]
	c.mu.Unlock()
	if ok && now.Before(entry.expires) {
		return entry.perf, nil
	}

	perf, err := c.source.Performance(ctx, view)
	if err != nil {
		return domain.Performance{}, err
	}
	perf.WalletID = view.Wallet.ID
	perf.ComputedAt = now

	c.mu.Lock()
	c.entries[view.Wallet.ID] = cachedPerformance{perf: perf, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return perf, nil
}

// Invalidate drops the cached metrics of the given wallets, or of all wallets when none are given.
func (c *PerformanceCache) Invalidate(walletIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(walletIDs) == 0 {
		c.entries = make(map[string]cachedPerformance)
		return
	}
	for _, id := range walletIDs {
		delete(c.entries, id)
	}
}
