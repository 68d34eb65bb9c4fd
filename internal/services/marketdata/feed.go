package marketdata

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/hive/internal/domain"
)

var defaultReferencePrice = decimal.NewFromInt(100)

// SimulatedFeed emits a random walk around reference prices.
type SimulatedFeed struct {
	logger     *zap.Logger
	interval   time.Duration
	volatility float64

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]decimal.Decimal
}

// NewSimulatedFeed starts every symbol at its reference price, or 100 when none is known.
// volatility is the largest relative move per step.
func NewSimulatedFeed(symbols []string, reference map[string]decimal.Decimal, interval time.Duration, volatility float64, seed uint64, logger *zap.Logger) *SimulatedFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	if volatility <= 0 {
		volatility = 0.002
	}
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		price, ok := reference[s]
		if !ok || !price.IsPositive() {
			price = defaultReferencePrice
		}
		prices[s] = price
	}
	return &SimulatedFeed{
		logger:     logger.With(zap.String("component", "simulated-feed")),
		interval:   interval,
		volatility: volatility,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		prices:     prices,
	}
}

// Step advances every symbol once and returns the new ticks ordered by symbol.
func (f *SimulatedFeed) Step(now time.Time) []domain.MarketTick {
	f.mu.Lock()
	defer f.mu.Unlock()

	symbols := make([]string, 0, len(f.prices))
	for s := range f.prices {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	ticks := make([]domain.MarketTick, 0, len(symbols))
	for _, s := range symbols {
		move := (f.rng.Float64()*2 - 1) * f.volatility
		price := f.prices[s].Mul(decimal.NewFromFloat(1 + move)).Round(8)
		if !price.IsPositive() {
			price = f.prices[s]
		}
		f.prices[s] = price
		volume := decimal.NewFromFloat(f.rng.Float64() * 10).Round(4)
		ticks = append(ticks, domain.NewTick(s, price, volume, now))
	}
	return ticks
}

// Ticks streams a step every interval until ctx is done.
func (f *SimulatedFeed) Ticks(ctx context.Context) <-chan domain.MarketTick {
	out := make(chan domain.MarketTick, len(f.prices))
	go func() {
		defer close(out)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				for _, tick := range f.Step(now) {
					select {
					case out <- tick:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}
