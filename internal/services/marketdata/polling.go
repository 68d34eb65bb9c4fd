package marketdata

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/hive/internal/domain"
	"github.com/vadiminshakov/hive/pkg/retrier"
)

// PollingFeed turns a Pricer into a tick stream, retrying failed lookups.
type PollingFeed struct {
	pricer   Pricer
	symbols  []string
	pairs    map[string]domain.Pair
	interval time.Duration
	retry    *retrier.Retrier
	logger   *zap.Logger
}

// NewPollingFeed validates symbols up front; a malformed symbol is an error.
func NewPollingFeed(pricer Pricer, symbols []string, interval time.Duration, logger *zap.Logger, retryOpts ...retrier.Option) (*PollingFeed, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	pairs := make(map[string]domain.Pair, len(symbols))
	for _, s := range symbols {
		pair, err := domain.ParsePair(s)
		if err != nil {
			return nil, err
		}
		pairs[s] = pair
	}
	logger = logger.With(zap.String("component", "polling-feed"))

	opts := append([]retrier.Option{
		retrier.WithInitialInterval(200 * time.Millisecond),
		retrier.WithMaxInterval(interval),
		retrier.WithMaxRetries(3),
		retrier.WithRetryIf(func(err error) bool {
			// an unknown or rejected pair will not start resolving on retry
			return !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrValidation)
		}),
		retrier.WithOnRetry(func(attempt int, err error) {
			logger.Warn("price lookup failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		}),
	}, retryOpts...)

	return &PollingFeed{
		pricer:   pricer,
		symbols:  append([]string(nil), symbols...),
		pairs:    pairs,
		interval: interval,
		retry:    retrier.New(opts...),
		logger:   logger,
	}, nil
}

// Poll fetches one tick per symbol. Symbols whose lookups keep failing are skipped.
func (f *PollingFeed) Poll(ctx context.Context) []domain.MarketTick {
	ticks := make([]domain.MarketTick, 0, len(f.symbols))
	for _, s := range f.symbols {
		price, err := retrier.DoWithData(f.retry, ctx, func(ctx context.Context) (decimal.Decimal, error) {
			return f.pricer.GetPrice(ctx, f.pairs[s])
		})
		if err != nil {
			f.logger.Error("price lookup gave up", zap.String("symbol", s), zap.Error(err))
			continue
		}
		ticks = append(ticks, domain.NewTick(s, price, decimal.Zero, time.Now()))
	}
	return ticks
}

// Ticks polls every interval until ctx is done.
func (f *PollingFeed) Ticks(ctx context.Context) <-chan domain.MarketTick {
	out := make(chan domain.MarketTick, len(f.symbols))
	go func() {
		defer close(out)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			for _, tick := range f.Poll(ctx) {
				select {
				case out <- tick:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}
