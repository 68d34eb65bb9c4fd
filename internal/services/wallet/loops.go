package wallet

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/hive/internal/runloop"
)

// Run drives the periodic rebalance, profit collection and performance refresh
// of every hierarchy until ctx is done.
func (h *Hierarchy) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// the loop cadence is the rebalance interval, so every tick is due
		return runloop.Every(ctx, h.logger, "wallet-rebalance", h.cfg.RebalanceInterval, func(ctx context.Context) error {
			return h.forEachRoot(ctx, func(id string) error {
				_, err := h.Rebalance(ctx, id, true)
				return err
			})
		})
	})
	g.Go(func() error {
		return runloop.Every(ctx, h.logger, "wallet-profits", h.cfg.ProfitInterval, func(ctx context.Context) error {
			return h.forEachRoot(ctx, func(id string) error {
				_, err := h.CollectProfits(ctx, id, decimal.NullDecimal{})
				return err
			})
		})
	})
	g.Go(func() error {
		return runloop.Every(ctx, h.logger, "wallet-performance", h.cfg.PerformanceTTL, h.RecordEquity)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (h *Hierarchy) forEachRoot(ctx context.Context, fn func(id string) error) error {
	var failed int
	for _, id := range h.Roots() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(id); err != nil {
			failed++
			h.logger.Error("hierarchy operation failed", zap.String("root", id), zap.Error(err))
		}
	}
	if failed > 0 {
		return errors.Errorf("%d hierarchies failed", failed)
	}
	return nil
}
