package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/hive/internal/domain"
	"github.com/vadiminshakov/hive/internal/runloop"
)

// UpdateTick caches the tick and schedules matching of its symbol.
func (o *Orchestrator) UpdateTick(tick domain.MarketTick) {
	if tick.Symbol == "" || !tick.Price.IsPositive() {
		return
	}
	if tick.Timestamp.IsZero() {
		tick.Timestamp = o.now()
	}
	o.pricesMu.Lock()
	o.prices[tick.Symbol] = tick
	o.pricesMu.Unlock()

	o.schedule(tick.Symbol)
}

// schedule enqueues symbol once; a symbol already waiting is not queued twice.
func (o *Orchestrator) schedule(symbol string) {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	if o.queued[symbol] {
		return
	}
	select {
	case o.queue <- symbol:
		o.queued[symbol] = true
	default:
		o.logger.Warn("matcher queue full, dropping symbol", zap.String("symbol", symbol))
	}
}

func (o *Orchestrator) cachedTick(symbol string) (domain.MarketTick, bool) {
	o.pricesMu.RLock()
	defer o.pricesMu.RUnlock()
	tick, ok := o.prices[symbol]
	return tick, ok
}

// ConsumeFeed pumps ticks from feed into the cache until ctx is done or the feed closes.
func (o *Orchestrator) ConsumeFeed(ctx context.Context, feed Feed) error {
	ticks := feed.Ticks(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				o.logger.Info("market data feed closed")
				return nil
			}
			o.UpdateTick(tick)
		}
	}
}

// RunMatcher matches scheduled symbols until ctx is done.
func (o *Orchestrator) RunMatcher(ctx context.Context) error {
	o.logger.Info("Starting order matcher", zap.Int("queue", cap(o.queue)))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case symbol := <-o.queue:
			o.queueMu.Lock()
			delete(o.queued, symbol)
			o.queueMu.Unlock()

			if err := runloop.Once(ctx, func(context.Context) error {
				o.MatchSymbol(symbol, o.now())
				return nil
			}); err != nil {
				o.logger.Error("matching failed", zap.String("symbol", symbol), zap.Error(err))
			}
		}
	}
}

// MatchSymbol fills the resting orders of symbol that cross the cached tick and
// returns how many orders received a fill.
func (o *Orchestrator) MatchSymbol(symbol string, now time.Time) int {
	tick, ok := o.cachedTick(symbol)
	if !ok {
		return 0
	}
	filled := 0
	for _, en := range o.openEntries(func(en *orderEntry) bool { return en.symbol == symbol }) {
		en.mu.Lock()
		if o.expired(en, now) {
			o.expire(en, "good-till-date expired", now)
		} else if o.tryMatch(en, tick, now) {
			filled++
		}
		en.mu.Unlock()
	}
	return filled
}

// ExpireOrders expires every GTD order past its deadline.
func (o *Orchestrator) ExpireOrders(now time.Time) int {
	n := 0
	for _, en := range o.openEntries(nil) {
		en.mu.Lock()
		if o.expired(en, now) {
			o.expire(en, "good-till-date expired", now)
			n++
		}
		en.mu.Unlock()
	}
	return n
}

func (o *Orchestrator) expired(en *orderEntry, now time.Time) bool {
	return !en.order.Status.IsTerminal() &&
		en.order.TimeInForce == domain.TimeInForceGTD &&
		!en.order.ExpiresAt.IsZero() &&
		now.After(en.order.ExpiresAt)
}

// tryMatch fills en against tick when its trigger crosses. Callers hold en.mu.
func (o *Orchestrator) tryMatch(en *orderEntry, tick domain.MarketTick, now time.Time) bool {
	if en.order.Status.IsTerminal() {
		return false
	}
	price, ok := o.executionPrice(&en.order, tick.Price)
	if !ok {
		return false
	}

	qty := en.order.Remaining()
	if tick.Volume.IsPositive() {
		qty = decimal.Min(qty, tick.Volume)
	}
	if !qty.IsPositive() {
		return false
	}
	if err := o.fill(en, qty, price, now); err != nil {
		o.logger.Error("failed to fill resting order", zap.String("order", en.order.ID), zap.Error(err))
		return false
	}
	return true
}

// executionPrice reports whether a resting order crosses market and at which price it fills.
func (o *Orchestrator) executionPrice(order *domain.Order, market decimal.Decimal) (decimal.Decimal, bool) {
	buy := order.Side == domain.SideBuy
	switch order.Type {
	case domain.OrderTypeLimit:
		if (buy && market.LessThanOrEqual(order.Price)) || (!buy && market.GreaterThanOrEqual(order.Price)) {
			return order.Price, true
		}
	case domain.OrderTypeStop:
		if (buy && market.GreaterThanOrEqual(order.StopPrice)) || (!buy && market.LessThanOrEqual(order.StopPrice)) {
			return o.slipped(market, order.Side), true
		}
	}
	return decimal.Zero, false
}
