package execution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/hive/internal/domain"
)

// OrderSpec is an order request. SessionID may be empty, in which case the
// farm's current session is used.
type OrderSpec struct {
	SessionID   string
	FarmID      string
	AgentID     string
	Symbol      string
	Side        domain.Side
	Type        domain.OrderType
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	StopPrice   decimal.Decimal
	TimeInForce domain.TimeInForce
	ExpiresAt   time.Time
}

func (s *OrderSpec) normalize() error {
	if s.Type == "" {
		s.Type = domain.OrderTypeMarket
	}
	if s.TimeInForce == "" {
		s.TimeInForce = domain.TimeInForceGTC
	}
	if s.Symbol == "" {
		return domain.Validation("order has no symbol")
	}
	if s.Side != domain.SideBuy && s.Side != domain.SideSell {
		return domain.Validation("unknown order side %q", s.Side)
	}
	if !s.Quantity.IsPositive() {
		return domain.Validation("order quantity must be positive, got %s", s.Quantity)
	}
	switch s.Type {
	case domain.OrderTypeMarket:
	case domain.OrderTypeLimit:
		if !s.Price.IsPositive() {
			return domain.Validation("limit order needs a positive price")
		}
	case domain.OrderTypeStop:
		if !s.StopPrice.IsPositive() {
			return domain.Validation("stop order needs a positive stop price")
		}
	default:
		return domain.Validation("unknown order type %q", s.Type)
	}
	switch s.TimeInForce {
	case domain.TimeInForceGTC, domain.TimeInForceIOC:
	case domain.TimeInForceGTD:
		if s.ExpiresAt.IsZero() {
			return domain.Validation("GTD order needs an expiry")
		}
	default:
		return domain.Validation("unknown time in force %q", s.TimeInForce)
	}
	return nil
}

// SubmitOrder validates, risk-checks and places an order. Rejected orders are
// returned together with the rejection error.
func (o *Orchestrator) SubmitOrder(ctx context.Context, spec OrderSpec) (domain.Order, error) {
	if err := spec.normalize(); err != nil {
		return domain.Order{}, err
	}

	var (
		s   *session
		err error
	)
	if spec.SessionID != "" {
		s, err = o.lookupSession(spec.SessionID)
		if err != nil {
			return domain.Order{}, err
		}
	} else {
		var ok bool
		if s, ok = o.farmSessionOf(spec.FarmID); !ok {
			return domain.Order{}, domain.NotFound("trading session of farm %s", spec.FarmID)
		}
	}
	info := s.snapshot()
	if spec.FarmID == "" {
		spec.FarmID = info.FarmID
	}
	if spec.FarmID != info.FarmID {
		return domain.Order{}, domain.Validation("session %s belongs to farm %s, not %s", info.ID, info.FarmID, spec.FarmID)
	}
	if spec.AgentID != "" && !s.hasAgent(spec.AgentID) {
		return domain.Order{}, domain.Validation("agent %s is not part of session %s", spec.AgentID, info.ID)
	}

	tick, quoted := o.LatestTick(spec.Symbol)
	if spec.Type == domain.OrderTypeMarket && !quoted {
		return domain.Order{}, domain.Validation("no price known for %s", spec.Symbol)
	}

	en := o.newEntry(info, spec)
	en.mu.Lock()
	defer en.mu.Unlock()

	reference := tick.Price
	switch spec.Type {
	case domain.OrderTypeLimit:
		reference = spec.Price
	case domain.OrderTypeStop:
		reference = spec.StopPrice
	}
	if reason := o.riskReason(s, info, en.order.Notional(reference)); reason != "" {
		o.reject(en, reason)
		return en.order.Clone(), domain.RiskRejected("%s", reason)
	}

	return o.place(ctx, en)
}

func (o *Orchestrator) newEntry(info Session, spec OrderSpec) *orderEntry {
	now := o.now()
	en := &orderEntry{
		farmID:    info.FarmID,
		sessionID: info.ID,
		symbol:    spec.Symbol,
		order: domain.Order{
			ID:          uuid.NewString(),
			SessionID:   info.ID,
			FarmID:      info.FarmID,
			AgentID:     spec.AgentID,
			Symbol:      spec.Symbol,
			Side:        spec.Side,
			Type:        spec.Type,
			Quantity:    spec.Quantity,
			Price:       spec.Price,
			StopPrice:   spec.StopPrice,
			TimeInForce: spec.TimeInForce,
			ExpiresAt:   spec.ExpiresAt,
			Status:      domain.OrderPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	o.mu.Lock()
	o.orders[en.order.ID] = en
	o.mu.Unlock()
	return en
}

// riskReason returns why an order must be refused, or an empty string.
func (o *Orchestrator) riskReason(s *session, info Session, notional decimal.Decimal) string {
	limits := info.Limits
	if info.Status != SessionActive {
		if info.HaltReason != "" {
			return "session " + string(info.Status) + ": " + info.HaltReason
		}
		return "session " + string(info.Status)
	}
	if notional.GreaterThan(limits.MaxPositionSize) {
		return "notional " + notional.StringFixed(2) + " exceeds max position size " + limits.MaxPositionSize.String()
	}
	if unrealized := o.unrealizedPnL(info.FarmID); unrealized.LessThanOrEqual(limits.MaxDailyLoss.Neg()) {
		return "unrealized loss " + unrealized.StringFixed(2) + " reached max daily loss " + limits.MaxDailyLoss.String()
	}
	if open := o.openCount(info.FarmID); open >= limits.MaxOpenOrders {
		return "open orders limit reached"
	}
	if !s.limiter.Allow() {
		return "order rate limit exceeded"
	}
	return ""
}

// place moves a risk-approved order to submitted and executes or queues it.
// Callers hold en.mu.
func (o *Orchestrator) place(_ context.Context, en *orderEntry) (domain.Order, error) {
	now := o.now()
	if err := en.order.Transition(domain.OrderSubmitted, now); err != nil {
		return en.order.Clone(), domain.ExecutionFailure(err, "submit order %s", en.order.ID)
	}

	if en.order.Type == domain.OrderTypeMarket {
		if err := o.fillMarket(en, now); err != nil {
			return en.order.Clone(), err
		}
		return en.order.Clone(), nil
	}

	o.mu.Lock()
	o.open[en.order.ID] = en
	o.mu.Unlock()

	if tick, ok := o.cachedTick(en.symbol); ok {
		o.tryMatch(en, tick, now)
	}
	if en.order.TimeInForce == domain.TimeInForceIOC && !en.order.Status.IsTerminal() {
		o.expire(en, "immediate-or-cancel not filled", now)
	}
	if !en.order.Status.IsTerminal() {
		o.record(en.order.Clone())
		o.logger.Info("Order resting",
			zap.String("order", en.order.ID),
			zap.String("symbol", en.symbol),
			zap.String("type", string(en.order.Type)),
			zap.String("side", string(en.order.Side)))
	}
	return en.order.Clone(), nil
}

// fillMarket executes the whole remaining quantity at the latest price with slippage.
// Callers hold en.mu.
func (o *Orchestrator) fillMarket(en *orderEntry, now time.Time) error {
	tick, ok := o.LatestTick(en.symbol)
	if !ok || !tick.Price.IsPositive() {
		err := domain.ExecutionFailure(nil, "no market price for %s", en.symbol)
		o.reject(en, domain.ReasonOf(err))
		return err
	}
	if err := o.fill(en, en.order.Remaining(), o.slipped(tick.Price, en.order.Side), now); err != nil {
		o.reject(en, err.Error())
		return domain.ExecutionFailure(err, "fill order %s", en.order.ID)
	}
	return nil
}

func (o *Orchestrator) slipped(price decimal.Decimal, side domain.Side) decimal.Decimal {
	if side == domain.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(o.cfg.Slippage))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(o.cfg.Slippage))
}

// fill applies one execution and books it for position tracking. Callers hold en.mu.
func (o *Orchestrator) fill(en *orderEntry, qty, price decimal.Decimal, now time.Time) error {
	fee := qty.Mul(price).Mul(o.cfg.FeeRate)
	if err := en.order.ApplyFill(qty, price, fee, now); err != nil {
		return err
	}

	o.fillsMu.Lock()
	o.fills[en.farmID] = append(o.fills[en.farmID], domain.FillEvent{
		OrderID: en.order.ID,
		AgentID: en.order.AgentID,
		Symbol:  en.symbol,
		Side:    en.order.Side,
		Fill:    en.order.Fills[len(en.order.Fills)-1],
	})
	o.fillsMu.Unlock()

	if en.order.Status == domain.OrderFilled {
		o.settle(en)
	}
	o.record(en.order.Clone())

	o.logger.Info("Order filled",
		zap.String("order", en.order.ID),
		zap.String("agent", en.order.AgentID),
		zap.String("symbol", en.symbol),
		zap.String("side", string(en.order.Side)),
		zap.String("quantity", qty.String()),
		zap.String("price", price.String()),
		zap.String("status", string(en.order.Status)))
	o.publish(domain.Notification{
		Topic:     domain.TopicOrder,
		Kind:      "fill",
		Severity:  domain.SeverityInfo,
		Subject:   en.order.ID,
		Message:   string(en.order.Side) + " " + qty.String() + " " + en.symbol + " @ " + price.String(),
		Fields:    map[string]string{"farm": en.farmID, "agent": en.order.AgentID, "status": string(en.order.Status)},
		Timestamp: now,
	})
	return nil
}

// reject marks a pending or submitted order rejected. Callers hold en.mu.
func (o *Orchestrator) reject(en *orderEntry, reason string) {
	if err := en.order.Transition(domain.OrderRejected, o.now()); err != nil {
		o.logger.Error("cannot reject order", zap.String("order", en.order.ID), zap.Error(err))
		return
	}
	en.order.Reason = reason
	o.settle(en)
	o.record(en.order.Clone())

	o.logger.Warn("Order rejected", zap.String("order", en.order.ID), zap.String("reason", reason))
	o.publish(domain.Notification{
		Topic:     domain.TopicOrder,
		Kind:      "rejected",
		Severity:  domain.SeverityWarning,
		Subject:   en.order.ID,
		Message:   reason,
		Fields:    map[string]string{"farm": en.farmID, "agent": en.order.AgentID},
		Timestamp: o.now(),
	})
}

// expire ends a live order. Callers hold en.mu.
func (o *Orchestrator) expire(en *orderEntry, reason string, now time.Time) {
	if err := en.order.Transition(domain.OrderExpired, now); err != nil {
		return
	}
	en.order.Reason = reason
	o.settle(en)
	o.record(en.order.Clone())
	o.logger.Info("Order expired", zap.String("order", en.order.ID), zap.String("reason", reason))
}

// CancelOrder cancels a live order.
func (o *Orchestrator) CancelOrder(id string) (domain.Order, error) {
	en, err := o.lookupOrder(id)
	if err != nil {
		return domain.Order{}, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	if err := o.cancel(en, "cancelled by request"); err != nil {
		return en.order.Clone(), err
	}
	return en.order.Clone(), nil
}

// cancel is the locked part of CancelOrder. Callers hold en.mu.
func (o *Orchestrator) cancel(en *orderEntry, reason string) error {
	if !en.order.Status.Cancellable() {
		return domain.Validation("order %s cannot be cancelled in status %s", en.order.ID, en.order.Status)
	}
	if err := en.order.Transition(domain.OrderCancelled, o.now()); err != nil {
		return domain.Validation("order %s: %v", en.order.ID, err)
	}
	en.order.Reason = reason
	o.settle(en)
	o.record(en.order.Clone())
	o.logger.Info("Order cancelled", zap.String("order", en.order.ID), zap.String("reason", reason))
	return nil
}

// cancelSessionOrders cancels every resting order of a session and returns how many.
func (o *Orchestrator) cancelSessionOrders(sessionID, reason string) int {
	n := 0
	for _, en := range o.openEntries(func(en *orderEntry) bool { return en.sessionID == sessionID }) {
		en.mu.Lock()
		if o.cancel(en, reason) == nil {
			n++
		}
		en.mu.Unlock()
	}
	return n
}

// submitInternal places a market order that bypasses risk checks. It is used
// to close positions on stop-loss, exposure reduction and session stop.
func (o *Orchestrator) submitInternal(s *session, agentID, symbol string, side domain.Side, qty decimal.Decimal, reason string) (domain.Order, error) {
	info := s.snapshot()
	en := o.newEntry(info, OrderSpec{
		AgentID:     agentID,
		Symbol:      symbol,
		Side:        side,
		Type:        domain.OrderTypeMarket,
		Quantity:    qty,
		TimeInForce: domain.TimeInForceIOC,
	})
	en.mu.Lock()
	defer en.mu.Unlock()
	en.order.Reason = reason

	now := o.now()
	if err := en.order.Transition(domain.OrderSubmitted, now); err != nil {
		return en.order.Clone(), domain.ExecutionFailure(err, "submit order %s", en.order.ID)
	}
	err := o.fillMarket(en, now)
	return en.order.Clone(), err
}
