package execution

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/hive/internal/domain"
)

type BreachKind string

const (
	BreachStopLoss BreachKind = "stop_loss"
	BreachExposure BreachKind = "exposure"
)

// Breach is a risk limit crossed by a session during one check.
type Breach struct {
	SessionID string          `json:"session_id"`
	FarmID    string          `json:"farm_id"`
	Kind      BreachKind      `json:"kind"`
	Value     decimal.Decimal `json:"value"`
	Limit     decimal.Decimal `json:"limit"`
	Halted    bool            `json:"halted"`
	Orders    []domain.Order  `json:"orders,omitempty"`
}

// CheckRisk evaluates every active session once.
func (o *Orchestrator) CheckRisk(ctx context.Context) []Breach {
	o.mu.RLock()
	active := make([]*session, 0, len(o.sessions))
	for _, s := range o.sessions {
		if s.status() == SessionActive {
			active = append(active, s)
		}
	}
	o.mu.RUnlock()

	var breaches []Breach
	for _, s := range active {
		if ctx.Err() != nil {
			break
		}
		breaches = append(breaches, o.checkSession(ctx, s)...)
	}
	return breaches
}

func (o *Orchestrator) checkSession(ctx context.Context, s *session) []Breach {
	info := s.snapshot()
	limits := info.Limits

	realized, unrealized, exposure := decimal.Zero, decimal.Zero, decimal.Zero
	for _, p := range o.GetPositions(info.FarmID) {
		realized = realized.Add(p.RealizedPnL)
		unrealized = unrealized.Add(p.UnrealizedPnL)
		exposure = exposure.Add(p.Exposure())
	}
	pnl := realized.Add(unrealized)
	stopLoss := info.Capital.Mul(limits.StopLossPct).Div(hundred)

	lossHit := info.Capital.IsPositive() && pnl.LessThan(stopLoss.Neg())
	dailyHit := unrealized.LessThanOrEqual(limits.MaxDailyLoss.Neg())
	if lossHit || dailyHit {
		limit := stopLoss
		reason := "stop-loss: pnl " + pnl.StringFixed(2) + " below -" + stopLoss.StringFixed(2)
		if !lossHit {
			limit = limits.MaxDailyLoss
			reason = "daily loss: unrealized " + unrealized.StringFixed(2) + " reached -" + limits.MaxDailyLoss.StringFixed(2)
		}
		if !o.halt(s, reason) {
			return nil
		}
		o.cancelSessionOrders(info.ID, reason)
		closing := o.closePositions(ctx, s, decimal.NewFromInt(1), reason)

		o.logger.Warn("Session halted by risk monitor",
			zap.String("session", info.ID),
			zap.String("farm", info.FarmID),
			zap.String("reason", reason),
			zap.Int("closing_orders", len(closing)))
		o.publish(domain.Notification{
			Topic:     domain.TopicRisk,
			Kind:      string(BreachStopLoss),
			Severity:  domain.SeverityCritical,
			Subject:   info.FarmID,
			Message:   reason,
			Fields:    map[string]string{"session": info.ID, "pnl": pnl.StringFixed(2), "limit": limit.StringFixed(2)},
			Timestamp: o.now(),
		})
		return []Breach{{SessionID: info.ID, FarmID: info.FarmID, Kind: BreachStopLoss, Value: pnl, Limit: limit, Halted: true, Orders: closing}}
	}

	if exposure.GreaterThan(limits.MaxFarmExposure) {
		breach := Breach{SessionID: info.ID, FarmID: info.FarmID, Kind: BreachExposure, Value: exposure, Limit: limits.MaxFarmExposure}
		reason := "exposure " + exposure.StringFixed(2) + " above " + limits.MaxFarmExposure.StringFixed(2)
		if limits.AutoReduce {
			fraction := decimal.NewFromInt(1).Sub(limits.MaxFarmExposure.Div(exposure))
			breach.Orders = o.closePositions(ctx, s, fraction, "exposure reduction")
		}

		o.logger.Warn("Farm exposure above limit",
			zap.String("session", info.ID),
			zap.String("farm", info.FarmID),
			zap.String("exposure", exposure.StringFixed(2)),
			zap.Bool("auto_reduce", limits.AutoReduce))
		o.publish(domain.Notification{
			Topic:     domain.TopicRisk,
			Kind:      string(BreachExposure),
			Severity:  domain.SeverityWarning,
			Subject:   info.FarmID,
			Message:   reason,
			Fields:    map[string]string{"session": info.ID, "exposure": exposure.StringFixed(2), "limit": limits.MaxFarmExposure.StringFixed(2)},
			Timestamp: o.now(),
		})
		return []Breach{breach}
	}
	return nil
}

// closePositions trades fraction of every open agent position of the session's farm
// back towards flat.
func (o *Orchestrator) closePositions(_ context.Context, s *session, fraction decimal.Decimal, reason string) []domain.Order {
	info := s.snapshot()
	byAgent := make(map[string][]domain.FillEvent)
	for _, f := range o.farmFills(info.FarmID) {
		byAgent[f.AgentID] = append(byAgent[f.AgentID], f)
	}
	agents := make([]string, 0, len(byAgent))
	for id := range byAgent {
		agents = append(agents, id)
	}
	sort.Strings(agents)

	var orders []domain.Order
	for _, agentID := range agents {
		positions := domain.BuildPositions(byAgent[agentID])
		symbols := make([]string, 0, len(positions))
		for symbol := range positions {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)

		for _, symbol := range symbols {
			p := positions[symbol]
			if !p.IsOpen() {
				continue
			}
			qty := p.Quantity.Abs().Mul(fraction).Truncate(8)
			if !qty.IsPositive() {
				continue
			}
			side := domain.SideSell
			if p.Quantity.IsNegative() {
				side = domain.SideBuy
			}
			order, err := o.submitInternal(s, agentID, symbol, side, qty, reason)
			if err != nil {
				o.logger.Error("failed to close position",
					zap.String("agent", agentID),
					zap.String("symbol", symbol),
					zap.Error(err))
			}
			orders = append(orders, order)
		}
	}
	return orders
}
