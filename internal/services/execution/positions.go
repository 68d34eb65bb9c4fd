package execution

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/hive/internal/domain"
)

var hundred = decimal.NewFromInt(100)

func (o *Orchestrator) farmFills(farmID string) []domain.FillEvent {
	o.fillsMu.RLock()
	defer o.fillsMu.RUnlock()
	return append([]domain.FillEvent(nil), o.fills[farmID]...)
}

func (o *Orchestrator) agentFills(agentID string) []domain.FillEvent {
	o.fillsMu.RLock()
	defer o.fillsMu.RUnlock()
	var out []domain.FillEvent
	for _, fills := range o.fills {
		for _, f := range fills {
			if f.AgentID == agentID {
				out = append(out, f)
			}
		}
	}
	return out
}

// marked rebuilds positions from fills and marks them to the latest prices.
func (o *Orchestrator) marked(fills []domain.FillEvent) []domain.Position {
	positions := domain.BuildPositions(fills)
	out := make([]domain.Position, 0, len(positions))
	for symbol, p := range positions {
		if tick, ok := o.LatestTick(symbol); ok {
			p.Mark(tick.Price)
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// GetPositions returns the farm's positions per symbol, flat ones included.
func (o *Orchestrator) GetPositions(farmID string) []domain.Position {
	return o.marked(o.farmFills(farmID))
}

// AgentPositions returns the positions built from one agent's fills.
func (o *Orchestrator) AgentPositions(agentID string) []domain.Position {
	return o.marked(o.agentFills(agentID))
}

// AgentPnL is the realized plus unrealized P&L of an agent.
func (o *Orchestrator) AgentPnL(agentID string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range o.AgentPositions(agentID) {
		total = total.Add(p.RealizedPnL).Add(p.UnrealizedPnL)
	}
	return total
}

func (o *Orchestrator) realizedPnL(agentID string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range domain.BuildPositions(o.agentFills(agentID)) {
		total = total.Add(p.RealizedPnL)
	}
	return total
}

func (o *Orchestrator) unrealizedPnL(farmID string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range o.GetPositions(farmID) {
		total = total.Add(p.UnrealizedPnL)
	}
	return total
}

// Performance is the execution report of a farm.
type Performance struct {
	FarmID          string          `json:"farm_id"`
	TotalOrders     int             `json:"total_orders"`
	FilledOrders    int             `json:"filled_orders"`
	CancelledOrders int             `json:"cancelled_orders"`
	RejectedOrders  int             `json:"rejected_orders"`
	ExpiredOrders   int             `json:"expired_orders"`
	OpenOrders      int             `json:"open_orders"`
	Volume          decimal.Decimal `json:"volume"`
	Fees            decimal.Decimal `json:"fees"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`
	Exposure        decimal.Decimal `json:"exposure"`
	OpenPositions   int             `json:"open_positions"`
	WinRate         decimal.Decimal `json:"win_rate"`
	SuccessRate     decimal.Decimal `json:"success_rate"`
	AvgFillTime     time.Duration   `json:"avg_fill_time"`
}

// GetPerformance summarizes the farm's orders, fills and positions.
func (o *Orchestrator) GetPerformance(farmID string) Performance {
	perf := Performance{
		FarmID:        farmID,
		Volume:        decimal.Zero,
		Fees:          decimal.Zero,
		RealizedPnL:   decimal.Zero,
		UnrealizedPnL: decimal.Zero,
		Exposure:      decimal.Zero,
		WinRate:       decimal.Zero,
		SuccessRate:   decimal.Zero,
	}

	var fillTime time.Duration
	for _, order := range o.Orders(farmID) {
		perf.TotalOrders++
		switch order.Status {
		case domain.OrderFilled:
			perf.FilledOrders++
			fillTime += order.FilledAt.Sub(order.SubmittedAt)
		case domain.OrderCancelled:
			perf.CancelledOrders++
		case domain.OrderRejected:
			perf.RejectedOrders++
		case domain.OrderExpired:
			perf.ExpiredOrders++
		default:
			perf.OpenOrders++
		}
	}
	if perf.FilledOrders > 0 {
		perf.AvgFillTime = fillTime / time.Duration(perf.FilledOrders)
	}
	if perf.TotalOrders > 0 {
		perf.SuccessRate = decimal.NewFromInt(int64(perf.FilledOrders)).
			Div(decimal.NewFromInt(int64(perf.TotalOrders))).Mul(hundred).Round(2)
	}

	for _, f := range o.farmFills(farmID) {
		perf.Volume = perf.Volume.Add(f.Quantity.Mul(f.Price))
		perf.Fees = perf.Fees.Add(f.Fee)
	}

	closed, wins := 0, 0
	for _, p := range o.GetPositions(farmID) {
		perf.RealizedPnL = perf.RealizedPnL.Add(p.RealizedPnL)
		perf.UnrealizedPnL = perf.UnrealizedPnL.Add(p.UnrealizedPnL)
		perf.Exposure = perf.Exposure.Add(p.Exposure())
		if p.IsOpen() {
			perf.OpenPositions++
		}
		closed += p.ClosedTrades
		wins += p.WinningTrades
	}
	perf.TotalPnL = perf.RealizedPnL.Add(perf.UnrealizedPnL)
	if closed > 0 {
		perf.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(closed))).Mul(hundred).Round(2)
	}
	return perf
}
