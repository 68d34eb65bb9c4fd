package execution

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/hive/internal/domain"
)

type PlanStatus string

const (
	PlanExecuted PlanStatus = "executed"
	PlanPartial  PlanStatus = "partial"
	PlanFailed   PlanStatus = "failed"
	PlanNoAction PlanStatus = "no_action"
)

// AgentExecution is the outcome of one agent's share of a plan.
type AgentExecution struct {
	AgentID  string             `json:"agent_id"`
	OrderID  string             `json:"order_id,omitempty"`
	Status   domain.OrderStatus `json:"status,omitempty"`
	Quantity decimal.Decimal    `json:"quantity"`
	Price    decimal.Decimal    `json:"price"`
	Fees     decimal.Decimal    `json:"fees"`
	Error    string             `json:"error,omitempty"`
}

// PlanResult aggregates the orders placed for a coordinated decision.
type PlanResult struct {
	SessionID     string           `json:"session_id"`
	Symbol        string           `json:"symbol,omitempty"`
	Action        domain.Action    `json:"action,omitempty"`
	Status        PlanStatus       `json:"status"`
	TotalQuantity decimal.Decimal  `json:"total_quantity"`
	AveragePrice  decimal.Decimal  `json:"average_price"`
	Agents        []AgentExecution `json:"agents,omitempty"`
}

// ExecutePlan places one market order per allocation of decision, concurrently.
func (o *Orchestrator) ExecutePlan(ctx context.Context, sessionID string, decision domain.Decision) (PlanResult, error) {
	s, err := o.lookupSession(sessionID)
	if err != nil {
		return PlanResult{}, err
	}
	res := PlanResult{
		SessionID:     sessionID,
		Symbol:        decision.Symbol,
		Action:        decision.Action,
		Status:        PlanNoAction,
		TotalQuantity: decimal.Zero,
		AveragePrice:  decimal.Zero,
	}
	if !decision.Executable() {
		return res, nil
	}
	side, ok := decision.Action.Side()
	if !ok {
		return res, nil
	}
	if decision.Symbol == "" {
		return PlanResult{}, domain.Validation("plan has no symbol")
	}
	farmID := s.snapshot().FarmID

	res.Agents = make([]AgentExecution, len(decision.Allocations))
	var g errgroup.Group
	for i, alloc := range decision.Allocations {
		g.Go(func() error {
			ae := AgentExecution{AgentID: alloc.AgentID, Quantity: decimal.Zero, Price: decimal.Zero, Fees: decimal.Zero}
			if !alloc.Quantity.IsPositive() {
				res.Agents[i] = ae
				return nil
			}
			order, err := o.SubmitOrder(ctx, OrderSpec{
				SessionID: sessionID,
				FarmID:    farmID,
				AgentID:   alloc.AgentID,
				Symbol:    decision.Symbol,
				Side:      side,
				Type:      domain.OrderTypeMarket,
				Quantity:  alloc.Quantity,
			})
			ae.OrderID = order.ID
			ae.Status = order.Status
			if err != nil {
				ae.Error = err.Error()
			} else {
				ae.Quantity = order.FilledQuantity
				ae.Price = order.AvgFillPrice
				ae.Fees = order.Fees
			}
			res.Agents[i] = ae
			return nil
		})
	}
	_ = g.Wait()

	notional := decimal.Zero
	failed := 0
	for _, ae := range res.Agents {
		if ae.Error != "" {
			failed++
			continue
		}
		res.TotalQuantity = res.TotalQuantity.Add(ae.Quantity)
		notional = notional.Add(ae.Quantity.Mul(ae.Price))
	}
	if res.TotalQuantity.IsPositive() {
		res.AveragePrice = notional.Div(res.TotalQuantity)
	}
	switch {
	case failed == 0:
		res.Status = PlanExecuted
	case failed == len(res.Agents):
		res.Status = PlanFailed
	default:
		res.Status = PlanPartial
	}

	o.logger.Info("Plan executed",
		zap.String("session", sessionID),
		zap.String("symbol", decision.Symbol),
		zap.String("action", string(decision.Action)),
		zap.String("status", string(res.Status)),
		zap.String("quantity", res.TotalQuantity.String()),
		zap.String("avg_price", res.AveragePrice.String()),
		zap.Int("failed", failed))
	return res, nil
}
