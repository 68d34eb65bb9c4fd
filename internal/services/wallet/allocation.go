package wallet

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/hive/internal/domain"
)

// Strategy selects how a parent splits its capital between children.
type Strategy string

const (
	StrategyEqual               Strategy = "equal"
	StrategyPerformanceWeighted Strategy = "performance_weighted"
	StrategyRoleWeighted        Strategy = "role_weighted"
)

func (s Strategy) IsValid() bool {
	switch s {
	case StrategyEqual, StrategyPerformanceWeighted, StrategyRoleWeighted:
		return true
	}
	return false
}

// minWeight is the floor of a performance weight, so that losing children keep some capital.
var minWeight = decimal.NewFromFloat(0.1)

// Result statuses.
const (
	StatusAllocated  = "allocated"
	StatusNoop       = "noop"
	StatusRebalanced = "rebalanced"
	StatusBalanced   = "balanced"
	StatusSkipped    = "skipped"
	StatusCollected  = "collected"
	StatusNone       = "none"
)

// ChildAllocation is the capital one child received.
type ChildAllocation struct {
	WalletID      string          `json:"wallet_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

// AllocationResult reports one Allocate call.
type AllocationResult struct {
	ParentID    string            `json:"parent_id"`
	Strategy    Strategy          `json:"strategy"`
	Status      string            `json:"status"`
	Allocatable decimal.Decimal   `json:"allocatable"`
	Total       decimal.Decimal   `json:"total"`
	Allocations []ChildAllocation `json:"allocations,omitempty"`
}

// Allocate distributes the parent's available capital among its children.
// Running out of capital is a noop result, not an error.
func (h *Hierarchy) Allocate(ctx context.Context, parentID string, strategy Strategy) (AllocationResult, error) {
	if !strategy.IsValid() {
		return AllocationResult{}, domain.Validation("unknown allocation strategy %q", strategy)
	}
	root, err := h.lockRootOf(parentID)
	if err != nil {
		return AllocationResult{}, err
	}
	defer root.mu.Unlock()

	parent := h.node(parentID)
	children := h.childNodes(parent)
	allocatable := parent.wallet.Balance.Available
	res := AllocationResult{
		ParentID:    parentID,
		Strategy:    strategy,
		Status:      StatusNoop,
		Allocatable: allocatable,
		Total:       decimal.Zero,
	}
	if len(children) == 0 || !allocatable.IsPositive() {
		return res, nil
	}

	count := decimal.NewFromInt(int64(len(children)))
	equalShare := allocatable.Div(count)
	capAmount := decimal.Max(parent.wallet.Balance.Total.Mul(h.cfg.MaxAllocationPct).Div(hundred), equalShare)

	var amounts []decimal.Decimal
	switch strategy {
	case StrategyEqual:
		for range children {
			amounts = append(amounts, equalShare)
		}
	case StrategyPerformanceWeighted:
		amounts = split(allocatable, h.weights(ctx, children))
	case StrategyRoleWeighted:
		sum := decimal.Zero
		for _, c := range children {
			amt := equalShare.Mul(c.wallet.Role().Multiplier())
			amounts = append(amounts, amt)
			sum = sum.Add(amt)
		}
		if sum.GreaterThan(allocatable) {
			for i := range amounts {
				amounts[i] = amounts[i].Mul(allocatable).Div(sum)
			}
		}
	}

	remaining := allocatable
	for i, c := range children {
		amt := decimal.Min(amounts[i], capAmount, remaining)
		amt = h.limitForAgent(parent, c, amt).Truncate(2)
		if !amt.IsPositive() {
			continue
		}
		if parent.wallet.Farm != nil && amt.LessThan(parent.wallet.Farm.MinAgentCapital) {
			h.logger.Debug("allocation below agent minimum skipped",
				zap.String("agent", c.wallet.ID), zap.String("amount", amt.String()))
			continue
		}

		tx := h.moveDown(parent, c, amt, domain.TxAllocation, string(strategy)+" allocation")
		res.Allocations = append(res.Allocations, ChildAllocation{WalletID: c.wallet.ID, Amount: amt, TransactionID: tx.ID})
		res.Total = res.Total.Add(amt)
		remaining = remaining.Sub(amt)
	}

	if res.Total.IsPositive() {
		res.Status = StatusAllocated
		h.logger.Info("Capital allocated",
			zap.String("parent", parentID),
			zap.String("strategy", string(strategy)),
			zap.Int("children", len(res.Allocations)),
			zap.String("total", res.Total.String()))
		h.publish("allocation", parentID, "capital allocated to children", map[string]string{
			"strategy": string(strategy),
			"total":    res.Total.String(),
		})
	}
	return res, nil
}

// limitForAgent keeps an agent within its farm's per-agent capital ceiling.
func (h *Hierarchy) limitForAgent(parent, child *node, amount decimal.Decimal) decimal.Decimal {
	if parent.wallet.Farm == nil || !parent.wallet.Farm.MaxAgentCapital.IsPositive() {
		return amount
	}
	room := parent.wallet.Farm.MaxAgentCapital.Sub(child.wallet.Balance.Total)
	return decimal.Max(decimal.Zero, decimal.Min(amount, room))
}

// weights returns max(roi + sharpe, 0.1) for every child.
func (h *Hierarchy) weights(ctx context.Context, children []*node) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(children))
	for _, c := range children {
		out = append(out, decimal.Max(h.performance(ctx, c).Score(), minWeight))
	}
	return out
}

// split divides amount proportionally to weights.
func split(amount decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	out := make([]decimal.Decimal, len(weights))
	for i, w := range weights {
		if sum.IsZero() {
			out[i] = decimal.Zero
			continue
		}
		out[i] = amount.Mul(w).Div(sum)
	}
	return out
}
