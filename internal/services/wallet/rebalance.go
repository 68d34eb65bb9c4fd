package wallet

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/hive/internal/domain"
)

// Move is one capital transfer made by a rebalance.
type Move struct {
	FromWallet    string          `json:"from_wallet"`
	ToWallet      string          `json:"to_wallet"`
	Amount        decimal.Decimal `json:"amount"`
	CurrentPct    decimal.Decimal `json:"current_pct"`
	TargetPct     decimal.Decimal `json:"target_pct"`
	TransactionID string          `json:"transaction_id"`
}

// RebalanceResult reports one Rebalance call.
type RebalanceResult struct {
	RootID string `json:"root_id"`
	Status string `json:"status"`
	Moves  []Move `json:"moves,omitempty"`
}

const maxRebalancePasses = 8

type rebalanceTarget struct {
	child      *node
	target     decimal.Decimal
	currentPct decimal.Decimal
	targetPct  decimal.Decimal
}

// Rebalance moves capital between parents and children whose allocation drifted
// more than the threshold away from the performance-weighted target.
func (h *Hierarchy) Rebalance(ctx context.Context, rootID string, force bool) (RebalanceResult, error) {
	root, err := h.lockRootOf(rootID)
	if err != nil {
		return RebalanceResult{}, err
	}
	defer root.mu.Unlock()

	if !h.node(rootID).wallet.IsRoot() {
		return RebalanceResult{}, domain.Validation("rebalance runs on master wallets, %s is not one", rootID)
	}

	res := RebalanceResult{RootID: rootID, Status: StatusBalanced}
	now := h.now()
	if !force && !root.lastRebalance.IsZero() && now.Sub(root.lastRebalance) < h.cfg.RebalanceInterval {
		res.Status = StatusSkipped
		return res, nil
	}
	root.lastRebalance = now

	// Capital an agent returns to its farm only reaches the master on the next
	// walk, so passes repeat until one of them moves nothing.
	for range maxRebalancePasses {
		var pass []Move
		h.walk(rootID, func(parent *node) {
			pass = append(pass, h.rebalanceChildren(ctx, parent)...)
		})
		if len(pass) == 0 {
			break
		}
		res.Moves = append(res.Moves, pass...)
	}

	if len(res.Moves) > 0 {
		res.Status = StatusRebalanced
		h.logger.Info("Hierarchy rebalanced", zap.String("root", rootID), zap.Int("moves", len(res.Moves)))
		h.publish("rebalance", rootID, "hierarchy rebalanced", map[string]string{
			"moves": strconv.Itoa(len(res.Moves)),
		})
	}
	return res, nil
}

// rebalanceChildren collects from over-allocated children first so that the
// freed capital can fund the under-allocated ones.
func (h *Hierarchy) rebalanceChildren(ctx context.Context, parent *node) []Move {
	children := h.childNodes(parent)
	total := parent.wallet.Balance.Total
	if len(children) == 0 || !total.IsPositive() {
		return nil
	}

	deployable := total.Sub(parent.wallet.Balance.Reserved)
	count := decimal.NewFromInt(int64(len(children)))
	capAmount := decimal.Max(total.Mul(h.cfg.MaxAllocationPct).Div(hundred), deployable.Div(count))
	targets := split(deployable, h.weights(ctx, children))

	plan := make([]rebalanceTarget, 0, len(children))
	for i, c := range children {
		target := decimal.Min(targets[i], capAmount)
		if parent.wallet.Farm != nil && parent.wallet.Farm.MaxAgentCapital.IsPositive() {
			target = decimal.Min(target, parent.wallet.Farm.MaxAgentCapital)
		}
		target = target.Truncate(2)
		plan = append(plan, rebalanceTarget{
			child:      c,
			target:     target,
			currentPct: c.wallet.Balance.Total.Div(total).Mul(hundred).Round(2),
			targetPct:  target.Div(total).Mul(hundred).Round(2),
		})
	}

	var moves []Move
	for _, p := range plan {
		if !h.drifted(p) || p.target.GreaterThanOrEqual(p.child.wallet.Balance.Total) {
			continue
		}
		amt := decimal.Min(p.child.wallet.Balance.Total.Sub(p.target), p.child.wallet.Balance.Available)
		if !amt.IsPositive() {
			continue
		}
		tx := h.moveUp(p.child, parent, amt, domain.TxRebalance, "rebalance collection")
		p.child.principal = decimal.Max(decimal.Zero, p.child.principal.Sub(amt))
		moves = append(moves, Move{
			FromWallet:    p.child.wallet.ID,
			ToWallet:      parent.wallet.ID,
			Amount:        amt,
			CurrentPct:    p.currentPct,
			TargetPct:     p.targetPct,
			TransactionID: tx.ID,
		})
	}
	for _, p := range plan {
		if !h.drifted(p) || p.target.LessThanOrEqual(p.child.wallet.Balance.Total) {
			continue
		}
		amt := decimal.Min(p.target.Sub(p.child.wallet.Balance.Total), parent.wallet.Balance.Available)
		if !amt.IsPositive() {
			continue
		}
		tx := h.moveDown(parent, p.child, amt, domain.TxRebalance, "rebalance top-up")
		moves = append(moves, Move{
			FromWallet:    parent.wallet.ID,
			ToWallet:      p.child.wallet.ID,
			Amount:        amt,
			CurrentPct:    p.currentPct,
			TargetPct:     p.targetPct,
			TransactionID: tx.ID,
		})
	}
	return moves
}

func (h *Hierarchy) drifted(p rebalanceTarget) bool {
	return p.targetPct.Sub(p.currentPct).Abs().GreaterThan(h.cfg.RebalanceThreshold)
}
