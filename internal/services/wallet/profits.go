package wallet

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/hive/internal/domain"
)

// Collection is one profit sweep from a child into its parent.
type Collection struct {
	WalletID      string          `json:"wallet_id"`
	ParentID      string          `json:"parent_id"`
	ROI           decimal.Decimal `json:"roi"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id"`
}

// ProfitResult reports one CollectProfits call.
type ProfitResult struct {
	RootID      string          `json:"root_id"`
	Threshold   decimal.Decimal `json:"threshold"`
	Status      string          `json:"status"`
	Total       decimal.Decimal `json:"total"`
	Collections []Collection    `json:"collections,omitempty"`
}

// CollectProfits sweeps total × roi% of every wallet whose ROI reached threshold
// one level up. An invalid threshold means the configured default.
func (h *Hierarchy) CollectProfits(ctx context.Context, rootID string, threshold decimal.NullDecimal) (ProfitResult, error) {
	root, err := h.lockRootOf(rootID)
	if err != nil {
		return ProfitResult{}, err
	}
	defer root.mu.Unlock()

	thr := h.cfg.ProfitThreshold
	if threshold.Valid {
		thr = threshold.Decimal
	}
	res := ProfitResult{RootID: rootID, Threshold: thr, Status: StatusNone, Total: decimal.Zero}

	// leaves first, so agent profits land in the farm before the farm is looked at
	var order []*node
	h.walk(rootID, func(n *node) { order = append(order, n) })

	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		if n.wallet.IsRoot() {
			continue
		}
		perf := h.performance(ctx, n)
		if !perf.ROI.IsPositive() || perf.ROI.LessThan(thr) {
			continue
		}

		amt := decimal.Min(n.wallet.Balance.Total.Mul(perf.ROI).Div(hundred), n.wallet.Balance.Available).Truncate(2)
		if !amt.IsPositive() {
			continue
		}

		parent := h.node(n.wallet.ParentID)
		tx := h.moveUp(n, parent, amt, domain.TxProfitCollection, "profit collection")
		n.principal = n.wallet.Balance.Total
		h.perf.Invalidate(n.wallet.ID)

		res.Collections = append(res.Collections, Collection{
			WalletID:      n.wallet.ID,
			ParentID:      parent.wallet.ID,
			ROI:           perf.ROI,
			Amount:        amt,
			TransactionID: tx.ID,
		})
		res.Total = res.Total.Add(amt)
	}

	if len(res.Collections) > 0 {
		res.Status = StatusCollected
		h.logger.Info("Profits collected",
			zap.String("root", rootID),
			zap.Int("wallets", len(res.Collections)),
			zap.String("total", res.Total.String()))
		h.publish("profit_collection", rootID, "profits swept up the hierarchy", map[string]string{
			"total":     res.Total.String(),
			"threshold": thr.String(),
		})
	}
	return res, nil
}
