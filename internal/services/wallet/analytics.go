package wallet

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/hive/internal/domain"
)

// ChildAnalytics summarizes one direct child.
type ChildAnalytics struct {
	WalletID      string          `json:"wallet_id"`
	Name          string          `json:"name"`
	Tier          domain.Tier     `json:"tier"`
	Total         decimal.Decimal `json:"total"`
	AllocationPct decimal.Decimal `json:"allocation_pct"`
	ROI           decimal.Decimal `json:"roi"`
	Sharpe        decimal.Decimal `json:"sharpe"`
}

// Analytics is the capital and performance overview of a wallet and its children.
type Analytics struct {
	WalletID            string           `json:"wallet_id"`
	TotalValue          decimal.Decimal  `json:"total_value"`
	Available           decimal.Decimal  `json:"available"`
	Allocated           decimal.Decimal  `json:"allocated"`
	AllocatedPct        decimal.Decimal  `json:"allocated_pct"`
	EmergencyReserve    decimal.Decimal  `json:"emergency_reserve"`
	ROI                 decimal.Decimal  `json:"roi"`
	Sharpe              decimal.Decimal  `json:"sharpe"`
	Children            []ChildAnalytics `json:"children"`
	MaxConcentrationPct decimal.Decimal  `json:"max_concentration_pct"`
	NegativeROICount    int              `json:"negative_roi_count"`
	ComputedAt          time.Time        `json:"computed_at"`
}

// GetAnalytics reports totals, per-child performance and concentration risk for a wallet.
func (h *Hierarchy) GetAnalytics(ctx context.Context, walletID string) (Analytics, error) {
	root, err := h.lockRootOf(walletID)
	if err != nil {
		return Analytics{}, err
	}
	defer root.mu.Unlock()

	n := h.node(walletID)
	b := n.wallet.Balance
	perf := h.performance(ctx, n)
	out := Analytics{
		WalletID:            walletID,
		TotalValue:          b.Total,
		Available:           b.Available,
		Allocated:           b.Allocated,
		AllocatedPct:        pct(b.Allocated, b.Total),
		EmergencyReserve:    b.Reserved,
		ROI:                 perf.ROI.Round(2),
		Sharpe:              perf.Sharpe,
		MaxConcentrationPct: decimal.Zero,
		ComputedAt:          h.now(),
	}

	for _, c := range h.childNodes(n) {
		cp := h.performance(ctx, c)
		share := pct(c.wallet.Balance.Total, b.Total)
		out.Children = append(out.Children, ChildAnalytics{
			WalletID:      c.wallet.ID,
			Name:          c.wallet.Name,
			Tier:          c.wallet.Tier,
			Total:         c.wallet.Balance.Total,
			AllocationPct: share,
			ROI:           cp.ROI.Round(2),
			Sharpe:        cp.Sharpe,
		})
		out.MaxConcentrationPct = decimal.Max(out.MaxConcentrationPct, share)
		if cp.ROI.IsNegative() {
			out.NegativeROICount++
		}
	}
	return out, nil
}

func pct(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}
