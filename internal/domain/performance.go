package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Performance is the quality signal of a wallet used for weighting and profit sweeps.
// ROI is in percent units.
type Performance struct {
	WalletID   string          `json:"wallet_id"`
	ROI        decimal.Decimal `json:"roi"`
	Sharpe     decimal.Decimal `json:"sharpe"`
	ComputedAt time.Time       `json:"computed_at"`
}

// Score is roi + sharpe, the raw performance weight.
func (p Performance) Score() decimal.Decimal {
	return p.ROI.Add(p.Sharpe)
}

// EquityPoint is one observation on a wallet's equity curve.
type EquityPoint struct {
	At    time.Time       `json:"at"`
	Value decimal.Decimal `json:"value"`
}
