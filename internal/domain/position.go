package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Position is the net exposure of a farm (or agent) in one symbol. It is derived
// from fills and never stored on its own. Quantity is signed: negative is short.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	MarketPrice   decimal.Decimal `json:"market_price"`
	ClosedTrades  int             `json:"closed_trades"`
	WinningTrades int             `json:"winning_trades"`
}

// Apply folds a fill into the position and returns the P&L it realized.
// Fills in the direction of the position move the VWAP entry; opposite fills
// realize P&L at the entry price and flip the position when they overshoot.
func (p *Position) Apply(side Side, qty, price decimal.Decimal) decimal.Decimal {
	signed := qty.Mul(side.Sign())

	if p.Quantity.IsZero() || p.Quantity.Sign() == signed.Sign() {
		existingNotional := p.AvgPrice.Mul(p.Quantity.Abs())
		addedNotional := price.Mul(qty)
		p.Quantity = p.Quantity.Add(signed)
		p.AvgPrice = existingNotional.Add(addedNotional).Div(p.Quantity.Abs())
		return decimal.Zero
	}

	closing := decimal.Min(qty, p.Quantity.Abs())
	// long closes earn price - entry, short closes earn entry - price
	realized := price.Sub(p.AvgPrice).Mul(closing).Mul(decimal.NewFromInt(int64(p.Quantity.Sign())))
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.ClosedTrades++
	if realized.IsPositive() {
		p.WinningTrades++
	}

	p.Quantity = p.Quantity.Add(signed)
	switch {
	case p.Quantity.IsZero():
		p.AvgPrice = decimal.Zero
	case qty.GreaterThan(closing):
		p.AvgPrice = price
	}
	return realized
}

// Mark sets the reference price and recomputes unrealized P&L.
func (p *Position) Mark(price decimal.Decimal) {
	p.MarketPrice = price
	if p.Quantity.IsZero() || price.IsZero() {
		p.UnrealizedPnL = decimal.Zero
		return
	}
	p.UnrealizedPnL = price.Sub(p.AvgPrice).Mul(p.Quantity)
}

// Exposure is the absolute market value of the position.
func (p *Position) Exposure() decimal.Decimal {
	price := p.MarketPrice
	if price.IsZero() {
		price = p.AvgPrice
	}
	return p.Quantity.Abs().Mul(price)
}

// IsOpen reports whether the position carries quantity.
func (p *Position) IsOpen() bool {
	return p != nil && !p.Quantity.IsZero()
}

// FillEvent is a fill tagged with the order fields needed to rebuild positions.
type FillEvent struct {
	OrderID string
	AgentID string
	Symbol  string
	Side    Side
	Fill
}

// BuildPositions replays fills in time order into per-symbol positions.
func BuildPositions(fills []FillEvent) map[string]*Position {
	sorted := append([]FillEvent(nil), fills...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].At.Before(sorted[j].At)
	})

	positions := make(map[string]*Position)
	for _, f := range sorted {
		pos, ok := positions[f.Symbol]
		if !ok {
			pos = &Position{Symbol: f.Symbol}
			positions[f.Symbol] = pos
		}
		pos.Apply(f.Side, f.Quantity, f.Price)
	}
	return positions
}
