package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketTick is the latest quote of a symbol.
type MarketTick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewTick builds a tick around price with a symmetric 0.1% spread.
func NewTick(symbol string, price, volume decimal.Decimal, at time.Time) MarketTick {
	return MarketTick{
		Symbol:    symbol,
		Price:     price,
		Bid:       price.Mul(decimal.NewFromFloat(0.999)),
		Ask:       price.Mul(decimal.NewFromFloat(1.001)),
		Volume:    volume,
		Timestamp: at,
	}
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime  time.Time       `json:"open_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	CloseTime time.Time       `json:"close_time"`
}
