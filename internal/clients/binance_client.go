// Package clients builds the exchange SDK clients used for market data.
package clients

import (
	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient returns a Binance client. Empty credentials are enough for
// the public market endpoints.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}
