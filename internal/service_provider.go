package internal

import (
	"fmt"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"

	"github.com/vadiminshakov/hive/config"
	"github.com/vadiminshakov/hive/internal/clients"
	"github.com/vadiminshakov/hive/internal/services/marketdata"
)

// serviceProvider creates the market data services of one exchange.
type serviceProvider interface {
	Pricer() marketdata.Pricer
	// CandleSource returns nil for exchanges without a candle endpoint wired.
	CandleSource() marketdata.CandleSource
}

// newClient creates the exchange client of a market data source. Credentials are
// optional: every endpoint used is public.
func newClient(md config.MarketData) (any, error) {
	switch md.Source {
	case config.SourceBinance:
		return clients.NewBinanceClient(md.APIKey, md.APISecret), nil
	case config.SourceBybit:
		return clients.NewBybitClient(md.APIKey, md.APISecret), nil
	case config.SourceHyperliquid:
		return clients.NewHyperliquidClient(md.HyperliquidPrivateKey, md.HyperliquidURL)
	default:
		return nil, fmt.Errorf("unsupported market data source: %s", md.Source)
	}
}

// newServiceProvider dispatches on the client type.
func newServiceProvider(client any) (serviceProvider, error) {
	switch c := client.(type) {
	case *binance.Client:
		return &binanceProvider{pricer: marketdata.NewBinancePricer(c)}, nil
	case *bybit.Client:
		return &bybitProvider{pricer: marketdata.NewBybitPricer(c)}, nil
	case *clients.HyperliquidClient:
		return &hyperliquidProvider{pricer: marketdata.NewHyperliquidPricer(c.Info())}, nil
	default:
		return nil, fmt.Errorf("unsupported client type: %T", client)
	}
}

type binanceProvider struct {
	pricer *marketdata.BinancePricer
}

func (p *binanceProvider) Pricer() marketdata.Pricer             { return p.pricer }
func (p *binanceProvider) CandleSource() marketdata.CandleSource { return p.pricer }

type bybitProvider struct {
	pricer *marketdata.BybitPricer
}

func (p *bybitProvider) Pricer() marketdata.Pricer             { return p.pricer }
func (p *bybitProvider) CandleSource() marketdata.CandleSource { return nil }

type hyperliquidProvider struct {
	pricer *marketdata.HyperliquidPricer
}

func (p *hyperliquidProvider) Pricer() marketdata.Pricer             { return p.pricer }
func (p *hyperliquidProvider) CandleSource() marketdata.CandleSource { return p.pricer }
