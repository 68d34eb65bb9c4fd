package agents

import (
	"context"
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/hive/internal/domain"
)

// History supplies recent closing prices of a symbol, oldest first.
type History interface {
	Closes(ctx context.Context, symbol string, limit int) ([]decimal.Decimal, error)
}

type RSIConfig struct {
	Period     int
	Oversold   decimal.Decimal
	Overbought decimal.Decimal
	// Notional is the quote amount an agent proposes to trade.
	Notional decimal.Decimal
}

func DefaultRSIConfig() RSIConfig {
	return RSIConfig{
		Period:     14,
		Oversold:   decimal.NewFromInt(30),
		Overbought: decimal.NewFromInt(70),
		Notional:   decimal.NewFromInt(1000),
	}
}

// RSI buys oversold and sells overbought markets.
type RSI struct {
	cfg     RSIConfig
	history History
}

func NewRSI(cfg RSIConfig, history History) *RSI {
	def := DefaultRSIConfig()
	if cfg.Period <= 1 {
		cfg.Period = def.Period
	}
	if !cfg.Oversold.IsPositive() {
		cfg.Oversold = def.Oversold
	}
	if !cfg.Overbought.IsPositive() {
		cfg.Overbought = def.Overbought
	}
	if !cfg.Notional.IsPositive() {
		cfg.Notional = def.Notional
	}
	return &RSI{cfg: cfg, history: history}
}

func (r *RSI) Propose(ctx context.Context, agentID string, dc domain.DecisionContext) (domain.Proposal, error) {
	closes, err := r.history.Closes(ctx, dc.Symbol, r.cfg.Period*4)
	if err != nil {
		return domain.Proposal{}, errors.Wrapf(err, "price history of %s", dc.Symbol)
	}
	hold := domain.Proposal{AgentID: agentID, Action: domain.ActionHold, Symbol: dc.Symbol, Confidence: decimal.Zero}
	if len(closes) < r.cfg.Period+1 {
		hold.Reasoning = fmt.Sprintf("need %d prices, have %d", r.cfg.Period+1, len(closes))
		return hold, nil
	}

	value, err := lastRSI(closes, r.cfg.Period)
	if err != nil {
		return domain.Proposal{}, err
	}

	price := dc.CurrentPrice
	if !price.IsPositive() {
		price = closes[len(closes)-1]
	}
	fifty := decimal.NewFromInt(50)
	confidence := value.Sub(fifty).Abs().Div(fifty).Round(4)

	p := domain.Proposal{
		AgentID:    agentID,
		Symbol:     dc.Symbol,
		Price:      price,
		Quantity:   r.cfg.Notional.Div(price).Truncate(8),
		Confidence: confidence,
	}
	switch {
	case value.LessThanOrEqual(r.cfg.Oversold):
		p.Action = domain.ActionBuy
		p.Reasoning = "RSI " + value.StringFixed(2) + " oversold"
	case value.GreaterThanOrEqual(r.cfg.Overbought):
		p.Action = domain.ActionSell
		p.Reasoning = "RSI " + value.StringFixed(2) + " overbought"
	default:
		hold.Reasoning = "RSI " + value.StringFixed(2) + " neutral"
		hold.Confidence = decimal.NewFromInt(1).Sub(confidence)
		return hold, nil
	}
	return p, nil
}

func lastRSI(closes []decimal.Decimal, period int) (decimal.Decimal, error) {
	in := make([]float64, len(closes))
	for i, c := range closes {
		in[i] = c.InexactFloat64()
	}
	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(in)))
	if len(out) == 0 {
		return decimal.Zero, errors.Errorf("RSI(%d) produced no values from %d prices", period, len(closes))
	}
	last := out[len(out)-1]
	if math.IsNaN(last) || math.IsInf(last, 0) {
		// flat series: no gains and no losses
		return decimal.NewFromInt(50), nil
	}
	return decimal.NewFromFloat(last), nil
}
