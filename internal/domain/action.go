package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is an agent's trading recommendation.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// IsValid checks if the string is a known action.
func (a Action) IsValid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// Side converts a trading action into an order side.
func (a Action) Side() (Side, bool) {
	switch a {
	case ActionBuy:
		return SideBuy, true
	case ActionSell:
		return SideSell, true
	}
	return "", false
}

// DecisionContext is what an agent is asked to decide on.
type DecisionContext struct {
	FarmID       string          `json:"farm_id"`
	Symbol       string          `json:"symbol"`
	Action       Action          `json:"action,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// Proposal is a single agent's recommendation for one coordination round.
type Proposal struct {
	AgentID    string          `json:"agent_id"`
	Action     Action          `json:"action"`
	Symbol     string          `json:"symbol"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Confidence decimal.Decimal `json:"confidence"`
	Reasoning  string          `json:"reasoning,omitempty"`
	TimedOut   bool            `json:"timed_out,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// ImplicitHold stands in for an agent that failed to answer in time.
func ImplicitHold(agentID, symbol, reason string) Proposal {
	return Proposal{
		AgentID:    agentID,
		Action:     ActionHold,
		Symbol:     symbol,
		Quantity:   decimal.Zero,
		Price:      decimal.Zero,
		Confidence: decimal.Zero,
		Reasoning:  reason,
		TimedOut:   true,
		ReceivedAt: time.Now(),
	}
}

// AgentProfile is the coordination view of an agent: its capital and track record.
type AgentProfile struct {
	ID                   string          `json:"id"`
	FarmID               string          `json:"farm_id"`
	Role                 Role            `json:"role"`
	SpecializationWeight decimal.Decimal `json:"specialization_weight"`
	Capital              decimal.Decimal `json:"capital"`
	PnL                  decimal.Decimal `json:"pnl"`
}
