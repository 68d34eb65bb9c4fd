package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier is the level of a wallet in the capital tree.
type Tier string

const (
	TierMaster Tier = "master"
	TierFarm   Tier = "farm"
	TierAgent  Tier = "agent"
)

// ChildTier returns the tier that may be attached below t.
func (t Tier) ChildTier() (Tier, bool) {
	switch t {
	case TierMaster:
		return TierFarm, true
	case TierFarm:
		return TierAgent, true
	default:
		return "", false
	}
}

func (t Tier) IsValid() bool {
	switch t {
	case TierMaster, TierFarm, TierAgent:
		return true
	}
	return false
}

// Balance holds the capital split of a wallet. Total always equals
// Available + Allocated + Reserved; only master wallets reserve capital.
type Balance struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Allocated decimal.Decimal `json:"allocated"`
	Reserved  decimal.Decimal `json:"reserved"`
}

// Consistent reports whether the balance invariant holds.
func (b Balance) Consistent() bool {
	return b.Total.Equal(b.Available.Add(b.Allocated).Add(b.Reserved))
}

// RiskLimits bound what a wallet's owner may do with its capital.
type RiskLimits struct {
	MaxPositionSize decimal.Decimal `json:"max_position_size"`
	MaxDailyLossPct decimal.Decimal `json:"max_daily_loss_pct"`
	StopLossPct     decimal.Decimal `json:"stop_loss_pct"`
	TakeProfitPct   decimal.Decimal `json:"take_profit_pct"`
	DailyTradeLimit int             `json:"daily_trade_limit"`
}

// Role describes an agent's function inside a farm.
type Role string

const (
	RoleLeader     Role = "leader"
	RoleSpecialist Role = "specialist"
	RoleWorker     Role = "worker"
	RoleMonitor    Role = "monitor"
)

// Multiplier is the role weight used by role-weighted allocation.
func (r Role) Multiplier() decimal.Decimal {
	switch r {
	case RoleLeader:
		return decimal.NewFromFloat(1.5)
	case RoleSpecialist:
		return decimal.NewFromFloat(1.2)
	case RoleMonitor:
		return decimal.NewFromFloat(0.8)
	default:
		return decimal.NewFromInt(1)
	}
}

func (r Role) IsValid() bool {
	switch r {
	case RoleLeader, RoleSpecialist, RoleWorker, RoleMonitor:
		return true
	}
	return false
}

// MasterConfig tunes a master wallet.
type MasterConfig struct {
	EmergencyReservePct decimal.Decimal `json:"emergency_reserve_pct"`
	MaxFarms            int             `json:"max_farms"`
}

// FarmConfig tunes a farm wallet.
type FarmConfig struct {
	MaxAgents       int             `json:"max_agents"`
	MinAgentCapital decimal.Decimal `json:"min_agent_capital"`
	MaxAgentCapital decimal.Decimal `json:"max_agent_capital"`
	MaxDailyLossPct decimal.Decimal `json:"max_daily_loss_pct"`
}

// AgentConfig tunes an agent wallet.
type AgentConfig struct {
	Role                 Role            `json:"role"`
	SpecializationWeight decimal.Decimal `json:"specialization_weight"`
	MaxPositionSize      decimal.Decimal `json:"max_position_size"`
	StopLossPct          decimal.Decimal `json:"stop_loss_pct"`
	TakeProfitPct        decimal.Decimal `json:"take_profit_pct"`
	DailyTradeLimit      int             `json:"daily_trade_limit"`
}

func DefaultMasterConfig() MasterConfig {
	return MasterConfig{EmergencyReservePct: decimal.NewFromInt(15), MaxFarms: 10}
}

func DefaultFarmConfig() FarmConfig {
	return FarmConfig{
		MaxAgents:       8,
		MinAgentCapital: decimal.NewFromInt(500),
		MaxAgentCapital: decimal.NewFromInt(5000),
		MaxDailyLossPct: decimal.NewFromInt(3),
	}
}

func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Role:            RoleWorker,
		MaxPositionSize: decimal.NewFromInt(2000),
		StopLossPct:     decimal.NewFromInt(2),
		TakeProfitPct:   decimal.NewFromInt(4),
		DailyTradeLimit: 30,
	}
}

// Wallet is a node of the capital tree. Exactly one of Master, Farm and Agent
// is set and it matches Tier.
type Wallet struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Tier       Tier       `json:"tier"`
	ParentID   string     `json:"parent_id,omitempty"`
	Balance    Balance    `json:"balance"`
	RiskLimits RiskLimits `json:"risk_limits"`
	CreatedAt  time.Time  `json:"created_at"`

	Master *MasterConfig `json:"master,omitempty"`
	Farm   *FarmConfig   `json:"farm,omitempty"`
	Agent  *AgentConfig  `json:"agent,omitempty"`
}

// IsRoot reports whether w is the root of its hierarchy.
func (w Wallet) IsRoot() bool {
	return w.Tier == TierMaster
}

// MaxChildren returns the configured child limit, zero meaning unlimited.
func (w Wallet) MaxChildren() int {
	switch {
	case w.Master != nil:
		return w.Master.MaxFarms
	case w.Farm != nil:
		return w.Farm.MaxAgents
	}
	return 0
}

// Role returns the agent role, defaulting to worker for non-agent wallets.
func (w Wallet) Role() Role {
	if w.Agent != nil && w.Agent.Role != "" {
		return w.Agent.Role
	}
	return RoleWorker
}

// WalletNode is a wallet with its subtree, as returned by hierarchy reads.
type WalletNode struct {
	Wallet   Wallet       `json:"wallet"`
	Children []WalletNode `json:"children,omitempty"`
}

// Walk visits n and every descendant depth-first.
func (n WalletNode) Walk(fn func(WalletNode)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}
