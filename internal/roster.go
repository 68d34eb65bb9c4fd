package internal

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/hive/internal/domain"
	"github.com/vadiminshakov/hive/internal/services/wallet"
)

type pnlSource interface {
	AgentPnL(agentID string) decimal.Decimal
}

// roster reads farm membership and capital from the wallet hierarchy and agent
// P&L from the execution orchestrator.
type roster struct {
	wallets *wallet.Hierarchy
	pnl     pnlSource
}

func (r *roster) FarmAgents(_ context.Context, farmID string) ([]domain.AgentProfile, error) {
	children, err := r.wallets.Children(farmID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AgentProfile, 0, len(children))
	for _, w := range children {
		if w.Tier != domain.TierAgent {
			continue
		}
		p := domain.AgentProfile{
			ID:      w.ID,
			FarmID:  farmID,
			Role:    w.Role(),
			Capital: w.Balance.Total,
			PnL:     decimal.Zero,
		}
		if w.Agent != nil {
			p.SpecializationWeight = w.Agent.SpecializationWeight
		}
		if r.pnl != nil {
			p.PnL = r.pnl.AgentPnL(w.ID)
		}
		out = append(out, p)
	}
	return out, nil
}
