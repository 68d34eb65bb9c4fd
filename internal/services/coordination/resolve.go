package coordination

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/hive/internal/domain"
)

const quantityPlaces = 8

// Resolve turns the proposals of one round into a decision. Proposals must hold
// one entry per participant, with implicit holds for agents that did not answer.
func Resolve(mode domain.Mode, dc domain.DecisionContext, proposals []domain.Proposal, agents []domain.AgentProfile, threshold decimal.Decimal) domain.Decision {
	var d domain.Decision
	switch mode {
	case domain.ModeAutonomous:
		d = domain.Decision{Outcome: domain.OutcomeAutonomous, Reason: "agents trade independently"}
	case domain.ModeConsensus:
		d = resolveConsensus(proposals, threshold)
	case domain.ModeHierarchical:
		d = resolveHierarchical(proposals, agents)
	case domain.ModeDistributed:
		d = resolveDistributed(dc, agents)
	default:
		mode = domain.ModeCollaborative
		d = resolveCollaborative(proposals)
	}

	d.Mode = mode
	d.Symbol = dc.Symbol
	d.Votes = tally(proposals)
	return d
}

func tally(proposals []domain.Proposal) map[domain.Action]int {
	votes := map[domain.Action]int{}
	for _, p := range proposals {
		votes[p.Action]++
	}
	return votes
}

func noAction(reason string) domain.Decision {
	return domain.Decision{Outcome: domain.OutcomeNoAction, Reason: reason}
}

// plan builds an executable decision from the proposals of one side.
func plan(action domain.Action, proposals []domain.Proposal) domain.Decision {
	d := domain.Decision{Outcome: domain.OutcomeExecute, Action: action}
	notional := decimal.Zero
	total := decimal.Zero
	for _, p := range proposals {
		if p.Action != action || !p.Quantity.IsPositive() {
			continue
		}
		d.Allocations = append(d.Allocations, domain.AgentAllocation{
			AgentID:     p.AgentID,
			Action:      action,
			Quantity:    p.Quantity,
			TargetPrice: p.Price,
		})
		total = total.Add(p.Quantity)
		notional = notional.Add(p.Quantity.Mul(p.Price))
	}
	if !total.IsPositive() {
		return noAction(fmt.Sprintf("%s proposals carry no quantity", action))
	}
	d.TotalQuantity = total
	d.AveragePrice = notional.Div(total)
	return d
}

// resolveConsensus executes the action that reached threshold × participants votes.
func resolveConsensus(proposals []domain.Proposal, threshold decimal.Decimal) domain.Decision {
	if len(proposals) == 0 {
		return noAction("no participants")
	}
	votes := tally(proposals)
	required := threshold.Mul(decimal.NewFromInt(int64(len(proposals))))

	for _, action := range []domain.Action{domain.ActionBuy, domain.ActionSell} {
		if decimal.NewFromInt(int64(votes[action])).GreaterThanOrEqual(required) {
			return plan(action, proposals)
		}
	}
	return noAction(fmt.Sprintf("no consensus: buy %d, sell %d, hold %d of %d",
		votes[domain.ActionBuy], votes[domain.ActionSell], votes[domain.ActionHold], len(proposals)))
}

// LeadAgent returns the agent with the highest P&L, the smallest id winning ties.
func LeadAgent(agents []domain.AgentProfile) (domain.AgentProfile, bool) {
	if len(agents) == 0 {
		return domain.AgentProfile{}, false
	}
	lead := agents[0]
	for _, a := range agents[1:] {
		if c := a.PnL.Cmp(lead.PnL); c > 0 || (c == 0 && a.ID < lead.ID) {
			lead = a
		}
	}
	return lead, true
}

// resolveHierarchical follows the lead agent and spreads its quantity by capital share.
func resolveHierarchical(proposals []domain.Proposal, agents []domain.AgentProfile) domain.Decision {
	lead, ok := LeadAgent(agents)
	if !ok {
		return noAction("no participants")
	}

	var leadProposal *domain.Proposal
	for i := range proposals {
		if proposals[i].AgentID == lead.ID {
			leadProposal = &proposals[i]
			break
		}
	}
	if leadProposal == nil || leadProposal.Action == domain.ActionHold || !leadProposal.Quantity.IsPositive() {
		d := noAction(fmt.Sprintf("lead agent %s holds", lead.ID))
		d.LeadAgent = lead.ID
		return d
	}

	weights := make([]decimal.Decimal, len(agents))
	for i, a := range agents {
		weights[i] = decimal.Max(a.Capital, decimal.Zero)
	}
	shares := splitQuantity(leadProposal.Quantity, weights)

	d := domain.Decision{
		Outcome:       domain.OutcomeExecute,
		Action:        leadProposal.Action,
		LeadAgent:     lead.ID,
		TotalQuantity: leadProposal.Quantity,
		AveragePrice:  leadProposal.Price,
	}
	for i, a := range agents {
		if !shares[i].IsPositive() {
			continue
		}
		d.Allocations = append(d.Allocations, domain.AgentAllocation{
			AgentID:     a.ID,
			Action:      leadProposal.Action,
			Quantity:    shares[i],
			TargetPrice: leadProposal.Price,
		})
	}
	return d
}

// resolveDistributed splits the requested quantity between agents by specialization.
func resolveDistributed(dc domain.DecisionContext, agents []domain.AgentProfile) domain.Decision {
	if _, ok := dc.Action.Side(); !ok {
		return noAction("decision context requests no trade")
	}
	if len(agents) == 0 || !dc.Quantity.IsPositive() {
		return noAction("nothing to distribute")
	}

	weights := make([]decimal.Decimal, len(agents))
	for i, a := range agents {
		weights[i] = decimal.Max(a.SpecializationWeight, decimal.Zero)
	}
	shares := splitQuantity(dc.Quantity, weights)

	d := domain.Decision{
		Outcome:       domain.OutcomeExecute,
		Action:        dc.Action,
		TotalQuantity: dc.Quantity,
		AveragePrice:  dc.CurrentPrice,
	}
	for i, a := range agents {
		if !shares[i].IsPositive() {
			continue
		}
		d.Allocations = append(d.Allocations, domain.AgentAllocation{
			AgentID:     a.ID,
			Action:      dc.Action,
			Quantity:    shares[i],
			TargetPrice: dc.CurrentPrice,
		})
	}
	return d
}

// resolveCollaborative executes the side carrying the larger total quantity.
func resolveCollaborative(proposals []domain.Proposal) domain.Decision {
	buy, sell := decimal.Zero, decimal.Zero
	for _, p := range proposals {
		if !p.Quantity.IsPositive() {
			continue
		}
		switch p.Action {
		case domain.ActionBuy:
			buy = buy.Add(p.Quantity)
		case domain.ActionSell:
			sell = sell.Add(p.Quantity)
		}
	}

	switch buy.Cmp(sell) {
	case 1:
		return plan(domain.ActionBuy, proposals)
	case -1:
		return plan(domain.ActionSell, proposals)
	}
	if buy.IsZero() {
		return noAction("all agents hold")
	}
	return noAction(fmt.Sprintf("buy and sell interest are tied at %s", buy))
}

// splitQuantity divides qty by weight, equally when no weight is positive.
// The rounding remainder goes to the largest share so the parts sum to qty.
func splitQuantity(qty decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	if len(weights) == 0 {
		return out
	}
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	if !sum.IsPositive() {
		weights = make([]decimal.Decimal, len(weights))
		for i := range weights {
			weights[i] = decimal.NewFromInt(1)
		}
		sum = decimal.NewFromInt(int64(len(weights)))
	}

	assigned := decimal.Zero
	largest := 0
	for i, w := range weights {
		out[i] = qty.Mul(w).Div(sum).Truncate(quantityPlaces)
		assigned = assigned.Add(out[i])
		if out[i].GreaterThan(out[largest]) {
			largest = i
		}
	}
	out[largest] = out[largest].Add(qty.Sub(assigned))
	return out
}

// sortedByID orders agent profiles deterministically.
func sortedByID(agents []domain.AgentProfile) []domain.AgentProfile {
	out := append([]domain.AgentProfile(nil), agents...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
