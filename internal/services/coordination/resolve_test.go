package coordination

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/hive/internal/domain"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func vote(agent string, action domain.Action, qty, price string) domain.Proposal {
	return domain.Proposal{AgentID: agent, Action: action, Symbol: "BTC/USD", Quantity: d(qty), Price: d(price)}
}

var threshold = decimal.NewFromFloat(0.6)

func TestResolveConsensus(t *testing.T) {
	tests := []struct {
		name      string
		proposals []domain.Proposal
		outcome   domain.Outcome
		action    domain.Action
		quantity  string
		price     string
	}{
		{
			name: "three of five buy",
			proposals: []domain.Proposal{
				vote("a1", domain.ActionBuy, "1", "100"),
				vote("a2", domain.ActionBuy, "1", "110"),
				vote("a3", domain.ActionBuy, "1", "120"),
				vote("a4", domain.ActionSell, "1", "100"),
				vote("a5", domain.ActionHold, "0", "0"),
			},
			outcome:  domain.OutcomeExecute,
			action:   domain.ActionBuy,
			quantity: "3",
			price:    "110",
		},
		{
			name: "split vote",
			proposals: []domain.Proposal{
				vote("a1", domain.ActionBuy, "1", "100"),
				vote("a2", domain.ActionBuy, "1", "100"),
				vote("a3", domain.ActionSell, "1", "100"),
				vote("a4", domain.ActionSell, "1", "100"),
				vote("a5", domain.ActionHold, "0", "0"),
			},
			outcome:  domain.OutcomeNoAction,
			quantity: "0",
			price:    "0",
		},
		{
			name: "hold majority never executes",
			proposals: []domain.Proposal{
				vote("a1", domain.ActionHold, "0", "0"),
				vote("a2", domain.ActionHold, "0", "0"),
				vote("a3", domain.ActionHold, "0", "0"),
				vote("a4", domain.ActionSell, "1", "100"),
			},
			outcome:  domain.OutcomeNoAction,
			quantity: "0",
			price:    "0",
		},
		{
			name: "weighted average price",
			proposals: []domain.Proposal{
				vote("a1", domain.ActionSell, "3", "100"),
				vote("a2", domain.ActionSell, "1", "200"),
			},
			outcome:  domain.OutcomeExecute,
			action:   domain.ActionSell,
			quantity: "4",
			price:    "125",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := Resolve(domain.ModeConsensus, domain.DecisionContext{Symbol: "BTC/USD"}, tt.proposals, nil, threshold)
			assert.Equal(t, tt.outcome, dec.Outcome)
			assert.Equal(t, domain.ModeConsensus, dec.Mode)
			assert.Equal(t, tt.action, dec.Action)
			assert.True(t, dec.TotalQuantity.Equal(d(tt.quantity)), "quantity %s", dec.TotalQuantity)
			assert.True(t, dec.AveragePrice.Equal(d(tt.price)), "price %s", dec.AveragePrice)
			assert.Equal(t, len(tt.proposals), dec.Votes[domain.ActionBuy]+dec.Votes[domain.ActionSell]+dec.Votes[domain.ActionHold])
		})
	}
}

func TestResolveHierarchical(t *testing.T) {
	agents := []domain.AgentProfile{
		{ID: "a3", PnL: d("50"), Capital: d("1000")},
		{ID: "a1", PnL: d("10"), Capital: d("1000")},
		{ID: "a2", PnL: d("50"), Capital: d("3000")},
	}

	t.Run("lead quantity spread by capital", func(t *testing.T) {
		proposals := []domain.Proposal{
			vote("a1", domain.ActionSell, "7", "90"),
			vote("a2", domain.ActionBuy, "10", "100"),
			vote("a3", domain.ActionSell, "7", "90"),
		}
		dec := Resolve(domain.ModeHierarchical, domain.DecisionContext{Symbol: "BTC/USD"}, proposals, agents, threshold)

		require.Equal(t, domain.OutcomeExecute, dec.Outcome)
		assert.Equal(t, "a2", dec.LeadAgent)
		assert.Equal(t, domain.ActionBuy, dec.Action)
		assert.True(t, dec.TotalQuantity.Equal(d("10")))

		got := map[string]string{}
		for _, a := range dec.Allocations {
			got[a.AgentID] = a.Quantity.String()
			assert.Equal(t, domain.ActionBuy, a.Action)
		}
		assert.Equal(t, map[string]string{"a1": "2", "a2": "6", "a3": "2"}, got)
	})

	t.Run("lead hold overrides followers", func(t *testing.T) {
		proposals := []domain.Proposal{
			vote("a1", domain.ActionBuy, "5", "100"),
			vote("a2", domain.ActionHold, "0", "0"),
			vote("a3", domain.ActionBuy, "5", "100"),
		}
		dec := Resolve(domain.ModeHierarchical, domain.DecisionContext{Symbol: "BTC/USD"}, proposals, agents, threshold)

		assert.Equal(t, domain.OutcomeNoAction, dec.Outcome)
		assert.Equal(t, "a2", dec.LeadAgent)
		assert.Empty(t, dec.Allocations)
	})
}

func TestLeadAgent_TieBrokenByID(t *testing.T) {
	lead, ok := LeadAgent([]domain.AgentProfile{
		{ID: "b", PnL: d("5")},
		{ID: "a", PnL: d("5")},
		{ID: "c", PnL: d("-1")},
	})
	require.True(t, ok)
	assert.Equal(t, "a", lead.ID)

	_, ok = LeadAgent(nil)
	assert.False(t, ok)
}

func TestResolveDistributed(t *testing.T) {
	agents := []domain.AgentProfile{
		{ID: "a1", SpecializationWeight: d("1")},
		{ID: "a2", SpecializationWeight: d("3")},
	}
	dc := domain.DecisionContext{Symbol: "ETH/USD", Action: domain.ActionBuy, Quantity: d("1000"), CurrentPrice: d("3000")}

	dec := Resolve(domain.ModeDistributed, dc, nil, agents, threshold)
	require.Equal(t, domain.OutcomeExecute, dec.Outcome)
	require.Len(t, dec.Allocations, 2)
	assert.True(t, dec.Allocations[0].Quantity.Equal(d("250")))
	assert.True(t, dec.Allocations[1].Quantity.Equal(d("750")))
	assert.True(t, dec.AveragePrice.Equal(d("3000")))

	equal := Resolve(domain.ModeDistributed, dc, nil, []domain.AgentProfile{{ID: "x"}, {ID: "y"}, {ID: "z"}}, threshold)
	sum := decimal.Zero
	for _, a := range equal.Allocations {
		sum = sum.Add(a.Quantity)
	}
	assert.True(t, sum.Equal(d("1000")), "parts sum to %s", sum)

	dc.Action = domain.ActionHold
	assert.Equal(t, domain.OutcomeNoAction, Resolve(domain.ModeDistributed, dc, nil, agents, threshold).Outcome)
}

func TestResolveCollaborative(t *testing.T) {
	dc := domain.DecisionContext{Symbol: "SOL/USD"}

	dec := Resolve(domain.ModeCollaborative, dc, []domain.Proposal{
		vote("a1", domain.ActionBuy, "5", "100"),
		vote("a2", domain.ActionBuy, "5", "102"),
		vote("a3", domain.ActionSell, "3", "99"),
		vote("a4", domain.ActionHold, "0", "0"),
	}, nil, threshold)
	require.Equal(t, domain.OutcomeExecute, dec.Outcome)
	assert.Equal(t, domain.ActionBuy, dec.Action)
	assert.True(t, dec.TotalQuantity.Equal(d("10")))
	assert.True(t, dec.AveragePrice.Equal(d("101")))
	assert.Len(t, dec.Allocations, 2)

	tied := Resolve(domain.ModeCollaborative, dc, []domain.Proposal{
		vote("a1", domain.ActionBuy, "2", "100"),
		vote("a2", domain.ActionSell, "2", "100"),
	}, nil, threshold)
	assert.Equal(t, domain.OutcomeNoAction, tied.Outcome)

	holds := Resolve(domain.ModeCollaborative, dc, []domain.Proposal{vote("a1", domain.ActionHold, "0", "0")}, nil, threshold)
	assert.Equal(t, domain.OutcomeNoAction, holds.Outcome)
}

func TestResolveAutonomous(t *testing.T) {
	dec := Resolve(domain.ModeAutonomous, domain.DecisionContext{Symbol: "BTC/USD"}, nil, nil, threshold)
	assert.Equal(t, domain.OutcomeAutonomous, dec.Outcome)
	assert.False(t, dec.Executable())
}
