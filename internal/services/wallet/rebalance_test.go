package wallet

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/hive/internal/domain"
)

// threeLevels builds master 100k with farms "A" and "B" and agentsPerFarm
// agents under each farm, named a1.. and b1.., all allocated equally.
func threeLevels(t *testing.T, h *Hierarchy, agentsPerFarm int) (string, map[string]string) {
	t.Helper()
	ctx := context.Background()
	master, err := h.CreateMaster(ctx, "main", d("100000"), domain.DefaultMasterConfig())
	require.NoError(t, err)

	ids := map[string]string{"main": master.ID}
	farmCfg := &domain.FarmConfig{MaxAgents: 8, MaxAgentCapital: d("100000")}
	for _, farm := range []string{"A", "B"} {
		w, err := h.CreateChild(ctx, master.ID, ChildSpec{Name: farm, Farm: farmCfg})
		require.NoError(t, err)
		ids[farm] = w.ID
	}
	_, err = h.Allocate(ctx, master.ID, StrategyEqual)
	require.NoError(t, err)

	for _, farm := range []string{"A", "B"} {
		for i := 1; i <= agentsPerFarm; i++ {
			name := fmt.Sprintf("%c%d", farm[0]+'a'-'A', i)
			w, err := h.CreateChild(ctx, ids[farm], ChildSpec{Name: name})
			require.NoError(t, err)
			ids[name] = w.ID
		}
		_, err = h.Allocate(ctx, ids[farm], StrategyEqual)
		require.NoError(t, err)
	}
	return master.ID, ids
}

func TestRebalance_MultiLevelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newTestHierarchy(t, WithPerformanceSource(scoreSource{
		"A": d("0.1"), "B": d("1"),
		"a1": d("10"), "a2": d("0.1"), "a3": d("0.1"), "a4": d("0.1"),
	}))
	rootID, ids := threeLevels(t, h, 4)

	first, err := h.Rebalance(ctx, rootID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusRebalanced, first.Status)
	assertInvariants(t, h, rootID)

	// the capital collected from weak agents travels on to the master
	var toMaster bool
	for _, m := range first.Moves {
		if m.FromWallet == ids["A"] && m.ToWallet == rootID {
			toMaster = true
		}
	}
	assert.True(t, toMaster, "moves %+v", first.Moves)

	second, err := h.Rebalance(ctx, rootID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusBalanced, second.Status)
	assert.Empty(t, second.Moves)
}

type treeOp struct {
	name string
	run  func(ctx context.Context, h *Hierarchy, rootID string, ids map[string]string) error
}

func rebalanceOp() treeOp {
	return treeOp{"rebalance", func(ctx context.Context, h *Hierarchy, rootID string, _ map[string]string) error {
		_, err := h.Rebalance(ctx, rootID, true)
		return err
	}}
}

func collectOp() treeOp {
	return treeOp{"collect", func(ctx context.Context, h *Hierarchy, rootID string, _ map[string]string) error {
		_, err := h.CollectProfits(ctx, rootID, decimal.NullDecimal{})
		return err
	}}
}

func pnlOp(agent, amount string) treeOp {
	return treeOp{"pnl " + agent + " " + amount, func(ctx context.Context, h *Hierarchy, _ string, ids map[string]string) error {
		return h.ApplyPnL(ctx, ids[agent], d(amount))
	}}
}

func TestHierarchy_ThreeLevelInvariants(t *testing.T) {
	tests := []struct {
		name   string
		scores scoreSource
		ops    []treeOp
	}{
		{
			name:   "skewed agents",
			scores: scoreSource{"A": d("0.1"), "B": d("1"), "a1": d("10"), "a2": d("0.1")},
			ops:    []treeOp{rebalanceOp(), rebalanceOp(), collectOp()},
		},
		{
			name:   "winner swept then rebalanced",
			scores: scoreSource{"A": d("3"), "b1": d("2"), "a1": d("20")},
			ops: []treeOp{
				pnlOp("a1", "4000"), collectOp(), rebalanceOp(),
				pnlOp("b2", "-1500"), rebalanceOp(), collectOp(),
			},
		},
		{
			name:   "agent wiped out",
			scores: scoreSource{"B": d("5"), "a3": d("8")},
			ops: []treeOp{
				pnlOp("a1", "-50000"), rebalanceOp(), pnlOp("b3", "2500"),
				collectOp(), rebalanceOp(), pnlOp("a3", "-700"), rebalanceOp(),
			},
		},
		{
			name:   "losses everywhere",
			scores: scoreSource{},
			ops: []treeOp{
				pnlOp("a1", "-100"), pnlOp("a2", "-2000"), pnlOp("b1", "-3000"),
				pnlOp("b3", "-10"), rebalanceOp(), collectOp(), rebalanceOp(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newTestHierarchy(t, WithPerformanceSource(tt.scores))
			rootID, ids := threeLevels(t, h, 3)
			assertInvariants(t, h, rootID)

			for _, op := range tt.ops {
				require.NoError(t, op.run(ctx, h, rootID, ids), op.name)
				assertInvariants(t, h, rootID)
			}

			_, err := h.Rebalance(ctx, rootID, true)
			require.NoError(t, err)
			res, err := h.Rebalance(ctx, rootID, true)
			require.NoError(t, err)
			assert.Empty(t, res.Moves)

			master, err := h.GetWallet(rootID)
			require.NoError(t, err)
			assert.False(t, master.Balance.Total.IsNegative())
		})
	}
}
