package internal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/hive/config"
	"github.com/vadiminshakov/hive/internal/agents"
	"github.com/vadiminshakov/hive/internal/domain"
	"github.com/vadiminshakov/hive/internal/services/execution"
)

// quietFeed never emits ticks; tests drive prices through UpdateTick.
type quietFeed struct{}

func (quietFeed) Ticks(ctx context.Context) <-chan domain.MarketTick {
	ch := make(chan domain.MarketTick)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func testConfig(t *testing.T, mutate func(*config.ConfigTmp)) config.Config {
	t.Helper()
	for _, key := range []string{"AMQP_URL", "TELEGRAM_BOT_TOKEN", "HIVE_SQL_DSN", "REDIS_PASSWORD"} {
		t.Setenv(key, "")
	}
	tmp := config.DefaultTmp()
	tmp.Farms[0].Symbols = []string{"BTC/USD"}
	if mutate != nil {
		mutate(&tmp)
	}
	cfg, err := config.Parse(tmp)
	require.NoError(t, err)
	return cfg
}

func newTestPlatform(t *testing.T, cfg config.Config) (*Platform, *agents.Static) {
	t.Helper()
	static := agents.NewStatic(nil)
	p, err := New(context.Background(), cfg, zap.NewNop(), WithFeed(quietFeed{}), WithDecisionProvider(static))
	require.NoError(t, err)
	t.Cleanup(p.Close)
	require.NoError(t, p.Bootstrap(context.Background()))
	return p, static
}

func agentIDs(t *testing.T, p *Platform) []string {
	t.Helper()
	var ids []string
	for _, name := range []string{"alpha-leader", "alpha-specialist", "alpha-worker"} {
		id, err := p.AgentID(name)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func proposeAll(static *agents.Static, ids []string, action domain.Action, qty string) {
	for _, id := range ids {
		static.Set(id, domain.Proposal{Action: action, Quantity: decimal.RequireFromString(qty)})
	}
}

func TestPlatform_Bootstrap(t *testing.T) {
	p, _ := newTestPlatform(t, testConfig(t, nil))

	master, err := p.Wallets.GetWallet(p.MasterID())
	require.NoError(t, err)
	assert.Equal(t, "hive", master.Name)
	assert.True(t, master.Balance.Allocated.IsPositive())

	farmID, err := p.FarmID("alpha")
	require.NoError(t, err)
	tree, err := p.Wallets.GetHierarchy(farmID)
	require.NoError(t, err)
	require.Len(t, tree.Children, 3)
	for _, child := range tree.Children {
		assert.Equal(t, domain.TierAgent, child.Wallet.Tier)
		assert.True(t, child.Wallet.Balance.Total.IsPositive(), child.Wallet.Name)
	}

	s, ok := p.Execution.ActiveSession(farmID)
	require.True(t, ok)
	assert.Len(t, s.AgentIDs, 3)
	assert.Equal(t, []string{"BTC/USD"}, s.Symbols)

	_, err = p.FarmID("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = p.AgentID("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlatform_RunFarmCycle_BooksRealizedPnL(t *testing.T) {
	ctx := context.Background()
	p, static := newTestPlatform(t, testConfig(t, nil))
	ids := agentIDs(t, p)

	before := make(map[string]decimal.Decimal)
	for _, id := range ids {
		w, err := p.Wallets.GetWallet(id)
		require.NoError(t, err)
		before[id] = w.Balance.Total
	}

	proposeAll(static, ids, domain.ActionBuy, "0.1")
	report, err := p.RunFarmCycle(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USD", report.Symbol)
	require.NotNil(t, report.Plan)
	assert.Equal(t, execution.PlanExecuted, report.Plan.Status)
	assert.True(t, report.Plan.TotalQuantity.Equal(decimal.RequireFromString("0.3")), report.Plan.TotalQuantity.String())
	for _, ae := range report.Plan.Agents {
		assert.True(t, ae.Price.Equal(decimal.NewFromInt(45045)), ae.Price.String())
	}
	assert.Empty(t, report.Booked)

	p.Execution.UpdateTick(domain.NewTick("BTC/USD", decimal.NewFromInt(46000), decimal.Zero, time.Time{}))
	proposeAll(static, ids, domain.ActionSell, "0.1")
	report, err = p.RunFarmCycle(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, report.Plan)
	for _, ae := range report.Plan.Agents {
		assert.True(t, ae.Price.Equal(decimal.NewFromInt(45954)), ae.Price.String())
	}

	expected := decimal.RequireFromString("90.9")
	require.Len(t, report.Booked, 3)
	for _, id := range ids {
		assert.True(t, report.Booked[id].Equal(expected), report.Booked[id].String())
		w, err := p.Wallets.GetWallet(id)
		require.NoError(t, err)
		assert.True(t, w.Balance.Total.Equal(before[id].Add(expected)), w.Balance.Total.String())
	}

	// already booked P&L is not applied twice
	proposeAll(static, ids, domain.ActionHold, "0")
	report, err = p.RunFarmCycle(ctx, "alpha")
	require.NoError(t, err)
	assert.Nil(t, report.Plan)
	assert.Empty(t, report.Booked)
}

func TestPlatform_FarmReportConsensusRate(t *testing.T) {
	ctx := context.Background()
	p, static := newTestPlatform(t, testConfig(t, nil))
	ids := agentIDs(t, p)

	proposeAll(static, ids, domain.ActionBuy, "0.01")
	for range 2 {
		_, err := p.RunFarmCycle(ctx, "alpha")
		require.NoError(t, err)
	}
	report, err := p.FarmReport("alpha")
	require.NoError(t, err)
	assert.True(t, report.ConsensusRate.Equal(decimal.NewFromInt(100)), report.ConsensusRate.String())
	require.NotNil(t, report.Session)
	assert.Equal(t, 6, report.Performance.TotalOrders)
	require.Len(t, report.Positions, 1)
	assert.True(t, report.Positions[0].Quantity.Equal(decimal.RequireFromString("0.06")))

	proposeAll(static, ids, domain.ActionHold, "0")
	_, err = p.RunFarmCycle(ctx, "alpha")
	require.NoError(t, err)
	report, err = p.FarmReport("alpha")
	require.NoError(t, err)
	assert.True(t, report.ConsensusRate.Equal(decimal.RequireFromString("66.67")), report.ConsensusRate.String())
}

func TestPlatform_RunFarmCycle_SkipsWithoutSession(t *testing.T) {
	ctx := context.Background()
	p, static := newTestPlatform(t, testConfig(t, nil))
	proposeAll(static, agentIDs(t, p), domain.ActionBuy, "0.1")

	farmID, err := p.FarmID("alpha")
	require.NoError(t, err)
	s, ok := p.Execution.ActiveSession(farmID)
	require.True(t, ok)
	_, err = p.Execution.StopSession(ctx, s.ID, false)
	require.NoError(t, err)

	report, err := p.RunFarmCycle(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "no active session", report.Skipped)
	assert.Nil(t, report.Coordination)

	restarted, err := p.StartFarmSession(ctx, "alpha")
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, restarted.ID)

	report, err = p.RunFarmCycle(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, report.Skipped)
	require.NotNil(t, report.Plan)
	assert.Equal(t, restarted.ID, report.Plan.SessionID)
}

func TestPlatform_DistributedFollowsLeadAgent(t *testing.T) {
	cfg := testConfig(t, func(tmp *config.ConfigTmp) {
		tmp.Farms[0].Mode = string(domain.ModeDistributed)
	})
	p, static := newTestPlatform(t, cfg)
	ids := agentIDs(t, p)

	// with equal P&L the smallest wallet id leads
	lead := ids[0]
	for _, id := range ids[1:] {
		if id < lead {
			lead = id
		}
	}
	static.Set(lead, domain.Proposal{Action: domain.ActionBuy, Quantity: decimal.RequireFromString("0.3")})

	report, err := p.RunFarmCycle(context.Background(), "alpha")
	require.NoError(t, err)
	require.NotNil(t, report.Coordination)
	require.NotNil(t, report.Coordination.Decision)
	assert.Equal(t, domain.ModeDistributed, report.Coordination.Decision.Mode)
	require.NotNil(t, report.Plan)
	assert.True(t, report.Plan.TotalQuantity.Equal(decimal.RequireFromString("0.3")), report.Plan.TotalQuantity.String())
	assert.Len(t, report.Plan.Agents, 3)
}

func TestPlatform_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wallets.json")
	cfg := testConfig(t, func(tmp *config.ConfigTmp) {
		tmp.Storage.SnapshotPath = path
	})

	first, _ := newTestPlatform(t, cfg)
	farmID, err := first.FarmID("alpha")
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(ctx))
	_, ok := first.Execution.ActiveSession(farmID)
	assert.False(t, ok)

	second, _ := newTestPlatform(t, cfg)
	assert.Equal(t, first.MasterID(), second.MasterID())
	restoredFarm, err := second.FarmID("alpha")
	require.NoError(t, err)
	assert.Equal(t, farmID, restoredFarm)

	master, err := second.Wallets.GetWallet(second.MasterID())
	require.NoError(t, err)
	assert.True(t, master.Balance.Total.Equal(decimal.NewFromInt(100000)), master.Balance.Total.String())
}
