package internal

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/hive/config"
	"github.com/vadiminshakov/hive/internal/agents"
	"github.com/vadiminshakov/hive/internal/domain"
	"github.com/vadiminshakov/hive/internal/events"
	"github.com/vadiminshakov/hive/internal/runloop"
	"github.com/vadiminshakov/hive/internal/services/coordination"
	"github.com/vadiminshakov/hive/internal/services/execution"
	"github.com/vadiminshakov/hive/internal/services/marketdata"
	"github.com/vadiminshakov/hive/internal/services/wallet"
	"github.com/vadiminshakov/hive/internal/storage/snapshot"
)

// farmState is the runtime view of one configured farm.
type farmState struct {
	cfg      config.Farm
	walletID string
	agentIDs []string

	mu     sync.Mutex
	cursor int
	// booked is the realized P&L per agent already applied to the wallets
	booked map[string]decimal.Decimal
}

func (f *farmState) nextSymbol() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	symbol := f.cfg.Symbols[f.cursor%len(f.cfg.Symbols)]
	f.cursor++
	return symbol
}

// Platform owns the wallet hierarchy, the coordination engine, the execution
// orchestrator and the notification bus, and runs every loop that drives them.
type Platform struct {
	cfg    config.Config
	logger *zap.Logger

	Wallets      *wallet.Hierarchy
	Coordination *coordination.Engine
	Execution    *execution.Orchestrator
	Bus          *events.Bus

	roster     *roster
	provider   agents.Provider
	router     *agents.Router
	strategies strategySet
	feed       execution.Feed
	snapshots  *snapshot.Store
	closers    []io.Closer

	mu       sync.RWMutex
	masterID string
	farms    map[string]*farmState
	agentIDs map[string]string
}

type options struct {
	provider agents.Provider
	feed     execution.Feed
}

type Option func(*options)

// WithDecisionProvider answers every agent with p instead of the configured strategies.
func WithDecisionProvider(p agents.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithFeed replaces the configured market data feed. The reference agents then
// read the prices of this feed.
func WithFeed(feed execution.Feed) Option {
	return func(o *options) { o.feed = feed }
}

// New builds every component of the platform. Nothing runs until Bootstrap and Run.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*Platform, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	p := &Platform{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "platform")),
		farms:    make(map[string]*farmState),
		agentIDs: make(map[string]string),
	}

	audit, closers, err := createAuditSink(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, closers...)

	bus, closers, err := createBus(ctx, cfg.Events, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Bus = bus
	p.closers = append(p.closers, closers...)

	if cfg.Storage.SnapshotPath != "" {
		if p.snapshots, err = snapshot.NewStore(cfg.Storage.SnapshotPath); err != nil {
			p.Close()
			return nil, errors.Wrap(err, "failed to open wallet snapshot store")
		}
	}

	p.roster = &roster{}
	p.Wallets = wallet.NewHierarchy(cfg.Wallet, logger,
		wallet.WithRecorder(audit),
		wallet.WithNotifier(bus))
	p.roster.wallets = p.Wallets

	p.Execution = execution.NewOrchestrator(cfg.Execution, logger,
		execution.WithCapitalSource(p.roster),
		execution.WithRecorder(audit),
		execution.WithNotifier(bus))
	p.roster.pnl = p.Execution

	var history agents.History
	if o.feed != nil {
		ticks := marketdata.NewTickHistory(tickHistoryLimit)
		p.feed = observedFeed{feed: o.feed, history: ticks}
		history = ticks
	} else {
		feed, h, err := createFeed(cfg.MarketData, cfg.Symbols(), p.Execution.Config().ReferencePrices, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.feed, history = feed, h
	}

	p.strategies = newStrategySet(cfg.RSI, history)
	p.router = agents.NewRouter(nil)
	p.provider = p.router
	if o.provider != nil {
		p.provider = o.provider
	}

	p.Coordination = coordination.NewEngine(cfg.Coordination, p.roster, p.provider, logger,
		coordination.WithRecorder(audit),
		coordination.WithNotifier(bus))
	return p, nil
}

// Bootstrap restores the wallet snapshot, creates the configured wallets that
// are missing, allocates capital and starts a trading session per farm.
func (p *Platform) Bootstrap(ctx context.Context) error {
	restored, err := p.restore()
	if err != nil {
		return err
	}

	masterID, created, err := p.ensureMaster(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.masterID = masterID
	p.mu.Unlock()

	for _, fc := range p.cfg.Farms {
		fs, isNew, err := p.ensureFarm(ctx, masterID, fc)
		if err != nil {
			return err
		}
		created = created || isNew
		p.mu.Lock()
		p.farms[fc.Name] = fs
		p.mu.Unlock()
	}

	if created || !restored {
		if err := p.allocate(ctx, masterID); err != nil {
			return err
		}
	}

	for _, fc := range p.cfg.Farms {
		if _, err := p.StartFarmSession(ctx, fc.Name); err != nil {
			return err
		}
	}
	p.logger.Info("platform bootstrapped",
		zap.String("master", masterID),
		zap.Int("farms", len(p.cfg.Farms)),
		zap.Bool("restored", restored))
	return nil
}

func (p *Platform) restore() (bool, error) {
	if p.snapshots == nil {
		return false, nil
	}
	var st wallet.State
	ok, err := p.snapshots.Load(&st)
	if err != nil {
		return false, errors.Wrap(err, "failed to load wallet snapshot")
	}
	if !ok {
		return false, nil
	}
	if err := p.Wallets.Restore(st); err != nil {
		return false, errors.Wrap(err, "failed to restore wallet snapshot")
	}
	p.logger.Info("wallet snapshot restored", zap.Int("wallets", len(st.Wallets)), zap.Time("saved_at", st.SavedAt))
	return true, nil
}

func (p *Platform) ensureMaster(ctx context.Context) (string, bool, error) {
	for _, id := range p.Wallets.Roots() {
		w, err := p.Wallets.GetWallet(id)
		if err == nil && w.Name == p.cfg.Master.Name {
			return id, false, nil
		}
	}
	w, err := p.Wallets.CreateMaster(ctx, p.cfg.Master.Name, p.cfg.Master.Capital, p.cfg.Master.Config)
	if err != nil {
		return "", false, errors.Wrap(err, "failed to create master wallet")
	}
	return w.ID, true, nil
}

func (p *Platform) ensureFarm(ctx context.Context, masterID string, fc config.Farm) (*farmState, bool, error) {
	created := false
	farm, ok, err := p.childByName(masterID, fc.Name)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		farmCfg := fc.Config
		if farm, err = p.Wallets.CreateChild(ctx, masterID, wallet.ChildSpec{Name: fc.Name, Tier: domain.TierFarm, Farm: &farmCfg}); err != nil {
			return nil, false, errors.Wrapf(err, "failed to create farm %s", fc.Name)
		}
		created = true
	}

	fs := &farmState{cfg: fc, walletID: farm.ID, booked: make(map[string]decimal.Decimal)}
	for _, ac := range fc.Agents {
		agent, ok, err := p.childByName(farm.ID, ac.Name)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			agentCfg := ac.Config
			if agent, err = p.Wallets.CreateChild(ctx, farm.ID, wallet.ChildSpec{Name: ac.Name, Tier: domain.TierAgent, Agent: &agentCfg}); err != nil {
				return nil, false, errors.Wrapf(err, "failed to create agent %s", ac.Name)
			}
			created = true
		}

		strategy, err := p.strategies.createAgentStrategy(ac.Strategy)
		if err != nil {
			return nil, false, err
		}
		p.router.Assign(agent.ID, strategy)
		fs.agentIDs = append(fs.agentIDs, agent.ID)
		p.mu.Lock()
		p.agentIDs[ac.Name] = agent.ID
		p.mu.Unlock()
	}
	return fs, created, nil
}

func (p *Platform) childByName(parentID, name string) (domain.Wallet, bool, error) {
	children, err := p.Wallets.Children(parentID)
	if err != nil {
		return domain.Wallet{}, false, err
	}
	for _, w := range children {
		if w.Name == name {
			return w, true, nil
		}
	}
	return domain.Wallet{}, false, nil
}

// allocate funds the farms from the master, then the agents from each farm.
func (p *Platform) allocate(ctx context.Context, masterID string) error {
	strategy := p.cfg.Master.Allocation
	res, err := p.Wallets.Allocate(ctx, masterID, strategy)
	if err != nil {
		return errors.Wrap(err, "failed to allocate master capital")
	}
	p.logger.Info("master capital allocated", zap.String("status", res.Status), zap.String("total", res.Total.String()))

	for _, fc := range p.cfg.Farms {
		fs, err := p.farm(fc.Name)
		if err != nil {
			return err
		}
		res, err := p.Wallets.Allocate(ctx, fs.walletID, strategy)
		if err != nil {
			return errors.Wrapf(err, "failed to allocate farm %s capital", fc.Name)
		}
		p.logger.Info("farm capital allocated",
			zap.String("farm", fc.Name),
			zap.String("status", res.Status),
			zap.String("total", res.Total.String()))
	}
	return nil
}

// StartFarmSession opens a new trading session for a farm, replacing a halted or stopped one.
func (p *Platform) StartFarmSession(ctx context.Context, name string) (execution.Session, error) {
	fs, err := p.farm(name)
	if err != nil {
		return execution.Session{}, err
	}
	if s, ok := p.Execution.ActiveSession(fs.walletID); ok {
		return s, nil
	}
	s, err := p.Execution.StartSession(ctx, execution.SessionConfig{
		FarmID:   fs.walletID,
		AgentIDs: fs.agentIDs,
		Symbols:  fs.cfg.Symbols,
		Mode:     fs.cfg.Mode,
		Limits:   fs.cfg.Limits,
	})
	if err != nil {
		return execution.Session{}, errors.Wrapf(err, "failed to start session for farm %s", name)
	}
	return s, nil
}

// Run drives every loop of the platform until ctx is done.
func (p *Platform) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.Bus.Run(ctx) })
	g.Go(func() error { return p.Execution.ConsumeFeed(ctx, p.feed) })
	g.Go(func() error { return p.Execution.Run(ctx) })
	g.Go(func() error { return p.Coordination.Run(ctx) })
	g.Go(func() error { return p.Wallets.Run(ctx) })

	for _, fc := range p.cfg.Farms {
		g.Go(func() error {
			return runloop.Every(ctx, p.logger, "farm-"+fc.Name, fc.Cadence, func(ctx context.Context) error {
				_, err := p.RunFarmCycle(ctx, fc.Name)
				return err
			})
		})
	}
	if p.snapshots != nil {
		g.Go(func() error {
			return runloop.Every(ctx, p.logger, "wallet-snapshot", p.cfg.Storage.SnapshotInterval, func(context.Context) error {
				return p.SaveSnapshot()
			})
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// CycleReport is the outcome of one coordination and execution cycle of a farm.
type CycleReport struct {
	Farm         string                     `json:"farm"`
	Symbol       string                     `json:"symbol,omitempty"`
	Skipped      string                     `json:"skipped,omitempty"`
	Coordination *domain.CoordinationEvent  `json:"coordination,omitempty"`
	Plan         *execution.PlanResult      `json:"plan,omitempty"`
	Booked       map[string]decimal.Decimal `json:"booked_pnl,omitempty"`
}

// RunFarmCycle coordinates the farm's agents on its next symbol, executes the
// resulting plan and books realized P&L into the agent wallets.
func (p *Platform) RunFarmCycle(ctx context.Context, name string) (CycleReport, error) {
	fs, err := p.farm(name)
	if err != nil {
		return CycleReport{}, err
	}
	report := CycleReport{Farm: name}

	session, ok := p.Execution.ActiveSession(fs.walletID)
	if !ok {
		report.Skipped = "no active session"
		p.logger.Debug("farm cycle skipped", zap.String("farm", name), zap.String("reason", report.Skipped))
		report.Booked, err = p.settlePnL(ctx, fs)
		return report, err
	}

	report.Symbol = fs.nextSymbol()
	agentsOfFarm, err := p.roster.FarmAgents(ctx, fs.walletID)
	if err != nil {
		return report, err
	}

	dc := domain.DecisionContext{FarmID: fs.walletID, Symbol: report.Symbol}
	if tick, ok := p.Execution.LatestTick(report.Symbol); ok {
		dc.CurrentPrice = tick.Price
	}
	if fs.cfg.Mode == domain.ModeDistributed {
		// distributed plans split the lead agent's view across the farm
		if lead, ok := coordination.LeadAgent(agentsOfFarm); ok {
			view, err := p.provider.Propose(ctx, lead.ID, dc)
			if err != nil {
				p.logger.Warn("lead agent proposal failed", zap.String("agent", lead.ID), zap.Error(err))
			} else {
				dc.Action, dc.Quantity = view.Action, view.Quantity
			}
		}
	}

	ev, err := p.Coordination.CoordinateDecision(ctx, dc, agentsOfFarm, fs.cfg.Mode)
	if err != nil {
		return report, errors.Wrapf(err, "coordination of farm %s", name)
	}
	report.Coordination = &ev

	if ev.Decision != nil && ev.Decision.Executable() {
		plan, err := p.Execution.ExecutePlan(ctx, session.ID, *ev.Decision)
		if err != nil {
			return report, errors.Wrapf(err, "plan execution of farm %s", name)
		}
		report.Plan = &plan
	}

	report.Booked, err = p.settlePnL(ctx, fs)
	return report, err
}

// settlePnL applies each agent's realized P&L not yet booked to its wallet.
func (p *Platform) settlePnL(ctx context.Context, fs *farmState) (map[string]decimal.Decimal, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	booked := make(map[string]decimal.Decimal)
	var failed int
	for _, agentID := range fs.agentIDs {
		realized := decimal.Zero
		for _, pos := range p.Execution.AgentPositions(agentID) {
			realized = realized.Add(pos.RealizedPnL)
		}
		delta := realized.Sub(fs.booked[agentID])
		if delta.IsZero() {
			continue
		}
		if err := p.Wallets.ApplyPnL(ctx, agentID, delta); err != nil {
			failed++
			p.logger.Error("failed to book agent P&L", zap.String("agent", agentID), zap.Error(err))
			continue
		}
		fs.booked[agentID] = realized
		booked[agentID] = delta
	}
	if failed > 0 {
		return booked, errors.Errorf("%d agents of farm %s could not book P&L", failed, fs.cfg.Name)
	}
	return booked, nil
}

// FarmReport is the consolidated state of one farm.
type FarmReport struct {
	Farm          string                `json:"farm"`
	Wallet        domain.WalletNode     `json:"wallet"`
	Session       *execution.Session    `json:"session,omitempty"`
	Performance   execution.Performance `json:"performance"`
	ConsensusRate decimal.Decimal       `json:"consensus_rate"`
	Positions     []domain.Position     `json:"positions,omitempty"`
}

// FarmReport returns the wallet tree, latest session, execution performance and
// the share (in percent) of coordination rounds since the session started that
// produced an executable plan.
func (p *Platform) FarmReport(name string) (FarmReport, error) {
	fs, err := p.farm(name)
	if err != nil {
		return FarmReport{}, err
	}
	tree, err := p.Wallets.GetHierarchy(fs.walletID)
	if err != nil {
		return FarmReport{}, err
	}
	report := FarmReport{
		Farm:          name,
		Wallet:        tree,
		Performance:   p.Execution.GetPerformance(fs.walletID),
		ConsensusRate: decimal.Zero,
		Positions:     p.Execution.GetPositions(fs.walletID),
	}

	var session *execution.Session
	for _, s := range p.Execution.Sessions() {
		if s.FarmID == fs.walletID {
			session = &s
		}
	}
	report.Session = session

	completed, executed := 0, 0
	for _, ev := range p.Coordination.History(0) {
		if ev.FarmID != fs.walletID || ev.Status != domain.CoordinationCompleted {
			continue
		}
		if session != nil && ev.CompletedAt.Before(session.StartedAt) {
			continue
		}
		completed++
		if ev.Decision != nil && ev.Decision.Executable() {
			executed++
		}
	}
	if completed > 0 {
		report.ConsensusRate = decimal.NewFromInt(int64(executed)).
			Div(decimal.NewFromInt(int64(completed))).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return report, nil
}

// MasterID returns the id of the master wallet.
func (p *Platform) MasterID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.masterID
}

// FarmID returns the wallet id of a configured farm.
func (p *Platform) FarmID(name string) (string, error) {
	fs, err := p.farm(name)
	if err != nil {
		return "", err
	}
	return fs.walletID, nil
}

// AgentID returns the wallet id of a configured agent.
func (p *Platform) AgentID(name string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.agentIDs[name]
	if !ok {
		return "", domain.NotFound("agent %s", name)
	}
	return id, nil
}

func (p *Platform) farm(name string) (*farmState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fs, ok := p.farms[name]
	if !ok {
		return nil, domain.NotFound("farm %s", name)
	}
	return fs, nil
}

// SaveSnapshot writes the wallet hierarchy to the snapshot store, if configured.
func (p *Platform) SaveSnapshot() error {
	if p.snapshots == nil {
		return nil
	}
	if err := p.snapshots.Save(p.Wallets.Snapshot()); err != nil {
		return errors.Wrap(err, "failed to save wallet snapshot")
	}
	return nil
}

// Shutdown stops every active session without flattening positions, books the
// remaining realized P&L and saves the wallet snapshot.
func (p *Platform) Shutdown(ctx context.Context) error {
	p.mu.RLock()
	farms := make([]*farmState, 0, len(p.farms))
	for _, fs := range p.farms {
		farms = append(farms, fs)
	}
	p.mu.RUnlock()

	for _, fs := range farms {
		if s, ok := p.Execution.ActiveSession(fs.walletID); ok {
			report, err := p.Execution.StopSession(ctx, s.ID, false)
			if err != nil {
				p.logger.Error("failed to stop session", zap.String("farm", fs.cfg.Name), zap.Error(err))
			} else {
				p.logger.Info("session stopped",
					zap.String("farm", fs.cfg.Name),
					zap.Int("orders", report.Performance.TotalOrders),
					zap.String("pnl", report.Performance.TotalPnL.StringFixed(2)))
			}
		}
		if _, err := p.settlePnL(ctx, fs); err != nil {
			p.logger.Error("failed to book final P&L", zap.String("farm", fs.cfg.Name), zap.Error(err))
		}
	}
	return p.SaveSnapshot()
}

// Close releases the audit stores and notification sinks.
func (p *Platform) Close() {
	closeAll(p.closers, p.logger)
	p.closers = nil
}
