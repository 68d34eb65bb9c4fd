package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/hive/internal/domain"
)

// TransactionRecorder receives every ledger entry for audit.
type TransactionRecorder interface {
	AppendTransaction(domain.Transaction) error
}

// Notifier publishes wallet events.
type Notifier interface {
	Publish(domain.Notification)
}

// Config tunes the hierarchy. Percentages are in percent units.
type Config struct {
	RebalanceThreshold decimal.Decimal
	RebalanceInterval  time.Duration
	ProfitThreshold    decimal.Decimal
	ProfitInterval     time.Duration
	PerformanceTTL     time.Duration
	MaxAllocationPct   decimal.Decimal
	LedgerLimit        int
	EquityHistory      int
}

func DefaultConfig() Config {
	return Config{
		RebalanceThreshold: decimal.NewFromInt(10),
		RebalanceInterval:  time.Hour,
		ProfitThreshold:    decimal.NewFromInt(15),
		ProfitInterval:     time.Hour,
		PerformanceTTL:     5 * time.Minute,
		MaxAllocationPct:   decimal.NewFromInt(30),
		LedgerLimit:        10000,
		EquityHistory:      500,
	}
}

type node struct {
	wallet    domain.Wallet
	children  []string
	principal decimal.Decimal
	equity    []domain.EquityPoint
}

// rootState serializes every mutation of one hierarchy.
type rootState struct {
	mu            sync.Mutex
	lastRebalance time.Time
}

// Hierarchy owns the master/farm/agent wallet trees and their ledger.
type Hierarchy struct {
	cfg      Config
	logger   *zap.Logger
	recorder TransactionRecorder
	notifier Notifier
	perf     *PerformanceCache
	now      func() time.Time

	mu    sync.RWMutex
	nodes map[string]*node
	roots map[string]*rootState

	ledgerMu sync.Mutex
	ledger   []domain.Transaction
}

// Option customizes a Hierarchy.
type Option func(*Hierarchy)

// WithRecorder sets the audit sink for ledger entries.
func WithRecorder(r TransactionRecorder) Option {
	return func(h *Hierarchy) { h.recorder = r }
}

// WithNotifier sets the bus receiving wallet events.
func WithNotifier(n Notifier) Option {
	return func(h *Hierarchy) { h.notifier = n }
}

// WithPerformanceSource replaces the equity-curve performance source.
func WithPerformanceSource(src PerformanceSource) Option {
	return func(h *Hierarchy) {
		h.perf = NewPerformanceCache(src, h.cfg.PerformanceTTL)
		h.perf.now = h.now
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Hierarchy) {
		h.now = now
		h.perf.now = now
	}
}

// NewHierarchy creates an empty wallet registry.
func NewHierarchy(cfg Config, logger *zap.Logger, opts ...Option) *Hierarchy {
	def := DefaultConfig()
	if cfg.RebalanceThreshold.IsZero() {
		cfg.RebalanceThreshold = def.RebalanceThreshold
	}
	if cfg.RebalanceInterval <= 0 {
		cfg.RebalanceInterval = def.RebalanceInterval
	}
	if cfg.ProfitThreshold.IsZero() {
		cfg.ProfitThreshold = def.ProfitThreshold
	}
	if cfg.ProfitInterval <= 0 {
		cfg.ProfitInterval = def.ProfitInterval
	}
	if cfg.PerformanceTTL <= 0 {
		cfg.PerformanceTTL = def.PerformanceTTL
	}
	if cfg.MaxAllocationPct.IsZero() {
		cfg.MaxAllocationPct = def.MaxAllocationPct
	}
	if cfg.LedgerLimit <= 0 {
		cfg.LedgerLimit = def.LedgerLimit
	}
	if cfg.EquityHistory <= 0 {
		cfg.EquityHistory = def.EquityHistory
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Hierarchy{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "wallet")),
		now:    time.Now,
		nodes:  make(map[string]*node),
		roots:  make(map[string]*rootState),
	}
	h.perf = NewPerformanceCache(EquityCurveSource{}, cfg.PerformanceTTL)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Config returns the effective configuration.
func (h *Hierarchy) Config() Config {
	return h.cfg
}

// CreateMaster creates a root wallet funded with capital, setting aside the emergency reserve.
func (h *Hierarchy) CreateMaster(ctx context.Context, name string, capital decimal.Decimal, cfg domain.MasterConfig) (domain.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return domain.Wallet{}, err
	}
	if !capital.IsPositive() {
		return domain.Wallet{}, domain.Validation("master capital must be positive, got %s", capital)
	}
	if cfg.EmergencyReservePct.IsZero() {
		cfg.EmergencyReservePct = domain.DefaultMasterConfig().EmergencyReservePct
	}
	if cfg.EmergencyReservePct.IsNegative() || cfg.EmergencyReservePct.GreaterThanOrEqual(hundred) {
		return domain.Wallet{}, domain.Validation("emergency reserve must be within [0, 100), got %s", cfg.EmergencyReservePct)
	}
	if cfg.MaxFarms < 0 {
		return domain.Wallet{}, domain.Validation("max farms must not be negative")
	}

	now := h.now()
	reserved := capital.Mul(cfg.EmergencyReservePct).Div(hundred)
	w := domain.Wallet{
		ID:        uuid.NewString(),
		Name:      name,
		Tier:      domain.TierMaster,
		CreatedAt: now,
		Balance: domain.Balance{
			Total:     capital,
			Available: capital.Sub(reserved),
			Allocated: decimal.Zero,
			Reserved:  reserved,
		},
		Master: &cfg,
	}

	n := &node{wallet: w, principal: capital}
	n.equity = append(n.equity, domain.EquityPoint{At: now, Value: decimal.Zero})

	h.mu.Lock()
	h.nodes[w.ID] = n
	h.roots[w.ID] = &rootState{}
	h.mu.Unlock()

	h.record(domain.Transaction{
		ToWallet:    w.ID,
		Type:        domain.TxDeposit,
		Amount:      capital,
		Description: "initial capital",
	})

	h.logger.Info("Master wallet created",
		zap.String("wallet", w.ID),
		zap.String("name", name),
		zap.String("capital", capital.String()),
		zap.String("reserved", reserved.String()))
	return w, nil
}

// ChildSpec describes a wallet to attach below an existing one. Tier defaults
// to the tier below the parent; nil configs take the tier defaults.
type ChildSpec struct {
	Name  string
	Tier  domain.Tier
	Farm  *domain.FarmConfig
	Agent *domain.AgentConfig
}

// CreateChild attaches an empty farm under a master or an agent under a farm.
func (h *Hierarchy) CreateChild(ctx context.Context, parentID string, spec ChildSpec) (domain.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return domain.Wallet{}, err
	}
	root, err := h.lockRootOf(parentID)
	if err != nil {
		return domain.Wallet{}, err
	}
	defer root.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	parent := h.nodes[parentID]
	childTier, ok := parent.wallet.Tier.ChildTier()
	if !ok {
		return domain.Wallet{}, domain.Validation("%s wallet %s cannot have children", parent.wallet.Tier, parentID)
	}
	if spec.Tier == "" {
		spec.Tier = childTier
	}
	if spec.Tier != childTier {
		return domain.Wallet{}, domain.Validation("%s wallet cannot be attached to a %s", spec.Tier, parent.wallet.Tier)
	}
	if limit := parent.wallet.MaxChildren(); limit > 0 && len(parent.children) >= limit {
		return domain.Wallet{}, domain.Capacity("wallet %s already has %d of %d children", parentID, len(parent.children), limit)
	}

	w := domain.Wallet{
		ID:        uuid.NewString(),
		Name:      spec.Name,
		Tier:      spec.Tier,
		ParentID:  parentID,
		CreatedAt: h.now(),
		Balance:   domain.Balance{Total: decimal.Zero, Available: decimal.Zero, Allocated: decimal.Zero, Reserved: decimal.Zero},
	}
	switch spec.Tier {
	case domain.TierFarm:
		cfg := domain.DefaultFarmConfig()
		if spec.Farm != nil {
			cfg = *spec.Farm
		}
		w.Farm = &cfg
		w.RiskLimits = domain.RiskLimits{MaxDailyLossPct: cfg.MaxDailyLossPct}
	case domain.TierAgent:
		cfg := domain.DefaultAgentConfig()
		if spec.Agent != nil {
			cfg = *spec.Agent
		}
		if cfg.Role == "" {
			cfg.Role = domain.RoleWorker
		}
		w.Agent = &cfg
		w.RiskLimits = domain.RiskLimits{
			MaxPositionSize: cfg.MaxPositionSize,
			StopLossPct:     cfg.StopLossPct,
			TakeProfitPct:   cfg.TakeProfitPct,
			DailyTradeLimit: cfg.DailyTradeLimit,
		}
	}

	h.nodes[w.ID] = &node{wallet: w, principal: decimal.Zero}
	parent.children = append(parent.children, w.ID)

	h.logger.Info("Wallet created", zap.String("wallet", w.ID), zap.String("tier", string(w.Tier)), zap.String("parent", parentID))
	return w, nil
}

// Deposit adds external capital to a master wallet, refilling the emergency reserve first.
func (h *Hierarchy) Deposit(ctx context.Context, rootID string, amount decimal.Decimal) (domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Transaction{}, err
	}
	if !amount.IsPositive() {
		return domain.Transaction{}, domain.Validation("deposit amount must be positive, got %s", amount)
	}
	root, err := h.lockRootOf(rootID)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer root.mu.Unlock()

	n := h.node(rootID)
	if !n.wallet.IsRoot() {
		return domain.Transaction{}, domain.Validation("deposits go to master wallets, %s is a %s", rootID, n.wallet.Tier)
	}

	b := &n.wallet.Balance
	b.Total = b.Total.Add(amount)
	target := b.Total.Mul(n.wallet.Master.EmergencyReservePct).Div(hundred)
	toReserve := decimal.Max(decimal.Zero, decimal.Min(amount, target.Sub(b.Reserved)))
	b.Reserved = b.Reserved.Add(toReserve)
	b.Available = b.Available.Add(amount.Sub(toReserve))
	n.principal = n.principal.Add(amount)

	tx := h.record(domain.Transaction{ToWallet: rootID, Type: domain.TxDeposit, Amount: amount, Description: "deposit"})
	return tx, nil
}

// ApplyPnL credits realized profit or loss of an agent and marks every ancestor to the new value.
func (h *Hierarchy) ApplyPnL(ctx context.Context, agentID string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	root, err := h.lockRootOf(agentID)
	if err != nil {
		return err
	}
	defer root.mu.Unlock()

	n := h.node(agentID)
	if n.wallet.Tier != domain.TierAgent {
		return domain.Validation("P&L is booked on agent wallets, %s is a %s", agentID, n.wallet.Tier)
	}
	if floor := n.wallet.Balance.Available.Neg(); amount.LessThan(floor) {
		h.logger.Warn("loss exceeds agent capital, clamping",
			zap.String("agent", agentID), zap.String("loss", amount.String()), zap.String("available", n.wallet.Balance.Available.String()))
		amount = floor
		if amount.IsZero() {
			return nil
		}
	}

	n.wallet.Balance.Total = n.wallet.Balance.Total.Add(amount)
	n.wallet.Balance.Available = n.wallet.Balance.Available.Add(amount)
	touched := []string{agentID}
	for parentID := n.wallet.ParentID; parentID != ""; {
		p := h.node(parentID)
		p.wallet.Balance.Allocated = p.wallet.Balance.Allocated.Add(amount)
		p.wallet.Balance.Total = p.wallet.Balance.Total.Add(amount)
		touched = append(touched, parentID)
		parentID = p.wallet.ParentID
	}

	now := h.now()
	for _, id := range touched {
		h.appendEquity(h.node(id), now)
	}
	h.perf.Invalidate(touched...)

	h.record(domain.Transaction{ToWallet: agentID, Type: domain.TxPnL, Amount: amount, Description: "realized trading P&L"})
	return nil
}

// GetWallet returns a copy of the wallet.
func (h *Hierarchy) GetWallet(id string) (domain.Wallet, error) {
	root, err := h.lockRootOf(id)
	if err != nil {
		return domain.Wallet{}, err
	}
	defer root.mu.Unlock()
	return h.node(id).wallet, nil
}

// Children returns copies of the direct children of a wallet in creation order.
func (h *Hierarchy) Children(id string) ([]domain.Wallet, error) {
	root, err := h.lockRootOf(id)
	if err != nil {
		return nil, err
	}
	defer root.mu.Unlock()

	n := h.node(id)
	out := make([]domain.Wallet, 0, len(n.children))
	for _, cid := range n.children {
		out = append(out, h.node(cid).wallet)
	}
	return out, nil
}

// GetHierarchy returns a consistent snapshot of the tree below id.
func (h *Hierarchy) GetHierarchy(id string) (domain.WalletNode, error) {
	root, err := h.lockRootOf(id)
	if err != nil {
		return domain.WalletNode{}, err
	}
	defer root.mu.Unlock()
	return h.tree(id), nil
}

func (h *Hierarchy) tree(id string) domain.WalletNode {
	n := h.node(id)
	out := domain.WalletNode{Wallet: n.wallet}
	for _, cid := range n.children {
		out.Children = append(out.Children, h.tree(cid))
	}
	return out
}

// Roots returns the ids of all master wallets.
func (h *Hierarchy) Roots() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.roots))
	for id := range h.roots {
		ids = append(ids, id)
	}
	return ids
}

// Ledger returns up to limit of the most recent transactions, oldest first.
func (h *Hierarchy) Ledger(limit int) []domain.Transaction {
	h.ledgerMu.Lock()
	defer h.ledgerMu.Unlock()
	start := 0
	if limit > 0 && len(h.ledger) > limit {
		start = len(h.ledger) - limit
	}
	return append([]domain.Transaction(nil), h.ledger[start:]...)
}

// InvalidatePerformance drops cached performance metrics.
func (h *Hierarchy) InvalidatePerformance(walletIDs ...string) {
	h.perf.Invalidate(walletIDs...)
}

// RecordEquity appends the current ROI of every wallet to its equity curve.
func (h *Hierarchy) RecordEquity(ctx context.Context) error {
	for _, rootID := range h.Roots() {
		root, err := h.lockRootOf(rootID)
		if err != nil {
			continue
		}
		now := h.now()
		h.walk(rootID, func(n *node) { h.appendEquity(n, now) })
		root.mu.Unlock()
	}
	h.perf.Invalidate()
	return nil
}

func (h *Hierarchy) appendEquity(n *node, at time.Time) {
	n.equity = append(n.equity, domain.EquityPoint{At: at, Value: roi(n.wallet.Balance.Total, n.principal)})
	if over := len(n.equity) - h.cfg.EquityHistory; over > 0 {
		n.equity = append([]domain.EquityPoint(nil), n.equity[over:]...)
	}
}

// lockRootOf locks the hierarchy containing id and returns its root state.
// Callers must unlock root.mu.
func (h *Hierarchy) lockRootOf(id string) (*rootState, error) {
	h.mu.RLock()
	n, ok := h.nodes[id]
	if !ok {
		h.mu.RUnlock()
		return nil, domain.NotFound("wallet %s", id)
	}
	for n.wallet.ParentID != "" {
		n = h.nodes[n.wallet.ParentID]
	}
	root := h.roots[n.wallet.ID]
	h.mu.RUnlock()

	root.mu.Lock()
	return root, nil
}

func (h *Hierarchy) node(id string) *node {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.nodes[id]
}

func (h *Hierarchy) childNodes(n *node) []*node {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*node, 0, len(n.children))
	for _, id := range n.children {
		out = append(out, h.nodes[id])
	}
	return out
}

// walk visits the subtree of id breadth-first, parents before children.
func (h *Hierarchy) walk(id string, fn func(*node)) {
	queue := []*node{h.node(id)}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		fn(n)
		queue = append(queue, h.childNodes(n)...)
	}
}

func (h *Hierarchy) view(n *node) WalletView {
	return WalletView{
		Wallet:    n.wallet,
		Principal: n.principal,
		Equity:    append([]domain.EquityPoint(nil), n.equity...),
	}
}

// performance returns the cached metrics of n, treating lookup failures as a neutral score.
func (h *Hierarchy) performance(ctx context.Context, n *node) domain.Performance {
	perf, err := h.perf.Get(ctx, h.view(n))
	if err != nil {
		h.logger.Warn("performance lookup failed", zap.String("wallet", n.wallet.ID), zap.Error(err))
		return domain.Performance{WalletID: n.wallet.ID, ROI: decimal.Zero, Sharpe: decimal.Zero}
	}
	return perf
}

// moveDown transfers amount from parent.available into child.
func (h *Hierarchy) moveDown(parent, child *node, amount decimal.Decimal, txType domain.TransactionType, desc string) domain.Transaction {
	parent.wallet.Balance.Available = parent.wallet.Balance.Available.Sub(amount)
	parent.wallet.Balance.Allocated = parent.wallet.Balance.Allocated.Add(amount)
	child.wallet.Balance.Total = child.wallet.Balance.Total.Add(amount)
	child.wallet.Balance.Available = child.wallet.Balance.Available.Add(amount)
	child.principal = child.principal.Add(amount)

	return h.record(domain.Transaction{
		FromWallet:  parent.wallet.ID,
		ToWallet:    child.wallet.ID,
		Type:        txType,
		Amount:      amount,
		Description: desc,
	})
}

// moveUp transfers amount from child.available back to parent.available.
func (h *Hierarchy) moveUp(child, parent *node, amount decimal.Decimal, txType domain.TransactionType, desc string) domain.Transaction {
	child.wallet.Balance.Available = child.wallet.Balance.Available.Sub(amount)
	child.wallet.Balance.Total = child.wallet.Balance.Total.Sub(amount)
	parent.wallet.Balance.Allocated = parent.wallet.Balance.Allocated.Sub(amount)
	parent.wallet.Balance.Available = parent.wallet.Balance.Available.Add(amount)

	return h.record(domain.Transaction{
		FromWallet:  child.wallet.ID,
		ToWallet:    parent.wallet.ID,
		Type:        txType,
		Amount:      amount,
		Description: desc,
	})
}

func (h *Hierarchy) record(tx domain.Transaction) domain.Transaction {
	tx.ID = uuid.NewString()
	tx.Timestamp = h.now()

	h.ledgerMu.Lock()
	h.ledger = append(h.ledger, tx)
	if over := len(h.ledger) - h.cfg.LedgerLimit; over > 0 {
		h.ledger = append([]domain.Transaction(nil), h.ledger[over:]...)
	}
	h.ledgerMu.Unlock()

	if h.recorder != nil {
		if err := h.recorder.AppendTransaction(tx); err != nil {
			h.logger.Error("failed to persist transaction", zap.String("tx", tx.ID), zap.Error(errors.WithStack(err)))
		}
	}
	return tx
}

func (h *Hierarchy) publish(kind, subject, message string, fields map[string]string) {
	if h.notifier == nil {
		return
	}
	h.notifier.Publish(domain.Notification{
		Topic:   domain.TopicWallet,
		Kind:    kind,
		Subject: subject,
		Message: message,
		Fields:  fields,
	})
}
