// Package execution runs trading sessions: order lifecycle, matching, positions and risk.
package execution

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/hive/internal/domain"
	"github.com/vadiminshakov/hive/internal/runloop"
)

// CapitalSource lists the agents of a farm with their capital.
type CapitalSource interface {
	FarmAgents(ctx context.Context, farmID string) ([]domain.AgentProfile, error)
}

// OrderRecorder persists order snapshots.
type OrderRecorder interface {
	AppendOrder(domain.Order) error
}

// Notifier publishes execution and risk events.
type Notifier interface {
	Publish(domain.Notification)
}

// Feed streams market ticks.
type Feed interface {
	Ticks(ctx context.Context) <-chan domain.MarketTick
}

// ReferencePrices are used for symbols that have not ticked yet.
func ReferencePrices() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"BTC/USD": decimal.NewFromInt(45000),
		"ETH/USD": decimal.NewFromInt(3000),
		"SOL/USD": decimal.NewFromInt(100),
		"AAPL":    decimal.NewFromInt(180),
		"TSLA":    decimal.NewFromInt(250),
	}
}

type Config struct {
	Limits          Limits
	Slippage        decimal.Decimal
	FeeRate         decimal.Decimal
	RiskInterval    time.Duration
	QueueSize       int
	HistoryLimit    int
	ReferencePrices map[string]decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		Limits:          DefaultLimits(),
		Slippage:        decimal.NewFromFloat(0.001),
		FeeRate:         decimal.NewFromFloat(0.001),
		RiskInterval:    10 * time.Second,
		QueueSize:       256,
		HistoryLimit:    10000,
		ReferencePrices: ReferencePrices(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	c.Limits = c.Limits.withDefaults()
	if c.Slippage.IsZero() {
		c.Slippage = def.Slippage
	}
	if c.FeeRate.IsZero() {
		c.FeeRate = def.FeeRate
	}
	if c.RiskInterval <= 0 {
		c.RiskInterval = def.RiskInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.ReferencePrices == nil {
		c.ReferencePrices = def.ReferencePrices
	}
	return c
}

// orderEntry guards one order; every state transition happens under its mutex.
type orderEntry struct {
	mu        sync.Mutex
	order     domain.Order
	farmID    string
	sessionID string
	symbol    string
}

// Orchestrator owns sessions, orders, fills and the market data cache.
type Orchestrator struct {
	cfg      Config
	capital  CapitalSource
	recorder OrderRecorder
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.RWMutex
	sessions    map[string]*session
	farmSession map[string]string
	orders      map[string]*orderEntry
	open        map[string]*orderEntry
	finished    []string

	fillsMu sync.RWMutex
	fills   map[string][]domain.FillEvent

	pricesMu sync.RWMutex
	prices   map[string]domain.MarketTick

	queueMu sync.Mutex
	queued  map[string]bool
	queue   chan string
}

type Option func(*Orchestrator)

func WithCapitalSource(src CapitalSource) Option {
	return func(o *Orchestrator) { o.capital = src }
}

func WithRecorder(r OrderRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator with an empty market data cache.
func NewOrchestrator(cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "execution")),
		now:         time.Now,
		sessions:    make(map[string]*session),
		farmSession: make(map[string]string),
		orders:      make(map[string]*orderEntry),
		open:        make(map[string]*orderEntry),
		fills:       make(map[string][]domain.FillEvent),
		prices:      make(map[string]domain.MarketTick),
		queued:      make(map[string]bool),
		queue:       make(chan string, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Run drives the matcher and the risk monitor until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.RunMatcher(ctx)
	})
	g.Go(func() error {
		return runloop.Every(ctx, o.logger, "risk-monitor", o.cfg.RiskInterval, func(ctx context.Context) error {
			o.ExpireOrders(o.now())
			o.CheckRisk(ctx)
			return nil
		})
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// LatestTick returns the cached tick of symbol, falling back to the reference price.
func (o *Orchestrator) LatestTick(symbol string) (domain.MarketTick, bool) {
	o.pricesMu.RLock()
	tick, ok := o.prices[symbol]
	o.pricesMu.RUnlock()
	if ok {
		return tick, true
	}
	if ref, ok := o.cfg.ReferencePrices[symbol]; ok {
		return domain.NewTick(symbol, ref, decimal.Zero, o.now()), true
	}
	return domain.MarketTick{}, false
}

func (o *Orchestrator) lookupOrder(id string) (*orderEntry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	en, ok := o.orders[id]
	if !ok {
		return nil, domain.NotFound("order %s", id)
	}
	return en, nil
}

// GetOrder returns a copy of the order.
func (o *Orchestrator) GetOrder(id string) (domain.Order, error) {
	en, err := o.lookupOrder(id)
	if err != nil {
		return domain.Order{}, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.order.Clone(), nil
}

// Orders returns copies of the farm's retained orders in creation order.
func (o *Orchestrator) Orders(farmID string) []domain.Order {
	o.mu.RLock()
	entries := make([]*orderEntry, 0)
	for _, en := range o.orders {
		if en.farmID == farmID {
			entries = append(entries, en)
		}
	}
	o.mu.RUnlock()

	out := make([]domain.Order, 0, len(entries))
	for _, en := range entries {
		en.mu.Lock()
		out = append(out, en.order.Clone())
		en.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// openEntries returns the resting orders, optionally of one symbol or farm.
func (o *Orchestrator) openEntries(match func(*orderEntry) bool) []*orderEntry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*orderEntry, 0, len(o.open))
	for _, en := range o.open {
		if match == nil || match(en) {
			out = append(out, en)
		}
	}
	return out
}

func (o *Orchestrator) openCount(farmID string) int {
	return len(o.openEntries(func(en *orderEntry) bool { return en.farmID == farmID }))
}

// settle drops a terminal order from the resting set and trims retained history.
// Callers hold en.mu.
func (o *Orchestrator) settle(en *orderEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.open, en.order.ID)
	o.finished = append(o.finished, en.order.ID)
	if over := len(o.finished) - o.cfg.HistoryLimit; over > 0 {
		for _, id := range o.finished[:over] {
			delete(o.orders, id)
		}
		o.finished = append([]string(nil), o.finished[over:]...)
	}
}

func (o *Orchestrator) record(order domain.Order) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.AppendOrder(order); err != nil {
		o.logger.Error("failed to persist order", zap.String("order", order.ID), zap.Error(err))
	}
}

func (o *Orchestrator) publish(n domain.Notification) {
	if o.notifier != nil {
		o.notifier.Publish(n)
	}
}
