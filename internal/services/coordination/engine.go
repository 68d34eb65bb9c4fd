// Package coordination resolves the proposals of a farm's agents into one trading decision.
package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/hive/internal/domain"
	"github.com/vadiminshakov/hive/internal/runloop"
)

// Roster lists the agents of a farm.
type Roster interface {
	FarmAgents(ctx context.Context, farmID string) ([]domain.AgentProfile, error)
}

// DecisionProvider asks one agent for its recommendation.
type DecisionProvider interface {
	Propose(ctx context.Context, agentID string, dc domain.DecisionContext) (domain.Proposal, error)
}

// Recorder persists finished coordinations.
type Recorder interface {
	AppendCoordination(domain.CoordinationEvent) error
}

// Notifier publishes coordination events.
type Notifier interface {
	Publish(domain.Notification)
}

type Config struct {
	ConsensusThreshold decimal.Decimal
	MinParticipants    int
	MaxParticipants    int
	ProposalTimeout    time.Duration
	PhaseTimeout       time.Duration
	Timeout            time.Duration
	SweepInterval      time.Duration
	DefaultQuantity    decimal.Decimal
	HistoryLimit       int
}

func DefaultConfig() Config {
	return Config{
		ConsensusThreshold: decimal.NewFromFloat(0.6),
		MinParticipants:    2,
		MaxParticipants:    8,
		ProposalTimeout:    30 * time.Second,
		PhaseTimeout:       60 * time.Second,
		Timeout:            300 * time.Second,
		SweepInterval:      30 * time.Second,
		DefaultQuantity:    decimal.NewFromInt(1000),
		HistoryLimit:       1000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if !c.ConsensusThreshold.IsPositive() {
		c.ConsensusThreshold = def.ConsensusThreshold
	}
	if c.MinParticipants <= 0 {
		c.MinParticipants = def.MinParticipants
	}
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = def.MaxParticipants
	}
	if c.ProposalTimeout <= 0 {
		c.ProposalTimeout = def.ProposalTimeout
	}
	if c.PhaseTimeout <= 0 {
		c.PhaseTimeout = def.PhaseTimeout
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if !c.DefaultQuantity.IsPositive() {
		c.DefaultQuantity = def.DefaultQuantity
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	return c
}

// Stats counts finished coordinations by outcome.
type Stats struct {
	Completed int `json:"completed"`
	Executed  int `json:"executed"`
	NoAction  int `json:"no_action"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
}

// ConsensusRate is the share of completed rounds that produced an executable plan.
func (s Stats) ConsensusRate() decimal.Decimal {
	if s.Completed == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.Executed)).Div(decimal.NewFromInt(int64(s.Completed)))
}

type entry struct {
	mu     sync.Mutex
	event  domain.CoordinationEvent
	agents []domain.AgentProfile
	cancel context.CancelFunc
}

// Engine runs coordination rounds for farms.
type Engine struct {
	cfg      Config
	roster   Roster
	provider DecisionProvider
	recorder Recorder
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	phases   map[domain.Phase]PhaseFunc

	mu      sync.RWMutex
	active  map[string]*entry
	history []domain.CoordinationEvent
	stats   Stats
}

type Option func(*Engine)

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPhase replaces the handler of one phase of initiated coordinations.
func WithPhase(phase domain.Phase, fn PhaseFunc) Option {
	return func(e *Engine) { e.phases[phase] = fn }
}

// NewEngine creates a coordination engine.
func NewEngine(cfg Config, roster Roster, provider DecisionProvider, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:      cfg.withDefaults(),
		roster:   roster,
		provider: provider,
		logger:   logger.With(zap.String("component", "coordination")),
		now:      time.Now,
		active:   make(map[string]*entry),
	}
	e.phases = e.defaultPhases()
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Status returns an active or archived coordination.
func (e *Engine) Status(id string) (domain.CoordinationEvent, error) {
	e.mu.RLock()
	en, ok := e.active[id]
	e.mu.RUnlock()
	if ok {
		en.mu.Lock()
		defer en.mu.Unlock()
		return en.event.Clone(), nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == id {
			return e.history[i].Clone(), nil
		}
	}
	return domain.CoordinationEvent{}, domain.NotFound("coordination %s", id)
}

// Active lists coordinations still in flight.
func (e *Engine) Active() []domain.CoordinationEvent {
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.active))
	for _, en := range e.active {
		entries = append(entries, en)
	}
	e.mu.RUnlock()

	out := make([]domain.CoordinationEvent, 0, len(entries))
	for _, en := range entries {
		en.mu.Lock()
		out = append(out, en.event.Clone())
		en.mu.Unlock()
	}
	return out
}

// History returns up to limit of the most recent finished coordinations, oldest first.
func (e *Engine) History(limit int) []domain.CoordinationEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	start := 0
	if limit > 0 && len(e.history) > limit {
		start = len(e.history) - limit
	}
	out := make([]domain.CoordinationEvent, 0, len(e.history)-start)
	for _, ev := range e.history[start:] {
		out = append(out, ev.Clone())
	}
	return out
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// SweepExpired moves every active coordination past its deadline to timeout and
// stops its background process. It returns the ids it expired.
func (e *Engine) SweepExpired(now time.Time) []string {
	e.mu.RLock()
	candidates := make([]*entry, 0, len(e.active))
	for _, en := range e.active {
		candidates = append(candidates, en)
	}
	e.mu.RUnlock()

	var expired []string
	for _, en := range candidates {
		en.mu.Lock()
		if en.event.Status.IsTerminal() || !now.After(en.event.Deadline()) {
			en.mu.Unlock()
			continue
		}
		en.event.Status = domain.CoordinationTimeout
		en.event.Reason = domain.Timeout("coordination exceeded its %s deadline", en.event.Timeout).Error()
		en.event.CompletedAt = now
		if en.cancel != nil {
			en.cancel()
		}
		ev := en.event.Clone()
		en.mu.Unlock()

		e.archive(ev)
		expired = append(expired, ev.ID)
		e.logger.Warn("Coordination timed out", zap.String("coordination", ev.ID), zap.String("farm", ev.FarmID))
		e.publish(ev, domain.SeverityWarning, "coordination timed out")
	}
	return expired
}

// Run sweeps expired coordinations until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	err := runloop.Every(ctx, e.logger, "coordination-sweep", e.cfg.SweepInterval, func(ctx context.Context) error {
		e.SweepExpired(e.now())
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// archive moves a terminal event into history and out of the active set.
func (e *Engine) archive(ev domain.CoordinationEvent) {
	e.mu.Lock()
	delete(e.active, ev.ID)
	e.history = append(e.history, ev)
	if over := len(e.history) - e.cfg.HistoryLimit; over > 0 {
		e.history = append([]domain.CoordinationEvent(nil), e.history[over:]...)
	}
	switch ev.Status {
	case domain.CoordinationCompleted:
		e.stats.Completed++
		if ev.Decision != nil && ev.Decision.Executable() {
			e.stats.Executed++
		} else {
			e.stats.NoAction++
		}
	case domain.CoordinationFailed:
		e.stats.Failed++
	case domain.CoordinationTimeout:
		e.stats.TimedOut++
	}
	e.mu.Unlock()

	if e.recorder != nil {
		if err := e.recorder.AppendCoordination(ev); err != nil {
			e.logger.Error("failed to persist coordination", zap.String("coordination", ev.ID), zap.Error(err))
		}
	}
}

func (e *Engine) publish(ev domain.CoordinationEvent, severity domain.Severity, message string) {
	if e.notifier == nil {
		return
	}
	fields := map[string]string{
		"farm":   ev.FarmID,
		"mode":   string(ev.Mode),
		"status": string(ev.Status),
	}
	if ev.Decision != nil {
		fields["outcome"] = string(ev.Decision.Outcome)
		if ev.Decision.Action != "" {
			fields["action"] = string(ev.Decision.Action)
			fields["quantity"] = ev.Decision.TotalQuantity.String()
		}
	}
	e.notifier.Publish(domain.Notification{
		Topic:    domain.TopicCoordination,
		Kind:     string(ev.Status),
		Severity: severity,
		Subject:  ev.ID,
		Message:  message,
		Fields:   fields,
	})
}
