package execution

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vadiminshakov/hive/internal/domain"
)

// Limits are the risk limits of a trading session.
type Limits struct {
	MaxPositionSize decimal.Decimal `json:"max_position_size"`
	MaxDailyLoss    decimal.Decimal `json:"max_daily_loss"`
	MaxOpenOrders   int             `json:"max_open_orders"`
	MaxFarmExposure decimal.Decimal `json:"max_farm_exposure"`
	StopLossPct     decimal.Decimal `json:"stop_loss_pct"`
	OrdersPerMinute int             `json:"orders_per_minute"`
	AutoReduce      bool            `json:"auto_reduce"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxPositionSize: decimal.NewFromInt(100000),
		MaxDailyLoss:    decimal.NewFromInt(5000),
		MaxOpenOrders:   50,
		MaxFarmExposure: decimal.NewFromInt(50000),
		StopLossPct:     decimal.NewFromInt(5),
		OrdersPerMinute: 100,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if !l.MaxPositionSize.IsPositive() {
		l.MaxPositionSize = def.MaxPositionSize
	}
	if !l.MaxDailyLoss.IsPositive() {
		l.MaxDailyLoss = def.MaxDailyLoss
	}
	if l.MaxOpenOrders <= 0 {
		l.MaxOpenOrders = def.MaxOpenOrders
	}
	if !l.MaxFarmExposure.IsPositive() {
		l.MaxFarmExposure = def.MaxFarmExposure
	}
	if !l.StopLossPct.IsPositive() {
		l.StopLossPct = def.StopLossPct
	}
	if l.OrdersPerMinute <= 0 {
		l.OrdersPerMinute = def.OrdersPerMinute
	}
	return l
}

type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionHalted  SessionStatus = "halted"
	SessionStopped SessionStatus = "stopped"
)

// SessionConfig describes a session to start. Agent capital is read from the
// capital source when AgentCapital is empty.
type SessionConfig struct {
	FarmID       string
	AgentIDs     []string
	AgentCapital map[string]decimal.Decimal
	Symbols      []string
	Mode         domain.Mode
	Limits       Limits
}

// Session is a snapshot of a trading session.
type Session struct {
	ID           string                     `json:"id"`
	FarmID       string                     `json:"farm_id"`
	AgentIDs     []string                   `json:"agent_ids"`
	AgentCapital map[string]decimal.Decimal `json:"agent_capital"`
	Capital      decimal.Decimal            `json:"capital"`
	Symbols      []string                   `json:"symbols"`
	Mode         domain.Mode                `json:"mode"`
	Limits       Limits                     `json:"limits"`
	Status       SessionStatus              `json:"status"`
	HaltReason   string                     `json:"halt_reason,omitempty"`
	StartedAt    time.Time                  `json:"started_at"`
	StoppedAt    time.Time                  `json:"stopped_at,omitempty"`
}

type session struct {
	mu      sync.Mutex
	info    Session
	limiter *rate.Limiter
}

func (s *session) snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.info
	out.AgentIDs = append([]string(nil), s.info.AgentIDs...)
	out.Symbols = append([]string(nil), s.info.Symbols...)
	out.AgentCapital = make(map[string]decimal.Decimal, len(s.info.AgentCapital))
	for k, v := range s.info.AgentCapital {
		out.AgentCapital[k] = v
	}
	return out
}

func (s *session) status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Status
}

func (s *session) hasAgent(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.info.AgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// StartSession opens a trading session for a farm. A farm has at most one live session.
func (o *Orchestrator) StartSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	if cfg.FarmID == "" {
		return Session{}, domain.Validation("session needs a farm")
	}
	mode := domain.ModeCollaborative
	if cfg.Mode != "" {
		parsed, ok := domain.ParseMode(string(cfg.Mode))
		if !ok {
			return Session{}, domain.Validation("unknown coordination mode %q", cfg.Mode)
		}
		mode = parsed
	}

	capital, agents, err := o.sessionCapital(ctx, cfg)
	if err != nil {
		return Session{}, err
	}
	if len(agents) == 0 {
		return Session{}, domain.Validation("session for farm %s needs at least one agent", cfg.FarmID)
	}

	symbols := cfg.Symbols
	if len(symbols) == 0 {
		symbols = []string{"BTC/USD", "ETH/USD"}
	}
	limits := cfg.Limits.withDefaults()

	total := decimal.Zero
	for _, c := range capital {
		total = total.Add(c)
	}

	s := &session{
		info: Session{
			ID:           uuid.NewString(),
			FarmID:       cfg.FarmID,
			AgentIDs:     agents,
			AgentCapital: capital,
			Capital:      total,
			Symbols:      append([]string(nil), symbols...),
			Mode:         mode,
			Limits:       limits,
			Status:       SessionActive,
			StartedAt:    o.now(),
		},
		limiter: rate.NewLimiter(rate.Limit(float64(limits.OrdersPerMinute)/60), limits.OrdersPerMinute),
	}

	o.mu.Lock()
	if prevID, ok := o.farmSession[cfg.FarmID]; ok {
		if prev := o.sessions[prevID]; prev != nil && prev.status() == SessionActive {
			o.mu.Unlock()
			return Session{}, domain.Validation("farm %s already has active session %s", cfg.FarmID, prevID)
		}
	}
	o.sessions[s.info.ID] = s
	o.farmSession[cfg.FarmID] = s.info.ID
	o.mu.Unlock()

	o.logger.Info("Trading session started",
		zap.String("session", s.info.ID),
		zap.String("farm", cfg.FarmID),
		zap.Int("agents", len(agents)),
		zap.String("capital", total.String()),
		zap.Strings("symbols", symbols))
	return s.snapshot(), nil
}

func (o *Orchestrator) sessionCapital(ctx context.Context, cfg SessionConfig) (map[string]decimal.Decimal, []string, error) {
	capital := make(map[string]decimal.Decimal)
	if len(cfg.AgentCapital) > 0 {
		for id, c := range cfg.AgentCapital {
			if c.IsNegative() {
				return nil, nil, domain.Validation("agent %s has negative capital", id)
			}
			capital[id] = c
		}
		for _, id := range cfg.AgentIDs {
			if _, ok := capital[id]; !ok {
				capital[id] = decimal.Zero
			}
		}
		return capital, sortedKeys(capital), nil
	}

	if o.capital == nil {
		for _, id := range cfg.AgentIDs {
			capital[id] = decimal.Zero
		}
		return capital, sortedKeys(capital), nil
	}

	profiles, err := o.capital.FarmAgents(ctx, cfg.FarmID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read capital of farm %s", cfg.FarmID)
	}
	wanted := make(map[string]bool, len(cfg.AgentIDs))
	for _, id := range cfg.AgentIDs {
		wanted[id] = true
	}
	for _, p := range profiles {
		if len(wanted) == 0 || wanted[p.ID] {
			capital[p.ID] = p.Capital
		}
	}
	for id := range wanted {
		if _, ok := capital[id]; !ok {
			return nil, nil, domain.NotFound("agent %s in farm %s", id, cfg.FarmID)
		}
	}
	return capital, sortedKeys(capital), nil
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (o *Orchestrator) lookupSession(id string) (*session, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[id]
	if !ok {
		return nil, domain.NotFound("session %s", id)
	}
	return s, nil
}

// farmSessionOf returns the most recent session of a farm.
func (o *Orchestrator) farmSessionOf(farmID string) (*session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	id, ok := o.farmSession[farmID]
	if !ok {
		return nil, false
	}
	s, ok := o.sessions[id]
	return s, ok
}

// GetSession returns a snapshot of a session.
func (o *Orchestrator) GetSession(id string) (Session, error) {
	s, err := o.lookupSession(id)
	if err != nil {
		return Session{}, err
	}
	return s.snapshot(), nil
}

// ActiveSession returns the live session of a farm.
func (o *Orchestrator) ActiveSession(farmID string) (Session, bool) {
	s, ok := o.farmSessionOf(farmID)
	if !ok || s.status() != SessionActive {
		return Session{}, false
	}
	return s.snapshot(), true
}

// Sessions lists every session in start order.
func (o *Orchestrator) Sessions() []Session {
	o.mu.RLock()
	all := make([]*session, 0, len(o.sessions))
	for _, s := range o.sessions {
		all = append(all, s)
	}
	o.mu.RUnlock()

	out := make([]Session, 0, len(all))
	for _, s := range all {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// StopReport is the final state of a stopped session.
type StopReport struct {
	Session     Session                    `json:"session"`
	Performance Performance                `json:"performance"`
	AgentPnL    map[string]decimal.Decimal `json:"agent_pnl"`
	Cancelled   int                        `json:"cancelled_orders"`
	Closed      []domain.Order             `json:"closing_orders,omitempty"`
}

// StopSession cancels the session's open orders, optionally flattens its positions
// and marks it stopped.
func (o *Orchestrator) StopSession(ctx context.Context, id string, closePositions bool) (StopReport, error) {
	s, err := o.lookupSession(id)
	if err != nil {
		return StopReport{}, err
	}
	s.mu.Lock()
	if s.info.Status == SessionStopped {
		s.mu.Unlock()
		return StopReport{}, domain.Validation("session %s is already stopped", id)
	}
	s.info.Status = SessionStopped
	s.info.StoppedAt = o.now()
	farmID := s.info.FarmID
	s.mu.Unlock()

	report := StopReport{Cancelled: o.cancelSessionOrders(id, "session stopped")}
	if closePositions {
		report.Closed = o.closePositions(ctx, s, decimal.NewFromInt(1), "session stopped")
	}

	report.Session = s.snapshot()
	report.Performance = o.GetPerformance(farmID)
	report.AgentPnL = make(map[string]decimal.Decimal, len(report.Session.AgentIDs))
	for _, agentID := range report.Session.AgentIDs {
		report.AgentPnL[agentID] = o.realizedPnL(agentID)
	}

	o.logger.Info("Trading session stopped",
		zap.String("session", id),
		zap.String("farm", farmID),
		zap.Int("cancelled", report.Cancelled),
		zap.Int("closing_orders", len(report.Closed)),
		zap.String("realized_pnl", report.Performance.RealizedPnL.String()))
	return report, nil
}

func (o *Orchestrator) halt(s *session, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info.Status != SessionActive {
		return false
	}
	s.info.Status = SessionHalted
	s.info.HaltReason = reason
	return true
}
