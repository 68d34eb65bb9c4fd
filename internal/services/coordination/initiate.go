package coordination

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/hive/internal/domain"
	"github.com/vadiminshakov/hive/internal/runloop"
)

// InitiateConfig describes a coordination started with Initiate.
type InitiateConfig struct {
	Mode            domain.Mode
	Objective       string
	Context         domain.DecisionContext
	TargetAgents    []string
	RequiredRoles   []domain.Role
	MinParticipants int
	MaxParticipants int
	Timeout         time.Duration
	PhaseTimeout    time.Duration
}

// Round is the working state shared by the phases of one coordination.
type Round struct {
	ID        string
	FarmID    string
	Mode      domain.Mode
	Agents    []domain.AgentProfile
	Context   domain.DecisionContext
	Proposals []domain.Proposal
	Decision  *domain.Decision
}

// PhaseFunc runs one phase of a coordination, reading and updating the round.
type PhaseFunc func(ctx context.Context, r *Round) error

var phaseOrder = []domain.Phase{
	domain.PhaseInformationGathering,
	domain.PhaseOptionGeneration,
	domain.PhaseEvaluation,
	domain.PhaseConsensusBuilding,
}

func (e *Engine) defaultPhases() map[domain.Phase]PhaseFunc {
	return map[domain.Phase]PhaseFunc{
		domain.PhaseInformationGathering: e.gatherInformation,
		domain.PhaseOptionGeneration:     e.generateOptions,
		domain.PhaseEvaluation:           e.evaluate,
		domain.PhaseConsensusBuilding:    e.buildConsensus,
	}
}

// Initiate recruits agents of a farm and runs the coordination phases in the background.
// The returned event is active; its outcome is read later with Status.
func (e *Engine) Initiate(ctx context.Context, farmID string, cfg InitiateConfig) (domain.CoordinationEvent, error) {
	mode := domain.ModeCollaborative
	if cfg.Mode != "" {
		parsed, ok := domain.ParseMode(string(cfg.Mode))
		if !ok {
			return domain.CoordinationEvent{}, domain.Validation("unknown coordination mode %q", cfg.Mode)
		}
		mode = parsed
	}
	if e.roster == nil {
		return domain.CoordinationEvent{}, domain.Validation("engine has no agent roster")
	}

	minimum, maximum := cfg.MinParticipants, cfg.MaxParticipants
	if minimum <= 0 {
		minimum = e.cfg.MinParticipants
	}
	if maximum <= 0 {
		maximum = e.cfg.MaxParticipants
	}
	if maximum < minimum {
		return domain.CoordinationEvent{}, domain.Validation("maximum participants %d is below minimum %d", maximum, minimum)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	phaseTimeout := cfg.PhaseTimeout
	if phaseTimeout <= 0 {
		phaseTimeout = e.cfg.PhaseTimeout
	}

	ev := domain.CoordinationEvent{
		ID:        uuid.NewString(),
		FarmID:    farmID,
		Mode:      mode,
		Objective: cfg.Objective,
		Status:    domain.CoordinationInitializing,
		Timeout:   timeout,
		CreatedAt: e.now(),
	}

	agents, err := e.roster.FarmAgents(ctx, farmID)
	if err != nil {
		return domain.CoordinationEvent{}, errors.Wrapf(err, "list agents of farm %s", farmID)
	}

	ev.Status = domain.CoordinationRecruiting
	participants := recruit(agents, cfg, maximum)
	ev.Participants = agentIDs(participants)
	if len(participants) < minimum {
		reason := domain.Validation("farm %s has %d eligible agents, %d required", farmID, len(participants), minimum)
		ev.Status = domain.CoordinationFailed
		ev.Reason = reason.Error()
		ev.CompletedAt = e.now()
		e.archive(ev)
		return ev.Clone(), reason
	}

	ev.Status = domain.CoordinationActive
	ev.StartedAt = e.now()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	en := &entry{event: ev, agents: participants, cancel: cancel}
	e.mu.Lock()
	e.active[ev.ID] = en
	e.mu.Unlock()

	round := &Round{
		ID:      ev.ID,
		FarmID:  farmID,
		Mode:    mode,
		Agents:  participants,
		Context: cfg.Context,
	}
	go e.runPhases(runCtx, en, round, phaseTimeout)

	e.logger.Info("Coordination initiated",
		zap.String("coordination", ev.ID),
		zap.String("farm", farmID),
		zap.String("mode", string(mode)),
		zap.Int("participants", len(participants)),
		zap.Duration("timeout", timeout))
	return ev.Clone(), nil
}

// recruit picks the named targets that belong to the farm, or else every agent
// holding one of the required roles.
func recruit(agents []domain.AgentProfile, cfg InitiateConfig, maximum int) []domain.AgentProfile {
	var out []domain.AgentProfile
	if len(cfg.TargetAgents) > 0 {
		byID := make(map[string]domain.AgentProfile, len(agents))
		for _, a := range agents {
			byID[a.ID] = a
		}
		seen := map[string]bool{}
		for _, id := range cfg.TargetAgents {
			if a, ok := byID[id]; ok && !seen[id] {
				out = append(out, a)
				seen[id] = true
			}
		}
	} else {
		roles := make(map[domain.Role]bool, len(cfg.RequiredRoles))
		for _, r := range cfg.RequiredRoles {
			roles[r] = true
		}
		for _, a := range sortedByID(agents) {
			if len(roles) == 0 || roles[a.Role] {
				out = append(out, a)
			}
		}
	}
	if len(out) > maximum {
		out = out[:maximum]
	}
	return out
}

func (e *Engine) runPhases(ctx context.Context, en *entry, r *Round, phaseTimeout time.Duration) {
	for _, phase := range phaseOrder {
		if !e.enterPhase(en, phase) {
			return
		}
		fn, ok := e.phases[phase]
		if !ok || fn == nil {
			continue
		}
		if err := e.runPhase(ctx, phase, fn, r, phaseTimeout); err != nil {
			if ctx.Err() != nil {
				// expired by the sweeper
				return
			}
			status := domain.CoordinationFailed
			if errors.Is(err, domain.ErrTimeout) {
				status = domain.CoordinationTimeout
			}
			e.finish(en, status, nil, err.Error())
			return
		}

		en.mu.Lock()
		en.event.Proposals = append([]domain.Proposal(nil), r.Proposals...)
		en.mu.Unlock()
	}

	if r.Decision == nil {
		d := Resolve(r.Mode, r.Context, r.Proposals, r.Agents, e.cfg.ConsensusThreshold)
		r.Decision = &d
	}
	e.finish(en, domain.CoordinationCompleted, r.Decision, r.Decision.Reason)
}

// runPhase bounds fn by the phase timeout even when fn ignores its context.
func (e *Engine) runPhase(ctx context.Context, phase domain.Phase, fn PhaseFunc, r *Round, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runloop.Once(ctx, func(ctx context.Context) error { return fn(ctx, r) })
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrapf(err, "phase %s", phase)
		}
		return nil
	case <-ctx.Done():
		return domain.Timeout("phase %s exceeded %s", phase, timeout)
	}
}

func (e *Engine) enterPhase(en *entry, phase domain.Phase) bool {
	en.mu.Lock()
	defer en.mu.Unlock()
	if en.event.Status.IsTerminal() {
		return false
	}
	en.event.Phase = phase
	return true
}

// finish moves the coordination to a terminal state unless the sweeper got there first.
func (e *Engine) finish(en *entry, status domain.CoordinationStatus, decision *domain.Decision, reason string) {
	en.mu.Lock()
	if en.event.Status.IsTerminal() {
		en.mu.Unlock()
		return
	}
	en.event.Status = status
	en.event.Decision = decision
	en.event.Reason = reason
	en.event.CompletedAt = e.now()
	ev := en.event.Clone()
	en.mu.Unlock()
	en.cancel()

	e.archive(ev)

	severity := domain.SeverityInfo
	if status != domain.CoordinationCompleted {
		severity = domain.SeverityWarning
		e.logger.Warn("Coordination failed", zap.String("coordination", ev.ID), zap.String("status", string(status)), zap.String("reason", reason))
	} else {
		e.logger.Info("Coordination completed",
			zap.String("coordination", ev.ID),
			zap.String("outcome", string(decision.Outcome)),
			zap.String("action", string(decision.Action)))
	}
	e.publish(ev, severity, reason)
}

func (e *Engine) gatherInformation(_ context.Context, r *Round) error {
	r.Context = e.normalizeContext(r.Context)
	r.Context.FarmID = r.FarmID
	if r.Context.Symbol == "" && r.Mode != domain.ModeAutonomous {
		return domain.Validation("decision context has no symbol")
	}
	return nil
}

func (e *Engine) generateOptions(ctx context.Context, r *Round) error {
	if r.Mode == domain.ModeAutonomous {
		return nil
	}
	r.Proposals = e.collect(ctx, r.Agents, r.Context)
	return nil
}

// evaluate keeps one proposal per participant, filling gaps with holds.
func (e *Engine) evaluate(_ context.Context, r *Round) error {
	if r.Mode == domain.ModeAutonomous {
		return nil
	}
	byAgent := make(map[string]domain.Proposal, len(r.Proposals))
	for _, p := range r.Proposals {
		if _, dup := byAgent[p.AgentID]; !dup {
			byAgent[p.AgentID] = p
		}
	}
	out := make([]domain.Proposal, 0, len(r.Agents))
	for _, a := range r.Agents {
		p, ok := byAgent[a.ID]
		if !ok {
			p = domain.ImplicitHold(a.ID, r.Context.Symbol, "no proposal")
		}
		out = append(out, p)
	}
	r.Proposals = out
	return nil
}

func (e *Engine) buildConsensus(_ context.Context, r *Round) error {
	d := Resolve(r.Mode, r.Context, r.Proposals, r.Agents, e.cfg.ConsensusThreshold)
	r.Decision = &d
	return nil
}
