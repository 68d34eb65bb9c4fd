package coordination

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/hive/internal/domain"
)

// CoordinateDecision runs one synchronous round among agents and archives the result.
func (e *Engine) CoordinateDecision(ctx context.Context, dc domain.DecisionContext, agents []domain.AgentProfile, mode domain.Mode) (domain.CoordinationEvent, error) {
	if len(agents) == 0 {
		return domain.CoordinationEvent{}, domain.Validation("coordination needs at least one agent")
	}
	parsed, ok := domain.ParseMode(string(mode))
	if !ok {
		return domain.CoordinationEvent{}, domain.Validation("unknown coordination mode %q", mode)
	}
	mode = parsed
	dc = e.normalizeContext(dc)

	now := e.now()
	ev := domain.CoordinationEvent{
		ID:           uuid.NewString(),
		FarmID:       dc.FarmID,
		Mode:         mode,
		Participants: agentIDs(agents),
		Status:       domain.CoordinationActive,
		Phase:        domain.PhaseConsensusBuilding,
		Timeout:      e.cfg.ProposalTimeout,
		CreatedAt:    now,
		StartedAt:    now,
	}

	var proposals []domain.Proposal
	if mode != domain.ModeAutonomous {
		proposals = e.collect(ctx, agents, dc)
	}
	decision := Resolve(mode, dc, proposals, agents, e.cfg.ConsensusThreshold)

	ev.Proposals = proposals
	ev.Decision = &decision
	ev.Status = domain.CoordinationCompleted
	ev.CompletedAt = e.now()
	e.archive(ev)

	e.logger.Info("Coordination round resolved",
		zap.String("coordination", ev.ID),
		zap.String("farm", ev.FarmID),
		zap.String("mode", string(mode)),
		zap.String("outcome", string(decision.Outcome)),
		zap.String("action", string(decision.Action)),
		zap.String("quantity", decision.TotalQuantity.String()))
	e.publish(ev, domain.SeverityInfo, decision.Reason)
	return ev.Clone(), nil
}

func (e *Engine) normalizeContext(dc domain.DecisionContext) domain.DecisionContext {
	if !dc.Quantity.IsPositive() {
		dc.Quantity = e.cfg.DefaultQuantity
	}
	return dc
}

// collect asks every agent for a proposal concurrently. Agents that fail or miss
// the deadline are counted as holding.
func (e *Engine) collect(ctx context.Context, agents []domain.AgentProfile, dc domain.DecisionContext) []domain.Proposal {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ProposalTimeout)
	defer cancel()

	out := make([]domain.Proposal, len(agents))
	var g errgroup.Group
	for i, a := range agents {
		g.Go(func() error {
			out[i] = e.propose(ctx, a.ID, dc)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

type proposalResult struct {
	proposal domain.Proposal
	err      error
}

func (e *Engine) propose(ctx context.Context, agentID string, dc domain.DecisionContext) domain.Proposal {
	if e.provider == nil {
		return domain.ImplicitHold(agentID, dc.Symbol, "no decision provider")
	}

	ch := make(chan proposalResult, 1)
	go func() {
		p, err := e.provider.Propose(ctx, agentID, dc)
		ch <- proposalResult{proposal: p, err: err}
	}()

	select {
	case <-ctx.Done():
		e.logger.Warn("agent missed the proposal deadline", zap.String("agent", agentID))
		return domain.ImplicitHold(agentID, dc.Symbol, "proposal deadline exceeded")
	case res := <-ch:
		if res.err != nil {
			e.logger.Warn("agent proposal failed", zap.String("agent", agentID), zap.Error(res.err))
			return domain.ImplicitHold(agentID, dc.Symbol, "proposal failed: "+res.err.Error())
		}
		return e.sanitize(agentID, dc, res.proposal)
	}
}

// sanitize fills the defaults of a proposal and demotes malformed ones to holds.
func (e *Engine) sanitize(agentID string, dc domain.DecisionContext, p domain.Proposal) domain.Proposal {
	p.AgentID = agentID
	if p.Symbol == "" {
		p.Symbol = dc.Symbol
	}
	if !p.Action.IsValid() || p.Quantity.IsNegative() || p.Price.IsNegative() {
		return domain.ImplicitHold(agentID, dc.Symbol, "malformed proposal")
	}
	if !p.Price.IsPositive() {
		p.Price = dc.CurrentPrice
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = e.now()
	}
	return p
}

func agentIDs(agents []domain.AgentProfile) []string {
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	return ids
}

// SendMessage delivers a message between participants of an active coordination.
// An empty to broadcasts to every other participant.
func (e *Engine) SendMessage(coordID, from string, to []string, body string) (domain.AgentMessage, error) {
	e.mu.RLock()
	en, ok := e.active[coordID]
	e.mu.RUnlock()
	if !ok {
		return domain.AgentMessage{}, domain.NotFound("active coordination %s", coordID)
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	if en.event.Status.IsTerminal() {
		return domain.AgentMessage{}, domain.Validation("coordination %s is %s", coordID, en.event.Status)
	}

	members := make(map[string]bool, len(en.event.Participants))
	for _, id := range en.event.Participants {
		members[id] = true
	}
	if !members[from] {
		return domain.AgentMessage{}, domain.Validation("agent %s does not take part in coordination %s", from, coordID)
	}
	if len(to) == 0 {
		for _, id := range en.event.Participants {
			if id != from {
				to = append(to, id)
			}
		}
	}
	for _, id := range to {
		if !members[id] {
			return domain.AgentMessage{}, domain.Validation("agent %s does not take part in coordination %s", id, coordID)
		}
	}

	msg := domain.AgentMessage{From: from, To: append([]string(nil), to...), Body: body, SentAt: e.now()}
	en.event.Messages = append(en.event.Messages, msg)

	if e.notifier != nil {
		e.notifier.Publish(domain.Notification{
			Topic:   domain.TopicMessage,
			Kind:    "agent_message",
			Subject: coordID,
			Message: body,
			Fields:  map[string]string{"from": from, "recipients": strconv.Itoa(len(to))},
		})
	}
	return msg, nil
}
