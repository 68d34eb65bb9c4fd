// Package agents holds reference decision providers for trading agents.
package agents

import (
	"context"
	"sync"

	"github.com/vadiminshakov/hive/internal/domain"
)

// Provider proposes a trade for one agent.
type Provider interface {
	Propose(ctx context.Context, agentID string, dc domain.DecisionContext) (domain.Proposal, error)
}

// Static answers with a fixed proposal per agent and holds for everyone else.
type Static struct {
	mu        sync.RWMutex
	proposals map[string]domain.Proposal
}

func NewStatic(proposals map[string]domain.Proposal) *Static {
	s := &Static{proposals: make(map[string]domain.Proposal, len(proposals))}
	for id, p := range proposals {
		s.proposals[id] = p
	}
	return s
}

// Set replaces the proposal of an agent.
func (s *Static) Set(agentID string, p domain.Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[agentID] = p
}

func (s *Static) Propose(_ context.Context, agentID string, dc domain.DecisionContext) (domain.Proposal, error) {
	s.mu.RLock()
	p, ok := s.proposals[agentID]
	s.mu.RUnlock()
	if !ok {
		return domain.Proposal{AgentID: agentID, Action: domain.ActionHold, Symbol: dc.Symbol, Reasoning: "no view"}, nil
	}
	p.AgentID = agentID
	if p.Symbol == "" {
		p.Symbol = dc.Symbol
	}
	return p, nil
}

// Router dispatches each agent to its own provider, falling back to a default.
type Router struct {
	mu       sync.RWMutex
	byAgent  map[string]Provider
	fallback Provider
}

func NewRouter(fallback Provider) *Router {
	return &Router{byAgent: make(map[string]Provider), fallback: fallback}
}

// Assign routes agentID to p.
func (r *Router) Assign(agentID string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAgent[agentID] = p
}

func (r *Router) Propose(ctx context.Context, agentID string, dc domain.DecisionContext) (domain.Proposal, error) {
	r.mu.RLock()
	p, ok := r.byAgent[agentID]
	r.mu.RUnlock()
	if !ok {
		p = r.fallback
	}
	if p == nil {
		return domain.Proposal{AgentID: agentID, Action: domain.ActionHold, Symbol: dc.Symbol, Reasoning: "no provider"}, nil
	}
	return p.Propose(ctx, agentID, dc)
}
