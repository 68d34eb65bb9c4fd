package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode is the protocol used to resolve proposals into one decision.
type Mode string

const (
	ModeAutonomous    Mode = "autonomous"
	ModeConsensus     Mode = "consensus"
	ModeHierarchical  Mode = "hierarchical"
	ModeDistributed   Mode = "distributed"
	ModeCollaborative Mode = "collaborative"
)

// ParseMode maps a configured mode name to a Mode; "standard" is an alias of collaborative.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeAutonomous, ModeConsensus, ModeHierarchical, ModeDistributed, ModeCollaborative:
		return Mode(s), true
	case "standard":
		return ModeCollaborative, true
	}
	return "", false
}

// CoordinationStatus tracks a coordination through its lifecycle.
type CoordinationStatus string

const (
	CoordinationPending      CoordinationStatus = "pending"
	CoordinationInitializing CoordinationStatus = "initializing"
	CoordinationRecruiting   CoordinationStatus = "recruiting"
	CoordinationActive       CoordinationStatus = "active"
	CoordinationCompleted    CoordinationStatus = "completed"
	CoordinationFailed       CoordinationStatus = "failed"
	CoordinationTimeout      CoordinationStatus = "timeout"
)

// IsTerminal reports whether no further transitions are allowed.
func (s CoordinationStatus) IsTerminal() bool {
	switch s {
	case CoordinationCompleted, CoordinationFailed, CoordinationTimeout:
		return true
	}
	return false
}

// Phase is a step of an initiated coordination.
type Phase string

const (
	PhaseInformationGathering Phase = "information_gathering"
	PhaseOptionGeneration     Phase = "option_generation"
	PhaseEvaluation           Phase = "evaluation"
	PhaseConsensusBuilding    Phase = "consensus_building"
)

// Outcome is the explicit result of resolving a coordination round.
type Outcome string

const (
	OutcomeExecute    Outcome = "execute"
	OutcomeNoAction   Outcome = "no_action"
	OutcomeAutonomous Outcome = "autonomous"
)

// AgentAllocation is one agent's share of an execution plan.
type AgentAllocation struct {
	AgentID     string          `json:"agent_id"`
	Action      Action          `json:"action"`
	Quantity    decimal.Decimal `json:"quantity"`
	TargetPrice decimal.Decimal `json:"target_price,omitempty"`
}

// Decision is the resolved plan of a coordination round.
type Decision struct {
	Outcome       Outcome           `json:"outcome"`
	Mode          Mode              `json:"mode"`
	Action        Action            `json:"action,omitempty"`
	Symbol        string            `json:"symbol,omitempty"`
	TotalQuantity decimal.Decimal   `json:"total_quantity"`
	AveragePrice  decimal.Decimal   `json:"average_price"`
	Allocations   []AgentAllocation `json:"allocations,omitempty"`
	Votes         map[Action]int    `json:"votes,omitempty"`
	LeadAgent     string            `json:"lead_agent,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// Executable reports whether the decision carries orders to place.
func (d Decision) Executable() bool {
	return d.Outcome == OutcomeExecute && len(d.Allocations) > 0
}

// AgentMessage is a message exchanged between participants of a coordination.
type AgentMessage struct {
	From   string    `json:"from"`
	To     []string  `json:"to,omitempty"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// CoordinationEvent is the decision record of one coordination.
type CoordinationEvent struct {
	ID           string             `json:"id"`
	FarmID       string             `json:"farm_id"`
	Mode         Mode               `json:"mode"`
	Objective    string             `json:"objective,omitempty"`
	Participants []string           `json:"participants"`
	Proposals    []Proposal         `json:"proposals,omitempty"`
	Status       CoordinationStatus `json:"status"`
	Phase        Phase              `json:"phase,omitempty"`
	Decision     *Decision          `json:"final_decision,omitempty"`
	Messages     []AgentMessage     `json:"messages,omitempty"`
	Reason       string             `json:"reason,omitempty"`
	Timeout      time.Duration      `json:"timeout"`
	CreatedAt    time.Time          `json:"created_at"`
	StartedAt    time.Time          `json:"started_at"`
	CompletedAt  time.Time          `json:"completed_at"`
}

// Deadline returns the instant after which the coordination is overdue.
func (e CoordinationEvent) Deadline() time.Time {
	return e.StartedAt.Add(e.Timeout)
}

// Clone returns a deep copy safe to hand to callers.
func (e CoordinationEvent) Clone() CoordinationEvent {
	out := e
	out.Participants = append([]string(nil), e.Participants...)
	out.Proposals = append([]Proposal(nil), e.Proposals...)
	out.Messages = append([]AgentMessage(nil), e.Messages...)
	if e.Decision != nil {
		d := *e.Decision
		d.Allocations = append([]AgentAllocation(nil), e.Decision.Allocations...)
		if e.Decision.Votes != nil {
			d.Votes = make(map[Action]int, len(e.Decision.Votes))
			for k, v := range e.Decision.Votes {
				d.Votes[k] = v
			}
		}
		out.Decision = &d
	}
	return out
}
