package domain

import "time"

// Severity orders notifications by urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notification topics.
const (
	TopicCoordination = "coordination"
	TopicRisk         = "risk"
	TopicWallet       = "wallet"
	TopicOrder        = "order"
	TopicMessage      = "agent_message"
)

// Notification is a fire-and-forget event for observers of the engine.
type Notification struct {
	Topic     string            `json:"topic"`
	Kind      string            `json:"kind"`
	Severity  Severity          `json:"severity"`
	Subject   string            `json:"subject"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"ts"`
}
