package domain

import "context"

// EventType names the well-defined points where the engine calls out to the
// notification collaborator.
type EventType string

const (
	EventOpportunitiesDetected EventType = "opportunities_detected"
	EventTradeCompleted        EventType = "trade_completed"
	EventTradeFailed           EventType = "trade_failed"
	EventSellFailedUnresolved  EventType = "sell_failed_unresolved"
	EventRiskRejected          EventType = "risk_rejected"
)

// EventSeverity ranks an event for routing and filtering.
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityCritical EventSeverity = "critical"
)

// Event is an outbound notification. SellFailedUnresolved events are always
// critical.
type Event struct {
	Type     EventType      `json:"type"`
	Severity EventSeverity  `json:"severity"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Notifier is the outbound notification collaborator. Calls from the engine
// are fire-and-forget: a failed delivery never affects trade correctness.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// AdvisoryScore is the optional scoring collaborator's output. Adjustment is
// clamped to [-0.1, 0.1] and only shifts ranking weight, never admission.
type AdvisoryScore struct {
	Confidence float64
	Adjustment float64
}

// AdvisoryScorer is the optional, best-effort opportunity scoring hook. The
// engine must work correctly with it absent or erroring.
type AdvisoryScorer interface {
	Score(ctx context.Context, opp Opportunity) (AdvisoryScore, error)
}
