package domain

import "time"

// RiskSeverity buckets a composite risk score.
type RiskSeverity string

const (
	RiskSeverityLow      RiskSeverity = "low"
	RiskSeverityMedium   RiskSeverity = "medium"
	RiskSeverityHigh     RiskSeverity = "high"
	RiskSeverityCritical RiskSeverity = "critical"
)

// RiskFactor is one scored check from the risk gate. Severity is in [0,1];
// Hard marks a check that fails outright rather than just contributing score.
type RiskFactor struct {
	Name     string  `json:"name"`
	Category string  `json:"category"` // "market", "liquidity", "execution", "other"
	Severity float64 `json:"severity"`
	Hard     bool    `json:"hard"`
	Detail   string  `json:"detail,omitempty"`
}

// RiskAssessment is the risk gate's decision for one opportunity. Rejections
// are final: the opportunity is never retried or re-queued.
type RiskAssessment struct {
	ID            string       `json:"id"`
	OpportunityID string       `json:"opportunity_id"`
	Accepted      bool         `json:"accepted"`
	Score         float64      `json:"score"`
	Severity      RiskSeverity `json:"severity"`
	Factors       []RiskFactor `json:"factors"`
	CreatedAt     time.Time    `json:"created_at"`
}

// OpenPosition is a currently held position, used for correlation checks.
type OpenPosition struct {
	Pair     TokenPair
	Notional float64
}

// RollingState is the mutable risk state a gate evaluation runs against.
// It is a snapshot: evaluating the same opportunity against the same snapshot
// twice yields the same decision.
type RollingState struct {
	DailyRealizedLoss float64
	OpenPositions     []OpenPosition
	ActiveTrades      int
}
