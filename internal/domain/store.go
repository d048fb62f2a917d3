package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// TradeStore persists trade records. Saves from the engine are
// fire-and-forget: storage failures are logged, never propagated as trade
// failures.
type TradeStore interface {
	Create(ctx context.Context, trade Trade) error
	// SaveTerminal overwrites the record for a trade that reached a
	// terminal status.
	SaveTerminal(ctx context.Context, trade Trade) error
	GetByID(ctx context.Context, id string) (Trade, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Trade, error)
	ListUnresolved(ctx context.Context) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpportunityStore persists detected opportunities.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	MarkAdmitted(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// RiskAssessmentStore persists every gate decision for audit.
type RiskAssessmentStore interface {
	Insert(ctx context.Context, a RiskAssessment) error
	ListByOpportunity(ctx context.Context, oppID string) ([]RiskAssessment, error)
}
