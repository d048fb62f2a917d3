package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// RiskAssessmentStore implements domain.RiskAssessmentStore using PostgreSQL.
// Every gate decision is kept for audit, accepted or not.
type RiskAssessmentStore struct {
	pool *pgxpool.Pool
}

// NewRiskAssessmentStore creates a RiskAssessmentStore backed by the given
// pool.
func NewRiskAssessmentStore(pool *pgxpool.Pool) *RiskAssessmentStore {
	return &RiskAssessmentStore{pool: pool}
}

// Insert records one gate decision.
func (s *RiskAssessmentStore) Insert(ctx context.Context, a domain.RiskAssessment) error {
	factors, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("postgres: marshal risk factors: %w", err)
	}

	const query = `
		INSERT INTO risk_assessments (id, opportunity_id, accepted, score, severity, factors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		a.ID, a.OpportunityID, a.Accepted, a.Score, a.Severity, factors, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert risk assessment %s: %w", a.ID, err)
	}
	return nil
}

// ListByOpportunity returns all decisions recorded for an opportunity.
func (s *RiskAssessmentStore) ListByOpportunity(ctx context.Context, oppID string) ([]domain.RiskAssessment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, opportunity_id, accepted, score, severity, factors, created_at
		 FROM risk_assessments WHERE opportunity_id = $1 ORDER BY created_at ASC`,
		oppID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list risk assessments for %s: %w", oppID, err)
	}
	defer rows.Close()

	var out []domain.RiskAssessment
	for rows.Next() {
		var (
			a       domain.RiskAssessment
			factors []byte
		)
		if err := rows.Scan(&a.ID, &a.OpportunityID, &a.Accepted, &a.Score, &a.Severity, &factors, &a.CreatedAt); err != nil {
			return nil, err
		}
		if len(factors) > 0 {
			if err := json.Unmarshal(factors, &a.Factors); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal risk factors: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.RiskAssessmentStore = (*RiskAssessmentStore)(nil)
