// Package advisory calls the optional external scoring service. The engine
// treats it as a hint source: any failure here degrades to a zero adjustment
// and never blocks admission.
package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// HTTPScorer asks a remote model service to score an opportunity.
type HTTPScorer struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPScorer creates a scorer against the given endpoint. timeout bounds
// the whole request; it should stay well under the dispatcher tick interval.
func NewHTTPScorer(url string, timeout time.Duration, logger *slog.Logger) *HTTPScorer {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &HTTPScorer{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With(slog.String("component", "advisory_scorer")),
	}
}

// scoreRequest is the request envelope sent to the scoring service.
type scoreRequest struct {
	OpportunityID string  `json:"opportunity_id"`
	Pair          string  `json:"pair"`
	BuyVenue      string  `json:"buy_venue"`
	SellVenue     string  `json:"sell_venue"`
	SpreadPercent float64 `json:"spread_percent"`
	Size          float64 `json:"size"`
	Network       string  `json:"network"`
}

// scoreResponse is the service's verdict.
type scoreResponse struct {
	Confidence float64 `json:"confidence"`
	Adjustment float64 `json:"adjustment"`
}

// Score implements domain.AdvisoryScorer. Errors are returned to the caller,
// which treats them as "no adjustment".
func (s *HTTPScorer) Score(ctx context.Context, opp domain.Opportunity) (domain.AdvisoryScore, error) {
	body, err := json.Marshal(scoreRequest{
		OpportunityID: opp.ID,
		Pair:          opp.Pair.String(),
		BuyVenue:      opp.BuyVenue,
		SellVenue:     opp.SellVenue,
		SpreadPercent: opp.SpreadPercent,
		Size:          opp.Size,
		Network:       opp.Network,
	})
	if err != nil {
		return domain.AdvisoryScore{}, fmt.Errorf("advisory: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return domain.AdvisoryScore{}, fmt.Errorf("advisory: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.AdvisoryScore{}, fmt.Errorf("advisory: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return domain.AdvisoryScore{}, fmt.Errorf("advisory: unexpected status %d", resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.AdvisoryScore{}, fmt.Errorf("advisory: decode response: %w", err)
	}

	s.logger.Debug("opportunity scored",
		slog.String("opportunity_id", opp.ID),
		slog.Float64("confidence", out.Confidence),
		slog.Float64("adjustment", out.Adjustment),
	)
	return domain.AdvisoryScore{Confidence: out.Confidence, Adjustment: out.Adjustment}, nil
}

var _ domain.AdvisoryScorer = (*HTTPScorer)(nil)
