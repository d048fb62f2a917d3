package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// ArchiverConfig controls how far back records are retained in hot storage
// and how often the archive sweep runs.
type ArchiverConfig struct {
	Retention time.Duration
	Interval  time.Duration
}

// ArchiveResult reports one sweep's work.
type ArchiveResult struct {
	TradesArchived        int
	TradesDeleted         int64
	OpportunitiesArchived int
	OpportunitiesDeleted  int64
}

// Archiver moves aged trade and opportunity rows out of Postgres and into
// object storage as JSONL exports. Rows are only deleted after the export
// upload succeeds.
type Archiver struct {
	writer domain.BlobWriter
	trades domain.TradeStore
	opps   domain.OpportunityStore
	cfg    ArchiverConfig
	logger *slog.Logger
}

// NewArchiver creates an Archiver. Retention defaults to 30 days and the
// sweep interval to 6 hours.
func NewArchiver(writer domain.BlobWriter, trades domain.TradeStore, opps domain.OpportunityStore, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	return &Archiver{
		writer: writer,
		trades: trades,
		opps:   opps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.logger.Info("archiver started",
		slog.Duration("retention", a.cfg.Retention),
		slog.Duration("interval", a.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil {
				a.logger.Error("archive sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep archives and deletes everything older than the retention cutoff.
func (a *Archiver) Sweep(ctx context.Context) (ArchiveResult, error) {
	cutoff := time.Now().UTC().Add(-a.cfg.Retention)

	var res ArchiveResult

	trades, err := a.trades.ListBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("s3blob: list trades for archive: %w", err)
	}
	if len(trades) > 0 {
		records := make([]any, len(trades))
		for i, t := range trades {
			records[i] = t
		}
		path := archivePath("trades", cutoff)
		if err := a.upload(ctx, path, records); err != nil {
			return res, err
		}
		res.TradesArchived = len(trades)

		deleted, err := a.trades.DeleteBefore(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("s3blob: delete archived trades: %w", err)
		}
		res.TradesDeleted = deleted
	}

	opps, err := a.opps.ListBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("s3blob: list opportunities for archive: %w", err)
	}
	if len(opps) > 0 {
		records := make([]any, len(opps))
		for i, o := range opps {
			records[i] = o
		}
		path := archivePath("opportunities", cutoff)
		if err := a.upload(ctx, path, records); err != nil {
			return res, err
		}
		res.OpportunitiesArchived = len(opps)

		deleted, err := a.opps.DeleteBefore(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("s3blob: delete archived opportunities: %w", err)
		}
		res.OpportunitiesDeleted = deleted
	}

	if res.TradesArchived > 0 || res.OpportunitiesArchived > 0 {
		a.logger.Info("archive sweep complete",
			slog.Int("trades", res.TradesArchived),
			slog.Int("opportunities", res.OpportunitiesArchived),
			slog.Time("cutoff", cutoff))
	}

	return res, nil
}

func (a *Archiver) upload(ctx context.Context, path string, records []any) error {
	data, err := marshalJSONL(records)
	if err != nil {
		return err
	}
	if err := a.writer.Put(ctx, path, data, jsonlContentType); err != nil {
		return fmt.Errorf("s3blob: upload archive %s: %w", path, err)
	}
	return nil
}

// archivePath buckets exports by cutoff month, with one object per sweep so
// a later sweep never clobbers rows already moved out of Postgres.
func archivePath(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, cutoff.Format("2006-01"), time.Now().UTC().Format("20060102T150405"))
}

func marshalJSONL(records []any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("s3blob: encode archive record: %w", err)
		}
	}
	return buf.Bytes(), nil
}
