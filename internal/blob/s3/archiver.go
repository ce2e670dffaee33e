package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/apexlabs-eth/flasharb/internal/domain"
)

// SettlementSource is the narrow store surface the archiver reads from.
type SettlementSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.SettlementResult, error)
}

// SettlementArchiver implements domain.Archiver by exporting old settlement
// records to blob storage as JSONL, partitioned by the year-month of the
// cutoff. Deleting archived rows from the primary store is a separate,
// explicit step run after the archive is verified.
type SettlementArchiver struct {
	writer domain.BlobWriter
	source SettlementSource
	logger *slog.Logger
}

// NewSettlementArchiver creates a SettlementArchiver.
func NewSettlementArchiver(writer domain.BlobWriter, source SettlementSource, logger *slog.Logger) *SettlementArchiver {
	return &SettlementArchiver{
		writer: writer,
		source: source,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSettlements uploads every settlement executed strictly before the
// cutoff to archive/settlements/YYYY-MM.jsonl and returns the archived count.
func (a *SettlementArchiver) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.source.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}

	path := fmt.Sprintf("archive/settlements/%s.jsonl", before.Format("2006-01"))
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements upload: %w", err)
	}

	count := int64(len(records))
	a.logger.InfoContext(ctx, "settlements archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before),
	)
	return count, nil
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*SettlementArchiver)(nil)
