package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports old settlement records to blob storage.
type Archiver interface {
	// ArchiveSettlements uploads all settlement results executed strictly
	// before the cutoff and returns the number of archived records.
	ArchiveSettlements(ctx context.Context, before time.Time) (int64, error)
}
