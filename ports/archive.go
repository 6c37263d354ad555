package ports

import (
	"context"

	"fairlens/domain/audit"
	"fairlens/domain/core"
)

// ArchiveWriterPort provides append-only write access to finished audit runs.
// Runs are immutable once stored.
type ArchiveWriterPort interface {
	SaveRun(ctx context.Context, run *audit.Run) error
}

// ArchiveReaderPort provides read-only access to archived runs.
// Use this for the report server and replay.
type ArchiveReaderPort interface {
	ListRuns(ctx context.Context, limit, offset int) ([]audit.Summary, error)
	GetRun(ctx context.Context, id core.AuditRunID) (*audit.Run, error)
}

// ArchivePort combines read and write access.
type ArchivePort interface {
	ArchiveWriterPort
	ArchiveReaderPort
}
