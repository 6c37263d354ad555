// Package postgres archives finished audit runs in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"fairlens/domain/audit"
	"fairlens/domain/core"
	"fairlens/internal"
	"fairlens/internal/errors"
	"fairlens/ports"
)

const uniqueViolation = "23505"

// Archive implements ports.ArchivePort on PostgreSQL. Runs are append-only;
// saving an already archived run ID fails.
type Archive struct {
	db     *sqlx.DB
	logger *internal.Logger
}

// NewArchive creates a PostgreSQL-backed run archive.
func NewArchive(db *sqlx.DB) *Archive {
	return &Archive{
		db:     db,
		logger: internal.NewDefaultLogger().With("archive"),
	}
}

var _ ports.ArchivePort = (*Archive)(nil)

// SaveRun stores a finished run.
func (a *Archive) SaveRun(ctx context.Context, run *audit.Run) error {
	if run == nil || run.ID.String() == "" {
		return errors.InvalidInput("cannot archive a nil or unidentified run")
	}

	contextsJSON, err := json.Marshal(run.Contexts)
	if err != nil {
		return errors.ArchiveError("postgres", err)
	}
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return errors.ArchiveError("postgres", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO audit_runs (
			id, dataset, seed, train_rows, test_rows,
			params, report, contexts, context_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID.String(), run.Dataset, run.Seed, run.TrainRows, run.TestRows,
		paramsJSON, run.Report, contextsJSON, len(run.Contexts), run.CreatedAt.Time())
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return errors.ArchiveError("postgres", fmt.Errorf("run %s is already archived", run.ID))
		}
		return errors.ArchiveError("postgres", err)
	}

	a.logger.Info("archived run %s (%s, %d contexts)", run.ID, run.Dataset, len(run.Contexts))
	return nil
}

// GetRun loads one archived run by ID.
func (a *Archive) GetRun(ctx context.Context, id core.AuditRunID) (*audit.Run, error) {
	var (
		run          audit.Run
		runID        string
		paramsJSON   []byte
		contextsJSON []byte
		createdAt    time.Time
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT id, dataset, seed, train_rows, test_rows, params, report, contexts, created_at
		FROM audit_runs
		WHERE id = $1`, id.String()).Scan(
		&runID, &run.Dataset, &run.Seed, &run.TrainRows, &run.TestRows,
		&paramsJSON, &run.Report, &contextsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w %s", core.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, errors.ArchiveError("postgres", err)
	}

	run.ID = core.AuditRunID(runID)
	run.CreatedAt = core.NewTimestamp(createdAt)
	if err := json.Unmarshal(paramsJSON, &run.Params); err != nil {
		return nil, errors.ArchiveError("postgres", err)
	}
	if err := json.Unmarshal(contextsJSON, &run.Contexts); err != nil {
		return nil, errors.ArchiveError("postgres", err)
	}
	return &run, nil
}

// ListRuns returns run summaries, newest first.
func (a *Archive) ListRuns(ctx context.Context, limit, offset int) ([]audit.Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, dataset, context_count, created_at
		FROM audit_runs
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, errors.ArchiveError("postgres", err)
	}
	defer rows.Close()

	summaries := []audit.Summary{}
	for rows.Next() {
		var (
			s         audit.Summary
			id        string
			createdAt time.Time
		)
		if err := rows.Scan(&id, &s.Dataset, &s.ContextCount, &createdAt); err != nil {
			return nil, errors.ArchiveError("postgres", err)
		}
		s.ID = core.AuditRunID(id)
		s.CreatedAt = core.NewTimestamp(createdAt)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ArchiveError("postgres", err)
	}
	return summaries, nil
}
