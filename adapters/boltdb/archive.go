// Package boltdb archives finished audit runs in a local bbolt file. It is
// the zero-dependency default backend; the postgres archive serves shared
// deployments.
package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"fairlens/domain/audit"
	"fairlens/domain/core"
	"fairlens/internal"
	"fairlens/internal/errors"
	"fairlens/ports"
)

const (
	// runsBucket maps run ID to the archived run JSON.
	runsBucket = "runs"
	// indexBucket maps zero-padded creation nanos + run ID to the summary
	// JSON, so listings walk it backwards for newest-first order.
	indexBucket = "runs_by_time"
)

// Archive implements ports.ArchivePort on bbolt. Runs are append-only;
// saving an already archived run ID fails.
type Archive struct {
	db     *bbolt.DB
	logger *internal.Logger
}

// Open opens or creates the archive file.
func Open(path string) (*Archive, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.ArchiveError("bolt", fmt.Errorf("open %s: %w", path, err))
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(indexBucket)); err != nil {
			return fmt.Errorf("create index bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.ArchiveError("bolt", err)
	}

	return &Archive{
		db:     db,
		logger: internal.NewDefaultLogger().With("archive"),
	}, nil
}

// Close closes the archive file.
func (a *Archive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

var _ ports.ArchivePort = (*Archive)(nil)

// SaveRun stores a finished run.
func (a *Archive) SaveRun(ctx context.Context, run *audit.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run == nil || run.ID.String() == "" {
		return errors.InvalidInput("cannot archive a nil or unidentified run")
	}

	runJSON, err := json.Marshal(run)
	if err != nil {
		return errors.ArchiveError("bolt", err)
	}
	summaryJSON, err := json.Marshal(run.Summarize())
	if err != nil {
		return errors.ArchiveError("bolt", err)
	}

	err = a.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		key := []byte(run.ID.String())
		if runs.Get(key) != nil {
			return fmt.Errorf("run %s is already archived", run.ID)
		}
		if err := runs.Put(key, runJSON); err != nil {
			return err
		}
		return tx.Bucket([]byte(indexBucket)).Put(indexKey(run.CreatedAt, run.ID), summaryJSON)
	})
	if err != nil {
		return errors.ArchiveError("bolt", err)
	}

	a.logger.Info("archived run %s (%s, %d contexts)", run.ID, run.Dataset, len(run.Contexts))
	return nil
}

// GetRun loads one archived run by ID.
func (a *Archive) GetRun(ctx context.Context, id core.AuditRunID) (*audit.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var run *audit.Run
	err := a.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(runsBucket)).Get([]byte(id.String()))
		if raw == nil {
			return fmt.Errorf("%w %s", core.ErrRunNotFound, id)
		}
		run = &audit.Run{}
		return json.Unmarshal(raw, run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns run summaries, newest first.
func (a *Archive) ListRuns(ctx context.Context, limit, offset int) ([]audit.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	summaries := []audit.Summary{}
	err := a.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(indexBucket)).Cursor()
		skipped := 0
		for k, v := c.Last(); k != nil && len(summaries) < limit; k, v = c.Prev() {
			if skipped < offset {
				skipped++
				continue
			}
			var s audit.Summary
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			summaries = append(summaries, s)
		}
		return nil
	})
	if err != nil {
		return nil, errors.ArchiveError("bolt", err)
	}
	return summaries, nil
}

func indexKey(at core.Timestamp, id core.AuditRunID) []byte {
	return []byte(fmt.Sprintf("%020d_%s", at.Time().UnixNano(), id))
}
