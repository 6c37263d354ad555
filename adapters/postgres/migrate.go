package postgres

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"fairlens/internal"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrator applies the embedded schema migrations. Versions are the numeric
// filename prefixes; applied versions are recorded with a content checksum so
// edits to an already applied migration fail loudly.
type Migrator struct {
	db     *sqlx.DB
	logger *internal.Logger
}

// NewMigrator creates a migrator for the archive schema.
func NewMigrator(db *sqlx.DB) *Migrator {
	return &Migrator{
		db:     db,
		logger: internal.NewDefaultLogger().With("migrate"),
	}
}

type migration struct {
	version  string
	name     string
	sql      string
	checksum string
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := m.appliedChecksums(ctx)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		if checksum, ok := applied[mig.version]; ok {
			if checksum != mig.checksum {
				return fmt.Errorf("migration %s changed after being applied", mig.version)
			}
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", mig.version, err)
		}
		m.logger.Info("applied migration %s (%s)", mig.version, mig.name)
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, mig migration) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, checksum) VALUES ($1, $2)",
		mig.version, mig.checksum); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Migrator) appliedChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, err
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	var migrations []migration
	for _, entry := range entries {
		name := entry.Name()
		parts := strings.SplitN(strings.TrimSuffix(name, ".sql"), "_", 2)
		if len(parts) < 2 {
			return nil, fmt.Errorf("migration %s does not follow NNN_name.sql", name)
		}
		raw, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, migration{
			version:  parts[0],
			name:     parts[1],
			sql:      string(raw),
			checksum: fmt.Sprintf("%x", sha256.Sum256(raw)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}
