// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package store

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/oops"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migration is one versioned, forward-only schema change.
type Migration struct {
	Version  uint
	Name     string
	SQL      string
	Checksum string // hex SHA-256 of the SQL text
}

// Applied describes a migration recorded in the version table.
type Applied struct {
	Name     string
	Checksum string
}

// MigrationConn is the minimal transactional surface a backend exposes to
// the runner. ApplyInTx must execute the migration SQL and insert the
// version row inside one atomic transaction: a migration that fails
// mid-application is never recorded as applied.
type MigrationConn interface {
	// EnsureVersionTable creates the schema_migrations table if absent.
	EnsureVersionTable(ctx context.Context) error

	// AppliedMigrations returns the recorded versions with their checksums.
	AppliedMigrations(ctx context.Context) (map[uint]Applied, error)

	// ApplyInTx runs one migration and records it, atomically.
	ApplyInTx(ctx context.Context, m Migration) error
}

// Runner applies embedded migrations against a backend, exactly once each,
// in ascending version order. Re-running against a current schema is a no-op.
type Runner struct {
	conn MigrationConn
	migs []Migration
}

// NewRunner creates a Runner for the given dialect ("postgres" or "sqlite").
func NewRunner(conn MigrationConn, dialect string) (*Runner, error) {
	migs, err := loadMigrations(dialect)
	if err != nil {
		return nil, err
	}
	return &Runner{conn: conn, migs: migs}, nil
}

// Run applies all pending migrations. Any failure aborts with
// MIGRATION_FAILED: the caller must treat it as fatal at startup rather
// than proceeding with a partially-migrated schema.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.conn.EnsureVersionTable(ctx); err != nil {
		return oops.Code("MIGRATION_FAILED").
			With("operation", "ensure version table").
			Wrap(err)
	}

	applied, err := r.conn.AppliedMigrations(ctx)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").
			With("operation", "read applied versions").
			Wrap(err)
	}

	var highest uint
	for v := range applied {
		if v > highest {
			highest = v
		}
	}

	for _, m := range r.migs {
		rec, ok := applied[m.Version]
		if ok {
			// Never reapply; verify the recorded effect still matches.
			if rec.Checksum != m.Checksum {
				return oops.Code("MIGRATION_FAILED").
					With("version", m.Version).
					With("recorded_checksum", rec.Checksum).
					With("expected_checksum", m.Checksum).
					Errorf("checksum mismatch for applied migration %06d", m.Version)
			}
			continue
		}
		if m.Version < highest {
			// A hole below the highest applied version means the recorded
			// sequence is no longer gapless.
			return oops.Code("MIGRATION_FAILED").
				With("version", m.Version).
				With("highest_applied", highest).
				Errorf("migration %06d missing below applied version %06d", m.Version, highest)
		}
		if err := r.conn.ApplyInTx(ctx, m); err != nil {
			return oops.Code("MIGRATION_FAILED").
				With("version", m.Version).
				With("name", m.Name).
				Wrap(err)
		}
	}
	return nil
}

// Pending returns the versions Run would apply, ascending.
func (r *Runner) Pending(ctx context.Context) ([]uint, error) {
	if err := r.conn.EnsureVersionTable(ctx); err != nil {
		return nil, oops.Code("MIGRATION_FAILED").
			With("operation", "ensure version table").
			Wrap(err)
	}
	applied, err := r.conn.AppliedMigrations(ctx)
	if err != nil {
		return nil, oops.Code("MIGRATION_FAILED").
			With("operation", "read applied versions").
			Wrap(err)
	}
	var pending []uint
	for _, m := range r.migs {
		if _, ok := applied[m.Version]; !ok {
			pending = append(pending, m.Version)
		}
	}
	return pending, nil
}

// loadMigrations reads the embedded set for a dialect and validates that
// versions form a strictly increasing, gapless sequence starting at 1.
func loadMigrations(dialect string) ([]Migration, error) {
	dir := "migrations/" + dialect
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return nil, oops.Code("MIGRATION_LIST_FAILED").
			With("dialect", dialect).
			Wrap(err)
	}

	migs := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		var version uint
		if _, err := fmt.Sscanf(name, "%06d", &version); err != nil {
			return nil, oops.Code("MIGRATION_LIST_FAILED").
				With("filename", name).
				Errorf("migration file name %q does not match NNNNNN_name.sql", name)
		}
		data, err := migrationsFS.ReadFile(dir + "/" + name)
		if err != nil {
			return nil, oops.Code("MIGRATION_LIST_FAILED").
				With("filename", name).
				Wrap(err)
		}
		sum := sha256.Sum256(data)
		migs = append(migs, Migration{
			Version:  version,
			Name:     strings.TrimSuffix(name, ".sql"),
			SQL:      string(data),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })

	for i, m := range migs {
		if m.Version != uint(i+1) {
			return nil, oops.Code("MIGRATION_LIST_FAILED").
				With("version", m.Version).
				With("expected", i+1).
				Errorf("embedded migrations must be gapless starting at 000001")
		}
	}
	return migs, nil
}
