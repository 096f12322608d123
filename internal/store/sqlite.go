// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/wardmud/ward/internal/identity"
)

// SQLite implements Store using an embedded file-based database.
// Timestamps are stored as Unix seconds; the dialect difference is isolated
// here so callers see time.Time throughout.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path.
// ":memory:" is accepted for tests.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("backend", BackendSQLite).
			With("path", path).
			Wrap(err)
	}
	// SQLite permits one writer; serialize access through a single
	// connection so concurrent sessions queue instead of failing with
	// SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &SQLite{db: db}, nil
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return oops.Code("STORE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

// Ping verifies the database file is readable.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return s.wrap("STORE_PING_FAILED", err)
	}
	return nil
}

// Migrate applies pending schema migrations.
func (s *SQLite) Migrate(ctx context.Context) error {
	runner, err := NewRunner(s, BackendSQLite)
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}

// PendingMigrations lists embedded migration versions not yet applied.
func (s *SQLite) PendingMigrations(ctx context.Context) ([]uint, error) {
	runner, err := NewRunner(s, BackendSQLite)
	if err != nil {
		return nil, err
	}
	return runner.Pending(ctx)
}

const sqliteIdentityColumns = `name, password_hash, totp_secret, enrolled_at,
	last_login_at, last_location, failed_attempts, locked_until, updated_at`

// FetchIdentity returns the record for key. The name column is declared
// COLLATE NOCASE, so equality here is case-insensitive.
func (s *SQLite) FetchIdentity(ctx context.Context, key string) (*identity.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteIdentityColumns+`
		FROM identities
		WHERE name = ?
	`, key)

	rec, err := scanSQLiteIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("IDENTITY_NOT_FOUND").
			With("key", key).
			Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, s.wrap("IDENTITY_FETCH_FAILED", err)
	}
	return rec, nil
}

// CreateIdentity persists a new record.
func (s *SQLite) CreateIdentity(ctx context.Context, rec *identity.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (`+sqliteIdentityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Key,
		rec.PasswordHash,
		rec.TOTPSecret,
		rec.EnrolledAt.Unix(),
		unixOrNil(rec.LastLoginAt),
		rec.LastLocation,
		rec.FailedAttempts,
		unixOrNil(rec.LockedUntil),
		rec.UpdatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return oops.Code("IDENTITY_EXISTS").
				With("key", rec.Key).
				Wrap(identity.ErrAlreadyExists)
		}
		return s.wrap("IDENTITY_CREATE_FAILED", err)
	}
	return nil
}

// UpdateCredential replaces the password hash.
func (s *SQLite) UpdateCredential(ctx context.Context, key, newHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE identities SET password_hash = ?, updated_at = ? WHERE name = ?
	`, newHash, time.Now().Unix(), key)
	return s.checkUpdated("IDENTITY_UPDATE_FAILED", key, res, err)
}

// RecordFailedAttempt increments the failure counter inside a transaction
// so overlapping sessions never lose an update.
func (s *SQLite) RecordFailedAttempt(ctx context.Context, key string, policy identity.LockoutPolicy) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, s.wrap("IDENTITY_ATTEMPT_FAILED", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE identities
		SET failed_attempts = failed_attempts + 1,
		    locked_until = CASE WHEN failed_attempts + 1 >= ? THEN ? ELSE locked_until END,
		    updated_at = ?
		WHERE name = ?
	`, policy.Threshold, now.Add(policy.Duration).Unix(), now.Unix(), key)
	if err != nil {
		return 0, false, s.wrap("IDENTITY_ATTEMPT_FAILED", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, s.wrap("IDENTITY_ATTEMPT_FAILED", err)
	}
	if n == 0 {
		return 0, false, oops.Code("IDENTITY_NOT_FOUND").
			With("key", key).
			Wrap(identity.ErrNotFound)
	}

	var attempts int
	if err := tx.QueryRowContext(ctx, `
		SELECT failed_attempts FROM identities WHERE name = ?
	`, key).Scan(&attempts); err != nil {
		return 0, false, s.wrap("IDENTITY_ATTEMPT_FAILED", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, s.wrap("IDENTITY_ATTEMPT_FAILED", err)
	}
	return attempts, policy.Crossed(attempts), nil
}

// ResetFailedAttempts zeroes the failure counter and clears any lock.
func (s *SQLite) ResetFailedAttempts(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE identities
		SET failed_attempts = 0, locked_until = NULL, updated_at = ?
		WHERE name = ?
	`, time.Now().Unix(), key)
	return s.checkUpdated("IDENTITY_RESET_FAILED", key, res, err)
}

// SetTOTPSecret stores or clears the second-factor secret.
func (s *SQLite) SetTOTPSecret(ctx context.Context, key string, secret *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE identities SET totp_secret = ?, updated_at = ? WHERE name = ?
	`, secret, time.Now().Unix(), key)
	return s.checkUpdated("IDENTITY_TOTP_FAILED", key, res, err)
}

// UpdateLastLocation records the coarse location as known.
func (s *SQLite) UpdateLastLocation(ctx context.Context, key, location string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE identities SET last_location = ?, updated_at = ? WHERE name = ?
	`, location, time.Now().Unix(), key)
	return s.checkUpdated("IDENTITY_LOCATION_FAILED", key, res, err)
}

// RecordLogin marks a successful authentication.
func (s *SQLite) RecordLogin(ctx context.Context, key string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE identities
		SET failed_attempts = 0, locked_until = NULL, last_login_at = ?, updated_at = ?
		WHERE name = ?
	`, at.Unix(), time.Now().Unix(), key)
	return s.checkUpdated("IDENTITY_LOGIN_FAILED", key, res, err)
}

// EnsureVersionTable creates the schema_migrations table if absent.
func (s *SQLite) EnsureVersionTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return s.wrap("MIGRATION_TABLE_FAILED", err)
	}
	return nil
}

// AppliedMigrations returns the recorded versions with their checksums.
func (s *SQLite) AppliedMigrations(ctx context.Context) (map[uint]Applied, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version, name, checksum FROM schema_migrations`)
	if err != nil {
		return nil, s.wrap("MIGRATION_READ_FAILED", err)
	}
	defer rows.Close()

	applied := make(map[uint]Applied)
	for rows.Next() {
		var (
			version int64
			a       Applied
		)
		if err := rows.Scan(&version, &a.Name, &a.Checksum); err != nil {
			return nil, s.wrap("MIGRATION_READ_FAILED", err)
		}
		applied[uint(version)] = a
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("MIGRATION_READ_FAILED", err)
	}
	return applied, nil
}

// ApplyInTx runs one migration and records it inside a single transaction.
func (s *SQLite) ApplyInTx(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("MIGRATION_BEGIN_FAILED", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return oops.Code("MIGRATION_EXEC_FAILED").
			With("version", m.Version).
			Wrap(err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)
	`, int64(m.Version), m.Name, m.Checksum, time.Now().Unix()); err != nil {
		return oops.Code("MIGRATION_RECORD_FAILED").
			With("version", m.Version).
			Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return s.wrap("MIGRATION_COMMIT_FAILED", err)
	}
	return nil
}

// checkUpdated maps update results to the shared error taxonomy.
func (s *SQLite) checkUpdated(code, key string, res sql.Result, err error) error {
	if err != nil {
		return s.wrap(code, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap(code, err)
	}
	if n == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("key", key).
			Wrap(identity.ErrNotFound)
	}
	return nil
}

// wrap maps driver errors: cancelled or timed-out operations and a closed
// handle count as unavailability and must fail closed.
func (s *SQLite) wrap(code string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, sql.ErrConnDone) {
		return oops.Code("STORE_UNAVAILABLE").
			Wrap(fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	return oops.Code(code).Wrap(err)
}

// unixOrNil converts an optional time to nullable Unix seconds.
func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

// scanSQLiteIdentity scans a single identities row, converting Unix second
// columns back to time.Time.
func scanSQLiteIdentity(row *sql.Row) (*identity.Record, error) {
	var (
		rec         identity.Record
		enrolledAt  int64
		lastLoginAt sql.NullInt64
		lockedUntil sql.NullInt64
		updatedAt   int64
	)
	err := row.Scan(
		&rec.Key,
		&rec.PasswordHash,
		&rec.TOTPSecret,
		&enrolledAt,
		&lastLoginAt,
		&rec.LastLocation,
		&rec.FailedAttempts,
		&lockedUntil,
		&updatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	rec.EnrolledAt = time.Unix(enrolledAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	if lastLoginAt.Valid {
		t := time.Unix(lastLoginAt.Int64, 0)
		rec.LastLoginAt = &t
	}
	if lockedUntil.Valid {
		t := time.Unix(lockedUntil.Int64, 0)
		rec.LockedUntil = &t
	}
	return &rec, nil
}

// Compile-time interface checks.
var (
	_ Store         = (*SQLite)(nil)
	_ MigrationConn = (*SQLite)(nil)
)
