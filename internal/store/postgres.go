// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/wardmud/ward/internal/identity"
)

// pgxPool is the pool surface the store uses. Satisfied by *pgxpool.Pool
// and by pgxmock in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Postgres implements Store using a pgx connection pool.
type Postgres struct {
	pool pgxPool
}

// NewPostgres connects a pooled Postgres store.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("backend", BackendPostgres).
			Wrap(err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return s.wrap("STORE_PING_FAILED", err)
	}
	return nil
}

// Migrate applies pending schema migrations.
func (s *Postgres) Migrate(ctx context.Context) error {
	runner, err := NewRunner(s, BackendPostgres)
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}

// PendingMigrations lists embedded migration versions not yet applied.
func (s *Postgres) PendingMigrations(ctx context.Context) ([]uint, error) {
	runner, err := NewRunner(s, BackendPostgres)
	if err != nil {
		return nil, err
	}
	return runner.Pending(ctx)
}

const pgIdentityColumns = `name, password_hash, totp_secret, enrolled_at,
	last_login_at, last_location, failed_attempts, locked_until, updated_at`

// FetchIdentity returns the record for key (case-insensitive).
func (s *Postgres) FetchIdentity(ctx context.Context, key string) (*identity.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgIdentityColumns+`
		FROM identities
		WHERE LOWER(name) = LOWER($1)
	`, key)

	rec, err := scanPgIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
func (s *Postgres) CreateIdentity(ctx context.Context, rec *identity.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO identities (`+pgIdentityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		rec.Key,
		rec.PasswordHash,
		rec.TOTPSecret,
		rec.EnrolledAt,
		rec.LastLoginAt,
		rec.LastLocation,
		rec.FailedAttempts,
		rec.LockedUntil,
		rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("IDENTITY_EXISTS").
				With("key", rec.Key).
				Wrap(identity.ErrAlreadyExists)
		}
		return s.wrap("IDENTITY_CREATE_FAILED", err)
	}
	return nil
}

// UpdateCredential replaces the password hash.
func (s *Postgres) UpdateCredential(ctx context.Context, key, newHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities SET password_hash = $2, updated_at = now()
		WHERE LOWER(name) = LOWER($1)
	`, key, newHash)
	if err != nil {
		return s.wrap("IDENTITY_UPDATE_FAILED", err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("key", key).
			Wrap(identity.ErrNotFound)
	}
	return nil
}

// RecordFailedAttempt increments the failure counter and sets the lock
// timestamp in one statement, so overlapping sessions never lose an update.
func (s *Postgres) RecordFailedAttempt(ctx context.Context, key string, policy identity.LockoutPolicy) (int, bool, error) {
	lockUntil := time.Now().Add(policy.Duration)

	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE identities
		SET failed_attempts = failed_attempts + 1,
		    locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN $3 ELSE locked_until END,
		    updated_at = now()
		WHERE LOWER(name) = LOWER($1)
		RETURNING failed_attempts
	`, key, policy.Threshold, lockUntil).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, oops.Code("IDENTITY_NOT_FOUND").
			With("key", key).
			Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return 0, false, s.wrap("IDENTITY_ATTEMPT_FAILED", err)
	}
	return attempts, policy.Crossed(attempts), nil
}

// ResetFailedAttempts zeroes the failure counter and clears any lock.
func (s *Postgres) ResetFailedAttempts(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities
		SET failed_attempts = 0, locked_until = NULL, updated_at = now()
		WHERE LOWER(name) = LOWER($1)
	`, key)
	if err != nil {
		return s.wrap("IDENTITY_RESET_FAILED", err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("key", key).
			Wrap(identity.ErrNotFound)
	}
	return nil
}

// SetTOTPSecret stores or clears the second-factor secret.
func (s *Postgres) SetTOTPSecret(ctx context.Context, key string, secret *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities SET totp_secret = $2, updated_at = now()
		WHERE LOWER(name) = LOWER($1)
	`, key, secret)
	if err != nil {
		return s.wrap("IDENTITY_TOTP_FAILED", err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("key", key).
			Wrap(identity.ErrNotFound)
	}
	return nil
}

// UpdateLastLocation records the coarse location as known.
func (s *Postgres) UpdateLastLocation(ctx context.Context, key, location string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities SET last_location = $2, updated_at = now()
		WHERE LOWER(name) = LOWER($1)
	`, key, location)
	if err != nil {
		return s.wrap("IDENTITY_LOCATION_FAILED", err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("key", key).
			Wrap(identity.ErrNotFound)
	}
	return nil
}

// RecordLogin marks a successful authentication.
func (s *Postgres) RecordLogin(ctx context.Context, key string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities
		SET failed_attempts = 0, locked_until = NULL, last_login_at = $2, updated_at = now()
		WHERE LOWER(name) = LOWER($1)
	`, key, at)
	if err != nil {
		return s.wrap("IDENTITY_LOGIN_FAILED", err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("key", key).
			Wrap(identity.ErrNotFound)
	}
	return nil
}

// EnsureVersionTable creates the schema_migrations table if absent.
func (s *Postgres) EnsureVersionTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    BIGINT PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return s.wrap("MIGRATION_TABLE_FAILED", err)
	}
	return nil
}

// AppliedMigrations returns the recorded versions with their checksums.
func (s *Postgres) AppliedMigrations(ctx context.Context) (map[uint]Applied, error) {
	rows, err := s.pool.Query(ctx, `SELECT version, name, checksum FROM schema_migrations`)
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
func (s *Postgres) ApplyInTx(ctx context.Context, m Migration) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return s.wrap("MIGRATION_BEGIN_FAILED", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return oops.Code("MIGRATION_EXEC_FAILED").
			With("version", m.Version).
			Wrap(err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)
	`, int64(m.Version), m.Name, m.Checksum); err != nil {
		return oops.Code("MIGRATION_RECORD_FAILED").
			With("version", m.Version).
			Wrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return s.wrap("MIGRATION_COMMIT_FAILED", err)
	}
	return nil
}

// wrap maps backend errors. Anything that is not a server-reported SQL error
// is treated as unavailability: connection refused, pool exhaustion under a
// deadline, and network timeouts all land here and must fail closed.
func (s *Postgres) wrap(code string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return oops.Code(code).With("pg_code", pgErr.Code).Wrap(err)
	}
	return oops.Code("STORE_UNAVAILABLE").
		Wrap(fmt.Errorf("%w: %v", ErrUnavailable, err))
}

// scanPgIdentity scans a single identities row.
func scanPgIdentity(row pgx.Row) (*identity.Record, error) {
	var rec identity.Record
	err := row.Scan(
		&rec.Key,
		&rec.PasswordHash,
		&rec.TOTPSecret,
		&rec.EnrolledAt,
		&rec.LastLoginAt,
		&rec.LastLocation,
		&rec.FailedAttempts,
		&rec.LockedUntil,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	return &rec, nil
}

// Compile-time interface checks.
var (
	_ Store         = (*Postgres)(nil)
	_ MigrationConn = (*Postgres)(nil)
)
