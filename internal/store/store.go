// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

// Package store provides credential persistence over pluggable relational
// backends. The rest of the engine is backend-agnostic: dialect differences
// are isolated behind the Store interface, and the backend is selected once
// at startup.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/wardmud/ward/internal/identity"
)

// ErrUnavailable is returned when the backend cannot be reached or the pool
// is exhausted. Callers must treat it as transient and deny authentication
// (fail-closed) without charging the identity a failed attempt.
var ErrUnavailable = errors.New("store unavailable")

// Backend names accepted by Open.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config selects and parameterizes a backend.
type Config struct {
	// Backend is BackendPostgres or BackendSQLite.
	Backend string

	// DSN is a postgres:// URL for the postgres backend, or a file path
	// (":memory:" allowed) for the sqlite backend.
	DSN string

	// MaxRetries bounds retries of transient failures per operation.
	// Zero disables the retry decorator.
	MaxRetries uint64
}

// Store is the credential persistence capability used by the session engine.
// All operations fail with ErrUnavailable (wrapped) on backend outage rather
// than blocking indefinitely.
type Store interface {
	// FetchIdentity returns the record for key, or identity.ErrNotFound.
	FetchIdentity(ctx context.Context, key string) (*identity.Record, error)

	// CreateIdentity persists a new record, or identity.ErrAlreadyExists.
	CreateIdentity(ctx context.Context, rec *identity.Record) error

	// UpdateCredential replaces the password hash, or identity.ErrNotFound.
	UpdateCredential(ctx context.Context, key, newHash string) error

	// RecordFailedAttempt atomically increments the persisted failure
	// counter, setting locked_until when the policy threshold is crossed.
	// Returns the new counter value and whether the threshold was crossed.
	// The read-modify-write is a single transactional unit so overlapping
	// sessions for the same identity never lose updates.
	RecordFailedAttempt(ctx context.Context, key string, policy identity.LockoutPolicy) (attempts int, crossed bool, err error)

	// ResetFailedAttempts zeroes the failure counter and clears any lock.
	ResetFailedAttempts(ctx context.Context, key string) error

	// SetTOTPSecret stores or clears (nil) the second-factor secret.
	SetTOTPSecret(ctx context.Context, key string, secret *string) error

	// UpdateLastLocation records the coarse location as known.
	UpdateLastLocation(ctx context.Context, key, location string) error

	// RecordLogin marks a successful authentication: resets the failure
	// counter, clears the lock, and stamps last_login_at.
	RecordLogin(ctx context.Context, key string, at time.Time) error

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Migrate applies pending schema migrations. Must run before any other
	// component touches the store; a failure is fatal at startup.
	Migrate(ctx context.Context) error

	// PendingMigrations lists embedded migration versions not yet applied.
	PendingMigrations(ctx context.Context) ([]uint, error)

	// Close releases backend resources.
	Close() error
}

// Open selects and connects a backend per cfg. The returned Store is wrapped
// with the bounded-retry decorator when cfg.MaxRetries is non-zero.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case BackendPostgres:
		s, err = NewPostgres(ctx, cfg.DSN)
	case BackendSQLite:
		s, err = NewSQLite(cfg.DSN)
	default:
		return nil, oops.Code("STORE_UNKNOWN_BACKEND").
			With("backend", cfg.Backend).
			Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if cfg.MaxRetries > 0 {
		s = NewRetrying(s, cfg.MaxRetries)
	}
	return s, nil
}
