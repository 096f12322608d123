// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package store

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/wardmud/ward/internal/identity"
)

// retryBaseDelay is the first fibonacci backoff step.
const retryBaseDelay = 50 * time.Millisecond

// Retrying decorates a Store with bounded retries of transient failures.
// Only ErrUnavailable is retried: authentication decisions and constraint
// violations are never silently repeated.
type Retrying struct {
	inner      Store
	maxRetries uint64
}

// NewRetrying wraps inner with up to maxRetries retries per operation.
func NewRetrying(inner Store, maxRetries uint64) *Retrying {
	return &Retrying{inner: inner, maxRetries: maxRetries}
}

// do runs fn with fibonacci backoff, retrying only transient errors.
func (r *Retrying) do(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(r.maxRetries, retry.NewFibonacci(retryBaseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error { //nolint:wrapcheck // decorated errors pass through
		err := fn(ctx)
		if errors.Is(err, ErrUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (r *Retrying) FetchIdentity(ctx context.Context, key string) (*identity.Record, error) {
	var rec *identity.Record
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		rec, err = r.inner.FetchIdentity(ctx, key)
		return err
	})
	return rec, err
}

func (r *Retrying) CreateIdentity(ctx context.Context, rec *identity.Record) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.inner.CreateIdentity(ctx, rec)
	})
}

func (r *Retrying) UpdateCredential(ctx context.Context, key, newHash string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.inner.UpdateCredential(ctx, key, newHash)
	})
}

// RecordFailedAttempt is intentionally not retried: the increment must
// happen at most once per explicit submission.
func (r *Retrying) RecordFailedAttempt(ctx context.Context, key string, policy identity.LockoutPolicy) (int, bool, error) {
	return r.inner.RecordFailedAttempt(ctx, key, policy)
}

func (r *Retrying) ResetFailedAttempts(ctx context.Context, key string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.inner.ResetFailedAttempts(ctx, key)
	})
}

func (r *Retrying) SetTOTPSecret(ctx context.Context, key string, secret *string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.inner.SetTOTPSecret(ctx, key, secret)
	})
}

func (r *Retrying) UpdateLastLocation(ctx context.Context, key, location string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.inner.UpdateLastLocation(ctx, key, location)
	})
}

func (r *Retrying) RecordLogin(ctx context.Context, key string, at time.Time) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.inner.RecordLogin(ctx, key, at)
	})
}

func (r *Retrying) Ping(ctx context.Context) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.inner.Ping(ctx)
	})
}

func (r *Retrying) Migrate(ctx context.Context) error {
	return r.inner.Migrate(ctx)
}

func (r *Retrying) PendingMigrations(ctx context.Context) ([]uint, error) {
	return r.inner.PendingMigrations(ctx)
}

func (r *Retrying) Close() error {
	return r.inner.Close()
}

// Compile-time interface check.
var _ Store = (*Retrying)(nil)
