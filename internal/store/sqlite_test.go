// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardmud/ward/internal/identity"
)

// openTestSQLite returns a migrated in-memory store.
func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedIdentity(t *testing.T, s *SQLite, key string) *identity.Record {
	t.Helper()
	rec, err := identity.NewRecord(key, "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA")
	require.NoError(t, err)
	require.NoError(t, s.CreateIdentity(context.Background(), rec))
	return rec
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))

	pending, err := s.PendingMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSQLite_CreateFetchRoundTrip(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	seeded := seedIdentity(t, s, "alice")

	got, err := s.FetchIdentity(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, "alice", got.Key)
	assert.Equal(t, seeded.PasswordHash, got.PasswordHash)
	assert.Nil(t, got.TOTPSecret)
	assert.Nil(t, got.LastLoginAt)
	assert.Nil(t, got.LastLocation)
	assert.Nil(t, got.LockedUntil)
	assert.Zero(t, got.FailedAttempts)
	assert.Equal(t, seeded.EnrolledAt.Unix(), got.EnrolledAt.Unix())
}

func TestSQLite_FetchIsCaseInsensitive(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	seedIdentity(t, s, "Alice")

	got, err := s.FetchIdentity(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Key)
}

func TestSQLite_FetchMissing(t *testing.T) {
	s := openTestSQLite(t)

	_, err := s.FetchIdentity(context.Background(), "nobody")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestSQLite_CreateDuplicate(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	seedIdentity(t, s, "alice")

	dup, err := identity.NewRecord("alice", "otherhash")
	require.NoError(t, err)
	assert.ErrorIs(t, s.CreateIdentity(ctx, dup), identity.ErrAlreadyExists)

	// Different case collides too: names are unique case-insensitively.
	dupCase, err := identity.NewRecord("ALICE", "otherhash")
	require.NoError(t, err)
	assert.ErrorIs(t, s.CreateIdentity(ctx, dupCase), identity.ErrAlreadyExists)
}

func TestSQLite_RecordFailedAttemptCrossesThreshold(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	policy := identity.LockoutPolicy{Threshold: 3, Duration: 15 * time.Minute}

	seedIdentity(t, s, "bob")

	for i := 1; i <= 2; i++ {
		attempts, crossed, err := s.RecordFailedAttempt(ctx, "bob", policy)
		require.NoError(t, err)
		assert.Equal(t, i, attempts)
		assert.False(t, crossed)
	}

	attempts, crossed, err := s.RecordFailedAttempt(ctx, "bob", policy)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, crossed)

	rec, err := s.FetchIdentity(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, rec.LockedUntil)
	assert.True(t, rec.IsLocked(time.Now()))
}

func TestSQLite_RecordFailedAttemptMissing(t *testing.T) {
	s := openTestSQLite(t)

	_, _, err := s.RecordFailedAttempt(context.Background(), "nobody", identity.DefaultLockoutPolicy())
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestSQLite_ResetFailedAttempts(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	policy := identity.LockoutPolicy{Threshold: 1, Duration: time.Hour}

	seedIdentity(t, s, "bob")
	_, crossed, err := s.RecordFailedAttempt(ctx, "bob", policy)
	require.NoError(t, err)
	require.True(t, crossed)

	require.NoError(t, s.ResetFailedAttempts(ctx, "bob"))

	rec, err := s.FetchIdentity(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, rec.FailedAttempts)
	assert.Nil(t, rec.LockedUntil)
}

func TestSQLite_RecordLoginClearsFailures(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	seedIdentity(t, s, "alice")
	_, _, err := s.RecordFailedAttempt(ctx, "alice", identity.DefaultLockoutPolicy())
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordLogin(ctx, "alice", at))

	rec, err := s.FetchIdentity(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, rec.FailedAttempts)
	assert.Nil(t, rec.LockedUntil)
	require.NotNil(t, rec.LastLoginAt)
	assert.Equal(t, at.Unix(), rec.LastLoginAt.Unix())
}

func TestSQLite_SetTOTPSecret(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	seedIdentity(t, s, "alice")

	secret := "JBSWY3DPEHPK3PXP"
	require.NoError(t, s.SetTOTPSecret(ctx, "alice", &secret))

	rec, err := s.FetchIdentity(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, rec.TOTPSecret)
	assert.Equal(t, secret, *rec.TOTPSecret)
	assert.True(t, rec.HasTOTP())

	require.NoError(t, s.SetTOTPSecret(ctx, "alice", nil))
	rec, err = s.FetchIdentity(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, rec.TOTPSecret)
}

func TestSQLite_UpdateLastLocation(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	seedIdentity(t, s, "alice")
	require.NoError(t, s.UpdateLastLocation(ctx, "alice", "203.0.0.0/16"))

	rec, err := s.FetchIdentity(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, rec.LastLocation)
	assert.Equal(t, "203.0.0.0/16", *rec.LastLocation)
}

func TestSQLite_UpdateCredential(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	seedIdentity(t, s, "alice")
	require.NoError(t, s.UpdateCredential(ctx, "alice", "newhash"))

	rec, err := s.FetchIdentity(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "newhash", rec.PasswordHash)

	assert.ErrorIs(t, s.UpdateCredential(ctx, "nobody", "hash"), identity.ErrNotFound)
}
