// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardmud/ward/pkg/errutil"
)

// fakeMigrationConn records runner interactions against an in-memory
// version table.
type fakeMigrationConn struct {
	applied    map[uint]Applied
	applyCalls []uint
	applyErr   error
}

func newFakeMigrationConn() *fakeMigrationConn {
	return &fakeMigrationConn{applied: make(map[uint]Applied)}
}

func (f *fakeMigrationConn) EnsureVersionTable(_ context.Context) error {
	return nil
}

func (f *fakeMigrationConn) AppliedMigrations(_ context.Context) (map[uint]Applied, error) {
	out := make(map[uint]Applied, len(f.applied))
	for v, a := range f.applied {
		out[v] = a
	}
	return out, nil
}

func (f *fakeMigrationConn) ApplyInTx(_ context.Context, m Migration) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applyCalls = append(f.applyCalls, m.Version)
	f.applied[m.Version] = Applied{Name: m.Name, Checksum: m.Checksum}
	return nil
}

func TestRunner_AppliesAllPendingInOrder(t *testing.T) {
	conn := newFakeMigrationConn()
	r, err := NewRunner(conn, BackendSQLite)
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))

	require.NotEmpty(t, conn.applyCalls)
	for i, v := range conn.applyCalls {
		assert.Equal(t, uint(i+1), v, "migrations must apply in ascending order")
	}
}

func TestRunner_RerunIsNoOp(t *testing.T) {
	conn := newFakeMigrationConn()
	r, err := NewRunner(conn, BackendSQLite)
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))
	firstRun := len(conn.applyCalls)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, firstRun, len(conn.applyCalls), "applied migrations must never reapply")
}

func TestRunner_ChecksumMismatchAborts(t *testing.T) {
	conn := newFakeMigrationConn()
	r, err := NewRunner(conn, BackendSQLite)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	tampered := conn.applied[1]
	tampered.Checksum = "deadbeef"
	conn.applied[1] = tampered

	err = r.Run(context.Background())
	errutil.AssertErrorCode(t, err, "MIGRATION_FAILED")
	errutil.AssertErrorContext(t, err, "version", uint(1))
}

func TestRunner_GapBelowHighestAborts(t *testing.T) {
	conn := newFakeMigrationConn()
	r, err := NewRunner(conn, BackendSQLite)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))
	require.GreaterOrEqual(t, len(conn.applied), 2, "test needs at least two embedded migrations")

	// Simulate a hole: version 1 vanished from the record while a higher
	// version remains applied.
	delete(conn.applied, 1)

	err = r.Run(context.Background())
	errutil.AssertErrorCode(t, err, "MIGRATION_FAILED")
}

func TestRunner_Pending(t *testing.T) {
	conn := newFakeMigrationConn()
	r, err := NewRunner(conn, BackendSQLite)
	require.NoError(t, err)

	pending, err := r.Pending(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, pending)
	assert.Equal(t, uint(1), pending[0])

	require.NoError(t, r.Run(context.Background()))

	pending, err = r.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLoadMigrations_BothDialects(t *testing.T) {
	for _, dialect := range []string{BackendPostgres, BackendSQLite} {
		t.Run(dialect, func(t *testing.T) {
			migs, err := loadMigrations(dialect)
			require.NoError(t, err)
			require.NotEmpty(t, migs)
			for i, m := range migs {
				assert.Equal(t, uint(i+1), m.Version)
				assert.NotEmpty(t, m.SQL)
				assert.Len(t, m.Checksum, 64)
			}
		})
	}
}
