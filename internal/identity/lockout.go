// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package identity

import "time"

// Default lockout policy values. Both are tunable through configuration;
// the semantics are fixed.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 15 * time.Minute
)

// LockoutPolicy decides when repeated password failures lock an identity.
type LockoutPolicy struct {
	// Threshold is the persisted failure count that triggers a lock.
	Threshold int

	// Duration is how long a triggered lock stays in force.
	Duration time.Duration
}

// DefaultLockoutPolicy returns the stock policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold: DefaultLockoutThreshold,
		Duration:  DefaultLockoutDuration,
	}
}

// Crossed returns true if the given failure count triggers a lock.
func (p LockoutPolicy) Crossed(failures int) bool {
	return failures >= p.Threshold
}

// LockUntil returns the lock expiry for the given failure count, or nil if
// the count is below the threshold.
func (p LockoutPolicy) LockUntil(failures int, now time.Time) *time.Time {
	if !p.Crossed(failures) {
		return nil
	}
	until := now.Add(p.Duration)
	return &until
}

// Remaining returns how much of the lock window is left, or zero when the
// record is not locked.
func Remaining(lockedUntil *time.Time, now time.Time) time.Duration {
	if lockedUntil == nil || !lockedUntil.After(now) {
		return 0
	}
	return lockedUntil.Sub(now)
}
