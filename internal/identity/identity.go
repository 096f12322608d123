// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

// Package identity provides the credential domain types for Ward.
package identity

import (
	"regexp"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Identity key validation constraints.
const (
	MinKeyLength = 3
	MaxKeyLength = 16
)

// keyRegex matches identity keys that start with a letter and contain only
// letters, numbers, and underscores.
var keyRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Record is a persisted identity record. PasswordHash is a PHC-encoded
// one-way hash; the plaintext secret is never stored or logged.
type Record struct {
	Key            string
	PasswordHash   string
	TOTPSecret     *string // nil until second-factor enrollment is confirmed
	EnrolledAt     time.Time
	LastLoginAt    *time.Time
	LastLocation   *string // coarse country/region code, nil if never seen
	FailedAttempts int
	LockedUntil    *time.Time
	UpdatedAt      time.Time
}

// NewRecord creates a validated Record for a freshly enrolled identity.
func NewRecord(key, passwordHash string) (*Record, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("IDENTITY_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	now := time.Now()
	return &Record{
		Key:          key,
		PasswordHash: passwordHash,
		EnrolledAt:   now,
		UpdatedAt:    now,
	}, nil
}

// IsLocked returns true if the record's lock window is still open.
func (r *Record) IsLocked(now time.Time) bool {
	return r.LockedUntil != nil && r.LockedUntil.After(now)
}

// HasTOTP returns true if a second-factor secret is enrolled and active.
func (r *Record) HasTOTP() bool {
	return r.TOTPSecret != nil && *r.TOTPSecret != ""
}

// KnowsLocation returns true if loc matches the record's last known
// coarse location. An empty loc never matches.
func (r *Record) KnowsLocation(loc string) bool {
	return loc != "" && r.LastLocation != nil && *r.LastLocation == loc
}

// CanonicalKey lowercases an identity key. Store lookups are
// case-insensitive, so anything keyed by identity in memory must use the
// canonical form or "Alice" and "alice" would each hold live state
// against the same persisted record.
func CanonicalKey(key string) string {
	return strings.ToLower(key)
}

// ValidateKey validates an identity key against naming rules.
func ValidateKey(key string) error {
	if key == "" {
		return oops.Code("IDENTITY_INVALID_KEY").Errorf("identity key cannot be empty")
	}
	if len(key) < MinKeyLength {
		return oops.Code("IDENTITY_INVALID_KEY").
			With("min", MinKeyLength).
			Errorf("identity key must be at least %d characters", MinKeyLength)
	}
	if len(key) > MaxKeyLength {
		return oops.Code("IDENTITY_INVALID_KEY").
			With("max", MaxKeyLength).
			Errorf("identity key must be at most %d characters", MaxKeyLength)
	}
	if !keyRegex.MatchString(key) {
		return oops.Code("IDENTITY_INVALID_KEY").
			Errorf("identity key must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}
