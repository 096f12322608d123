// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardmud/ward/pkg/errutil"
)

func TestCanonicalKey(t *testing.T) {
	assert.Equal(t, "alice", CanonicalKey("ALICE"))
	assert.Equal(t, "alice", CanonicalKey("Alice"))
	assert.Equal(t, "alice", CanonicalKey("alice"))
	assert.Equal(t, "night_watch42", CanonicalKey("Night_Watch42"))
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid short", "abc", false},
		{"valid with digits", "alice42", false},
		{"valid with underscore", "night_watch", false},
		{"valid max length", strings.Repeat("a", MaxKeyLength), false},
		{"empty", "", true},
		{"too short", "ab", true},
		{"too long", strings.Repeat("a", MaxKeyLength+1), true},
		{"leading digit", "1alice", true},
		{"leading underscore", "_alice", true},
		{"spaces", "al ice", true},
		{"punctuation", "alice!", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, "IDENTITY_INVALID_KEY")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewRecord(t *testing.T) {
	rec, err := NewRecord("alice", "$argon2id$hash")
	require.NoError(t, err)

	assert.Equal(t, "alice", rec.Key)
	assert.Equal(t, "$argon2id$hash", rec.PasswordHash)
	assert.Zero(t, rec.FailedAttempts)
	assert.Nil(t, rec.TOTPSecret)
	assert.Nil(t, rec.LastLoginAt)
	assert.False(t, rec.EnrolledAt.IsZero())
}

func TestNewRecord_InvalidKey(t *testing.T) {
	_, err := NewRecord("!", "$argon2id$hash")
	errutil.AssertErrorCode(t, err, "IDENTITY_INVALID_KEY")
}

func TestRecord_HasTOTP(t *testing.T) {
	rec, err := NewRecord("alice", "hash")
	require.NoError(t, err)
	assert.False(t, rec.HasTOTP())

	empty := ""
	rec.TOTPSecret = &empty
	assert.False(t, rec.HasTOTP())

	secret := "JBSWY3DPEHPK3PXP"
	rec.TOTPSecret = &secret
	assert.True(t, rec.HasTOTP())
}

func TestRecord_KnowsLocation(t *testing.T) {
	rec, err := NewRecord("alice", "hash")
	require.NoError(t, err)

	assert.False(t, rec.KnowsLocation("203.0.113.0/16"))

	loc := "203.0.113.0/16"
	rec.LastLocation = &loc
	assert.True(t, rec.KnowsLocation("203.0.113.0/16"))
	assert.False(t, rec.KnowsLocation("198.51.100.0/16"))
	assert.False(t, rec.KnowsLocation(""))
}
