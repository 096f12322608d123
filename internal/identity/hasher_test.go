// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgon2Hasher_RoundTrip(t *testing.T) {
	h := NewArgon2Hasher()

	encoded, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	ok, err := h.Verify("correct horse battery staple", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestArgon2Hasher_WrongPassword(t *testing.T) {
	h := NewArgon2Hasher()

	encoded, err := h.Hash("hunter2hunter2")
	require.NoError(t, err)

	ok, err := h.Verify("hunter3hunter3", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArgon2Hasher_UniqueSalts(t *testing.T) {
	h := NewArgon2Hasher()

	first, err := h.Hash("same password")
	require.NoError(t, err)
	second, err := h.Hash("same password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestArgon2Hasher_EmptyPassword(t *testing.T) {
	h := NewArgon2Hasher()

	_, err := h.Hash("")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestArgon2Hasher_MalformedEncoding(t *testing.T) {
	h := NewArgon2Hasher()

	tests := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"not phc", "plaintext"},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"truncated", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := h.Verify("anything", tt.encoded)
			assert.Error(t, err)
			assert.False(t, ok)
		})
	}
}

func TestArgon2Hasher_DummyHashNeverMatches(t *testing.T) {
	h := NewArgon2Hasher()

	ok, err := h.Verify("any password at all", DummyHash)
	require.NoError(t, err)
	assert.False(t, ok)
}
