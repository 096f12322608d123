// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package twofactor

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// codeAt computes the valid code for the secret at the given time.
func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestTOTPVerifier_SkewWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)
	v := NewTOTPVerifier("ward", WithTOTPClock(func() time.Time { return now }))

	enr, err := v.GenerateEnrollment("alice")
	require.NoError(t, err)

	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"current step", 0, true},
		{"one step behind", -totpPeriod * time.Second, true},
		{"one step ahead", totpPeriod * time.Second, true},
		{"two steps behind", -2 * totpPeriod * time.Second, false},
		{"two steps ahead", 2 * totpPeriod * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := codeAt(t, enr.Secret, now.Add(tt.offset))
			assert.Equal(t, tt.want, v.Verify(enr.Secret, code))
		})
	}
}

func TestTOTPVerifier_RejectsGarbage(t *testing.T) {
	v := NewTOTPVerifier("ward")

	enr, err := v.GenerateEnrollment("alice")
	require.NoError(t, err)

	assert.False(t, v.Verify(enr.Secret, ""))
	assert.False(t, v.Verify(enr.Secret, "000000"))
	assert.False(t, v.Verify(enr.Secret, "not a code"))
	assert.False(t, v.Verify("not base32!", "123456"))
}

func TestTOTPVerifier_GenerateEnrollment(t *testing.T) {
	v := NewTOTPVerifier("ward")

	enr, err := v.GenerateEnrollment("alice")
	require.NoError(t, err)

	assert.NotEmpty(t, enr.Secret)
	assert.Contains(t, enr.URL, "otpauth://totp/")
	assert.Contains(t, enr.URL, "ward")
	assert.Contains(t, enr.URL, "alice")

	other, err := v.GenerateEnrollment("alice")
	require.NoError(t, err)
	assert.NotEqual(t, enr.Secret, other.Secret)
}
