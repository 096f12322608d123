// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

// Package twofactor provides second-factor and anomaly verification layered
// on top of password checks.
package twofactor

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/samber/oops"
)

// TOTP step parameters. Period is the RFC 6238 time step; skew is the
// number of adjacent steps tolerated on either side of now.
const (
	totpPeriod      = 30
	DefaultTOTPSkew = 1
)

// TOTPVerifier validates and provisions time-based one-time codes.
type TOTPVerifier struct {
	issuer string
	skew   uint
	now    func() time.Time
}

// TOTPOption configures a TOTPVerifier.
type TOTPOption func(*TOTPVerifier)

// WithTOTPClock overrides the time source for deterministic tests.
func WithTOTPClock(now func() time.Time) TOTPOption {
	return func(v *TOTPVerifier) {
		v.now = now
	}
}

// WithSkew sets the clock-skew tolerance in time steps.
func WithSkew(steps uint) TOTPOption {
	return func(v *TOTPVerifier) {
		v.skew = steps
	}
}

// NewTOTPVerifier creates a verifier. issuer names this deployment in
// provisioning URLs shown to enrolling identities.
func NewTOTPVerifier(issuer string, opts ...TOTPOption) *TOTPVerifier {
	v := &TOTPVerifier{
		issuer: issuer,
		skew:   DefaultTOTPSkew,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reports whether code matches the secret for the current time step
// or one within the skew window. Any failure, including a malformed secret,
// reports false: the caller surfaces only a generic rejection either way.
func (v *TOTPVerifier) Verify(secret, code string) bool {
	ok, err := totp.ValidateCustom(code, secret, v.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      v.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return ok
}

// Enrollment holds a freshly generated, not-yet-active second-factor secret.
// The secret only becomes active after the identity confirms one correct
// code against it.
type Enrollment struct {
	Secret string
	URL    string // otpauth:// provisioning URL
}

// GenerateEnrollment creates a new secret for the given identity key.
func (v *TOTPVerifier) GenerateEnrollment(key string) (*Enrollment, error) {
	otpKey, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.issuer,
		AccountName: key,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, oops.Code("TOTP_GENERATE_FAILED").
			With("key", key).
			Wrap(err)
	}
	return &Enrollment{
		Secret: otpKey.Secret(),
		URL:    otpKey.URL(),
	}, nil
}
