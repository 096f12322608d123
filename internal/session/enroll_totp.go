// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package session

import (
	"context"

	"github.com/samber/oops"

	"github.com/wardmud/ward/internal/identity"
	"github.com/wardmud/ward/internal/twofactor"
)

// BeginTOTPEnrollment generates a fresh authenticator secret for an
// authenticated identity and arms the session for confirmation. The
// secret is not persisted until ConfirmTOTPEnrollment proves the caller
// holds a working authenticator.
func (e *Engine) BeginTOTPEnrollment(_ context.Context, key string) (*twofactor.Enrollment, error) {
	key = identity.CanonicalKey(key)
	sess, epoch, ok := e.mgr.Get(key)
	if !ok || sess.State != StateAuthenticated {
		return nil, oops.Code("SESSION_NOT_AUTHENTICATED").
			With("identity", key).
			Errorf("second-factor enrollment requires an authenticated session")
	}

	enr, err := e.totp.GenerateEnrollment(key)
	if err != nil {
		return nil, oops.Code("TOTP_ENROLLMENT_FAILED").
			With("identity", key).
			Wrap(err)
	}

	if _, ok := e.mgr.Update(key, epoch, func(s Session) Session {
		s.pendingTOTP = enr.Secret
		return s.touched(e.now())
	}); !ok {
		return nil, oops.Code("SESSION_NOT_AUTHENTICATED").
			With("identity", key).
			Errorf("session ended during enrollment")
	}
	return enr, nil
}

// ConfirmTOTPEnrollment verifies a code against the pending secret and,
// on success, persists it so future logins require the factor.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, key, code string) error {
	key = identity.CanonicalKey(key)
	sess, epoch, ok := e.mgr.Get(key)
	if !ok || sess.State != StateAuthenticated {
		return oops.Code("SESSION_NOT_AUTHENTICATED").
			With("identity", key).
			Errorf("second-factor enrollment requires an authenticated session")
	}
	if sess.pendingTOTP == "" {
		return oops.Code("TOTP_ENROLLMENT_NOT_STARTED").
			With("identity", key).
			Errorf("no enrollment in progress")
	}
	if !e.totp.Verify(sess.pendingTOTP, code) {
		return oops.Code("TOTP_CODE_INVALID").
			With("identity", key).
			Errorf("confirmation code did not match")
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	secret := sess.pendingTOTP
	if err := e.store.SetTOTPSecret(sctx, key, &secret); err != nil {
		e.metrics.StoreError("set_totp_secret")
		return oops.Code("TOTP_ENROLLMENT_FAILED").
			With("identity", key).
			Wrap(err)
	}

	e.mgr.Update(key, epoch, func(s Session) Session {
		s.pendingTOTP = ""
		return s.touched(e.now())
	})
	e.logger.Info("second factor enrolled", "identity", key)
	return nil
}
