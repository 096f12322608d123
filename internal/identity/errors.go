// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package identity

import "errors"

// Sentinel errors for the authentication taxonomy. Callers test with
// errors.Is; the oops codes layered on top carry logging context only.
var (
	// ErrNotFound is returned when an identity has no persisted record.
	// Treated as "must enroll", never surfaced verbatim to the connecting
	// identity.
	ErrNotFound = errors.New("identity not found")

	// ErrAlreadyExists is returned when enrolling an identity key that is
	// already taken.
	ErrAlreadyExists = errors.New("identity already exists")

	// ErrInvalidCredential is returned for a wrong password or code.
	// Externally it always yields the same generic rejection regardless of
	// whether the identity exists.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrLocked is returned when the failed-attempt threshold has been
	// exceeded and the lock window is still open.
	ErrLocked = errors.New("identity locked")
)
