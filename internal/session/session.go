// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

// Package session implements the per-identity login state machine and
// the engine that drives it from connection events.
package session

import "time"

// State is a login session's position in the verification ladder.
type State int

const (
	// StateConnectedUnverified is the entry state. The identity record
	// lookup is still in flight and no input is accepted yet.
	StateConnectedUnverified State = iota

	// StateAwaitingPassword accepts password submissions for a known
	// identity.
	StateAwaitingPassword

	// StateAwaitingEnrollment accepts a single initial credential for an
	// identity with no stored record.
	StateAwaitingEnrollment

	// StateAwaitingSecondFactor accepts second-factor submissions after
	// a correct password.
	StateAwaitingSecondFactor

	// StateAuthenticated grants pass-through access.
	StateAuthenticated

	// StateRejected is terminal: verification failed.
	StateRejected

	// StateExpired is terminal: the session idled out before completing
	// verification. Access-wise it equals StateRejected but it is
	// reported distinctly.
	StateExpired
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateConnectedUnverified:
		return "connected_unverified"
	case StateAwaitingPassword:
		return "awaiting_password"
	case StateAwaitingEnrollment:
		return "awaiting_enrollment"
	case StateAwaitingSecondFactor:
		return "awaiting_second_factor"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateExpired
}

// Challenge identifies which second-factor mechanism a session is
// currently answering.
type Challenge int

const (
	ChallengeNone Challenge = iota

	// ChallengeTOTP expects a time-based one-time code from an enrolled
	// authenticator.
	ChallengeTOTP

	// ChallengeAnomaly expects a one-time code delivered out of band
	// after a login from an unrecognized location.
	ChallengeAnomaly
)

// String returns the challenge name for logs.
func (c Challenge) String() string {
	switch c {
	case ChallengeNone:
		return "none"
	case ChallengeTOTP:
		return "totp"
	case ChallengeAnomaly:
		return "anomaly"
	default:
		return "unknown"
	}
}

// Session is the in-memory login state for one connected identity.
// Sessions are values; all mutation goes through the with* transition
// helpers, which return the successor state.
type Session struct {
	Key          string
	State        State
	Challenge    Challenge
	CreatedAt    time.Time
	LastActivity time.Time

	// Location is the connection's resolved coarse location, or the
	// empty string when resolution failed.
	Location string

	// PasswordAttempts counts wrong passwords submitted on this session.
	PasswordAttempts int

	// FactorAttempts counts wrong second-factor submissions on this
	// session.
	FactorAttempts int

	// codeHash holds the one-time hash for a pending anomaly challenge.
	codeHash string

	// pendingTOTP holds an authenticator secret awaiting confirmation.
	pendingTOTP string
}

// newSession returns a fresh session in the entry state.
func newSession(key, location string, now time.Time) Session {
	return Session{
		Key:          key,
		State:        StateConnectedUnverified,
		CreatedAt:    now,
		LastActivity: now,
		Location:     location,
	}
}

func (s Session) withState(next State, now time.Time) Session {
	s.State = next
	s.LastActivity = now
	return s
}

func (s Session) withChallenge(c Challenge, codeHash string, now time.Time) Session {
	s.State = StateAwaitingSecondFactor
	s.Challenge = c
	s.codeHash = codeHash
	s.LastActivity = now
	return s
}

func (s Session) withPasswordFailure(now time.Time) Session {
	s.PasswordAttempts++
	s.LastActivity = now
	return s
}

func (s Session) withFactorFailure(now time.Time) Session {
	s.FactorAttempts++
	s.LastActivity = now
	return s
}

func (s Session) withAuthenticated(now time.Time) Session {
	s.State = StateAuthenticated
	s.Challenge = ChallengeNone
	s.codeHash = ""
	s.LastActivity = now
	return s
}

func (s Session) touched(now time.Time) Session {
	s.LastActivity = now
	return s
}

// IdleFor reports how long the session has been without activity.
func (s Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}
