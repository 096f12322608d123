// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package session

// MetricsRecorder receives engine events for instrumentation. The engine
// calls it on the hot path, so implementations must be cheap and must
// not block.
type MetricsRecorder interface {
	AuthAttempt(outcome string)
	ChallengeIssued(kind string)
	LockoutTriggered()
	CacheLookup(hit bool)
	SessionExpired()
	StoreError(operation string)
}

// Auth attempt outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeInvalid     = "invalid"
	OutcomeLocked      = "locked"
	OutcomeUnavailable = "unavailable"
	OutcomeThrottled   = "throttled"
)

type nopMetrics struct{}

func (nopMetrics) AuthAttempt(string)    {}
func (nopMetrics) ChallengeIssued(string) {}
func (nopMetrics) LockoutTriggered()     {}
func (nopMetrics) CacheLookup(bool)      {}
func (nopMetrics) SessionExpired()       {}
func (nopMetrics) StoreError(string)     {}
