// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains Ward's Prometheus metrics. It satisfies the session
// engine's recorder interface so the engine stays free of any metrics
// dependency.
type Metrics struct {
	AuthAttemptsTotal    *prometheus.CounterVec
	ChallengesTotal      *prometheus.CounterVec
	LockoutsTotal        prometheus.Counter
	CacheLookupsTotal    *prometheus.CounterVec
	SessionsExpiredTotal prometheus.Counter
	StoreErrorsTotal     *prometheus.CounterVec
	LiveSessions         prometheus.GaugeFunc
}

// NewMetrics creates and registers Ward's metrics. sessionCount feeds
// the live-session gauge; nil leaves the gauge at zero.
func NewMetrics(reg prometheus.Registerer, sessionCount func() int) *Metrics {
	m := &Metrics{
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ward_auth_attempts_total",
				Help: "Total number of authentication attempts by outcome",
			},
			[]string{"outcome"},
		),
		ChallengesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ward_challenges_issued_total",
				Help: "Total number of second-factor challenges issued by kind",
			},
			[]string{"kind"},
		),
		LockoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ward_lockouts_total",
				Help: "Total number of identities locked out",
			},
		),
		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ward_authcache_lookups_total",
				Help: "Total number of authentication cache lookups by result",
			},
			[]string{"result"},
		),
		SessionsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ward_sessions_expired_total",
				Help: "Total number of sessions expired before authenticating",
			},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ward_store_errors_total",
				Help: "Total number of credential store failures by operation",
			},
			[]string{"operation"},
		),
		LiveSessions: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "ward_live_sessions",
				Help: "Number of live login sessions",
			},
			func() float64 {
				if sessionCount == nil {
					return 0
				}
				return float64(sessionCount())
			},
		),
	}

	reg.MustRegister(
		m.AuthAttemptsTotal,
		m.ChallengesTotal,
		m.LockoutsTotal,
		m.CacheLookupsTotal,
		m.SessionsExpiredTotal,
		m.StoreErrorsTotal,
		m.LiveSessions,
	)
	return m
}

// AuthAttempt records one authentication attempt outcome.
func (m *Metrics) AuthAttempt(outcome string) {
	m.AuthAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ChallengeIssued records a second-factor challenge.
func (m *Metrics) ChallengeIssued(kind string) {
	m.ChallengesTotal.WithLabelValues(kind).Inc()
}

// LockoutTriggered records an identity crossing the lockout threshold.
func (m *Metrics) LockoutTriggered() {
	m.LockoutsTotal.Inc()
}

// CacheLookup records an authentication cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// SessionExpired records a session idling out before authentication.
func (m *Metrics) SessionExpired() {
	m.SessionsExpiredTotal.Inc()
}

// StoreError records a credential store failure for the given operation.
func (m *Metrics) StoreError(operation string) {
	m.StoreErrorsTotal.WithLabelValues(operation).Inc()
}
