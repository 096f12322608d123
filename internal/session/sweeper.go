// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package session

import (
	"context"
	"time"
)

const defaultSweepInterval = 10 * time.Second

// Sweeper expires sessions that stall before authenticating. Expired
// sessions are denied access exactly like rejected ones but are logged
// and counted distinctly.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

// NewSweeper creates a sweeper over the engine's sessions. A
// non-positive interval falls back to the default.
func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{engine: engine, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep expires every live unauthenticated session past the idle limit.
func (w *Sweeper) sweep() {
	e := w.engine
	timeout := e.policy.IdleTimeout
	if timeout <= 0 {
		return
	}
	now := e.now()

	for _, sess := range e.mgr.Snapshot() {
		if sess.State == StateAuthenticated || sess.State.Terminal() {
			continue
		}
		if sess.IdleFor(now) < timeout {
			continue
		}
		key := sess.Key
		cur, epoch, ok := e.mgr.Get(key)
		if !ok || cur.LastActivity != sess.LastActivity {
			continue
		}
		if _, ok := e.mgr.Update(key, epoch, func(s Session) Session {
			return s.withState(StateExpired, now)
		}); !ok {
			continue
		}
		e.mgr.End(key, epoch)
		e.cache.Invalidate(key)
		e.metrics.SessionExpired()
		e.logger.Info("session expired",
			"identity", key, "idle", sess.IdleFor(now).Round(time.Second))
		e.messenger.Disconnect(key, NewMessage(MsgIdleTimeout))
	}
}
