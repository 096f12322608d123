// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package session

import (
	"sync"
	"time"
)

// Cooldown enforces a minimum spacing between submissions per identity.
// Entries expire lazily on read.
type Cooldown struct {
	mu    sync.Mutex
	d     time.Duration
	until map[string]time.Time
	now   func() time.Time
}

// NewCooldown creates a cooldown tracker. A non-positive duration
// disables it.
func NewCooldown(d time.Duration) *Cooldown {
	return &Cooldown{
		d:     d,
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Remaining returns how long the identity must still wait, or zero when
// it may submit now.
func (c *Cooldown) Remaining(key string) time.Duration {
	if c.d <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	until, ok := c.until[key]
	if !ok {
		return 0
	}
	left := until.Sub(c.now())
	if left <= 0 {
		delete(c.until, key)
		return 0
	}
	return left
}

// Touch starts a fresh cooldown window for the identity.
func (c *Cooldown) Touch(key string) {
	if c.d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[key] = c.now().Add(c.d)
}

// Clear removes the identity's cooldown, for example after a successful
// login.
func (c *Cooldown) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.until, key)
}

type windowCount struct {
	count   int
	resetAt time.Time
}

// WindowLimiter caps submissions per identity within a fixed window.
// It is a second line of defense behind the persistent lockout counter
// and never writes to the credential store.
type WindowLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	counts map[string]*windowCount
	now    func() time.Time
}

// NewWindowLimiter creates a limiter allowing max submissions per window.
// A non-positive max disables it.
func NewWindowLimiter(max int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		max:    max,
		window: window,
		counts: make(map[string]*windowCount),
		now:    time.Now,
	}
}

// Acquire records a submission and reports whether it is within the
// allowance.
func (l *WindowLimiter) Acquire(key string) bool {
	if l.max <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	wc, ok := l.counts[key]
	if !ok || now.After(wc.resetAt) {
		l.counts[key] = &windowCount{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	wc.count++
	return wc.count <= l.max
}

// Reset drops the identity's window.
func (l *WindowLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, key)
}
