// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package main

import (
	"log/slog"
	"time"
)

// startupTimer reports per-stage startup timing so slow stores and
// migration runs show up in the logs instead of as a silent hang.
type startupTimer struct {
	logger *slog.Logger
	start  time.Time
	last   time.Time
}

func newStartupTimer(logger *slog.Logger) *startupTimer {
	now := time.Now()
	return &startupTimer{logger: logger, start: now, last: now}
}

// stage logs the time spent since the previous stage.
func (t *startupTimer) stage(name string) {
	now := time.Now()
	t.logger.Info("startup stage complete",
		"stage", name,
		"took", now.Sub(t.last).Round(time.Millisecond),
	)
	t.last = now
}

// finish logs the total startup time.
func (t *startupTimer) finish() {
	t.logger.Info("startup complete",
		"total", time.Since(t.start).Round(time.Millisecond),
	)
}
