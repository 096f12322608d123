// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

// Package notify delivers one-time codes through out-of-band transports.
// Delivery is fire-and-forget from the engine's perspective: a transport
// failure is logged and never changes state-machine logic.
package notify

import (
	"context"
	"log/slog"
)

// CodeSender delivers a one-time code to the identity's out-of-band
// destination.
type CodeSender interface {
	SendCode(ctx context.Context, identityKey, code string) error
}

// LogSender is the fallback transport used when no external delivery is
// configured. It deliberately logs only that a code was issued, never the
// code itself.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogSender{logger: logger}
}

// SendCode records that a code was issued for the identity.
func (s *LogSender) SendCode(_ context.Context, identityKey, _ string) error {
	s.logger.Warn("one-time code issued with no delivery transport configured",
		"event", "code_issued",
		"identity", identityKey,
	)
	return nil
}

// Compile-time interface check.
var _ CodeSender = (*LogSender)(nil)
