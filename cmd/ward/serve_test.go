// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package main

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wardmud/ward/internal/config"
)

func TestPolicyFromConfig_MapsThresholds(t *testing.T) {
	cfg := config.AuthConfig{
		LockoutThreshold:   7,
		LockoutDuration:    30 * time.Minute,
		SessionPasswordCap: 5,
		SecondFactorCap:    2,
		MinPasswordLength:  12,
		IdleTimeout:        90 * time.Second,
		SubmitCooldown:     2 * time.Second,
		RateLimitMax:       20,
		RateLimitWindow:    30 * time.Second,
		StoreTimeout:       time.Second,
	}

	p := policyFromConfig(cfg)

	assert.Equal(t, 7, p.Lockout.Threshold)
	assert.Equal(t, 30*time.Minute, p.Lockout.Duration)
	assert.Equal(t, 5, p.SessionPasswordCap)
	assert.Equal(t, 2, p.SecondFactorCap)
	assert.Equal(t, 12, p.MinPasswordLength)
	assert.Equal(t, 90*time.Second, p.IdleTimeout)
	assert.Equal(t, 2*time.Second, p.SubmitCooldown)
	assert.Equal(t, 20, p.RateLimitMax)
	assert.Equal(t, 30*time.Second, p.RateLimitWindow)
	assert.Equal(t, time.Second, p.StoreTimeout)
}

func TestPolicyFromConfig_ZerosDisableThrottling(t *testing.T) {
	cfg := config.AuthConfig{
		LockoutThreshold: 5,
		LockoutDuration:  15 * time.Minute,
	}

	p := policyFromConfig(cfg)

	assert.Zero(t, p.SubmitCooldown, "zero cooldown stays zero to disable spacing")
	assert.Zero(t, p.RateLimitMax, "zero max stays zero to disable the window limiter")
	// Caps fall back to defaults rather than zero, which would reject
	// every submission.
	assert.Positive(t, p.SessionPasswordCap)
	assert.Positive(t, p.SecondFactorCap)
	assert.Positive(t, p.MinPasswordLength)
}

func TestStartupTimer_LogsStages(t *testing.T) {
	var buf bytes.Buffer
	timer := newStartupTimer(slog.New(slog.NewTextHandler(&buf, nil)))

	timer.stage("store_connect")
	timer.stage("engine")
	timer.finish()

	out := buf.String()
	assert.Contains(t, out, "store_connect")
	assert.Contains(t, out, "engine")
	assert.Contains(t, out, "startup complete")
}
