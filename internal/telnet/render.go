// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package telnet

import (
	"fmt"

	"github.com/wardmud/ward/internal/session"
)

// Render maps an engine message to a display line. The engine itself
// never produces text; all wording lives here.
func Render(msg session.Message) string {
	p := func(key string) string { return msg.Params[key] }

	switch msg.Kind {
	case session.MsgWait:
		return "One moment..."
	case session.MsgPasswordPrompt:
		return "Enter your password."
	case session.MsgEnrollPrompt:
		return "New here? Choose a password to claim this name."
	case session.MsgSecondFactorPrompt:
		if p("method") == "totp" {
			return "Enter the code from your authenticator app."
		}
		return "Enter your verification code."
	case session.MsgCodeSent:
		return "A verification code has been sent to you. Enter it here."
	case session.MsgWelcome:
		return "Welcome back."
	case session.MsgInvalidCredential:
		if p("reason") == "weak_password" {
			return fmt.Sprintf("Password too short; use at least %s characters.", p("min_length"))
		}
		if r := p("remaining"); r != "" {
			return fmt.Sprintf("That didn't match. %s attempts remaining.", r)
		}
		return "That didn't match. Try again."
	case session.MsgLocked:
		if r := p("retry_in"); r != "" {
			return fmt.Sprintf("This name is temporarily locked. Try again in %s.", r)
		}
		return "This name is temporarily locked."
	case session.MsgTooManyAttempts:
		return "Too many attempts. Goodbye."
	case session.MsgCooldown:
		if r := p("retry_in"); r != "" {
			return fmt.Sprintf("Slow down. Try again in %s.", r)
		}
		return "Slow down."
	case session.MsgServiceUnavailable:
		return "The service is temporarily unavailable. Try again shortly."
	case session.MsgIdleTimeout:
		return "Disconnected: login timed out."
	case session.MsgProtocolViolation:
		return "Disconnected."
	default:
		return ""
	}
}
