// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package session

// DirectiveKind classifies the engine's answer to an intake event.
type DirectiveKind int

const (
	// DirectiveAllow lets the input pass through to the protected
	// environment.
	DirectiveAllow DirectiveKind = iota

	// DirectivePrompt holds the input and asks the UI collaborator to
	// render the attached message.
	DirectivePrompt

	// DirectiveKick terminates the connection with the attached message
	// as the reason.
	DirectiveKick
)

// String returns the directive kind name.
func (k DirectiveKind) String() string {
	switch k {
	case DirectiveAllow:
		return "allow"
	case DirectivePrompt:
		return "prompt"
	case DirectiveKick:
		return "kick"
	default:
		return "unknown"
	}
}

// MessageKind identifies a prompt or notice for the UI collaborator.
// The engine never formats display text; it emits kinds plus parameters
// and the collaborator owns rendering.
type MessageKind string

const (
	MsgPasswordPrompt     MessageKind = "password_prompt"
	MsgEnrollPrompt       MessageKind = "enroll_prompt"
	MsgSecondFactorPrompt MessageKind = "second_factor_prompt"
	MsgCodeSent           MessageKind = "code_sent"
	MsgWelcome            MessageKind = "welcome"
	MsgInvalidCredential  MessageKind = "invalid_credential"
	MsgLocked             MessageKind = "locked"
	MsgTooManyAttempts    MessageKind = "too_many_attempts"
	MsgCooldown           MessageKind = "cooldown"
	MsgWait               MessageKind = "wait"
	MsgServiceUnavailable MessageKind = "service_unavailable"
	MsgProtocolViolation  MessageKind = "protocol_violation"
	MsgIdleTimeout        MessageKind = "idle_timeout"
)

// Message is an opaque structured payload for the messaging collaborator.
type Message struct {
	Kind   MessageKind
	Params map[string]string
}

// NewMessage creates a message with optional key/value parameter pairs.
func NewMessage(kind MessageKind, kv ...string) Message {
	m := Message{Kind: kind}
	if len(kv) > 0 {
		m.Params = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			m.Params[kv[i]] = kv[i+1]
		}
	}
	return m
}

// Directive is the engine's answer to a single intake event.
type Directive struct {
	Kind    DirectiveKind
	Message Message
}

// Allow is the pass-through directive.
func Allow() Directive {
	return Directive{Kind: DirectiveAllow}
}

// Prompt builds a prompt directive.
func Prompt(msg Message) Directive {
	return Directive{Kind: DirectivePrompt, Message: msg}
}

// Kick builds a kick directive.
func Kick(msg Message) Directive {
	return Directive{Kind: DirectiveKick, Message: msg}
}

// Messenger delivers asynchronous prompts and notices to the UI
// collaborator for a connected identity. Disconnect asks the
// collaborator to drop the connection with msg as the reason.
type Messenger interface {
	Send(identityKey string, msg Message)
	Disconnect(identityKey string, msg Message)
}
