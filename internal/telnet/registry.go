// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package telnet

import (
	"sync"

	"github.com/wardmud/ward/internal/session"
)

// Registry maps identity keys to their live connection handlers and
// delivers the engine's asynchronous messages to them. It is the
// session engine's Messenger.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*ConnectionHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*ConnectionHandler)}
}

// Bind associates the identity with a handler, displacing any previous
// binding. The displaced handler, if any, is returned so the caller can
// close it.
func (r *Registry) Bind(key string, h *ConnectionHandler) *ConnectionHandler {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[key]
	r.conns[key] = h
	if prev == h {
		return nil
	}
	return prev
}

// Unbind removes the identity's binding if it still points at h and
// reports whether it did. A displaced handler finds its successor bound
// instead and must not tear the identity's session down.
func (r *Registry) Unbind(key string, h *ConnectionHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[key] != h {
		return false
	}
	delete(r.conns, key)
	return true
}

func (r *Registry) lookup(key string) *ConnectionHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[key]
}

// Send delivers a rendered message to the identity's connection. A
// missing binding means the connection already went away; the message
// is dropped.
func (r *Registry) Send(key string, msg session.Message) {
	if h := r.lookup(key); h != nil {
		h.send(Render(msg))
	}
}

// Disconnect delivers a final message and closes the identity's
// connection.
func (r *Registry) Disconnect(key string, msg session.Message) {
	if h := r.lookup(key); h != nil {
		h.send(Render(msg))
		h.close()
	}
}

var _ session.Messenger = (*Registry)(nil)
