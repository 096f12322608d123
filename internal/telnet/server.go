// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

// Package telnet provides the line-based connection adapter: it feeds
// connection events into the session engine and renders the engine's
// directives back to clients.
package telnet

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/wardmud/ward/internal/session"
)

// Server accepts line-based connections.
type Server struct {
	addr     string
	listener net.Listener
	engine   *session.Engine
	registry *Registry
	mu       sync.RWMutex
}

// NewServer creates a server feeding engine via registry.
func NewServer(addr string, engine *session.Engine, registry *Registry) *Server {
	return &Server{
		addr:     addr,
		engine:   engine,
		registry: registry,
	}
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	slog.Info("intake server started", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			slog.Debug("error closing listener", "error", err)
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				slog.Error("accept failed", "error", err)
				continue
			}
		}
		handler := NewConnectionHandler(conn, s.engine, s.registry)
		go handler.Handle(ctx)
	}
}
