// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package telnet

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wardmud/ward/internal/identity"
	"github.com/wardmud/ward/internal/session"
)

// ConnectionHandler handles a single line-based connection.
type ConnectionHandler struct {
	conn     net.Conn
	reader   *bufio.Reader
	engine   *session.Engine
	registry *Registry
	connID   ulid.ULID

	// identity is the bound identity key, empty until a connect command.
	identity  string
	quitting  bool
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// writeTimeout bounds each outbound line. Variable so tests can shorten
// it.
var writeTimeout = 5 * time.Second

// NewConnectionHandler creates a handler for conn.
func NewConnectionHandler(conn net.Conn, engine *session.Engine, registry *Registry) *ConnectionHandler {
	return &ConnectionHandler{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		engine:   engine,
		registry: registry,
		connID:   ulid.Make(),
	}
}

// Handle processes the connection until closed.
func (h *ConnectionHandler) Handle(ctx context.Context) {
	defer func() {
		if h.identity != "" && h.registry.Unbind(h.identity, h) {
			h.engine.Disconnect(ctx, h.identity)
		}
		h.close()
	}()

	h.send("Ward authentication service.")
	h.send("Use: connect <name>")

	// readerDone releases the reader goroutine once this loop stops
	// receiving; without it every churned connection would strand one
	// goroutine on its final send.
	readerDone := make(chan struct{})
	defer close(readerDone)

	lineCh := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		for {
			line, err := h.reader.ReadString('\n')
			if err != nil {
				select {
				case errCh <- err:
				case <-readerDone:
				}
				return
			}
			select {
			case lineCh <- strings.TrimSpace(line):
			case <-readerDone:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-errCh:
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("connection read error",
					"conn_id", h.connID.String(),
					"error", err,
				)
			}
			return

		case line := <-lineCh:
			h.processLine(ctx, line)
			if h.quitting {
				return
			}
		}
	}
}

// processLine routes one input line. Before an identity is bound only
// the connect command is understood; afterwards every line is a
// submission for the engine, apart from a few local commands.
func (h *ConnectionHandler) processLine(ctx context.Context, line string) {
	if line == "" {
		return
	}

	if h.identity == "" {
		h.handleConnect(ctx, line)
		return
	}

	if line == "quit" {
		h.quitting = true
		h.send("Goodbye.")
		return
	}

	if h.engine.IsAuthenticated(h.identity) {
		switch {
		case line == "totp enroll":
			h.handleTOTPEnroll(ctx)
			return
		case strings.HasPrefix(line, "totp confirm "):
			h.handleTOTPConfirm(ctx, strings.TrimPrefix(line, "totp confirm "))
			return
		}
	}

	h.apply(h.engine.TextInput(ctx, h.identity, line))
}

// handleConnect binds the connection to an identity and starts its
// verification session.
func (h *ConnectionHandler) handleConnect(ctx context.Context, line string) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "connect" {
		h.send("Use: connect <name>")
		return
	}
	// The registry binding must use the same canonical key the engine
	// addresses its messages to.
	name := identity.CanonicalKey(fields[1])

	origin := h.conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(origin); err == nil {
		origin = host
	}

	// Bind before the engine knows about the session. A predecessor that
	// drains out mid takeover then fails its conditional Unbind and cannot
	// end the session created here.
	h.identity = name
	if prev := h.registry.Bind(name, h); prev != nil {
		prev.send("Displaced by a newer connection.")
		prev.close()
	}

	d := h.engine.Connect(ctx, name, origin)
	if d.Kind == session.DirectiveKick {
		h.registry.Unbind(name, h)
		h.identity = ""
	}
	h.apply(d)
}

func (h *ConnectionHandler) handleTOTPEnroll(ctx context.Context) {
	enr, err := h.engine.BeginTOTPEnrollment(ctx, h.identity)
	if err != nil {
		slog.Debug("totp enrollment refused", "identity", h.identity, "error", err)
		h.send("Enrollment unavailable right now.")
		return
	}
	h.send("Add this secret to your authenticator app: " + enr.Secret)
	h.send("Then confirm with: totp confirm <code>")
}

func (h *ConnectionHandler) handleTOTPConfirm(ctx context.Context, code string) {
	if err := h.engine.ConfirmTOTPEnrollment(ctx, h.identity, strings.TrimSpace(code)); err != nil {
		slog.Debug("totp confirmation failed", "identity", h.identity, "error", err)
		h.send("That code didn't match. Check your authenticator and try again.")
		return
	}
	h.send("Authenticator enrolled. Future logins will require a code.")
}

// apply reacts to an engine directive.
func (h *ConnectionHandler) apply(d session.Directive) {
	switch d.Kind {
	case session.DirectiveAllow:
		// Input passes through to the protected environment.
	case session.DirectivePrompt:
		h.send(Render(d.Message))
	case session.DirectiveKick:
		h.send(Render(d.Message))
		h.quitting = true
	}
}

// send writes one line, best effort. The deadline keeps a client that
// stopped reading from wedging the handler, and transitively the
// engine's asynchronous verification goroutines behind Registry.Send.
func (h *ConnectionHandler) send(msg string) {
	if msg == "" {
		return
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := h.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return
	}
	if _, err := h.conn.Write([]byte(msg + "\r\n")); err != nil {
		slog.Debug("error writing to connection",
			"conn_id", h.connID.String(),
			"error", err,
		)
	}
}

// close shuts the connection down once.
func (h *ConnectionHandler) close() {
	h.closeOnce.Do(func() {
		if err := h.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Debug("error closing connection", "error", err)
		}
	})
}
