// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package telnet

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wardmud/ward/internal/identity"
	"github.com/wardmud/ward/internal/session"
)

// stubStore is a minimal in-memory credential store for handler tests.
type stubStore struct {
	mu   sync.Mutex
	recs map[string]*identity.Record
}

func newStubStore() *stubStore {
	return &stubStore{recs: make(map[string]*identity.Record)}
}

func (s *stubStore) seed(t *testing.T, key, password string) {
	t.Helper()
	rec, err := identity.NewRecord(key, "h:"+password)
	require.NoError(t, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[key] = rec
}

func (s *stubStore) FetchIdentity(_ context.Context, key string) (*identity.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *stubStore) CreateIdentity(_ context.Context, rec *identity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.Key]; ok {
		return identity.ErrAlreadyExists
	}
	cp := *rec
	s.recs[rec.Key] = &cp
	return nil
}

func (s *stubStore) UpdateCredential(context.Context, string, string) error { return nil }

func (s *stubStore) RecordFailedAttempt(_ context.Context, key string, _ identity.LockoutPolicy) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	if !ok {
		return 0, false, identity.ErrNotFound
	}
	rec.FailedAttempts++
	return rec.FailedAttempts, false, nil
}

func (s *stubStore) ResetFailedAttempts(context.Context, string) error { return nil }

func (s *stubStore) SetTOTPSecret(_ context.Context, key string, secret *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[key]; ok {
		rec.TOTPSecret = secret
	}
	return nil
}

func (s *stubStore) UpdateLastLocation(context.Context, string, string) error { return nil }
func (s *stubStore) RecordLogin(context.Context, string, time.Time) error     { return nil }
func (s *stubStore) Ping(context.Context) error                               { return nil }
func (s *stubStore) Migrate(context.Context) error                            { return nil }
func (s *stubStore) PendingMigrations(context.Context) ([]uint, error)        { return nil, nil }
func (s *stubStore) Close() error                                             { return nil }

type stubHasher struct{}

func (stubHasher) Hash(password string) (string, error) { return "h:" + password, nil }

func (stubHasher) Verify(password, encoded string) (bool, error) {
	return encoded == "h:"+password, nil
}

// testClient drives one side of a piped connection.
type testClient struct {
	conn net.Conn
	r    *bufio.Reader
}

// expect reads lines until one contains substr.
func (c *testClient) expect(t *testing.T, substr string) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		line, err := c.r.ReadString('\n')
		require.NoError(t, err, "waiting for %q", substr)
		if strings.Contains(line, substr) {
			return
		}
	}
}

func (c *testClient) sendLine(t *testing.T, line string) {
	t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

type handlerHarness struct {
	engine   *session.Engine
	registry *Registry
	store    *stubStore
}

func newHarness(t *testing.T) *handlerHarness {
	t.Helper()
	st := newStubStore()
	reg := NewRegistry()
	policy := session.DefaultPolicy()
	policy.SubmitCooldown = 0
	policy.RateLimitMax = 0
	e := session.NewEngine(session.Deps{
		Store:     st,
		Hasher:    stubHasher{},
		Messenger: reg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, policy)
	t.Cleanup(e.Close)
	return &handlerHarness{engine: e, registry: reg, store: st}
}

// dial wires a piped connection to a running handler and returns its
// client end plus a channel that closes when the handler exits.
func (h *handlerHarness) dial(t *testing.T) (*testClient, chan struct{}) {
	t.Helper()
	server, client := net.Pipe()
	handler := NewConnectionHandler(server, h.engine, h.registry)

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.Handle(context.Background())
	}()
	t.Cleanup(func() {
		_ = client.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("handler did not shut down")
		}
	})

	c := &testClient{conn: client, r: bufio.NewReader(client)}
	c.expect(t, "Ward authentication service.")
	return c, done
}

func TestHandler_LoginFlow(t *testing.T) {
	h := newHarness(t)
	h.store.seed(t, "alice", "opensesame")
	c, _ := h.dial(t)

	c.sendLine(t, "connect alice")
	c.expect(t, "Enter your password.")

	c.sendLine(t, "wrong guess")
	c.expect(t, "attempts remaining")

	c.sendLine(t, "opensesame")
	c.expect(t, "Welcome back.")
	assert.True(t, h.engine.IsAuthenticated("alice"))
}

func TestHandler_QuitEndsSession(t *testing.T) {
	h := newHarness(t)
	h.store.seed(t, "alice", "opensesame")
	c, done := h.dial(t)

	c.sendLine(t, "connect alice")
	c.expect(t, "Enter your password.")
	c.sendLine(t, "opensesame")
	c.expect(t, "Welcome back.")

	c.sendLine(t, "quit")
	c.expect(t, "Goodbye.")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after quit")
	}
	assert.False(t, h.engine.IsAuthenticated("alice"))
}

func TestHandler_EnrollmentFlow(t *testing.T) {
	h := newHarness(t)
	c, _ := h.dial(t)

	c.sendLine(t, "connect newcomer")
	c.expect(t, "Choose a password to claim this name.")

	c.sendLine(t, "short")
	c.expect(t, "Password too short")

	c.sendLine(t, "a perfectly fine password")
	c.expect(t, "Welcome back.")
	assert.True(t, h.engine.IsAuthenticated("newcomer"))
}

func TestHandler_RequiresConnectFirst(t *testing.T) {
	h := newHarness(t)
	c, _ := h.dial(t)

	c.sendLine(t, "look around")
	c.expect(t, "Use: connect <name>")
}

func TestHandler_DisplacedByNewerConnection(t *testing.T) {
	h := newHarness(t)
	h.store.seed(t, "alice", "opensesame")

	first, firstDone := h.dial(t)
	first.sendLine(t, "connect alice")
	first.expect(t, "Enter your password.")

	second, _ := h.dial(t)
	second.sendLine(t, "connect alice")
	first.expect(t, "Displaced by a newer connection.")
	second.expect(t, "Enter your password.")

	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("displaced handler did not exit")
	}

	// The displaced handler's teardown must not touch the new session.
	second.sendLine(t, "opensesame")
	second.expect(t, "Welcome back.")
	assert.True(t, h.engine.IsAuthenticated("alice"))
}

func TestHandler_ConnectNameIsCaseInsensitive(t *testing.T) {
	h := newHarness(t)
	h.store.seed(t, "alice", "opensesame")
	c, _ := h.dial(t)

	c.sendLine(t, "connect ALICE")
	c.expect(t, "Enter your password.")
	c.sendLine(t, "opensesame")
	c.expect(t, "Welcome back.")
	assert.True(t, h.engine.IsAuthenticated("alice"))

	// A takeover under a different casing still displaces this one.
	second, _ := h.dial(t)
	second.sendLine(t, "connect Alice")
	c.expect(t, "Displaced by a newer connection.")
	second.expect(t, "Enter your password.")
}

func TestHandler_TakeoverSurvivesPredecessorTeardown(t *testing.T) {
	h := newHarness(t)
	h.store.seed(t, "alice", "opensesame")

	// Drop the predecessor's connection at the same moment the successor
	// claims the name, so its teardown races the takeover. The successor
	// must keep its session no matter how the two interleave.
	for range 10 {
		first, firstDone := h.dial(t)
		first.sendLine(t, "connect alice")
		first.expect(t, "Enter your password.")

		second, _ := h.dial(t)
		go first.conn.Close() //nolint:errcheck // deliberate mid-takeover drop
		second.sendLine(t, "connect alice")
		second.expect(t, "Enter your password.")

		select {
		case <-firstDone:
		case <-time.After(2 * time.Second):
			t.Fatal("predecessor handler did not exit")
		}

		second.sendLine(t, "opensesame")
		second.expect(t, "Welcome back.")
		require.True(t, h.engine.IsAuthenticated("alice"))

		second.sendLine(t, "quit")
		second.expect(t, "Goodbye.")
	}
}

func TestHandler_ChurnedConnectionsLeaveNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	h.store.seed(t, "alice", "opensesame")

	for range 3 {
		c, done := h.dial(t)
		c.sendLine(t, "connect alice")
		c.expect(t, "Enter your password.")
		c.sendLine(t, "quit")
		c.expect(t, "Goodbye.")
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("handler did not exit after quit")
		}
		_ = c.conn.Close()
	}
	h.engine.Close()
}

func TestSend_DeadlineUnblocksStalledClient(t *testing.T) {
	old := writeTimeout
	writeTimeout = 50 * time.Millisecond
	t.Cleanup(func() { writeTimeout = old })

	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	h := NewConnectionHandler(server, nil, nil)
	done := make(chan struct{})
	go func() {
		h.send("you there?")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("send blocked on a client that stopped reading")
	}
}

func TestRegistry_BindAndUnbind(t *testing.T) {
	reg := NewRegistry()
	server1, c1 := net.Pipe()
	server2, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	h1 := &ConnectionHandler{conn: server1}
	h2 := &ConnectionHandler{conn: server2}

	assert.Nil(t, reg.Bind("alice", h1))
	assert.Nil(t, reg.Bind("alice", h1), "rebinding the same handler displaces nothing")
	assert.Same(t, h1, reg.Bind("alice", h2))

	// Unbind from a stale handler leaves the current binding alone.
	assert.False(t, reg.Unbind("alice", h1))
	assert.Same(t, h2, reg.lookup("alice"))

	assert.True(t, reg.Unbind("alice", h2))
	assert.Nil(t, reg.lookup("alice"))
}

func TestRegistry_SendWithoutBindingIsDropped(t *testing.T) {
	reg := NewRegistry()
	reg.Send("ghost", session.NewMessage(session.MsgWelcome))
	reg.Disconnect("ghost", session.NewMessage(session.MsgIdleTimeout))
}
