// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/wardmud/ward/internal/authcache"
	"github.com/wardmud/ward/internal/identity"
	"github.com/wardmud/ward/internal/notify"
	"github.com/wardmud/ward/internal/store"
	"github.com/wardmud/ward/internal/twofactor"
)

// Policy bundles the engine's tunable thresholds.
type Policy struct {
	// Lockout is the persistent failure policy enforced through the store.
	Lockout identity.LockoutPolicy

	// SessionPasswordCap is the number of wrong passwords tolerated on a
	// single session before it is rejected.
	SessionPasswordCap int

	// SecondFactorCap is the number of wrong second-factor submissions
	// tolerated on a single session.
	SecondFactorCap int

	// MinPasswordLength applies to enrollment only. Existing credentials
	// are never re-validated against it.
	MinPasswordLength int

	// IdleTimeout expires sessions that stall before authenticating.
	IdleTimeout time.Duration

	// SubmitCooldown is the minimum spacing between submissions per
	// identity.
	SubmitCooldown time.Duration

	// RateLimitMax caps submissions per identity per RateLimitWindow.
	RateLimitMax    int
	RateLimitWindow time.Duration

	// StoreTimeout bounds each store round trip made on behalf of a
	// submission.
	StoreTimeout time.Duration
}

// DefaultPolicy returns the thresholds used when configuration does not
// override them.
func DefaultPolicy() Policy {
	return Policy{
		Lockout:            identity.DefaultLockoutPolicy(),
		SessionPasswordCap: 3,
		SecondFactorCap:    3,
		MinPasswordLength:  8,
		IdleTimeout:        2 * time.Minute,
		SubmitCooldown:     time.Second,
		RateLimitMax:       10,
		RateLimitWindow:    time.Minute,
		StoreTimeout:       5 * time.Second,
	}
}

// Deps are the engine's collaborators. Store, Hasher, and Messenger are
// required; the rest default to safe no-op implementations.
type Deps struct {
	Store     store.Store
	Cache     *authcache.Cache
	Hasher    identity.Hasher
	TOTP      *twofactor.TOTPVerifier
	Resolver  twofactor.LocationResolver
	Sender    notify.CodeSender
	Messenger Messenger
	Metrics   MetricsRecorder
	Logger    *slog.Logger
}

// Engine drives the per-identity login state machine. It is the only
// writer of session state; all verification outcomes, including
// asynchronous ones, flow through epoch-checked updates so results
// computed for a dead session are discarded.
type Engine struct {
	mgr       *Manager
	store     store.Store
	cache     *authcache.Cache
	hasher    identity.Hasher
	totp      *twofactor.TOTPVerifier
	resolver  twofactor.LocationResolver
	sender    notify.CodeSender
	messenger Messenger
	metrics   MetricsRecorder
	logger    *slog.Logger

	cooldown *Cooldown
	limiter  *WindowLimiter
	policy   Policy

	now func() time.Time
	wg  sync.WaitGroup
}

// NewEngine creates an engine with the given collaborators and policy.
func NewEngine(deps Deps, policy Policy) *Engine {
	e := &Engine{
		mgr:       NewManager(),
		store:     deps.Store,
		cache:     deps.Cache,
		hasher:    deps.Hasher,
		totp:      deps.TOTP,
		resolver:  deps.Resolver,
		sender:    deps.Sender,
		messenger: deps.Messenger,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cooldown:  NewCooldown(policy.SubmitCooldown),
		limiter:   NewWindowLimiter(policy.RateLimitMax, policy.RateLimitWindow),
		policy:    policy,
		now:       time.Now,
	}
	if e.cache == nil {
		e.cache = authcache.New(1024, time.Minute)
	}
	if e.totp == nil {
		e.totp = twofactor.NewTOTPVerifier("ward")
	}
	if e.resolver == nil {
		e.resolver = twofactor.StaticResolver(nil)
	}
	if e.sender == nil {
		e.sender = notify.NewLogSender(e.logger)
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Manager exposes the session manager, for the sweeper and diagnostics.
func (e *Engine) Manager() *Manager {
	return e.mgr
}

// Close waits for in-flight asynchronous work to finish.
func (e *Engine) Close() {
	e.wg.Wait()
}

// storeCtx detaches a submission-scoped context from the connection's
// cancellation and bounds it by the store timeout, so a disconnect mid
// round trip cannot abort a half-applied counter update.
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.policy.StoreTimeout)
}

// Connect registers a new session for the identity and starts the
// asynchronous record lookup. The returned directive asks the caller to
// hold input until the lookup lands; the follow-up prompt arrives via
// the messenger.
func (e *Engine) Connect(ctx context.Context, key, origin string) Directive {
	key = identity.CanonicalKey(key)
	if err := identity.ValidateKey(key); err != nil {
		e.logger.Warn("connect rejected", "identity", key, "error", err)
		return Kick(NewMessage(MsgProtocolViolation, "reason", "invalid_name"))
	}

	epoch, replaced := e.mgr.Begin(key, twofactor.Unknown, e.now())
	if replaced {
		// The prior connection's verdict must not outlive it.
		e.cache.Invalidate(key)
		e.logger.Info("stale session displaced", "identity", key)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.beginVerification(ctx, key, origin, epoch)
	}()

	return Prompt(NewMessage(MsgWait))
}

// beginVerification resolves the connection's location, looks up the
// identity record, and moves the session to the matching prompt state.
// The update is dropped if the session's epoch moved on.
func (e *Engine) beginVerification(ctx context.Context, key, origin string, epoch uint64) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	loc, err := e.resolver.Resolve(sctx, origin)
	if err != nil {
		// Unresolvable origins degrade to "unknown", which suppresses the
		// anomaly factor rather than tripping it.
		e.logger.Warn("location resolution failed", "identity", key, "error", err)
		loc = twofactor.Unknown
	}

	_, err = e.store.FetchIdentity(sctx, key)
	now := e.now()
	switch {
	case err == nil:
		if _, ok := e.mgr.Update(key, epoch, func(s Session) Session {
			s.Location = loc
			return s.withState(StateAwaitingPassword, now)
		}); ok {
			e.messenger.Send(key, NewMessage(MsgPasswordPrompt))
		}
	case errors.Is(err, identity.ErrNotFound):
		if _, ok := e.mgr.Update(key, epoch, func(s Session) Session {
			s.Location = loc
			return s.withState(StateAwaitingEnrollment, now)
		}); ok {
			e.messenger.Send(key, NewMessage(MsgEnrollPrompt))
		}
	default:
		// Fail closed: without the store there is no way to verify, so
		// the session ends rather than waiting in limbo.
		e.logger.Error("identity lookup failed", "identity", key, "error", err)
		e.metrics.StoreError("fetch_identity")
		e.metrics.AuthAttempt(OutcomeUnavailable)
		if _, ok := e.mgr.Update(key, epoch, func(s Session) Session {
			return s.withState(StateRejected, now)
		}); ok {
			e.messenger.Disconnect(key, NewMessage(MsgServiceUnavailable))
			e.mgr.End(key, epoch)
		}
	}
}

// TextInput processes one submission for the identity. Submissions for
// the same identity are handled strictly in arrival order; distinct
// identities proceed concurrently.
func (e *Engine) TextInput(ctx context.Context, key, text string) Directive {
	key = identity.CanonicalKey(key)
	t, sess, epoch, ok := e.serialize(key)
	if !ok {
		return Kick(NewMessage(MsgProtocolViolation, "reason", "no_session"))
	}
	defer t.procMu.Unlock()

	switch sess.State {
	case StateConnectedUnverified:
		return Prompt(NewMessage(MsgWait))

	case StateAuthenticated:
		e.mgr.Update(key, epoch, func(s Session) Session { return s.touched(e.now()) })
		return Allow()

	case StateAwaitingPassword, StateAwaitingEnrollment, StateAwaitingSecondFactor:
		if d, throttled := e.throttle(key, epoch); throttled {
			return d
		}
		switch sess.State {
		case StateAwaitingEnrollment:
			return e.handleEnrollment(ctx, sess, epoch, text)
		case StateAwaitingPassword:
			return e.handlePassword(ctx, sess, epoch, text)
		default:
			return e.handleSecondFactor(ctx, sess, epoch, text)
		}

	default: // terminal
		return Kick(NewMessage(MsgProtocolViolation, "reason", "session_closed"))
	}
}

// serialize acquires the per-identity processing lock and returns the
// current session under it. It loops in case the session is replaced
// between lookup and lock acquisition.
func (e *Engine) serialize(key string) (*tracked, Session, uint64, bool) {
	for {
		t, ok := e.mgr.acquire(key)
		if !ok {
			return nil, Session{}, 0, false
		}
		t.procMu.Lock()
		cur, ok := e.mgr.acquire(key)
		if ok && cur == t {
			sess, epoch, _ := e.mgr.Get(key)
			return t, sess, epoch, true
		}
		t.procMu.Unlock()
		if !ok {
			return nil, Session{}, 0, false
		}
	}
}

// throttle applies the cooldown and the sliding-window limiter. The
// limiter is in-memory defense against hammering; the durable lockout
// counter is enforced separately through the store.
func (e *Engine) throttle(key string, epoch uint64) (Directive, bool) {
	if left := e.cooldown.Remaining(key); left > 0 {
		e.metrics.AuthAttempt(OutcomeThrottled)
		return Prompt(NewMessage(MsgCooldown, "retry_in", left.Round(time.Millisecond).String())), true
	}
	if !e.limiter.Acquire(key) {
		e.metrics.AuthAttempt(OutcomeThrottled)
		e.logger.Warn("submission rate limit exceeded", "identity", key)
		return e.reject(key, epoch, NewMessage(MsgTooManyAttempts)), true
	}
	e.cooldown.Touch(key)
	return Directive{}, false
}

// handleEnrollment treats the submission as the initial credential for
// an identity with no stored record.
func (e *Engine) handleEnrollment(ctx context.Context, sess Session, epoch uint64, text string) Directive {
	key := sess.Key
	if len(text) < e.policy.MinPasswordLength {
		e.mgr.Update(key, epoch, func(s Session) Session { return s.touched(e.now()) })
		return Prompt(NewMessage(MsgInvalidCredential,
			"reason", "weak_password",
			"min_length", strconv.Itoa(e.policy.MinPasswordLength)))
	}

	hash, err := e.hasher.Hash(text)
	if err != nil {
		e.logger.Error("credential hashing failed", "identity", key, "error", err)
		return Prompt(NewMessage(MsgServiceUnavailable))
	}
	rec, err := identity.NewRecord(key, hash)
	if err != nil {
		return Kick(NewMessage(MsgProtocolViolation, "reason", "invalid_name"))
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	switch err := e.store.CreateIdentity(sctx, rec); {
	case err == nil:
		return e.finalize(sctx, sess, epoch)
	case errors.Is(err, identity.ErrAlreadyExists):
		// Lost a race with another enrollment for the same name; fall
		// back to the normal password flow.
		e.mgr.Update(key, epoch, func(s Session) Session {
			return s.withState(StateAwaitingPassword, e.now())
		})
		return Prompt(NewMessage(MsgPasswordPrompt))
	default:
		e.logger.Error("enrollment failed", "identity", key, "error", err)
		e.metrics.StoreError("create_identity")
		e.metrics.AuthAttempt(OutcomeUnavailable)
		return Prompt(NewMessage(MsgServiceUnavailable))
	}
}

// handlePassword verifies the submission against the stored credential.
func (e *Engine) handlePassword(ctx context.Context, sess Session, epoch uint64, text string) Directive {
	key := sess.Key
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	rec, err := e.store.FetchIdentity(sctx, key)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			// Record deleted since connect. Burn a hash to keep timing
			// uniform, then report a plain failure.
			_, _ = e.hasher.Verify(text, identity.DummyHash)
			e.metrics.AuthAttempt(OutcomeInvalid)
			return e.passwordFailure(sctx, sess, epoch, false)
		}
		// Fail closed without touching any counter.
		e.logger.Error("credential fetch failed", "identity", key, "error", err)
		e.metrics.StoreError("fetch_identity")
		e.metrics.AuthAttempt(OutcomeUnavailable)
		e.mgr.Update(key, epoch, func(s Session) Session { return s.touched(e.now()) })
		return Prompt(NewMessage(MsgServiceUnavailable))
	}

	if rec.IsLocked(e.now()) {
		e.metrics.AuthAttempt(OutcomeLocked)
		return Prompt(NewMessage(MsgLocked,
			"retry_in", identity.Remaining(rec.LockedUntil, e.now()).Round(time.Second).String()))
	}

	ok, err := e.hasher.Verify(text, rec.PasswordHash)
	if err != nil {
		e.logger.Error("stored credential unreadable", "identity", key, "error", err)
	}
	if !ok {
		e.metrics.AuthAttempt(OutcomeInvalid)
		return e.passwordFailure(sctx, sess, epoch, true)
	}

	if rec.HasTOTP() {
		e.metrics.ChallengeIssued(ChallengeTOTP.String())
		e.mgr.Update(key, epoch, func(s Session) Session {
			return s.withChallenge(ChallengeTOTP, "", e.now())
		})
		return Prompt(NewMessage(MsgSecondFactorPrompt, "method", "totp"))
	}

	if twofactor.Anomalous(rec, sess.Location) {
		return e.issueAnomalyChallenge(sctx, sess, epoch)
	}

	return e.finalize(sctx, sess, epoch)
}

// passwordFailure records a wrong password. The persistent counter only
// moves when a record exists; the per-session cap applies either way.
func (e *Engine) passwordFailure(sctx context.Context, sess Session, epoch uint64, counted bool) Directive {
	key := sess.Key
	if counted {
		attempts, crossed, err := e.store.RecordFailedAttempt(sctx, key, e.policy.Lockout)
		if err != nil {
			// The failure stands but the counter could not move. Never
			// guess at the count; log and continue.
			e.logger.Error("failed-attempt record lost", "identity", key, "error", err)
			e.metrics.StoreError("record_attempt")
		} else if crossed {
			e.metrics.LockoutTriggered()
			e.cache.Invalidate(key)
			e.logger.Warn("identity locked",
				"identity", key, "attempts", attempts, "duration", e.policy.Lockout.Duration)
			return e.reject(key, epoch,
				NewMessage(MsgLocked, "retry_in", e.policy.Lockout.Duration.String()))
		}
	}

	updated, ok := e.mgr.Update(key, epoch, func(s Session) Session {
		return s.withPasswordFailure(e.now())
	})
	if ok && updated.PasswordAttempts >= e.policy.SessionPasswordCap {
		return e.reject(key, epoch, NewMessage(MsgTooManyAttempts))
	}
	remaining := e.policy.SessionPasswordCap - updated.PasswordAttempts
	return Prompt(NewMessage(MsgInvalidCredential, "remaining", strconv.Itoa(remaining)))
}

// issueAnomalyChallenge generates a one-time code, delivers it out of
// band, and arms the session. Only the code's hash is retained.
func (e *Engine) issueAnomalyChallenge(sctx context.Context, sess Session, epoch uint64) Directive {
	key := sess.Key
	code, hash, err := twofactor.GenerateCode()
	if err != nil {
		e.logger.Error("challenge code generation failed", "identity", key, "error", err)
		return Prompt(NewMessage(MsgServiceUnavailable))
	}
	if err := e.sender.SendCode(sctx, key, code); err != nil {
		// Undeliverable codes must not strand the session in a challenge
		// it can never answer; stay at the password step.
		e.logger.Error("challenge code delivery failed", "identity", key, "error", err)
		return Prompt(NewMessage(MsgServiceUnavailable))
	}
	e.metrics.ChallengeIssued(ChallengeAnomaly.String())
	e.mgr.Update(key, epoch, func(s Session) Session {
		return s.withChallenge(ChallengeAnomaly, hash, e.now())
	})
	return Prompt(NewMessage(MsgCodeSent))
}

// handleSecondFactor verifies a TOTP or out-of-band code submission.
func (e *Engine) handleSecondFactor(ctx context.Context, sess Session, epoch uint64, text string) Directive {
	key := sess.Key
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	rec, err := e.store.FetchIdentity(sctx, key)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return e.reject(key, epoch, NewMessage(MsgProtocolViolation, "reason", "identity_gone"))
		}
		e.logger.Error("credential fetch failed", "identity", key, "error", err)
		e.metrics.StoreError("fetch_identity")
		e.metrics.AuthAttempt(OutcomeUnavailable)
		return Prompt(NewMessage(MsgServiceUnavailable))
	}
	if rec.IsLocked(e.now()) {
		// Locked by failures on another session while this challenge was
		// pending.
		e.metrics.AuthAttempt(OutcomeLocked)
		return e.reject(key, epoch,
			NewMessage(MsgLocked, "retry_in", identity.Remaining(rec.LockedUntil, e.now()).Round(time.Second).String()))
	}

	var ok bool
	switch sess.Challenge {
	case ChallengeTOTP:
		if !rec.HasTOTP() {
			// Factor disabled by an operator mid-challenge; the password
			// already passed.
			return e.finalize(sctx, sess, epoch)
		}
		ok = e.totp.Verify(*rec.TOTPSecret, text)
	case ChallengeAnomaly:
		ok = twofactor.VerifyCode(text, sess.codeHash)
	}

	if ok {
		return e.finalize(sctx, sess, epoch)
	}

	e.metrics.AuthAttempt(OutcomeInvalid)
	attempts, crossed, err := e.store.RecordFailedAttempt(sctx, key, e.policy.Lockout)
	if err != nil {
		e.logger.Error("failed-attempt record lost", "identity", key, "error", err)
		e.metrics.StoreError("record_attempt")
	} else if crossed {
		e.metrics.LockoutTriggered()
		e.cache.Invalidate(key)
		e.logger.Warn("identity locked", "identity", key, "attempts", attempts)
		return e.reject(key, epoch,
			NewMessage(MsgLocked, "retry_in", e.policy.Lockout.Duration.String()))
	}

	updated, applied := e.mgr.Update(key, epoch, func(s Session) Session {
		return s.withFactorFailure(e.now())
	})
	if applied && updated.FactorAttempts >= e.policy.SecondFactorCap {
		return e.reject(key, epoch, NewMessage(MsgTooManyAttempts))
	}
	return Prompt(NewMessage(MsgInvalidCredential, "factor", sess.Challenge.String()))
}

// finalize completes verification: persists the login bookkeeping,
// publishes the cached verdict, and moves the session to authenticated.
func (e *Engine) finalize(sctx context.Context, sess Session, epoch uint64) Directive {
	key := sess.Key
	now := e.now()

	if err := e.store.RecordLogin(sctx, key, now); err != nil {
		e.logger.Error("login bookkeeping failed", "identity", key, "error", err)
		e.metrics.StoreError("record_login")
	}
	if sess.Location != twofactor.Unknown {
		if err := e.store.UpdateLastLocation(sctx, key, sess.Location); err != nil {
			e.logger.Error("location bookkeeping failed", "identity", key, "error", err)
			e.metrics.StoreError("update_location")
		}
	}

	updated, ok := e.mgr.Update(key, epoch, func(s Session) Session {
		return s.withAuthenticated(now)
	})
	if !ok {
		// Session gone mid-verification; nothing to grant.
		return Kick(NewMessage(MsgProtocolViolation, "reason", "no_session"))
	}

	// The cached verdict may only be written after the transition above.
	e.cache.Put(key, true)
	e.cooldown.Clear(key)
	e.limiter.Reset(key)
	e.metrics.AuthAttempt(OutcomeSuccess)
	e.logger.Info("identity authenticated",
		"identity", key, "location", updated.Location, "challenge", sess.Challenge.String())
	return Prompt(NewMessage(MsgWelcome))
}

// reject moves the session to its terminal state and ends it.
func (e *Engine) reject(key string, epoch uint64, msg Message) Directive {
	e.mgr.Update(key, epoch, func(s Session) Session {
		return s.withState(StateRejected, e.now())
	})
	e.mgr.End(key, epoch)
	e.cache.Invalidate(key)
	return Kick(msg)
}

// Disconnect tears down the identity's session and invalidates its
// cached verdict. Safe to call for identities with no live session.
func (e *Engine) Disconnect(_ context.Context, key string) {
	key = identity.CanonicalKey(key)
	if e.mgr.EndAny(key) {
		e.logger.Info("session ended", "identity", key)
	}
	e.cache.Invalidate(key)
	e.cooldown.Clear(key)
	e.limiter.Reset(key)
}

// IsAuthenticated answers permission checks for the protected
// environment. A cache miss re-derives from the live session and never
// consults the store; absence of a session means denied.
func (e *Engine) IsAuthenticated(key string) bool {
	key = identity.CanonicalKey(key)
	if v, ok := e.cache.Get(key); ok {
		e.metrics.CacheLookup(true)
		return v
	}
	e.metrics.CacheLookup(false)

	sess, _, ok := e.mgr.Get(key)
	if !ok || sess.State != StateAuthenticated {
		return false
	}
	e.cache.Put(key, true)
	return true
}
