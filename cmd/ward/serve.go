// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardmud/ward/internal/authcache"
	"github.com/wardmud/ward/internal/config"
	"github.com/wardmud/ward/internal/identity"
	"github.com/wardmud/ward/internal/logging"
	"github.com/wardmud/ward/internal/notify"
	"github.com/wardmud/ward/internal/observability"
	"github.com/wardmud/ward/internal/session"
	"github.com/wardmud/ward/internal/store"
	"github.com/wardmud/ward/internal/telnet"
	"github.com/wardmud/ward/internal/twofactor"
	"github.com/wardmud/ward/internal/xdg"
	"github.com/wardmud/ward/pkg/errutil"
)

// ServeDeps holds injectable dependencies for the serve command.
// Nil fields use the default implementations.
type ServeDeps struct {
	StoreFactory  func(ctx context.Context, cfg store.Config) (store.Store, error)
	SenderFactory func(logger *slog.Logger, cfg config.NotifyConfig) (notify.CodeSender, func(), error)
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication service",
		Long: `Start the authentication service: runs pending schema migrations,
listens for line-based connections, and serves metrics and health
probes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	// Flag names mirror config file keys; set flags win over the file.
	cmd.Flags().String("listen.addr", "", "line-based intake listen address")
	cmd.Flags().String("store.backend", "", "credential store backend (postgres or sqlite)")
	cmd.Flags().String("store.dsn", "", "credential store DSN or file path")
	cmd.Flags().String("observability.addr", "", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log.format", "", "log format (json or text)")
	cmd.Flags().String("log.level", "", "log level (debug, info, warn, error)")

	return cmd
}

// runServeWithDeps starts the service with injectable dependencies.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.StoreFactory == nil {
		deps.StoreFactory = store.Open
	}
	if deps.SenderFactory == nil {
		deps.SenderFactory = defaultSenderFactory
	}

	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("ward", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
	logger := slog.Default()
	timer := newStartupTimer(logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Store.Backend == store.BackendSQLite && cfg.Store.DSN != ":memory:" {
		if err := xdg.EnsureDir(filepath.Dir(cfg.Store.DSN)); err != nil {
			return err
		}
	}

	st, err := deps.StoreFactory(ctx, store.Config{
		Backend:    cfg.Store.Backend,
		DSN:        cfg.Store.DSN,
		MaxRetries: cfg.Store.MaxRetries,
	})
	if err != nil {
		errutil.LogError(logger, "store connection failed", err)
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Warn("error closing store", "error", closeErr)
		}
	}()
	timer.stage("store_connect")

	if err := st.Migrate(ctx); err != nil {
		errutil.LogError(logger, "migrations failed", err)
		return err
	}
	timer.stage("migrations")

	sender, senderClose, err := deps.SenderFactory(logger, cfg.Notify)
	if err != nil {
		errutil.LogError(logger, "code sender setup failed", err)
		return err
	}
	if senderClose != nil {
		defer senderClose()
	}

	// The live-session gauge is registered before the engine exists, so
	// it reads the manager through an atomic slot filled in below.
	var mgrSlot atomic.Pointer[session.Manager]
	sessionCount := func() int {
		if m := mgrSlot.Load(); m != nil {
			return m.Len()
		}
		return 0
	}
	readiness := func() bool {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer pingCancel()
		return st.Ping(pingCtx) == nil
	}

	var obs *observability.Server
	var metrics session.MetricsRecorder
	if cfg.Observability.Addr != "" {
		obs = observability.NewServer(cfg.Observability.Addr, readiness, sessionCount)
		metrics = obs.Metrics()
	}

	registry := telnet.NewRegistry()
	engine := session.NewEngine(session.Deps{
		Store:     st,
		Cache:     authcache.New(cfg.Cache.Capacity, cfg.Cache.TTL),
		Hasher:    identity.NewArgon2Hasher(),
		TOTP:      twofactor.NewTOTPVerifier(cfg.TOTP.Issuer, twofactor.WithSkew(cfg.TOTP.Skew)),
		Resolver:  twofactor.NetworkResolver{},
		Sender:    sender,
		Messenger: registry,
		Metrics:   metrics,
		Logger:    logger,
	}, policyFromConfig(cfg.Auth))
	mgrSlot.Store(engine.Manager())
	defer engine.Close()
	timer.stage("engine")

	go session.NewSweeper(engine, cfg.Auth.SweepInterval).Run(ctx)

	if obs != nil {
		obsErrCh, err := obs.Start()
		if err != nil {
			errutil.LogError(logger, "observability server failed to start", err)
			return err
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if stopErr := obs.Stop(stopCtx); stopErr != nil {
				logger.Warn("error stopping observability server", "error", stopErr)
			}
		}()
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	intake := telnet.NewServer(cfg.Listen.Addr, engine, registry)
	intakeErrCh := make(chan error, 1)
	go func() {
		intakeErrCh <- intake.Run(ctx)
	}()
	timer.stage("listeners")
	timer.finish()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Ward started")

	intakeDone := false
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-intakeErrCh:
		intakeDone = true
		if err != nil {
			errutil.LogError(logger, "intake server error", err)
			return err
		}
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	cancel()
	if !intakeDone {
		<-intakeErrCh
	}

	logger.Info("shutdown complete")
	return nil
}

// policyFromConfig maps the auth configuration onto engine thresholds.
func policyFromConfig(cfg config.AuthConfig) session.Policy {
	p := session.DefaultPolicy()
	p.Lockout = identity.LockoutPolicy{
		Threshold: cfg.LockoutThreshold,
		Duration:  cfg.LockoutDuration,
	}
	if cfg.SessionPasswordCap > 0 {
		p.SessionPasswordCap = cfg.SessionPasswordCap
	}
	if cfg.SecondFactorCap > 0 {
		p.SecondFactorCap = cfg.SecondFactorCap
	}
	if cfg.MinPasswordLength > 0 {
		p.MinPasswordLength = cfg.MinPasswordLength
	}
	if cfg.IdleTimeout > 0 {
		p.IdleTimeout = cfg.IdleTimeout
	}
	p.SubmitCooldown = cfg.SubmitCooldown
	p.RateLimitMax = cfg.RateLimitMax
	if cfg.RateLimitWindow > 0 {
		p.RateLimitWindow = cfg.RateLimitWindow
	}
	if cfg.StoreTimeout > 0 {
		p.StoreTimeout = cfg.StoreTimeout
	}
	return p
}

// defaultSenderFactory builds the out-of-band code sender: AMQP when a
// broker URL is configured, otherwise the log sender.
func defaultSenderFactory(logger *slog.Logger, cfg config.NotifyConfig) (notify.CodeSender, func(), error) {
	if cfg.AMQPURL == "" {
		return notify.NewLogSender(logger), nil, nil
	}
	sender, err := notify.NewAMQPSender(cfg.AMQPURL)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if closeErr := sender.Close(); closeErr != nil {
			logger.Warn("error closing AMQP sender", "error", closeErr)
		}
	}
	return sender, cleanup, nil
}

// monitorServerErrors monitors a server's error channel and cancels the
// context on error, so server failures trigger graceful shutdown.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
