// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardmud/ward/internal/config"
	"github.com/wardmud/ward/internal/store"
)

const statusPingTimeout = 3 * time.Second

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check credential store connectivity and schema state",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), statusPingTimeout)
	defer cancel()

	st, err := store.Open(ctx, store.Config{
		Backend: cfg.Store.Backend,
		DSN:     cfg.Store.DSN,
	})
	if err != nil {
		cmd.Printf("store:  unreachable (%v)\n", err)
		return err
	}
	defer st.Close() //nolint:errcheck // command exits immediately after

	cmd.Printf("backend: %s\n", cfg.Store.Backend)

	if err := st.Ping(ctx); err != nil {
		cmd.Printf("store:  unreachable (%v)\n", err)
		return err
	}
	cmd.Println("store:  ok")

	pending, err := st.PendingMigrations(ctx)
	if err != nil {
		cmd.Printf("schema: unknown (%v)\n", err)
		return err
	}
	if len(pending) == 0 {
		cmd.Println("schema: up to date")
	} else {
		cmd.Printf("schema: %d pending migration(s)\n", len(pending))
	}
	return nil
}
