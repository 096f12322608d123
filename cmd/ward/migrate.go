// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/wardmud/ward/internal/config"
	"github.com/wardmud/ward/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run or inspect schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending schema migrations",
		RunE:  runMigrateUp,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List pending schema migrations",
		RunE:  runMigrateStatus,
	})

	return cmd
}

// openConfigured connects the store selected by the loaded configuration.
func openConfigured(ctx context.Context) (store.Store, error) {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, store.Config{
		Backend: cfg.Store.Backend,
		DSN:     cfg.Store.DSN,
	})
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("backend", cfg.Store.Backend).
			Wrap(err)
	}
	return st, nil
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cmd.Println("Connecting to store...")
	st, err := openConfigured(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // command exits immediately after

	cmd.Println("Running migrations...")
	if err := st.Migrate(ctx); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}

	cmd.Println("Migrations completed successfully")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	st, err := openConfigured(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // command exits immediately after

	pending, err := st.PendingMigrations(ctx)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "list pending").Wrap(err)
	}
	if len(pending) == 0 {
		cmd.Println("Schema is up to date")
		return nil
	}
	cmd.Printf("Pending migrations: %d\n", len(pending))
	for _, v := range pending {
		cmd.Printf("  %06d\n", v)
	}
	return nil
}
