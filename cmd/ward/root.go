// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Ward CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ward",
		Short: "Ward - authentication session engine",
		Long: `Ward guards a shared multiplayer environment: it verifies player
credentials over a line-based protocol, enforces lockout and
second-factor policy, and answers permission checks for the world
behind it.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewAdminCmd())

	return cmd
}
