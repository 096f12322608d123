// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/wardmud/ward/internal/identity"
)

// NewAdminCmd creates the admin subcommand group. These operate on the
// credential store directly; a running service picks the changes up on
// the identity's next verification attempt.
func NewAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator commands against the credential store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "unlock <name>",
		Short: "Clear an identity's failure counter and lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdminUnlock,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset-password <name> <new-password>",
		Short: "Replace an identity's password",
		Args:  cobra.ExactArgs(2),
		RunE:  runAdminResetPassword,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "totp-disable <name>",
		Short: "Remove an identity's authenticator enrollment",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdminTOTPDisable,
	})

	return cmd
}

func runAdminUnlock(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	key := args[0]

	st, err := openConfigured(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // command exits immediately after

	if err := st.ResetFailedAttempts(ctx, key); err != nil {
		return oops.Code("ADMIN_UNLOCK_FAILED").With("identity", key).Wrap(err)
	}
	cmd.Printf("Unlocked %s\n", key)
	return nil
}

func runAdminResetPassword(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	key, password := args[0], args[1]

	hash, err := identity.NewArgon2Hasher().Hash(password)
	if err != nil {
		return oops.Code("ADMIN_RESET_FAILED").With("identity", key).Wrap(err)
	}

	st, err := openConfigured(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // command exits immediately after

	if err := st.UpdateCredential(ctx, key, hash); err != nil {
		return oops.Code("ADMIN_RESET_FAILED").With("identity", key).Wrap(err)
	}
	// A fresh credential also clears any standing lock.
	if err := st.ResetFailedAttempts(ctx, key); err != nil {
		return oops.Code("ADMIN_RESET_FAILED").With("identity", key).Wrap(err)
	}
	cmd.Printf("Password reset for %s\n", key)
	return nil
}

func runAdminTOTPDisable(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	key := args[0]

	st, err := openConfigured(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // command exits immediately after

	if err := st.SetTOTPSecret(ctx, key, nil); err != nil {
		return oops.Code("ADMIN_TOTP_DISABLE_FAILED").With("identity", key).Wrap(err)
	}
	cmd.Printf("Authenticator enrollment removed for %s\n", key)
	return nil
}
