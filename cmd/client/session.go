package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func loginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if email == "" {
				email = a.cfg.Auth.Email
			}
			if password == "" {
				password = a.cfg.Auth.Password
			}

			cred, err := a.auth.LogIn(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", cred.Username, cred.AccountID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email (defaults to AUTH_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (defaults to AUTH_PASSWORD)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.auth.LogOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.auth.Restore(cmd.Context()); err != nil {
				return err
			}
			account, err := a.auth.FetchUser(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> (%s)\n", account.Username, account.Email, account.ID)
			return nil
		},
	}
}
