package main

import (
	"errors"
	"fmt"

	"github.com/foxseedlab/teleconsult/internal/credentials"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

var (
	credentialsAccessToken  string
	credentialsRefreshToken string
)

func newCredentialsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the stored portal session",
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Store portal access and refresh tokens in the system keyring",
		RunE:  runCredentialsSet,
	}
	set.Flags().StringVar(&credentialsAccessToken, "access-token", "", "portal access token (required)")
	set.Flags().StringVar(&credentialsRefreshToken, "refresh-token", "", "portal refresh token (required)")
	_ = set.MarkFlagRequired("access-token")
	_ = set.MarkFlagRequired("refresh-token")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored portal session",
		RunE:  runCredentialsClear,
	}

	cmd.AddCommand(set, clearCmd)
	return cmd
}

func credentialStore() (credentials.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return do.Invoke[credentials.Store](setupDI(cfg))
}

func runCredentialsSet(cmd *cobra.Command, _ []string) error {
	store, err := credentialStore()
	if err != nil {
		return err
	}
	if err := store.Save(cmd.Context(), credentials.Tokens{
		AccessToken:  credentialsAccessToken,
		RefreshToken: credentialsRefreshToken,
	}); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "portal credentials stored")
	return nil
}

func runCredentialsClear(cmd *cobra.Command, _ []string) error {
	store, err := credentialStore()
	if err != nil {
		return err
	}
	if err := store.Clear(cmd.Context()); err != nil && !errors.Is(err, credentials.ErrNotFound) {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "portal credentials cleared")
	return nil
}
