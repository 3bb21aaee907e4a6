package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkgmirror/pkg/auth"
	"pkgmirror/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage registry access tokens",
	Long: `Manage registry access tokens stored securely.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variable PKGMIRROR_REGISTRY_TOKEN (read only)

The public npm registry needs no token.`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [registry-url]",
	Short: "Store a registry token securely",
	Long: `Store an access token for a registry. Without an argument the configured
registry URL is used. The token is read without echo when stdin is a
terminal, and from the first line of stdin otherwise.`,
	Example: `  # Interactive login for the configured registry
  pkgmirror auth login

  # Login to a private registry
  pkgmirror auth login https://npm.example.com

  # Non-interactive
  echo "$TOKEN" | pkgmirror auth login`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [registry-url]",
	Short: "Remove a stored registry token",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored registry tokens",
	Long:  `List all registries with a stored token. Tokens are masked.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
}

// registryArg returns the registry named on the command line, or the
// configured one
func registryArg(args []string) (string, error) {
	if len(args) > 0 {
		return auth.NormalizeRegistry(args[0])
	}
	env, err := loadEnvironment(globalFlags())
	if err != nil {
		return "", err
	}
	return auth.NormalizeRegistry(env.cfg.Registry.RegistryURL)
}

func runLogin(cmd *cobra.Command, args []string) error {
	target, err := registryArg(args)
	if err != nil {
		return err
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	auth.ShowTokenGuide(ui.Output(), target)

	token, err := auth.ReadToken(os.Stdin, ui.Output(), "Access token: ")
	if err != nil {
		return err
	}

	if err := manager.Store(&auth.Credential{Registry: target, Token: token}); err != nil {
		return err
	}

	ui.PrintSuccess("Token stored for " + target)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	target, err := registryArg(args)
	if err != nil {
		return err
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	if err := manager.Delete(target); err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			ui.PrintWarning("No token stored for " + target)
			return nil
		}
		return err
	}

	ui.PrintSuccess("Token removed for " + target)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	creds, err := manager.List()
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		ui.PrintInfo("Stored tokens", "none")
		fmt.Fprintln(ui.Output(), "\nTo store a token, run:\n  pkgmirror auth login")
		return nil
	}

	tbl := ui.NewTable("Registry", "Token", "Updated")
	for _, cred := range creds {
		safe := auth.Sanitize(cred)
		updated := "-"
		if !safe.LastModified.IsZero() {
			updated = humanize.Time(safe.LastModified)
		}
		tbl.Row(safe.Registry, safe.Token, updated)
	}
	tbl.Render()
	return nil
}
