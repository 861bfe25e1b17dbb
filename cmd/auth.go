package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/marcus/offsync/internal/config"
	"github.com/marcus/offsync/internal/output"
	"github.com/marcus/offsync/internal/remote"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the server with an API key",
	Long: `Checks the API key against the server, then stores it with the user's
identity in auth.json. Without --api-key the key is read from a prompt.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("url")
		if serverURL == "" {
			serverURL = config.ServerURL()
		}
		apiKey, _ := cmd.Flags().GetString("api-key")
		if apiKey == "" {
			key, err := promptAPIKey()
			if err != nil {
				output.Error("%v", err)
				return err
			}
			apiKey = key
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		me, err := remote.New(serverURL, apiKey).Me(ctx)
		if err != nil {
			output.KindError(err)
			return err
		}

		creds := &config.AuthCredentials{
			APIKey:     apiKey,
			ServerURL:  serverURL,
			UserID:     me.UserID,
			CompanyID:  me.CompanyID,
			GroupID:    me.GroupID,
			Email:      me.EmailAddress,
			ScreenName: me.ScreenName,
		}
		if err := config.SaveAuth(creds); err != nil {
			output.Error("save credentials: %v", err)
			return err
		}
		output.Success("Logged in as %s (user %d)", me.EmailAddress, me.UserID)
		return nil
	},
}

// promptAPIKey reads a key without echo. It fails when stdin is not a
// terminal.
func promptAPIKey() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("--api-key required when stdin is not a terminal")
	}
	var key string
	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("API key").
			EchoMode(huh.EchoModePassword).
			Value(&key).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("api key required")
				}
				return nil
			}),
	)).Run()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(key), nil
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	Short:   "Forget the stored credentials",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ClearAuth(); err != nil {
			output.Error("logout: %v", err)
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("url", "", "Server URL (default from OFFSYNC_URL or config)")
	loginCmd.Flags().String("api-key", "", "API key")
	rootCmd.AddCommand(loginCmd, logoutCmd)
}
