package main

import (
	"context"
	"fmt"
	"time"

	popchat "github.com/popchat-app/popchat/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and session status",
	Long:  "Display the current configuration and check whether the stored session is still signed in.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := applyEnv(cfg); err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Server URL: %s\n", valueOrDefault(cfg.Default.ServerURL, "(not set)"))
		fmt.Fprintf(out, "  Cache file: %s\n", valueOrDefault(cfg.Default.CacheFile, "(default)"))
		if cfg.Auth.Session != "" {
			fmt.Fprintf(out, "  Session:    %s\n", maskKey(cfg.Auth.Session))
		} else {
			fmt.Fprintln(out, "  Session:    (not set)")
		}

		if cfg.Default.ServerURL == "" || cfg.Auth.Session == "" {
			return nil
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Live status:")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		session := popchat.NewSessionClient(
			popchat.WithBaseURL(cfg.Default.ServerURL),
			popchat.WithSessionCookie(cfg.Auth.Session),
		)
		user, err := session.CurrentUser(ctx)
		if err != nil {
			fmt.Fprintf(out, "  Error checking session: %v\n", err)
			return nil
		}
		if user == nil {
			fmt.Fprintln(out, "  Signed in:  no (session expired or invalid)")
			return nil
		}
		fmt.Fprintln(out, "  Signed in:  yes")
		fmt.Fprintf(out, "  Username:   %s\n", user.Username)
		fmt.Fprintf(out, "  User ID:    %s\n", user.ID)

		// Remember the username without persisting environment overrides.
		stored, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if stored.Auth.Username != user.Username {
			stored.Auth.Username = user.Username
			if err := saveConfig(stored); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
		}
		return nil
	},
}
