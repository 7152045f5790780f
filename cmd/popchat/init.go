package main

import (
	"fmt"

	popchat "github.com/popchat-app/popchat/sdk/golang"
	"github.com/spf13/cobra"
)

var initSession string

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initSession, "session", "", "Session token to store under [auth]")
}

var initCmd = &cobra.Command{
	Use:   "init <server-url>",
	Short: "Store the server URL in ~/.popchat/config.toml",
	Long:  "Initialize the popchat CLI by storing the server URL (and optionally a session token) in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.ServerURL = args[0]
		if initSession != "" {
			cfg.Auth.Session = initSession
		}
		if err := popchat.Validate(cfg); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Fprintf(cmd.OutOrStdout(), "Server URL saved to %s\n", path)
		return nil
	},
}
