package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	popchat "github.com/popchat-app/popchat/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage popchat configuration",
	Long:  "View or modify the popchat CLI configuration stored in ~/.popchat/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "No configuration file found. Run 'popchat init <server-url>' to create one.")
				return nil
			}
			return fmt.Errorf("cannot read config file: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: popchat config set auth.session <token>",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := validateKey(cfg, key); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}

// validateKey reports the validation failure of the field key names, if any.
// Other fields may still be unset while the config is being filled in.
func validateKey(cfg *Config, key string) error {
	err := popchat.Validate(cfg)
	var verr *popchat.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	field := key[strings.LastIndex(key, ".")+1:]
	if msg, ok := verr.Fields[field]; ok {
		return errors.New(msg)
	}
	return nil
}
