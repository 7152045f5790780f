package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	popchat "github.com/popchat-app/popchat/sdk/golang"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.popchat/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
}

// ConfigDefault holds general client settings.
type ConfigDefault struct {
	ServerURL string `toml:"server_url" validate:"required,url"`
	CacheFile string `toml:"cache_file"`
}

// ConfigAuth holds the session state.
type ConfigAuth struct {
	Session  string `toml:"session"`
	Username string `toml:"username"`
}

// ============================================================================
// Config helpers
// ============================================================================

// homeOverride replaces ~/.popchat when set. Tests point it at a temp dir.
var homeOverride string

// configDir returns the path to ~/.popchat, creating it if needed.
func configDir() (string, error) {
	dir := homeOverride
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".popchat")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// applyEnv overrides cfg with POPCHAT_* variables, reading .env first when
// one exists in the working directory.
func applyEnv(cfg *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if v, ok := os.LookupEnv("POPCHAT_SERVER_URL"); ok {
		cfg.Default.ServerURL = v
	}
	if v, ok := os.LookupEnv("POPCHAT_SESSION"); ok {
		cfg.Auth.Session = v
	}
	return nil
}

// loadRuntimeConfig loads the config file, applies the environment and
// checks that a server is configured.
func loadRuntimeConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := popchat.Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w (run 'popchat init <server-url>')", err)
	}
	return cfg, nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.server_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.server_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "server_url":
			cfg.Default.ServerURL = value
		case "cache_file":
			cfg.Default.CacheFile = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "session":
			cfg.Auth.Session = value
		case "username":
			cfg.Auth.Username = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "popchat",
	Short: "popchat chat client",
	Long:  "Command-line client for popchat.\nList conversations, follow live events and send messages.",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log sync activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
