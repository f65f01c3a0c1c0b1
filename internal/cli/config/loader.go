package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/ksefbridge-go/internal/infra/confloader"
)

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".ksefbridge", "cli.yaml")
	}
	return filepath.Join(homeDir, ".ksefbridge", "cli.yaml")
}

// Load reads the CLI configuration. A missing file is not an error; an
// empty path means DefaultConfigPath.
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	opts := []confloader.Option{
		confloader.WithEnvPrefix(EnvPrefix),
		confloader.WithDefaults(defaults()),
	}
	if _, err := os.Stat(path); err == nil {
		opts = append(opts, confloader.WithConfigFile(path))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	cfg := Default()
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML with 0600 permissions, creating the directory.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Set updates one key by its file name (server, api_key, output, timeout).
func Set(cfg *CLIConfig, key, value string) error {
	switch key {
	case "server":
		cfg.Server = value
	case "api_key":
		cfg.APIKey = value
	case "output":
		cfg.Output = value
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = d
	default:
		return fmt.Errorf("unknown key %q (server, api_key, output, timeout)", key)
	}
	return cfg.Validate()
}
