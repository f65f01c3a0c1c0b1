package config

import (
	"fmt"
	"time"
)

// EnvPrefix is the environment prefix of CLI settings,
// e.g. KSEFBRIDGE_CLI_SERVER or KSEFBRIDGE_CLI_API_KEY.
const EnvPrefix = "KSEFBRIDGE_CLI_"

// CLIConfig is the configuration for ksefbridge-cli.
type CLIConfig struct {
	// Server is the daemon base URL.
	Server string `koanf:"server" yaml:"server"`
	// APIKey is sent as a bearer token. Stored in cleartext; the file is 0600.
	APIKey  string        `koanf:"api_key" yaml:"api_key,omitempty"`
	Output  string        `koanf:"output" yaml:"output"`
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Server:  "http://127.0.0.1:5380",
		Output:  "table",
		Timeout: 2 * time.Minute,
	}
}

// Validate checks the output format and timeout.
func (c *CLIConfig) Validate() error {
	switch c.Output {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("output must be table, json or yaml, got %q", c.Output)
	}
	if c.Server == "" {
		return fmt.Errorf("server is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// defaults flattens Default for the loader.
func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"server":  d.Server,
		"output":  d.Output,
		"timeout": d.Timeout.String(),
	}
}
