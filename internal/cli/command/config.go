package command

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ksefbridge-go/internal/cli/config"
)

// ConfigCommand reads and edits the CLI config file.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the CLI config file",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show the effective configuration",
				Action: func(c *cli.Context) error {
					cfg := *runtimeOf(c).Config
					cfg.APIKey = maskSecret(cfg.APIKey)
					return render(c, cfg, configRows(&cfg))
				},
			},
			{
				Name:  "path",
				Usage: "Print the config file path",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(stdout(c), c.String("config"))
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "Set a key (server, api_key, output, timeout)",
				ArgsUsage: "KEY VALUE",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return errors.New("usage: config set KEY VALUE")
					}
					path := c.String("config")
					cfg, err := config.Load(path)
					if err != nil {
						return err
					}
					if err := config.Set(cfg, c.Args().Get(0), c.Args().Get(1)); err != nil {
						return err
					}
					if err := config.Save(cfg, path); err != nil {
						return err
					}
					fmt.Fprintf(stdout(c), "%s updated in %s\n", c.Args().Get(0), path)
					return nil
				},
			},
		},
	}
}

type configRow struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func configRows(cfg *config.CLIConfig) []configRow {
	return []configRow{
		{"server", cfg.Server},
		{"api_key", cfg.APIKey},
		{"output", cfg.Output},
		{"timeout", cfg.Timeout.String()},
	}
}

// maskSecret keeps the first four characters.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return s[:4] + "****"
	}
}
