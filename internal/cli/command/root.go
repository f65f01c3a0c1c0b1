package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ksefbridge-go/internal/cli/config"
	"github.com/yndnr/ksefbridge-go/internal/cli/connection"
	"github.com/yndnr/ksefbridge-go/internal/cli/output"
	"github.com/yndnr/ksefbridge-go/internal/infra/buildinfo"
)

const runtimeKey = "runtime"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "ksefbridge-cli",
		Usage:   "Operate a ksefbridge server and validate invoices offline",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			ValidateCommand(),
			SubmitCommand(),
			SubmissionCommand(),
			ConnectionCommand(),
			SyncCommand(),
			TenantCommand(),
			SystemCommand(),
			HashKeyCommand(),
			ConfigCommand(),
			ShellCommand(),
		},
		Before:               before,
		EnableBashCompletion: true,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "CLI config file",
			Value:   config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "ksefbridge-server URL (e.g. http://127.0.0.1:5380)",
		},
		&cli.StringFlag{
			Name:    "api-key",
			Aliases: []string{"K"},
			Usage:   "API key sent as bearer token",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Request timeout",
		},
	}
}

// Runtime is the resolved configuration shared by commands.
type Runtime struct {
	Config *config.CLIConfig
	Format output.Format
	Wide   bool
}

// before resolves config file, environment and flags, in that order.
func before(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load cli config: %w", err)
	}
	if c.IsSet("server") {
		cfg.Server = c.String("server")
	}
	if c.IsSet("api-key") {
		cfg.APIKey = c.String("api-key")
	}
	if c.IsSet("output") {
		cfg.Output = c.String("output")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Duration("timeout")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	format, err := output.ParseFormat(cfg.Output)
	if err != nil {
		return err
	}

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[runtimeKey] = &Runtime{Config: cfg, Format: format, Wide: c.Bool("wide")}
	return nil
}

// runtimeOf returns the resolved runtime, falling back to defaults when
// Before did not run.
func runtimeOf(c *cli.Context) *Runtime {
	if rt, ok := c.App.Metadata[runtimeKey].(*Runtime); ok {
		return rt
	}
	return &Runtime{Config: config.Default(), Format: output.FormatTable}
}

// client builds the daemon client.
func client(c *cli.Context) *connection.HTTPClient {
	cfg := runtimeOf(c).Config
	return connection.NewHTTPClient(cfg.Server, cfg.APIKey, cfg.Timeout)
}

// requestContext bounds one command by the configured timeout.
func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, runtimeOf(c).Config.Timeout)
}

// render writes data with the selected formatter. Table output uses
// tableData when it is not nil.
func render(c *cli.Context, data, tableData any) error {
	rt := runtimeOf(c)
	if rt.Format == output.FormatTable && tableData != nil {
		data = tableData
	}
	return output.NewFormatter(rt.Format, rt.Wide).Format(stdout(c), data)
}

func stdout(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func stderr(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

// interactive reports whether w is a terminal, to decide on spinners.
func interactive(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// withSpinner runs fn behind a spinner on terminals.
func withSpinner(c *cli.Context, message string, fn func() error) error {
	w := stderr(c)
	if !interactive(w) || runtimeOf(c).Format != output.FormatTable {
		return fn()
	}
	s := output.NewSpinner(w, message)
	s.Start()
	err := fn()
	s.Stop()
	return err
}

// parseDay accepts YYYY-MM-DD or RFC 3339.
func parseDay(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC 3339)", s)
	}
	return t, nil
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
