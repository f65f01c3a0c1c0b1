package command

import (
	"context"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ksefbridge-go/internal/cli/repl"
)

// ShellCommand starts an interactive session. Each line runs as a CLI
// invocation with the current global settings.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Interactive shell",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "history", Usage: "History file, - to disable"},
		},
		Action: func(c *cli.Context) error {
			app := c.App
			rt := runtimeOf(c)
			global := []string{
				app.Name,
				"--config", c.String("config"),
				"--server", rt.Config.Server,
				"--output", string(rt.Format),
				"--timeout", rt.Config.Timeout.String(),
			}
			if rt.Config.APIKey != "" {
				global = append(global, "--api-key", rt.Config.APIKey)
			}
			if rt.Wide {
				global = append(global, "--wide")
			}

			exec := func(ctx context.Context, args []string) error {
				if len(args) > 0 && args[0] == "shell" {
					return nil
				}
				argv := make([]string, 0, len(global)+len(args))
				argv = append(argv, global...)
				argv = append(argv, args...)
				return app.RunContext(ctx, argv)
			}

			r := repl.New(exec, commandPaths(app.Commands, ""),
				repl.WithIO(c.App.Reader, stdout(c)),
				repl.WithHistory(repl.NewHistory(c.String("history"))),
			)
			return r.Run(c.Context)
		},
	}
}

// commandPaths flattens the command tree into "parent child" paths.
func commandPaths(cmds []*cli.Command, parent string) []string {
	var out []string
	for _, cmd := range cmds {
		if cmd.Hidden || cmd.Name == "shell" || cmd.Name == "help" {
			continue
		}
		path := strings.TrimSpace(parent + " " + cmd.Name)
		out = append(out, path)
		out = append(out, commandPaths(cmd.Subcommands, path)...)
	}
	return out
}
