package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/ksefbridge-go/internal/server/httpserver/handler"
)

// SystemCommand probes server liveness and readiness.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Server status",
		Subcommands: []*cli.Command{
			{
				Name:   "health",
				Usage:  "Check that the server is up",
				Action: func(c *cli.Context) error { return probe(c, "/health") },
			},
			{
				Name:   "ready",
				Usage:  "Check that the server can accept work",
				Action: func(c *cli.Context) error { return probe(c, "/ready") },
			},
		},
	}
}

func probe(c *cli.Context, path string) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var resp handler.HealthResponse
	if err := client(c).GetJSON(ctx, path, &resp); err != nil {
		return err
	}
	return render(c, resp, nil)
}
