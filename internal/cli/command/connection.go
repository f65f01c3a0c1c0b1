package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ksefbridge-go/internal/cli/output"
	"github.com/yndnr/ksefbridge-go/internal/core/service"
	"github.com/yndnr/ksefbridge-go/internal/server/httpserver/handler"
)

// ConnectionCommand checks Exchange credentials.
func ConnectionCommand() *cli.Command {
	return &cli.Command{
		Name:    "connection",
		Aliases: []string{"conn"},
		Usage:   "Exchange connectivity",
		Subcommands: []*cli.Command{
			{
				Name:   "test",
				Usage:  "Authenticate against the Exchange with a tenant or inline credential",
				Flags:  credentialFlags(),
				Action: connectionTest,
			},
		},
	}
}

func connectionTest(c *cli.Context) error {
	tenant, cred, err := credentialFrom(c)
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var result service.ConnectionResult
	err = withSpinner(c, "authenticating", func() error {
		return client(c).PostJSON(ctx, "/v1/connection/test", handler.ConnectionTestRequest{
			TenantID:   tenant,
			Credential: cred,
		}, &result)
	})
	if err != nil {
		return err
	}

	if runtimeOf(c).Format != output.FormatTable {
		return render(c, result, nil)
	}
	if result.Success {
		fmt.Fprintln(stdout(c), "✓ authenticated")
		return nil
	}
	return fmt.Errorf("authentication failed: [%s] %s", result.Code, result.Error)
}
