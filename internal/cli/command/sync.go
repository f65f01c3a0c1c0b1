package command

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ksefbridge-go/internal/cli/connection"
	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/server/httpserver/handler"
)

// SyncCommand runs and lists mirror syncs.
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Mirror sync",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run a sync now and wait for it",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "tenant",
						Aliases: []string{"t"},
						Usage:   "Sync one tenant; all active tenants when empty",
					},
				},
				Action: syncRun,
			},
			{
				Name:  "runs",
				Usage: "List recent sync runs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "tenant",
						Aliases: []string{"t"},
						Usage:   "Filter by tenant",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of runs",
						Value:   20,
					},
				},
				Action: syncRuns,
			},
		},
	}
}

// runRow is one table line of a sync run.
type runRow struct {
	RunID    string                     `json:"run_id"`
	TenantID string                     `json:"tenant_id"`
	Counts   map[domain.SubjectType]int `json:"documents"`
	Duration string                     `json:"duration"`
	Errors   int                        `json:"errors"`
	FirstErr string                     `json:"first_error" table:"wide"`
}

func runRows(runs []*domain.SyncRunResult) []runRow {
	rows := make([]runRow, 0, len(runs))
	for _, r := range runs {
		row := runRow{
			RunID:    r.RunID,
			TenantID: r.TenantID,
			Counts:   r.PerSubjectCounts,
			Errors:   len(r.Errors),
		}
		if !r.FinishedAt.IsZero() {
			row.Duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		if len(r.Errors) > 0 {
			row.FirstErr = r.Errors[0].Message
		}
		rows = append(rows, row)
	}
	return rows
}

func syncRun(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var resp handler.SyncRunResponse
	err := withSpinner(c, "syncing", func() error {
		return client(c).PostJSON(ctx, "/v1/sync/run", handler.SyncRunRequest{TenantID: c.String("tenant")}, &resp)
	})
	var apiErr *connection.APIError
	if errors.As(err, &apiErr) && apiErr.DecodeDetails(&resp) {
		// Partial run: show what finished before reporting the error.
		if rerr := render(c, resp.Runs, runRows(resp.Runs)); rerr != nil {
			return rerr
		}
		return err
	}
	if err != nil {
		return err
	}

	if len(resp.Runs) == 0 {
		fmt.Fprintln(stdout(c), "no active tenants")
		return nil
	}
	return render(c, resp.Runs, runRows(resp.Runs))
}

func syncRuns(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	q := url.Values{}
	if t := c.String("tenant"); t != "" {
		q.Set("tenant_id", t)
	}
	q.Set("limit", strconv.Itoa(c.Int("limit")))

	var resp handler.SyncRunResponse
	if err := client(c).GetJSON(ctx, "/v1/sync/runs?"+q.Encode(), &resp); err != nil {
		return err
	}
	return render(c, resp.Runs, runRows(resp.Runs))
}
