package command

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/server/httpserver/handler"
)

// TenantCommand manages tenants on the server.
func TenantCommand() *cli.Command {
	idArg := "TENANT_ID"
	return &cli.Command{
		Name:    "tenant",
		Aliases: []string{"tn"},
		Usage:   "Manage tenants",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Register a tenant",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Display name", Required: true},
					&cli.StringFlag{Name: "tax-id", Usage: "Issuer tax ID", Required: true},
					&cli.StringFlag{Name: "environment", Usage: "Exchange environment (test, demo, prod); server default when empty"},
					&cli.StringFlag{
						Name:     "token",
						Usage:    "Exchange token, or - to read it from stdin",
						EnvVars:  []string{"KSEFBRIDGE_TOKEN"},
						Required: true,
					},
				},
				Action: tenantAdd,
			},
			{
				Name:  "list",
				Usage: "List tenants",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "active", Usage: "Only active tenants"},
				},
				Action: tenantList,
			},
			{
				Name:      "show",
				Usage:     "Show a tenant and its sync cursors",
				ArgsUsage: idArg,
				Action:    tenantShow,
			},
			{
				Name:      "enable",
				Usage:     "Activate a tenant",
				ArgsUsage: idArg,
				Action:    func(c *cli.Context) error { return tenantSetActive(c, true) },
			},
			{
				Name:      "disable",
				Usage:     "Deactivate a tenant; scheduled syncs skip it",
				ArgsUsage: idArg,
				Action:    func(c *cli.Context) error { return tenantSetActive(c, false) },
			},
			{
				Name:      "rotate-token",
				Usage:     "Replace the Exchange token of a tenant",
				ArgsUsage: idArg,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "token",
						Usage:    "New Exchange token, or - to read it from stdin",
						EnvVars:  []string{"KSEFBRIDGE_TOKEN"},
						Required: true,
					},
				},
				Action: tenantRotateToken,
			},
			{
				Name:      "reset-cursor",
				Usage:     "Rewind the sync cursor of a subject",
				ArgsUsage: idArg,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "subject",
						Usage:    "Subject type (Subject1, Subject2, Subject3, SubjectAuthorized)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "to",
						Usage: "New high-water mark (YYYY-MM-DD or RFC 3339); initial lookback when empty",
					},
				},
				Action: tenantResetCursor,
			},
		},
	}
}

func tenantID(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.New("exactly one TENANT_ID is required")
	}
	return url.PathEscape(c.Args().First()), nil
}

// cursorRow is one table line of a tenant cursor.
type cursorRow struct {
	Subject       domain.SubjectType `json:"subject_type"`
	HighWaterMark time.Time          `json:"high_water_mark"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func cursorRows(cursors []*domain.SyncCursor) []cursorRow {
	rows := make([]cursorRow, 0, len(cursors))
	for _, cur := range cursors {
		rows = append(rows, cursorRow{Subject: cur.SubjectType, HighWaterMark: cur.HighWaterMark, UpdatedAt: cur.UpdatedAt})
	}
	return rows
}

func tenantAdd(c *cli.Context) error {
	token, err := readSecret(c.String("token"))
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var t handler.TenantResponse
	err = client(c).PostJSON(ctx, "/admin/v1/tenants", handler.RegisterTenantRequest{
		Name:        c.String("name"),
		IssuerTaxID: c.String("tax-id"),
		Environment: c.String("environment"),
		Token:       token,
	}, &t)
	if err != nil {
		return err
	}
	return render(c, t, nil)
}

func tenantList(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	p := "/admin/v1/tenants"
	if c.Bool("active") {
		p += "?active=true"
	}
	var resp handler.ListTenantsResponse
	if err := client(c).GetJSON(ctx, p, &resp); err != nil {
		return err
	}
	return render(c, resp, resp.Tenants)
}

func tenantShow(c *cli.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var t handler.TenantResponse
	if err := client(c).GetJSON(ctx, "/admin/v1/tenants/"+id, &t); err != nil {
		return err
	}
	if err := render(c, t, nil); err != nil {
		return err
	}
	if len(t.Cursors) > 0 && runtimeOf(c).Format == "table" {
		fmt.Fprintln(stdout(c))
		return render(c, nil, cursorRows(t.Cursors))
	}
	return nil
}

func tenantSetActive(c *cli.Context, active bool) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var t handler.TenantResponse
	if err := client(c).PostJSON(ctx, "/admin/v1/tenants/"+id+"/status", handler.TenantStatusRequest{Active: active}, &t); err != nil {
		return err
	}
	return render(c, t, nil)
}

func tenantRotateToken(c *cli.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	token, err := readSecret(c.String("token"))
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var t handler.TenantResponse
	if err := client(c).PostJSON(ctx, "/admin/v1/tenants/"+id+"/token", handler.RotateTokenRequest{Token: token}, &t); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "token rotated for %s\n", t.ID)
	return nil
}

func tenantResetCursor(c *cli.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	req := handler.ResetCursorRequest{SubjectType: c.String("subject")}
	if s := c.String("to"); s != "" {
		to, err := parseDay(s)
		if err != nil {
			return err
		}
		req.To = &to
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var resp struct {
		Cursors []*domain.SyncCursor `json:"cursors"`
	}
	if err := client(c).PostJSON(ctx, "/admin/v1/tenants/"+id+"/cursors/reset", req, &resp); err != nil {
		return err
	}
	return render(c, resp, cursorRows(resp.Cursors))
}
