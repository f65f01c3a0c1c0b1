package command

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ksefbridge-go/internal/cli/connection"
	"github.com/yndnr/ksefbridge-go/internal/cli/output"
	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/core/service"
	"github.com/yndnr/ksefbridge-go/internal/core/validator"
	"github.com/yndnr/ksefbridge-go/internal/invoicexml"
	"github.com/yndnr/ksefbridge-go/internal/server/httpserver/handler"
)

// ValidateCommand validates document files offline.
func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate document files without contacting the server",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "xml",
				Usage: "Print the generated invoice XML of a valid document",
			},
		},
		Action: validateAction,
	}
}

// violationRow is one table line of validate output.
type violationRow struct {
	File     string `json:"file"`
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

type validateResult struct {
	File string `json:"file"`
	validator.Result
}

func validateAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one FILE is required")
	}

	var (
		results []validateResult
		rows    []violationRow
		invalid int
	)
	for _, file := range c.Args().Slice() {
		f, err := LoadDocumentFile(file)
		if err != nil {
			return err
		}

		r := validator.Validate(f.Document, f.Issuer, f.Counterparty)
		if r.Valid {
			payload, err := invoicexml.Build(f.Document, f.Issuer, f.Counterparty, domain.DefaultFormCode(), time.Now().UTC())
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			pr := validator.ValidatePayload(payload, f.WithAttachments)
			r.Valid = pr.Valid
			r.Errors = append(r.Errors, pr.Errors...)
			if c.Bool("xml") && r.Valid {
				fmt.Fprintln(stdout(c), string(payload))
				continue
			}
		}
		if !r.Valid {
			invalid++
		}

		results = append(results, validateResult{File: file, Result: r})
		for _, v := range r.Errors {
			rows = append(rows, violationRow{File: file, Severity: "error", Code: v.Code, Field: v.Field, Message: v.Message})
		}
		for _, v := range r.Warnings {
			rows = append(rows, violationRow{File: file, Severity: "warning", Code: v.Code, Field: v.Field, Message: v.Message})
		}
	}

	if len(results) > 0 {
		if runtimeOf(c).Format == output.FormatTable && len(rows) == 0 {
			fmt.Fprintf(stdout(c), "✓ %d document(s) valid\n", len(results))
		} else if err := render(c, results, rows); err != nil {
			return err
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d document(s) invalid", invalid, c.NArg())
	}
	return nil
}

// credentialFlags select a registered tenant or an inline credential.
func credentialFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "tenant",
			Aliases: []string{"t"},
			Usage:   "Registered tenant ID",
		},
		&cli.StringFlag{
			Name:  "tax-id",
			Usage: "Issuer tax ID for an inline credential",
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Exchange token for an inline credential",
			EnvVars: []string{"KSEFBRIDGE_TOKEN"},
		},
		&cli.StringFlag{
			Name:  "environment",
			Usage: "Exchange environment of an inline credential (test, demo, prod)",
		},
	}
}

// credentialFrom returns the tenant ID or inline credential.
func credentialFrom(c *cli.Context) (string, *handler.CredentialRequest, error) {
	tenant := c.String("tenant")
	if c.String("token") == "" && c.String("tax-id") == "" {
		if tenant == "" {
			return "", nil, errors.New("--tenant or --tax-id with --token is required")
		}
		return tenant, nil, nil
	}
	if tenant != "" {
		return "", nil, errors.New("use either --tenant or an inline credential")
	}
	if c.String("tax-id") == "" || c.String("token") == "" {
		return "", nil, errors.New("an inline credential needs --tax-id and --token")
	}
	return "", &handler.CredentialRequest{
		IssuerTaxID: c.String("tax-id"),
		Token:       c.String("token"),
		Environment: c.String("environment"),
	}, nil
}

// SubmitCommand submits document files through the server.
func SubmitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit document files to the Exchange",
		ArgsUsage: "FILE...",
		Flags:     credentialFlags(),
		Action:    submitAction,
	}
}

// submitRow is one table line of submit output.
type submitRow struct {
	File      string `json:"file"`
	Outcome   string `json:"outcome"`
	Reference string `json:"reference"`
	Error     string `json:"error"`
}

func submitAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one FILE is required")
	}
	tenant, cred, err := credentialFrom(c)
	if err != nil {
		return err
	}

	files := c.Args().Slice()
	var counter *output.Counter
	if len(files) > 1 && interactive(stderr(c)) {
		counter = output.NewCounter(stderr(c), "submit", len(files))
	}

	cl := client(c)
	rows := make([]submitRow, 0, len(files))
	failed := 0
	for _, file := range files {
		row := submitOne(c, cl, file, tenant, cred)
		if row.Outcome != handler.OutcomeAccepted {
			failed++
		}
		rows = append(rows, row)
		if counter != nil {
			counter.Done(row.Outcome == handler.OutcomeAccepted)
		}
	}
	if counter != nil {
		counter.Finish()
	}

	if err := render(c, rows, nil); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d submission(s) not accepted", failed, len(files))
	}
	return nil
}

func submitOne(c *cli.Context, cl *connection.HTTPClient, file, tenant string, cred *handler.CredentialRequest) submitRow {
	row := submitRow{File: file}
	f, err := LoadDocumentFile(file)
	if err != nil {
		row.Outcome = handler.OutcomeInvalid
		row.Error = err.Error()
		return row
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var result service.SubmitResult
	err = withSpinner(c, "submitting "+path.Base(file), func() error {
		return cl.PostJSON(ctx, "/v1/documents/submit", handler.DocumentRequest{
			TenantID:        tenant,
			Credential:      cred,
			Document:        f.Document,
			Issuer:          f.Issuer,
			Counterparty:    f.Counterparty,
			WithAttachments: f.WithAttachments,
		}, &result)
	})
	if err == nil {
		row.Outcome = handler.OutcomeAccepted
		row.Reference = result.ReferenceNumber
		return row
	}

	row.Error = err.Error()
	row.Outcome = handler.OutcomeFailed
	var apiErr *connection.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == domain.ErrDuplicateSubmission.Code:
			row.Outcome = handler.OutcomeDuplicate
			var dup handler.DuplicateDetails
			if apiErr.DecodeDetails(&dup) {
				row.Reference = dup.ExistingReference
			}
		case apiErr.Status == 400 || apiErr.Status == 413:
			row.Outcome = handler.OutcomeInvalid
		}
		var partial service.SubmitResult
		if apiErr.DecodeDetails(&partial) && len(partial.Errors) > 0 {
			codes := make([]string, 0, len(partial.Errors))
			for _, v := range partial.Errors {
				codes = append(codes, v.Code)
			}
			row.Error += ": " + strings.Join(codes, ", ")
		}
	}
	return row
}

// SubmissionCommand inspects the submission ledger.
func SubmissionCommand() *cli.Command {
	return &cli.Command{
		Name:  "submission",
		Usage: "Inspect submitted documents",
		Subcommands: []*cli.Command{
			{
				Name:  "check",
				Usage: "Check whether a document was already submitted",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tax-id", Usage: "Issuer tax ID", Required: true},
					&cli.StringFlag{Name: "kind", Usage: "Document kind (VAT, KOR, ZAL, ROZ, UPR, KOR_ZAL)", Value: string(domain.KindVAT)},
					&cli.StringFlag{Name: "number", Usage: "Document number", Required: true},
				},
				Action: submissionCheck,
			},
		},
	}
}

// submissionPath escapes each segment of the document number, which may
// contain slashes.
func submissionPath(taxID, kind, number string) string {
	segments := strings.Split(number, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/v1/submissions/" + url.PathEscape(taxID) + "/" + url.PathEscape(kind) + "/" + strings.Join(segments, "/")
}

func submissionCheck(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var check service.DuplicateCheck
	p := submissionPath(c.String("tax-id"), c.String("kind"), c.String("number"))
	if err := client(c).GetJSON(ctx, p, &check); err != nil {
		return err
	}

	if runtimeOf(c).Format != output.FormatTable {
		return render(c, check, nil)
	}
	w := stdout(c)
	switch {
	case check.IsDuplicate:
		fmt.Fprintf(w, "submitted (reference %s, at %s)\n", check.ExistingReference, check.SubmittedAt.UTC().Format(output.TimeLayout))
	case check.Pending:
		fmt.Fprintln(w, "pending: a submission is in progress")
	default:
		fmt.Fprintln(w, "not submitted")
	}
	return nil
}

// readSecret returns flag value, or reads the first line of stdin for "-".
func readSecret(value string) (string, error) {
	if value != "-" {
		return value, nil
	}
	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", fmt.Errorf("read secret from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}
