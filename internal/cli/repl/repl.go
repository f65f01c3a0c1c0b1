package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Executor runs one parsed command line.
type Executor func(ctx context.Context, args []string) error

// REPL is the read-eval-print loop.
type REPL struct {
	input     io.Reader
	output    io.Writer
	prompt    string
	exec      Executor
	completer *Completer
	history   *History
}

// Option configures a REPL.
type Option func(*REPL)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(r *REPL) {
		r.input = in
		r.output = out
	}
}

// WithHistory sets the history store.
func WithHistory(h *History) Option {
	return func(r *REPL) { r.history = h }
}

// WithPrompt sets the prompt string.
func WithPrompt(p string) Option {
	return func(r *REPL) { r.prompt = p }
}

// New creates a REPL that runs lines through exec and completes against
// commands.
func New(exec Executor, commands []string, opts ...Option) *REPL {
	r := &REPL{
		input:     os.Stdin,
		output:    os.Stdout,
		prompt:    "ksefbridge> ",
		exec:      exec,
		completer: NewCompleter(commands),
		history:   NewHistory(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reads lines until exit, EOF or ctx is done. Command errors are
// printed and do not stop the loop.
func (r *REPL) Run(ctx context.Context) error {
	if err := r.history.Load(); err != nil {
		fmt.Fprintf(r.output, "warning: history not loaded: %v\n", err)
	}
	defer func() {
		if err := r.history.Save(); err != nil {
			fmt.Fprintf(r.output, "warning: history not saved: %v\n", err)
		}
	}()

	reader := bufio.NewReader(r.input)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.output, r.prompt)

		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := errors.Is(err, io.EOF)

		line = strings.TrimSpace(line)
		if line != "" {
			if stop := r.handle(ctx, line); stop {
				return nil
			}
		}
		if eof {
			fmt.Fprintln(r.output)
			return nil
		}
	}
}

// handle runs one line and reports whether the loop should stop.
func (r *REPL) handle(ctx context.Context, line string) bool {
	switch line {
	case "exit", "quit":
		return true
	case "history":
		for i, entry := range r.history.Entries() {
			fmt.Fprintf(r.output, "%4d  %s\n", i+1, entry)
		}
		return false
	}
	r.history.Add(line)

	if prefix, ok := strings.CutSuffix(line, "?"); ok {
		for _, s := range r.completer.Complete(strings.TrimSpace(prefix)) {
			fmt.Fprintln(r.output, s)
		}
		return false
	}

	args, err := SplitArgs(line)
	if err != nil {
		fmt.Fprintf(r.output, "error: %v\n", err)
		return false
	}
	if err := r.exec(ctx, args); err != nil {
		fmt.Fprintf(r.output, "error: %v\n", err)
	}
	return false
}

// SplitArgs splits a line on whitespace, honoring single and double quotes
// and backslash escapes outside single quotes.
func SplitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inArg   bool
		quote   rune
		escaped bool
	)
	for _, c := range line {
		switch {
		case escaped:
			cur.WriteRune(c)
			escaped = false
		case c == '\\' && quote != '\'':
			escaped = true
			inArg = true
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteRune(c)
			}
		case c == '"' || c == '\'':
			quote = c
			inArg = true
		case c == ' ' || c == '\t':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(c)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		return nil, errors.New("trailing backslash")
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}
