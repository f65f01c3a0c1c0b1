package repl

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recorder struct {
	calls [][]string
	err   error
}

func (r *recorder) exec(_ context.Context, args []string) error {
	r.calls = append(r.calls, args)
	return r.err
}

func newTestREPL(input string, rec *recorder) (*REPL, *bytes.Buffer) {
	out := &bytes.Buffer{}
	r := New(rec.exec, []string{"tenant", "tenant add", "tenant list", "sync", "sync run"},
		WithIO(strings.NewReader(input), out),
		WithHistory(NewHistory("-")),
	)
	return r, out
}

func TestREPL_Run_Exit(t *testing.T) {
	for _, input := range []string{"exit\n", "quit\n", ""} {
		rec := &recorder{}
		r, _ := newTestREPL(input, rec)
		if err := r.Run(context.Background()); err != nil {
			t.Errorf("Run(%q) error = %v", input, err)
		}
		if len(rec.calls) != 0 {
			t.Errorf("Run(%q) executed %v", input, rec.calls)
		}
	}
}

func TestREPL_Run_Executes(t *testing.T) {
	rec := &recorder{}
	r, _ := newTestREPL("\n  \ntenant list --active\nsync run --tenant 'kbtn 1'\nexit\ntenant add\n", rec)
	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(rec.calls) != 2 {
		t.Fatalf("calls = %v, want 2 before exit", rec.calls)
	}
	if got := strings.Join(rec.calls[1], "|"); got != "sync|run|--tenant|kbtn 1" {
		t.Errorf("args = %q", got)
	}
}

func TestREPL_Run_LastLineWithoutNewline(t *testing.T) {
	rec := &recorder{}
	r, _ := newTestREPL("sync run", rec)
	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rec.calls) != 1 {
		t.Errorf("calls = %v", rec.calls)
	}
}

func TestREPL_Run_ErrorsDoNotStop(t *testing.T) {
	rec := &recorder{err: errors.New("[KB-TEN-4040] tenant not found")}
	r, out := newTestREPL("tenant list\ntenant list --active\n", rec)
	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rec.calls) != 2 {
		t.Errorf("calls = %d, want 2", len(rec.calls))
	}
	if strings.Count(out.String(), "error: [KB-TEN-4040]") != 2 {
		t.Errorf("output = %q", out.String())
	}
}

func TestREPL_Run_CompletionAndHistory(t *testing.T) {
	rec := &recorder{}
	r, out := newTestREPL("tenant ?\nsync run\nhistory\n", rec)
	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := out.String()
	if !strings.Contains(s, "tenant add\ntenant list\n") {
		t.Errorf("completion missing:\n%s", s)
	}
	if !strings.Contains(s, "   1  tenant ?\n   2  sync run\n") {
		t.Errorf("history missing:\n%s", s)
	}
}

func TestREPL_Run_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder{}
	r, _ := newTestREPL("sync run\n", rec)
	if err := r.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(rec.calls) != 0 {
		t.Errorf("executed after cancel: %v", rec.calls)
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"tenant list", []string{"tenant", "list"}, false},
		{`submit "my invoice.json"`, []string{"submit", "my invoice.json"}, false},
		{`tenant add --name 'Acme "PL"'`, []string{"tenant", "add", "--name", `Acme "PL"`}, false},
		{`a\ b c`, []string{"a b", "c"}, false},
		{`x ""`, []string{"x", ""}, false},
		{`"open`, nil, true},
		{`trail\`, nil, true},
	}
	for _, tt := range tests {
		got, err := SplitArgs(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("SplitArgs(%q) error = %v", tt.in, err)
			continue
		}
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("SplitArgs(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCompleter(t *testing.T) {
	c := NewCompleter([]string{"tenant", "tenant add", "sync", "sync run", "sync runs"})

	top := strings.Join(c.Complete(""), ",")
	if top != "exit,history,quit,sync,tenant" {
		t.Errorf("top level = %q", top)
	}
	if got := strings.Join(c.Complete("sync  r"), ","); got != "sync run,sync runs" {
		t.Errorf("Complete(sync r) = %q", got)
	}
	if got := c.Complete("zzz"); len(got) != 0 {
		t.Errorf("Complete(zzz) = %v", got)
	}
}

func TestHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "history")
	h := NewHistory(path)
	h.maxSize = 3
	for _, line := range []string{"a", "b", "b", "tenant add --token secret", "c", "d"} {
		h.Add(line)
	}

	if got := strings.Join(h.Entries(), ","); got != "tenant add --token secret,c,d" {
		t.Errorf("Entries() = %q", got)
	}
	if h.Get(0) != "d" || h.Get(5) != "" {
		t.Errorf("Get() = %q / %q", h.Get(0), h.Get(5))
	}

	if err := h.Save(); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}

	loaded := NewHistory(path)
	if err := loaded.Load(); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(loaded.Entries(), ","); got != "c,d" {
		t.Errorf("loaded = %q, sensitive lines must not persist", got)
	}
}

func TestHistory_LoadMissing(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "none"))
	if err := h.Load(); err != nil {
		t.Errorf("Load() error = %v", err)
	}
}
