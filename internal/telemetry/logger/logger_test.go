package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newBuffered(t *testing.T, level string) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(Config{Level: level, Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l, &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON output %q: %v", buf.String(), err)
	}
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"default config", DefaultConfig()},
		{"text format", Config{Level: "debug", Format: "text"}},
		{"console format", Config{Level: "info", Format: "console"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if l == nil || l.Slog() == nil {
				t.Fatal("New() returned nil logger")
			}
		})
	}
}

func TestLogger_Levels(t *testing.T) {
	l, buf := newBuffered(t, "debug")

	tests := []struct {
		level   string
		logFunc func(string, ...any)
	}{
		{"DEBUG", l.Debug},
		{"INFO", l.Info},
		{"WARN", l.Warn},
		{"ERROR", l.Error},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf.Reset()
			tt.logFunc("test message", "component", "test-value")
			entry := decode(t, buf)
			if entry["level"] != tt.level {
				t.Errorf("level = %v, want %s", entry["level"], tt.level)
			}
			if entry["component"] != "test-value" {
				t.Errorf("component = %v, want test-value", entry["component"])
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newBuffered(t, "warn")
	defer SetLevel("info")

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %s", buf.String())
	}
	l.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn not logged: %s", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	l, buf := newBuffered(t, "info")
	defer SetLevel("info")

	l.Debug("before")
	if buf.Len() != 0 {
		t.Fatal("debug logged at info level")
	}

	SetLevel("debug")
	if GetLevel() != "debug" {
		t.Errorf("GetLevel() = %s, want debug", GetLevel())
	}
	l.Debug("after")
	if !strings.Contains(buf.String(), "after") {
		t.Error("debug not logged after SetLevel(debug)")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "debug"},
		{"INFO", "info"},
		{"warning", "warn"},
		{"error", "error"},
		{"bogus", "info"},
	}
	defer SetLevel("info")
	for _, tt := range tests {
		SetLevel(tt.in)
		if got := GetLevel(); got != tt.want {
			t.Errorf("SetLevel(%q) -> %s, want %s", tt.in, got, tt.want)
		}
	}
	if ValidLevel("bogus") || !ValidLevel("WARN") {
		t.Error("ValidLevel mismatch")
	}
}

func TestLogger_WithContextAddsIDs(t *testing.T) {
	l, buf := newBuffered(t, "info")

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithTenantID(ctx, "kbtn-1")
	l.WithContext(ctx).Info("hello")

	entry := decode(t, buf)
	if entry["request_id"] != "req-1" || entry["tenant_id"] != "kbtn-1" {
		t.Errorf("context IDs missing: %v", entry)
	}
}

func TestLogger_SlogSharesRedaction(t *testing.T) {
	l, buf := newBuffered(t, "info")

	l.Slog().Info("auth", "token", "abc", "tax_id", "1234563218")
	entry := decode(t, buf)
	if entry["token"] != redactedValue {
		t.Errorf("token = %v, want redacted", entry["token"])
	}
	if entry["tax_id"] != "*******218" {
		t.Errorf("tax_id = %v, want masked", entry["tax_id"])
	}
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	l, buf := newBuffered(t, "info")
	SetDefault(l)
	Default().Info("via default")
	if !strings.Contains(buf.String(), "via default") {
		t.Error("SetDefault did not replace default logger")
	}
}
