package logger

import (
	"context"
	"testing"
)

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != Default() {
		t.Error("FromContext without logger should return Default()")
	}

	l, _ := newBuffered(t, "info")
	ctx := WithLogger(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("FromContext did not return stored logger")
	}
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if RequestIDFromContext(ctx) != "" || TenantIDFromContext(ctx) != "" || RunIDFromContext(ctx) != "" {
		t.Fatal("empty context returned IDs")
	}

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTenantID(ctx, "kbtn-1")
	ctx = WithRunID(ctx, "kbrn-1")
	if RequestIDFromContext(ctx) != "req-1" {
		t.Error("request id not stored")
	}
	if TenantIDFromContext(ctx) != "kbtn-1" {
		t.Error("tenant id not stored")
	}
	if RunIDFromContext(ctx) != "kbrn-1" {
		t.Error("run id not stored")
	}
}

func TestL(t *testing.T) {
	l, buf := newBuffered(t, "info")
	ctx := WithLogger(context.Background(), l)
	ctx = WithRunID(ctx, "kbrn-9")

	L(ctx).Info("run")
	entry := decode(t, buf)
	if entry["run_id"] != "kbrn-9" {
		t.Errorf("run_id = %v, want kbrn-9", entry["run_id"])
	}
	if _, ok := entry["request_id"]; ok {
		t.Error("request_id should be absent")
	}
}
