package httpserver

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestServer_ServeAndShutdown(t *testing.T) {
	s := New("127.0.0.1:0", okHandler(), nil, discard)
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()

	resp, err := http.Get("http://" + s.Addr() + "/")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve() = %v, want nil after shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return")
	}
}

func TestServer_AddrBeforeListen(t *testing.T) {
	s := New("127.0.0.1:5380", okHandler(), nil, nil)
	if s.Addr() != "127.0.0.1:5380" {
		t.Errorf("Addr() = %q", s.Addr())
	}
}

func TestServer_ListenError(t *testing.T) {
	s := New("not-an-address", okHandler(), nil, discard)
	if err := s.Serve(); err == nil {
		t.Error("Serve() expected listen error")
	}
}
