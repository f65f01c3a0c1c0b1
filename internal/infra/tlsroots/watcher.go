package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher serves the listener certificate and reloads it when the
// certificate or key file changes, so renewals need no restart.
type Watcher struct {
	certFile string
	keyFile  string
	cert     *tls.Certificate
	mu       sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	debounce   time.Duration
	lastReload time.Time
	reloadMu   sync.Mutex
	reloads    int
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger for the watcher.
func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithDebounce sets the debounce duration.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher loads the key pair and returns a watcher; call StartAsync
// to follow file changes.
func NewWatcher(certFile, keyFile string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		certFile: certFile,
		keyFile:  keyFile,
		done:     make(chan struct{}),
		logger:   slog.Default(),
		debounce: 500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(w)
	}

	// Load initial certificate
	if err := w.reload(); err != nil {
		return nil, fmt.Errorf("tlsroots: initial load: %w", err)
	}

	return w, nil
}

// Start starts watching for certificate changes.
// This function blocks until Stop() is called.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	w.watcher = watcher

	// Watch the directories containing the cert and key files
	// This handles vim-style renames better
	certDir := filepath.Dir(w.certFile)
	keyDir := filepath.Dir(w.keyFile)

	if err := watcher.Add(certDir); err != nil {
		w.watcher.Close()
		return fmt.Errorf("tlsroots: watch cert dir %s: %w", certDir, err)
	}

	// Only add key dir if different from cert dir
	if keyDir != certDir {
		if err := watcher.Add(keyDir); err != nil {
			w.watcher.Close()
			return fmt.Errorf("tlsroots: watch key dir %s: %w", keyDir, err)
		}
	}

	w.logger.Info("certificate watcher started",
		"cert_file", w.certFile,
		"key_file", w.keyFile,
	)

	certBase := filepath.Base(w.certFile)
	keyBase := filepath.Base(w.keyFile)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// Check if the changed file is our cert or key
			changedBase := filepath.Base(event.Name)
			if changedBase != certBase && changedBase != keyBase {
				continue
			}

			// Only reload on write or create events
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			w.logger.Debug("certificate file changed",
				"file", event.Name,
				"op", event.Op.String(),
			)

			// Debounce rapid changes
			if err := w.debouncedReload(); err != nil {
				w.logger.Error("certificate reload failed",
					"error", err,
					"cert_file", w.certFile,
					"key_file", w.keyFile,
				)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("certificate watcher error",
				"error", err,
				"cert_file", w.certFile,
			)

		case <-w.done:
			return watcher.Close()
		}
	}
}

// StartAsync starts watching in a goroutine.
func (w *Watcher) StartAsync() {
	go func() {
		if err := w.Start(); err != nil {
			w.logger.Error("certificate watcher stopped with error",
				"error", err,
			)
		}
	}()
}

// Stop stops watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// ServerTLSConfig returns a listener config that always presents the
// current certificate.
func (w *Watcher) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: w.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

// NotAfter returns the expiry of the current certificate.
func (w *Watcher) NotAfter() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.cert == nil || w.cert.Leaf == nil {
		return time.Time{}
	}
	return w.cert.Leaf.NotAfter
}

// Reloads returns how many times the certificate was loaded.
func (w *Watcher) Reloads() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reloads
}

// GetCertificate returns the current certificate.
// This implements tls.Config.GetCertificate.
func (w *Watcher) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cert, nil
}

// debouncedReload reloads the certificate with debouncing.
func (w *Watcher) debouncedReload() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	now := time.Now()
	if now.Sub(w.lastReload) < w.debounce {
		return nil
	}
	w.lastReload = now

	// Small delay to ensure file write is complete
	time.Sleep(100 * time.Millisecond)

	return w.reload()
}

func (w *Watcher) reload() error {
	cert, err := tls.LoadX509KeyPair(w.certFile, w.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}

	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			cert.Leaf = leaf
		}
	}

	w.mu.Lock()
	w.cert = &cert
	w.reloads++
	w.mu.Unlock()

	attrs := []any{"cert_file", w.certFile}
	if cert.Leaf != nil {
		attrs = append(attrs, "not_after", cert.Leaf.NotAfter)
		if time.Until(cert.Leaf.NotAfter) < 14*24*time.Hour {
			w.logger.Warn("listener certificate expires soon", attrs...)
		}
	}
	w.logger.Info("listener certificate loaded", attrs...)

	return nil
}
