package httpserver

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yndnr/ksefbridge-go/internal/server/httpserver/handler"
	"github.com/yndnr/ksefbridge-go/internal/telemetry/logger"
	"github.com/yndnr/ksefbridge-go/internal/telemetry/metric"
	"github.com/yndnr/ksefbridge-go/pkg/apikey"
	"github.com/yndnr/ksefbridge-go/pkg/cmap"
)

// maxRequestIDLength bounds client supplied request IDs.
const maxRequestIDLength = 64

// maxVerifiedKeys bounds the verified API key cache.
const maxVerifiedKeys = 64

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one runs first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RequestID takes X-Request-ID from the client or generates a UUID, and
// stores it in the context and the response header.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" || len(requestID) > maxRequestIDLength {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), requestID)))
		})
	}
}

// Recover turns panics into a 500 envelope.
func Recover(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					requestID := logger.RequestIDFromContext(r.Context())
					log.Error("panic recovered",
						"request_id", requestID,
						"panic", rec,
						"path", r.URL.Path,
					)
					handler.WriteError(w, requestID, http.StatusInternalServerError, handler.CodeInternal, "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Metrics counts requests by route pattern. It must run before the
// handler mux so that r.Pattern is set when it reads it.
func Metrics(reg *metric.Registry) Middleware {
	return func(next http.Handler) http.Handler {
		if reg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			reg.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			reg.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// routeLabel is the matched pattern without its method, keeping label
// cardinality bounded.
func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	return r.Pattern
}

// Audit logs one line per request.
func Audit(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)

			attrs := []any{
				"request_id", logger.RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"client_ip", clientIP(r),
			}
			switch {
			case rw.statusCode >= 500:
				log.Error("request completed with error", attrs...)
			case rw.statusCode >= 400:
				log.Warn("request completed with client error", attrs...)
			default:
				log.Info("request completed", attrs...)
			}
		})
	}
}

// APIKey requires a key matching the argon2id hash. Keys come from
// "Authorization: Bearer <key>" or "X-API-Key". An empty hash disables
// the check.
func APIKey(hash string, log *slog.Logger) Middleware {
	verified := cmap.New[struct{}]()

	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractAPIKey(r)
			requestID := logger.RequestIDFromContext(r.Context())
			if key == "" {
				handler.WriteError(w, requestID, http.StatusUnauthorized, handler.CodeUnauthorized, "API key required", nil)
				return
			}

			// Keys that passed once skip the argon2id check.
			sum := sha256.Sum256([]byte(key))
			fp := hex.EncodeToString(sum[:])
			if _, ok := verified.Get(fp); !ok {
				ok, err := apikey.Verify(key, hash)
				if err != nil {
					log.Error("api key hash is invalid", "error", err)
				}
				if !ok {
					log.Warn("api key rejected", "request_id", requestID, "client_ip", clientIP(r))
					handler.WriteError(w, requestID, http.StatusUnauthorized, handler.CodeUnauthorized, "invalid API key", nil)
					return
				}
				if verified.Count() < maxVerifiedKeys {
					verified.Set(fp, struct{}{})
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func wrap(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
