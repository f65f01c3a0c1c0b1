package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/ksefbridge-go/internal/server/httpserver/handler"
	"github.com/yndnr/ksefbridge-go/internal/telemetry/metric"
)

// RouterConfig holds the router dependencies.
type RouterConfig struct {
	Handler handler.Config

	// APIKeyHash protects /v1, /admin and optionally /metrics.
	APIKeyHash string

	// Metrics is served on /metrics and fed by the Metrics middleware.
	// Nil disables both.
	Metrics *metric.Registry

	// MetricsAuthRequired puts /metrics behind the API key.
	MetricsAuthRequired bool

	Logger *slog.Logger
}

// NewRouter builds the route tree.
//
//	/health, /ready  Recover, RequestID, Metrics
//	/metrics         Recover, RequestID, [APIKey]
//	/v1, /admin      Recover, RequestID, Metrics, Audit, APIKey
//	anything else    404 envelope
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	hcfg := cfg.Handler
	if hcfg.Logger == nil {
		hcfg.Logger = log
	}
	if cfg.Metrics != nil && hcfg.OnSubmit == nil {
		hcfg.OnSubmit = func(outcome string) {
			cfg.Metrics.SubmissionsTotal.WithLabelValues(outcome).Inc()
		}
	}
	h := handler.New(hcfg)

	mux := http.NewServeMux()

	public := Chain(h, Recover(log), RequestID(), Metrics(cfg.Metrics))
	mux.Handle("GET /health", public)
	mux.Handle("GET /ready", public)

	if cfg.Metrics != nil {
		metricsChain := []Middleware{Recover(log), RequestID()}
		if cfg.MetricsAuthRequired {
			metricsChain = append(metricsChain, APIKey(cfg.APIKeyHash, log))
		}
		mux.Handle("GET /metrics", Chain(cfg.Metrics.Handler(), metricsChain...))
	}

	protected := Chain(h,
		Recover(log),
		RequestID(),
		Metrics(cfg.Metrics),
		Audit(log),
		APIKey(cfg.APIKeyHash, log),
	)
	mux.Handle("/v1/", protected)
	mux.Handle("/admin/", protected)
	mux.Handle("/", public)

	return mux
}
