package httptransport

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"capbridge/internal/bridge/handler"
	"capbridge/internal/platform/metrics"
	"capbridge/internal/platform/middleware"
)

// requestTimeout bounds each request end to end, including schema validation
// and store writes.
const requestTimeout = 15 * time.Second

// Options carries the collaborators the router needs. JWTValidator may be nil
// when regulated mode is off.
type Options struct {
	Bridge        handler.Service
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	RegulatedMode bool
	JWTValidator  middleware.JWTValidator
}

// NewRouter wires the public endpoints behind the shared middleware chain.
// Business logic lives in the bridge service; this layer only sequences
// transport concerns.
func NewRouter(opts Options) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(opts.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing("capbridge"))
	r.Use(middleware.Logger(opts.Logger))
	r.Use(middleware.Latency(opts.Metrics))
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.ContentTypeJSON)

	r.Handle("/metrics", promhttp.Handler())

	h := handler.New(opts.Bridge, opts.Logger)
	h.RegisterHealth(r)
	if opts.RegulatedMode && opts.JWTValidator != nil {
		r.Group(func(gr chi.Router) {
			gr.Use(middleware.RequireAuth(opts.JWTValidator, opts.Logger))
			h.RegisterCAP(gr)
		})
		return r
	}
	h.RegisterCAP(r)
	return r
}
