// Package gateway serves the store contract over HTTP. It is the server
// half of the /v1/keys surface the httpstore client speaks, plus a
// read-only array metadata endpoint and the usual health and metrics
// probes. The gateway holds no array semantics of its own: it proxies
// bytes to whatever store it wraps, so a remote gridstore composes out
// of the same pieces as a local one.
package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/gridstore/internal/logger"
	"github.com/marmos91/gridstore/pkg/store"
)

// minSecretLength is the shortest accepted auth secret. HS256 keys below
// the hash block size weaken the MAC.
const minSecretLength = 32

// ErrSecretTooShort is returned by New when an auth secret is configured
// but too short to sign with.
var ErrSecretTooShort = errors.New("gateway: auth secret must be at least 32 bytes")

// Config holds gateway configuration.
type Config struct {
	// AuthSecret, when non-empty, requires mutating requests to carry a
	// bearer JWT signed with it (HS256). Reads stay open. Must be at
	// least 32 bytes.
	AuthSecret string

	// RequestTimeout bounds each request when positive. Zero disables
	// the limit; large object transfers should not race a clock.
	RequestTimeout time.Duration

	// Logger receives request logs. Defaults to the process logger.
	Logger *slog.Logger

	// Metrics is the registry exposed at /metrics. Defaults to the
	// global prometheus gatherer.
	Metrics prometheus.Gatherer
}

// Server exposes a store over HTTP.
type Server struct {
	st         store.Store
	authSecret []byte
	log        *slog.Logger
	handler    http.Handler
	startTime  time.Time
}

// New builds a gateway server around st.
func New(st store.Store, cfg Config) (*Server, error) {
	if st == nil {
		return nil, errors.New("gateway: store is required")
	}
	if cfg.AuthSecret != "" && len(cfg.AuthSecret) < minSecretLength {
		return nil, ErrSecretTooShort
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	gatherer := cfg.Metrics
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		st:        st,
		log:       log,
		startTime: time.Now(),
	}
	if cfg.AuthSecret != "" {
		s.authSecret = []byte(cfg.AuthSecret)
	}
	s.handler = s.routes(cfg.RequestTimeout, gatherer)
	return s, nil
}

// Handler returns the root HTTP handler. The caller owns the listener
// and its lifecycle.
func (s *Server) Handler() http.Handler { return s.handler }

// routes assembles the middleware stack and route tree. Order matters:
// the request ID must exist before logging and tracing pick it up, and
// recovery sits inside logging so panics still produce a completion line.
func (s *Server) routes(timeout time.Duration, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(s.traceRequests)
	if timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/keys", s.listKeys)
		r.Get("/keys/*", s.getKey)
		r.Head("/keys/*", s.headKey)
		r.Get("/arrays/*", s.getArray)

		// Mutating verbs sit behind auth when a secret is configured.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Put("/keys/*", s.putKey)
			r.Delete("/keys/*", s.deleteKey)
		})
	})

	return r
}
