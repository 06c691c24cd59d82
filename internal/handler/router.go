// Package handler provides HTTP handlers for the keygate API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/prn-tf/keygate/internal/auth"
	"github.com/prn-tf/keygate/internal/metrics"
)

// DefaultMaxBodySize bounds request bodies when RouterConfig.MaxBodySize is unset.
const DefaultMaxBodySize int64 = 1 << 20

// healthTimeout bounds the database ping behind /health.
const healthTimeout = 3 * time.Second

// DatabaseChecker reports database reachability.
type DatabaseChecker interface {
	Health(ctx context.Context) error
}

// Router handles HTTP routing for the keygate API.
type Router struct {
	keyHandler  *KeyHandler
	database    DatabaseChecker
	metrics     *metrics.Metrics
	version     string
	maxBodySize int64
	logger      zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	KeyHandler  *KeyHandler
	Database    DatabaseChecker
	Metrics     *metrics.Metrics
	Version     string
	MaxBodySize int64
	Logger      zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	return &Router{
		keyHandler:  config.KeyHandler,
		database:    config.Database,
		metrics:     config.Metrics,
		version:     config.Version,
		maxBodySize: config.MaxBodySize,
		logger:      config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(hlog.NewHandler(rt.logger))
	r.Use(hlog.RequestIDHandler("request_id", "X-Request-Id"))
	r.Use(middleware.RealIP)
	r.Use(rt.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(rt.limitBody)
	r.Use(auth.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Render(w, r, &ErrResponse{
			HTTPStatusCode: http.StatusNotFound,
			Message:        "route not found",
			Code:           "route_not_found",
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		render.Render(w, r, &ErrResponse{
			HTTPStatusCode: http.StatusMethodNotAllowed,
			Message:        "method not allowed",
			Code:           "method_not_allowed",
		})
	})

	r.Get("/", rt.handleIndex)
	r.Get("/health", rt.handleHealth)

	kh := rt.keyHandler
	r.Get("/generate", kh.Generate)
	r.Post("/generate", kh.Generate)
	r.Get("/check", kh.Check)
	r.Post("/activate", kh.Activate)
	r.Get("/info", kh.Info)
	r.Post("/reset", kh.Reset)
	r.Get("/stats", kh.Stats)
	r.Delete("/delete", kh.Delete)

	return r
}

type indexResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// handleIndex reports the service status and its endpoints.
func (rt *Router) handleIndex(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, indexResponse{
		Status:  "online",
		Service: "keygate",
		Version: rt.version,
		Endpoints: map[string]string{
			"check":    "GET /check?key=XXX&hwid=YYY",
			"activate": "POST /activate {key, hwid, discord_id}",
			"info":     "GET /info?key=XXX",
			"reset":    "POST /reset {key, admin_token | discord_id, reason}",
			"generate": "GET /generate?admin_token=XXX&amount=5&days=365",
			"stats":    "GET /stats?admin_token=XXX",
			"delete":   "DELETE /delete {key, admin_token, reason}",
		},
	})
}

// handleHealth handles health check requests.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	if rt.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := rt.database.Health(ctx); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("health check failed")
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, map[string]string{"status": "unhealthy"})
			return
		}
	}
	render.JSON(w, r, map[string]string{"status": "healthy"})
}

// accessLog logs each request and records it in the HTTP metrics. The route
// pattern is read after routing so that metric labels stay bounded.
func (rt *Router) accessLog(next http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		rt.metrics.ObserveHTTP(route, r.Method, status, duration)

		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
}

func (rt *Router) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, rt.maxBodySize)
		}
		next.ServeHTTP(w, r)
	})
}
