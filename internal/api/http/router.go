package apihttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"plantwatch/internal/auth"
)

// RouteRegistrar mounts a group of routes.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Routes         []RouteRegistrar
	History        *HistoryHandler
	Auth           *auth.Middleware
	Ready          func() bool
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter builds the engine HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if cfg.Ready != nil && !cfg.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth.Wrap)
		}
		// The alarm stream is long-lived and must not inherit the request timeout.
		r.Group(func(r chi.Router) {
			for _, routes := range cfg.Routes {
				routes.RegisterRoutes(r)
			}
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))
			r.Get("/api/v1/history/alarms", cfg.History.Alarms)
			r.Get("/api/v1/history/supervision", cfg.History.Supervision)
		})
	})
	return r
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
