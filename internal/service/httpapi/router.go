// Package httpapi отдаёт операции с заказами и служебные эндпоинты по HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/health"
)

// RouterConfig собирает зависимости HTTP-роутера.
type RouterConfig struct {
	Orders  *Handler
	Health  *health.Handler
	Metrics http.Handler
	Logger  *log.Entry
}

// NewRouter создаёт chi-роутер с API заказов, метриками и health-пробами.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	if cfg.Orders != nil {
		r.Route("/v1", func(r chi.Router) {
			r.Post("/orders", cfg.Orders.CreateOrder)
			r.Get("/orders/{id}", cfg.Orders.GetOrder)
			r.Get("/customers/{id}/orders", cfg.Orders.ListOrders)
		})
	}

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	r.Get("/livez", health.LivenessHandler)
	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.ServeHTTP)
		r.Get("/readyz", cfg.Health.ReadinessHandler)
	}

	return r
}

func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			entry := logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("http request failed")
				return
			}
			entry.Debug("http request")
		})
	}
}
