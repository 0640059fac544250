package httpapi

import (
	"net/http"
	"time"

	"cashier-board/internal/config"
	"cashier-board/internal/http/handlers"
	"cashier-board/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type Deps struct {
	Handler *handlers.Handler
	// Display serves the display relay websocket; nil disables the route.
	Display http.HandlerFunc
	Latency *middleware.Latency
}

func NewRouter(logger *zap.Logger, cfg config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Telemetry(logger, deps.Latency))

	if cfg.Env == "development" || len(cfg.CorsAllowedOrigins) > 0 {
		options := cors.Options{
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{
				"Accept",
				"Authorization",
				"Content-Type",
				"X-Requested-With",
				"X-Request-Id",
				"Cache-Control",
			},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}

		if cfg.Env == "development" {
			options.AllowOriginFunc = func(_ *http.Request, origin string) bool {
				return true
			}
		} else {
			options.AllowedOrigins = cfg.CorsAllowedOrigins
		}

		r.Use(cors.Handler(options))
	}

	h := deps.Handler

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/board", func(r chi.Router) {
		r.Use(setResponseHeader("Cache-Control", "no-store"))
		r.Get("/", h.BoardSnapshot)
		r.Get("/orders/{orderId}", h.BoardOrder)
		r.Get("/orders/{orderId}/ticket", h.BoardOrderTicket)
		r.Get("/pending", h.PendingList)
		r.Get("/notifications", h.NotificationsGet)

		r.Group(func(r chi.Router) {
			r.Use(middleware.OperatorAuth(cfg.JWTSecret))
			r.Post("/orders/{orderId}/finish", h.BoardOrderFinish)
			r.Delete("/orders/{orderId}", h.BoardOrderDelete)
			r.Post("/pending/flush", h.PendingFlush)
			r.Put("/notifications", h.NotificationsPut)
		})
	})

	r.Route("/api/orders", func(r chi.Router) {
		r.Use(middleware.OperatorAuth(cfg.JWTSecret))
		r.Post("/", h.OrderCreate)
	})

	if deps.Display != nil {
		r.Get("/ws/board", deps.Display)
	}

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func setResponseHeader(name string, value string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(name, value)
			next.ServeHTTP(w, r)
		})
	}
}
