package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	mw "github.com/lorrc/service-desk-realtime/internal/adapters/primary/http/middleware"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// RouterConfig holds what the status router needs.
type RouterConfig struct {
	Connections    ConnectionReporter
	Notifications  NotificationStore
	Tickets        TicketStore
	AllowedOrigins []string
	Version        string
	Logger         *slog.Logger

	// Feed serves the live feed at /ws when set.
	Feed http.Handler
}

// NewRouter builds the status API: health probes, connection status and
// read-only views of the read models, plus the mark-read actions.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := logging.OrNop(cfg.Logger)
	errorHandler := NewErrorHandler(logger)
	healthHandler := NewHealthHandler(cfg.Connections, cfg.Version)
	statusHandler := NewStatusHandler(cfg.Connections, cfg.Notifications, cfg.Tickets, errorHandler, logger)

	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", mw.RequestIDHeader},
			ExposedHeaders:   []string{mw.RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/health/live", healthHandler.HandleLiveness)
	r.Get("/health/ready", healthHandler.HandleReadiness)

	statusHandler.RegisterRoutes(r)

	if cfg.Feed != nil {
		r.Get("/ws", cfg.Feed.ServeHTTP)
	}

	return r
}
