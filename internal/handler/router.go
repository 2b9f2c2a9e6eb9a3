package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/service0427/slot-inquiry/internal/middleware"
	"github.com/service0427/slot-inquiry/internal/service"
	"github.com/service0427/slot-inquiry/pkg/logger"
)

// RouterConfig wires the API's dependencies.
type RouterConfig struct {
	Inquiries *service.InquiryService
	Messages  *service.MessageService
	Events    EventReader
	Checks    map[string]Checker
	Logger    *logger.Logger

	JWTSecret         string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	log := logger.OrNop(cfg.Logger)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"https://*", "http://*"}
	}

	healthHandler := NewHealthHandler(cfg.Checks)
	inquiryHandler := NewInquiryHandler(cfg.Inquiries, log)
	messageHandler := NewMessageHandler(cfg.Messages, log)
	streamHandler := NewStreamHandler(cfg.Events, cfg.Inquiries, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/inquiries", func(r chi.Router) {
			r.Post("/", inquiryHandler.Create)
			r.Get("/", inquiryHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", inquiryHandler.Get)
				r.Put("/status", inquiryHandler.UpdateStatus)

				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
				r.Post("/read", messageHandler.MarkRead)

				r.With(middleware.RequireAdmin).Get("/events", streamHandler.Events)
			})
		})

		r.Get("/users/{id}/unread-count", messageHandler.UnreadCount)
	})

	return r
}
