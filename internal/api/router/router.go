package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/glowdesk/concierge/internal/channels/whatsapp"
	"github.com/glowdesk/concierge/internal/http/handlers"
	httpmiddleware "github.com/glowdesk/concierge/internal/http/middleware"
	"github.com/glowdesk/concierge/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	WhatsAppWebhook    *whatsapp.WebhookHandler
	AdminConversations *handlers.AdminConversationsHandler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: channel webhooks, health, metrics.
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.WhatsAppWebhook != nil {
			public.Get("/webhooks/whatsapp", cfg.WhatsAppWebhook.HandleVerification)
			public.Post("/webhooks/whatsapp", cfg.WhatsAppWebhook.HandleInbound)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Admin endpoints behind JWT auth.
	if cfg.AdminConversations != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/conversations/{conversationID}", cfg.AdminConversations.GetConversation)
			admin.Post("/conversations/{conversationID}/resume", cfg.AdminConversations.ResumeConversation)
			admin.Put("/users/{userID}/vip", cfg.AdminConversations.SetUserVIP)
			admin.Post("/bookings/{bookingID}/cancel", cfg.AdminConversations.CancelBooking)
		})
	}

	return r
}
