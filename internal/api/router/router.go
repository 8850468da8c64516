package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conduitcrm/messaging-engine/internal/channels/whatsapp"
	"github.com/conduitcrm/messaging-engine/internal/http/handlers"
	httpmiddleware "github.com/conduitcrm/messaging-engine/internal/http/middleware"
	"github.com/conduitcrm/messaging-engine/internal/realtime"
	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	WhatsAppWebhook    *whatsapp.WebhookHandler
	SendHandler        *handlers.SendHandler
	AdminRules         *handlers.AdminRulesHandler
	AdminRegistrations *handlers.AdminRegistrationsHandler
	RealtimeHandler    *realtime.Handler
	MetricsHandler     http.Handler
	AuthSecret         string
	CORSAllowedOrigins []string
	WebhookRateLimit   float64
	WebhookRateBurst   int
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public surface: health, metrics, provider webhooks.
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.WhatsAppWebhook != nil {
			public.Group(func(hooks chi.Router) {
				if cfg.WebhookRateLimit > 0 {
					hooks.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookRateBurst))
				}
				hooks.Get("/webhooks/whatsapp", cfg.WhatsAppWebhook.HandleVerification)
				hooks.Post("/webhooks/whatsapp", cfg.WhatsAppWebhook.HandleFormB)
				hooks.Post("/webhooks/whatsapp/form", cfg.WhatsAppWebhook.HandleFormA)
			})
		}
	})

	// Tenant surface: JWT with tenant scope.
	r.Group(func(tenant chi.Router) {
		tenant.Use(httpmiddleware.AdminJWT(cfg.AuthSecret))
		tenant.Use(httpmiddleware.RequireTenantScope)
		if cfg.SendHandler != nil {
			tenant.Post("/api/messages/send", cfg.SendHandler.Send)
		}
		if cfg.RealtimeHandler != nil {
			tenant.Get("/ws", cfg.RealtimeHandler.ServeHTTP)
		}
		if cfg.AdminRules != nil {
			tenant.Route("/admin/rules", func(rules chi.Router) {
				rules.Get("/", cfg.AdminRules.List)
				rules.Post("/", cfg.AdminRules.Create)
				rules.Patch("/{ruleID}/active", cfg.AdminRules.SetActive)
			})
		}
		if cfg.AdminRegistrations != nil {
			tenant.Route("/admin/registrations", func(regs chi.Router) {
				regs.Put("/", cfg.AdminRegistrations.Upsert)
				regs.Post("/status", cfg.AdminRegistrations.SetStatus)
			})
		}
	})

	return r
}
