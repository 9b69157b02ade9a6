// Package httpx wires the HTTP surface: public callback endpoints for
// the providers and a token-guarded API for the surrounding platform.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/simonpeter880/uganda-electronic-platform/internal/config"
	"github.com/simonpeter880/uganda-electronic-platform/internal/http/handlers"
	middlewarex "github.com/simonpeter880/uganda-electronic-platform/internal/http/middleware"
	"github.com/simonpeter880/uganda-electronic-platform/internal/payments"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider"
	"github.com/simonpeter880/uganda-electronic-platform/internal/webhook"
)

type RouterDependencies struct {
	Config     config.Cfg
	Payments   *payments.Service
	Reconciler *webhook.Reconciler
	MTN        provider.Adapter
	Airtel     provider.Adapter
}

func NewRouter(deps RouterDependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middlewarex.RequestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Callback endpoints are public; each guards itself with the
	// provider's signature secret and source allowlist.
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/mtn-momo", handlers.ProviderWebhook(deps.MTN, deps.Reconciler, handlers.WebhookGuard{
			Secret:     deps.Config.Webhook.MTNSecret,
			AllowedIPs: deps.Config.Webhook.MTNAllowedIPs,
		}))
		r.Post("/airtel-money", handlers.ProviderWebhook(deps.Airtel, deps.Reconciler, handlers.WebhookGuard{
			Secret:     deps.Config.Webhook.AirtelSecret,
			AllowedIPs: deps.Config.Webhook.AirtelAllowedIPs,
		}))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarex.BearerAuth(deps.Config.Payment.APIToken))

		r.Post("/payments", handlers.InitiatePayment(deps.Payments))
		r.Get("/payments/{provider}/{reference}/status", handlers.PaymentStatus(deps.Payments))
		r.Get("/payments/{provider}/{reference}/verify", handlers.VerifyPayment(deps.Payments))
	})

	return r
}
