package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/simonpeter880/uganda-electronic-platform/internal/provider"
	"github.com/simonpeter880/uganda-electronic-platform/internal/store"
	"github.com/simonpeter880/uganda-electronic-platform/internal/webhook"
)

// WebhookGuard carries the per-provider security settings.
type WebhookGuard struct {
	Secret     string
	AllowedIPs []string
}

// ProviderWebhook handles an inbound payment callback: guard, parse,
// reconcile, respond. The provider retries on any non-2xx, so every
// branch here picks its status code deliberately.
func ProviderWebhook(adapter provider.Adapter, rec *webhook.Reconciler, guard WebhookGuard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := adapter.Type()

		ip := webhook.ClientIP(r)
		if !webhook.IPAllowed(guard.AllowedIPs, ip) {
			log.Warn().Str("provider", string(p)).Str("ip", ip).Msg("webhook from unlisted ip")
			writeError(w, http.StatusForbidden, "source not allowed")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		sig := r.Header.Get("X-Callback-Signature")
		if sig == "" {
			sig = r.Header.Get("X-Signature")
		}
		if !webhook.VerifySignature(guard.Secret, body, sig) {
			log.Warn().Str("provider", string(p)).Str("ip", ip).Msg("webhook signature mismatch")
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		cb, err := adapter.ParseWebhook(body)
		if err != nil {
			log.Warn().Err(err).Str("provider", string(p)).Msg("unparseable webhook payload")
			writeError(w, http.StatusBadRequest, "bad payload")
			return
		}

		out, err := rec.Process(r.Context(), p, cb, body)
		if errors.Is(err, store.ErrNotFound) {
			// A callback for a transaction we never recorded points at a
			// consistency gap, not at attacker noise.
			log.Warn().
				Str("provider", string(p)).
				Str("provider_ref", cb.ProviderRef).
				Str("order_ref", cb.OrderRef).
				Msg("webhook for unknown transaction")
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Str("provider", string(p)).Msg("webhook reconciliation failed")
			writeError(w, http.StatusInternalServerError, "processing failed")
			return
		}

		if out.Duplicate {
			writeJSON(w, http.StatusOK, webhookResponse{Status: "success", Message: "already processed"})
			return
		}
		writeJSON(w, http.StatusOK, webhookResponse{
			Status:        "success",
			Message:       "processed",
			TransactionID: out.Transaction.ID,
		})
	}
}
