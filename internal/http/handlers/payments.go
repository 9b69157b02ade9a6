package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/simonpeter880/uganda-electronic-platform/internal/payments"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider"
	"github.com/simonpeter880/uganda-electronic-platform/internal/store"
)

type initiateRequest struct {
	Provider string `json:"provider"`
	Phone    string `json:"phone"`
	Amount   int64  `json:"amount"`
	OrderRef string `json:"order_ref"`
	Message  string `json:"message"`
}

type initiateResponse struct {
	Status        string `json:"status"`
	ProviderRef   string `json:"provider_ref"`
	TransactionID int64  `json:"transaction_id"`
}

func InitiatePayment(svc *payments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req initiateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		p, err := provider.ParseType(req.Provider)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := svc.Initiate(r.Context(), p, req.Phone, req.Amount, req.OrderRef, req.Message)
		if err != nil {
			respondPaymentError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, initiateResponse{
			Status:        "pending",
			ProviderRef:   res.ProviderRef,
			TransactionID: res.Transaction.ID,
		})
	}
}

func PaymentStatus(svc *payments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := provider.ParseType(chi.URLParam(r, "provider"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status, err := svc.CheckStatus(r.Context(), p, chi.URLParam(r, "reference"))
		if err != nil {
			respondPaymentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
	}
}

func VerifyPayment(svc *payments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := provider.ParseType(chi.URLParam(r, "provider"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		verified, err := svc.Verify(r.Context(), p, chi.URLParam(r, "reference"))
		if err != nil {
			respondPaymentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"verified": verified})
	}
}

// respondPaymentError maps the error taxonomy onto HTTP: caller mistakes
// are 4xx, provider trouble is 502, everything else 500.
func respondPaymentError(w http.ResponseWriter, err error) {
	var ve *payments.ValidationError
	var ue *provider.UnsupportedProviderError
	var pe *provider.ProviderError
	var ae *provider.AuthError

	switch {
	case errors.As(err, &ve), errors.As(err, &ue):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "transaction not found")
	case errors.As(err, &pe), errors.As(err, &ae):
		log.Error().Err(err).Msg("provider call failed")
		writeError(w, http.StatusBadGateway, "provider error")
	default:
		log.Error().Err(err).Msg("payment operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
