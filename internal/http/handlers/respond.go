package handlers

import (
	"encoding/json"
	"net/http"
)

type webhookResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	TransactionID int64  `json:"transaction_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, webhookResponse{Status: "error", Message: msg})
}
