package mtn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/simonpeter880/uganda-electronic-platform/internal/cache"
	"github.com/simonpeter880/uganda-electronic-platform/internal/config"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider"
)

func newTestAdapter(baseURL string) *Adapter {
	return New(config.MTNCfg{
		BaseURL:         baseURL,
		SubscriptionKey: "sub-key",
		APIUser:         "api-user",
		APIKey:          "api-key",
		TargetEnv:       "mtnuganda",
		CallbackURL:     "https://shop.example/webhooks/mtn-momo",
	}, cache.NewMemoryCache())
}

func TestRequestPaymentAccepted(t *testing.T) {
	var tokenCalls, payCalls int32
	var gotRef, gotIdem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collection/token/":
			atomic.AddInt32(&tokenCalls, 1)
			if r.Header.Get("Ocp-Apim-Subscription-Key") != "sub-key" {
				t.Error("missing subscription key on token call")
			}
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/collection/v1_0/requesttopay":
			atomic.AddInt32(&payCalls, 1)
			gotRef = r.Header.Get("X-Reference-Id")
			gotIdem = r.Header.Get("X-Idempotency-Key")
			if r.Header.Get("Authorization") != "Bearer tok" {
				t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
			}
			var body struct {
				Amount string `json:"amount"`
				Payer  struct {
					PartyID string `json:"partyId"`
				} `json:"payer"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.Amount != "50000" {
				t.Errorf("amount = %q, want 50000", body.Amount)
			}
			if body.Payer.PartyID != "256700123456" {
				t.Errorf("partyId = %q, want full canonical msisdn", body.Payer.PartyID)
			}
			w.WriteHeader(http.StatusAccepted)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	res, err := a.RequestPayment(context.Background(), provider.PaymentRequest{
		Amount: 50000, Currency: "UGX", Phone: "256700123456", Reference: "ORD-1", Message: "Payment",
	})
	if err != nil {
		t.Fatalf("RequestPayment: %v", err)
	}
	if res.ProviderRef == "" || res.ProviderRef != gotRef {
		t.Fatalf("provider ref %q does not match X-Reference-Id %q", res.ProviderRef, gotRef)
	}
	if gotIdem == "" {
		t.Fatal("expected X-Idempotency-Key header")
	}
	if tokenCalls != 1 || payCalls != 1 {
		t.Fatalf("calls = token %d, pay %d, want 1/1", tokenCalls, payCalls)
	}
}

func TestRequestPaymentRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collection/token/" {
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
			return
		}
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"duplicate reference"}`))
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	_, err := a.RequestPayment(context.Background(), provider.PaymentRequest{
		Amount: 500, Currency: "UGX", Phone: "256700123456", Reference: "ORD-1",
	})
	var perr *provider.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if perr.StatusCode != http.StatusConflict || len(perr.Payload) == 0 {
		t.Fatalf("ProviderError missing status/payload: %+v", perr)
	}
}

func TestCheckStatusRefreshesRejectedToken(t *testing.T) {
	var tokenCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collection/token/":
			n := atomic.AddInt32(&tokenCalls, 1)
			json.NewEncoder(w).Encode(map[string]string{"access_token": fmt.Sprintf("tok-%d", n)})
		default:
			if r.Header.Get("Authorization") == "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "SUCCESSFUL"})
		}
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	res, err := a.CheckStatus(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if res.Status != provider.StatusSuccessful {
		t.Fatalf("status = %s, want successful", res.Status)
	}
	if tokenCalls != 2 {
		t.Fatalf("token calls = %d, want 2 (refresh after 401)", tokenCalls)
	}
}

func TestFetchTokenFailureIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	_, err := a.CheckStatus(context.Background(), "ref-1")
	var aerr *provider.AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("err = %v, want AuthError", err)
	}
}

func TestMapStatusTotality(t *testing.T) {
	cases := map[string]provider.Status{
		"SUCCESSFUL": provider.StatusSuccessful,
		"FAILED":     provider.StatusFailed,
		"PENDING":    provider.StatusPending,
		"successful": provider.StatusSuccessful,
		"TIMEOUT":    provider.StatusPending, // unknown must never be successful
		"":           provider.StatusPending,
	}
	for in, want := range cases {
		if got := MapStatus(in); got != want {
			t.Errorf("MapStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseWebhook(t *testing.T) {
	cb, err := New(config.MTNCfg{}, cache.NewMemoryCache()).ParseWebhook([]byte(`{
		"externalId": "ORD-1",
		"referenceId": "abc-123",
		"status": "SUCCESSFUL",
		"amount": "50000",
		"currency": "UGX"
	}`))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if cb.EventID != "abc-123" || cb.ProviderRef != "abc-123" || cb.OrderRef != "ORD-1" {
		t.Fatalf("callback identity wrong: %+v", cb)
	}
	if cb.Status != provider.StatusSuccessful {
		t.Fatalf("status = %s", cb.Status)
	}

	if _, err := New(config.MTNCfg{}, cache.NewMemoryCache()).ParseWebhook([]byte(`{"status":"SUCCESSFUL"}`)); err == nil {
		t.Fatal("expected error for missing referenceId")
	}
	if _, err := New(config.MTNCfg{}, cache.NewMemoryCache()).ParseWebhook([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
