package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/simonpeter880/uganda-electronic-platform/internal/cache"
	"github.com/simonpeter880/uganda-electronic-platform/internal/domain/transaction"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider"
	"github.com/simonpeter880/uganda-electronic-platform/internal/store"
	"github.com/simonpeter880/uganda-electronic-platform/internal/webhook"
)

type fakeStore struct {
	mu   sync.Mutex
	txns map[string]*transaction.Transaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{txns: map[string]*transaction.Transaction{}}
}

func (s *fakeStore) seed(t *testing.T, p provider.Type, ref string) *transaction.Transaction {
	t.Helper()
	txn, err := transaction.New(p, ref, "ORD-"+ref, "256700123456", 2500, "UGX", nil)
	if err != nil {
		t.Fatal(err)
	}
	txn.ID = int64(len(s.txns) + 1)
	s.txns[ref] = txn
	return txn
}

func (s *fakeStore) Create(context.Context, *transaction.Transaction) error { return nil }

func (s *fakeStore) FindByProviderRef(_ context.Context, _ provider.Type, ref string) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.txns[ref]; ok {
		return t, nil
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) FindByOrderRef(context.Context, provider.Type, string) (*transaction.Transaction, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStore) ListPending(context.Context, time.Time, int) ([]*transaction.Transaction, error) {
	return nil, nil
}

func (s *fakeStore) Reconcile(_ context.Context, _ provider.Type, providerRef, _ string, fn store.ApplyFunc) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[providerRef]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, err := fn(t); err != nil {
		return nil, err
	}
	return t, nil
}

type nopNotifier struct{}

func (nopNotifier) PaymentConfirmed(context.Context, string, string, int64, string) error { return nil }
func (nopNotifier) PaymentFailed(context.Context, string, string, string) error          { return nil }

// fakeAdapter parses a flat test payload {event_id, ref, status}.
type fakeAdapter struct{ typ provider.Type }

func (a fakeAdapter) Type() provider.Type { return a.typ }

func (a fakeAdapter) RequestPayment(context.Context, provider.PaymentRequest) (*provider.PaymentResult, error) {
	return nil, errors.New("not implemented")
}

func (a fakeAdapter) CheckStatus(context.Context, string) (*provider.StatusResult, error) {
	return nil, errors.New("not implemented")
}

func (a fakeAdapter) ParseWebhook(body []byte) (*provider.Callback, error) {
	var p struct {
		EventID string `json:"event_id"`
		Ref     string `json:"ref"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body, &p); err != nil || p.Ref == "" {
		return nil, errors.New("bad payload")
	}
	return &provider.Callback{EventID: p.EventID, ProviderRef: p.Ref, Status: provider.Status(p.Status)}, nil
}

func newHandler(st *fakeStore, guard WebhookGuard) http.HandlerFunc {
	rec := webhook.NewReconciler(cache.NewMemoryCache(), st, nopNotifier{})
	return ProviderWebhook(fakeAdapter{typ: provider.TypeMTN}, rec, guard)
}

func post(h http.HandlerFunc, body []byte, mod func(*http.Request)) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/mtn-momo", bytes.NewReader(body))
	if mod != nil {
		mod(r)
	}
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func TestWebhookProcessed(t *testing.T) {
	st := newFakeStore()
	txn := st.seed(t, provider.TypeMTN, "ref-1")
	h := newHandler(st, WebhookGuard{})

	body := []byte(`{"event_id":"evt-1","ref":"ref-1","status":"successful"}`)
	w := post(h, body, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var resp webhookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "success" || resp.TransactionID != txn.ID {
		t.Errorf("response = %+v", resp)
	}
	if txn.Status != provider.StatusSuccessful {
		t.Errorf("transaction status = %q", txn.Status)
	}
}

func TestWebhookReplayReturns200(t *testing.T) {
	st := newFakeStore()
	st.seed(t, provider.TypeMTN, "ref-1")
	h := newHandler(st, WebhookGuard{})

	body := []byte(`{"event_id":"evt-1","ref":"ref-1","status":"successful"}`)
	if w := post(h, body, nil); w.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d", w.Code)
	}
	w := post(h, body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("replay status = %d", w.Code)
	}
	var resp webhookResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Message != "already processed" {
		t.Errorf("replay message = %q", resp.Message)
	}
}

func TestWebhookSignature(t *testing.T) {
	st := newFakeStore()
	st.seed(t, provider.TypeMTN, "ref-1")
	h := newHandler(st, WebhookGuard{Secret: "s3cret"})

	body := []byte(`{"event_id":"evt-1","ref":"ref-1","status":"successful"}`)

	if w := post(h, body, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unsigned request status = %d, want 401", w.Code)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))
	w := post(h, body, func(r *http.Request) {
		r.Header.Set("X-Callback-Signature", sig)
	})
	if w.Code != http.StatusOK {
		t.Errorf("signed request status = %d, want 200", w.Code)
	}
}

func TestWebhookIPAllowlist(t *testing.T) {
	st := newFakeStore()
	st.seed(t, provider.TypeMTN, "ref-1")
	h := newHandler(st, WebhookGuard{AllowedIPs: []string{"196.46.185.10"}})

	body := []byte(`{"event_id":"evt-1","ref":"ref-1","status":"successful"}`)

	w := post(h, body, func(r *http.Request) {
		r.RemoteAddr = "203.0.113.7:5000"
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("unlisted ip status = %d, want 403", w.Code)
	}

	w = post(h, body, func(r *http.Request) {
		r.RemoteAddr = "196.46.185.10:5000"
	})
	if w.Code != http.StatusOK {
		t.Errorf("listed ip status = %d, want 200", w.Code)
	}
}

func TestWebhookBadPayload(t *testing.T) {
	h := newHandler(newFakeStore(), WebhookGuard{})
	if w := post(h, []byte(`not json`), nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestWebhookUnknownReference(t *testing.T) {
	h := newHandler(newFakeStore(), WebhookGuard{})
	body := []byte(`{"event_id":"evt-1","ref":"missing","status":"successful"}`)
	if w := post(h, body, nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
