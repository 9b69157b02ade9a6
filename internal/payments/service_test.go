package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/simonpeter880/uganda-electronic-platform/internal/config"
	"github.com/simonpeter880/uganda-electronic-platform/internal/domain/transaction"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider"
	"github.com/simonpeter880/uganda-electronic-platform/internal/store"
)

type fakeAdapter struct {
	typ       provider.Type
	lastReq   provider.PaymentRequest
	payErr    error
	status    provider.Status
	statusErr error
}

func (f *fakeAdapter) Type() provider.Type { return f.typ }

func (f *fakeAdapter) RequestPayment(_ context.Context, req provider.PaymentRequest) (*provider.PaymentResult, error) {
	f.lastReq = req
	if f.payErr != nil {
		return nil, f.payErr
	}
	return &provider.PaymentResult{ProviderRef: "ref-1", Raw: []byte(`{"accepted":true}`)}, nil
}

func (f *fakeAdapter) CheckStatus(context.Context, string) (*provider.StatusResult, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &provider.StatusResult{Status: f.status}, nil
}

func (f *fakeAdapter) ParseWebhook([]byte) (*provider.Callback, error) {
	return nil, errors.New("not implemented")
}

type fakeStore struct {
	created []*transaction.Transaction
}

func (f *fakeStore) Create(_ context.Context, t *transaction.Transaction) error {
	f.created = append(f.created, t)
	return nil
}

func (f *fakeStore) FindByProviderRef(_ context.Context, p provider.Type, ref string) (*transaction.Transaction, error) {
	for _, t := range f.created {
		if t.Provider == p && t.ProviderRef == ref {
			return t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) FindByOrderRef(_ context.Context, p provider.Type, ref string) (*transaction.Transaction, error) {
	for _, t := range f.created {
		if t.Provider == p && t.OrderRef == ref {
			return t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListPending(context.Context, time.Time, int) ([]*transaction.Transaction, error) {
	return nil, nil
}

func (f *fakeStore) Reconcile(ctx context.Context, p provider.Type, providerRef, orderRef string, fn store.ApplyFunc) (*transaction.Transaction, error) {
	t, err := f.FindByProviderRef(ctx, p, providerRef)
	if errors.Is(err, store.ErrNotFound) && orderRef != "" {
		t, err = f.FindByOrderRef(ctx, p, orderRef)
	}
	if err != nil {
		return nil, err
	}
	if _, err := fn(t); err != nil {
		return nil, err
	}
	return t, nil
}

func newTestService(st store.TransactionStore, adapters ...provider.Adapter) *Service {
	cfg := config.PaymentCfg{Currency: "UGX", MinAmount: 100}
	return NewService(cfg, st, adapters...)
}

func TestValidateAmount(t *testing.T) {
	svc := newTestService(&fakeStore{})

	for _, amount := range []int64{-1, 0, 99} {
		if err := svc.ValidateAmount(amount); err == nil {
			t.Errorf("ValidateAmount(%d): expected error", amount)
		}
	}
	for _, amount := range []int64{100, 101, 500000} {
		if err := svc.ValidateAmount(amount); err != nil {
			t.Errorf("ValidateAmount(%d): %v", amount, err)
		}
	}
}

func TestInitiateRecordsPendingTransaction(t *testing.T) {
	st := &fakeStore{}
	ad := &fakeAdapter{typ: provider.TypeMTN}
	svc := newTestService(st, ad)

	res, err := svc.Initiate(context.Background(), provider.TypeMTN, "0700123456", 1500, "ORD-9", "School fees")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if res.ProviderRef != "ref-1" {
		t.Errorf("provider ref = %q", res.ProviderRef)
	}
	if ad.lastReq.Phone != "256700123456" {
		t.Errorf("adapter got phone %q, want canonical msisdn", ad.lastReq.Phone)
	}
	if len(st.created) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(st.created))
	}
	txn := st.created[0]
	if txn.Status != provider.StatusPending {
		t.Errorf("status = %q, want pending", txn.Status)
	}
	if txn.Amount != 1500 || txn.Currency != "UGX" || txn.OrderRef != "ORD-9" {
		t.Errorf("unexpected transaction fields: %+v", txn)
	}
}

func TestInitiateAdapterFailureLeavesNoRow(t *testing.T) {
	st := &fakeStore{}
	ad := &fakeAdapter{typ: provider.TypeMTN, payErr: &provider.ProviderError{Provider: provider.TypeMTN, Op: "request_payment", StatusCode: 500}}
	svc := newTestService(st, ad)

	_, err := svc.Initiate(context.Background(), provider.TypeMTN, "0700123456", 1500, "ORD-9", "")
	var pe *provider.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if len(st.created) != 0 {
		t.Errorf("expected no transactions, got %d", len(st.created))
	}
}

func TestInitiateUnsupportedProvider(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeAdapter{typ: provider.TypeMTN})

	_, err := svc.Initiate(context.Background(), provider.TypeAirtel, "0700123456", 1500, "ORD-9", "")
	var ue *provider.UnsupportedProviderError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsupportedProviderError, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	st := &fakeStore{}
	ad := &fakeAdapter{typ: provider.TypeAirtel, status: provider.StatusSuccessful}
	svc := newTestService(st, ad)

	if _, err := svc.Initiate(context.Background(), provider.TypeAirtel, "0700123456", 2000, "ORD-1", ""); err != nil {
		t.Fatal(err)
	}

	ok, err := svc.Verify(context.Background(), provider.TypeAirtel, "ORD-1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("Verify = false, want true")
	}

	ad.status = provider.StatusPending
	ok, err = svc.Verify(context.Background(), provider.TypeAirtel, "ref-1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("Verify = true for pending payment")
	}
}
