// Package payments orchestrates mobile-money collection across the
// configured providers: it validates input, dispatches to the right
// adapter and records the resulting transaction.
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/simonpeter880/uganda-electronic-platform/internal/config"
	"github.com/simonpeter880/uganda-electronic-platform/internal/domain/transaction"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider"
	"github.com/simonpeter880/uganda-electronic-platform/internal/store"
)

// InitiateResult is what the caller needs to track the payment after the
// provider accepted the request.
type InitiateResult struct {
	ProviderRef string
	Transaction *transaction.Transaction
}

type Service struct {
	cfg      config.PaymentCfg
	adapters map[provider.Type]provider.Adapter
	store    store.TransactionStore
}

func NewService(cfg config.PaymentCfg, store store.TransactionStore, adapters ...provider.Adapter) *Service {
	m := make(map[provider.Type]provider.Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Type()] = a
	}
	return &Service{cfg: cfg, adapters: m, store: store}
}

// ValidateAmount enforces the configured collection minimum. The minimum
// itself is accepted.
func (s *Service) ValidateAmount(amount int64) error {
	if amount <= 0 {
		return &ValidationError{Field: "amount", Message: "amount must be positive"}
	}
	if amount < s.cfg.MinAmount {
		return &ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("amount below minimum of %d %s", s.cfg.MinAmount, s.cfg.Currency),
		}
	}
	return nil
}

func (s *Service) adapter(p provider.Type) (provider.Adapter, error) {
	a, ok := s.adapters[p]
	if !ok {
		return nil, &provider.UnsupportedProviderError{Name: string(p)}
	}
	return a, nil
}

// Initiate validates the request, asks the provider to collect the amount
// from the subscriber and records a pending transaction. An adapter
// failure is returned as-is and leaves no transaction row behind.
func (s *Service) Initiate(ctx context.Context, p provider.Type, phone string, amount int64, orderRef, message string) (*InitiateResult, error) {
	msisdn, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	if err := s.ValidateAmount(amount); err != nil {
		return nil, err
	}
	adapter, err := s.adapter(p)
	if err != nil {
		return nil, err
	}

	res, err := adapter.RequestPayment(ctx, provider.PaymentRequest{
		Amount:    amount,
		Currency:  s.cfg.Currency,
		Phone:     msisdn,
		Reference: orderRef,
		Message:   message,
	})
	if err != nil {
		return nil, err
	}

	txn, err := transaction.New(p, res.ProviderRef, orderRef, msisdn, amount, s.cfg.Currency, res.Raw)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}

	log.Info().
		Str("provider", string(p)).
		Str("provider_ref", res.ProviderRef).
		Str("order_ref", orderRef).
		Int64("amount", amount).
		Msg("payment initiated")

	return &InitiateResult{ProviderRef: res.ProviderRef, Transaction: txn}, nil
}

// CheckStatus asks the provider for the current state of a payment. The
// reference may be the provider reference or our order reference.
func (s *Service) CheckStatus(ctx context.Context, p provider.Type, ref string) (provider.Status, error) {
	adapter, err := s.adapter(p)
	if err != nil {
		return "", err
	}
	txn, err := s.lookup(ctx, p, ref)
	if err != nil {
		return "", err
	}
	res, err := adapter.CheckStatus(ctx, txn.ProviderRef)
	if err != nil {
		return "", err
	}
	return res.Status, nil
}

// Verify reports whether the payment has completed successfully.
func (s *Service) Verify(ctx context.Context, p provider.Type, ref string) (bool, error) {
	status, err := s.CheckStatus(ctx, p, ref)
	if err != nil {
		return false, err
	}
	return status == provider.StatusSuccessful, nil
}

func (s *Service) lookup(ctx context.Context, p provider.Type, ref string) (*transaction.Transaction, error) {
	txn, err := s.store.FindByProviderRef(ctx, p, ref)
	if errors.Is(err, store.ErrNotFound) {
		return s.store.FindByOrderRef(ctx, p, ref)
	}
	return txn, err
}
