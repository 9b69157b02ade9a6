// Package transaction holds the payment-attempt record and its status
// transition rules.
package transaction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/simonpeter880/uganda-electronic-platform/internal/provider"
)

// ErrTerminalConflict reports an attempt to move a transaction from one
// terminal status to a different one. The first terminal status observed
// wins; conflicting updates are refused, not applied.
var ErrTerminalConflict = errors.New("transaction already in a terminal status")

// Transaction is one mobile-money payment attempt. Created pending by the
// orchestrator, finalized by the webhook reconciler (authoritative) or the
// status poller (best-effort). Never deleted by this core.
type Transaction struct {
	ID          int64
	Provider    provider.Type
	ProviderRef string // unique per provider once assigned
	OrderRef    string
	MSISDN      string // canonical 256XXXXXXXXX
	Amount      int64
	Currency    string
	Status      provider.Status
	ErrorMsg    string
	RawResponse []byte // last provider payload, stored verbatim for audit
	InitiatedAt time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

func New(p provider.Type, providerRef, orderRef, msisdn string, amount int64, currency string, raw []byte) (*Transaction, error) {
	if strings.TrimSpace(providerRef) == "" {
		return nil, fmt.Errorf("provider reference is required")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %d", amount)
	}
	now := time.Now()
	return &Transaction{
		Provider:    p,
		ProviderRef: providerRef,
		OrderRef:    orderRef,
		MSISDN:      msisdn,
		Amount:      amount,
		Currency:    currency,
		Status:      provider.StatusPending,
		RawResponse: raw,
		InitiatedAt: now,
		UpdatedAt:   now,
	}, nil
}

// IsTerminal reports whether no further status transition is accepted.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case provider.StatusSuccessful, provider.StatusFailed, provider.StatusCancelled:
		return true
	}
	return false
}

// ApplyStatus applies a provider-reported status. returns whether the
// record changed. Pending reports against a pending transaction refresh
// the raw payload only; terminal statuses transition at most once.
func (t *Transaction) ApplyStatus(status provider.Status, reason string, raw []byte) (bool, error) {
	if t.IsTerminal() {
		if status == t.Status {
			return false, nil // duplicate report of the same outcome
		}
		switch status {
		case provider.StatusSuccessful, provider.StatusFailed, provider.StatusCancelled:
			return false, ErrTerminalConflict
		}
		return false, nil
	}

	if raw != nil {
		t.RawResponse = raw
	}
	t.UpdatedAt = time.Now()

	switch status {
	case provider.StatusPending:
		return false, nil
	case provider.StatusSuccessful:
		t.Status = status
		now := time.Now()
		t.CompletedAt = &now
		return true, nil
	case provider.StatusFailed, provider.StatusCancelled:
		t.Status = status
		if reason == "" {
			reason = "Payment failed"
		}
		t.ErrorMsg = reason
		return true, nil
	default:
		return false, fmt.Errorf("unknown status %q", status)
	}
}
