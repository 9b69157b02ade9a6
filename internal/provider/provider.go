// Package provider defines the narrow contract every mobile-money adapter
// implements, plus the shared token cache and error taxonomy.
package provider

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Type identifies a supported payment provider. The set is closed: dispatch
// over it is exhaustive and adding a provider is a compile-time change.
type Type string

const (
	TypeMTN    Type = "mtn_momo"
	TypeAirtel Type = "airtel_money"
)

// ParseType resolves an external provider name. Unknown names fail with
// UnsupportedProviderError, never a silent default.
func ParseType(name string) (Type, error) {
	switch Type(name) {
	case TypeMTN, TypeAirtel:
		return Type(name), nil
	default:
		return "", &UnsupportedProviderError{Name: name}
	}
}

// Status is the internal three-state view of a provider status, plus the
// cancelled terminal state set by the merchant side.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// PaymentRequest is a provider-agnostic collection request. Phone is always
// the canonical 256XXXXXXXXX form; adapters never receive unnormalized input.
type PaymentRequest struct {
	Amount    int64
	Currency  string
	Phone     string
	Reference string // merchant order reference (externalId)
	Message   string
}

// PaymentResult is the acceptance of an asynchronous collection request.
// Acceptance is not completion; the final status arrives via webhook or poll.
type PaymentResult struct {
	ProviderRef string
	Raw         []byte
}

type StatusResult struct {
	Status Status
	Raw    []byte
}

// Callback is a parsed inbound webhook, normalized across providers.
type Callback struct {
	EventID     string // provider-assigned identity, dedup key component
	ProviderRef string
	OrderRef    string // fallback lookup when the provider echoes our reference
	Status      Status
	Reason      string
}

// Adapter is the per-provider integration surface.
type Adapter interface {
	Type() Type
	RequestPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
	CheckStatus(ctx context.Context, providerRef string) (*StatusResult, error)
	ParseWebhook(body []byte) (*Callback, error)
}

// NewIdempotencyKey generates a fresh provider-prefixed idempotency key.
// One key is minted per logical payment call, before the retrying transport
// dispatches it, so network-level retries reuse the same key.
func NewIdempotencyKey(prefix string) string {
	u := uuid.New()
	return fmt.Sprintf("%s_%x", prefix, u[:])
}
