// Package store defines the transaction persistence contract consumed by
// the orchestrator, the webhook reconciler and the status poller.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/simonpeter880/uganda-electronic-platform/internal/domain/transaction"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider"
)

// ErrNotFound is the explicit not-found branch; callers switch on it
// instead of catching driver errors.
var ErrNotFound = errors.New("transaction not found")

// ApplyFunc mutates a locked transaction. It returns whether a status
// transition happened; the store persists the row either way and, when a
// transition to successful happened, flags the parent order as
// payment-verified in the same database transaction.
type ApplyFunc func(*transaction.Transaction) (changed bool, err error)

type TransactionStore interface {
	Create(ctx context.Context, txn *transaction.Transaction) error
	FindByProviderRef(ctx context.Context, p provider.Type, providerRef string) (*transaction.Transaction, error)
	FindByOrderRef(ctx context.Context, p provider.Type, orderRef string) (*transaction.Transaction, error)
	// ListPending returns pending transactions initiated at or after since,
	// oldest first.
	ListPending(ctx context.Context, since time.Time, limit int) ([]*transaction.Transaction, error)

	// Reconcile locates the transaction by provider reference, falling back
	// to order reference, locks its row, applies fn and commits the result
	// atomically. Concurrent calls for the same transaction serialize on
	// the row lock, so exactly one caller observes the pending state.
	Reconcile(ctx context.Context, p provider.Type, providerRef, orderRef string, fn ApplyFunc) (*transaction.Transaction, error)
}
