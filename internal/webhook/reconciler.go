// Package webhook reconciles asynchronous provider callbacks against the
// transaction ledger. The pipeline is defensive: callbacks arrive late,
// duplicated and occasionally contradictory, and every effect here must
// be safe to replay.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/simonpeter880/uganda-electronic-platform/internal/cache"
	"github.com/simonpeter880/uganda-electronic-platform/internal/domain/transaction"
	"github.com/simonpeter880/uganda-electronic-platform/internal/notify"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider"
	"github.com/simonpeter880/uganda-electronic-platform/internal/store"
)

// Providers retry undelivered callbacks for about a day; the dedup
// window has to outlive that.
const dedupTTL = 24 * time.Hour

// Outcome reports what a callback did to the ledger.
type Outcome struct {
	Transaction *transaction.Transaction
	Duplicate   bool // callback was already fully processed
	Changed     bool // a status transition was committed
}

type Reconciler struct {
	cache    cache.Cache
	store    store.TransactionStore
	notifier notify.Notifier
}

func NewReconciler(c cache.Cache, s store.TransactionStore, n notify.Notifier) *Reconciler {
	return &Reconciler{cache: c, store: s, notifier: n}
}

// Process applies one parsed callback. The raw body is persisted verbatim
// on the transaction for audit. Unknown references surface
// store.ErrNotFound so the transport can answer 404 and the provider can
// retry after our initiation commit lands.
func (r *Reconciler) Process(ctx context.Context, p provider.Type, cb *provider.Callback, raw []byte) (*Outcome, error) {
	dedupKey := r.dedupKey(p, cb)

	if _, seen, err := r.cache.Get(ctx, dedupKey); err != nil {
		log.Warn().Err(err).Str("key", dedupKey).Msg("webhook dedup lookup failed, processing anyway")
	} else if seen {
		log.Info().Str("provider", string(p)).Str("event_id", cb.EventID).Msg("duplicate webhook ignored")
		return &Outcome{Duplicate: true}, nil
	}

	var changed bool
	txn, err := r.store.Reconcile(ctx, p, cb.ProviderRef, cb.OrderRef, func(t *transaction.Transaction) (bool, error) {
		c, applyErr := t.ApplyStatus(cb.Status, cb.Reason, raw)
		if errors.Is(applyErr, transaction.ErrTerminalConflict) {
			log.Warn().
				Str("provider", string(p)).
				Str("provider_ref", t.ProviderRef).
				Str("current", string(t.Status)).
				Str("reported", string(cb.Status)).
				Msg("conflicting terminal status from provider, keeping first")
			return false, nil
		}
		if applyErr != nil {
			return false, applyErr
		}
		changed = c
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		r.notifyOnce(ctx, txn)
	}

	// Mark processed only after the transition is durable; a crash before
	// this point means the provider's retry reprocesses harmlessly.
	if err := r.cache.Set(ctx, dedupKey, "1", dedupTTL); err != nil {
		log.Warn().Err(err).Str("key", dedupKey).Msg("failed to mark webhook processed")
	}

	return &Outcome{Transaction: txn, Changed: changed}, nil
}

// ApplyStatusReport applies a polled status check through the same
// transition and notification-dedup rules as a webhook. Poll results have
// no event identity, so there is no webhook dedup key to consult.
func (r *Reconciler) ApplyStatusReport(ctx context.Context, p provider.Type, providerRef string, res *provider.StatusResult) (*Outcome, error) {
	var changed bool
	txn, err := r.store.Reconcile(ctx, p, providerRef, "", func(t *transaction.Transaction) (bool, error) {
		c, applyErr := t.ApplyStatus(res.Status, "", res.Raw)
		if errors.Is(applyErr, transaction.ErrTerminalConflict) {
			return false, nil
		}
		if applyErr != nil {
			return false, applyErr
		}
		changed = c
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		r.notifyOnce(ctx, txn)
	}
	return &Outcome{Transaction: txn, Changed: changed}, nil
}

func (r *Reconciler) dedupKey(p provider.Type, cb *provider.Callback) string {
	id := cb.EventID
	if id == "" {
		id = cb.ProviderRef
	}
	return fmt.Sprintf("webhook:%s:%s", p, id)
}

// notifyOnce sends the customer SMS for a committed terminal transition,
// guarded by a SetNX key so webhook and poller can race without
// double-texting. Notification failure never fails the webhook.
func (r *Reconciler) notifyOnce(ctx context.Context, txn *transaction.Transaction) {
	if txn.MSISDN == "" {
		return
	}
	key := fmt.Sprintf("notify:%d:%s", txn.ID, txn.Status)
	won, err := r.cache.SetNX(ctx, key, "1", dedupTTL)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("notification dedup failed, skipping sms")
		return
	}
	if !won {
		return
	}

	switch txn.Status {
	case provider.StatusSuccessful:
		err = r.notifier.PaymentConfirmed(ctx, txn.MSISDN, txn.OrderRef, txn.Amount, txn.Currency)
	case provider.StatusFailed, provider.StatusCancelled:
		err = r.notifier.PaymentFailed(ctx, txn.MSISDN, txn.OrderRef, txn.ErrorMsg)
	default:
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("transaction_id", txn.ID).Msg("payment sms failed")
	}
}
