// Package poller sweeps pending transactions whose webhooks never
// arrived and reconciles them from provider status queries.
package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/simonpeter880/uganda-electronic-platform/internal/domain/transaction"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider"
	"github.com/simonpeter880/uganda-electronic-platform/internal/store"
	"github.com/simonpeter880/uganda-electronic-platform/internal/webhook"
)

type Poller struct {
	store      store.TransactionStore
	reconciler *webhook.Reconciler
	adapters   map[provider.Type]provider.Adapter

	pollEvery   time.Duration
	lookback    time.Duration
	batch       int
	concurrency int
}

func New(s store.TransactionStore, r *webhook.Reconciler, adapters ...provider.Adapter) *Poller {
	m := make(map[provider.Type]provider.Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Type()] = a
	}
	return &Poller{
		store:       s,
		reconciler:  r,
		adapters:    m,
		pollEvery:   5 * time.Minute,
		lookback:    24 * time.Hour,
		batch:       100,
		concurrency: 4,
	}
}

func (p *Poller) Run(ctx context.Context) {
	log.Info().Dur("interval", p.pollEvery).Msg("status poller: started")
	t := time.NewTicker(p.pollEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("status poller: stopping")
			return
		case <-t.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	since := time.Now().Add(-p.lookback)
	pending, err := p.store.ListPending(ctx, since, p.batch)
	if err != nil {
		log.Error().Err(err).Msg("poller: list pending failed")
		return
	}
	if len(pending) == 0 {
		return
	}
	log.Debug().Int("count", len(pending)).Msg("poller: checking pending transactions")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, txn := range pending {
		txn := txn
		g.Go(func() error {
			// Per-transaction failures never abort the batch.
			if err := p.checkOne(ctx, txn); err != nil {
				log.Warn().Err(err).
					Str("provider", string(txn.Provider)).
					Str("provider_ref", txn.ProviderRef).
					Msg("poller: status check failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Poller) checkOne(ctx context.Context, txn *transaction.Transaction) error {
	adapter, ok := p.adapters[txn.Provider]
	if !ok {
		return &provider.UnsupportedProviderError{Name: string(txn.Provider)}
	}
	res, err := adapter.CheckStatus(ctx, txn.ProviderRef)
	if err != nil {
		return err
	}
	if res.Status == provider.StatusPending {
		return nil
	}

	out, err := p.reconciler.ApplyStatusReport(ctx, txn.Provider, txn.ProviderRef, res)
	if err != nil {
		return err
	}
	if out.Changed {
		log.Info().
			Str("provider", string(txn.Provider)).
			Str("provider_ref", txn.ProviderRef).
			Str("status", string(out.Transaction.Status)).
			Msg("poller: transaction reconciled")
	}
	return nil
}
