// Package postgres implements the transaction store on pgx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/simonpeter880/uganda-electronic-platform/internal/domain/transaction"
	"github.com/simonpeter880/uganda-electronic-platform/internal/provider"
	"github.com/simonpeter880/uganda-electronic-platform/internal/store"
)

func MustOpen(ctx context.Context, dsn string) *pgxpool.Pool {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect fail")
	}
	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("db ping fail")
	}
	return pool
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const txnColumns = `id, provider, provider_ref, order_ref, msisdn, amount, currency,
	status, error_msg, raw_response, initiated_at, completed_at, updated_at`

func (s *Store) Create(ctx context.Context, t *transaction.Transaction) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO momo_transactions
			(provider, provider_ref, order_ref, msisdn, amount, currency, status, raw_response, initiated_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		string(t.Provider), t.ProviderRef, t.OrderRef, t.MSISDN, t.Amount, t.Currency,
		string(t.Status), nullRaw(t.RawResponse), t.InitiatedAt, t.UpdatedAt).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *Store) FindByProviderRef(ctx context.Context, p provider.Type, providerRef string) (*transaction.Transaction, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+txnColumns+`
		FROM momo_transactions
		WHERE provider = $1 AND provider_ref = $2`, string(p), providerRef)
	return scanTxn(row)
}

func (s *Store) FindByOrderRef(ctx context.Context, p provider.Type, orderRef string) (*transaction.Transaction, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+txnColumns+`
		FROM momo_transactions
		WHERE provider = $1 AND order_ref = $2
		ORDER BY initiated_at DESC
		LIMIT 1`, string(p), orderRef)
	return scanTxn(row)
}

func (s *Store) ListPending(ctx context.Context, since time.Time, limit int) ([]*transaction.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+txnColumns+`
		FROM momo_transactions
		WHERE status = 'pending' AND initiated_at >= $1
		ORDER BY initiated_at
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*transaction.Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *Store) Reconcile(ctx context.Context, p provider.Type, providerRef, orderRef string, fn store.ApplyFunc) (*transaction.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin reconcile tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t, err := lockTxn(ctx, tx, p, providerRef, orderRef)
	if err != nil {
		return nil, err
	}

	changed, err := fn(t)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE momo_transactions
		SET status = $1, error_msg = $2, raw_response = $3, completed_at = $4, updated_at = $5
		WHERE id = $6`,
		string(t.Status), nullStr(t.ErrorMsg), nullRaw(t.RawResponse), t.CompletedAt, t.UpdatedAt, t.ID)
	if err != nil {
		return nil, fmt.Errorf("update transaction %d: %w", t.ID, err)
	}

	if changed && t.Status == provider.StatusSuccessful && t.OrderRef != "" {
		_, err = tx.Exec(ctx, `
			UPDATE orders
			SET payment_verified = true, payment_verified_at = now()
			WHERE reference = $1`, t.OrderRef)
		if err != nil {
			return nil, fmt.Errorf("mark order %s verified: %w", t.OrderRef, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reconcile tx: %w", err)
	}
	return t, nil
}

// lockTxn selects the transaction FOR UPDATE so concurrent reconciles of
// the same payment serialize.
func lockTxn(ctx context.Context, tx pgx.Tx, p provider.Type, providerRef, orderRef string) (*transaction.Transaction, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+txnColumns+`
		FROM momo_transactions
		WHERE provider = $1 AND provider_ref = $2
		FOR UPDATE`, string(p), providerRef)
	t, err := scanTxn(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, store.ErrNotFound) || orderRef == "" {
		return nil, err
	}

	row = tx.QueryRow(ctx, `
		SELECT `+txnColumns+`
		FROM momo_transactions
		WHERE provider = $1 AND order_ref = $2
		ORDER BY initiated_at DESC
		LIMIT 1
		FOR UPDATE`, string(p), orderRef)
	return scanTxn(row)
}

func scanTxn(row pgx.Row) (*transaction.Transaction, error) {
	var t transaction.Transaction
	var prov, status string
	var orderRef, msisdn, errMsg sql.NullString
	var completedAt *time.Time

	err := row.Scan(&t.ID, &prov, &t.ProviderRef, &orderRef, &msisdn, &t.Amount, &t.Currency,
		&status, &errMsg, &t.RawResponse, &t.InitiatedAt, &completedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.Provider = provider.Type(prov)
	t.Status = provider.Status(status)
	t.OrderRef = orderRef.String
	t.MSISDN = msisdn.String
	t.ErrorMsg = errMsg.String
	t.CompletedAt = completedAt
	return &t, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullRaw maps an absent provider payload to NULL. MTN answers 202 with an
// empty body, and a non-nil empty slice is not valid input for the jsonb
// column.
func nullRaw(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
