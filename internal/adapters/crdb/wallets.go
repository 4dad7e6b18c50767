package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/showtime-reservations/internal/domain"
)

// Wallets applies balance changes as guarded increments. A non-empty
// reference makes the change idempotent through the unique index on
// wallet_transactions.reference.
type Wallets struct {
	*Repository
}

func NewWallets(repo *Repository) *Wallets {
	return &Wallets{Repository: repo}
}

func (w *Wallets) CheckBalance(ctx context.Context, userID string, amount float64) (bool, error) {
	var ok bool
	err := w.pool.QueryRow(ctx, `SELECT balance >= $2 FROM wallets WHERE user_id = $1`, userID, amount).Scan(&ok)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, domain.StorageErr(err, "check balance")
	}
	return ok, nil
}

func (w *Wallets) Debit(ctx context.Context, userID string, amount float64, memo, reference string) error {
	return w.RetryTx(ctx, func(tx pgx.Tx) error {
		applied, err := recordTransaction(ctx, tx, userID, -amount, memo, reference)
		if err != nil || !applied {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE wallets SET balance = balance - $2, updated_at = now()
			WHERE user_id = $1 AND balance >= $2
		`, userID, amount)
		if err != nil {
			return domain.StorageErr(err, "debit wallet")
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrInsufficientBalance
		}
		return nil
	})
}

func (w *Wallets) Credit(ctx context.Context, userID string, amount float64, memo, reference string) error {
	return w.RetryTx(ctx, func(tx pgx.Tx) error {
		applied, err := recordTransaction(ctx, tx, userID, amount, memo, reference)
		if err != nil || !applied {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET balance = wallets.balance + excluded.balance, updated_at = now()
		`, userID, amount)
		if err != nil {
			return domain.StorageErr(err, "credit wallet")
		}
		return nil
	})
}

// recordTransaction reports false when reference was already applied.
func recordTransaction(ctx context.Context, tx pgx.Tx, userID string, amount float64, memo, reference string) (bool, error) {
	var ref *string
	if reference != "" {
		ref = &reference
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions (id, user_id, amount, memo, reference)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reference) DO NOTHING
	`, uuid.New(), userID, amount, memo, ref)
	if err != nil {
		return false, domain.StorageErr(err, "record wallet transaction")
	}
	return tag.RowsAffected() == 1, nil
}
