package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/storefront/settlement-reconciler/internal/domain"
)

// TransactionRepo reads and appends to the order ledger.
type TransactionRepo struct {
	db *sqlx.DB
}

func NewTransactionRepo(db *sqlx.DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

func (r *TransactionRepo) Insert(ctx context.Context, t *domain.Transaction) error {
	return insertTransaction(ctx, r.db, t)
}

// InsertSettledOnce appends a SETTLED ledger row unless one already exists for
// the same order and psp reference. It reports whether a row was written.
func (r *TransactionRepo) InsertSettledOnce(ctx context.Context, t *domain.Transaction) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowxContext(ctx,
		`SELECT id FROM transactions
		WHERE order_id = ? AND type = ? AND psp_ref = ?
		LIMIT 1`,
		t.OrderID, domain.TxnTypeSettled, t.PSPReference,
	).Scan(&existing)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("check existing settlement: %w", err)
	}

	t.Type = domain.TxnTypeSettled
	if err := insertTransaction(ctx, tx, t); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// FindOrderIDByPSPReference returns the order of the most recent ledger row
// carrying the reference.
func (r *TransactionRepo) FindOrderIDByPSPReference(ctx context.Context, pspRef string) (int64, bool, error) {
	var id int64
	err := r.db.GetContext(ctx, &id,
		"SELECT order_id FROM transactions WHERE psp_ref = ? ORDER BY id DESC LIMIT 1", pspRef)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *TransactionRepo) ListByOrder(ctx context.Context, orderID int64) ([]domain.Transaction, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, order_id, type, status, amount_minor, currency, psp_ref, raw_method, created_at
		FROM transactions WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var psp, method sql.NullString
		var createdAt string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Type, &t.Status, &t.AmountMinor,
			&t.Currency, &psp, &method, &createdAt); err != nil {
			return nil, err
		}
		t.PSPReference = psp.String
		t.RawMethod = method.String
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountSettled counts SETTLED ledger rows for an order.
func (r *TransactionRepo) CountSettled(ctx context.Context, orderID int64) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM transactions WHERE order_id = ? AND type = ?", orderID, domain.TxnTypeSettled)
	return n, err
}

func insertTransaction(ctx context.Context, q sqlx.QueryerContext, t *domain.Transaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	err := q.QueryRowxContext(ctx,
		`INSERT INTO transactions
		(order_id, type, status, amount_minor, currency, psp_ref, raw_method, created_at)
		VALUES (?,?,?,?,?,?,?,?)
		RETURNING id`,
		t.OrderID, t.Type, t.Status, t.AmountMinor, t.Currency,
		nullableString(t.PSPReference), nullableString(t.RawMethod), formatTime(t.CreatedAt),
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}
