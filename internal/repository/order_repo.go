package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/storefront/settlement-reconciler/internal/domain"
)

// OrderRepo touches the externally owned orders table. Only reads and
// settlement stamps are issued here.
type OrderRepo struct {
	db *sqlx.DB
}

func NewOrderRepo(db *sqlx.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

// FindIDByOrderNumber resolves a merchant reference to an order id.
func (r *OrderRepo) FindIDByOrderNumber(ctx context.Context, orderNumber string) (int64, bool, error) {
	var id int64
	err := r.db.GetContext(ctx, &id, "SELECT id FROM orders WHERE order_number = ? LIMIT 1", orderNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *OrderRepo) Get(ctx context.Context, id int64) (*domain.Order, error) {
	var o domain.Order
	var status string
	var psp, settledAt sql.NullString
	var batch sql.NullInt64

	err := r.db.QueryRowxContext(ctx,
		`SELECT id, order_number, currency, amount_minor, status, psp_ref, settled_at, settlement_batch
		FROM orders WHERE id = ?`, id,
	).Scan(&o.ID, &o.OrderNumber, &o.Currency, &o.AmountMinor, &status, &psp, &settledAt, &batch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	o.PSPReference = psp.String
	o.SettledAt = parseNullableTime(settledAt)
	if batch.Valid {
		b := int(batch.Int64)
		o.SettlementBatch = &b
	}
	return &o, nil
}

// ProcessingFee reads the attributed fee stamped on an order. The order side
// keeps it as a plain decimal, not in the ten-thousandths used by settlements.
func (r *OrderRepo) ProcessingFee(ctx context.Context, id int64) (*domain.Amount, error) {
	var raw sql.NullString
	err := r.db.GetContext(ctx, &raw, "SELECT CAST(processing_fee AS TEXT) FROM orders WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil || !raw.Valid {
		return nil, err
	}
	d, err := decimal.NewFromString(raw.String)
	if err != nil {
		return nil, fmt.Errorf("order %d processing fee %q: %w", id, raw.String, err)
	}
	fee := domain.AmountOf(d)
	return &fee, nil
}

// SetProcessingFee stamps the attributed fee as a decimal. Fails when the
// column is absent.
func (r *OrderRepo) SetProcessingFee(ctx context.Context, id int64, fee domain.Amount) error {
	_, err := r.db.ExecContext(ctx, "UPDATE orders SET processing_fee = ? WHERE id = ?", fee.Decimal.String(), id)
	if err != nil {
		return fmt.Errorf("set processing fee on order %d: %w", id, err)
	}
	return nil
}

// MarkSettled moves an order to SETTLED with settlement metadata. Orders that
// are already settled and stamped are left alone; the result reports whether a
// row changed.
func (r *OrderRepo) MarkSettled(ctx context.Context, id int64, batch int, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, settled_at = ?, settlement_batch = ?
		WHERE id = ? AND (status <> ? OR settled_at IS NULL OR settlement_batch IS NULL)`,
		string(domain.OrderSettled), formatTime(at), batch, id, string(domain.OrderSettled))
	if err != nil {
		return false, fmt.Errorf("mark order %d settled: %w", id, err)
	}
	return changed(res)
}

// SetStatus updates only the status column, reporting whether it changed.
func (r *OrderRepo) SetStatus(ctx context.Context, id int64, status domain.OrderStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, "UPDATE orders SET status = ? WHERE id = ? AND status <> ?",
		string(status), id, string(status))
	if err != nil {
		return false, fmt.Errorf("set order %d status: %w", id, err)
	}
	return changed(res)
}

func changed(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *OrderRepo) Insert(ctx context.Context, o *domain.Order) error {
	if o.Status == "" {
		o.Status = domain.OrderPending
	}
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO orders (order_number, currency, amount_minor, status, psp_ref, created_at)
		VALUES (?,?,?,?,?,?)
		RETURNING id`,
		o.OrderNumber, o.Currency, o.AmountMinor, string(o.Status),
		nullableString(o.PSPReference), formatTime(time.Now()),
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.OrderNumber, err)
	}
	return nil
}

func (r *OrderRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM orders")
	return n, err
}
