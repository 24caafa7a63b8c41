package repository

import (
	"context"
	"math"

	"github.com/jmoiron/sqlx"

	"github.com/storefront/settlement-reconciler/internal/domain"
)

// ReconciliationRepo serves the read models that compare settlement lines
// with orders and the ledger.
type ReconciliationRepo struct {
	db *sqlx.DB
}

func NewReconciliationRepo(db *sqlx.DB) *ReconciliationRepo {
	return &ReconciliationRepo{db: db}
}

// RangeFilter selects detail lines by creation date (YYYY-MM-DD, inclusive)
// and currency.
type RangeFilter struct {
	From     string
	To       string
	Currency string
	Limit    int
}

func (f RangeFilter) bounds() (string, string) {
	return f.From + "T00:00:00Z", f.To + "T23:59:59Z"
}

const settledLine = "LOWER(sd.type) = 'settled'"

const matchedLine = `(EXISTS (SELECT 1 FROM orders o WHERE o.order_number = sd.merchant_reference)
	OR EXISTS (SELECT 1 FROM transactions t WHERE t.psp_ref = sd.psp_reference))`

// Summary returns movement, fee and match-rate totals for the range.
func (r *ReconciliationRepo) Summary(ctx context.Context, f RangeFilter) (*domain.ReconciliationSummary, error) {
	from, to := f.bounds()
	s := &domain.ReconciliationSummary{Currency: f.Currency, From: f.From, To: f.To}

	err := r.db.GetContext(ctx, s, `
		SELECT
			COALESCE(SUM(sd.gross_credit - sd.gross_debit), 0) AS gross_movement,
			COALESCE(SUM(sd.commission), 0) AS fee_commission,
			COALESCE(SUM(sd.processing_fee), 0) AS fee_processing,
			COALESCE(SUM(sd.markup), 0) AS fee_markup,
			COALESCE(SUM(sd.scheme_fees), 0) AS fee_scheme,
			COALESCE(SUM(sd.interchange), 0) AS fee_interchange,
			COALESCE(SUM(sd.net_credit - sd.net_debit), 0) AS net_inflow,
			COALESCE(SUM(CASE WHEN `+settledLine+` THEN 1 ELSE 0 END), 0) AS settled_lines,
			COALESCE(SUM(CASE WHEN `+settledLine+` AND `+matchedLine+` THEN 1 ELSE 0 END), 0) AS matched_lines
		FROM settlement_details sd
		WHERE sd.creation_date BETWEEN ? AND ?
		  AND (sd.net_currency = ? OR sd.gross_currency = ?)`,
		from, to, f.Currency, f.Currency)
	if err != nil {
		return nil, err
	}

	s.MatchRatePct = 100
	if s.SettledLines > 0 {
		s.MatchRatePct = math.Round(1000*float64(s.MatchedLines)/float64(s.SettledLines)) / 10
	}
	return s, nil
}

// Unmatched lists settled lines with no order by merchant reference and no
// ledger row by psp reference, newest first.
func (r *ReconciliationRepo) Unmatched(ctx context.Context, f RangeFilter) ([]domain.UnmatchedLine, error) {
	from, to := f.bounds()
	out := []domain.UnmatchedLine{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT
			COALESCE(sd.creation_date, '') AS creation_date,
			sd.psp_reference,
			COALESCE(sd.merchant_reference, '') AS merchant_reference,
			COALESCE(sd.payment_method, '') AS payment_method,
			COALESCE(sd.payment_method_variant, '') AS payment_method_variant,
			sd.net_credit - sd.net_debit AS net_movement,
			COALESCE(sd.net_currency, '') AS net_currency,
			sd.batch_number
		FROM settlement_details sd
		WHERE sd.creation_date BETWEEN ? AND ?
		  AND (sd.net_currency = ? OR sd.gross_currency = ?)
		  AND `+settledLine+`
		  AND NOT `+matchedLine+`
		ORDER BY sd.creation_date DESC
		LIMIT ?`,
		from, to, f.Currency, f.Currency, clampLimit(f.Limit, 50, 500))
	return out, err
}

// UnsettledOrders lists orders without a successful SETTLED ledger row.
func (r *ReconciliationRepo) UnsettledOrders(ctx context.Context, limit int) ([]domain.UnsettledOrder, error) {
	out := []domain.UnsettledOrder{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT o.id, o.order_number, o.status, o.psp_ref, o.settled_at, o.settlement_batch
		FROM orders o
		WHERE NOT EXISTS (
			SELECT 1 FROM transactions t
			WHERE t.order_id = o.id AND t.type = ? AND t.status = ?)
		ORDER BY o.id DESC
		LIMIT ?`,
		domain.TxnTypeSettled, domain.TxnStatusSuccess, clampLimit(limit, 50, 500))
	return out, err
}
