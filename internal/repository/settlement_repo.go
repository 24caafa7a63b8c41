package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/storefront/settlement-reconciler/internal/domain"
)

// SettlementRepo maintains settlement parents and their detail lines.
type SettlementRepo struct {
	db *sqlx.DB
}

func NewSettlementRepo(db *sqlx.DB) *SettlementRepo {
	return &SettlementRepo{db: db}
}

// IngestOutcome describes the effect of ingesting one detail line.
type IngestOutcome struct {
	SettlementID int64
	DetailID     int64
	Created      bool
	// PriorSettlementID is the parent the line belonged to before, if any.
	PriorSettlementID int64
}

// IngestDetail applies a line to its parent and upserts the detail in one
// transaction. If the detail key was seen before, its previous contribution
// is first removed from the parent it was attributed to, so re-ingesting a
// report converges instead of double counting.
func (r *SettlementRepo) IngestDetail(ctx context.Context, key domain.ParentKey, delta domain.ParentDelta, d *domain.SettlementDetail) (*IngestOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	prior, err := getDetailByKey(ctx, tx, d.Key())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup detail: %w", err)
	}

	delta.ProcessingFee = domain.Amount{}
	parentID, err := upsertParent(ctx, tx, key, delta)
	if err != nil {
		return nil, err
	}

	out := &IngestOutcome{SettlementID: parentID, Created: prior == nil}
	if prior != nil && prior.SettlementID != 0 {
		back := prior.Totals.Neg()
		back.ProcessingFee = domain.Amount{}
		if err := addTotals(ctx, tx, prior.SettlementID, back); err != nil {
			return nil, fmt.Errorf("reverse prior contribution: %w", err)
		}
		out.PriorSettlementID = prior.SettlementID
	}

	d.SettlementID = parentID
	if out.DetailID, err = upsertDetail(ctx, tx, d); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	d.ID = out.DetailID
	return out, nil
}

// UpsertParent adds delta to the parent identified by key, creating it when
// absent, and returns its id. Currencies are only set while still null.
func (r *SettlementRepo) UpsertParent(ctx context.Context, key domain.ParentKey, delta domain.ParentDelta) (int64, error) {
	return upsertParent(ctx, r.db, key, delta)
}

// UpsertDetail inserts the line or replaces every mutable field of the line
// with the same natural key. It never accumulates.
func (r *SettlementRepo) UpsertDetail(ctx context.Context, d *domain.SettlementDetail) (int64, error) {
	id, err := upsertDetail(ctx, r.db, d)
	if err == nil {
		d.ID = id
	}
	return id, err
}

// RecomputeProcessingFees sets each parent's processing fee to the sum of its
// details' fees.
func (r *SettlementRepo) RecomputeProcessingFees(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(
		`UPDATE settlements SET
			processing_fee = (SELECT COALESCE(SUM(d.processing_fee), 0)
				FROM settlement_details d WHERE d.settlement_id = settlements.id),
			updated_at = ?
		WHERE id IN (?)`,
		formatTime(time.Now()), ids,
	)
	if err != nil {
		return fmt.Errorf("expand ids: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(q), args...); err != nil {
		return fmt.Errorf("recompute processing fees: %w", err)
	}
	return nil
}

// SetReportDate stamps the report date on a parent when it has none.
func (r *SettlementRepo) SetReportDate(ctx context.Context, id int64, date time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE settlements SET report_date = COALESCE(report_date, ?) WHERE id = ?",
		formatTime(date), id)
	return err
}

const parentColumns = `id, batch_number, report_filename, report_psp_reference, report_date,
	gross_currency, net_currency, gross_debit, gross_credit, net_debit, net_credit,
	commission, processing_fee, markup, scheme_fees, interchange`

func (r *SettlementRepo) GetParent(ctx context.Context, id int64) (*domain.Settlement, error) {
	s, err := scanParent(r.db.QueryRowxContext(ctx, "SELECT "+parentColumns+" FROM settlements WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (r *SettlementRepo) GetParentByKey(ctx context.Context, key domain.ParentKey) (*domain.Settlement, error) {
	s, err := scanParent(r.db.QueryRowxContext(ctx,
		"SELECT "+parentColumns+" FROM settlements WHERE batch_number = ? AND report_filename = ?",
		key.BatchNumber, key.ReportFilename))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (r *SettlementRepo) GetDetailByKey(ctx context.Context, key domain.DetailKey) (*domain.SettlementDetail, error) {
	d, err := getDetailByKey(ctx, r.db, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (r *SettlementRepo) CountDetails(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM settlement_details")
	return n, err
}

// SettlementSummary is a parent with counts over its details.
type SettlementSummary struct {
	domain.Settlement
	RowsTotal          int           `json:"rows_total" db:"rows_total"`
	RowsSettled        int           `json:"rows_settled" db:"rows_settled"`
	SettledNetMovement domain.Amount `json:"settled_net_movement" db:"settled_net_movement"`

	StoredReportDate sql.NullString `json:"-" db:"report_date"`
}

type SettlementFilter struct {
	BatchNumber int
	Currency    string
	Page        int
	Limit       int
}

// ListParents returns settlement parents, newest first, with the total
// count of matching parents.
func (r *SettlementRepo) ListParents(ctx context.Context, f SettlementFilter) ([]SettlementSummary, int, error) {
	where, args := buildSettlementWhere(f)

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM settlements s"+where, args...); err != nil {
		return nil, 0, err
	}

	f.Limit = clampLimit(f.Limit, 50, 500)
	if f.Page <= 0 {
		f.Page = 1
	}
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	q := `SELECT s.id, s.batch_number, s.report_filename, s.report_psp_reference, s.report_date,
			s.gross_currency, s.net_currency, s.gross_debit, s.gross_credit, s.net_debit, s.net_credit,
			s.commission, s.processing_fee, s.markup, s.scheme_fees, s.interchange,
			COUNT(d.id) AS rows_total,
			COALESCE(SUM(CASE WHEN LOWER(d.type) = 'settled' THEN 1 ELSE 0 END), 0) AS rows_settled,
			COALESCE(SUM(CASE WHEN LOWER(d.type) = 'settled' THEN d.net_credit - d.net_debit ELSE 0 END), 0) AS settled_net_movement
		FROM settlements s
		LEFT JOIN settlement_details d ON d.settlement_id = s.id` + where + `
		GROUP BY s.id
		ORDER BY s.batch_number DESC, s.id DESC
		LIMIT ? OFFSET ?`

	var out []SettlementSummary
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].ReportDate = parseNullableTime(out[i].StoredReportDate)
	}
	return out, total, nil
}

// DetailView is a detail line with the order its merchant reference names.
type DetailView struct {
	domain.SettlementDetail
	OrderID *int64 `json:"order_id,omitempty"`
}

// ListDetails returns the lines of one parent in creation order.
func (r *SettlementRepo) ListDetails(ctx context.Context, settlementID int64) ([]DetailView, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT `+detailColumns("sd.")+`, o.id
		FROM settlement_details sd
		LEFT JOIN orders o ON o.order_number = sd.merchant_reference
		WHERE sd.settlement_id = ?
		ORDER BY sd.creation_date IS NULL, sd.creation_date, sd.id`, settlementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DetailView
	for rows.Next() {
		var v DetailView
		var orderID sql.NullInt64
		if err := scanDetailInto(rows, &v.SettlementDetail, &orderID); err != nil {
			return nil, err
		}
		if orderID.Valid {
			id := orderID.Int64
			v.OrderID = &id
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- statements ---

func upsertParent(ctx context.Context, q sqlx.QueryerContext, key domain.ParentKey, delta domain.ParentDelta) (int64, error) {
	now := formatTime(time.Now())
	t := delta.Totals
	var id int64
	err := q.QueryRowxContext(ctx,
		`INSERT INTO settlements
		(batch_number, report_filename, report_psp_reference, gross_currency, net_currency,
		 gross_debit, gross_credit, net_debit, net_credit, commission, processing_fee,
		 markup, scheme_fees, interchange, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (batch_number, report_filename) DO UPDATE SET
			report_psp_reference = COALESCE(excluded.report_psp_reference, settlements.report_psp_reference),
			gross_currency = COALESCE(settlements.gross_currency, excluded.gross_currency),
			net_currency = COALESCE(settlements.net_currency, excluded.net_currency),
			gross_debit = settlements.gross_debit + excluded.gross_debit,
			gross_credit = settlements.gross_credit + excluded.gross_credit,
			net_debit = settlements.net_debit + excluded.net_debit,
			net_credit = settlements.net_credit + excluded.net_credit,
			commission = settlements.commission + excluded.commission,
			processing_fee = settlements.processing_fee + excluded.processing_fee,
			markup = settlements.markup + excluded.markup,
			scheme_fees = settlements.scheme_fees + excluded.scheme_fees,
			interchange = settlements.interchange + excluded.interchange,
			updated_at = excluded.updated_at
		RETURNING id`,
		key.BatchNumber, key.ReportFilename, nullableString(delta.ReportPSPReference),
		nullableString(delta.GrossCurrency), nullableString(delta.NetCurrency),
		t.GrossDebit, t.GrossCredit, t.NetDebit, t.NetCredit, t.Commission, t.ProcessingFee,
		t.Markup, t.SchemeFees, t.Interchange, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert settlement %d/%s: %w", key.BatchNumber, key.ReportFilename, err)
	}
	return id, nil
}

func addTotals(ctx context.Context, e sqlx.ExecerContext, id int64, t domain.Totals) error {
	_, err := e.ExecContext(ctx,
		`UPDATE settlements SET
			gross_debit = gross_debit + ?, gross_credit = gross_credit + ?,
			net_debit = net_debit + ?, net_credit = net_credit + ?,
			commission = commission + ?, processing_fee = processing_fee + ?,
			markup = markup + ?, scheme_fees = scheme_fees + ?, interchange = interchange + ?,
			updated_at = ?
		WHERE id = ?`,
		t.GrossDebit, t.GrossCredit, t.NetDebit, t.NetCredit, t.Commission, t.ProcessingFee,
		t.Markup, t.SchemeFees, t.Interchange, formatTime(time.Now()), id,
	)
	return err
}

func upsertDetail(ctx context.Context, q sqlx.QueryerContext, d *domain.SettlementDetail) (int64, error) {
	now := formatTime(time.Now())
	var settlementID any
	if d.SettlementID != 0 {
		settlementID = d.SettlementID
	}
	var id int64
	err := q.QueryRowxContext(ctx,
		`INSERT INTO settlement_details
		(psp_reference, modification_reference, merchant_reference, modification_merchant_reference,
		 type, creation_date, timezone, gross_currency, net_currency,
		 gross_debit, gross_credit, net_debit, net_credit, commission, processing_fee,
		 markup, scheme_fees, interchange, payment_method, payment_method_variant,
		 batch_number, settlement_id, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (psp_reference, type, modification_reference, batch_number) DO UPDATE SET
			merchant_reference = excluded.merchant_reference,
			modification_merchant_reference = excluded.modification_merchant_reference,
			creation_date = excluded.creation_date,
			timezone = excluded.timezone,
			gross_currency = excluded.gross_currency,
			net_currency = excluded.net_currency,
			gross_debit = excluded.gross_debit,
			gross_credit = excluded.gross_credit,
			net_debit = excluded.net_debit,
			net_credit = excluded.net_credit,
			commission = excluded.commission,
			processing_fee = excluded.processing_fee,
			markup = excluded.markup,
			scheme_fees = excluded.scheme_fees,
			interchange = excluded.interchange,
			payment_method = excluded.payment_method,
			payment_method_variant = excluded.payment_method_variant,
			settlement_id = COALESCE(excluded.settlement_id, settlement_details.settlement_id),
			updated_at = excluded.updated_at
		RETURNING id`,
		d.PSPReference, d.ModificationReference, nullableString(d.MerchantReference),
		nullableString(d.ModificationMerchantReference), d.Type, formatNullableTime(d.CreationDate),
		nullableString(d.TimeZone), nullableString(d.GrossCurrency), nullableString(d.NetCurrency),
		d.GrossDebit, d.GrossCredit, d.NetDebit, d.NetCredit, d.Commission, d.ProcessingFee,
		d.Markup, d.SchemeFees, d.Interchange, nullableString(d.PaymentMethod),
		nullableString(d.PaymentMethodVariant), d.BatchNumber, settlementID, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert detail %s/%s/%d: %w", d.PSPReference, d.Type, d.BatchNumber, err)
	}
	return id, nil
}

func getDetailByKey(ctx context.Context, q sqlx.QueryerContext, key domain.DetailKey) (*domain.SettlementDetail, error) {
	row := q.QueryRowxContext(ctx,
		"SELECT "+detailColumns("")+` FROM settlement_details
		WHERE psp_reference = ? AND type = ? AND modification_reference = ? AND batch_number = ?`,
		key.PSPReference, key.Type, key.ModificationReference, key.BatchNumber)
	var d domain.SettlementDetail
	if err := scanDetailInto(row, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// --- helpers ---

func detailColumns(prefix string) string {
	cols := []string{
		"id", "psp_reference", "modification_reference", "merchant_reference",
		"modification_merchant_reference", "type", "creation_date", "timezone",
		"gross_currency", "net_currency", "gross_debit", "gross_credit", "net_debit",
		"net_credit", "commission", "processing_fee", "markup", "scheme_fees",
		"interchange", "payment_method", "payment_method_variant", "batch_number", "settlement_id",
	}
	for i := range cols {
		cols[i] = prefix + cols[i]
	}
	return strings.Join(cols, ", ")
}

func scanDetailInto(s sqlx.ColScanner, d *domain.SettlementDetail, extra ...any) error {
	var mref, modMref, creation, tz, grossCcy, netCcy, pm, pmv sql.NullString
	var settlementID sql.NullInt64

	dest := []any{
		&d.ID, &d.PSPReference, &d.ModificationReference, &mref, &modMref, &d.Type,
		&creation, &tz, &grossCcy, &netCcy, &d.GrossDebit, &d.GrossCredit, &d.NetDebit,
		&d.NetCredit, &d.Commission, &d.ProcessingFee, &d.Markup, &d.SchemeFees,
		&d.Interchange, &pm, &pmv, &d.BatchNumber, &settlementID,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	d.MerchantReference = mref.String
	d.ModificationMerchantReference = modMref.String
	d.CreationDate = parseNullableTime(creation)
	d.TimeZone = tz.String
	d.GrossCurrency = grossCcy.String
	d.NetCurrency = netCcy.String
	d.PaymentMethod = pm.String
	d.PaymentMethodVariant = pmv.String
	d.SettlementID = settlementID.Int64
	return nil
}

func scanParent(row *sqlx.Row) (*domain.Settlement, error) {
	var s domain.Settlement
	var reportDate sql.NullString
	err := row.Scan(&s.ID, &s.BatchNumber, &s.ReportFilename, &s.ReportPSPReference, &reportDate,
		&s.GrossCurrency, &s.NetCurrency, &s.GrossDebit, &s.GrossCredit, &s.NetDebit, &s.NetCredit,
		&s.Commission, &s.ProcessingFee, &s.Markup, &s.SchemeFees, &s.Interchange)
	if err != nil {
		return nil, err
	}
	s.ReportDate = parseNullableTime(reportDate)
	return &s, nil
}

func buildSettlementWhere(f SettlementFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.BatchNumber != 0 {
		clauses = append(clauses, "s.batch_number = ?")
		args = append(args, f.BatchNumber)
	}
	if f.Currency != "" {
		clauses = append(clauses, "(s.net_currency = ? OR s.gross_currency = ?)")
		args = append(args, f.Currency, f.Currency)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
