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

// ReportRepo stores webhook notifications and the report catalog.
type ReportRepo struct {
	db *sqlx.DB
}

func NewReportRepo(db *sqlx.DB) *ReportRepo {
	return &ReportRepo{db: db}
}

// RecordNotification stores a notification and, when rep is non-nil, its
// catalog entry. The notification is committed on its own first so the audit
// row survives a failed catalog insert. IDs are written back to n and rep.
func (r *ReportRepo) RecordNotification(ctx context.Context, n *domain.ReportNotification, rep *domain.Report) error {
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = time.Now().UTC()
	}
	raw := string(n.RawPayload)
	if raw == "" {
		raw = "{}"
	}
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO report_notifications
		(psp_reference, merchant_account, event_code, event_date, success, reason, download_url, raw_json, received_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		RETURNING id`,
		nullableString(n.PSPReference), nullableString(n.MerchantAccount), n.EventCode,
		formatNullableTime(n.EventDate), n.Success, nullableString(n.Reason),
		nullableString(n.DownloadURL), raw, formatTime(n.ReceivedAt),
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	if rep == nil {
		return nil
	}
	rep.NotificationID = n.ID
	if err := insertReport(ctx, r.db, rep); err != nil {
		return fmt.Errorf("catalog notification %d: %w", n.ID, err)
	}
	return nil
}

// InsertReport adds a catalog entry that has no notification, such as a
// locally imported file.
func (r *ReportRepo) InsertReport(ctx context.Context, rep *domain.Report) error {
	return insertReport(ctx, r.db, rep)
}

func insertReport(ctx context.Context, q sqlx.QueryerContext, rep *domain.Report) error {
	now := time.Now().UTC()
	if rep.Status == "" {
		rep.Status = domain.ReportQueued
	}
	rep.CreatedAt, rep.UpdatedAt = now, now

	var notifID any
	if rep.NotificationID != 0 {
		notifID = rep.NotificationID
	}
	err := q.QueryRowxContext(ctx,
		`INSERT INTO reports
		(notification_id, merchant_account, file_name, file_path, download_url, report_type,
		 batch_number_from_name, report_date, status, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		RETURNING id`,
		notifID, nullableString(rep.MerchantAccount), nullableString(rep.FileName),
		nullableString(rep.FilePath), nullableString(rep.DownloadURL), rep.ReportType,
		nullableInt(rep.BatchNumberFromName), formatNullableTime(rep.ReportDate),
		string(rep.Status), formatTime(now), formatTime(now),
	).Scan(&rep.ID)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

const notificationColumns = `id, psp_reference, merchant_account, event_code, event_date, success,
	reason, download_url, raw_json, received_at`

func (r *ReportRepo) GetNotification(ctx context.Context, id int64) (*domain.ReportNotification, error) {
	row := r.db.QueryRowxContext(ctx,
		"SELECT "+notificationColumns+" FROM report_notifications WHERE id = ?", id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

type NotificationFilter struct {
	EventCode string
	Limit     int
}

func (r *ReportRepo) ListNotifications(ctx context.Context, f NotificationFilter) ([]domain.ReportNotification, error) {
	var clauses []string
	var args []any
	if f.EventCode != "" {
		clauses = append(clauses, "event_code = ?")
		args = append(args, f.EventCode)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, clampLimit(f.Limit, 100, 500))

	rows, err := r.db.QueryxContext(ctx,
		"SELECT "+notificationColumns+" FROM report_notifications"+where+" ORDER BY id DESC LIMIT ?", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReportNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

const reportColumns = `id, notification_id, merchant_account, file_name, file_path, download_url,
	report_type, batch_number_from_name, report_date, status, last_error, processed_at, created_at, updated_at`

func (r *ReportRepo) GetReport(ctx context.Context, id int64) (*domain.Report, error) {
	row := r.db.QueryRowxContext(ctx, "SELECT "+reportColumns+" FROM reports WHERE id = ?", id)
	rep, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rep, err
}

// GetReportByNotification returns the catalog entry created for a notification.
func (r *ReportRepo) GetReportByNotification(ctx context.Context, notificationID int64) (*domain.Report, error) {
	row := r.db.QueryRowxContext(ctx,
		"SELECT "+reportColumns+" FROM reports WHERE notification_id = ?", notificationID)
	rep, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rep, err
}

type ReportFilter struct {
	Status string
	Limit  int
}

func (r *ReportRepo) ListReports(ctx context.Context, f ReportFilter) ([]domain.Report, error) {
	where, args := "", []any{}
	if f.Status != "" {
		where = " WHERE status = ?"
		args = append(args, f.Status)
	}
	args = append(args, clampLimit(f.Limit, 100, 500))

	rows, err := r.db.QueryxContext(ctx,
		"SELECT "+reportColumns+" FROM reports"+where+" ORDER BY id DESC LIMIT ?", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rep)
	}
	return out, rows.Err()
}

// SetStatus moves a report through its lifecycle. PROCESSED stamps
// processed_at and clears the last error.
func (r *ReportRepo) SetStatus(ctx context.Context, id int64, status domain.ReportStatus, lastErr string) error {
	now := formatTime(time.Now())
	var processedAt any
	if status == domain.ReportProcessed {
		processedAt = now
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE reports SET status = ?, last_error = ?, processed_at = COALESCE(?, processed_at), updated_at = ?
		WHERE id = ?`,
		string(status), nullableString(lastErr), processedAt, now, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func clampLimit(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func scanNotification(s sqlx.ColScanner) (*domain.ReportNotification, error) {
	var n domain.ReportNotification
	var psp, account, reason, url, eventDate sql.NullString
	var raw, receivedAt string

	err := s.Scan(&n.ID, &psp, &account, &n.EventCode, &eventDate, &n.Success,
		&reason, &url, &raw, &receivedAt)
	if err != nil {
		return nil, err
	}
	n.PSPReference = psp.String
	n.MerchantAccount = account.String
	n.Reason = reason.String
	n.DownloadURL = url.String
	n.EventDate = parseNullableTime(eventDate)
	n.RawPayload = []byte(raw)
	n.ReceivedAt, _ = time.Parse(time.RFC3339, receivedAt)
	return &n, nil
}

func scanReport(s sqlx.ColScanner) (*domain.Report, error) {
	var rep domain.Report
	var notifID, batch sql.NullInt64
	var account, fileName, filePath, url, reportType, lastErr sql.NullString
	var reportDate, processedAt sql.NullString
	var status, createdAt, updatedAt string

	err := s.Scan(&rep.ID, &notifID, &account, &fileName, &filePath, &url, &reportType,
		&batch, &reportDate, &status, &lastErr, &processedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rep.NotificationID = notifID.Int64
	rep.MerchantAccount = account.String
	rep.FileName = fileName.String
	rep.FilePath = filePath.String
	rep.DownloadURL = url.String
	rep.ReportType = reportType.String
	if batch.Valid {
		b := int(batch.Int64)
		rep.BatchNumberFromName = &b
	}
	rep.ReportDate = parseNullableTime(reportDate)
	rep.Status = domain.ReportStatus(status)
	rep.LastError = lastErr.String
	rep.ProcessedAt = parseNullableTime(processedAt)
	rep.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rep.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rep, nil
}
