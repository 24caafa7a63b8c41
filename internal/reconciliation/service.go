// Package reconciliation runs settlement reports through the ingestion
// pipeline and posts their effects onto orders.
package reconciliation

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storefront/settlement-reconciler/internal/aggregation"
	"github.com/storefront/settlement-reconciler/internal/domain"
	"github.com/storefront/settlement-reconciler/internal/ingestion"
	"github.com/storefront/settlement-reconciler/internal/metrics"
	"github.com/storefront/settlement-reconciler/internal/report"
	"github.com/storefront/settlement-reconciler/internal/repository"
)

// Result summarises one processing pass over a report.
type Result struct {
	RunID                string                    `json:"run_id"`
	ReportID             int64                     `json:"report_id,omitempty"`
	NotificationID       int64                     `json:"notification_id,omitempty"`
	ReportFile           string                    `json:"report_file"`
	RowsParsed           int                       `json:"rows_parsed"`
	RowsSkipped          int                       `json:"rows_skipped"`
	SkippedByReason      map[string]int            `json:"skipped_by_reason,omitempty"`
	DetailsUpserted      int                       `json:"details_upserted"`
	ParentsTouched       int                       `json:"parents_touched"`
	TransactionsInserted int                       `json:"transactions_inserted"`
	OrdersUpdated        int                       `json:"orders_updated"`
	Unmatched            int                       `json:"unmatched"`
	RowErrors            int                       `json:"row_errors"`
	Batches              []aggregation.BatchTotals `json:"batches"`
}

// IngestOptions identify the report a file belongs to.
type IngestOptions struct {
	// FileName is half of every parent key; it must be stable across runs.
	FileName           string
	ReportPSPReference string
	ReportDate         *time.Time
}

// Service performs settlement reconciliation for cataloged reports.
type Service struct {
	reports     *repository.ReportRepo
	settlements *repository.SettlementRepo
	locator     *report.Locator
	policy      *aggregation.Policy
	matcher     *Matcher
	poster      *Poster
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// NewService wires the pipeline. collector may be nil.
func NewService(
	reports *repository.ReportRepo,
	settlements *repository.SettlementRepo,
	orders *repository.OrderRepo,
	ledger *repository.TransactionRepo,
	locator *report.Locator,
	policy *aggregation.Policy,
	defaultCurrency string,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Service {
	logger = logger.Named("reconciliation")
	return &Service{
		reports:     reports,
		settlements: settlements,
		locator:     locator,
		policy:      policy,
		matcher:     NewMatcher(orders, ledger, policy),
		poster:      NewPoster(orders, ledger, defaultCurrency, logger),
		metrics:     collector,
		logger:      logger,
	}
}

// ProcessNotification processes the report announced by a stored
// notification, cataloging it first when no catalog entry exists.
func (s *Service) ProcessNotification(ctx context.Context, notificationID int64) (*Result, error) {
	n, err := s.reports.GetNotification(ctx, notificationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &ProcessError{Message: "notification not found", NotificationID: notificationID, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &ProcessError{Message: "load notification", NotificationID: notificationID, Err: err}
	}
	if !n.IsReportAvailable() {
		return nil, &ProcessError{Message: "notification cannot be processed", NotificationID: notificationID, Err: ErrNotReportAvailable}
	}

	rep, err := s.reports.GetReportByNotification(ctx, n.ID)
	if errors.Is(err, repository.ErrNotFound) {
		rep = CatalogEntry(n)
		if err = s.reports.InsertReport(ctx, rep); err != nil {
			return nil, &ProcessError{Message: "catalog report", NotificationID: n.ID, Err: err}
		}
		s.logger.Info("cataloged report for notification",
			zap.Int64("notification_id", n.ID), zap.Int64("report_id", rep.ID), zap.String("file", rep.FileName))
	} else if err != nil {
		return nil, &ProcessError{Message: "load report", NotificationID: n.ID, Err: err}
	}

	return s.process(ctx, rep, n)
}

// ProcessReport locates, ingests and posts a cataloged report. Reprocessing a
// report converges to the same stored state.
func (s *Service) ProcessReport(ctx context.Context, reportID int64) (*Result, error) {
	rep, err := s.reports.GetReport(ctx, reportID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &ProcessError{Message: "report not found", ReportID: reportID, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &ProcessError{Message: "load report", ReportID: reportID, Err: err}
	}

	var n *domain.ReportNotification
	if rep.NotificationID != 0 {
		n, err = s.reports.GetNotification(ctx, rep.NotificationID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, &ProcessError{Message: "load notification", ReportID: rep.ID, NotificationID: rep.NotificationID, Err: err}
		}
	}
	return s.process(ctx, rep, n)
}

// ImportFile catalogs a local report file and processes it.
func (s *Service) ImportFile(ctx context.Context, path string) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, &ProcessError{Message: "report file not readable", Err: err}
	}

	name := filepath.Base(abs)
	rep := &domain.Report{
		FileName:            name,
		FilePath:            abs,
		ReportType:          report.InferReportType(name),
		BatchNumberFromName: report.BatchFromName(name),
		ReportDate:          report.ReportDate(name, nil),
	}
	if err := s.reports.InsertReport(ctx, rep); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", name, err)
	}
	return s.process(ctx, rep, nil)
}

// CatalogEntry builds the report catalog entry for a notification.
func CatalogEntry(n *domain.ReportNotification) *domain.Report {
	meta := report.Infer(n.Reason, n.EventDate)
	url := n.DownloadURL
	if url == "" {
		url = meta.DownloadURL
	}
	return &domain.Report{
		NotificationID:      n.ID,
		MerchantAccount:     n.MerchantAccount,
		FileName:            meta.FileName,
		FilePath:            meta.FilePath,
		DownloadURL:         url,
		ReportType:          meta.ReportType,
		BatchNumberFromName: meta.BatchNumber,
		ReportDate:          meta.ReportDate,
		Status:              domain.ReportQueued,
	}
}

func (s *Service) process(ctx context.Context, rep *domain.Report, n *domain.ReportNotification) (*Result, error) {
	start := time.Now()
	log := s.logger.With(zap.Int64("report_id", rep.ID), zap.Int64("notification_id", rep.NotificationID))
	fail := func(stage, msg string, err error) error {
		s.metrics.ReportFailed(stage)
		if serr := s.reports.SetStatus(ctx, rep.ID, domain.ReportFailed, err.Error()); serr != nil {
			log.Error("record report failure", zap.Error(serr))
		}
		log.Error(msg, zap.String("stage", stage), zap.Error(err))
		return &ProcessError{Message: msg, ReportID: rep.ID, NotificationID: rep.NotificationID, Err: err}
	}

	src, err := s.locator.Locate(ctx, rep.FilePath, rep.DownloadURL)
	if err != nil {
		return nil, fail("locate", "report could not be located or downloaded", err)
	}
	defer src.Release()

	if err := s.reports.SetStatus(ctx, rep.ID, domain.ReportDownloaded, ""); err != nil {
		log.Warn("mark report downloaded", zap.Error(err))
	}

	opts := IngestOptions{FileName: rep.FileName, ReportDate: rep.ReportDate}
	if opts.FileName == "" {
		opts.FileName = src.FileName
	}
	if n != nil {
		opts.ReportPSPReference = n.PSPReference
	}

	f, err := os.Open(src.Path)
	if err != nil {
		return nil, fail("ingest", "open report", err)
	}
	defer f.Close()

	res, err := s.Ingest(ctx, f, opts)
	if err != nil {
		return nil, fail("ingest", "ingest report", err)
	}
	res.ReportID = rep.ID
	res.NotificationID = rep.NotificationID

	if err := s.reports.SetStatus(ctx, rep.ID, domain.ReportProcessed, ""); err != nil {
		log.Warn("mark report processed", zap.Error(err))
	}
	s.metrics.ReportProcessed(time.Since(start), res.RowsParsed, res.DetailsUpserted,
		res.TransactionsInserted, res.RowErrors, res.SkippedByReason)

	log.Info("report processed",
		zap.String("run_id", res.RunID),
		zap.String("file", res.ReportFile),
		zap.Int("rows_parsed", res.RowsParsed),
		zap.Int("details_upserted", res.DetailsUpserted),
		zap.Int("parents_touched", res.ParentsTouched),
		zap.Int("transactions_inserted", res.TransactionsInserted),
		zap.Int("orders_updated", res.OrdersUpdated),
		zap.Int("row_errors", res.RowErrors),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

// Ingest runs one report file through the pipeline. Rows are handled in file
// order. Row level failures are logged and counted; only an unreadable file
// or a cancelled context stops the pass.
func (s *Service) Ingest(ctx context.Context, r io.Reader, opts IngestOptions) (*Result, error) {
	if opts.FileName == "" {
		return nil, errors.New("report file name is required")
	}
	reader, err := ingestion.NewReader(r)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:           uuid.NewString(),
		ReportFile:      opts.FileName,
		SkippedByReason: make(map[string]int),
	}
	log := s.logger.With(zap.String("run_id", res.RunID), zap.String("file", opts.FileName))

	acc := aggregation.NewAccumulator()
	current := make(map[int64]bool)
	recompute := make(map[int64]bool)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return nil, err
			}
			res.RowErrors++
			log.Warn("unreadable row", zap.Error(err))
			continue
		}
		res.RowsParsed++

		line := ingestion.ParseLine(row)
		if reason := s.policy.Evaluate(&line); reason != aggregation.Keep {
			res.RowsSkipped++
			res.SkippedByReason[string(reason)]++
			continue
		}

		rlog := log.With(zap.String("psp_reference", line.PSPReference), zap.Int("batch", line.BatchNumber))

		detail := aggregation.DetailFor(&line, s.policy.ProcessingFee(&line))
		delta := aggregation.ParentDeltaFor(&detail, opts.ReportPSPReference)
		key := domain.ParentKey{BatchNumber: line.BatchNumber, ReportFilename: opts.FileName}
		out, err := s.settlements.IngestDetail(ctx, key, delta, &detail)
		if err != nil {
			res.RowErrors++
			rlog.Warn("upsert settlement detail", zap.Error(err))
			continue
		}
		res.DetailsUpserted++
		current[out.SettlementID] = true
		recompute[out.SettlementID] = true
		if out.PriorSettlementID != 0 {
			recompute[out.PriorSettlementID] = true
		}
		acc.Add(&line, detail.Totals)

		match, err := s.matcher.Match(ctx, line.MerchantReference, line.PSPReference)
		if err != nil {
			res.RowErrors++
			rlog.Warn("match order", zap.Error(err))
			continue
		}
		if !match.Found() {
			res.Unmatched++
			rlog.Debug("no order for line", zap.String("merchant_reference", line.MerchantReference))
			continue
		}

		if s.poster.StampFee(ctx, match.OrderID, s.policy.Fee()) {
			res.OrdersUpdated++
		}
		if !line.IsSettled() {
			continue
		}
		posted, err := s.poster.PostSettled(ctx, match.OrderID, &line)
		if err != nil {
			res.RowErrors++
			rlog.Warn("post settled transaction", zap.Int64("order_id", match.OrderID), zap.Error(err))
			continue
		}
		if posted.Inserted {
			res.TransactionsInserted++
		}
		res.OrdersUpdated += posted.OrdersUpdated
	}

	if err := s.settlements.RecomputeProcessingFees(ctx, keys(recompute)); err != nil {
		return nil, err
	}
	if opts.ReportDate != nil {
		for id := range current {
			if err := s.settlements.SetReportDate(ctx, id, *opts.ReportDate); err != nil {
				log.Warn("set report date", zap.Int64("settlement_id", id), zap.Error(err))
			}
		}
	}

	res.ParentsTouched = len(current)
	res.Batches = acc.Batches()
	return res, nil
}

func keys(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
