package reconciliation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storefront/settlement-reconciler/internal/domain"
	"github.com/storefront/settlement-reconciler/internal/ingestion"
	"github.com/storefront/settlement-reconciler/internal/report"
	"github.com/storefront/settlement-reconciler/internal/repository"
	"github.com/storefront/settlement-reconciler/internal/testutil"
)

const (
	testAPIKey = "test-key"
	batchFile  = "settlement_detail_report_batch_41.csv"
)

type fixture struct {
	db          *sqlx.DB
	svc         *Service
	reports     *repository.ReportRepo
	settlements *repository.SettlementRepo
	orders      *repository.OrderRepo
	ledger      *repository.TransactionRepo
}

func newFixture(t *testing.T, client *http.Client) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := &fixture{
		db:          db,
		reports:     repository.NewReportRepo(db),
		settlements: repository.NewSettlementRepo(db),
		orders:      repository.NewOrderRepo(db),
		ledger:      repository.NewTransactionRepo(db),
	}
	logger := zap.NewNop()
	dl := report.NewDownloader(report.DownloaderConfig{Timeout: 5 * time.Second, Dir: t.TempDir(), HTTPClient: client}, logger)
	f.svc = NewService(f.reports, f.settlements, f.orders, f.ledger,
		report.NewLocator(dl, testAPIKey, logger), testPolicy(t), "AED", nil, logger)
	return f
}

// reportServer serves body at /reports/<batchFile> to callers with the API key.
func reportServer(t *testing.T, body *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != testAPIKey {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if r.URL.Path != "/reports/"+batchFile {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(*body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fixture) notify(t *testing.T, n *domain.ReportNotification) int64 {
	t.Helper()
	var rep *domain.Report
	if n.IsReportAvailable() {
		rep = CatalogEntry(n)
	}
	require.NoError(t, f.reports.RecordNotification(context.Background(), n, rep))
	return n.ID
}

func reportAvailable(url string) *domain.ReportNotification {
	at := time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC)
	return &domain.ReportNotification{
		PSPReference:    "REPORTPSP1",
		MerchantAccount: "StoreECOM",
		EventCode:       domain.EventReportAvailable,
		EventDate:       &at,
		Success:         true,
		Reason:          url,
		RawPayload:      []byte(`{}`),
	}
}

func TestProcessNotification_EndToEnd(t *testing.T) {
	ctx := context.Background()
	body := testutil.CSV(testutil.SettledRow("41", "PSP123", "ord_abc", "50.00"))
	srv := reportServer(t, &body)
	f := newFixture(t, srv.Client())
	orderID := testutil.SeedOrder(t, f.db, "ord_abc", "")

	nid := f.notify(t, reportAvailable(srv.URL+"/reports/"+batchFile))

	res, err := f.svc.ProcessNotification(ctx, nid)
	require.NoError(t, err)
	assert.Equal(t, batchFile, res.ReportFile)
	assert.Equal(t, nid, res.NotificationID)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.RowsParsed)
	assert.Equal(t, 1, res.DetailsUpserted)
	assert.Equal(t, 1, res.ParentsTouched)
	assert.Equal(t, 1, res.TransactionsInserted)
	assert.Equal(t, 2, res.OrdersUpdated)
	assert.Zero(t, res.RowErrors)
	require.Len(t, res.Batches, 1)
	assert.Equal(t, 41, res.Batches[0].BatchNumber)

	parent, err := f.settlements.GetParentByKey(ctx, domain.ParentKey{BatchNumber: 41, ReportFilename: batchFile})
	require.NoError(t, err)
	assert.Equal(t, int64(500000), parent.NetCredit.Units())
	assert.Equal(t, int64(5000), parent.ProcessingFee.Units())
	require.NotNil(t, parent.ReportPSPReference)
	assert.Equal(t, "REPORTPSP1", *parent.ReportPSPReference)

	detail, err := f.settlements.GetDetailByKey(ctx, domain.DetailKey{PSPReference: "PSP123", Type: "Settled", BatchNumber: 41})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, detail.SettlementID)

	txns, err := f.ledger.ListByOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.TxnTypeSettled, txns[0].Type)
	assert.Equal(t, int64(5000), txns[0].AmountMinor)
	assert.Equal(t, "AED", txns[0].Currency)
	assert.Equal(t, "PSP123", txns[0].PSPReference)

	order, err := f.orders.Get(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSettled, order.Status)
	require.NotNil(t, order.SettlementBatch)
	assert.Equal(t, 41, *order.SettlementBatch)
	assert.NotNil(t, order.SettledAt)

	fee, err := f.orders.ProcessingFee(ctx, orderID)
	require.NoError(t, err)
	require.NotNil(t, fee)
	assert.Equal(t, int64(5000), fee.Units())

	rep, err := f.reports.GetReportByNotification(ctx, nid)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportProcessed, rep.Status)
	assert.NotNil(t, rep.ProcessedAt)
}

func TestProcessReport_Idempotent(t *testing.T) {
	ctx := context.Background()
	body := testutil.CSV(
		testutil.SettledRow("41", "PSP123", "ord_abc", "50.00"),
		testutil.SettledRow("41", "PSP124", "ord_def", "20.00"),
	)
	srv := reportServer(t, &body)
	f := newFixture(t, srv.Client())
	abc := testutil.SeedOrder(t, f.db, "ord_abc", "")
	testutil.SeedOrder(t, f.db, "ord_def", "")

	nid := f.notify(t, reportAvailable(srv.URL+"/reports/"+batchFile))
	rep, err := f.reports.GetReportByNotification(ctx, nid)
	require.NoError(t, err)

	first, err := f.svc.ProcessReport(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, first.TransactionsInserted)

	second, err := f.svc.ProcessReport(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.DetailsUpserted)
	assert.Zero(t, second.TransactionsInserted)

	n, err := f.settlements.CountDetails(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	parent, err := f.settlements.GetParentByKey(ctx, domain.ParentKey{BatchNumber: 41, ReportFilename: batchFile})
	require.NoError(t, err)
	assert.Equal(t, int64(700000), parent.NetCredit.Units())
	assert.Equal(t, int64(10000), parent.ProcessingFee.Units())

	settled, err := f.ledger.CountSettled(ctx, abc)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
}

func TestProcessReport_CorrectedReportConverges(t *testing.T) {
	ctx := context.Background()
	body := testutil.CSV(testutil.SettledRow("41", "PSP123", "ord_abc", "50.00"))
	srv := reportServer(t, &body)
	f := newFixture(t, srv.Client())

	nid := f.notify(t, reportAvailable(srv.URL+"/reports/"+batchFile))
	_, err := f.svc.ProcessNotification(ctx, nid)
	require.NoError(t, err)

	body = testutil.CSV(testutil.SettledRow("41", "PSP123", "ord_abc", "45.00"))
	_, err = f.svc.ProcessNotification(ctx, nid)
	require.NoError(t, err)

	parent, err := f.settlements.GetParentByKey(ctx, domain.ParentKey{BatchNumber: 41, ReportFilename: batchFile})
	require.NoError(t, err)
	assert.Equal(t, int64(450000), parent.NetCredit.Units())
	assert.Equal(t, int64(5000), parent.ProcessingFee.Units())
}

func TestIngest_RowFiltering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	testutil.SeedOrder(t, f.db, "ord_abc", "")

	fee := testutil.SettledRow("41", "PSPFEE", "ord_abc", "3.00")
	fee[ingestion.ColType] = "Fee"
	transfer := testutil.SettledRow("41", "PSPBT", "ord_abc", "9.00")
	transfer[ingestion.ColType] = "Balance Transfer"
	body := testutil.CSV(
		testutil.SettledRow("41", "PSP123", "ord_abc", "50.00"),
		fee,
		transfer,
		testutil.SettledRow("41", "PSP777", "unrelated-123", "80.00"),
		map[string]string{},
	)

	res, err := f.svc.Ingest(ctx, strings.NewReader(body), IngestOptions{FileName: batchFile})
	require.NoError(t, err)
	assert.Equal(t, 5, res.RowsParsed)
	assert.Equal(t, 4, res.RowsSkipped)
	assert.Equal(t, map[string]int{"excluded_type": 2, "foreign_reference": 1, "empty": 1}, res.SkippedByReason)
	assert.Equal(t, 1, res.DetailsUpserted)

	n, err := f.settlements.CountDetails(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	for _, psp := range []string{"PSPFEE", "PSPBT", "PSP777"} {
		_, err := f.settlements.GetDetailByKey(ctx, domain.DetailKey{PSPReference: psp, Type: "Settled", BatchNumber: 41})
		assert.ErrorIs(t, err, repository.ErrNotFound, psp)
	}

	parent, err := f.settlements.GetParentByKey(ctx, domain.ParentKey{BatchNumber: 41, ReportFilename: batchFile})
	require.NoError(t, err)
	assert.Equal(t, int64(500000), parent.NetCredit.Units())
}

func TestIngest_MatchingAndUnmatched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	byPSP := testutil.SeedOrder(t, f.db, "ord_zzz", "PSP900")
	embedded := testutil.SeedOrder(t, f.db, "ord_emb", "")

	refund := testutil.SettledRow("41", "PSP901", "ord_zzz", "0")
	refund[ingestion.ColType] = "Refunded"
	body := testutil.CSV(
		testutil.SettledRow("41", "PSP900", "ord_other", "10.00"),
		testutil.SettledRow("41", "PSP555", "web-ord_emb/1", "11.00"),
		testutil.SettledRow("41", "PSP556", "ord_missing", "12.00"),
		refund,
	)

	res, err := f.svc.Ingest(ctx, strings.NewReader(body), IngestOptions{FileName: batchFile})
	require.NoError(t, err)
	assert.Equal(t, 4, res.DetailsUpserted)
	assert.Equal(t, 1, res.Unmatched)
	assert.Equal(t, 2, res.TransactionsInserted)
	// two settled matches stamp fee and status, the refund stamps its fee only
	assert.Equal(t, 5, res.OrdersUpdated)

	for _, id := range []int64{byPSP, embedded} {
		n, err := f.ledger.CountSettled(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	parent, err := f.settlements.GetParentByKey(ctx, domain.ParentKey{BatchNumber: 41, ReportFilename: batchFile})
	require.NoError(t, err)
	assert.Equal(t, int64(3*5000), parent.ProcessingFee.Units())
}

func TestIngest_OrderColumnsMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	id := testutil.SeedOrder(t, f.db, "ord_abc", "")
	_, err := f.db.Exec("ALTER TABLE orders DROP COLUMN processing_fee")
	require.NoError(t, err)
	_, err = f.db.Exec("ALTER TABLE orders DROP COLUMN settled_at")
	require.NoError(t, err)

	body := testutil.CSV(testutil.SettledRow("41", "PSP123", "ord_abc", "50.00"))
	res, err := f.svc.Ingest(ctx, strings.NewReader(body), IngestOptions{FileName: batchFile})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TransactionsInserted)
	assert.Equal(t, 1, res.OrdersUpdated)
	assert.Zero(t, res.RowErrors)

	var status string
	require.NoError(t, f.db.Get(&status, "SELECT status FROM orders WHERE id = ?", id))
	assert.Equal(t, string(domain.OrderSettled), status)
}

func TestIngest_ReprocessingRepairsOrderUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	id := testutil.SeedOrder(t, f.db, "ord_abc", "")
	_, err := f.db.Exec(`CREATE TRIGGER orders_locked BEFORE UPDATE OF status ON orders
		BEGIN SELECT RAISE(ABORT, 'orders locked'); END`)
	require.NoError(t, err)

	body := testutil.CSV(testutil.SettledRow("41", "PSP123", "ord_abc", "50.00"))
	ingest := func() *Result {
		res, err := f.svc.Ingest(ctx, strings.NewReader(body), IngestOptions{FileName: batchFile})
		require.NoError(t, err)
		return res
	}

	res := ingest()
	assert.Equal(t, 1, res.TransactionsInserted)
	assert.Equal(t, 1, res.OrdersUpdated, "only the fee stamp lands")
	order, err := f.orders.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCaptured, order.Status)

	_, err = f.db.Exec("DROP TRIGGER orders_locked")
	require.NoError(t, err)

	res = ingest()
	assert.Zero(t, res.TransactionsInserted)
	assert.Equal(t, 2, res.OrdersUpdated)
	order, err = f.orders.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSettled, order.Status)
	require.NotNil(t, order.SettlementBatch)
	assert.Equal(t, 41, *order.SettlementBatch)
	settledAt := order.SettledAt
	require.NotNil(t, settledAt)

	res = ingest()
	assert.Equal(t, 1, res.OrdersUpdated)
	order, err = f.orders.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, order.SettledAt.Equal(*settledAt))

	txns, err := f.ledger.ListByOrder(ctx, id)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestIngest_DetailMovesBetweenReports(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	body := testutil.CSV(testutil.SettledRow("41", "PSP123", "ord_abc", "50.00"))

	_, err := f.svc.Ingest(ctx, strings.NewReader(body), IngestOptions{FileName: "first.csv"})
	require.NoError(t, err)
	_, err = f.svc.Ingest(ctx, strings.NewReader(body), IngestOptions{FileName: "second.csv"})
	require.NoError(t, err)

	first, err := f.settlements.GetParentByKey(ctx, domain.ParentKey{BatchNumber: 41, ReportFilename: "first.csv"})
	require.NoError(t, err)
	assert.Zero(t, first.NetCredit.Units())
	assert.Zero(t, first.ProcessingFee.Units())

	second, err := f.settlements.GetParentByKey(ctx, domain.ParentKey{BatchNumber: 41, ReportFilename: "second.csv"})
	require.NoError(t, err)
	assert.Equal(t, int64(500000), second.NetCredit.Units())
	assert.Equal(t, int64(5000), second.ProcessingFee.Units())
}

func TestIngest_Errors(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Ingest(context.Background(), strings.NewReader(""), IngestOptions{FileName: batchFile})
	assert.ErrorIs(t, err, ingestion.ErrEmptyReport)

	_, err = f.svc.Ingest(context.Background(), strings.NewReader("a,b\n"), IngestOptions{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	body := testutil.CSV(testutil.SettledRow("41", "PSP123", "ord_abc", "50.00"))
	_, err = f.svc.Ingest(ctx, strings.NewReader(body), IngestOptions{FileName: batchFile})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImportFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	testutil.SeedOrder(t, f.db, "ord_abc", "")
	path := testutil.WriteFile(t, batchFile, testutil.CSV(testutil.SettledRow("41", "PSP123", "ord_abc", "50.00")))

	res, err := f.svc.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, batchFile, res.ReportFile)
	assert.Equal(t, 1, res.TransactionsInserted)

	rep, err := f.reports.GetReport(ctx, res.ReportID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportProcessed, rep.Status)
	assert.Equal(t, report.TypeSettlementDetail, rep.ReportType)
	require.NotNil(t, rep.BatchNumberFromName)
	assert.Equal(t, 41, *rep.BatchNumberFromName)

	_, err = os.Stat(path)
	assert.NoError(t, err, "local report files are kept")

	_, err = f.svc.ImportFile(ctx, path+".missing")
	var perr *ProcessError
	assert.ErrorAs(t, err, &perr)
}

func TestProcess_Failures(t *testing.T) {
	ctx := context.Background()
	body := "unused"
	srv := reportServer(t, &body)
	f := newFixture(t, srv.Client())

	t.Run("unknown report", func(t *testing.T) {
		_, err := f.svc.ProcessReport(ctx, 999)
		assert.ErrorIs(t, err, ErrNotFound)
		var perr *ProcessError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, int64(999), perr.ReportID)
	})

	t.Run("unknown notification", func(t *testing.T) {
		_, err := f.svc.ProcessNotification(ctx, 999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("not a report", func(t *testing.T) {
		n := reportAvailable("")
		n.EventCode = "AUTHORISATION"
		_, err := f.svc.ProcessNotification(ctx, f.notify(t, n))
		assert.ErrorIs(t, err, ErrNotReportAvailable)

		failed := reportAvailable(srv.URL + "/reports/" + batchFile)
		failed.Success = false
		_, err = f.svc.ProcessNotification(ctx, f.notify(t, failed))
		assert.ErrorIs(t, err, ErrNotReportAvailable)
	})

	t.Run("no source", func(t *testing.T) {
		nid := f.notify(t, reportAvailable("report ready, no link"))
		_, err := f.svc.ProcessNotification(ctx, nid)
		assert.ErrorIs(t, err, ErrNoReportSource)

		rep, err := f.reports.GetReportByNotification(ctx, nid)
		require.NoError(t, err)
		assert.Equal(t, domain.ReportFailed, rep.Status)
		assert.NotEmpty(t, rep.LastError)
	})

	t.Run("download rejected", func(t *testing.T) {
		nid := f.notify(t, reportAvailable(srv.URL+"/reports/missing.csv"))
		_, err := f.svc.ProcessNotification(ctx, nid)
		assert.True(t, errors.Is(err, report.ErrDownload))

		var perr *ProcessError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, nid, perr.NotificationID)
		assert.NotZero(t, perr.ReportID)
	})
}

func TestProcessNotification_CatalogsWhenMissing(t *testing.T) {
	ctx := context.Background()
	body := testutil.CSV(testutil.SettledRow("41", "PSP123", "ord_abc", "50.00"))
	srv := reportServer(t, &body)
	f := newFixture(t, srv.Client())

	n := reportAvailable(srv.URL + "/reports/" + batchFile)
	require.NoError(t, f.reports.RecordNotification(ctx, n, nil))

	res, err := f.svc.ProcessNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.NotZero(t, res.ReportID)

	rep, err := f.reports.GetReportByNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, batchFile, rep.FileName)
	assert.Equal(t, domain.ReportProcessed, rep.Status)
}

func TestCatalogEntry(t *testing.T) {
	at := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	rep := CatalogEntry(&domain.ReportNotification{
		ID:              3,
		MerchantAccount: "StoreECOM",
		EventDate:       &at,
		Reason:          "https://ca-test.adyen.com/reports/download/MerchantAccount/StoreECOM/settlement_detail_report_batch_41.csv",
	})
	assert.Equal(t, int64(3), rep.NotificationID)
	assert.Equal(t, batchFile, rep.FileName)
	assert.Equal(t, report.TypeSettlementDetail, rep.ReportType)
	assert.Equal(t, domain.ReportQueued, rep.Status)
	assert.Contains(t, rep.DownloadURL, batchFile)
	require.NotNil(t, rep.ReportDate)
	assert.True(t, rep.ReportDate.Equal(at))
}
