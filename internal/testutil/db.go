// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/storefront/settlement-reconciler/internal/domain"
	"github.com/storefront/settlement-reconciler/internal/ingestion"
	"github.com/storefront/settlement-reconciler/internal/repository"
)

// NewDB opens a fresh database in a temp dir, closed on cleanup.
func NewDB(t testing.TB) *sqlx.DB {
	t.Helper()
	db, err := repository.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// SeedOrder inserts a captured AED order and returns its id. A non-empty psp
// also gets a CAPTURED ledger row, the way checkout leaves it.
func SeedOrder(t testing.TB, db *sqlx.DB, number, psp string) int64 {
	t.Helper()
	ctx := context.Background()
	o := &domain.Order{OrderNumber: number, Currency: "AED", AmountMinor: 5000, Status: domain.OrderCaptured, PSPReference: psp}
	require.NoError(t, repository.NewOrderRepo(db).Insert(ctx, o))
	if psp != "" {
		require.NoError(t, repository.NewTransactionRepo(db).Insert(ctx, &domain.Transaction{
			OrderID:      o.ID,
			Type:         "CAPTURE",
			Status:       domain.TxnStatusSuccess,
			AmountMinor:  o.AmountMinor,
			Currency:     o.Currency,
			PSPReference: psp,
			RawMethod:    "scheme",
		}))
	}
	return o.ID
}

// CSV renders a settlement report with the standard header. Each row maps
// column names to values; absent columns are left empty.
func CSV(rows ...map[string]string) string {
	var b strings.Builder
	b.WriteString(strings.Join(ingestion.Columns, ","))
	b.WriteByte('\n')
	for _, r := range rows {
		cells := make([]string, len(ingestion.Columns))
		for i, c := range ingestion.Columns {
			cells[i] = r[c]
		}
		b.WriteString(strings.Join(cells, ","))
		b.WriteByte('\n')
	}
	return b.String()
}

// SettledRow is a kept Settled line crediting net in AED.
func SettledRow(batch, psp, mref, net string) map[string]string {
	return map[string]string{
		ingestion.ColBatchNumber:       batch,
		ingestion.ColPSPReference:      psp,
		ingestion.ColMerchantReference: mref,
		ingestion.ColType:              "Settled",
		ingestion.ColCreationDate:      "2024-03-14 10:15:00",
		ingestion.ColTimeZone:          "UTC",
		ingestion.ColGrossCurrency:     "AED",
		ingestion.ColGrossCredit:       net,
		ingestion.ColNetCurrency:       "AED",
		ingestion.ColNetCredit:         net,
		ingestion.ColPaymentMethod:     "visa",
	}
}

// WriteFile writes content under a temp dir and returns the path.
func WriteFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
