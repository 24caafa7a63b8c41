// Command generate writes the local development fixtures: an orders file for
// seeding and a settlement details report for batch 41 that exercises every
// matching path and row filter.
package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/storefront/settlement-reconciler/internal/domain"
	"github.com/storefront/settlement-reconciler/internal/ingestion"
)

const (
	orderCount = 24
	batch      = 41
	reportName = "settlement_detail_report_batch_41.csv"
)

type seedOrder struct {
	domain.Order
	Transactions []domain.Transaction `json:"transactions"`
}

func main() {
	baseDir := findTestdataDir()

	orders := buildOrders()
	writeJSONFile(filepath.Join(baseDir, "orders.json"), orders)
	fmt.Printf("Generated %d orders -> orders.json\n", len(orders))

	n := writeReport(filepath.Join(baseDir, reportName), orders)
	fmt.Printf("Generated %d report rows -> %s\n", n, reportName)
}

func orderNumber(i int) string  { return fmt.Sprintf("ord_%05d", 1000+i) }
func pspReference(i int) string { return fmt.Sprintf("88%014d", 5000+i) }
func amountMinor(i int) int64   { return 2500 + int64(i)*375 }

func buildOrders() []seedOrder {
	out := make([]seedOrder, 0, orderCount)
	for i := 0; i < orderCount; i++ {
		amt := amountMinor(i)
		out = append(out, seedOrder{
			Order: domain.Order{
				OrderNumber:  orderNumber(i),
				Currency:     "AED",
				AmountMinor:  amt,
				Status:       domain.OrderCaptured,
				PSPReference: pspReference(i),
			},
			Transactions: []domain.Transaction{{
				Type:         "CAPTURE",
				Status:       domain.TxnStatusSuccess,
				AmountMinor:  amt,
				Currency:     "AED",
				PSPReference: pspReference(i),
				RawMethod:    "visa",
			}},
		})
	}
	return out
}

// writeReport emits one Settled line per order except every eighth, which
// stays unsettled. Every sixth line embeds the order reference in a longer
// merchant reference and every tenth carries a legacy reference that only
// the psp reference can resolve. Rows the pipeline must drop or leave
// unmatched follow.
func writeReport(path string, orders []seedOrder) int {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	w.Write(ingestion.Columns)

	start := time.Date(2024, 3, 14, 8, 0, 0, 0, time.UTC)
	rows := 0
	emit := func(cells map[string]string) {
		rec := make([]string, len(ingestion.Columns))
		for i, c := range ingestion.Columns {
			rec[i] = cells[c]
		}
		w.Write(rec)
		rows++
	}

	for i, o := range orders {
		if i%8 == 7 {
			continue
		}
		mref := o.OrderNumber
		switch {
		case i%6 == 5:
			mref = "web-" + o.OrderNumber + "/1"
		case i%10 == 9:
			mref = fmt.Sprintf("ord_legacy_%d", i)
		}
		commission := o.AmountMinor * 25 / 1000
		emit(line(pspReference(i), mref, "Settled", start.Add(time.Duration(i)*17*time.Minute),
			0, o.AmountMinor, 0, o.AmountMinor-commission, commission))
	}

	refund := orders[0]
	emit(line("8800000000009001", refund.OrderNumber, "Refunded", start.Add(26*time.Hour),
		1000, 0, 1000, 0, 0))
	emit(line("8800000000009002", "ord_99999", "Settled", start.Add(27*time.Hour),
		0, 4200, 0, 4095, 105))
	emit(line("8800000000009003", "unrelated-123", "Settled", start.Add(28*time.Hour),
		0, 9900, 0, 9652, 248))
	emit(line("", "", "Fee", start.Add(29*time.Hour), 0, 0, 350, 0, 0))
	emit(line("", "ord_transfer", "Balance Transfer", start.Add(30*time.Hour), 0, 0, 0, 50000, 0))
	emit(map[string]string{})

	return rows
}

func line(psp, mref, typ string, at time.Time, grossDebit, grossCredit, netDebit, netCredit, commission int64) map[string]string {
	return map[string]string{
		ingestion.ColCompanyAccount:       "StoreCompany",
		ingestion.ColMerchantAccount:      "StoreECOM",
		ingestion.ColPSPReference:         psp,
		ingestion.ColMerchantReference:    mref,
		ingestion.ColPaymentMethod:        "visa",
		ingestion.ColCreationDate:         at.Format("2006-01-02 15:04:05"),
		ingestion.ColTimeZone:             "UTC",
		ingestion.ColType:                 typ,
		ingestion.ColGrossCurrency:        "AED",
		ingestion.ColGrossDebit:           money(grossDebit),
		ingestion.ColGrossCredit:          money(grossCredit),
		ingestion.ColExchangeRate:         "1",
		ingestion.ColNetCurrency:          "AED",
		ingestion.ColNetDebit:             money(netDebit),
		ingestion.ColNetCredit:            money(netCredit),
		ingestion.ColCommission:           money(commission),
		ingestion.ColPaymentMethodVariant: "visacredit",
		ingestion.ColBatchNumber:          fmt.Sprint(batch),
	}
}

func money(minor int64) string {
	if minor == 0 {
		return ""
	}
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

func writeJSONFile(path string, v any) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		panic(err)
	}
}

func findTestdataDir() string {
	for _, c := range []string{"testdata", "../testdata", "."} {
		if info, err := os.Stat(filepath.Join(c, "generate")); err == nil && info.IsDir() {
			return c
		}
	}
	return "testdata"
}
