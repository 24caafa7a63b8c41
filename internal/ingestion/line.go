package ingestion

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Settlement detail report columns.
const (
	ColBatchNumber                   = "Batch Number"
	ColPSPReference                  = "Psp Reference"
	ColMerchantReference             = "Merchant Reference"
	ColModificationReference         = "Modification Reference"
	ColModificationMerchantReference = "Modification Merchant Reference"
	ColType                          = "Type"
	ColCreationDate                  = "Creation Date"
	ColTimeZone                      = "TimeZone"
	ColGrossCurrency                 = "Gross Currency"
	ColGrossDebit                    = "Gross Debit (GC)"
	ColGrossCredit                   = "Gross Credit (GC)"
	ColNetCurrency                   = "Net Currency"
	ColNetDebit                      = "Net Debit (NC)"
	ColNetCredit                     = "Net Credit (NC)"
	ColCommission                    = "Commission (NC)"
	ColMarkup                        = "Markup (NC)"
	ColSchemeFees                    = "Scheme Fees (NC)"
	ColInterchange                   = "Interchange (NC)"
	ColPaymentMethod                 = "Payment Method"
	ColPaymentMethodVariant          = "Payment Method Variant"
)

// Columns lists the report header in its usual order.
var Columns = []string{
	ColCompanyAccount, ColMerchantAccount, ColPSPReference, ColMerchantReference,
	ColPaymentMethod, ColCreationDate, ColTimeZone, ColType, ColModificationReference,
	ColGrossCurrency, ColGrossDebit, ColGrossCredit, ColExchangeRate,
	ColNetCurrency, ColNetDebit, ColNetCredit, ColCommission, ColMarkup,
	ColSchemeFees, ColInterchange, ColPaymentMethodVariant,
	ColModificationMerchantReference, ColBatchNumber,
}

// Columns present in real reports that the pipeline does not read.
const (
	ColCompanyAccount  = "Company Account"
	ColMerchantAccount = "Merchant Account"
	ColExchangeRate    = "Exchange Rate"
)

var creationLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02",
}

// Line is a typed settlement report row. Missing or malformed cells become
// empty strings, zero amounts or a nil creation date.
type Line struct {
	BatchNumber                   int
	PSPReference                  string
	MerchantReference             string
	ModificationReference         string
	ModificationMerchantReference string
	Type                          string
	CreationDate                  *time.Time
	TimeZone                      string
	GrossCurrency                 string
	GrossDebit                    decimal.Decimal
	GrossCredit                   decimal.Decimal
	NetCurrency                   string
	NetDebit                      decimal.Decimal
	NetCredit                     decimal.Decimal
	Commission                    decimal.Decimal
	Markup                        decimal.Decimal
	SchemeFees                    decimal.Decimal
	Interchange                   decimal.Decimal
	PaymentMethod                 string
	PaymentMethodVariant          string
}

// ParseLine extracts a Line from a row.
func ParseLine(row Row) Line {
	tz := row[ColTimeZone]
	return Line{
		BatchNumber:                   parseBatch(row[ColBatchNumber]),
		PSPReference:                  row[ColPSPReference],
		MerchantReference:             row[ColMerchantReference],
		ModificationReference:         row[ColModificationReference],
		ModificationMerchantReference: row[ColModificationMerchantReference],
		Type:                          row[ColType],
		CreationDate:                  parseCreationDate(row[ColCreationDate], tz),
		TimeZone:                      tz,
		GrossCurrency:                 strings.ToUpper(row[ColGrossCurrency]),
		GrossDebit:                    ParseAmount(row[ColGrossDebit]),
		GrossCredit:                   ParseAmount(row[ColGrossCredit]),
		NetCurrency:                   strings.ToUpper(row[ColNetCurrency]),
		NetDebit:                      ParseAmount(row[ColNetDebit]),
		NetCredit:                     ParseAmount(row[ColNetCredit]),
		Commission:                    ParseAmount(row[ColCommission]),
		Markup:                        ParseAmount(row[ColMarkup]),
		SchemeFees:                    ParseAmount(row[ColSchemeFees]),
		Interchange:                   ParseAmount(row[ColInterchange]),
		PaymentMethod:                 row[ColPaymentMethod],
		PaymentMethodVariant:          row[ColPaymentMethodVariant],
	}
}

// IsEmpty reports whether the line carries no reference, no type and no batch.
func (l *Line) IsEmpty() bool {
	return l.PSPReference == "" && l.Type == "" && l.BatchNumber == 0
}

// IsSettled reports whether the line is a settled capture.
func (l *Line) IsSettled() bool {
	return strings.EqualFold(l.Type, "Settled")
}

// NetMovement is net credit minus net debit.
func (l *Line) NetMovement() decimal.Decimal {
	return l.NetCredit.Sub(l.NetDebit)
}

// ParseAmount parses a plain decimal cell. Empty or malformed cells are zero.
func ParseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseBatch(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func parseCreationDate(s, tz string) *time.Time {
	if s == "" {
		return nil
	}
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	for _, layout := range creationLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t
		}
	}
	return nil
}
