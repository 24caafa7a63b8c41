package domain

import "time"

// Settlement is the parent aggregate for one (batch number, report file) pair.
type Settlement struct {
	ID                 int64      `json:"id" db:"id"`
	BatchNumber        int        `json:"batch_number" db:"batch_number"`
	ReportFilename     string     `json:"report_filename" db:"report_filename"`
	ReportPSPReference *string    `json:"report_psp_reference,omitempty" db:"report_psp_reference"`
	ReportDate         *time.Time `json:"report_date,omitempty" db:"-"`
	GrossCurrency      *string    `json:"gross_currency,omitempty" db:"gross_currency"`
	NetCurrency        *string    `json:"net_currency,omitempty" db:"net_currency"`
	Totals
}

// Totals are the running monetary figures of a settlement parent.
type Totals struct {
	GrossDebit    Amount `json:"gross_debit" db:"gross_debit"`
	GrossCredit   Amount `json:"gross_credit" db:"gross_credit"`
	NetDebit      Amount `json:"net_debit" db:"net_debit"`
	NetCredit     Amount `json:"net_credit" db:"net_credit"`
	Commission    Amount `json:"commission" db:"commission"`
	ProcessingFee Amount `json:"processing_fee" db:"processing_fee"`
	Markup        Amount `json:"markup" db:"markup"`
	SchemeFees    Amount `json:"scheme_fees" db:"scheme_fees"`
	Interchange   Amount `json:"interchange" db:"interchange"`
}

// Add returns the field-wise sum. ProcessingFee is included; callers that
// must not accumulate it clear it first.
func (t Totals) Add(o Totals) Totals {
	return Totals{
		GrossDebit:    t.GrossDebit.Add(o.GrossDebit),
		GrossCredit:   t.GrossCredit.Add(o.GrossCredit),
		NetDebit:      t.NetDebit.Add(o.NetDebit),
		NetCredit:     t.NetCredit.Add(o.NetCredit),
		Commission:    t.Commission.Add(o.Commission),
		ProcessingFee: t.ProcessingFee.Add(o.ProcessingFee),
		Markup:        t.Markup.Add(o.Markup),
		SchemeFees:    t.SchemeFees.Add(o.SchemeFees),
		Interchange:   t.Interchange.Add(o.Interchange),
	}
}

// Neg returns the field-wise negation.
func (t Totals) Neg() Totals {
	return Totals{
		GrossDebit:    t.GrossDebit.Neg(),
		GrossCredit:   t.GrossCredit.Neg(),
		NetDebit:      t.NetDebit.Neg(),
		NetCredit:     t.NetCredit.Neg(),
		Commission:    t.Commission.Neg(),
		ProcessingFee: t.ProcessingFee.Neg(),
		Markup:        t.Markup.Neg(),
		SchemeFees:    t.SchemeFees.Neg(),
		Interchange:   t.Interchange.Neg(),
	}
}

// ParentKey identifies a settlement parent.
type ParentKey struct {
	BatchNumber    int
	ReportFilename string
}

// ParentDelta is a change to apply to a settlement parent. Currencies are only
// written when the parent has none yet.
type ParentDelta struct {
	GrossCurrency      string
	NetCurrency        string
	ReportPSPReference string
	Totals
}

// SettlementDetail is one retained line of a settlement report.
type SettlementDetail struct {
	ID                            int64      `json:"id"`
	PSPReference                  string     `json:"psp_reference"`
	ModificationReference         string     `json:"modification_reference,omitempty"`
	MerchantReference             string     `json:"merchant_reference"`
	ModificationMerchantReference string     `json:"modification_merchant_reference,omitempty"`
	Type                          string     `json:"type"`
	CreationDate                  *time.Time `json:"creation_date,omitempty"`
	TimeZone                      string     `json:"timezone,omitempty"`
	GrossCurrency                 string     `json:"gross_currency,omitempty"`
	NetCurrency                   string     `json:"net_currency,omitempty"`
	PaymentMethod                 string     `json:"payment_method,omitempty"`
	PaymentMethodVariant          string     `json:"payment_method_variant,omitempty"`
	BatchNumber                   int        `json:"batch_number"`
	SettlementID                  int64      `json:"settlement_id"`
	Totals
}

// DetailKey is the natural idempotency key of a settlement line.
type DetailKey struct {
	PSPReference          string
	Type                  string
	ModificationReference string
	BatchNumber           int
}

// Key returns the natural key of d.
func (d *SettlementDetail) Key() DetailKey {
	return DetailKey{
		PSPReference:          d.PSPReference,
		Type:                  d.Type,
		ModificationReference: d.ModificationReference,
		BatchNumber:           d.BatchNumber,
	}
}
