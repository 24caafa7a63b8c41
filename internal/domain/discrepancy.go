package domain

// UnmatchedLine is a settled report line with no order by merchant reference
// and no ledger row by psp reference.
type UnmatchedLine struct {
	CreationDate         string `json:"creation_date" db:"creation_date"`
	PSPReference         string `json:"psp_reference" db:"psp_reference"`
	MerchantReference    string `json:"merchant_reference" db:"merchant_reference"`
	PaymentMethod        string `json:"payment_method" db:"payment_method"`
	PaymentMethodVariant string `json:"payment_method_variant" db:"payment_method_variant"`
	NetMovement          Amount `json:"net_movement" db:"net_movement"`
	NetCurrency          string `json:"net_currency" db:"net_currency"`
	BatchNumber          int    `json:"batch_number" db:"batch_number"`
}

// UnsettledOrder is an order without a successful SETTLED ledger row.
type UnsettledOrder struct {
	ID              int64   `json:"id" db:"id"`
	OrderNumber     string  `json:"order_number" db:"order_number"`
	Status          string  `json:"status" db:"status"`
	PSPReference    *string `json:"psp_ref,omitempty" db:"psp_ref"`
	SettledAt       *string `json:"settled_at,omitempty" db:"settled_at"`
	SettlementBatch *int    `json:"settlement_batch,omitempty" db:"settlement_batch"`
}

// ReconciliationSummary holds the KPIs for a date range and currency.
type ReconciliationSummary struct {
	Currency      string  `json:"currency"`
	From          string  `json:"from"`
	To            string  `json:"to"`
	GrossMovement Amount  `json:"gross_movement" db:"gross_movement"`
	Commission    Amount  `json:"fee_commission" db:"fee_commission"`
	ProcessingFee Amount  `json:"fee_processing" db:"fee_processing"`
	Markup        Amount  `json:"fee_markup" db:"fee_markup"`
	SchemeFees    Amount  `json:"fee_scheme" db:"fee_scheme"`
	Interchange   Amount  `json:"fee_interchange" db:"fee_interchange"`
	NetInflow     Amount  `json:"net_inflow" db:"net_inflow"`
	SettledLines  int     `json:"settled_lines" db:"settled_lines"`
	MatchedLines  int     `json:"matched_lines" db:"matched_lines"`
	MatchRatePct  float64 `json:"match_rate_pct"`
}
