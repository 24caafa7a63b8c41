package domain

import "time"

// Ledger values written by the settlement poster.
const (
	TxnTypeSettled   = "SETTLED"
	TxnStatusSuccess = "SUCCESS"
	TxnMethodReport  = "REPORT"
)

// Transaction is a row of the append-only order ledger.
type Transaction struct {
	ID           int64     `json:"id" db:"id"`
	OrderID      int64     `json:"order_id" db:"order_id"`
	Type         string    `json:"type" db:"type"`
	Status       string    `json:"status" db:"status"`
	AmountMinor  int64     `json:"amount_minor" db:"amount_minor"`
	Currency     string    `json:"currency" db:"currency"`
	PSPReference string    `json:"psp_ref" db:"psp_ref"`
	RawMethod    string    `json:"raw_method" db:"raw_method"`
	CreatedAt    time.Time `json:"created_at" db:"-"`
}
