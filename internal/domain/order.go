package domain

import "time"

type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderAuthorised OrderStatus = "AUTHORISED"
	OrderCaptured   OrderStatus = "CAPTURED"
	OrderSettled    OrderStatus = "SETTLED"
)

// Order is owned by the order service; reconciliation only reads it and
// stamps settlement metadata.
type Order struct {
	ID              int64       `json:"id"`
	OrderNumber     string      `json:"order_number"`
	Currency        string      `json:"currency"`
	AmountMinor     int64       `json:"amount_minor"`
	Status          OrderStatus `json:"status"`
	PSPReference    string      `json:"psp_ref,omitempty"`
	ProcessingFee   *Amount     `json:"processing_fee,omitempty"`
	SettledAt       *time.Time  `json:"settled_at,omitempty"`
	SettlementBatch *int        `json:"settlement_batch,omitempty"`
}
