package domain

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// amountScale is the number of fractional digits kept in storage. Settlement
// reports never carry more than four.
const amountScale = 4

// Amount is a fixed-point monetary value. It is persisted as an integer count
// of ten-thousandths so that SQL sums stay exact.
type Amount struct {
	decimal.Decimal
}

// AmountOf wraps a decimal value.
func AmountOf(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

// MustAmount parses s and panics on malformed input. Intended for constants and tests.
func MustAmount(s string) Amount {
	return Amount{Decimal: decimal.RequireFromString(s)}
}

// Units returns the stored integer representation.
func (a Amount) Units() int64 {
	return a.Decimal.Shift(amountScale).Round(0).IntPart()
}

// Value implements driver.Valuer.
func (a Amount) Value() (driver.Value, error) {
	return a.Units(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		a.Decimal = decimal.Zero
	case int64:
		a.Decimal = decimal.New(v, -amountScale)
	case float64:
		a.Decimal = decimal.NewFromFloat(v).Shift(-amountScale)
	case []byte:
		return a.scanText(string(v))
	case string:
		return a.scanText(v)
	default:
		return fmt.Errorf("amount: unsupported scan type %T", src)
	}
	return nil
}

func (a *Amount) scanText(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	a.Decimal = d.Shift(-amountScale)
	return nil
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{Decimal: a.Decimal.Add(b.Decimal)}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{Decimal: a.Decimal.Sub(b.Decimal)}
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	return Amount{Decimal: a.Decimal.Neg()}
}

// Equal reports whether a and b represent the same stored value.
func (a Amount) Equal(b Amount) bool {
	return a.Units() == b.Units()
}
