package currency

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestExponent(t *testing.T) {
	tests := []struct {
		code string
		want int32
	}{
		{"JPY", 0},
		{"krw", 0},
		{"XOF", 0},
		{"KWD", 3},
		{"BHD", 3},
		{"AED", 2},
		{"USD", 2},
		{"", 2},
		{"ZZZ", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Exponent(tt.code), tt.code)
	}
}

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		code   string
		want   int64
	}{
		{"zero decimal", "100", "JPY", 100},
		{"two decimal", "25.50", "AED", 2550},
		{"three decimal", "12.345", "KWD", 12345},
		{"negative", "-25.00", "AED", -2500},
		{"half rounds away from zero", "0.005", "USD", 1},
		{"negative half rounds away from zero", "-0.005", "USD", -1},
		{"yen fraction", "99.5", "JPY", 100},
		{"surrounding space", " 7.10 ", "EUR", 710},
		{"empty", "", "AED", 0},
		{"not a number", "n/a", "AED", 0},
		{"thousands separator rejected", "1,000.00", "AED", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToMinorUnits(tt.amount, tt.code))
		})
	}
}

func TestMinorUnits_NetMovement(t *testing.T) {
	credit := decimal.RequireFromString("100.00")
	debit := decimal.RequireFromString("25.00")

	assert.Equal(t, int64(10000), MinorUnits(credit.Sub(decimal.Zero), "AED"))
	assert.Equal(t, int64(-2500), MinorUnits(decimal.Zero.Sub(debit), "AED"))
}
