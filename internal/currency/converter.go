package currency

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists ISO 4217 currencies without a minor unit.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true,
	"JPY": true, "KMF": true, "KRW": true, "MGA": true,
	"PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// threeDecimal lists currencies with three minor digits.
var threeDecimal = map[string]bool{
	"BHD": true, "IQD": true, "JOD": true, "KWD": true,
	"LYD": true, "OMR": true, "TND": true,
}

// Exponent returns the number of minor-unit digits for a currency code.
// Unknown codes default to 2.
func Exponent(code string) int32 {
	code = strings.ToUpper(strings.TrimSpace(code))
	switch {
	case zeroDecimal[code]:
		return 0
	case threeDecimal[code]:
		return 3
	default:
		return 2
	}
}

// MinorUnits converts a decimal amount to integer minor units of the given
// currency. Halves round away from zero.
func MinorUnits(amount decimal.Decimal, code string) int64 {
	return amount.Shift(Exponent(code)).Round(0).IntPart()
}

// ToMinorUnits parses a plain decimal string and converts it to minor units.
// Empty or non-numeric input yields 0.
func ToMinorUnits(s, code string) int64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return MinorUnits(d, code)
}
