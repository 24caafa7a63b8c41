package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	row := Row{
		ColBatchNumber:          "41",
		ColPSPReference:         "PSP123",
		ColMerchantReference:    "ord_abc",
		ColType:                 "Settled",
		ColCreationDate:         "2024-03-01 10:15:30",
		ColTimeZone:             "UTC",
		ColGrossCurrency:        "aed",
		ColGrossCredit:          "51.50",
		ColNetCurrency:          "AED",
		ColNetCredit:            "50.00",
		ColCommission:           "1.50",
		ColInterchange:          "0.3100",
		ColPaymentMethod:        "visa",
		ColPaymentMethodVariant: "visacredit",
	}

	l := ParseLine(row)

	assert.Equal(t, 41, l.BatchNumber)
	assert.Equal(t, "PSP123", l.PSPReference)
	assert.Equal(t, "ord_abc", l.MerchantReference)
	assert.Equal(t, "AED", l.GrossCurrency)
	assert.Equal(t, "51.5", l.GrossCredit.String())
	assert.True(t, l.GrossDebit.IsZero())
	assert.Equal(t, "50", l.NetCredit.String())
	assert.Equal(t, "1.5", l.Commission.String())
	assert.Equal(t, "0.31", l.Interchange.String())
	assert.True(t, l.IsSettled())
	assert.False(t, l.IsEmpty())
	assert.Equal(t, "50", l.NetMovement().String())

	require.NotNil(t, l.CreationDate)
	assert.True(t, l.CreationDate.Equal(time.Date(2024, 3, 1, 10, 15, 30, 0, time.UTC)))
}

func TestParseLine_Defaults(t *testing.T) {
	l := ParseLine(Row{
		ColBatchNumber: "not-a-number",
		ColNetDebit:    "abc",
		ColNetCredit:   "",
		ColType:        "settled",
	})

	assert.Zero(t, l.BatchNumber)
	assert.True(t, l.NetDebit.IsZero())
	assert.True(t, l.NetCredit.IsZero())
	assert.Nil(t, l.CreationDate)
	assert.Empty(t, l.ModificationReference)
	assert.True(t, l.IsSettled(), "type match is case-insensitive")
}

func TestParseLine_NetMovementNegative(t *testing.T) {
	l := ParseLine(Row{ColNetDebit: "25.00", ColNetCredit: "0"})
	assert.Equal(t, "-25", l.NetMovement().String())
}

func TestParseLine_TimeZoneLocation(t *testing.T) {
	l := ParseLine(Row{ColCreationDate: "2024-03-01 10:00:00", ColTimeZone: "Asia/Dubai"})
	require.NotNil(t, l.CreationDate)
	assert.Equal(t, time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), l.CreationDate.UTC())

	unknown := ParseLine(Row{ColCreationDate: "2024-03-01", ColTimeZone: "Mars/Olympus"})
	require.NotNil(t, unknown.CreationDate)
	assert.Equal(t, time.UTC, unknown.CreationDate.Location())
}

func TestLine_IsEmpty(t *testing.T) {
	assert.True(t, (&Line{}).IsEmpty())
	assert.False(t, (&Line{BatchNumber: 1}).IsEmpty())
	assert.False(t, (&Line{Type: "Settled"}).IsEmpty())
	assert.False(t, (&Line{PSPReference: "P"}).IsEmpty())
}
