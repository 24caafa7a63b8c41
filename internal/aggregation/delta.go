package aggregation

import (
	"github.com/shopspring/decimal"

	"github.com/storefront/settlement-reconciler/internal/domain"
	"github.com/storefront/settlement-reconciler/internal/ingestion"
)

// TotalsFor returns the monetary contribution of one line.
func TotalsFor(l *ingestion.Line, fee decimal.Decimal) domain.Totals {
	return domain.Totals{
		GrossDebit:    domain.AmountOf(l.GrossDebit),
		GrossCredit:   domain.AmountOf(l.GrossCredit),
		NetDebit:      domain.AmountOf(l.NetDebit),
		NetCredit:     domain.AmountOf(l.NetCredit),
		Commission:    domain.AmountOf(l.Commission),
		ProcessingFee: domain.AmountOf(fee),
		Markup:        domain.AmountOf(l.Markup),
		SchemeFees:    domain.AmountOf(l.SchemeFees),
		Interchange:   domain.AmountOf(l.Interchange),
	}
}

// DetailFor builds the detail record persisted for a kept line.
func DetailFor(l *ingestion.Line, fee decimal.Decimal) domain.SettlementDetail {
	return domain.SettlementDetail{
		PSPReference:                  l.PSPReference,
		ModificationReference:         l.ModificationReference,
		MerchantReference:             l.MerchantReference,
		ModificationMerchantReference: l.ModificationMerchantReference,
		Type:                          l.Type,
		CreationDate:                  l.CreationDate,
		TimeZone:                      l.TimeZone,
		GrossCurrency:                 l.GrossCurrency,
		NetCurrency:                   l.NetCurrency,
		PaymentMethod:                 l.PaymentMethod,
		PaymentMethodVariant:          l.PaymentMethodVariant,
		BatchNumber:                   l.BatchNumber,
		Totals:                        TotalsFor(l, fee),
	}
}

// ParentDeltaFor is the change a line applies to its settlement parent.
// Processing fees are recomputed from details and never accumulated.
func ParentDeltaFor(d *domain.SettlementDetail, reportPSPReference string) domain.ParentDelta {
	t := d.Totals
	t.ProcessingFee = domain.Amount{}
	return domain.ParentDelta{
		GrossCurrency:      d.GrossCurrency,
		NetCurrency:        d.NetCurrency,
		ReportPSPReference: reportPSPReference,
		Totals:             t,
	}
}
