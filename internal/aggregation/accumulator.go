package aggregation

import (
	"sort"

	"github.com/storefront/settlement-reconciler/internal/domain"
	"github.com/storefront/settlement-reconciler/internal/ingestion"
)

// BatchTotals sums the kept lines of one batch within a report.
type BatchTotals struct {
	BatchNumber   int    `json:"batch_number"`
	GrossCurrency string `json:"gross_currency,omitempty"`
	NetCurrency   string `json:"net_currency,omitempty"`
	Lines         int    `json:"lines"`
	domain.Totals
}

// Accumulator groups line totals by batch number. Currencies are taken from
// the first line that carries one.
type Accumulator struct {
	batches map[int]*BatchTotals
}

func NewAccumulator() *Accumulator {
	return &Accumulator{batches: make(map[int]*BatchTotals)}
}

// Add folds one line into its batch.
func (a *Accumulator) Add(l *ingestion.Line, t domain.Totals) {
	b, ok := a.batches[l.BatchNumber]
	if !ok {
		b = &BatchTotals{BatchNumber: l.BatchNumber}
		a.batches[l.BatchNumber] = b
	}
	if b.GrossCurrency == "" {
		b.GrossCurrency = l.GrossCurrency
	}
	if b.NetCurrency == "" {
		b.NetCurrency = l.NetCurrency
	}
	b.Totals = b.Totals.Add(t)
	b.Lines++
}

// Batch returns the totals for one batch.
func (a *Accumulator) Batch(n int) (BatchTotals, bool) {
	b, ok := a.batches[n]
	if !ok {
		return BatchTotals{}, false
	}
	return *b, true
}

// Batches returns all batches ordered by number.
func (a *Accumulator) Batches() []BatchTotals {
	out := make([]BatchTotals, 0, len(a.batches))
	for _, b := range a.batches {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchNumber < out[j].BatchNumber })
	return out
}
