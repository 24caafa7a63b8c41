// Package aggregation decides which report lines are kept and turns them into
// settlement deltas.
package aggregation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/storefront/settlement-reconciler/internal/ingestion"
)

// SkipReason says why a line was dropped.
type SkipReason string

const (
	Keep             SkipReason = ""
	SkipEmpty        SkipReason = "empty"
	SkipExcludedType SkipReason = "excluded_type"
	SkipReference    SkipReason = "foreign_reference"
)

// Policy is the row filter and fee attribution applied to every line.
type Policy struct {
	reference *regexp.Regexp
	token     *regexp.Regexp
	excluded  map[string]bool
	fee       decimal.Decimal
}

// NewPolicy compiles the order reference prefix pattern. Excluded types are
// compared case-insensitively.
func NewPolicy(referencePrefix string, excludedTypes []string, fee decimal.Decimal) (*Policy, error) {
	ref, err := regexp.Compile(referencePrefix)
	if err != nil {
		return nil, fmt.Errorf("compile reference prefix: %w", err)
	}
	tok, err := regexp.Compile(`(?:` + referencePrefix + `)[A-Za-z0-9_-]*`)
	if err != nil {
		return nil, fmt.Errorf("compile reference token: %w", err)
	}
	excluded := make(map[string]bool, len(excludedTypes))
	for _, t := range excludedTypes {
		excluded[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return &Policy{reference: ref, token: tok, excluded: excluded, fee: fee}, nil
}

// Evaluate returns Keep for lines that belong in the settlement tables.
func (p *Policy) Evaluate(l *ingestion.Line) SkipReason {
	switch {
	case l.IsEmpty():
		return SkipEmpty
	case p.excluded[strings.ToLower(strings.TrimSpace(l.Type))]:
		return SkipExcludedType
	case !p.reference.MatchString(l.MerchantReference):
		return SkipReference
	default:
		return Keep
	}
}

// ProcessingFee is the fee attributed to a kept line: the fixed amount for
// settled lines and zero otherwise.
func (p *Policy) ProcessingFee(l *ingestion.Line) decimal.Decimal {
	if l.IsSettled() {
		return p.fee
	}
	return decimal.Zero
}

// Fee returns the fixed per-line fee.
func (p *Policy) Fee() decimal.Decimal {
	return p.fee
}

// OrderToken extracts the store order reference embedded in a merchant
// reference, e.g. "ord_abc" from "web-ord_abc/2". It returns "" when absent.
func (p *Policy) OrderToken(merchantReference string) string {
	return p.token.FindString(merchantReference)
}
