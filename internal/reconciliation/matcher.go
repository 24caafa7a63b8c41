package reconciliation

import (
	"context"
	"fmt"
	"strings"
)

// OrderFinder resolves a store order reference.
type OrderFinder interface {
	FindIDByOrderNumber(ctx context.Context, orderNumber string) (int64, bool, error)
}

// LedgerFinder resolves a processor reference through the order ledger.
type LedgerFinder interface {
	FindOrderIDByPSPReference(ctx context.Context, pspRef string) (int64, bool, error)
}

// TokenExtractor pulls an embedded order reference out of a longer one.
type TokenExtractor interface {
	OrderToken(merchantReference string) string
}

type MatchMethod string

const (
	MatchNone              MatchMethod = "none"
	MatchMerchantReference MatchMethod = "merchant_reference"
	MatchEmbeddedReference MatchMethod = "embedded_reference"
	MatchPSPReference      MatchMethod = "psp_reference"
)

// Match is the order a settlement line resolved to.
type Match struct {
	OrderID int64       `json:"order_id,omitempty"`
	Method  MatchMethod `json:"method"`
}

func (m Match) Found() bool {
	return m.Method != MatchNone && m.OrderID != 0
}

// Matcher links settlement lines to orders. Lookups are tried in order: the
// merchant reference as an order number, the order token embedded in it, and
// finally the latest ledger row carrying the psp reference.
type Matcher struct {
	orders OrderFinder
	ledger LedgerFinder
	tokens TokenExtractor
}

// NewMatcher builds a Matcher. tokens may be nil to disable embedded lookups.
func NewMatcher(orders OrderFinder, ledger LedgerFinder, tokens TokenExtractor) *Matcher {
	return &Matcher{orders: orders, ledger: ledger, tokens: tokens}
}

// Match never fails for a missing order; only lookup errors are returned.
func (m *Matcher) Match(ctx context.Context, merchantRef, pspRef string) (Match, error) {
	merchantRef = strings.TrimSpace(merchantRef)
	pspRef = strings.TrimSpace(pspRef)

	if merchantRef != "" {
		id, ok, err := m.orders.FindIDByOrderNumber(ctx, merchantRef)
		if err != nil {
			return Match{Method: MatchNone}, fmt.Errorf("find order %q: %w", merchantRef, err)
		}
		if ok {
			return Match{OrderID: id, Method: MatchMerchantReference}, nil
		}

		if m.tokens != nil {
			if tok := m.tokens.OrderToken(merchantRef); tok != "" && tok != merchantRef {
				id, ok, err := m.orders.FindIDByOrderNumber(ctx, tok)
				if err != nil {
					return Match{Method: MatchNone}, fmt.Errorf("find order %q: %w", tok, err)
				}
				if ok {
					return Match{OrderID: id, Method: MatchEmbeddedReference}, nil
				}
			}
		}
	}

	if pspRef != "" {
		id, ok, err := m.ledger.FindOrderIDByPSPReference(ctx, pspRef)
		if err != nil {
			return Match{Method: MatchNone}, fmt.Errorf("find order by psp %q: %w", pspRef, err)
		}
		if ok {
			return Match{OrderID: id, Method: MatchPSPReference}, nil
		}
	}

	return Match{Method: MatchNone}, nil
}
