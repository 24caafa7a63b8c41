package reconciliation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/storefront/settlement-reconciler/internal/currency"
	"github.com/storefront/settlement-reconciler/internal/domain"
	"github.com/storefront/settlement-reconciler/internal/ingestion"
)

// OrderUpdater is the order-side surface the poster writes to.
type OrderUpdater interface {
	SetProcessingFee(ctx context.Context, id int64, fee domain.Amount) error
	MarkSettled(ctx context.Context, id int64, batch int, at time.Time) (bool, error)
	SetStatus(ctx context.Context, id int64, status domain.OrderStatus) (bool, error)
}

// Ledger appends settlement rows to the order ledger.
type Ledger interface {
	InsertSettledOnce(ctx context.Context, t *domain.Transaction) (bool, error)
}

// PostOutcome reports the side effects of posting one settled line.
type PostOutcome struct {
	Transaction   *domain.Transaction
	Inserted      bool
	OrdersUpdated int
}

// Poster writes settlement effects onto matched orders. Order updates are
// best effort: failures are logged and never abort a report.
type Poster struct {
	orders          OrderUpdater
	ledger          Ledger
	defaultCurrency string
	logger          *zap.Logger
	now             func() time.Time
}

func NewPoster(orders OrderUpdater, ledger Ledger, defaultCurrency string, logger *zap.Logger) *Poster {
	return &Poster{
		orders:          orders,
		ledger:          ledger,
		defaultCurrency: defaultCurrency,
		logger:          logger.Named("poster"),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// StampFee records the attributed processing fee on an order. It reports
// whether the order was updated.
func (p *Poster) StampFee(ctx context.Context, orderID int64, fee decimal.Decimal) bool {
	if err := p.orders.SetProcessingFee(ctx, orderID, domain.AmountOf(fee)); err != nil {
		p.logger.Warn("stamp processing fee", zap.Int64("order_id", orderID), zap.Error(err))
		return false
	}
	return true
}

// Currency picks the currency a line settles in.
func (p *Poster) Currency(l *ingestion.Line) string {
	switch {
	case l.NetCurrency != "":
		return l.NetCurrency
	case l.GrossCurrency != "":
		return l.GrossCurrency
	default:
		return p.defaultCurrency
	}
}

// PostSettled appends a SETTLED ledger row for the line unless the order
// already has one for the same reference, then makes sure the order is marked
// settled. The settle stamp runs on every pass so that an order update that
// failed earlier is repaired by reprocessing. Only the ledger write can fail
// the call.
func (p *Poster) PostSettled(ctx context.Context, orderID int64, l *ingestion.Line) (PostOutcome, error) {
	ccy := p.Currency(l)
	ref := l.PSPReference
	if ref == "" {
		ref = l.MerchantReference
	}

	txn := &domain.Transaction{
		OrderID:      orderID,
		Type:         domain.TxnTypeSettled,
		Status:       domain.TxnStatusSuccess,
		AmountMinor:  currency.MinorUnits(l.NetMovement(), ccy),
		Currency:     ccy,
		PSPReference: ref,
		RawMethod:    domain.TxnMethodReport,
	}
	inserted, err := p.ledger.InsertSettledOnce(ctx, txn)
	if err != nil {
		return PostOutcome{}, err
	}
	out := PostOutcome{Transaction: txn, Inserted: inserted}
	if p.markSettled(ctx, orderID, l.BatchNumber) {
		out.OrdersUpdated++
	}
	return out, nil
}

// markSettled stamps the order settled, falling back to the status column
// alone when the settlement columns are missing. It reports whether the order
// changed.
func (p *Poster) markSettled(ctx context.Context, orderID int64, batch int) bool {
	log := p.logger.With(zap.Int64("order_id", orderID), zap.Int("batch", batch))
	updated, err := p.orders.MarkSettled(ctx, orderID, batch, p.now())
	if err == nil {
		return updated
	}
	log.Warn("mark order settled, falling back to status only", zap.Error(err))
	updated, err = p.orders.SetStatus(ctx, orderID, domain.OrderSettled)
	if err != nil {
		log.Warn("set order status", zap.Error(err))
		return false
	}
	return updated
}
