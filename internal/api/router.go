package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/storefront/settlement-reconciler/internal/repository"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Reports         *repository.ReportRepo
	Settlements     *repository.SettlementRepo
	Reconciliation  *repository.ReconciliationRepo
	Pipeline        Pipeline
	Webhooks        Receiver
	Metrics         http.Handler
	DefaultCurrency string
	Logger          *zap.Logger
}

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger.Named("api")
	h := &Handlers{
		reports:         d.Reports,
		settlements:     d.Settlements,
		recon:           d.Reconciliation,
		pipeline:        d.Pipeline,
		webhooks:        d.Webhooks,
		defaultCurrency: d.DefaultCurrency,
		logger:          logger,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	// Processor deliveries.
	r.Post("/webhooks/adyen/reports", h.ReceiveWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		// Report catalog and manual processing.
		r.Get("/reports", h.ListReports)
		r.Post("/reports/{id}/process", h.ProcessReport)
		r.Get("/notifications", h.ListNotifications)
		r.Post("/notifications/{id}/process", h.ProcessNotification)

		// Settlements.
		r.Get("/settlements", h.ListSettlements)
		r.Get("/settlements/{id}/details", h.ListSettlementDetails)

		// Reconciliation views.
		r.Get("/reconciliation/summary", h.GetSummary)
		r.Get("/reconciliation/unmatched", h.ListUnmatched)
		r.Get("/reconciliation/unsettled-orders", h.ListUnsettledOrders)
	})

	return r
}

// requestLogger writes one entry per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("took", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
