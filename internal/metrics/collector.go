package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "reconciler"
	subsystem = "settlement"
)

// Collector holds the pipeline and webhook metrics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	webhookItems       *prometheus.CounterVec
	reportsProcessed   prometheus.Counter
	reportsFailed      *prometheus.CounterVec
	rowsParsed         prometheus.Counter
	rowsSkipped        *prometheus.CounterVec
	rowErrors          prometheus.Counter
	detailsUpserted    prometheus.Counter
	transactionsPosted prometheus.Counter
	processingDuration prometheus.Histogram
}

// NewCollector registers all metrics with reg.
func NewCollector(reg *prometheus.Registry) *Collector {
	f := promauto.With(reg)
	return &Collector{
		gatherer: reg,

		webhookItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "items_received_total",
			Help:      "Notification items received, by event code and success flag",
		}, []string{"event_code", "success"}),

		reportsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reports_processed_total",
			Help:      "Reports ingested successfully",
		}),
		reportsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reports_failed_total",
			Help:      "Reports that failed, by stage",
		}, []string{"stage"}),

		rowsParsed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rows_parsed_total",
			Help:      "CSV rows read from settlement reports",
		}),
		rowsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rows_skipped_total",
			Help:      "CSV rows dropped by the row policy, by reason",
		}, []string{"reason"}),
		rowErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "row_errors_total",
			Help:      "Rows that could not be persisted or matched",
		}),
		detailsUpserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "details_upserted_total",
			Help:      "Settlement detail rows inserted or replaced",
		}),
		transactionsPosted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transactions_posted_total",
			Help:      "SETTLED ledger transactions appended",
		}),
		processingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "processing_duration_seconds",
			Help:      "Wall time to locate and ingest one report",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) WebhookItem(eventCode string, success bool) {
	if c == nil {
		return
	}
	c.webhookItems.WithLabelValues(eventCode, strconv.FormatBool(success)).Inc()
}

// ReportProcessed records a completed ingestion pass.
func (c *Collector) ReportProcessed(d time.Duration, rowsParsed, details, posted, rowErrors int, skipped map[string]int) {
	if c == nil {
		return
	}
	c.reportsProcessed.Inc()
	c.processingDuration.Observe(d.Seconds())
	c.rowsParsed.Add(float64(rowsParsed))
	c.detailsUpserted.Add(float64(details))
	c.transactionsPosted.Add(float64(posted))
	c.rowErrors.Add(float64(rowErrors))
	for reason, n := range skipped {
		c.rowsSkipped.WithLabelValues(reason).Add(float64(n))
	}
}

// ReportFailed records a report that could not be located or ingested.
func (c *Collector) ReportFailed(stage string) {
	if c == nil {
		return
	}
	c.reportsFailed.WithLabelValues(stage).Inc()
}
