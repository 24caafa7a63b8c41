package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollector(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.WebhookItem("REPORT_AVAILABLE", true)
	c.WebhookItem("REPORT_AVAILABLE", true)
	c.WebhookItem("AUTHORISATION", false)
	c.ReportProcessed(2*time.Second, 10, 7, 3, 1, map[string]int{"excluded_type": 2, "empty": 1})
	c.ReportFailed("download")

	out := scrape(t, c)
	assert.Contains(t, out, `reconciler_webhook_items_received_total{event_code="REPORT_AVAILABLE",success="true"} 2`)
	assert.Contains(t, out, `reconciler_webhook_items_received_total{event_code="AUTHORISATION",success="false"} 1`)
	assert.Contains(t, out, "reconciler_settlement_reports_processed_total 1")
	assert.Contains(t, out, "reconciler_settlement_rows_parsed_total 10")
	assert.Contains(t, out, "reconciler_settlement_details_upserted_total 7")
	assert.Contains(t, out, "reconciler_settlement_transactions_posted_total 3")
	assert.Contains(t, out, `reconciler_settlement_rows_skipped_total{reason="excluded_type"} 2`)
	assert.Contains(t, out, `reconciler_settlement_reports_failed_total{stage="download"} 1`)
	assert.Contains(t, out, "reconciler_settlement_processing_duration_seconds_count 1")
}

func TestCollector_Nil(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.WebhookItem("X", true)
		c.ReportProcessed(time.Second, 1, 1, 1, 0, nil)
		c.ReportFailed("ingest")
	})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
