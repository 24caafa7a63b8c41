package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/storefront/settlement-reconciler/internal/reconciliation"
	"github.com/storefront/settlement-reconciler/internal/report"
	"github.com/storefront/settlement-reconciler/internal/repository"
	"github.com/storefront/settlement-reconciler/internal/webhook"
)

const maxWebhookBody = 1 << 20

// Pipeline is the processing surface of reconciliation.Service.
type Pipeline interface {
	ProcessReport(ctx context.Context, reportID int64) (*reconciliation.Result, error)
	ProcessNotification(ctx context.Context, notificationID int64) (*reconciliation.Result, error)
}

// Receiver is the delivery surface of webhook.Service.
type Receiver interface {
	Receive(ctx context.Context, body []byte) ([]webhook.ItemOutcome, error)
}

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	reports         *repository.ReportRepo
	settlements     *repository.SettlementRepo
	recon           *repository.ReconciliationRepo
	pipeline        Pipeline
	webhooks        Receiver
	defaultCurrency string
	logger          *zap.Logger
}

// --- helpers ---

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// writeProcessError maps pipeline failures onto status codes and keeps the
// identifiers involved in the body.
func (h *Handlers) writeProcessError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, reconciliation.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, reconciliation.ErrNotReportAvailable),
		errors.Is(err, reconciliation.ErrNoReportSource),
		errors.Is(err, reconciliation.ErrMissingAPIKey):
		status = http.StatusBadRequest
	case errors.Is(err, report.ErrDownload):
		status = http.StatusBadGateway
	}

	msg := err.Error()
	details := map[string]any{}
	var perr *reconciliation.ProcessError
	if errors.As(err, &perr) {
		msg = perr.Message
		if perr.ReportID != 0 {
			details["report_id"] = perr.ReportID
		}
		if perr.NotificationID != 0 {
			details["notification_id"] = perr.NotificationID
		}
		if perr.Err != nil {
			details["cause"] = perr.Err.Error()
		}
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("processing failed", zap.Error(err))
	}
	h.writeJSON(w, status, map[string]any{"error": msg, "details": details})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// rangeFilter reads from/to (YYYY-MM-DD) and currency, defaulting to the last
// 30 days in the default currency.
func (h *Handlers) rangeFilter(r *http.Request) (repository.RangeFilter, error) {
	q := r.URL.Query()
	today := time.Now().UTC()
	f := repository.RangeFilter{
		From:     today.AddDate(0, 0, -30).Format(time.DateOnly),
		To:       today.Format(time.DateOnly),
		Currency: strings.ToUpper(strings.TrimSpace(q.Get("currency"))),
		Limit:    parseIntDefault(q.Get("limit"), 500),
	}
	if f.Currency == "" {
		f.Currency = h.defaultCurrency
	}
	for _, p := range []struct {
		name string
		dst  *string
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			return f, errors.New(p.name + " must be YYYY-MM-DD")
		}
		*p.dst = v
	}
	if f.From > f.To {
		return f, errors.New("from must not be after to")
	}
	return f, nil
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- ReceiveWebhook ---

// ReceiveWebhook acknowledges every decodable delivery, whatever happened to
// its items.
func (h *Handlers) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	if _, err := h.webhooks.Receive(r.Context(), body); err != nil {
		if errors.Is(err, webhook.ErrInvalidEnvelope) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("webhook delivery", zap.Error(err))
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"notificationResponse": webhook.AcceptedResponse})
}

// --- Reports ---

func (h *Handlers) ListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reports, err := h.reports.ListReports(r.Context(), repository.ReportFilter{
		Status: strings.ToUpper(q.Get("status")),
		Limit:  parseIntDefault(q.Get("limit"), 100),
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"reports": reports, "count": len(reports)})
}

func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	notes, err := h.reports.ListNotifications(r.Context(), repository.NotificationFilter{
		EventCode: q.Get("event_code"),
		Limit:     parseIntDefault(q.Get("limit"), 100),
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"notifications": notes, "count": len(notes)})
}

func (h *Handlers) ProcessReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "report id must be a positive integer")
		return
	}
	res, err := h.pipeline.ProcessReport(r.Context(), id)
	if err != nil {
		h.writeProcessError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) ProcessNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "notification id must be a positive integer")
		return
	}
	res, err := h.pipeline.ProcessNotification(r.Context(), id)
	if err != nil {
		h.writeProcessError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// --- Settlements ---

func (h *Handlers) ListSettlements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.SettlementFilter{
		BatchNumber: parseIntDefault(q.Get("batch"), 0),
		Currency:    strings.ToUpper(q.Get("currency")),
		Page:        parseIntDefault(q.Get("page"), 1),
		Limit:       parseIntDefault(q.Get("limit"), 50),
	}

	parents, total, err := h.settlements.ListParents(r.Context(), filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"settlements": parents,
		"total":       total,
		"page":        filter.Page,
		"limit":       filter.Limit,
	})
}

func (h *Handlers) ListSettlementDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "settlement id must be a positive integer")
		return
	}
	parent, err := h.settlements.GetParent(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "settlement not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	details, err := h.settlements.ListDetails(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"settlement": parent,
		"details":    details,
		"count":      len(details),
	})
}

// --- Reconciliation ---

func (h *Handlers) GetSummary(w http.ResponseWriter, r *http.Request) {
	f, err := h.rangeFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := h.recon.Summary(r.Context(), f)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handlers) ListUnmatched(w http.ResponseWriter, r *http.Request) {
	f, err := h.rangeFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lines, err := h.recon.Unmatched(r.Context(), f)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"from":      f.From,
		"to":        f.To,
		"currency":  f.Currency,
		"unmatched": lines,
		"count":     len(lines),
	})
}

func (h *Handlers) ListUnsettledOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.recon.UnsettledOrders(r.Context(), parseIntDefault(r.URL.Query().Get("limit"), 500))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"orders": orders, "count": len(orders)})
}
