package webhook

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/settlement-reconciler/internal/domain"
	"github.com/storefront/settlement-reconciler/internal/metrics"
	"github.com/storefront/settlement-reconciler/internal/reconciliation"
)

// Recorder persists notifications and their catalog entries.
type Recorder interface {
	RecordNotification(ctx context.Context, n *domain.ReportNotification, rep *domain.Report) error
}

// Processor runs a stored notification through the settlement pipeline.
type Processor interface {
	ProcessNotification(ctx context.Context, notificationID int64) (*reconciliation.Result, error)
}

// ItemOutcome is what happened to one item of a delivery.
type ItemOutcome struct {
	NotificationID int64                  `json:"notification_id,omitempty"`
	ReportID       int64                  `json:"report_id,omitempty"`
	EventCode      string                 `json:"event_code"`
	Queued         bool                   `json:"queued"`
	Result         *reconciliation.Result `json:"result,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// Service stores every notification item and catalogs successful
// REPORT_AVAILABLE items. With auto processing on, cataloged reports are
// processed inline; otherwise they wait for an operator.
type Service struct {
	recorder    Recorder
	processor   Processor
	autoProcess bool
	metrics     *metrics.Collector
	logger      *zap.Logger
}

func NewService(recorder Recorder, processor Processor, autoProcess bool, collector *metrics.Collector, logger *zap.Logger) *Service {
	return &Service{
		recorder:    recorder,
		processor:   processor,
		autoProcess: autoProcess,
		metrics:     collector,
		logger:      logger.Named("webhook"),
	}
}

// Receive handles one delivery. Only an undecodable envelope is an error;
// failures of individual items, including items without an event code, are
// logged and reported in their outcome.
func (s *Service) Receive(ctx context.Context, body []byte) ([]ItemOutcome, error) {
	env, err := Decode(body)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]ItemOutcome, 0, len(env.Items))
	for i := range env.Items {
		out = append(out, s.receiveItem(ctx, &env.Items[i].Item, now))
	}
	return out, nil
}

func (s *Service) receiveItem(ctx context.Context, item *NotificationItem, now time.Time) ItemOutcome {
	n := item.Notification(now)
	res := ItemOutcome{EventCode: n.EventCode}
	log := s.logger.With(zap.String("event_code", n.EventCode), zap.String("psp_reference", n.PSPReference))
	if n.EventCode == "" {
		log.Warn("skipping item without event code")
		res.Error = "missing event code"
		return res
	}
	s.metrics.WebhookItem(n.EventCode, n.Success)

	var rep *domain.Report
	if n.IsReportAvailable() {
		rep = reconciliation.CatalogEntry(&n)
	}
	err := s.recorder.RecordNotification(ctx, &n, rep)
	res.NotificationID = n.ID
	if err != nil {
		log.Error("store notification", zap.Int64("notification_id", n.ID), zap.Error(err))
		res.Error = err.Error()
		return res
	}
	if rep == nil {
		log.Debug("notification stored", zap.Int64("notification_id", n.ID))
		return res
	}

	res.ReportID = rep.ID
	res.Queued = true
	log.Info("report queued",
		zap.Int64("notification_id", n.ID),
		zap.Int64("report_id", rep.ID),
		zap.String("file", rep.FileName),
		zap.String("report_type", rep.ReportType),
	)

	if !s.autoProcess || s.processor == nil {
		return res
	}
	result, err := s.processor.ProcessNotification(ctx, n.ID)
	if err != nil {
		log.Warn("inline processing failed", zap.Int64("notification_id", n.ID), zap.Error(err))
		res.Error = err.Error()
		return res
	}
	res.Result = result
	return res
}
