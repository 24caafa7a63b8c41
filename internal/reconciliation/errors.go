package reconciliation

import (
	"errors"
	"fmt"

	"github.com/storefront/settlement-reconciler/internal/report"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrNotReportAvailable = errors.New("notification is not a successful REPORT_AVAILABLE")
	ErrNoReportSource     = report.ErrNoSource
	ErrMissingAPIKey      = report.ErrMissingAPIKey
)

// ProcessError is returned by the processing entry points. It names the
// report and notification involved so callers can surface them.
type ProcessError struct {
	Message        string
	ReportID       int64
	NotificationID int64
	Err            error
}

func (e *ProcessError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}
