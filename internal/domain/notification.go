package domain

import (
	"encoding/json"
	"time"
)

// EventReportAvailable is the event code the processor sends when a report
// file can be downloaded.
const EventReportAvailable = "REPORT_AVAILABLE"

// ReportNotification is one webhook item exactly as it was received. Rows are
// never updated after insert.
type ReportNotification struct {
	ID              int64           `json:"id"`
	PSPReference    string          `json:"psp_reference"`
	MerchantAccount string          `json:"merchant_account"`
	EventCode       string          `json:"event_code"`
	EventDate       *time.Time      `json:"event_date,omitempty"`
	Success         bool            `json:"success"`
	Reason          string          `json:"reason"`
	DownloadURL     string          `json:"download_url,omitempty"`
	RawPayload      json.RawMessage `json:"raw_payload"`
	ReceivedAt      time.Time       `json:"received_at"`
}

// IsReportAvailable reports whether the notification should feed the
// settlement pipeline.
func (n *ReportNotification) IsReportAvailable() bool {
	return n.EventCode == EventReportAvailable && n.Success
}

type ReportStatus string

const (
	ReportQueued     ReportStatus = "QUEUED"
	ReportDownloaded ReportStatus = "DOWNLOADED"
	ReportProcessed  ReportStatus = "PROCESSED"
	ReportFailed     ReportStatus = "FAILED"
)

// Report is the catalog entry created for every successful REPORT_AVAILABLE
// notification. Metadata is inferred from the notification reason.
type Report struct {
	ID                  int64        `json:"id"`
	NotificationID      int64        `json:"notification_id"`
	MerchantAccount     string       `json:"merchant_account"`
	FileName            string       `json:"file_name"`
	FilePath            string       `json:"file_path,omitempty"`
	DownloadURL         string       `json:"download_url,omitempty"`
	ReportType          string       `json:"report_type"`
	BatchNumberFromName *int         `json:"batch_number_from_name,omitempty"`
	ReportDate          *time.Time   `json:"report_date,omitempty"`
	Status              ReportStatus `json:"status"`
	LastError           string       `json:"last_error,omitempty"`
	ProcessedAt         *time.Time   `json:"processed_at,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}
