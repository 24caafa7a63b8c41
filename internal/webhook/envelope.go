// Package webhook accepts report notification deliveries from the payment
// processor.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/storefront/settlement-reconciler/internal/domain"
	"github.com/storefront/settlement-reconciler/internal/report"
)

// AcceptedResponse is returned for every envelope that could be decoded.
const AcceptedResponse = "[accepted]"

// ErrInvalidEnvelope is returned when a delivery cannot be decoded or carries
// no items.
var ErrInvalidEnvelope = errors.New("invalid notification envelope")

var validate = validator.New()

// Envelope is the notification delivery wrapper.
type Envelope struct {
	Live  string        `json:"live"`
	Items []ItemWrapper `json:"notificationItems" validate:"required,min=1"`
}

type ItemWrapper struct {
	Item NotificationItem `json:"NotificationRequestItem"`
}

// NotificationItem is a single notification. Success arrives as "true" or
// "false".
type NotificationItem struct {
	EventCode           string            `json:"eventCode"`
	Success             string            `json:"success"`
	PSPReference        string            `json:"pspReference"`
	OriginalReference   string            `json:"originalReference,omitempty"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	MerchantReference   string            `json:"merchantReference,omitempty"`
	EventDate           string            `json:"eventDate"`
	Reason              string            `json:"reason"`
	AdditionalData      map[string]string `json:"additionalData,omitempty"`
}

// Decode parses and validates a delivery body.
func Decode(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := validate.Struct(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return &env, nil
}

// Succeeded reports whether the processor flagged the item successful.
func (i *NotificationItem) Succeeded() bool {
	return strings.EqualFold(strings.TrimSpace(i.Success), "true")
}

// Notification converts the item to its stored form.
func (i *NotificationItem) Notification(receivedAt time.Time) domain.ReportNotification {
	raw, err := json.Marshal(ItemWrapper{Item: *i})
	if err != nil {
		raw = []byte("{}")
	}
	return domain.ReportNotification{
		PSPReference:    i.PSPReference,
		MerchantAccount: i.MerchantAccountCode,
		EventCode:       strings.TrimSpace(i.EventCode),
		EventDate:       parseEventDate(i.EventDate),
		Success:         i.Succeeded(),
		Reason:          i.Reason,
		DownloadURL:     report.ExtractURL(i.Reason),
		RawPayload:      raw,
		ReceivedAt:      receivedAt,
	}
}

var eventDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05",
}

func parseEventDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range eventDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
