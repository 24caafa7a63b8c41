// Package report resolves report notifications to readable CSV files.
package report

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	TypeSettlementDetail  = "Settlement details report"
	TypeAggregate         = "Aggregate settlement details report"
	TypePaymentAccounting = "Payment accounting report"
	TypePayout            = "Payout report"
	TypeUnknown           = "Unknown"
)

var (
	secureURLPattern = regexp.MustCompile(`https://\S+`)
	httpPrefix       = regexp.MustCompile(`(?i)^https?://`)
	batchPattern     = regexp.MustCompile(`(?i)batch[_-]?(\d{1,6})`)
	shortBatch       = regexp.MustCompile(`(?i)[_-]b(\d{1,6})`)
	datePattern      = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

// Metadata is what can be inferred about a report from its notification.
type Metadata struct {
	DownloadURL string
	FileName    string
	FilePath    string
	ReportType  string
	BatchNumber *int
	ReportDate  *time.Time
}

// Infer derives catalog metadata from a notification reason and event date.
func Infer(reason string, eventDate *time.Time) Metadata {
	name := BasenameFromReason(reason)
	return Metadata{
		DownloadURL: ExtractURL(reason),
		FileName:    name,
		FilePath:    LocalPathFromReason(reason),
		ReportType:  InferReportType(name),
		BatchNumber: BatchFromName(name),
		ReportDate:  ReportDate(name, eventDate),
	}
}

// ExtractURL returns the first https URL embedded in free text, without
// trailing punctuation. It returns "" when none is present.
func ExtractURL(text string) string {
	m := secureURLPattern.FindString(text)
	return strings.TrimRight(m, `.,;)'"`)
}

// BasenameFromReason returns the file name a reason refers to: the last path
// segment of an embedded URL or of a file:// or plain path.
func BasenameFromReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ""
	}
	if u := ExtractURL(reason); u != "" {
		return urlBase(u)
	}
	if isFileURL(reason) || httpPrefix.MatchString(reason) {
		return urlBase(reason)
	}
	return baseName(reason)
}

// LocalPathFromReason returns the local file path named by a reason, or ""
// when the reason points at a remote resource.
func LocalPathFromReason(reason string) string {
	reason = strings.TrimSpace(reason)
	switch {
	case reason == "":
		return ""
	case isFileURL(reason):
		u, err := url.Parse(reason)
		if err != nil {
			return ""
		}
		return u.Path
	case httpPrefix.MatchString(reason), ExtractURL(reason) != "":
		return ""
	case strings.ContainsAny(reason, " \t"):
		// free text without a link
		return ""
	default:
		return reason
	}
}

// InferReportType classifies a report by its file name.
func InferReportType(name string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "aggregate"):
		return TypeAggregate
	case strings.Contains(n, "settlement_detail"):
		return TypeSettlementDetail
	case strings.Contains(n, "payment_accounting"):
		return TypePaymentAccounting
	case strings.Contains(n, "payout"):
		return TypePayout
	default:
		return TypeUnknown
	}
}

// BatchFromName finds a batch number in names like batch_41, batch-41 or
// report_b41. Many report names carry none.
func BatchFromName(name string) *int {
	for _, re := range []*regexp.Regexp{batchPattern, shortBatch} {
		if m := re.FindStringSubmatch(name); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				return &n
			}
		}
	}
	return nil
}

// ReportDate returns the YYYY-MM-DD date embedded in the name at midnight UTC,
// falling back to the event date.
func ReportDate(name string, eventDate *time.Time) *time.Time {
	if m := datePattern.FindString(name); m != "" {
		if t, err := time.Parse("2006-01-02", m); err == nil {
			return &t
		}
	}
	return eventDate
}

func isFileURL(s string) bool {
	return len(s) >= 7 && strings.EqualFold(s[:7], "file://")
}

func urlBase(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	b := path.Base(u.Path)
	if b == "." || b == "/" {
		return ""
	}
	return b
}

func baseName(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}
