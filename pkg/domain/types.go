package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Session struct {
	User            User `json:"user"`
	IsAuthenticated bool `json:"isAuthenticated"`
}

type MessageType string

const (
	MessageUser MessageType = "user"
	MessageAI   MessageType = "ai"
)

type MessageStatus string

const (
	MessagePending  MessageStatus = "pending"
	MessageSent     MessageStatus = "sent"
	MessageReceived MessageStatus = "received"
)

type ChatMessage struct {
	ID        string        `json:"id"`
	Type      MessageType   `json:"type"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MessageStatus `json:"status,omitempty"`
}

type ReportType string

const (
	ReportPrescription       ReportType = "prescription"
	ReportInvoice            ReportType = "invoice"
	ReportProgressNotes      ReportType = "progress-notes"
	ReportDocumentChronology ReportType = "document-chronology"
	ReportPatientReports     ReportType = "patient-reports"
)

// ReportTypes lists every supported report type in display order.
var ReportTypes = []ReportType{
	ReportPrescription,
	ReportInvoice,
	ReportProgressNotes,
	ReportDocumentChronology,
	ReportPatientReports,
}

// ParseReportType normalizes and validates a report type name.
func ParseReportType(raw string) (ReportType, bool) {
	candidate := ReportType(strings.ToLower(strings.TrimSpace(raw)))
	for _, t := range ReportTypes {
		if t == candidate {
			return t, true
		}
	}
	return "", false
}

// Phrase renders the type the way it reads in chat, e.g. "progress notes".
// Only the first hyphen is replaced, so "document-chronology" becomes
// "document chronology" and "patient-reports" becomes "patient reports".
func (t ReportType) Phrase() string {
	return strings.Replace(string(t), "-", " ", 1)
}

type ReportTypeOption struct {
	ID          ReportType `json:"id"`
	Label       string     `json:"label"`
	Description string     `json:"description"`
}

type ReportStatus string

const (
	ReportProcessing ReportStatus = "processing"
	ReportCompleted  ReportStatus = "completed"
	ReportFailed     ReportStatus = "failed"
)

// ParseReportStatus validates a report status name.
func ParseReportStatus(raw string) (ReportStatus, bool) {
	switch s := ReportStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case ReportProcessing, ReportCompleted, ReportFailed:
		return s, true
	default:
		return "", false
	}
}

type OriginalFile struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Type  string `json:"type"`
	Size  int64  `json:"size,omitempty"`
	Pages int    `json:"pages,omitempty"`
}

type ProcessedReport struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	ReportType    ReportType      `json:"reportType"`
	Status        ReportStatus    `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	ExtractedData json.RawMessage `json:"extractedData"`
	OriginalFile  *OriginalFile   `json:"originalFile,omitempty"`
	Widgets       []Widget        `json:"widgets"`
}

// Clone returns a deep copy safe to hand out across goroutines.
func (r ProcessedReport) Clone() ProcessedReport {
	out := r
	if r.ExtractedData != nil {
		out.ExtractedData = append(json.RawMessage(nil), r.ExtractedData...)
	}
	if r.OriginalFile != nil {
		f := *r.OriginalFile
		out.OriginalFile = &f
	}
	out.Widgets = make([]Widget, len(r.Widgets))
	for i, w := range r.Widgets {
		out.Widgets[i] = w.Clone()
	}
	return out
}

// WidgetByID returns the index of the widget with the given id, or -1.
func (r ProcessedReport) WidgetByID(id string) int {
	for i, w := range r.Widgets {
		if w.ID == id {
			return i
		}
	}
	return -1
}

// Timestamp truncates t to millisecond precision in UTC so persisted
// values compare equal after a JSON round trip.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
