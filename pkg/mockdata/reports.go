package mockdata

import (
	"encoding/json"
	"time"

	"datapivots/pkg/domain"
)

type seedReport struct {
	id        string
	title     string
	kind      domain.ReportType
	status    domain.ReportStatus
	createdAt string
	updatedAt string
	extracted string
	file      string
}

var seedReports = []seedReport{
	{
		id: "report-1", title: "Sarah Johnson - Prescription Analysis",
		kind: domain.ReportPrescription, status: domain.ReportCompleted,
		createdAt: "2024-01-15T10:30:00Z", updatedAt: "2024-01-15T10:32:00Z",
		extracted: `{"patientName":"Sarah Johnson","medicationCount":2,"prescriberName":"Dr. Michael Chen"}`,
		file:      "prescription_sarah_johnson.pdf",
	},
	{
		id: "report-2", title: "Robert Williams - Medical Invoice",
		kind: domain.ReportInvoice, status: domain.ReportCompleted,
		createdAt: "2024-01-20T14:15:00Z", updatedAt: "2024-01-20T14:17:00Z",
		extracted: `{"invoiceNumber":"INV-2024-0156","totalAmount":313.2,"patientName":"Robert Williams"}`,
		file:      "invoice_robert_williams.pdf",
	},
	{
		id: "report-3", title: "Emma Davis - Progress Notes",
		kind: domain.ReportProgressNotes, status: domain.ReportCompleted,
		createdAt: "2024-01-18T09:45:00Z", updatedAt: "2024-01-18T09:47:00Z",
		extracted: `{"patientName":"Emma Davis","encounterDate":"2024-01-18","provider":"Dr. Lisa Park, MD"}`,
		file:      "progress_notes_emma_davis.pdf",
	},
	{
		id: "report-4", title: "Michael Thompson - Document Timeline",
		kind: domain.ReportDocumentChronology, status: domain.ReportCompleted,
		createdAt: "2024-01-22T16:20:00Z", updatedAt: "2024-01-22T16:25:00Z",
		extracted: `{"patientName":"Michael Thompson","timelineEvents":4,"dateRange":"2023-12-01 to 2024-01-25"}`,
		file:      "chronology_michael_thompson.pdf",
	},
	{
		id: "report-5", title: "Jennifer Martinez - Patient Report",
		kind: domain.ReportPatientReports, status: domain.ReportProcessing,
		createdAt: "2024-01-25T11:00:00Z", updatedAt: "2024-01-25T11:00:00Z",
		extracted: `{}`,
		file:      "patient_report_jennifer_martinez.pdf",
	},
	{
		id: "report-6", title: "Failed Analysis - Corrupted File",
		kind: domain.ReportInvoice, status: domain.ReportFailed,
		createdAt: "2024-01-23T13:30:00Z", updatedAt: "2024-01-23T13:31:00Z",
		extracted: `{}`,
		file:      "corrupted_invoice.pdf",
	},
}

// SeedReports returns the fixed demo report list used when no snapshot
// has been persisted yet. Only completed reports carry widgets.
func SeedReports() []domain.ProcessedReport {
	out := make([]domain.ProcessedReport, 0, len(seedReports))
	for _, s := range seedReports {
		report := domain.ProcessedReport{
			ID:            s.id,
			Title:         s.title,
			ReportType:    s.kind,
			Status:        s.status,
			CreatedAt:     mustTime(s.createdAt),
			UpdatedAt:     mustTime(s.updatedAt),
			ExtractedData: json.RawMessage(s.extracted),
			OriginalFile: &domain.OriginalFile{
				Name: s.file,
				URL:  "/sample-documents/" + s.file,
				Type: "application/pdf",
			},
			Widgets: []domain.Widget{},
		}
		if s.status == domain.ReportCompleted {
			report.Widgets = Widgets(s.kind)
		}
		out = append(out, report)
	}
	return out
}

func mustTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		panic(err)
	}
	return t
}
