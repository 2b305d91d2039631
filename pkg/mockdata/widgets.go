package mockdata

import (
	"datapivots/pkg/domain"
)

var (
	str = domain.String
	num = domain.Number
)

func field(name string, v domain.Scalar) domain.Field {
	return domain.Field{Name: name, Value: v}
}

func summary(id, title string, pos domain.Position, fields ...domain.Field) domain.Widget {
	return domain.Widget{
		ID:       id,
		Type:     domain.WidgetSummary,
		Title:    title,
		Data:     domain.SummaryData{Fields: fields},
		Position: pos,
		Editable: true,
	}
}

func table(id, title string, pos domain.Position, rows ...domain.Fields) domain.Widget {
	return domain.Widget{
		ID:       id,
		Type:     domain.WidgetTable,
		Title:    title,
		Data:     domain.TableData{Rows: rows},
		Position: pos,
		Editable: true,
	}
}

func chart(id, title string, pos domain.Position, kind domain.ChartType, points ...domain.ChartPoint) domain.Widget {
	return domain.Widget{
		ID:       id,
		Type:     domain.WidgetChart,
		Title:    title,
		Data:     domain.ChartData{Type: kind, Data: points},
		Position: pos,
		Editable: true,
	}
}

func metrics(id, title string, pos domain.Position, data domain.MetricsData) domain.Widget {
	return domain.Widget{
		ID:       id,
		Type:     domain.WidgetMetrics,
		Title:    title,
		Data:     data,
		Position: pos,
		Editable: true,
	}
}

func pos(x, y, w, h int) domain.Position {
	return domain.Position{X: x, Y: y, W: w, H: h}
}

// Widgets synthesizes the dashboard widget set for a report type.
// Every call returns fresh values.
func Widgets(t domain.ReportType) []domain.Widget {
	switch t {
	case domain.ReportPrescription:
		return prescriptionWidgets()
	case domain.ReportInvoice:
		return invoiceWidgets()
	case domain.ReportProgressNotes:
		return progressNotesWidgets()
	case domain.ReportDocumentChronology:
		return chronologyWidgets()
	case domain.ReportPatientReports:
		return patientReportWidgets()
	default:
		return nil
	}
}

func prescriptionWidgets() []domain.Widget {
	return []domain.Widget{
		summary("patient-info", "Patient Information", pos(0, 0, 4, 3),
			field("name", str("Sarah Johnson")),
			field("dob", str("1985-03-15")),
			field("address", str("123 Oak Street, Springfield, IL 62701")),
			field("phone", str("(555) 123-4567")),
		),
		table("medications", "Prescribed Medications", pos(4, 0, 8, 4),
			domain.Fields{
				field("name", str("Metformin")),
				field("strength", str("500mg")),
				field("quantity", str("60 tablets")),
				field("directions", str("Take twice daily with meals")),
				field("refills", num(5)),
			},
			domain.Fields{
				field("name", str("Lisinopril")),
				field("strength", str("10mg")),
				field("quantity", str("30 tablets")),
				field("directions", str("Take once daily in the morning")),
				field("refills", num(3)),
			},
		),
		summary("prescriber", "Prescriber Information", pos(0, 3, 4, 2),
			field("name", str("Dr. Michael Chen")),
			field("license", str("MD12345")),
			field("practice", str("Springfield Family Medicine")),
			field("phone", str("(555) 987-6543")),
		),
		chart("refills-chart", "Medication Refills Remaining", pos(4, 4, 8, 3), domain.ChartBar,
			domain.ChartPoint{Name: "Metformin", Value: 5},
			domain.ChartPoint{Name: "Lisinopril", Value: 3},
		),
	}
}

type invoiceService struct {
	code        string
	description string
	quantity    float64
	unitPrice   float64
	total       float64
}

var invoiceServices = []invoiceService{
	{code: "99213", description: "Office visit - Level 3", quantity: 1, unitPrice: 180, total: 180},
	{code: "85025", description: "Complete Blood Count", quantity: 1, unitPrice: 45, total: 45},
	{code: "80053", description: "Comprehensive Metabolic Panel", quantity: 1, unitPrice: 65, total: 65},
}

func invoiceWidgets() []domain.Widget {
	rows := make([]domain.Fields, 0, len(invoiceServices))
	points := make([]domain.ChartPoint, 0, len(invoiceServices))
	for _, svc := range invoiceServices {
		rows = append(rows, domain.Fields{
			field("code", str(svc.code)),
			field("description", str(svc.description)),
			field("quantity", num(svc.quantity)),
			field("unitPrice", num(svc.unitPrice)),
			field("total", num(svc.total)),
		})
		points = append(points, domain.ChartPoint{Name: svc.description, Value: svc.total})
	}
	return []domain.Widget{
		metrics("invoice-summary", "Invoice Summary", pos(0, 0, 4, 3), domain.MetricsData{Fields: domain.Fields{
			field("Total Amount", str("$313.2")),
			field("Amount Due", str("$62.64")),
			field("Due Date", str("2024-02-20")),
			field("Invoice #", str("INV-2024-0156")),
		}}),
		table("services", "Services & Charges", pos(4, 0, 8, 4), rows...),
		summary("patient-billing", "Patient & Billing Info", pos(0, 3, 4, 2),
			field("name", str("Robert Williams")),
			field("id", str("P789012")),
			field("insurance", str("Blue Cross Blue Shield")),
		),
		chart("charges-breakdown", "Service Charges Breakdown", pos(4, 4, 8, 3), domain.ChartPie, points...),
	}
}

func progressNotesWidgets() []domain.Widget {
	plan := []string{
		"Continue current medication (Lisinopril 10mg daily)",
		"Follow-up in 3 months",
		"Continue lifestyle modifications",
		"Home blood pressure monitoring",
	}
	rows := make([]domain.Fields, 0, len(plan))
	for i, step := range plan {
		rows = append(rows, domain.Fields{
			field("step", num(float64(i+1))),
			field("action", str(step)),
		})
	}
	return []domain.Widget{
		summary("patient-info", "Patient Information", pos(0, 0, 4, 3),
			field("name", str("Emma Davis")),
			field("mrn", str("MRN456789")),
			field("dob", str("1992-07-22")),
			field("age", num(31)),
		),
		summary("encounter", "Encounter Details", pos(4, 0, 8, 3),
			field("date", str("2024-01-18")),
			field("provider", str("Dr. Lisa Park, MD")),
			field("type", str("Follow-up Visit")),
			field("location", str("Cardiology Clinic")),
			field("chiefComplaint", str("Follow-up for hypertension management")),
			field("assessment", str("Hypertension well-controlled on current medication regimen. Patient reports no side effects.")),
		),
		metrics("vitals", "Vital Signs", pos(0, 3, 4, 3), domain.MetricsData{Fields: domain.Fields{
			field("Blood Pressure", str("128/82 mmHg")),
			field("Heart Rate", str("72 bpm")),
			field("Temperature", str("98.6°F")),
			field("Weight", str("165 lbs")),
		}}),
		table("care-plan", "Care Plan", pos(4, 3, 8, 3), rows...),
	}
}

type timelineEvent struct {
	date     string
	kind     string
	provider string
	summary  string
}

var timelineEvents = []timelineEvent{
	{date: "2023-12-01", kind: "Initial Consultation", provider: "Dr. Smith", summary: "Patient presents with chest pain, EKG normal"},
	{date: "2023-12-15", kind: "Lab Results", provider: "Lab Corp", summary: "Cholesterol levels elevated, LDL 165 mg/dL"},
	{date: "2024-01-10", kind: "Follow-up Visit", provider: "Dr. Smith", summary: "Started on statin therapy, lifestyle counseling provided"},
	{date: "2024-01-25", kind: "Cardiology Referral", provider: "Dr. Johnson", summary: "Stress test ordered, echocardiogram scheduled"},
}

func chronologyWidgets() []domain.Widget {
	rows := make([]domain.Fields, 0, len(timelineEvents))
	points := make([]domain.ChartPoint, 0, len(timelineEvents))
	for i, ev := range timelineEvents {
		rows = append(rows, domain.Fields{
			field("date", str(ev.date)),
			field("type", str(ev.kind)),
			field("provider", str(ev.provider)),
			field("summary", str(ev.summary)),
		})
		points = append(points, domain.ChartPoint{Name: ev.kind, Value: float64(i + 1), Date: ev.date})
	}
	return []domain.Widget{
		summary("patient-info", "Patient Information", pos(0, 0, 4, 3),
			field("name", str("Michael Thompson")),
			field("mrn", str("MRN789123")),
			field("dob", str("1975-11-08")),
		),
		table("timeline-events", "Timeline Events", pos(4, 0, 8, 4), rows...),
		chart("timeline-chart", "Care Timeline", pos(0, 4, 12, 3), domain.ChartTimeline, points...),
	}
}

func patientReportWidgets() []domain.Widget {
	recommendations := []string{
		"Continue current diabetes management",
		"Dietary consultation recommended",
		"Regular exercise program",
		"Follow-up in 3 months",
	}
	recRows := make([]domain.Fields, 0, len(recommendations))
	for _, rec := range recommendations {
		recRows = append(recRows, domain.Fields{field("recommendation", str(rec))})
	}
	return []domain.Widget{
		summary("patient-info", "Patient Information", pos(0, 0, 4, 3),
			field("name", str("Jennifer Martinez")),
			field("mrn", str("MRN321654")),
			field("dob", str("1988-04-12")),
			field("age", num(35)),
			field("gender", str("Female")),
		),
		table("lab-results", "Lab Results", pos(4, 0, 8, 4),
			labRow("Hemoglobin A1C", "6.8%", "< 7.0%", "Normal"),
			labRow("Fasting Glucose", "128 mg/dL", "70-100 mg/dL", "High"),
			labRow("Total Cholesterol", "195 mg/dL", "< 200 mg/dL", "Normal"),
		),
		metrics("lab-status", "Lab Status", pos(0, 3, 4, 3), domain.MetricsData{Items: []domain.MetricItem{
			{Label: "Tests Performed", Value: num(3), Status: domain.MetricNeutral},
			{Label: "Within Range", Value: num(2), Status: domain.MetricPositive},
			{Label: "Out of Range", Value: num(1), Status: domain.MetricNegative},
		}}),
		table("recommendations", "Recommendations", pos(4, 4, 8, 3), recRows...),
	}
}

func labRow(test, value, reference, status string) domain.Fields {
	return domain.Fields{
		field("test", str(test)),
		field("value", str(value)),
		field("reference", str(reference)),
		field("status", str(status)),
		field("date", str("2024-01-15")),
	}
}
