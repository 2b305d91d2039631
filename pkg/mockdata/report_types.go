// Package mockdata holds the hand-authored demo content: report types,
// extracted data, widget sets, seed reports and chat copy.
package mockdata

import "datapivots/pkg/domain"

var reportTypeOptions = []domain.ReportTypeOption{
	{
		ID:          domain.ReportPrescription,
		Label:       "Prescription",
		Description: "Analyze prescription documents for dosages, medications, and patient information",
	},
	{
		ID:          domain.ReportInvoice,
		Label:       "Invoice",
		Description: "Extract billing information, costs, and service details from medical invoices",
	},
	{
		ID:          domain.ReportProgressNotes,
		Label:       "Progress Notes",
		Description: "Process clinical progress notes for patient status and treatment updates",
	},
	{
		ID:          domain.ReportDocumentChronology,
		Label:       "Document Chronology",
		Description: "Create timeline analysis of medical documents and events",
	},
	{
		ID:          domain.ReportPatientReports,
		Label:       "Patient Reports",
		Description: "Comprehensive analysis of patient medical reports and lab results",
	},
}

// ReportTypeOptions returns the selectable report types in display order.
func ReportTypeOptions() []domain.ReportTypeOption {
	return append([]domain.ReportTypeOption(nil), reportTypeOptions...)
}

// ReportTypeLabel returns the human label for t.
func ReportTypeLabel(t domain.ReportType) string {
	for _, opt := range reportTypeOptions {
		if opt.ID == t {
			return opt.Label
		}
	}
	return string(t)
}
