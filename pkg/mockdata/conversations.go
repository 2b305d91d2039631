package mockdata

import (
	"fmt"

	"datapivots/pkg/domain"
)

const (
	GreetingID    = "greeting-1"
	GreetingText  = "Welcome to DataPivots! I'm your AI assistant ready to help you analyze healthcare documents. What type of document would you like to analyze today?"
	StepOneText   = "(1/3) Analyzing document layout..."
	StepTwoText   = "(2/3) Extracting key data points..."
	StepThreeText = "(3/3) Structuring your report..."
	CompletedText = "Your report is ready! You can review the extracted data on the right or download the report in your preferred format."
	FileTypeError = "Please upload a PDF, PNG, or JPG file. Other file types are not supported."
	StartNewText  = "Great! Let's start a new analysis. What type of document would you like to analyze?"
)

var confirmations = map[domain.ReportType]string{
	domain.ReportPrescription:       "Great! I'll help you analyze a prescription document. Please upload your prescription file.",
	domain.ReportInvoice:            "Perfect! I'll analyze your medical invoice. Please upload the invoice file.",
	domain.ReportProgressNotes:      "Excellent! I'll process your progress notes. Please upload the document.",
	domain.ReportDocumentChronology: "Wonderful! I'll create a chronological analysis. Please upload your documents.",
	domain.ReportPatientReports:     "Great choice! I'll analyze your patient report. Please upload the file.",
}

// Confirmation is the AI reply after a report type is chosen.
func Confirmation(t domain.ReportType) string {
	return confirmations[t]
}

// TypeSelectedText is the user message sent when a report type is chosen.
func TypeSelectedText(t domain.ReportType) string {
	return fmt.Sprintf("I want to analyze a %s document.", t.Phrase())
}

func UploadedText(filename string) string {
	return "Uploaded file: " + filename
}

func FileReceivedText(filename string) string {
	return `Received "` + filename + `". Starting analysis...`
}

// InvalidFileText is the type-specific rejection for a file that passed the
// MIME check but cannot be analyzed.
func InvalidFileText(t domain.ReportType) string {
	return fmt.Sprintf("This file doesn't appear to be a valid %s document. Please upload a relevant file and try again.", t.Phrase())
}
