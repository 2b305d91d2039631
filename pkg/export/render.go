// Package export renders downloadable report stubs and runs them through
// the job queue.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"datapivots/pkg/domain"
)

type Format string

const (
	FormatPDF Format = "pdf"
	FormatDOC Format = "doc"
	FormatPPT Format = "ppt"
)

func ParseFormat(raw string) (Format, bool) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatPDF, FormatDOC, FormatPPT:
		return f, true
	default:
		return "", false
	}
}

// FileName is the download name offered to the browser.
func FileName(title string, f Format) string {
	return title + "." + string(f)
}

// BatchFileName names a combined export of n reports.
func BatchFileName(n int, f Format) string {
	return fmt.Sprintf("batch_export_%d_reports.%s", n, f)
}

// ArtifactKey is the object store key for a rendered job.
func ArtifactKey(jobID, title string, f Format) string {
	return fmt.Sprintf("exports/%s/%s.%s.txt", jobID, Slug(title), f)
}

// Slug lowercases s and collapses everything but letters and digits to
// single hyphens.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "report"
	}
	return out
}

// Render produces the plain-text stub for one report.
func Render(r domain.ProcessedReport, f Format) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Mock %s export for %s\n\n", strings.ToUpper(string(f)), r.Title)
	fmt.Fprintf(&buf, "Report ID: %s\n", r.ID)
	fmt.Fprintf(&buf, "Type: %s\n", r.ReportType)
	fmt.Fprintf(&buf, "Status: %s\n", r.Status)
	fmt.Fprintf(&buf, "Created: %s\n", r.CreatedAt.UTC().Format("2006-01-02 15:04"))
	fmt.Fprintf(&buf, "Updated: %s\n", r.UpdatedAt.UTC().Format("2006-01-02 15:04"))
	if r.OriginalFile != nil {
		fmt.Fprintf(&buf, "Source: %s\n", r.OriginalFile.Name)
		if r.OriginalFile.Pages > 0 {
			fmt.Fprintf(&buf, "Pages: %d\n", r.OriginalFile.Pages)
		}
	}

	if extracted := indentJSON(r.ExtractedData); extracted != "" {
		buf.WriteString("\nExtracted data\n")
		buf.WriteString(extracted)
		buf.WriteByte('\n')
	}

	for _, w := range r.Widgets {
		fmt.Fprintf(&buf, "\n## %s (%s)\n", w.Title, w.Type)
		renderWidget(&buf, w.Data)
	}
	return buf.Bytes()
}

// RenderBatch lists the titles of several reports.
func RenderBatch(reports []domain.ProcessedReport, f Format) []byte {
	titles := make([]string, len(reports))
	for i, r := range reports {
		titles[i] = r.Title
	}
	return []byte(fmt.Sprintf("Mock batch %s export for %d reports:\n%s",
		strings.ToUpper(string(f)), len(reports), strings.Join(titles, ", ")))
}

func renderWidget(buf *bytes.Buffer, data domain.WidgetData) {
	switch d := data.(type) {
	case domain.SummaryData:
		renderFields(buf, d.Fields)
	case domain.TableData:
		cols := d.Columns()
		buf.WriteString(strings.Join(cols, " | "))
		buf.WriteByte('\n')
		for _, row := range d.Rows {
			cells := make([]string, len(cols))
			for i, c := range cols {
				v, _ := row.Get(c)
				cells[i] = v.Text()
			}
			buf.WriteString(strings.Join(cells, " | "))
			buf.WriteByte('\n')
		}
	case domain.MetricsData:
		if d.Items != nil {
			for _, item := range d.Items {
				fmt.Fprintf(buf, "- %s: %s%s", item.Label, item.Value.Text(), item.Unit)
				if item.Change != nil {
					fmt.Fprintf(buf, " (%s%%)", strconv.FormatFloat(*item.Change, 'f', -1, 64))
				}
				buf.WriteByte('\n')
			}
			return
		}
		renderFields(buf, d.Fields)
	case domain.ChartData:
		fmt.Fprintf(buf, "Chart: %s\n", d.Type)
		for _, p := range d.Data {
			if p.Date != "" {
				fmt.Fprintf(buf, "- %s (%s): %s\n", p.Name, p.Date, strconv.FormatFloat(p.Value, 'f', -1, 64))
				continue
			}
			fmt.Fprintf(buf, "- %s: %s\n", p.Name, strconv.FormatFloat(p.Value, 'f', -1, 64))
		}
	}
}

func renderFields(buf *bytes.Buffer, fields domain.Fields) {
	for _, f := range fields {
		fmt.Fprintf(buf, "- %s: %s\n", f.Name, f.Value.Text())
	}
}

func indentJSON(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return ""
	}
	if s := out.String(); s != "{}" && s != "null" {
		return s
	}
	return ""
}
