package reports

import (
	"sort"
	"strings"

	"datapivots/pkg/domain"
)

// FilterAll disables the status or type filter.
const FilterAll = "all"

type SortField string

const (
	SortTitle      SortField = "title"
	SortCreatedAt  SortField = "createdAt"
	SortUpdatedAt  SortField = "updatedAt"
	SortStatus     SortField = "status"
	SortReportType SortField = "reportType"
)

// ParseSortField validates a sort field name.
func ParseSortField(raw string) (SortField, bool) {
	switch f := SortField(strings.TrimSpace(raw)); f {
	case SortTitle, SortCreatedAt, SortUpdatedAt, SortStatus, SortReportType:
		return f, true
	default:
		return "", false
	}
}

type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

type Sort struct {
	Field     SortField     `json:"field"`
	Direction SortDirection `json:"direction"`
}

// DefaultSort lists the newest reports first.
var DefaultSort = Sort{Field: SortCreatedAt, Direction: Descending}

type Criteria struct {
	Query  string `json:"query"`
	Status string `json:"status"`
	Type   string `json:"type"`
}

// DefaultCriteria matches every report.
var DefaultCriteria = Criteria{Status: FilterAll, Type: FilterAll}

// Matches reports whether r passes every active filter.
func (c Criteria) Matches(r domain.ProcessedReport) bool {
	if c.Query != "" {
		q := strings.ToLower(c.Query)
		fileName := ""
		if r.OriginalFile != nil {
			fileName = r.OriginalFile.Name
		}
		if !strings.Contains(strings.ToLower(r.Title), q) &&
			!strings.Contains(strings.ToLower(string(r.ReportType)), q) &&
			!strings.Contains(strings.ToLower(fileName), q) {
			return false
		}
	}
	if c.Status != "" && c.Status != FilterAll && string(r.Status) != c.Status {
		return false
	}
	if c.Type != "" && c.Type != FilterAll && string(r.ReportType) != c.Type {
		return false
	}
	return true
}

// Query filters and sorts reports without modifying the input slice.
// The sort is stable so equal keys keep their collection order.
func Query(reports []domain.ProcessedReport, c Criteria, s Sort) []domain.ProcessedReport {
	out := make([]domain.ProcessedReport, 0, len(reports))
	for _, r := range reports {
		if c.Matches(r) {
			out = append(out, r)
		}
	}
	less := comparator(s.Field)
	sort.SliceStable(out, func(i, j int) bool {
		if s.Direction == Descending {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}

func comparator(field SortField) func(a, b domain.ProcessedReport) bool {
	switch field {
	case SortTitle:
		return func(a, b domain.ProcessedReport) bool { return a.Title < b.Title }
	case SortUpdatedAt:
		return func(a, b domain.ProcessedReport) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	case SortStatus:
		return func(a, b domain.ProcessedReport) bool { return a.Status < b.Status }
	case SortReportType:
		return func(a, b domain.ProcessedReport) bool { return a.ReportType < b.ReportType }
	default:
		return func(a, b domain.ProcessedReport) bool { return a.CreatedAt.Before(b.CreatedAt) }
	}
}

// TotalPages is ceil(count / pageSize).
func TotalPages(count, pageSize int) int {
	if pageSize <= 0 || count <= 0 {
		return 0
	}
	return (count + pageSize - 1) / pageSize
}

// Paginate returns the 1-based page of items.
func Paginate(items []domain.ProcessedReport, page, pageSize int) []domain.ProcessedReport {
	if pageSize <= 0 || page < 1 {
		return nil
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []domain.ProcessedReport{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
