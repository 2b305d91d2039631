// Package reports manages the processed report collection: filtering,
// sorting, pagination, selection and persisted mutations.
package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"datapivots/pkg/domain"
	"datapivots/pkg/kv"
	"datapivots/pkg/mockdata"
)

const DefaultPageSize = 10

// Latency simulates backend round trips for mutations.
type Latency struct {
	Delete      time.Duration
	BatchDelete time.Duration
	Rename      time.Duration
}

var DefaultLatency = Latency{
	Delete:      500 * time.Millisecond,
	BatchDelete: time.Second,
	Rename:      300 * time.Millisecond,
}

// Config configures a Manager. Only Store is required.
type Config struct {
	Store    kv.Store
	PageSize int
	Latency  Latency
	Now      func() time.Time
	Logger   *slog.Logger
	// Seed supplies the collection used when nothing valid is persisted.
	Seed func() []domain.ProcessedReport
}

// View is the current page projection.
type View struct {
	Items         []domain.ProcessedReport `json:"items"`
	Page          int                      `json:"page"`
	TotalPages    int                      `json:"totalPages"`
	PageSize      int                      `json:"pageSize"`
	FilteredCount int                      `json:"filteredCount"`
	TotalCount    int                      `json:"totalCount"`
	Selected      []string                 `json:"selected"`
	AllSelected   bool                     `json:"allSelected"`
	Criteria      Criteria                 `json:"criteria"`
	Sort          Sort                     `json:"sort"`
	Loading       bool                     `json:"loading"`
}

// Manager owns the processed report collection and the list view state
// (filters, sort, page and selection) layered over it.
type Manager struct {
	store    kv.Store
	pageSize int
	latency  Latency
	now      func() time.Time
	logger   *slog.Logger
	seed     func() []domain.ProcessedReport

	mu       sync.Mutex
	reports  []domain.ProcessedReport
	criteria Criteria
	sort     Sort
	page     int
	selected []string
	inFlight int
}

// NewManager fills defaults for everything but the store. Call Load before
// use.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("reports: store is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Seed == nil {
		cfg.Seed = mockdata.SeedReports
	}
	return &Manager{
		store:    cfg.Store,
		pageSize: cfg.PageSize,
		latency:  cfg.Latency,
		now:      cfg.Now,
		logger:   cfg.Logger,
		seed:     cfg.Seed,
		reports:  []domain.ProcessedReport{},
		criteria: DefaultCriteria,
		sort:     DefaultSort,
		page:     1,
	}, nil
}

// Load rehydrates the collection. A missing or unreadable snapshot is
// replaced by the seed dataset, which is persisted again.
func (m *Manager) Load(ctx context.Context) error {
	var stored []domain.ProcessedReport
	found, err := kv.LoadJSON(ctx, m.store, kv.KeyReports, &stored)
	var decodeErr *kv.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		m.logger.Warn("reports snapshot unreadable, using seed data", "err", err)
		found = false
	case err != nil:
		return err
	}
	if !found || stored == nil {
		stored = m.seed()
		if err := kv.SaveJSON(ctx, m.store, kv.KeyReports, stored); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = stored
	m.selected = nil
	m.page = 1
	return nil
}

func (m *Manager) SetSearchQuery(q string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.criteria.Query = q
	m.page = 1
}

func (m *Manager) SetStatusFilter(status string) error {
	status = strings.TrimSpace(status)
	if status == "" {
		status = FilterAll
	}
	if status != FilterAll {
		parsed, ok := domain.ParseReportStatus(status)
		if !ok {
			return fmt.Errorf("%w: status %q", ErrInvalidFilter, status)
		}
		status = string(parsed)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.criteria.Status = status
	m.page = 1
	return nil
}

func (m *Manager) SetTypeFilter(reportType string) error {
	reportType = strings.TrimSpace(reportType)
	if reportType == "" {
		reportType = FilterAll
	}
	if reportType != FilterAll {
		parsed, ok := domain.ParseReportType(reportType)
		if !ok {
			return fmt.Errorf("%w: type %q", ErrInvalidFilter, reportType)
		}
		reportType = string(parsed)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.criteria.Type = reportType
	m.page = 1
	return nil
}

// ToggleSort flips the direction for the active field or switches to a new
// field in ascending order.
func (m *Manager) ToggleSort(field SortField) error {
	if _, ok := ParseSortField(string(field)); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidSort, field)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sort.Field == field {
		if m.sort.Direction == Ascending {
			m.sort.Direction = Descending
		} else {
			m.sort.Direction = Ascending
		}
	} else {
		m.sort = Sort{Field: field, Direction: Ascending}
	}
	m.page = 1
	return nil
}

// SetPage moves to page n clamped to the valid range and returns the result.
func (m *Manager) SetPage(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.page = n
	m.clampPageLocked()
	return m.page
}

func (m *Manager) ToggleSelect(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if indexOf(m.reports, id) < 0 {
		return fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	for i, s := range m.selected {
		if s == id {
			m.selected = append(m.selected[:i:i], m.selected[i+1:]...)
			return nil
		}
	}
	m.selected = append(m.selected, id)
	return nil
}

// SelectAll selects every report on the current page, or clears the
// selection when the page is already fully selected.
func (m *Manager) SelectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.pageItemsLocked()
	if len(m.selected) == len(items) {
		m.selected = nil
		return
	}
	ids := make([]string, len(items))
	for i, r := range items {
		ids[i] = r.ID
	}
	m.selected = ids
}

func (m *Manager) ClearSelection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = nil
}

// DeleteReport removes one report after the simulated latency and drops it
// from the selection.
func (m *Manager) DeleteReport(ctx context.Context, id string) error {
	if err := m.simulate(ctx, m.latency.Delete); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := indexOf(m.reports, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	next := make([]domain.ProcessedReport, 0, len(m.reports)-1)
	next = append(next, m.reports[:idx]...)
	next = append(next, m.reports[idx+1:]...)
	if err := m.commitLocked(ctx, next); err != nil {
		return err
	}
	m.selected = removeString(m.selected, id)
	return nil
}

// DeleteReports removes every listed report that exists and clears the
// selection. It returns the number removed.
func (m *Manager) DeleteReports(ctx context.Context, ids []string) (int, error) {
	if err := m.simulate(ctx, m.latency.BatchDelete); err != nil {
		return 0, err
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make([]domain.ProcessedReport, 0, len(m.reports))
	for _, r := range m.reports {
		if _, ok := drop[r.ID]; !ok {
			next = append(next, r)
		}
	}
	removed := len(m.reports) - len(next)
	if err := m.commitLocked(ctx, next); err != nil {
		return 0, err
	}
	m.selected = nil
	return removed, nil
}

func (m *Manager) RenameReport(ctx context.Context, id, title string) (domain.ProcessedReport, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.ProcessedReport{}, ErrInvalidTitle
	}
	if err := m.simulate(ctx, m.latency.Rename); err != nil {
		return domain.ProcessedReport{}, err
	}
	return m.update(ctx, id, func(r *domain.ProcessedReport) error {
		r.Title = title
		return nil
	})
}

// AddReport prepends r to the collection.
func (m *Manager) AddReport(ctx context.Context, r domain.ProcessedReport) error {
	if r.ID == "" {
		return errors.New("reports: report id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if indexOf(m.reports, r.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateReport, r.ID)
	}
	next := make([]domain.ProcessedReport, 0, len(m.reports)+1)
	next = append(next, r.Clone())
	next = append(next, m.reports...)
	return m.commitLocked(ctx, next)
}

// UpdateReport applies fn to a copy of the report and stores the result
// with a fresh updatedAt. An error from fn leaves the collection unchanged.
func (m *Manager) UpdateReport(ctx context.Context, id string, fn func(*domain.ProcessedReport) error) (domain.ProcessedReport, error) {
	return m.update(ctx, id, fn)
}

func (m *Manager) update(ctx context.Context, id string, fn func(*domain.ProcessedReport) error) (domain.ProcessedReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := indexOf(m.reports, id)
	if idx < 0 {
		return domain.ProcessedReport{}, fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	updated := m.reports[idx].Clone()
	if err := fn(&updated); err != nil {
		return domain.ProcessedReport{}, err
	}
	updated.ID = id
	updated.UpdatedAt = domain.Timestamp(m.now())

	next := make([]domain.ProcessedReport, len(m.reports))
	copy(next, m.reports)
	next[idx] = updated
	if err := m.commitLocked(ctx, next); err != nil {
		return domain.ProcessedReport{}, err
	}
	return updated.Clone(), nil
}

// Get returns a copy of the report.
func (m *Manager) Get(id string) (domain.ProcessedReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := indexOf(m.reports, id)
	if idx < 0 {
		return domain.ProcessedReport{}, fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	return m.reports[idx].Clone(), nil
}

// All returns the whole collection in stored order.
func (m *Manager) All() []domain.ProcessedReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ProcessedReport, len(m.reports))
	for i, r := range m.reports {
		out[i] = r.Clone()
	}
	return out
}

// View filters, sorts and pages the collection with the current criteria.
func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	filtered := Query(m.reports, m.criteria, m.sort)
	items := Paginate(filtered, m.page, m.pageSize)
	out := make([]domain.ProcessedReport, len(items))
	for i, r := range items {
		out[i] = r.Clone()
	}
	selected := make([]string, len(m.selected))
	copy(selected, m.selected)
	return View{
		Items:         out,
		Page:          m.page,
		TotalPages:    TotalPages(len(filtered), m.pageSize),
		PageSize:      m.pageSize,
		FilteredCount: len(filtered),
		TotalCount:    len(m.reports),
		Selected:      selected,
		AllSelected:   len(items) > 0 && len(m.selected) == len(items),
		Criteria:      m.criteria,
		Sort:          m.sort,
		Loading:       m.inFlight > 0,
	}
}

// simulate waits for d unless ctx ends first. The manager reports loading
// while any wait is in progress.
func (m *Manager) simulate(ctx context.Context, d time.Duration) error {
	m.mu.Lock()
	m.inFlight++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// commitLocked persists next and then makes it current.
func (m *Manager) commitLocked(ctx context.Context, next []domain.ProcessedReport) error {
	if err := kv.SaveJSON(ctx, m.store, kv.KeyReports, next); err != nil {
		return fmt.Errorf("save reports snapshot: %w", err)
	}
	m.reports = next
	m.clampPageLocked()
	return nil
}

func (m *Manager) clampPageLocked() {
	total := TotalPages(len(Query(m.reports, m.criteria, m.sort)), m.pageSize)
	if total < 1 {
		total = 1
	}
	if m.page > total {
		m.page = total
	}
	if m.page < 1 {
		m.page = 1
	}
}

func (m *Manager) pageItemsLocked() []domain.ProcessedReport {
	return Paginate(Query(m.reports, m.criteria, m.sort), m.page, m.pageSize)
}

func indexOf(reports []domain.ProcessedReport, id string) int {
	for i, r := range reports {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func removeString(list []string, v string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
