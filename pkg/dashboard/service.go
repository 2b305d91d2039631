// Package dashboard edits the widgets of one report and keeps the per-report
// change log in step with every edit.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"datapivots/pkg/domain"
	"datapivots/pkg/export"
	"datapivots/pkg/kv"
	"datapivots/pkg/queue"
	"datapivots/pkg/session"
	"datapivots/pkg/tracker"
)

// Reports is the part of the report collection the dashboard writes through.
type Reports interface {
	Get(id string) (domain.ProcessedReport, error)
	UpdateReport(ctx context.Context, id string, fn func(*domain.ProcessedReport) error) (domain.ProcessedReport, error)
}

// Exporter enqueues export jobs.
type Exporter interface {
	Enqueue(ctx context.Context, reportID string, format export.Format) (queue.JobStatus, error)
}

type Config struct {
	Store    kv.Store
	Reports  Reports
	Exporter Exporter
	Now      func() time.Time
	Logger   *slog.Logger
}

// Service applies widget edits to reports and records each one in the
// report's change log. Edits to all reports are serialized.
type Service struct {
	store    kv.Store
	reports  Reports
	exporter Exporter
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	trackers map[string]*tracker.Tracker
}

// NewService requires a store and a report collection. The exporter is
// optional; without it Export fails.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Reports == nil {
		return nil, errors.New("dashboard: store and reports are required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:    cfg.Store,
		reports:  cfg.Reports,
		exporter: cfg.Exporter,
		now:      cfg.Now,
		logger:   cfg.Logger,
		trackers: make(map[string]*tracker.Tracker),
	}, nil
}

// Open returns the report with every widget versioned. Widgets seen for the
// first time get a "created" entry at version 1. The report's updatedAt is
// left alone since nothing was edited.
func (s *Service) Open(ctx context.Context, reportID string) (domain.ProcessedReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := s.reports.Get(reportID)
	if err != nil {
		return domain.ProcessedReport{}, err
	}
	t, err := s.trackerLocked(ctx, reportID)
	if err != nil {
		return domain.ProcessedReport{}, err
	}
	setActor(ctx, t)

	before := t.Snapshot()
	changed := false
	for i, w := range report.Widgets {
		if w.Version > 0 {
			continue
		}
		if latest := t.LatestVersion(w.ID); latest > 0 {
			report.Widgets[i] = stamp(w, latest, t)
			continue
		}
		change, err := t.TrackChange(w, domain.ChangeCreated, nil)
		if err != nil {
			s.rollbackLocked(ctx, reportID, t, before, false)
			return domain.ProcessedReport{}, err
		}
		report.Widgets[i] = stamp(w, change.Version, t)
		changed = true
	}
	if changed {
		if err := s.persistLocked(ctx, reportID, t); err != nil {
			s.rollbackLocked(ctx, reportID, t, before, false)
			return domain.ProcessedReport{}, err
		}
	}
	return report, nil
}

// SaveWidget replaces the widget with the edited copy and records the edit.
// A zero position keeps the widget where it is.
func (s *Service) SaveWidget(ctx context.Context, reportID string, w domain.Widget) (domain.Widget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := s.reports.Get(reportID)
	if err != nil {
		return domain.Widget{}, err
	}
	idx := report.WidgetByID(w.ID)
	if idx < 0 {
		return domain.Widget{}, fmt.Errorf("%w: %s", ErrWidgetNotFound, w.ID)
	}
	current := report.Widgets[idx]
	if w.Position == (domain.Position{}) {
		w.Position = current.Position
	}
	if w.Type == "" && w.Data != nil {
		w.Type = w.Data.Kind()
	}
	if err := w.Validate(); err != nil {
		return domain.Widget{}, err
	}
	w.Version = current.Version

	previous := current.Snapshot()
	return s.recordLocked(ctx, reportID, w, domain.ChangeUpdated, &previous)
}

// RemoveWidget drops the widget from the board and logs a "deleted" entry.
func (s *Service) RemoveWidget(ctx context.Context, reportID, widgetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := s.reports.Get(reportID)
	if err != nil {
		return err
	}
	idx := report.WidgetByID(widgetID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrWidgetNotFound, widgetID)
	}
	t, err := s.trackerLocked(ctx, reportID)
	if err != nil {
		return err
	}
	setActor(ctx, t)
	before := t.Snapshot()
	if _, err := t.TrackChange(report.Widgets[idx], domain.ChangeDeleted, nil); err != nil {
		return err
	}
	if err := s.persistLocked(ctx, reportID, t); err != nil {
		s.rollbackLocked(ctx, reportID, t, before, false)
		return err
	}
	_, err = s.reports.UpdateReport(ctx, reportID, func(r *domain.ProcessedReport) error {
		i := r.WidgetByID(widgetID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrWidgetNotFound, widgetID)
		}
		r.Widgets = append(r.Widgets[:i], r.Widgets[i+1:]...)
		return nil
	})
	if err != nil {
		s.rollbackLocked(ctx, reportID, t, before, true)
	}
	return err
}

// RevertWidget restores the content recorded at version. The widget keeps
// its current grid position and the revert is logged as a new update.
func (s *Service) RevertWidget(ctx context.Context, reportID, widgetID string, version int) (domain.Widget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := s.reports.Get(reportID)
	if err != nil {
		return domain.Widget{}, err
	}
	idx := report.WidgetByID(widgetID)
	if idx < 0 {
		return domain.Widget{}, fmt.Errorf("%w: %s", ErrWidgetNotFound, widgetID)
	}
	t, err := s.trackerLocked(ctx, reportID)
	if err != nil {
		return domain.Widget{}, err
	}
	restored, err := t.RevertToVersion(widgetID, version)
	if err != nil {
		return domain.Widget{}, err
	}
	current := report.Widgets[idx]
	restored.Position = current.Position
	restored.Editable = current.Editable
	restored.Version = current.Version

	previous := current.Snapshot()
	return s.recordLocked(ctx, reportID, restored, domain.ChangeUpdated, &previous)
}

// UpdateLayout moves widgets on the grid. Layout changes are not versioned.
func (s *Service) UpdateLayout(ctx context.Context, reportID string, positions map[string]domain.Position) (domain.ProcessedReport, error) {
	for id, p := range positions {
		if err := p.Validate(); err != nil {
			return domain.ProcessedReport{}, fmt.Errorf("%w: widget %s: %v", ErrInvalidLayout, id, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reports.UpdateReport(ctx, reportID, func(r *domain.ProcessedReport) error {
		for id, p := range positions {
			i := r.WidgetByID(id)
			if i < 0 {
				return fmt.Errorf("%w: %s", ErrWidgetNotFound, id)
			}
			r.Widgets[i].Position = p
		}
		return nil
	})
}

// History returns the entries of one widget, newest first.
func (s *Service) History(ctx context.Context, reportID, widgetID string) ([]domain.WidgetChange, error) {
	t, err := s.tracker(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return t.History(widgetID), nil
}

func (s *Service) RecentChanges(ctx context.Context, reportID string, limit int) ([]domain.WidgetChange, error) {
	t, err := s.tracker(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return t.RecentChanges(limit), nil
}

// Stats summarizes the report's change log.
func (s *Service) Stats(ctx context.Context, reportID string) (tracker.Stats, error) {
	t, err := s.tracker(ctx, reportID)
	if err != nil {
		return tracker.Stats{}, err
	}
	return t.Stats(), nil
}

// ClearHistory drops the log of one widget, or of the whole report when
// widgetID is empty.
func (s *Service) ClearHistory(ctx context.Context, reportID, widgetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.reports.Get(reportID); err != nil {
		return err
	}
	t, err := s.trackerLocked(ctx, reportID)
	if err != nil {
		return err
	}
	if widgetID == "" {
		t.ClearAll()
	} else {
		t.ClearHistory(widgetID)
	}
	return s.persistLocked(ctx, reportID, t)
}

func (s *Service) Export(ctx context.Context, reportID string, format export.Format) (queue.JobStatus, error) {
	if s.exporter == nil {
		return queue.JobStatus{}, errors.New("export is not configured")
	}
	return s.exporter.Enqueue(ctx, reportID, format)
}

// Forget drops the change log of a deleted report.
func (s *Service) Forget(ctx context.Context, reportID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trackers, reportID)
	if err := s.store.Delete(ctx, kv.WidgetChangesKey(reportID)); err != nil {
		return fmt.Errorf("delete change log: %w", err)
	}
	return nil
}

func (s *Service) tracker(ctx context.Context, reportID string) (*tracker.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.reports.Get(reportID); err != nil {
		return nil, err
	}
	return s.trackerLocked(ctx, reportID)
}

// trackerLocked loads the report's log on first use. An unreadable log is
// logged and replaced by an empty one.
func (s *Service) trackerLocked(ctx context.Context, reportID string) (*tracker.Tracker, error) {
	if t, ok := s.trackers[reportID]; ok {
		return t, nil
	}
	t := tracker.New(tracker.WithClock(s.now))
	var changes []domain.WidgetChange
	found, err := kv.LoadJSON(ctx, s.store, kv.WidgetChangesKey(reportID), &changes)
	var decodeErr *kv.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		s.logger.Warn("widget change log unreadable, starting empty", "report_id", reportID, "err", err)
	case err != nil:
		return nil, err
	case found:
		if err := t.Restore(changes); err != nil {
			s.logger.Warn("widget change log rejected, starting empty", "report_id", reportID, "err", err)
		}
	}
	s.trackers[reportID] = t
	return t, nil
}

func (s *Service) persistLocked(ctx context.Context, reportID string, t *tracker.Tracker) error {
	if err := kv.SaveJSON(ctx, s.store, kv.WidgetChangesKey(reportID), t.Snapshot()); err != nil {
		return fmt.Errorf("save change log: %w", err)
	}
	return nil
}

// rollbackLocked puts the log back to before after a failed edit. When the
// edited log already reached the store it is overwritten too.
func (s *Service) rollbackLocked(ctx context.Context, reportID string, t *tracker.Tracker, before []domain.WidgetChange, persisted bool) {
	if err := t.Restore(before); err != nil {
		s.logger.Error("widget change log rollback failed", "report_id", reportID, "err", err)
		return
	}
	if !persisted {
		return
	}
	if err := s.persistLocked(context.WithoutCancel(ctx), reportID, t); err != nil {
		s.logger.Warn("widget change log left ahead of report", "report_id", reportID, "err", err)
	}
}

// recordLocked logs the change, stamps w with the new version and writes it
// into the report.
func (s *Service) recordLocked(ctx context.Context, reportID string, w domain.Widget, kind domain.ChangeType, previous *domain.WidgetSnapshot) (domain.Widget, error) {
	t, err := s.trackerLocked(ctx, reportID)
	if err != nil {
		return domain.Widget{}, err
	}
	setActor(ctx, t)
	before := t.Snapshot()
	change, err := t.TrackChange(w, kind, previous)
	if err != nil {
		return domain.Widget{}, err
	}
	w = stamp(w, change.Version, t)
	if err := s.persistLocked(ctx, reportID, t); err != nil {
		s.rollbackLocked(ctx, reportID, t, before, false)
		return domain.Widget{}, err
	}
	_, err = s.reports.UpdateReport(ctx, reportID, func(r *domain.ProcessedReport) error {
		i := r.WidgetByID(w.ID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrWidgetNotFound, w.ID)
		}
		r.Widgets[i] = w.Clone()
		return nil
	})
	if err != nil {
		s.rollbackLocked(ctx, reportID, t, before, true)
		return domain.Widget{}, err
	}
	s.logger.Debug("widget change recorded", "report_id", reportID, "widget_id", w.ID, "version", change.Version, "change", kind)
	return w, nil
}

func stamp(w domain.Widget, version int, t *tracker.Tracker) domain.Widget {
	w.Version = version
	if st, ok := t.State(w.ID); ok {
		ts := st.LastModified
		w.LastModified = &ts
	}
	return w
}

// setActor stamps entries with the email of the signed-in user, if any.
func setActor(ctx context.Context, t *tracker.Tracker) {
	email := ""
	if sess, ok := session.FromContext(ctx); ok {
		email = sess.User.Email
	}
	t.SetUserEmail(email)
}
