package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"datapivots/pkg/domain"
	"datapivots/pkg/export"
	"datapivots/pkg/kv"
	"datapivots/pkg/queue"
	"datapivots/pkg/reports"
	"datapivots/pkg/session"
	"datapivots/pkg/tracker"
)

var now = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func summaryWidget(id, title string, x int, value string) domain.Widget {
	return domain.Widget{
		ID:    id,
		Type:  domain.WidgetSummary,
		Title: title,
		Data: domain.SummaryData{Fields: domain.Fields{
			{Name: "value", Value: domain.String(value)},
		}},
		Position: domain.Position{X: x, Y: 0, W: 4, H: 3},
		Editable: true,
	}
}

func seed() []domain.ProcessedReport {
	return []domain.ProcessedReport{{
		ID:         "r1",
		Title:      "Lab results",
		ReportType: domain.ReportPatientReports,
		Status:     domain.ReportCompleted,
		CreatedAt:  now,
		UpdatedAt:  now,
		Widgets: []domain.Widget{
			summaryWidget("w1", "Overview", 0, "a"),
			summaryWidget("w2", "Notes", 4, "b"),
		},
	}}
}

type fakeExporter struct{ calls []string }

func (f *fakeExporter) Enqueue(_ context.Context, reportID string, format export.Format) (queue.JobStatus, error) {
	f.calls = append(f.calls, reportID+":"+string(format))
	return queue.JobStatus{ID: "job-1", ReportID: reportID, Format: string(format), Status: queue.StatusQueued}, nil
}

func newTestService(t *testing.T, store kv.Store) (*Service, *reports.Manager) {
	t.Helper()
	clock := func() time.Time { return now }
	mgr, err := reports.NewManager(reports.Config{Store: store, Now: clock, Seed: seed})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	svc, err := NewService(Config{Store: store, Reports: mgr, Exporter: &fakeExporter{}, Now: clock})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, mgr
}

func userContext() context.Context {
	return session.NewContext(context.Background(), domain.Session{
		User:            domain.User{ID: "demo-user-1", Email: "demo@datapivots.com"},
		IsAuthenticated: true,
	})
}

func TestOpenRecordsCreatedOnce(t *testing.T) {
	svc, mgr := newTestService(t, kv.NewMemoryStore())
	ctx := userContext()

	report, err := svc.Open(ctx, "r1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, w := range report.Widgets {
		if w.Version != 1 || w.LastModified == nil {
			t.Fatalf("widget %s not stamped: %+v", w.ID, w)
		}
	}
	if _, err := svc.Open(ctx, "r1"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	stats, err := svc.Stats(ctx, "r1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.ByType.Created != 2 {
		t.Fatalf("stats = %+v, want two created entries", stats)
	}
	history, _ := svc.History(ctx, "r1", "w1")
	if len(history) != 1 || history[0].UserEmail != "demo@datapivots.com" {
		t.Fatalf("history = %+v", history)
	}
	stored, _ := mgr.Get("r1")
	if !stored.UpdatedAt.Equal(now) {
		t.Fatalf("open must not touch updatedAt, got %v", stored.UpdatedAt)
	}
}

func TestSaveWidgetTracksUpdate(t *testing.T) {
	svc, mgr := newTestService(t, kv.NewMemoryStore())
	ctx := userContext()
	if _, err := svc.Open(ctx, "r1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	edit := summaryWidget("w1", "Overview (edited)", 0, "c")
	edit.Position = domain.Position{}
	saved, err := svc.SaveWidget(ctx, "r1", edit)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Version != 2 {
		t.Fatalf("version = %d, want 2", saved.Version)
	}
	if saved.Position != (domain.Position{X: 0, Y: 0, W: 4, H: 3}) {
		t.Fatalf("zero position should keep the current one, got %+v", saved.Position)
	}

	history, _ := svc.History(ctx, "r1", "w1")
	if len(history) != 2 || history[0].ChangeType != domain.ChangeUpdated {
		t.Fatalf("history = %+v", history)
	}
	if history[0].PreviousData == nil || history[0].PreviousData.Title != "Overview" {
		t.Fatalf("previous data = %+v", history[0].PreviousData)
	}

	stored, _ := mgr.Get("r1")
	if stored.Widgets[0].Title != "Overview (edited)" || stored.Widgets[0].Version != 2 {
		t.Fatalf("stored widget = %+v", stored.Widgets[0])
	}

	if _, err := svc.SaveWidget(ctx, "r1", summaryWidget("nope", "x", 0, "x")); !errors.Is(err, ErrWidgetNotFound) {
		t.Fatalf("unknown widget err = %v", err)
	}
	bad := summaryWidget("w1", "x", 0, "x")
	bad.Type = domain.WidgetTable
	if _, err := svc.SaveWidget(ctx, "r1", bad); !errors.Is(err, domain.ErrInvalidWidget) {
		t.Fatalf("mismatched type err = %v", err)
	}
}

func TestRevertKeepsPosition(t *testing.T) {
	svc, _ := newTestService(t, kv.NewMemoryStore())
	ctx := userContext()
	if _, err := svc.Open(ctx, "r1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	moved := summaryWidget("w2", "Renamed", 0, "z")
	moved.Position = domain.Position{X: 8, Y: 3, W: 2, H: 2}
	if _, err := svc.SaveWidget(ctx, "r1", moved); err != nil {
		t.Fatalf("save: %v", err)
	}

	reverted, err := svc.RevertWidget(ctx, "r1", "w2", 1)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if reverted.Title != "Notes" || reverted.Version != 3 {
		t.Fatalf("reverted = %+v", reverted)
	}
	if reverted.Position != moved.Position {
		t.Fatalf("position = %+v, want %+v", reverted.Position, moved.Position)
	}
	if _, err := svc.RevertWidget(ctx, "r1", "w2", 9); !errors.Is(err, tracker.ErrVersionNotFound) {
		t.Fatalf("missing version err = %v", err)
	}
}

func TestRemoveWidgetThenRevertFails(t *testing.T) {
	svc, mgr := newTestService(t, kv.NewMemoryStore())
	ctx := userContext()
	if _, err := svc.Open(ctx, "r1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := svc.RemoveWidget(ctx, "r1", "w2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	stored, _ := mgr.Get("r1")
	if len(stored.Widgets) != 1 {
		t.Fatalf("widgets = %d, want 1", len(stored.Widgets))
	}
	if _, err := svc.RevertWidget(ctx, "r1", "w2", 1); !errors.Is(err, ErrWidgetNotFound) {
		t.Fatalf("revert removed widget err = %v", err)
	}
	stats, _ := svc.Stats(ctx, "r1")
	if stats.ByType.Deleted != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

var errDiskFull = errors.New("disk full")

// failingStore refuses writes to failKey.
type failingStore struct {
	kv.Store
	failKey string
}

func (s *failingStore) Set(ctx context.Context, key string, value []byte) error {
	if key == s.failKey {
		return errDiskFull
	}
	return s.Store.Set(ctx, key, value)
}

func storedLogLen(t *testing.T, store kv.Store, reportID string) int {
	t.Helper()
	var changes []domain.WidgetChange
	if _, err := kv.LoadJSON(context.Background(), store, kv.WidgetChangesKey(reportID), &changes); err != nil {
		t.Fatalf("load change log: %v", err)
	}
	return len(changes)
}

func TestFailedEditLeavesLogAndReportInStep(t *testing.T) {
	for _, failKey := range []string{kv.KeyReports, kv.WidgetChangesKey("r1")} {
		t.Run(failKey, func(t *testing.T) {
			store := &failingStore{Store: kv.NewMemoryStore()}
			svc, mgr := newTestService(t, store)
			ctx := userContext()
			if _, err := svc.Open(ctx, "r1"); err != nil {
				t.Fatalf("open: %v", err)
			}
			store.failKey = failKey

			if _, err := svc.SaveWidget(ctx, "r1", summaryWidget("w1", "Edited", 0, "c")); !errors.Is(err, errDiskFull) {
				t.Fatalf("save err = %v, want disk full", err)
			}
			if err := svc.RemoveWidget(ctx, "r1", "w2"); !errors.Is(err, errDiskFull) {
				t.Fatalf("remove err = %v, want disk full", err)
			}

			for _, id := range []string{"w1", "w2"} {
				history, err := svc.History(ctx, "r1", id)
				if err != nil {
					t.Fatalf("history %s: %v", id, err)
				}
				if len(history) != 1 || history[0].ChangeType != domain.ChangeCreated {
					t.Fatalf("history %s = %+v, want only the created entry", id, history)
				}
			}
			stored, _ := mgr.Get("r1")
			if len(stored.Widgets) != 2 || stored.Widgets[0].Title != "Overview" {
				t.Fatalf("report changed by failed edits: %+v", stored.Widgets)
			}

			store.failKey = ""
			if got := storedLogLen(t, store, "r1"); got != 2 {
				t.Fatalf("stored log = %d entries, want 2", got)
			}
			saved, err := svc.SaveWidget(ctx, "r1", summaryWidget("w1", "Edited", 0, "c"))
			if err != nil {
				t.Fatalf("save after recovery: %v", err)
			}
			if saved.Version != 2 {
				t.Fatalf("version after recovery = %d, want 2", saved.Version)
			}
		})
	}
}

func TestUpdateLayout(t *testing.T) {
	svc, _ := newTestService(t, kv.NewMemoryStore())
	ctx := context.Background()

	report, err := svc.UpdateLayout(ctx, "r1", map[string]domain.Position{"w1": {X: 2, Y: 5, W: 6, H: 4}})
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	if report.Widgets[0].Position != (domain.Position{X: 2, Y: 5, W: 6, H: 4}) {
		t.Fatalf("position = %+v", report.Widgets[0].Position)
	}
	if _, err := svc.UpdateLayout(ctx, "r1", map[string]domain.Position{"w1": {W: 0, H: 1}}); !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("invalid layout err = %v", err)
	}
	if _, err := svc.UpdateLayout(ctx, "r1", map[string]domain.Position{"ghost": {W: 1, H: 1}}); !errors.Is(err, ErrWidgetNotFound) {
		t.Fatalf("unknown widget err = %v", err)
	}
}

func TestChangeLogSurvivesRestart(t *testing.T) {
	store := kv.NewMemoryStore()
	svc, _ := newTestService(t, store)
	ctx := userContext()
	if _, err := svc.Open(ctx, "r1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.SaveWidget(ctx, "r1", summaryWidget("w1", "Edited", 0, "q")); err != nil {
		t.Fatalf("save: %v", err)
	}

	restarted, _ := newTestService(t, store)
	recent, err := restarted.RecentChanges(ctx, "r1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("recent = %d entries, want 3", len(recent))
	}

	if err := restarted.ClearHistory(ctx, "r1", "w1"); err != nil {
		t.Fatalf("clear widget: %v", err)
	}
	if h, _ := restarted.History(ctx, "r1", "w1"); len(h) != 0 {
		t.Fatalf("history after clear = %d", len(h))
	}
	if err := restarted.ClearHistory(ctx, "r1", ""); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if stats, _ := restarted.Stats(ctx, "r1"); stats.Total != 0 {
		t.Fatalf("stats after clear = %+v", stats)
	}
}

func TestCorruptChangeLogStartsEmpty(t *testing.T) {
	store := kv.NewMemoryStore()
	if err := store.Set(context.Background(), kv.WidgetChangesKey("r1"), []byte("{nope")); err != nil {
		t.Fatalf("set: %v", err)
	}
	svc, _ := newTestService(t, store)
	stats, err := svc.Stats(context.Background(), "r1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestUnknownReportAndForget(t *testing.T) {
	store := kv.NewMemoryStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	if _, err := svc.Open(ctx, "missing"); !errors.Is(err, reports.ErrReportNotFound) {
		t.Fatalf("open missing err = %v", err)
	}
	if _, err := svc.Open(ctx, "r1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := svc.Forget(ctx, "r1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, ok, _ := store.Get(ctx, kv.WidgetChangesKey("r1")); ok {
		t.Fatalf("change log should be deleted")
	}
}

func TestExportDelegates(t *testing.T) {
	svc, _ := newTestService(t, kv.NewMemoryStore())
	job, err := svc.Export(context.Background(), "r1", export.FormatPDF)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if job.ReportID != "r1" || job.Format != "pdf" {
		t.Fatalf("job = %+v", job)
	}
}
