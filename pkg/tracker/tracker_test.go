package tracker

import (
	"errors"
	"testing"
	"time"

	"datapivots/pkg/domain"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)}
	return New(WithClock(clock.Now), WithUserEmail("demo@datapivots.com")), clock
}

func summaryWidget(id, title, value string) domain.Widget {
	return domain.Widget{
		ID:       id,
		Type:     domain.WidgetSummary,
		Title:    title,
		Data:     domain.SummaryData{Fields: domain.Fields{{Name: "value", Value: domain.String(value)}}},
		Position: domain.Position{X: 2, Y: 1, W: 4, H: 2},
		Editable: true,
	}
}

func TestTrackChangeIncrementsVersionByOne(t *testing.T) {
	tr, clock := newTestTracker()
	w := summaryWidget("w1", "Title", "a")

	const n = 5
	for i := 1; i <= n; i++ {
		c, err := tr.TrackChange(w, domain.ChangeUpdated, nil)
		if err != nil {
			t.Fatalf("track change %d: %v", i, err)
		}
		if c.Version != i {
			t.Fatalf("version = %d, want %d", c.Version, i)
		}
		if c.UserEmail != "demo@datapivots.com" {
			t.Fatalf("user email = %q", c.UserEmail)
		}
		clock.Advance(time.Second)
	}

	history := tr.History("w1")
	if len(history) != n {
		t.Fatalf("history len = %d, want %d", len(history), n)
	}
	for i := 1; i < len(history); i++ {
		if history[i-1].Version <= history[i].Version {
			t.Fatalf("history not newest first: %d before %d", history[i-1].Version, history[i].Version)
		}
	}
	if got := tr.LatestVersion("w1"); got != n {
		t.Fatalf("latest version = %d, want %d", got, n)
	}
	if got := tr.LatestVersion("unknown"); got != 0 {
		t.Fatalf("latest version for unknown = %d, want 0", got)
	}
}

func TestTrackChangeHonoursStampedWidgetVersion(t *testing.T) {
	tr, _ := newTestTracker()
	w := summaryWidget("w1", "Title", "a")
	w.Version = 3
	c, err := tr.TrackChange(w, domain.ChangeUpdated, nil)
	if err != nil {
		t.Fatalf("track change: %v", err)
	}
	if c.Version != 4 {
		t.Fatalf("version = %d, want 4", c.Version)
	}
}

func TestPreviousDataOnlyForUpdates(t *testing.T) {
	tr, _ := newTestTracker()
	w := summaryWidget("w1", "First", "a")
	prev := w.Snapshot()

	created, err := tr.TrackChange(w, domain.ChangeCreated, &prev)
	if err != nil {
		t.Fatalf("track created: %v", err)
	}
	if created.PreviousData != nil {
		t.Fatalf("created entry must not carry previous data")
	}

	w.Title = "Second"
	updated, err := tr.TrackChange(w, domain.ChangeUpdated, nil)
	if err != nil {
		t.Fatalf("track updated: %v", err)
	}
	if updated.PreviousData == nil || updated.PreviousData.Title != "First" {
		t.Fatalf("previous data = %+v, want title First from tracked state", updated.PreviousData)
	}

	deleted, err := tr.TrackChange(w, domain.ChangeDeleted, &prev)
	if err != nil {
		t.Fatalf("track deleted: %v", err)
	}
	if deleted.PreviousData != nil {
		t.Fatalf("deleted entry must not carry previous data")
	}

	state, ok := tr.State("w1")
	if !ok || state.Lifecycle != domain.ChangeDeleted || state.Version != 3 {
		t.Fatalf("state = %+v ok=%v", state, ok)
	}
}

func TestTrackChangeRejectsInvalidInput(t *testing.T) {
	tr, _ := newTestTracker()
	if _, err := tr.TrackChange(domain.Widget{}, domain.ChangeCreated, nil); !errors.Is(err, ErrInvalidChange) {
		t.Fatalf("empty id err = %v", err)
	}
	if _, err := tr.TrackChange(summaryWidget("w", "t", "v"), "moved", nil); !errors.Is(err, ErrInvalidChange) {
		t.Fatalf("unknown type err = %v", err)
	}
	if len(tr.Snapshot()) != 0 {
		t.Fatalf("rejected changes must not be logged")
	}
}

func TestRevertToVersion(t *testing.T) {
	tr, clock := newTestTracker()
	w := summaryWidget("w1", "Original", "a")
	if _, err := tr.TrackChange(w, domain.ChangeCreated, nil); err != nil {
		t.Fatalf("track created: %v", err)
	}
	clock.Advance(time.Minute)
	w.Title = "Edited"
	w.Data = domain.SummaryData{Fields: domain.Fields{{Name: "value", Value: domain.String("b")}}}
	if _, err := tr.TrackChange(w, domain.ChangeUpdated, nil); err != nil {
		t.Fatalf("track updated: %v", err)
	}

	reverted, err := tr.RevertToVersion("w1", 1)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if reverted.Title != "Original" {
		t.Fatalf("title = %q, want Original", reverted.Title)
	}
	if v, _ := reverted.Data.(domain.SummaryData).Fields.Get("value"); v.Text() != "a" {
		t.Fatalf("data value = %q, want a", v.Text())
	}
	if reverted.Type != domain.WidgetSummary || reverted.Version != 1 || !reverted.Editable {
		t.Fatalf("reverted widget = %+v", reverted)
	}
	if reverted.Position != domain.DefaultPosition {
		t.Fatalf("position = %+v, want default", reverted.Position)
	}
	if len(tr.History("w1")) != 2 {
		t.Fatalf("revert must not alter history")
	}

	if _, err := tr.RevertToVersion("w1", 7); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("missing version err = %v", err)
	}
	if _, err := tr.RevertToVersion("nope", 1); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("missing widget err = %v", err)
	}
}

func TestRevertRestoresWidgetType(t *testing.T) {
	tr, _ := newTestTracker()
	w := domain.Widget{
		ID:    "chart",
		Type:  domain.WidgetChart,
		Title: "Refills",
		Data:  domain.ChartData{Type: domain.ChartBar, Data: []domain.ChartPoint{{Name: "A", Value: 1}}},
	}
	if _, err := tr.TrackChange(w, domain.ChangeCreated, nil); err != nil {
		t.Fatalf("track: %v", err)
	}
	reverted, err := tr.RevertToVersion("chart", 1)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if reverted.Type != domain.WidgetChart {
		t.Fatalf("type = %q, want chart", reverted.Type)
	}
	if err := reverted.Validate(); err != nil {
		t.Fatalf("reverted widget invalid: %v", err)
	}
}

func TestRecentChangesAndStats(t *testing.T) {
	tr, clock := newTestTracker()
	for i := 0; i < 12; i++ {
		w := summaryWidget("w"+string(rune('a'+i)), "t", "v")
		if _, err := tr.TrackChange(w, domain.ChangeCreated, nil); err != nil {
			t.Fatalf("track: %v", err)
		}
	}
	clock.Advance(3 * 24 * time.Hour)
	if _, err := tr.TrackChange(summaryWidget("wa", "t2", "v"), domain.ChangeUpdated, nil); err != nil {
		t.Fatalf("track update: %v", err)
	}
	if _, err := tr.TrackChange(summaryWidget("wb", "t", "v"), domain.ChangeDeleted, nil); err != nil {
		t.Fatalf("track delete: %v", err)
	}

	recent := tr.RecentChanges(0)
	if len(recent) != 10 {
		t.Fatalf("recent len = %d, want default 10", len(recent))
	}
	if recent[0].WidgetID != "wb" || recent[0].ChangeType != domain.ChangeDeleted {
		t.Fatalf("most recent = %+v, want wb deleted", recent[0])
	}
	if got := len(tr.RecentChanges(3)); got != 3 {
		t.Fatalf("recent(3) len = %d", got)
	}

	stats := tr.Stats()
	if stats.Total != 14 {
		t.Fatalf("total = %d, want 14", stats.Total)
	}
	if stats.Last24h != 2 {
		t.Fatalf("last24h = %d, want 2", stats.Last24h)
	}
	if stats.LastWeek != 14 {
		t.Fatalf("lastWeek = %d, want 14", stats.LastWeek)
	}
	if stats.ByType != (TypeCounter{Created: 12, Updated: 1, Deleted: 1}) {
		t.Fatalf("byType = %+v", stats.ByType)
	}
}

func TestStatsWindowsIncludeBoundary(t *testing.T) {
	tr, clock := newTestTracker()
	if _, err := tr.TrackChange(summaryWidget("wa", "t", "v"), domain.ChangeCreated, nil); err != nil {
		t.Fatalf("track: %v", err)
	}
	clock.Advance(24 * time.Hour)
	if got := tr.Stats().Last24h; got != 1 {
		t.Fatalf("last24h at exactly 24h = %d, want 1", got)
	}
	clock.Advance(time.Millisecond)
	if got := tr.Stats().Last24h; got != 0 {
		t.Fatalf("last24h past 24h = %d, want 0", got)
	}

	clock.Advance(6*24*time.Hour - time.Millisecond)
	if got := tr.Stats().LastWeek; got != 1 {
		t.Fatalf("lastWeek at exactly 7d = %d, want 1", got)
	}
	clock.Advance(time.Millisecond)
	if got := tr.Stats().LastWeek; got != 0 {
		t.Fatalf("lastWeek past 7d = %d, want 0", got)
	}
}

func TestClearHistory(t *testing.T) {
	tr, _ := newTestTracker()
	for _, id := range []string{"a", "b"} {
		if _, err := tr.TrackChange(summaryWidget(id, "t", "v"), domain.ChangeCreated, nil); err != nil {
			t.Fatalf("track: %v", err)
		}
	}
	tr.ClearHistory("a")
	if len(tr.History("a")) != 0 || tr.LatestVersion("a") != 0 {
		t.Fatalf("history for a should be cleared")
	}
	if len(tr.History("b")) != 1 {
		t.Fatalf("history for b should survive")
	}
	tr.ClearAll()
	if len(tr.Snapshot()) != 0 || tr.LatestVersion("b") != 0 {
		t.Fatalf("ClearAll should drop everything")
	}
}

func TestSnapshotRestore(t *testing.T) {
	tr, clock := newTestTracker()
	w := summaryWidget("w1", "t", "v")
	for i := 0; i < 3; i++ {
		if _, err := tr.TrackChange(w, domain.ChangeUpdated, nil); err != nil {
			t.Fatalf("track: %v", err)
		}
		clock.Advance(time.Second)
	}

	restored, _ := newTestTracker()
	if err := restored.Restore(tr.Snapshot()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := restored.LatestVersion("w1"); got != 3 {
		t.Fatalf("restored latest version = %d, want 3", got)
	}
	next, err := restored.TrackChange(w, domain.ChangeUpdated, nil)
	if err != nil {
		t.Fatalf("track after restore: %v", err)
	}
	if next.Version != 4 {
		t.Fatalf("next version = %d, want 4", next.Version)
	}

	bad := tr.Snapshot()
	bad[2].Version = 1
	if err := New().Restore(bad); !errors.Is(err, ErrInvalidChange) {
		t.Fatalf("restore out-of-order err = %v", err)
	}
}
