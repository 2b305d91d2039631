// Package tracker records versioned widget edits and rebuilds widgets from
// earlier versions.
package tracker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"datapivots/pkg/domain"
)

const defaultRecentLimit = 10

// WidgetState is the current tracked state of one widget. It is updated in
// the same critical section as the change log so the two never disagree.
type WidgetState struct {
	WidgetID     string                `json:"widgetId"`
	Content      domain.WidgetSnapshot `json:"content"`
	Version      int                   `json:"version"`
	Lifecycle    domain.ChangeType     `json:"lifecycle"`
	LastModified time.Time             `json:"lastModified"`
}

type Stats struct {
	Total    int         `json:"total"`
	Last24h  int         `json:"last24h"`
	LastWeek int         `json:"lastWeek"`
	ByType   TypeCounter `json:"byType"`
}

type TypeCounter struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// Tracker owns an append-only widget change log.
type Tracker struct {
	mu        sync.Mutex
	log       []domain.WidgetChange
	states    map[string]WidgetState
	now       func() time.Time
	userEmail string
}

type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithUserEmail stamps every new entry with the acting user's email.
func WithUserEmail(email string) Option {
	return func(t *Tracker) {
		t.userEmail = email
	}
}

// New returns an empty tracker using the wall clock unless WithClock says
// otherwise.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		states: make(map[string]WidgetState),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// SetUserEmail changes the email stamped on subsequent entries.
func (t *Tracker) SetUserEmail(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userEmail = email
}

// TrackChange appends an entry for w. The new version is one past the
// highest of the tracked version and w.Version. previous is recorded only
// for updates; when it is nil the tracked state supplies it.
func (t *Tracker) TrackChange(w domain.Widget, changeType domain.ChangeType, previous *domain.WidgetSnapshot) (domain.WidgetChange, error) {
	if w.ID == "" {
		return domain.WidgetChange{}, fmt.Errorf("%w: widget id is required", ErrInvalidChange)
	}
	switch changeType {
	case domain.ChangeCreated, domain.ChangeUpdated, domain.ChangeDeleted:
	default:
		return domain.WidgetChange{}, fmt.Errorf("%w: unknown change type %q", ErrInvalidChange, changeType)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, tracked := t.states[w.ID]
	version := state.Version
	if w.Version > version {
		version = w.Version
	}
	version++

	change := domain.WidgetChange{
		ID:         "change-" + uuid.NewString(),
		WidgetID:   w.ID,
		Version:    version,
		Timestamp:  domain.Timestamp(t.now()),
		ChangeType: changeType,
		NewData:    w.Snapshot(),
		UserEmail:  t.userEmail,
	}
	if changeType == domain.ChangeUpdated {
		switch {
		case previous != nil:
			prev := previous.Clone()
			change.PreviousData = &prev
		case tracked:
			prev := state.Content.Clone()
			change.PreviousData = &prev
		}
	}

	t.log = append(t.log, change)
	t.states[w.ID] = WidgetState{
		WidgetID:     w.ID,
		Content:      change.NewData.Clone(),
		Version:      version,
		Lifecycle:    changeType,
		LastModified: change.Timestamp,
	}
	return change.Clone(), nil
}

// History returns the entries for one widget, newest first.
func (t *Tracker) History(widgetID string) []domain.WidgetChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.WidgetChange, 0)
	for i := len(t.log) - 1; i >= 0; i-- {
		if c := t.log[i]; c.WidgetID == widgetID {
			out = append(out, c.Clone())
		}
	}
	sortNewestFirst(out)
	return out
}

// LatestVersion returns the newest tracked version of a widget, or 0.
func (t *Tracker) LatestVersion(widgetID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[widgetID].Version
}

// State returns the tracked state of a widget.
func (t *Tracker) State(widgetID string) (WidgetState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[widgetID]
	if !ok {
		return WidgetState{}, false
	}
	s.Content = s.Content.Clone()
	return s, true
}

// RevertToVersion rebuilds the widget recorded by (widgetID, version) at
// the default grid position. The log is left untouched; callers record the
// revert as a new update.
func (t *Tracker) RevertToVersion(widgetID string, version int) (domain.Widget, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.log {
		if c.WidgetID != widgetID || c.Version != version {
			continue
		}
		snap := c.NewData.Clone()
		kind := snap.Type
		if kind == "" {
			kind = domain.WidgetSummary
		}
		ts := c.Timestamp
		return domain.Widget{
			ID:           widgetID,
			Type:         kind,
			Title:        snap.Title,
			Data:         snap.Data,
			Position:     domain.DefaultPosition,
			Editable:     true,
			Version:      c.Version,
			LastModified: &ts,
		}, nil
	}
	return domain.Widget{}, fmt.Errorf("%w: %s v%d", ErrVersionNotFound, widgetID, version)
}

// RecentChanges returns the newest entries across all widgets.
func (t *Tracker) RecentChanges(limit int) []domain.WidgetChange {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	t.mu.Lock()
	all := make([]domain.WidgetChange, 0, len(t.log))
	for i := len(t.log) - 1; i >= 0; i-- {
		all = append(all, t.log[i].Clone())
	}
	t.mu.Unlock()
	sortNewestFirst(all)
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Stats counts entries by recency window and change type. Both windows
// include their lower bound.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)
	stats := Stats{Total: len(t.log)}
	for _, c := range t.log {
		if !c.Timestamp.Before(dayAgo) {
			stats.Last24h++
		}
		if !c.Timestamp.Before(weekAgo) {
			stats.LastWeek++
		}
		switch c.ChangeType {
		case domain.ChangeCreated:
			stats.ByType.Created++
		case domain.ChangeUpdated:
			stats.ByType.Updated++
		case domain.ChangeDeleted:
			stats.ByType.Deleted++
		}
	}
	return stats
}

// ClearHistory drops the entries and state of one widget.
func (t *Tracker) ClearHistory(widgetID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.log[:0]
	for _, c := range t.log {
		if c.WidgetID != widgetID {
			kept = append(kept, c)
		}
	}
	t.log = kept
	delete(t.states, widgetID)
}

// ClearAll drops every entry.
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = nil
	t.states = make(map[string]WidgetState)
}

// Snapshot returns the full log in append order.
func (t *Tracker) Snapshot() []domain.WidgetChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.WidgetChange, len(t.log))
	for i, c := range t.log {
		out[i] = c.Clone()
	}
	return out
}

// Restore replaces the log and rebuilds widget state by replaying it.
// Entries whose version does not advance the widget are rejected.
func (t *Tracker) Restore(changes []domain.WidgetChange) error {
	states := make(map[string]WidgetState)
	log := make([]domain.WidgetChange, 0, len(changes))
	for _, c := range changes {
		if c.WidgetID == "" {
			return fmt.Errorf("%w: entry %q has no widget id", ErrInvalidChange, c.ID)
		}
		prev := states[c.WidgetID]
		if c.Version <= prev.Version {
			return fmt.Errorf("%w: %s version %d does not follow %d", ErrInvalidChange, c.WidgetID, c.Version, prev.Version)
		}
		states[c.WidgetID] = WidgetState{
			WidgetID:     c.WidgetID,
			Content:      c.NewData.Clone(),
			Version:      c.Version,
			Lifecycle:    c.ChangeType,
			LastModified: c.Timestamp,
		}
		log = append(log, c.Clone())
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = log
	t.states = states
	return nil
}

// sortNewestFirst expects input in reverse append order so equal
// timestamps keep the most recent append first.
func sortNewestFirst(changes []domain.WidgetChange) {
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Timestamp.After(changes[j].Timestamp)
	})
}
