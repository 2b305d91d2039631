package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidWidget   = errors.New("invalid widget")
	ErrInvalidPosition = errors.New("invalid widget position")
)

type WidgetType string

const (
	WidgetSummary WidgetType = "summary"
	WidgetTable   WidgetType = "table"
	WidgetChart   WidgetType = "chart"
	WidgetMetrics WidgetType = "metrics"
)

// WidgetData is the payload of a widget. Each widget type has exactly one
// implementation in this package.
type WidgetData interface {
	Kind() WidgetType
	Validate() error
	cloneData() WidgetData
}

// SummaryData maps field names to scalars.
type SummaryData struct {
	Fields Fields
}

func (SummaryData) Kind() WidgetType { return WidgetSummary }
func (SummaryData) Validate() error  { return nil }
func (d SummaryData) cloneData() WidgetData {
	return SummaryData{Fields: d.Fields.clone()}
}

func (d SummaryData) MarshalJSON() ([]byte, error) {
	if d.Fields == nil {
		return []byte("{}"), nil
	}
	return d.Fields.MarshalJSON()
}

func (d *SummaryData) UnmarshalJSON(data []byte) error {
	return d.Fields.UnmarshalJSON(data)
}

// TableData is an ordered list of rows. Columns come from the first row.
type TableData struct {
	Rows []Fields
}

func (TableData) Kind() WidgetType { return WidgetTable }

// Columns returns the column names derived from the first row.
func (d TableData) Columns() []string {
	if len(d.Rows) == 0 {
		return nil
	}
	return d.Rows[0].Names()
}

func (d TableData) Validate() error {
	cols := make(map[string]struct{})
	for _, name := range d.Columns() {
		cols[name] = struct{}{}
	}
	for i, row := range d.Rows {
		for _, field := range row {
			if _, ok := cols[field.Name]; !ok {
				return fmt.Errorf("%w: row %d has unknown column %q", ErrInvalidWidget, i, field.Name)
			}
		}
	}
	return nil
}

func (d TableData) cloneData() WidgetData {
	rows := make([]Fields, len(d.Rows))
	for i, row := range d.Rows {
		rows[i] = row.clone()
	}
	return TableData{Rows: rows}
}

func (d TableData) MarshalJSON() ([]byte, error) {
	if d.Rows == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d.Rows)
}

func (d *TableData) UnmarshalJSON(data []byte) error {
	var rows []Fields
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("table data: %w", err)
	}
	d.Rows = rows
	return nil
}

type MetricStatus string

const (
	MetricPositive MetricStatus = "positive"
	MetricNegative MetricStatus = "negative"
	MetricNeutral  MetricStatus = "neutral"
)

type MetricItem struct {
	Label  string       `json:"label"`
	Value  Scalar       `json:"value"`
	Change *float64     `json:"change,omitempty"`
	Status MetricStatus `json:"status,omitempty"`
	Unit   string       `json:"unit,omitempty"`
}

// MetricsData holds either named values or an explicit item list.
// A non-nil Items slice takes precedence when encoding.
type MetricsData struct {
	Fields Fields
	Items  []MetricItem
}

func (MetricsData) Kind() WidgetType { return WidgetMetrics }

func (d MetricsData) Validate() error {
	for i, item := range d.Items {
		if item.Label == "" {
			return fmt.Errorf("%w: metric %d has no label", ErrInvalidWidget, i)
		}
		switch item.Status {
		case "", MetricPositive, MetricNegative, MetricNeutral:
		default:
			return fmt.Errorf("%w: metric %q has unknown status %q", ErrInvalidWidget, item.Label, item.Status)
		}
	}
	return nil
}

func (d MetricsData) cloneData() WidgetData {
	out := MetricsData{Fields: d.Fields.clone()}
	if d.Items != nil {
		out.Items = make([]MetricItem, len(d.Items))
		for i, item := range d.Items {
			if item.Change != nil {
				c := *item.Change
				item.Change = &c
			}
			out.Items[i] = item
		}
	}
	return out
}

func (d MetricsData) MarshalJSON() ([]byte, error) {
	if d.Items != nil {
		return json.Marshal(d.Items)
	}
	if d.Fields == nil {
		return []byte("{}"), nil
	}
	return d.Fields.MarshalJSON()
}

func (d *MetricsData) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []MetricItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("metrics data: %w", err)
		}
		*d = MetricsData{Items: items}
		return nil
	}
	var fields Fields
	if err := fields.UnmarshalJSON(trimmed); err != nil {
		return fmt.Errorf("metrics data: %w", err)
	}
	*d = MetricsData{Fields: fields}
	return nil
}

type ChartType string

const (
	ChartBar      ChartType = "bar"
	ChartPie      ChartType = "pie"
	ChartLine     ChartType = "line"
	ChartTimeline ChartType = "timeline"
)

type ChartPoint struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Date  string  `json:"date,omitempty"`
}

type ChartData struct {
	Type ChartType    `json:"type"`
	Data []ChartPoint `json:"data"`
}

func (ChartData) Kind() WidgetType { return WidgetChart }

func (d ChartData) Validate() error {
	switch d.Type {
	case ChartBar, ChartPie, ChartLine, ChartTimeline:
		return nil
	default:
		return fmt.Errorf("%w: unknown chart type %q", ErrInvalidWidget, d.Type)
	}
}

func (d ChartData) cloneData() WidgetData {
	return ChartData{Type: d.Type, Data: append([]ChartPoint(nil), d.Data...)}
}

// DecodeWidgetData parses raw JSON into the payload type for kind.
func DecodeWidgetData(kind WidgetType, raw json.RawMessage) (WidgetData, error) {
	switch kind {
	case WidgetSummary:
		var d SummaryData
		if err := d.UnmarshalJSON(raw); err != nil {
			return nil, fmt.Errorf("%w: summary: %v", ErrInvalidWidget, err)
		}
		return d, nil
	case WidgetTable:
		var d TableData
		if err := d.UnmarshalJSON(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWidget, err)
		}
		return d, nil
	case WidgetMetrics:
		var d MetricsData
		if err := d.UnmarshalJSON(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWidget, err)
		}
		return d, nil
	case WidgetChart:
		var d ChartData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("%w: chart: %v", ErrInvalidWidget, err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidWidget, kind)
	}
}

func cloneWidgetData(d WidgetData) WidgetData {
	if d == nil {
		return nil
	}
	return d.cloneData()
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Validate enforces non-negative grid coordinates and a minimum 1x1 size.
func (p Position) Validate() error {
	if p.X < 0 || p.Y < 0 {
		return fmt.Errorf("%w: x and y must be >= 0", ErrInvalidPosition)
	}
	if p.W < 1 || p.H < 1 {
		return fmt.Errorf("%w: w and h must be >= 1", ErrInvalidPosition)
	}
	return nil
}

// DefaultPosition is where reconstructed widgets land on the grid.
var DefaultPosition = Position{X: 0, Y: 0, W: 4, H: 3}

type Widget struct {
	ID           string
	Type         WidgetType
	Title        string
	Data         WidgetData
	Position     Position
	Editable     bool
	Version      int
	LastModified *time.Time
}

type widgetJSON struct {
	ID           string          `json:"id"`
	Type         WidgetType      `json:"type"`
	Title        string          `json:"title"`
	Data         json.RawMessage `json:"data"`
	Position     Position        `json:"position"`
	Editable     bool            `json:"editable"`
	Version      int             `json:"version,omitempty"`
	LastModified *time.Time      `json:"lastModified,omitempty"`
}

func (w Widget) MarshalJSON() ([]byte, error) {
	data, err := marshalData(w.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(widgetJSON{
		ID:           w.ID,
		Type:         w.Type,
		Title:        w.Title,
		Data:         data,
		Position:     w.Position,
		Editable:     w.Editable,
		Version:      w.Version,
		LastModified: w.LastModified,
	})
}

func (w *Widget) UnmarshalJSON(b []byte) error {
	var raw widgetJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	data, err := DecodeWidgetData(raw.Type, raw.Data)
	if err != nil {
		return fmt.Errorf("widget %q: %w", raw.ID, err)
	}
	*w = Widget{
		ID:           raw.ID,
		Type:         raw.Type,
		Title:        raw.Title,
		Data:         data,
		Position:     raw.Position,
		Editable:     raw.Editable,
		Version:      raw.Version,
		LastModified: raw.LastModified,
	}
	return nil
}

// Validate checks the id, that the payload matches the declared type and
// that the grid position is legal.
func (w Widget) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidWidget)
	}
	if w.Data == nil {
		return fmt.Errorf("%w: data is required", ErrInvalidWidget)
	}
	if w.Data.Kind() != w.Type {
		return fmt.Errorf("%w: type %q does not match %q data", ErrInvalidWidget, w.Type, w.Data.Kind())
	}
	if err := w.Data.Validate(); err != nil {
		return err
	}
	return w.Position.Validate()
}

func (w Widget) Clone() Widget {
	out := w
	out.Data = cloneWidgetData(w.Data)
	if w.LastModified != nil {
		t := *w.LastModified
		out.LastModified = &t
	}
	return out
}

// Snapshot captures the versioned content of the widget.
func (w Widget) Snapshot() WidgetSnapshot {
	return WidgetSnapshot{Type: w.Type, Title: w.Title, Data: cloneWidgetData(w.Data)}
}

// WidgetSnapshot is the content recorded in a change entry.
type WidgetSnapshot struct {
	Type  WidgetType
	Title string
	Data  WidgetData
}

type snapshotJSON struct {
	Type  WidgetType      `json:"type,omitempty"`
	Title string          `json:"title"`
	Data  json.RawMessage `json:"data"`
}

func (s WidgetSnapshot) MarshalJSON() ([]byte, error) {
	data, err := marshalData(s.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(snapshotJSON{Type: s.Type, Title: s.Title, Data: data})
}

// UnmarshalJSON accepts records written without a type and reads them as
// summary data.
func (s *WidgetSnapshot) UnmarshalJSON(b []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	kind := raw.Type
	if kind == "" {
		kind = WidgetSummary
	}
	data, err := DecodeWidgetData(kind, raw.Data)
	if err != nil {
		return err
	}
	*s = WidgetSnapshot{Type: kind, Title: raw.Title, Data: data}
	return nil
}

func (s WidgetSnapshot) Clone() WidgetSnapshot {
	s.Data = cloneWidgetData(s.Data)
	return s
}

func marshalData(d WidgetData) (json.RawMessage, error) {
	if d == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(d)
}

type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

type WidgetChange struct {
	ID           string          `json:"id"`
	WidgetID     string          `json:"widgetId"`
	Version      int             `json:"version"`
	Timestamp    time.Time       `json:"timestamp"`
	ChangeType   ChangeType      `json:"changeType"`
	PreviousData *WidgetSnapshot `json:"previousData,omitempty"`
	NewData      WidgetSnapshot  `json:"newData"`
	UserEmail    string          `json:"userEmail,omitempty"`
}

func (c WidgetChange) Clone() WidgetChange {
	out := c
	out.NewData = c.NewData.Clone()
	if c.PreviousData != nil {
		prev := c.PreviousData.Clone()
		out.PreviousData = &prev
	}
	return out
}
