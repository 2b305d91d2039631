// Package chat drives the guided upload conversation: choose a report type,
// upload a document, watch the simulated analysis, start again.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"datapivots/pkg/domain"
	"datapivots/pkg/kv"
	"datapivots/pkg/mockdata"
)

type Step string

const (
	StepGreeting      Step = "greeting"
	StepTypeSelection Step = "type-selection"
	StepFileUpload    Step = "file-upload"
	StepProcessing    Step = "processing"
	StepCompleted     Step = "completed"
)

// MaxUploadBytes is the largest accepted document.
const MaxUploadBytes int64 = 10 << 20

var acceptedMIMETypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
}

// File describes an uploaded document.
type File struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Delays are offsets from the triggering action. Steps must be strictly
// increasing.
type Delays struct {
	Confirm time.Duration
	Invalid time.Duration
	Steps   [5]time.Duration
}

var DefaultDelays = Delays{
	Confirm: 500 * time.Millisecond,
	Invalid: time.Second,
	Steps: [5]time.Duration{
		500 * time.Millisecond,
		1500 * time.Millisecond,
		2500 * time.Millisecond,
		3500 * time.Millisecond,
		4500 * time.Millisecond,
	},
}

// Analyzer connects an upload to the report collection.
type Analyzer interface {
	// Begin stores the document and returns the id of a new processing report.
	Begin(ctx context.Context, reportType domain.ReportType, file File, content []byte) (string, error)
	Complete(ctx context.Context, reportID string) error
	Abort(ctx context.Context, reportID string) error
}

// State is the persisted flow state.
type State struct {
	Step         Step              `json:"step"`
	ReportType   domain.ReportType `json:"reportType,omitempty"`
	UploadedFile *File             `json:"uploadedFile,omitempty"`
	IsProcessing bool              `json:"isProcessing"`
	AnalysisID   string            `json:"analysisId,omitempty"`
}

// Snapshot is a copy of the conversation and its state.
type Snapshot struct {
	Messages []domain.ChatMessage `json:"messages"`
	State
}

type Config struct {
	Store    kv.Store
	Analyzer Analyzer
	Delays   Delays
	MaxBytes int64
	Now      func() time.Time
	Logger   *slog.Logger
}

// Flow drives the upload conversation. Scripted AI replies run on timers
// and every transition is persisted to the store.
type Flow struct {
	store    kv.Store
	analyzer Analyzer
	delays   Delays
	maxBytes int64
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	messages []domain.ChatMessage
	state    State
	gen      uint64
	cancel   context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
}

// NewFlow validates the delays and fills defaults. Call Load before use.
func NewFlow(cfg Config) (*Flow, error) {
	if cfg.Store == nil {
		return nil, errors.New("chat: store is required")
	}
	if cfg.Delays == (Delays{}) {
		cfg.Delays = DefaultDelays
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = MaxUploadBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	for i := 1; i < len(cfg.Delays.Steps); i++ {
		if cfg.Delays.Steps[i] <= cfg.Delays.Steps[i-1] {
			return nil, errors.New("chat: processing step delays must be strictly increasing")
		}
	}
	return &Flow{
		store:    cfg.Store,
		analyzer: cfg.Analyzer,
		delays:   cfg.Delays,
		maxBytes: cfg.MaxBytes,
		now:      cfg.Now,
		logger:   cfg.Logger,
		state:    State{Step: StepGreeting},
	}, nil
}

// Load restores the conversation. Missing or unreadable history starts over
// from the greeting.
func (f *Flow) Load(ctx context.Context) error {
	var messages []domain.ChatMessage
	found, err := kv.LoadJSON(ctx, f.store, kv.KeyChatHistory, &messages)
	var decodeErr *kv.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		f.logger.Warn("chat history unreadable, starting over", "err", err)
		found = false
	case err != nil:
		return err
	}
	if !found || len(messages) == 0 {
		messages = []domain.ChatMessage{f.greeting()}
	}

	var state State
	stateFound, err := kv.LoadJSON(ctx, f.store, kv.KeyChatState, &state)
	switch {
	case errors.As(err, &decodeErr):
		f.logger.Warn("chat state unreadable, inferring from history", "err", err)
		stateFound = false
	case err != nil:
		return err
	}
	if !stateFound || !validStep(state.Step) {
		state = State{Step: inferStep(messages)}
	}

	// The step chain does not survive a restart.
	var orphan string
	if state.Step == StepProcessing {
		orphan = state.AnalysisID
		state.Step = StepFileUpload
		state.UploadedFile = nil
		state.AnalysisID = ""
	}
	state.IsProcessing = false

	f.mu.Lock()
	f.messages = messages
	f.state = state
	err = f.persistLocked(ctx)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.abort(ctx, orphan)
	return nil
}

func inferStep(messages []domain.ChatMessage) Step {
	if len(messages) <= 1 {
		return StepTypeSelection
	}
	last := messages[len(messages)-1].Content
	switch {
	case strings.Contains(last, "Your report is ready"):
		return StepCompleted
	case strings.Contains(last, "Structuring your report"):
		return StepProcessing
	case strings.Contains(last, "Please upload"):
		return StepFileUpload
	default:
		return StepTypeSelection
	}
}

func validStep(s Step) bool {
	switch s {
	case StepGreeting, StepTypeSelection, StepFileUpload, StepProcessing, StepCompleted:
		return true
	}
	return false
}

// Snapshot returns a copy safe to hand to callers.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// SelectReportType records the choice and schedules the confirmation.
func (f *Flow) SelectReportType(ctx context.Context, reportType domain.ReportType) (Snapshot, error) {
	parsed, ok := domain.ParseReportType(string(reportType))
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownReportType, reportType)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Snapshot{}, ErrClosed
	}
	if f.state.Step != StepTypeSelection {
		return Snapshot{}, fmt.Errorf("%w: select report type from %s", ErrInvalidTransition, f.state.Step)
	}
	f.state.ReportType = parsed
	f.state.Step = StepFileUpload
	f.appendLocked(domain.MessageUser, mockdata.TypeSelectedText(parsed), domain.MessageSent)
	if err := f.persistLocked(ctx); err != nil {
		return Snapshot{}, err
	}
	f.scheduleLocked([]step{{
		at: f.delays.Confirm,
		apply: func() {
			f.appendLocked(domain.MessageAI, mockdata.Confirmation(parsed), domain.MessageReceived)
		},
	}})
	return f.snapshotLocked(), nil
}

// UploadFile validates the document and starts either the rejection or
// the analysis sequence.
func (f *Flow) UploadFile(ctx context.Context, file File, content []byte) (Snapshot, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if f.state.Step != StepFileUpload {
		step := f.state.Step
		f.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: upload from %s", ErrInvalidTransition, step)
	}
	reportType := f.state.ReportType
	f.mu.Unlock()

	rejection := f.validate(file, reportType)
	var reportID string
	if rejection == "" && f.analyzer != nil {
		id, err := f.analyzer.Begin(ctx, reportType, file, content)
		if err != nil {
			return Snapshot{}, fmt.Errorf("begin analysis: %w", err)
		}
		reportID = id
	}

	f.mu.Lock()
	if f.closed || f.state.Step != StepFileUpload {
		f.mu.Unlock()
		f.abort(context.WithoutCancel(ctx), reportID)
		return Snapshot{}, fmt.Errorf("%w: flow changed during upload", ErrInvalidTransition)
	}
	defer f.mu.Unlock()
	uploaded := file
	f.state.UploadedFile = &uploaded
	f.state.IsProcessing = true
	f.state.Step = StepProcessing
	f.state.AnalysisID = reportID
	f.appendLocked(domain.MessageUser, mockdata.UploadedText(file.Name), domain.MessageSent)
	if err := f.persistLocked(ctx); err != nil {
		return Snapshot{}, err
	}

	if rejection != "" {
		f.scheduleLocked([]step{{
			at: f.delays.Invalid,
			apply: func() {
				f.appendLocked(domain.MessageAI, rejection, domain.MessageReceived)
				f.state.IsProcessing = false
				f.state.UploadedFile = nil
				f.state.Step = StepFileUpload
			},
		}})
		return f.snapshotLocked(), nil
	}

	d := f.delays.Steps
	f.scheduleLocked([]step{
		{at: d[0], apply: func() {
			f.appendLocked(domain.MessageAI, mockdata.FileReceivedText(file.Name), domain.MessageReceived)
		}},
		{at: d[1], apply: func() { f.appendLocked(domain.MessageAI, mockdata.StepOneText, domain.MessageReceived) }},
		{at: d[2], apply: func() { f.appendLocked(domain.MessageAI, mockdata.StepTwoText, domain.MessageReceived) }},
		{at: d[3], apply: func() { f.appendLocked(domain.MessageAI, mockdata.StepThreeText, domain.MessageReceived) }},
		{at: d[4], apply: func() {
			f.appendLocked(domain.MessageAI, mockdata.CompletedText, domain.MessageReceived)
			f.state.IsProcessing = false
			f.state.Step = StepCompleted
		}, after: func(ctx context.Context) {
			f.complete(ctx, reportID)
		}},
	})
	return f.snapshotLocked(), nil
}

// validate returns the rejection message for an unacceptable file.
func (f *Flow) validate(file File, reportType domain.ReportType) string {
	if !acceptedMIMETypes[strings.ToLower(strings.TrimSpace(file.Type))] {
		return mockdata.FileTypeError
	}
	if file.Size > f.maxBytes {
		if reportType != "" {
			return mockdata.InvalidFileText(reportType)
		}
		return mockdata.FileTypeError
	}
	return ""
}

// RemoveFile clears the upload. Pending analysis steps are cancelled.
func (f *Flow) RemoveFile(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Snapshot{}, ErrClosed
	}
	orphan := f.cancelLocked()
	f.state.UploadedFile = nil
	f.state.IsProcessing = false
	if f.state.Step == StepProcessing || f.state.Step == StepCompleted {
		f.state.Step = StepFileUpload
	}
	if err := f.persistLocked(ctx); err != nil {
		return Snapshot{}, err
	}
	f.abortAsync(orphan)
	return f.snapshotLocked(), nil
}

// StartNewAnalysis returns to type selection and keeps the history.
func (f *Flow) StartNewAnalysis(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Snapshot{}, ErrClosed
	}
	orphan := f.cancelLocked()
	f.state = State{Step: StepTypeSelection}
	f.appendLocked(domain.MessageAI, mockdata.StartNewText, domain.MessageReceived)
	if err := f.persistLocked(ctx); err != nil {
		return Snapshot{}, err
	}
	f.abortAsync(orphan)
	return f.snapshotLocked(), nil
}

// Reset clears the history down to the greeting.
func (f *Flow) Reset(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Snapshot{}, ErrClosed
	}
	orphan := f.cancelLocked()
	f.messages = []domain.ChatMessage{f.greeting()}
	f.state = State{Step: StepTypeSelection}
	if err := f.persistLocked(ctx); err != nil {
		return Snapshot{}, err
	}
	f.abortAsync(orphan)
	return f.snapshotLocked(), nil
}

// Wait blocks until every scheduled step has run or been cancelled.
func (f *Flow) Wait() {
	f.wg.Wait()
}

// Close cancels pending steps and waits for them to exit.
func (f *Flow) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	orphan := f.cancelLocked()
	f.mu.Unlock()
	f.wg.Wait()
	f.abort(context.Background(), orphan)
}

func (f *Flow) greeting() domain.ChatMessage {
	return domain.ChatMessage{
		ID:        mockdata.GreetingID,
		Type:      domain.MessageAI,
		Content:   mockdata.GreetingText,
		Timestamp: domain.Timestamp(f.now()),
		Status:    domain.MessageReceived,
	}
}

func (f *Flow) appendLocked(kind domain.MessageType, content string, status domain.MessageStatus) {
	now := domain.Timestamp(f.now())
	f.messages = append(f.messages, domain.ChatMessage{
		ID:        fmt.Sprintf("msg-%d-%s", now.UnixMilli(), uuid.NewString()[:8]),
		Type:      kind,
		Content:   content,
		Timestamp: now,
		Status:    status,
	})
}

func (f *Flow) persistLocked(ctx context.Context) error {
	if err := kv.SaveJSON(ctx, f.store, kv.KeyChatHistory, f.messages); err != nil {
		return err
	}
	return kv.SaveJSON(ctx, f.store, kv.KeyChatState, f.state)
}

func (f *Flow) snapshotLocked() Snapshot {
	messages := make([]domain.ChatMessage, len(f.messages))
	copy(messages, f.messages)
	state := f.state
	if state.UploadedFile != nil {
		file := *state.UploadedFile
		state.UploadedFile = &file
	}
	return Snapshot{Messages: messages, State: state}
}

func (f *Flow) complete(ctx context.Context, reportID string) {
	if f.analyzer == nil || reportID == "" {
		return
	}
	if err := f.analyzer.Complete(ctx, reportID); err != nil {
		f.logger.Error("complete analysis failed", "report_id", reportID, "err", err)
	}
}

func (f *Flow) abort(ctx context.Context, reportID string) {
	if f.analyzer == nil || reportID == "" {
		return
	}
	if err := f.analyzer.Abort(ctx, reportID); err != nil {
		f.logger.Error("abort analysis failed", "report_id", reportID, "err", err)
	}
}

// abortAsync is used while f.mu is held. A closed flow has already drained
// f.wg, so nothing may be added to it.
func (f *Flow) abortAsync(reportID string) {
	if f.analyzer == nil || reportID == "" || f.closed {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.abort(context.Background(), reportID)
	}()
}
