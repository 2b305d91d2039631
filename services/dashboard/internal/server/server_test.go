package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"datapivots/pkg/auth"
	"datapivots/pkg/chat"
	"datapivots/pkg/domain"
	"datapivots/pkg/mockdata"
	"datapivots/pkg/queue"
	"datapivots/pkg/reports"
	"datapivots/services/dashboard/internal/app"
)

var fastDelays = chat.Delays{
	Confirm: time.Millisecond,
	Invalid: time.Millisecond,
	Steps:   [5]time.Duration{1 * time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 4 * time.Millisecond, 5 * time.Millisecond},
}

func newTestServer(t *testing.T, mutate func(*app.Config)) (*httptest.Server, *app.App) {
	t.Helper()
	cfg := app.Config{
		StorageBackend: "memory",
		ObjectStore:    "local",
		DataDir:        t.TempDir(),
		SessionSecret:  "test-secret-0123456789",
		ChatDelays:     fastDelays,
		LoginRateLimit: 100,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	srv, err := New(Config{App: a})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, a
}

func login(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := doJSON(t, ts, "", http.MethodPost, "/api/auth/login", map[string]string{
		"email":    auth.DemoEmail,
		"password": auth.DemoPassword,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var out struct {
		Success bool           `json:"success"`
		Token   string         `json:"token"`
		Session domain.Session `json:"session"`
	}
	decode(t, resp, &out)
	if !out.Success || out.Token == "" || !out.Session.IsAuthenticated {
		t.Fatalf("login response = %+v", out)
	}
	return out.Token
}

func doJSON(t *testing.T, ts *httptest.Server, token, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s status = %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func upload(t *testing.T, ts *httptest.Server, token, name, contentType string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write(content)
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/chat/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func TestProtectedRoutesRequireCurrentSession(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := doJSON(t, ts, "", http.MethodGet, "/api/reports", nil)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)

	resp = doJSON(t, ts, "", http.MethodGet, "/api/report-types", nil)
	expectStatus(t, resp, http.StatusOK)
	var options []domain.ReportTypeOption
	decode(t, resp, &options)
	resp.Body.Close()
	if len(options) != len(domain.ReportTypes) {
		t.Fatalf("report types = %d", len(options))
	}

	token := login(t, ts)
	resp = doJSON(t, ts, token, http.MethodGet, "/api/auth/session", nil)
	expectStatus(t, resp, http.StatusOK)
	var sess domain.Session
	decode(t, resp, &sess)
	resp.Body.Close()
	if sess.User.Email != auth.DemoEmail {
		t.Fatalf("session user = %+v", sess.User)
	}

	resp = doJSON(t, ts, token, http.MethodPost, "/api/auth/logout", nil)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusNoContent)

	resp = doJSON(t, ts, token, http.MethodGet, "/api/reports", nil)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := doJSON(t, ts, "", http.MethodPost, "/api/auth/login", map[string]string{
		"email":    auth.DemoEmail,
		"password": "wrong",
	})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)
	var body struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
		Token   string `json:"token"`
	}
	decode(t, resp, &body)
	if body.Success == nil || *body.Success {
		t.Fatalf("success = %v, want explicit false", body.Success)
	}
	if body.Error != "Invalid email or password" || body.Token != "" {
		t.Fatalf("body = %+v", body)
	}
}

func TestGoogleLoginReportsSuccess(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := doJSON(t, ts, "", http.MethodPost, "/api/auth/google", nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	var body struct {
		Success bool           `json:"success"`
		Token   string         `json:"token"`
		Session domain.Session `json:"session"`
		Error   string         `json:"error"`
	}
	decode(t, resp, &body)
	if !body.Success || body.Token == "" || body.Error != "" || !body.Session.IsAuthenticated {
		t.Fatalf("body = %+v", body)
	}
}

func TestLoginRateLimit(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	ts, _ := newTestServer(t, func(cfg *app.Config) {
		cfg.RedisAddr = redisSrv.Addr()
		cfg.LoginRateLimit = 1
	})

	body := map[string]string{"email": auth.DemoEmail, "password": auth.DemoPassword}
	resp := doJSON(t, ts, "", http.MethodPost, "/api/auth/login", body)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	resp = doJSON(t, ts, "", http.MethodPost, "/api/auth/login", body)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusTooManyRequests)
	if got := resp.Header.Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q", got)
	}
}

func TestUploadCompletesAnalysis(t *testing.T) {
	ts, a := newTestServer(t, nil)
	token := login(t, ts)

	resp := doJSON(t, ts, token, http.MethodPost, "/api/chat/upload", nil)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)

	resp = doJSON(t, ts, token, http.MethodPost, "/api/chat/report-type", map[string]string{"reportType": "invoice"})
	resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	resp = upload(t, ts, token, "invoice_march.pdf", "application/pdf", []byte("%PDF-1.4 not really"))
	resp.Body.Close()
	expectStatus(t, resp, http.StatusAccepted)
	a.Chat.Wait()

	resp = doJSON(t, ts, token, http.MethodGet, "/api/chat", nil)
	var snap chat.Snapshot
	decode(t, resp, &snap)
	resp.Body.Close()
	if snap.Step != chat.StepCompleted || snap.IsProcessing {
		t.Fatalf("chat state = %+v", snap.State)
	}
	if last := snap.Messages[len(snap.Messages)-1]; last.Content != mockdata.CompletedText {
		t.Fatalf("last message = %q", last.Content)
	}

	report, err := a.Reports.Get(snap.AnalysisID)
	if err != nil {
		t.Fatalf("analysis report: %v", err)
	}
	if report.Status != domain.ReportCompleted || len(report.Widgets) == 0 {
		t.Fatalf("report = %+v", report)
	}
	if report.Title != "Invoice - invoice march" {
		t.Fatalf("title = %q", report.Title)
	}

	resp = doJSON(t, ts, token, http.MethodGet, "/api/reports/"+report.ID+"/file", nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "%PDF-1.4 not really" {
		t.Fatalf("original = %q", data)
	}
}

func TestUploadRejectsExecutable(t *testing.T) {
	ts, a := newTestServer(t, nil)
	token := login(t, ts)

	resp := doJSON(t, ts, token, http.MethodPost, "/api/chat/report-type", map[string]string{"reportType": "prescription"})
	resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	resp = upload(t, ts, token, "setup.exe", "application/x-msdownload", []byte("MZ"))
	resp.Body.Close()
	expectStatus(t, resp, http.StatusAccepted)
	a.Chat.Wait()

	snap := a.Chat.Snapshot()
	if snap.Step != chat.StepFileUpload || snap.UploadedFile != nil {
		t.Fatalf("state = %+v", snap.State)
	}
	if last := snap.Messages[len(snap.Messages)-1]; last.Content != mockdata.FileTypeError {
		t.Fatalf("last message = %q", last.Content)
	}
	if n := len(a.Reports.All()); n != 6 {
		t.Fatalf("reports = %d, want 6", n)
	}

	resp = doJSON(t, ts, token, http.MethodPost, "/api/chat/report-type", map[string]string{"reportType": "invoice"})
	resp.Body.Close()
	expectStatus(t, resp, http.StatusConflict)
}

func TestReportListingAndBatchDelete(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	token := login(t, ts)

	resp := doJSON(t, ts, token, http.MethodGet, "/api/reports?q=invoice", nil)
	expectStatus(t, resp, http.StatusOK)
	var view reports.View
	decode(t, resp, &view)
	resp.Body.Close()
	if view.FilteredCount != 2 || view.TotalCount != 6 {
		t.Fatalf("view = filtered %d total %d", view.FilteredCount, view.TotalCount)
	}

	resp = doJSON(t, ts, token, http.MethodPut, "/api/reports/filters", map[string]string{"status": "bogus"})
	resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)

	resp = doJSON(t, ts, token, http.MethodPost, "/api/reports/batch-delete", map[string]any{"ids": []string{"report-1", "report-2"}})
	expectStatus(t, resp, http.StatusOK)
	var out struct {
		Deleted int          `json:"deleted"`
		View    reports.View `json:"view"`
	}
	decode(t, resp, &out)
	resp.Body.Close()
	if out.Deleted != 2 || out.View.TotalCount != 4 {
		t.Fatalf("batch delete = %d, total %d", out.Deleted, out.View.TotalCount)
	}

	resp = doJSON(t, ts, token, http.MethodGet, "/api/reports/report-1", nil)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)

	resp = doJSON(t, ts, token, http.MethodPatch, "/api/reports/report-3", map[string]string{"title": "   "})
	resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestWidgetEditHistoryAndRevert(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	token := login(t, ts)

	resp := doJSON(t, ts, token, http.MethodGet, "/api/reports/report-1", nil)
	expectStatus(t, resp, http.StatusOK)
	var report domain.ProcessedReport
	decode(t, resp, &report)
	resp.Body.Close()
	idx := report.WidgetByID("patient-info")
	if idx < 0 || report.Widgets[idx].Version != 1 {
		t.Fatalf("patient-info widget not versioned: %+v", report.Widgets)
	}

	edited := report.Widgets[idx]
	edited.Title = "Patient"
	resp = doJSON(t, ts, token, http.MethodPut, "/api/reports/report-1/widgets/patient-info", edited)
	expectStatus(t, resp, http.StatusOK)
	var saved domain.Widget
	decode(t, resp, &saved)
	resp.Body.Close()
	if saved.Version != 2 || saved.Title != "Patient" {
		t.Fatalf("saved = %+v", saved)
	}

	resp = doJSON(t, ts, token, http.MethodGet, "/api/reports/report-1/widgets/patient-info/history", nil)
	var history []domain.WidgetChange
	decode(t, resp, &history)
	resp.Body.Close()
	if len(history) != 2 || history[0].UserEmail != auth.DemoEmail {
		t.Fatalf("history = %+v", history)
	}

	resp = doJSON(t, ts, token, http.MethodPost, "/api/reports/report-1/widgets/patient-info/revert", map[string]int{"version": 1})
	expectStatus(t, resp, http.StatusOK)
	var reverted domain.Widget
	decode(t, resp, &reverted)
	resp.Body.Close()
	if reverted.Title != "Patient Information" || reverted.Version != 3 {
		t.Fatalf("reverted = %+v", reverted)
	}

	resp = doJSON(t, ts, token, http.MethodPost, "/api/reports/report-1/widgets/patient-info/revert", map[string]int{"version": 42})
	resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)

	resp = doJSON(t, ts, token, http.MethodGet, "/api/reports/report-1/changes/stats", nil)
	var stats struct {
		Total int `json:"total"`
	}
	decode(t, resp, &stats)
	resp.Body.Close()
	if stats.Total != len(report.Widgets)+2 {
		t.Fatalf("stats total = %d, want %d", stats.Total, len(report.Widgets)+2)
	}
}

func TestExportRoundTrip(t *testing.T) {
	ts, a := newTestServer(t, nil)
	token := login(t, ts)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.RunExports(ctx) }()

	resp := doJSON(t, ts, token, http.MethodPost, "/api/reports/report-1/exports", map[string]string{"format": "xls"})
	resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)

	resp = doJSON(t, ts, token, http.MethodPost, "/api/reports/report-1/exports", map[string]string{"format": "pdf"})
	expectStatus(t, resp, http.StatusAccepted)
	var job queue.JobStatus
	decode(t, resp, &job)
	resp.Body.Close()

	deadline := time.Now().Add(3 * time.Second)
	for job.Status != queue.StatusDone {
		if time.Now().After(deadline) {
			t.Fatalf("export did not finish: %+v", job)
		}
		time.Sleep(10 * time.Millisecond)
		resp = doJSON(t, ts, token, http.MethodGet, "/api/exports/"+job.ID, nil)
		decode(t, resp, &job)
		resp.Body.Close()
	}

	resp = doJSON(t, ts, token, http.MethodGet, "/api/exports/"+job.ID+"/download", nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "Sarah Johnson - Prescription Analysis.pdf") {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(data), "Mock PDF export for Sarah Johnson") {
		t.Fatalf("stub = %q", data)
	}
}

func TestBatchExport(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	token := login(t, ts)
	resp := doJSON(t, ts, token, http.MethodPost, "/api/reports/batch-export", map[string]any{
		"ids":    []string{"report-1", "report-2"},
		"format": "doc",
	})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "batch_export_2_reports.doc") {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(data), "Mock batch DOC export for 2 reports:") {
		t.Fatalf("body = %q", data)
	}
}
