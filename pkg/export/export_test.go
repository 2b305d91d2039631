package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"datapivots/pkg/domain"
	"datapivots/pkg/mockdata"
	"datapivots/pkg/queue"
	"datapivots/pkg/storage"
)

type fakeReports map[string]domain.ProcessedReport

func (f fakeReports) Get(id string) (domain.ProcessedReport, error) {
	r, ok := f[id]
	if !ok {
		return domain.ProcessedReport{}, fmt.Errorf("missing %s", id)
	}
	return r, nil
}

func seedReport(t *testing.T, id string) domain.ProcessedReport {
	t.Helper()
	for _, r := range mockdata.SeedReports() {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("seed report %s not found", id)
	return domain.ProcessedReport{}
}

func TestRenderIncludesEveryWidget(t *testing.T) {
	r := seedReport(t, "report-2")
	out := string(Render(r, FormatPDF))
	if !strings.HasPrefix(out, "Mock PDF export for Robert Williams - Medical Invoice\n") {
		t.Fatalf("header = %q", strings.SplitN(out, "\n", 2)[0])
	}
	for _, w := range r.Widgets {
		if !strings.Contains(out, "## "+w.Title+" ("+string(w.Type)+")") {
			t.Fatalf("missing widget section %q", w.Title)
		}
	}
	if !strings.Contains(out, `"invoiceNumber": "INV-2024-0156"`) {
		t.Fatalf("extracted data not rendered:\n%s", out)
	}
}

func TestRenderBatch(t *testing.T) {
	reports := []domain.ProcessedReport{{Title: "A"}, {Title: "B"}}
	got := string(RenderBatch(reports, FormatDOC))
	want := "Mock batch DOC export for 2 reports:\nA, B"
	if got != want {
		t.Fatalf("batch = %q, want %q", got, want)
	}
	if name := BatchFileName(2, FormatDOC); name != "batch_export_2_reports.doc" {
		t.Fatalf("batch file name = %q", name)
	}
}

func TestSlugAndArtifactKey(t *testing.T) {
	cases := map[string]string{
		"Sarah Johnson - Prescription Analysis": "sarah-johnson-prescription-analysis",
		"  ":                                    "report",
		"Lab #42!":                              "lab-42",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Fatalf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
	if got := ArtifactKey("job-1", "Lab #42!", FormatPPT); got != "exports/job-1/lab-42.ppt.txt" {
		t.Fatalf("artifact key = %q", got)
	}
}

func TestParseFormat(t *testing.T) {
	if f, ok := ParseFormat(" PDF "); !ok || f != FormatPDF {
		t.Fatalf("ParseFormat(PDF) = %q %v", f, ok)
	}
	if _, ok := ParseFormat("xls"); ok {
		t.Fatalf("xls should be rejected")
	}
}

func TestServiceRendersQueuedJob(t *testing.T) {
	objects, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	r := seedReport(t, "report-1")
	q := queue.NewMemoryJobQueue(4, 1, time.Millisecond)
	svc := NewService(q, objects, fakeReports{r.ID: r}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	if _, err := svc.Enqueue(ctx, r.ID, "xls"); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("bad format err = %v", err)
	}
	if _, err := svc.Enqueue(ctx, "missing", FormatPDF); err == nil {
		t.Fatalf("expected unknown report to fail")
	}
	job, err := svc.Enqueue(ctx, r.ID, FormatPDF)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		obj, got, err := svc.Download(ctx, job.ID)
		if err == nil {
			data, _ := io.ReadAll(obj.Body)
			_ = obj.Body.Close()
			if !strings.HasPrefix(string(data), "Mock PDF export for "+r.Title) {
				t.Fatalf("stub = %q", data)
			}
			if got.ArtifactKey != ArtifactKey(job.ID, r.Title, FormatPDF) {
				t.Fatalf("artifact key = %q", got.ArtifactKey)
			}
			break
		}
		if !errors.Is(err, ErrNotReady) {
			t.Fatalf("download: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("export did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := svc.Job(ctx, "nope"); !errors.Is(err, queue.ErrJobNotFound) {
		t.Fatalf("unknown job err = %v", err)
	}
}
