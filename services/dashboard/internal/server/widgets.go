package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"datapivots/pkg/domain"
	"datapivots/pkg/export"
)

type layoutRequest struct {
	Positions map[string]domain.Position `json:"positions"`
}

func (s *Server) handleUpdateLayout(w http.ResponseWriter, r *http.Request) {
	var req layoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	report, err := s.app.Dashboard.UpdateLayout(r.Context(), chi.URLParam(r, "id"), req.Positions)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleSaveWidget takes the edited widget. The id comes from the path.
func (s *Server) handleSaveWidget(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var widget domain.Widget
	if err := json.Unmarshal(body, &widget); err != nil {
		writeError(w, http.StatusBadRequest, "invalid widget: "+err.Error())
		return
	}
	widget.ID = chi.URLParam(r, "widgetId")
	saved, err := s.app.Dashboard.SaveWidget(r.Context(), chi.URLParam(r, "id"), widget)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleRemoveWidget(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Dashboard.RemoveWidget(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "widgetId")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWidgetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.app.Dashboard.History(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "widgetId"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type revertRequest struct {
	Version int `json:"version"`
}

func (s *Server) handleRevertWidget(w http.ResponseWriter, r *http.Request) {
	var req revertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Version < 1 {
		writeError(w, http.StatusBadRequest, "version must be >= 1")
		return
	}
	widget, err := s.app.Dashboard.RevertWidget(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "widgetId"), req.Version)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, widget)
}

func (s *Server) handleRecentChanges(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative number")
			return
		}
		limit = n
	}
	changes, err := s.app.Dashboard.RecentChanges(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

func (s *Server) handleChangeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.Dashboard.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleClearChanges(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Dashboard.ClearHistory(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("widgetId")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type exportRequest struct {
	Format string `json:"format"`
}

func (s *Server) handleEnqueueExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	format, ok := export.ParseFormat(req.Format)
	if !ok {
		s.writeDomainError(w, r, export.ErrInvalidFormat)
		return
	}
	job, err := s.app.Dashboard.Export(r.Context(), chi.URLParam(r, "id"), format)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.app.Exports.Job(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleExportDownload names the file after the report title, falling back
// to the job id when the report has since been deleted.
func (s *Server) handleExportDownload(w http.ResponseWriter, r *http.Request) {
	obj, job, err := s.app.Exports.Download(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	defer obj.Body.Close()
	format, _ := export.ParseFormat(job.Format)
	title := job.ID
	if report, err := s.app.Reports.Get(job.ReportID); err == nil {
		title = report.Title
	}
	writeAttachment(w, export.FileName(title, format), obj.ContentType, obj.Size, obj.Body)
}
