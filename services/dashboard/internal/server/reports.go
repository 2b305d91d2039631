package server

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"datapivots/internal/util"
	"datapivots/pkg/domain"
	"datapivots/pkg/export"
	"datapivots/pkg/reports"
)

// handleListReports returns the current page. Query parameters q, status,
// type and page update the criteria before the projection is taken.
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	m := s.app.Reports
	query := r.URL.Query()
	if query.Has("q") {
		m.SetSearchQuery(query.Get("q"))
	}
	if query.Has("status") {
		if err := m.SetStatusFilter(query.Get("status")); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	if query.Has("type") {
		if err := m.SetTypeFilter(query.Get("type")); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	if raw := query.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "page must be a number")
			return
		}
		m.SetPage(n)
	}
	writeJSON(w, http.StatusOK, m.View())
}

type filtersRequest struct {
	Query  *string `json:"query"`
	Status *string `json:"status"`
	Type   *string `json:"type"`
}

func (s *Server) handleSetFilters(w http.ResponseWriter, r *http.Request) {
	var req filtersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m := s.app.Reports
	if req.Status != nil {
		if err := m.SetStatusFilter(*req.Status); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	if req.Type != nil {
		if err := m.SetTypeFilter(*req.Type); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	if req.Query != nil {
		m.SetSearchQuery(*req.Query)
	}
	writeJSON(w, http.StatusOK, m.View())
}

type sortRequest struct {
	Field string `json:"field"`
}

func (s *Server) handleToggleSort(w http.ResponseWriter, r *http.Request) {
	var req sortRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	field, ok := reports.ParseSortField(req.Field)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%v: %q", reports.ErrInvalidSort, req.Field))
		return
	}
	if err := s.app.Reports.ToggleSort(field); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Reports.View())
}

type pageRequest struct {
	Page int `json:"page"`
}

func (s *Server) handleSetPage(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.app.Reports.SetPage(req.Page)
	writeJSON(w, http.StatusOK, s.app.Reports.View())
}

func (s *Server) handleSelectAll(w http.ResponseWriter, _ *http.Request) {
	s.app.Reports.SelectAll()
	writeJSON(w, http.StatusOK, s.app.Reports.View())
}

func (s *Server) handleToggleSelect(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Reports.ToggleSelect(chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Reports.View())
}

func (s *Server) handleClearSelection(w http.ResponseWriter, _ *http.Request) {
	s.app.Reports.ClearSelection()
	writeJSON(w, http.StatusOK, s.app.Reports.View())
}

type batchRequest struct {
	IDs    []string `json:"ids"`
	Format string   `json:"format,omitempty"`
}

type batchDeleteResponse struct {
	Deleted int          `json:"deleted"`
	View    reports.View `json:"view"`
}

// handleBatchDelete deletes the listed ids, or the current selection when
// the list is empty.
func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ids := req.IDs
	if len(ids) == 0 {
		ids = s.app.Reports.View().Selected
	}
	n, err := s.app.DeleteReports(r.Context(), ids)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	util.LoggerFromContext(r.Context()).Info("reports deleted", "count", n)
	writeJSON(w, http.StatusOK, batchDeleteResponse{Deleted: n, View: s.app.Reports.View()})
}

// handleBatchExport renders a combined stub for several reports inline.
func (s *Server) handleBatchExport(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	format, ok := export.ParseFormat(req.Format)
	if !ok {
		s.writeDomainError(w, r, export.ErrInvalidFormat)
		return
	}
	ids := req.IDs
	if len(ids) == 0 {
		ids = s.app.Reports.View().Selected
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "no reports selected")
		return
	}
	selected := make([]domain.ProcessedReport, 0, len(ids))
	for _, id := range ids {
		report, err := s.app.Reports.Get(id)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		selected = append(selected, report)
	}
	body := export.RenderBatch(selected, format)
	writeAttachment(w, export.BatchFileName(len(selected), format), "text/plain; charset=utf-8", int64(len(body)), bytes.NewReader(body))
}

// handleOpenReport returns the report as shown on its dashboard, with every
// widget versioned.
func (s *Server) handleOpenReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.app.Dashboard.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type renameRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleRenameReport(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	report, err := s.app.Reports.RenameReport(r.Context(), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.app.DeleteReport(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	util.LoggerFromContext(r.Context()).Info("report deleted", "report_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOriginalFile(w http.ResponseWriter, r *http.Request) {
	obj, name, err := s.app.OpenOriginal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	defer obj.Body.Close()
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	writeStream(w, obj.ContentType, obj.Size, obj.Body)
}

func writeAttachment(w http.ResponseWriter, filename, contentType string, size int64, body io.Reader) {
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	writeStream(w, contentType, size, body)
}

func writeStream(w http.ResponseWriter, contentType string, size int64, body io.Reader) {
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}
