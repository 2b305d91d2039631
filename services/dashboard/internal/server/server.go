package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"datapivots/internal/sessiontoken"
	"datapivots/internal/util"
	"datapivots/pkg/auth"
	"datapivots/pkg/chat"
	"datapivots/pkg/dashboard"
	"datapivots/pkg/domain"
	"datapivots/pkg/export"
	"datapivots/pkg/mockdata"
	"datapivots/pkg/queue"
	"datapivots/pkg/reports"
	"datapivots/pkg/session"
	"datapivots/pkg/storage"
	"datapivots/pkg/tracker"
	"datapivots/services/dashboard/internal/app"
)

const maxJSONBody = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TrustedProxies *util.TrustedProxies
	CORSOrigins    []string
	MaxUploadBytes int64
}

// Server exposes the dashboard API.
type Server struct {
	app            *app.App
	trusted        *util.TrustedProxies
	corsOrigins    []string
	maxUploadBytes int64
	router         chi.Router
}

func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = chat.MaxUploadBytes
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	s := &Server{
		app:            cfg.App,
		trusted:        cfg.TrustedProxies,
		corsOrigins:    origins,
		maxUploadBytes: maxUpload,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(util.WithRequestID, util.WithRequestLog, util.WithSecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", util.RequestIDHeader},
		ExposedHeaders:   []string{util.RequestIDHeader, "Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/google", s.handleGoogleLogin)
		r.Get("/report-types", s.handleReportTypes)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticated)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/session", s.handleSession)

			r.Get("/chat", s.handleChat)
			r.Post("/chat/report-type", s.handleSelectReportType)
			r.Post("/chat/upload", s.handleUpload)
			r.Delete("/chat/upload", s.handleRemoveFile)
			r.Post("/chat/reset", s.handleResetChat)
			r.Post("/chat/new", s.handleStartNewAnalysis)

			r.Get("/reports", s.handleListReports)
			r.Put("/reports/filters", s.handleSetFilters)
			r.Post("/reports/sort", s.handleToggleSort)
			r.Put("/reports/page", s.handleSetPage)
			r.Post("/reports/selection/all", s.handleSelectAll)
			r.Post("/reports/selection/{id}", s.handleToggleSelect)
			r.Delete("/reports/selection", s.handleClearSelection)
			r.Post("/reports/batch-delete", s.handleBatchDelete)
			r.Post("/reports/batch-export", s.handleBatchExport)

			r.Route("/reports/{id}", func(r chi.Router) {
				r.Get("/", s.handleOpenReport)
				r.Patch("/", s.handleRenameReport)
				r.Delete("/", s.handleDeleteReport)
				r.Get("/file", s.handleOriginalFile)
				r.Put("/layout", s.handleUpdateLayout)
				r.Put("/widgets/{widgetId}", s.handleSaveWidget)
				r.Delete("/widgets/{widgetId}", s.handleRemoveWidget)
				r.Get("/widgets/{widgetId}/history", s.handleWidgetHistory)
				r.Post("/widgets/{widgetId}/revert", s.handleRevertWidget)
				r.Get("/changes", s.handleRecentChanges)
				r.Get("/changes/stats", s.handleChangeStats)
				r.Delete("/changes", s.handleClearChanges)
				r.Post("/exports", s.handleEnqueueExport)
			})

			r.Get("/exports/{jobId}", s.handleExportStatus)
			r.Get("/exports/{jobId}/download", s.handleExportDownload)
		})
	})
	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authenticated accepts a bearer token only while the session it was
// issued for is the current one.
func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := sessiontoken.BearerToken(r)
		if !ok {
			s.audit(r, "session.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		sess, err := s.app.Sessions.Verify(r.Context(), token)
		if err != nil {
			if !errors.Is(err, session.ErrUnauthenticated) {
				util.LoggerFromContext(r.Context()).Error("session lookup failed", "err", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			s.audit(r, "session.authorize", "fail", "reason", "invalid_or_revoked_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := session.NewContext(r.Context(), sess)
		ctx = util.ContextWithLogger(ctx, util.LoggerFromContext(ctx).With("user_id", sess.User.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool            `json:"success"`
	Session *domain.Session `json:"session,omitempty"`
	Token   string          `json:"token,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func writeLogin(w http.ResponseWriter, res session.Result) {
	writeJSON(w, http.StatusOK, loginResponse{Success: true, Session: &res.Session, Token: res.Token})
}

// writeLoginError answers rejected credentials with success false so the
// login form can branch on one field.
func (s *Server) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeJSON(w, http.StatusUnauthorized, loginResponse{Error: auth.ErrInvalidCredentials.Error()})
		return
	}
	s.writeDomainError(w, r, err)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, "too many login attempts") {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "auth.login", "fail", "reason", "invalid_json")
		return
	}
	res, err := s.app.Sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.login", "fail", "reason", err.Error())
		s.writeLoginError(w, r, err)
		return
	}
	s.audit(r, "auth.login", "success", "user_id", res.Session.User.ID)
	writeLogin(w, res)
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, "too many login attempts") {
		s.audit(r, "auth.google", "rate_limited")
		return
	}
	res, err := s.app.Sessions.LoginWithGoogle(r.Context())
	if err != nil {
		s.audit(r, "auth.google", "fail", "reason", err.Error())
		s.writeLoginError(w, r, err)
		return
	}
	s.audit(r, "auth.google", "success", "user_id", res.Session.User.ID)
	writeLogin(w, res)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	if err := s.app.Sessions.Logout(r.Context()); err != nil {
		s.audit(r, "auth.logout", "fail", "reason", err.Error())
		s.writeDomainError(w, r, err)
		return
	}
	s.audit(r, "auth.logout", "success", "user_id", sess.User.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleReportTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, mockdata.ReportTypeOptions())
}

// chat

func (s *Server) handleChat(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Chat.Snapshot())
}

type reportTypeRequest struct {
	ReportType domain.ReportType `json:"reportType"`
}

func (s *Server) handleSelectReportType(w http.ResponseWriter, r *http.Request) {
	var req reportTypeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	snap, err := s.app.Chat.SelectReportType(r.Context(), req.ReportType)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleUpload reads the multipart "file" field. Oversized documents still
// reach the flow, which answers with the rejection message; only bodies far
// beyond the limit are refused outright.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 2*s.maxUploadBytes+maxJSONBody)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	meta := chat.File{
		Name: header.Filename,
		Type: partContentType(header.Header.Get("Content-Type")),
		Size: header.Size,
	}
	var content []byte
	if meta.Size <= s.maxUploadBytes {
		content, err = io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
	}
	snap, err := s.app.Chat.UploadFile(r.Context(), meta, content)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	s.chatAction(w, r, s.app.Chat.RemoveFile)
}

func (s *Server) handleResetChat(w http.ResponseWriter, r *http.Request) {
	s.chatAction(w, r, s.app.Chat.Reset)
}

func (s *Server) handleStartNewAnalysis(w http.ResponseWriter, r *http.Request) {
	s.chatAction(w, r, s.app.Chat.StartNewAnalysis)
}

func (s *Server) chatAction(w http.ResponseWriter, r *http.Request, action func(context.Context) (chat.Snapshot, error)) {
	snap, err := action(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// helpers

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps package sentinels to status codes. Anything else is
// logged and reported as an internal error.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
	case errors.Is(err, session.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, reports.ErrReportNotFound),
		errors.Is(err, dashboard.ErrWidgetNotFound),
		errors.Is(err, tracker.ErrVersionNotFound),
		errors.Is(err, queue.ErrJobNotFound),
		errors.Is(err, storage.ErrObjectNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrInvalidTransition),
		errors.Is(err, chat.ErrClosed),
		errors.Is(err, reports.ErrDuplicateReport),
		errors.Is(err, export.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, reports.ErrInvalidTitle),
		errors.Is(err, reports.ErrInvalidFilter),
		errors.Is(err, reports.ErrInvalidSort),
		errors.Is(err, chat.ErrUnknownReportType),
		errors.Is(err, domain.ErrInvalidWidget),
		errors.Is(err, domain.ErrInvalidPosition),
		errors.Is(err, dashboard.ErrInvalidLayout),
		errors.Is(err, export.ErrInvalidFormat),
		errors.Is(err, tracker.ErrInvalidChange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if s.app.Limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func partContentType(raw string) string {
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return mediaType
}
