package server

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/persist"
	"github.com/conneroisu/pagecraft/internal/render"
	"github.com/conneroisu/pagecraft/internal/transport"
	"github.com/conneroisu/pagecraft/internal/version"
)

var identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// validateIdentifier checks a project or page id taken from a URL or body.
func validateIdentifier(kind, id string) error {
	if !identifierRegex.MatchString(id) {
		return errors.NewInvalidDescription("invalid %s id %q", kind, id)
	}
	return nil
}

type createPageRequest struct {
	ID     string            `json:"id"`
	Title  string            `json:"title,omitempty"`
	Styles map[string]string `json:"styles,omitempty"`
}

type moveElementRequest struct {
	Page     string `json:"page"`
	ParentID string `json:"parentId,omitempty"`
	Index    *int   `json:"index,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	for _, kind := range []string{"project", "page"} {
		if err := validateIdentifier(kind, r.PathValue(kind)); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	conn, scope, err := transport.Accept(w, r, transport.AcceptOptions{OriginPatterns: s.config.AllowedOrigins})
	if err != nil {
		s.logger.Warn(r.Context(), err, "websocket upgrade failed", "path", r.URL.Path)
		return
	}
	if err := s.hub.ServeConn(r.Context(), conn, scope); err != nil {
		s.logger.Debug(r.Context(), "connection refused", "project", scope.ProjectID, "page", scope.PageID, "reason", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version.GetShortVersion(),
		"templates": len(s.templates.List()),
	})
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	if err := validateIdentifier("project", project); err != nil {
		s.writeError(w, r, err)
		return
	}
	pages, err := s.hub.ListPages(r.Context(), project)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if pages == nil {
		pages = []persist.Page{}
	}
	s.writeJSON(w, r, http.StatusOK, pages)
}

func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	if err := validateIdentifier("project", project); err != nil {
		s.writeError(w, r, err)
		return
	}

	var req createPageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, errors.NewInvalidDescription("decode page: %v", err))
		return
	}
	if err := validateIdentifier("page", req.ID); err != nil {
		s.writeError(w, r, err)
		return
	}

	now := time.Now().UTC()
	page := persist.Page{
		ProjectID: project,
		ID:        req.ID,
		Title:     req.Title,
		Styles:    req.Styles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.hub.CreatePage(r.Context(), page); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, page)
}

func (s *Server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	project, page := r.PathValue("project"), r.PathValue("page")
	if err := s.hub.DeletePage(r.Context(), project, page); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveElement(w http.ResponseWriter, r *http.Request) {
	project, page, id := r.PathValue("project"), r.PathValue("page"), r.PathValue("id")

	var req moveElementRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, errors.NewInvalidDescription("decode move: %v", err))
		return
	}
	if err := validateIdentifier("page", req.Page); err != nil {
		s.writeError(w, r, err)
		return
	}
	index := -1
	if req.Index != nil {
		index = *req.Index
	}

	if err := s.hub.MoveAcrossPages(r.Context(), project, page, req.Page, id, req.ParentID, index); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.hub.Snapshot(r.Context(), r.PathValue("project"), r.PathValue("page"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, snap)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.templates.List())
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	snap, err := s.hub.Snapshot(r.Context(), r.PathValue("project"), r.PathValue("page"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := render.Page(snap).Render(r.Context(), w); err != nil {
		s.logger.Error(r.Context(), err, "render preview", "page", snap.PageID)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(r.Context(), err, "encode response", "path", r.URL.Path)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, "request failed", "method", r.Method, "path", r.URL.Path)
	}
	code := errors.Code(err)
	if code == "" {
		code = errors.ErrCodeInternalError
	}
	msg := err.Error()
	var ee *errors.EditorError
	if errors.As(err, &ee) && ee.Message != "" {
		msg = ee.Message
	}
	s.writeJSON(w, r, status, errorResponse{Code: code, Message: strings.TrimSpace(msg)})
}

func statusFor(err error) int {
	switch errors.Code(err) {
	case errors.ErrCodeInvalidDescription, errors.ErrCodeInvalidParent, errors.ErrCodeProtocol:
		return http.StatusBadRequest
	case errors.ErrCodeDuplicateID, errors.ErrCodeNotEmpty, errors.ErrCodeCycleDetected, errors.ErrCodeSuperseded:
		return http.StatusConflict
	case errors.ErrCodePageUnavailable, errors.ErrCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
