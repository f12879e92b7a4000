package server

import (
	"net/http"
	"strings"

	"github.com/conneroisu/pagecraft/internal/errors"
)

// previewCSP lets rendered pages load remote media but never run script.
var previewCSP = strings.Join([]string{
	"default-src 'self'",
	"script-src 'none'",
	"style-src 'self' 'unsafe-inline'",
	"img-src * data:",
	"media-src *",
	"object-src 'none'",
	"base-uri 'none'",
	"form-action 'none'",
}, "; ")

// applySecurityHeaders sets the headers every response carries. Preview
// pages may be framed by the allowed editor origins.
func (s *Server) applySecurityHeaders(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

	if !strings.HasPrefix(r.URL.Path, "/preview/") {
		h.Set("X-Frame-Options", "DENY")
		return
	}
	ancestors := append([]string{"'self'"}, s.config.AllowedOrigins...)
	h.Set("Content-Security-Policy", previewCSP+"; frame-ancestors "+strings.Join(ancestors, " "))
}

// checkWriteOrigin refuses state-changing requests sent by a browser from
// an origin that is not allowed. Requests without an Origin header come
// from tools and pass.
func (s *Server) checkWriteOrigin(r *http.Request) error {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return nil
	}
	origin := r.Header.Get("Origin")
	if origin == "" || s.isAllowedOrigin(origin) || sameOrigin(origin, r.Host) {
		return nil
	}
	return errors.NewProtocolError("origin " + origin + " may not modify pages")
}

func sameOrigin(origin, host string) bool {
	_, rest, ok := strings.Cut(origin, "://")
	return ok && strings.EqualFold(rest, host)
}
