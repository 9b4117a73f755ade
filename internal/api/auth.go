// Package api implements the HTTP surface of the shipping sync service.
package api

import (
	"net/http"
	"strings"

	"shipsync/internal/token"
)

// requireAdmin guards merchant/admin endpoints. Callers present a Bearer
// JWT signed with the merchant secret whose accessKey claim matches ours.
// With no secret configured (dev), everything is allowed.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if s.Cfg.SecretKey == "" {
		return true
	}
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required", r.URL.Path)
		return false
	}
	tok := strings.TrimSpace(authz[len("Bearer "):])
	claims, err := token.Verify(tok, s.Cfg.SecretKey, token.DefaultLeeway, nil)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid token", r.URL.Path)
		return false
	}
	if claims.String("accessKey") != s.Cfg.AccessKey {
		writeProblem(w, http.StatusForbidden, "Forbidden", "wrong access key", r.URL.Path)
		return false
	}
	return true
}
