package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/joseph-ayodele/ocr-service/internal/common"
)

// requireToken enforces "Authorization: Bearer <token>" when auth is enabled.
func (s *Server) requireToken(next http.Handler) http.Handler {
	if !s.cfg.AuthEnabled {
		return next
	}
	expected := []byte(strings.TrimSpace(s.cfg.AuthToken))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			s.respondError(w, common.UnauthorizedError("Authentication required"))
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			common.LoggerFromContext(r.Context(), s.logger).Warn("auth.token.mismatch",
				"received_len", len(got), "expected_len", len(expected))
			s.respondError(w, common.UnauthorizedError("Invalid authentication credentials"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
