package httpapi

import (
	"net/http"
	"strings"

	"koois.id/internal/auth"
)

const protectedPrefix = "/protected"

// authenticate applies the per-connection gate. It returns the verified
// claims for protected routes, nil for open ones, and ok=false when the
// request must be rejected with 401.
func (s *Server) authenticate(req *request) (*auth.Claims, bool) {
	// Preflight requests never carry credentials.
	if req.method == http.MethodOptions {
		return nil, true
	}
	if !strings.HasPrefix(req.path, protectedPrefix) {
		return nil, true
	}
	token, ok := bearerToken(req.header.Get("Authorization"))
	if !ok {
		return nil, false
	}
	claims, err := s.svc.VerifyToken(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}
