package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"permgate.org/internal/authn"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// roleAdmin gates every mutating endpoint when auth is enabled.
	roleAdmin = "admin"

	defaultTokenTTL = 12 * time.Hour
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/openapi.yaml",
	"/v1/info",
	"/",
}

type tokenRequest struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
	TTL     string   `json:"ttl"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || !a.verifier.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.verifier.Verify(token)
		if err != nil {
			if errors.Is(err, authn.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		next.ServeHTTP(w, r.WithContext(authn.ContextWithPrincipal(r.Context(), principal)))
	})
}

// ensureRole guards a mutating handler. With auth disabled everything is
// allowed; with auth enabled the caller needs the role.
func (a *API) ensureRole(w http.ResponseWriter, r *http.Request, role string) bool {
	if !a.verifier.Enabled() {
		return true
	}
	principal, ok := authn.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if !principal.HasRole(role) {
		writeError(w, r, http.StatusForbidden, "insufficient role")
		return false
	}
	return true
}

// handleAuthToken issues a signed token. The endpoint is only live when a
// secret is configured; knowing the secret is what protects it, so the
// issuing deployment must not expose it publicly.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.verifier.Enabled() {
		writeError(w, r, http.StatusServiceUnavailable, "token issuing is disabled")
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		writeError(w, r, http.StatusBadRequest, "subject is required")
		return
	}
	ttl := defaultTokenTTL
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed <= 0 {
			writeError(w, r, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = parsed
	}
	token, expires, err := a.verifier.Issue(req.Subject, req.Roles, ttl)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issuing failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expires})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
