package admin

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/alexedwards/argon2id"
)

// tokenParams are the OWASP minimum parameters for Argon2id.
var tokenParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashToken returns an Argon2id PHC hash of token for admin.token_hash.
// Format: $argon2id$v=19$m=48128,t=1,p=1$<salt>$<hash>
func HashToken(token string) (string, error) {
	return argon2id.CreateHash(token, tokenParams)
}

// VerifyToken reports whether token matches the PHC hash. Malformed hashes
// make the underlying library panic; that is converted to an error.
func VerifyToken(token, hash string) (match bool, err error) {
	if !strings.HasPrefix(hash, "$argon2id$") {
		return false, fmt.Errorf("token hash is not in argon2id PHC format")
	}
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(token, hash)
}

// isLocalhost checks if the request originates from a loopback address.
// X-Forwarded-For is intentionally NOT trusted here: it is client controlled.
func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

// bearerToken returns the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// adminAuthMiddleware lets localhost through and requires a bearer token
// matching tokenHash from everyone else. Without a configured hash remote
// callers get 403.
func (h *AdminAPIHandler) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLocalhost(r) {
			next.ServeHTTP(w, r)
			return
		}
		if h.tokenHash == "" {
			h.respondError(w, http.StatusForbidden, "admin API requires localhost access")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="contactguard"`)
			h.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		match, err := VerifyToken(token, h.tokenHash)
		if err != nil {
			h.logger.Error("admin token verification failed", "error", err)
			h.respondError(w, http.StatusInternalServerError, "token verification failed")
			return
		}
		if !match {
			h.logger.Warn("admin API rejected invalid token", "remote_addr", r.RemoteAddr)
			h.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
