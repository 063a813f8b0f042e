package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/muroyamasusumu-Git/cscs-sync-api/utils"
)

// defaultUserKey is used when a client sends no X-Sync-User header.
// Multi-tenant isolation is not this service's concern; the header only
// keeps separate learners' snapshots apart.
const defaultUserKey = "default"

func userKeyFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-Sync-User")); key != "" {
		return key
	}
	return defaultUserKey
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// adminMiddleware guards destructive endpoints. With an empty hash the
// guard is disabled (single-user deployments behind an access proxy).
func adminMiddleware(adminTokenHash string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		if adminTokenHash == "" {
			return next
		}
		return func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" || !utils.CheckAdminToken(adminTokenHash, token) {
				utils.LogHTTP("Rejected reset request without valid admin token")
				http.Error(w, "Admin token required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		utils.LogHTTP("%s %s %d %v", r.Method, r.URL.Path, wrapped.statusCode, duration)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
