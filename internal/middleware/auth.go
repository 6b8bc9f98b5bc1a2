package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"wareply/internal/metrics"

	"github.com/sirupsen/logrus"
)

// BearerAuth protects admin endpoints with a static bearer token. The
// token provider is a function so a config reload can rotate it without
// rebuilding the router.
func BearerAuth(token func() string, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected := token()
			if expected == "" {
				logger.Warn("Admin endpoint called but no admin token is configured")
				http.Error(w, "admin API disabled", http.StatusForbidden)
				return
			}

			header := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
				metrics.IncrementCounter("admin_auth_failures_total", nil, "Rejected admin API requests")
				logger.WithField("remote_ip", ClientIP(r)).Warn("Rejected admin request with invalid token")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
