package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"tickerpulse/internal/infrastructure"
)

// BearerAuth guards REST endpoints with the same static token set the
// stream handshake accepts. An empty token set disables the check so
// local and test deployments stay open.
func BearerAuth(logger *slog.Logger, tokens []string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(tokens) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			header := r.Header.Get("Authorization")

			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				logger.WarnContext(ctx, "missing bearer credential",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeUnauthorized(w, r)
				return
			}

			presented := []byte(strings.TrimPrefix(header, prefix))
			for _, token := range tokens {
				if subtle.ConstantTimeCompare(presented, []byte(token)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}

			logger.WarnContext(ctx, "rejected bearer credential",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeUnauthorized(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="tickerpulse"`)
	problem := ProblemFromStatus(
		http.StatusUnauthorized,
		"Missing or invalid bearer credential",
		infrastructure.GetTraceID(r.Context()),
	)
	problem.Render(w, r)
}
