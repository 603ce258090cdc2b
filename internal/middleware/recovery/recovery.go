package recovery

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Middleware converts panics in the handler chain into a structured
// 500 response instead of tearing down the connection.
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "recovery")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Error("panic recovered",
						"panic", recovered,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error_kind": "internal",
						"message":    "internal gateway error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
