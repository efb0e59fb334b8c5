// Package middleware provides HTTP middleware components.
package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog/log"
)

// sanitizeStackTrace removes potentially sensitive file paths from stack traces.
// This prevents disclosure of internal server structure in logs that might be
// forwarded to external log aggregation services.
func sanitizeStackTrace(stack []byte) string {
	lines := strings.Split(string(stack), "\n")
	sanitized := make([]string, 0, len(lines))

	for _, line := range lines {
		// Keep goroutine info and function names; redact full file paths but
		// keep file names.
		if strings.Contains(line, "/") && strings.Contains(line, ".go:") {
			parts := strings.Split(line, "/")
			if len(parts) > 0 {
				lastPart := parts[len(parts)-1]
				indent := ""
				for _, c := range line {
					if c == '\t' || c == ' ' {
						indent += string(c)
					} else {
						break
					}
				}
				sanitized = append(sanitized, indent+lastPart)
				continue
			}
		}
		sanitized = append(sanitized, line)
	}

	return strings.Join(sanitized, "\n")
}

// Recovery returns middleware that recovers from panics and logs the error.
// Sanitizes stack traces to prevent sensitive path disclosure.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				log.Error().
					Interface("error", err).
					Str("stack", sanitizeStackTrace(stack)).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				writeErrorResponse(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
