package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/snapdeck/snapdeck-go/internal/types"
	"github.com/snapdeck/snapdeck-go/pkg/version"
)

// writeErrorResponse writes a consistent error response with proper fields.
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := types.ErrorResponse{
		Status:  "error",
		Message: message,
		Version: version.Full(),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Str("message", message).Msg("Failed to encode middleware error response")
	}
}
