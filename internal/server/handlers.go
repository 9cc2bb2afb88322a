package server

import (
	"encoding/json"
	"net/http"

	"github.com/aristath/stockledger/internal/domain"
	"github.com/rs/zerolog"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": s.version,
		"service": "stockledger",
	}

	writeJSON(w, http.StatusOK, response, s.log)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes the error body with the status of its kind
func writeError(w http.ResponseWriter, err error, log zerolog.Logger) {
	writeJSON(w, domain.StatusCode(err), map[string]string{
		"error": err.Error(),
		"kind":  string(domain.KindOf(err)),
	}, log)
}
