package handler

import (
	"encoding/json"
	"net/http"

	"github.com/capitalize-ai/crisp-sync/internal/middleware"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already sent; an encode failure only means the client went away.
	_ = json.NewEncoder(w).Encode(v)
}

// writeError replies with message, tagged with the request's correlation ID so clients can quote it.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, errorResponse{
		Error:         message,
		CorrelationID: middleware.GetCorrelationID(r.Context()),
	})
}
