// Error taxonomy for the client-facing API.
//
// Validation failures are 4xx with a machine-readable code and never reach
// the upstream. Upstream failures surface as 502 with a generic message; the
// original detail is logged, not exposed. Anything unexpected is a 500 with
// no internals in the body.
package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Error type tags carried in the response body.
const (
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeUpstream       = "upstream_error"
	ErrTypeInternal       = "internal_error"
)

// APIError is the client-visible error payload.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

func writeError(w http.ResponseWriter, status int, errType, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}}); err != nil {
		log.Error().Err(err).Msg("writing error response")
	}
}

func writeInvalidRequest(w http.ResponseWriter, code, message string) {
	writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, code, message)
}

func writeUpstreamError(w http.ResponseWriter) {
	writeError(w, http.StatusBadGateway, ErrTypeUpstream, "upstream_failure",
		"the upstream service failed to process the request")
}

func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrTypeInternal, "internal_failure",
		"an unexpected error occurred")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("writing response")
	}
}
