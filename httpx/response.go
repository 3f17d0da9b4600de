package httpx

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the envelope every failing endpoint returns: a stable
// machine-readable code plus optional detail (a field violation map, or the
// product/availability of a rejected order).
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// JSON writes payload with the given status. Marshalling happens before any
// byte hits the wire so a failure never produces partial JSON.
func JSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, `{"error":"encode_error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// JSONError writes the error envelope.
func JSONError(w http.ResponseWriter, status int, code string, details any) {
	JSON(w, status, ErrorResponse{Error: code, Details: details})
}

// Shorthands for the codes the API returns from many places.

func NotFound(w http.ResponseWriter) {
	JSONError(w, http.StatusNotFound, "not_found", nil)
}

func Internal(w http.ResponseWriter) {
	JSONError(w, http.StatusInternalServerError, "internal_error", nil)
}

func MethodNotAllowed(w http.ResponseWriter) {
	JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
}
