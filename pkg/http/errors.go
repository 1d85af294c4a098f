package http

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error             string `json:"error"`   // Machine-readable reason code
	Message           string `json:"message"` // Human-readable message
	RemainingAttempts *int   `json:"remaining_attempts,omitempty"`
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeErrorResponse(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}

// WriteErrorWithRemaining writes an error that also tells the client how many
// attempts are left before the account locks
func WriteErrorWithRemaining(w http.ResponseWriter, statusCode int, errorCode, message string, remaining int) {
	writeErrorResponse(w, statusCode, ErrorResponse{
		Error:             errorCode,
		Message:           message,
		RemainingAttempts: &remaining,
	})
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	// Encoding errors are not exposed to the client
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteJSON writes v as a JSON body with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "INVALID_INPUT", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}
