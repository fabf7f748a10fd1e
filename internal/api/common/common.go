// Package common provides response helpers shared by the API routers.
package common

import (
	"encoding/json"
	"net/http"

	"github.com/stacklok/promptsync/internal/syncerr"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error       string       `json:"error"`
	Code        syncerr.Code `json:"code,omitempty"`
	Remediation string       `json:"remediation,omitempty"`
}

// WriteJSONResponse writes a JSON response with the given data
func WriteJSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// WriteErrorResponse writes a standardized error response
func WriteErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	WriteJSONResponse(w, ErrorResponse{Error: message}, statusCode)
}

// WriteSyncError writes err with the status code matching its error code
func WriteSyncError(w http.ResponseWriter, err error) {
	code := syncerr.CodeOf(err)
	WriteJSONResponse(w, ErrorResponse{
		Error:       err.Error(),
		Code:        code,
		Remediation: syncerr.Remediation(code),
	}, StatusForCode(code))
}

// StatusForCode maps a sync error code to an HTTP status
func StatusForCode(code syncerr.Code) int {
	switch code {
	case syncerr.CodeConfiguration:
		return http.StatusBadRequest
	case syncerr.CodePermission:
		return http.StatusForbidden
	case syncerr.CodeNotFound:
		return http.StatusNotFound
	case syncerr.CodeConflict, syncerr.CodeLockHeld, syncerr.CodeInProgress:
		return http.StatusConflict
	case syncerr.CodeNetwork:
		return http.StatusBadGateway
	case syncerr.CodeData:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
