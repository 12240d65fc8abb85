package api

import (
	"encoding/json"
	"net/http"

	"github.com/mwexplorer/chainstate/internal/util"
)

// ErrorResponse is a JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("failed to encode JSON response", "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, statusCode int, message, details string) {
	util.Warn("API error", "status", statusCode, "message", message, "details", details)
	writeJSON(w, statusCode, ErrorResponse{Error: message, Details: details})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, "Bad Request", message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, "Not Found", message)
}

func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, "Conflict", message)
}

func writeInternalError(w http.ResponseWriter, err error) {
	util.Error("internal server error", "error", err.Error())
	writeError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred")
}

func writeServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, "Service Unavailable", message)
}
