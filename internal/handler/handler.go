package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/tenantry/internal/auth"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// writeAuthError maps an auth error to a status code. Missing, expired and
// forged credentials share notFoundStatus and the same public message.
func writeAuthError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundStatus int) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auth.ErrNotFound),
		errors.Is(err, auth.ErrExpired),
		errors.Is(err, auth.ErrInvalidSignature):
		status = notFoundStatus
	case errors.Is(err, auth.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, auth.ErrNoTenantSelected):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrEmailUnchanged):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, auth.ErrEmailTaken):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	} else {
		logger.Debug("request rejected", "status", status, "error", err)
	}
	writeError(w, status, auth.PublicMessage(err))
}
