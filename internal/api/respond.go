package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleServiceError maps service errors onto HTTP. Conflicts and state
// errors share 409 but carry different codes: a conflict means "query slots
// again and retry", invalid_state does not.
func handleServiceError(w http.ResponseWriter, logger zerolog.Logger, r *http.Request, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case apperr.KindNotFound:
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case apperr.KindAuthorization:
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case apperr.KindConflict:
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case apperr.KindState:
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	default:
		logger.Error().Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
