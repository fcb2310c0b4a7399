package httptransport

import (
	"encoding/json"
	"net/http"

	apperr "rental-docflow/internal/common/errors"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP. Lost races and lifecycle
// conflicts are 409 so the client re-reads and retries.
func statusFor(code apperr.ErrorCode) int {
	switch code {
	case apperr.ErrCodeValidation, apperr.ErrCodeInputParsingFailed:
		return http.StatusBadRequest
	case apperr.ErrCodeAuthorizationDenied:
		return http.StatusForbidden
	case apperr.ErrCodeNotFound:
		return http.StatusNotFound
	case apperr.ErrCodeStaleStepState, apperr.ErrCodeAlreadyTerminal, apperr.ErrCodeConflict,
		apperr.ErrCodeAlreadyStarted, apperr.ErrCodeDuplicatePendingRequest,
		apperr.ErrCodeStepOutOfOrder, apperr.ErrCodeComplianceBlocked, apperr.ErrCodeSignaturesIncomplete:
		return http.StatusConflict
	case apperr.ErrCodeExpired:
		return http.StatusGone
	case apperr.ErrCodeUnknownPermission:
		return http.StatusUnprocessableEntity
	case apperr.ErrCodeClassifierResponseInvalid:
		return http.StatusBadGateway
	case apperr.ErrCodeExternalServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	se := apperr.AsStandard(err)
	status := statusFor(se.Code)
	body := errorBody{Code: string(se.Code), Message: se.Message}
	if status < http.StatusInternalServerError {
		body.Details = se.Details
	}
	writeJSON(w, status, map[string]interface{}{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
