package controlplane

import (
	"encoding/json"
	"net/http"

	"github.com/iius-rcox/safetyamp-sync/internal/errs"
)

// apiError is the control plane's error envelope (spec §4.8: "Error
// envelope: {code, message, details?} with stable code strings"), keyed
// directly on internal/errs.Code rather than a parallel HTTP-layer enum —
// adapted from the teacher's internal/api/errors.APIError, which carried
// its own ErrorCode type duplicating a similar taxonomy.
type apiError struct {
	Code      errs.Code `json:"code"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

// statusFor maps a taxonomy code onto the HTTP status spec §6 assigns it.
func statusFor(code errs.Code) int {
	switch code {
	case errs.ValidationFailed:
		return http.StatusUnprocessableEntity
	case errs.AuthFailed:
		return http.StatusUnauthorized
	case errs.Conflict:
		return http.StatusConflict
	case errs.RateLimited:
		return http.StatusTooManyRequests
	case errs.DependencyUnavailable:
		return http.StatusServiceUnavailable
	case errs.DataMissing:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the standard envelope, translating its
// taxonomy code (if any) to both the JSON "code" field and the HTTP status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	status := statusFor(code)
	writeJSON(w, status, errorEnvelope{Error: apiError{
		Code:      code,
		Message:   err.Error(),
		RequestID: requestIDFrom(r),
	}})
}

// writeValidationError is for request-shape problems (bad query params, a
// malformed body) that never reached domain logic, so there is no
// underlying errs.Error to translate.
func writeValidationError(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{
		Code:      errs.ValidationFailed,
		Message:   message,
		RequestID: requestIDFrom(r),
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
