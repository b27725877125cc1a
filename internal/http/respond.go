package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"vida-gateway/internal/pipeline"
	"vida-gateway/pkg/domain"
	dErrors "vida-gateway/pkg/domain-errors"
)

// statusClientClosedRequest mirrors the nginx convention for a caller that
// disconnected before the response was written.
const statusClientClosedRequest = 499

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError exposes only the error code category to callers; messages stay
// in logs and the audit trail.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	writeJSON(w, statusForCode(code), map[string]string{"error": string(code)})
}

func statusForCode(code dErrors.Code) int {
	switch code {
	case dErrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case dErrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case dErrors.CodeUnauthorized:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeSinkUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeOutcome maps a pipeline terminal outcome to its HTTP shape.
func writeOutcome(w http.ResponseWriter, res *pipeline.Response) {
	switch res.Outcome {
	case domain.OutcomeAdmittedSuccess:
		writeJSON(w, http.StatusOK, res.Payload)
	case domain.OutcomeRateLimited:
		if res.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
		}
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":  string(dErrors.CodeRateLimited),
			"reason": res.Reason,
		})
	case domain.OutcomeUnauthenticated:
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": string(dErrors.CodeUnauthenticated),
		})
	case domain.OutcomeUnauthorized:
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":  string(dErrors.CodeUnauthorized),
			"reason": res.Reason,
		})
	case domain.OutcomeClientAborted:
		w.WriteHeader(statusClientClosedRequest)
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": string(dErrors.CodeInternal),
		})
	}
}
