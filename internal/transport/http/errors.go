package httptransport

import (
	"encoding/json"
	"net/http"

	dErrors "veda/pkg/domain-errors"
)

// writeError centralizes domain error translation so every endpoint
// returns the same JSON envelope.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case dErrors.CodeInvalidInput, dErrors.CodeValidation:
		status = http.StatusBadRequest
	case dErrors.CodeNotFound:
		status = http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeStaleUpdate, dErrors.CodeLockContended:
		status = http.StatusConflict
	case dErrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{
		"error":   string(code),
		"message": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
