package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/httperr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	httperr.WriteError(w, r, err)
}

// decodeJSON reads the request body into dst, capped at maxBytes, mapping
// any decode failure to a Validation error so handlers never need to know
// the difference between "bad JSON" and "a missing field".
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = 1 << 20 // 1MB default body cap for JSON requests
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errs.Wrap(errs.Validation, "bad_request_body", "request body is not valid JSON", err)
	}
	return nil
}
