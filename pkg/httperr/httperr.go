// Package httperr renders domain errors (pkg/errs) as RFC 7807 Problem
// Detail JSON responses, the same response shape the teacher's pkg/api
// uses, generalized from a fixed set of Write<Status> helpers to a single
// Kind-to-status mapping so every HTTP-facing package shares one error
// surface instead of reimplementing status-code selection.
package httperr

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/takeoffworks/estimator/pkg/errs"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// statusFor maps a domain error kind to its HTTP status code, per the
// propagation policy's transport-agnostic kind vocabulary.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.Validation:
		return http.StatusUnprocessableEntity
	case errs.Unauthenticated:
		return http.StatusUnauthorized
	case errs.Forbidden:
		return http.StatusForbidden
	case errs.NotFound:
		return http.StatusNotFound
	case errs.Conflict:
		return http.StatusConflict
	case errs.PaymentRequired:
		return http.StatusPaymentRequired
	case errs.RateLimited:
		return http.StatusTooManyRequests
	case errs.TooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as a Problem Detail response, mapping its kind to
// a status code and, for Internal errors, logging detail server-side
// while never echoing it to the caller.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)

	code := string(kind)
	detail := err.Error()
	if kind == errs.Internal {
		slog.ErrorContext(r.Context(), "internal error", "error", err, "path", r.URL.Path)
		detail = "an unexpected error occurred"
	}
	var meta map[string]any
	if de, ok := err.(*errs.Error); ok {
		code = de.Code
		if kind != errs.Internal {
			detail = de.Message
		}
		meta = de.Meta
	}

	problem := struct {
		ProblemDetail
		Meta map[string]any `json:"meta,omitempty"`
	}{
		ProblemDetail: ProblemDetail{
			Type:      fmt.Sprintf("https://takeoffworks.example/errors/%s", kind),
			Title:     http.StatusText(status),
			Status:    status,
			Detail:    detail,
			Instance:  r.URL.Path,
			ErrorCode: code,
			TraceID:   w.Header().Get("X-Request-ID"),
		},
		Meta: meta,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "5")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteUnauthorized writes a bare 401, for auth middleware failures that
// occur before a domain error even exists.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", detail))
}
