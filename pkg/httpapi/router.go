package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/takeoffworks/estimator/pkg/auth"
	"github.com/takeoffworks/estimator/pkg/identity"
)

// handlers wraps Dependencies so every route can be a method without
// threading the struct through a dozen free functions.
type handlers struct {
	deps        *Dependencies
	idempotency *idempotencyStore
}

// NewRouter builds the full /api/v1 surface: panic recovery, request-id
// tagging, structured access logging, bearer-token auth (with presigned
// and public-path bypass), then narrowly-scoped rate limiting on the two
// routes that mint or resend time-bounded credentials. RBAC is not a
// blanket middleware — each handler resolves its own project id (or a
// job/artifact's owning project) before calling rbac.RequireProjectAccess,
// since the minimum role differs per route and some routes have no
// project in the path at all.
func NewRouter(deps *Dependencies, tokens *identity.TokenManager, resendLimiter, presignLimiter *auth.KeyedLimiter, corsOrigins []string) http.Handler {
	h := &handlers{deps: deps, idempotency: newIdempotencyStore(24 * time.Hour)}
	r := mux.NewRouter()
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	authRoutes := api.PathPrefix("/auth").Subrouter()
	authRoutes.HandleFunc("/register", h.handleRegister).Methods(http.MethodPost)
	authRoutes.HandleFunc("/login", h.handleLogin).Methods(http.MethodPost)
	authRoutes.HandleFunc("/verify-email", h.handleVerifyEmail).Methods(http.MethodGet)
	authRoutes.HandleFunc("/complete-invite", h.handleCompleteInvite).Methods(http.MethodPost)
	resendRoute := authRoutes.Handle("/resend-verification", http.HandlerFunc(h.handleResendVerification)).Methods(http.MethodPost)
	if resendLimiter != nil {
		resendRoute.Handler(resendLimiter.Middleware(http.HandlerFunc(h.handleResendVerification)))
	}

	projects := api.PathPrefix("/projects").Subrouter()
	projects.HandleFunc("", h.handleCreateProject).Methods(http.MethodPost)
	projects.HandleFunc("", h.handleListProjects).Methods(http.MethodGet)
	projects.HandleFunc("/{id}", h.handleGetProject).Methods(http.MethodGet)
	projects.HandleFunc("/{id}/collaborators", h.handleListCollaborators).Methods(http.MethodGet)
	projects.HandleFunc("/{id}/collaborators", h.handleAddCollaborator).Methods(http.MethodPost)
	projects.HandleFunc("/{id}/collaborators/{userID}", h.handleChangeCollaboratorRole).Methods(http.MethodPut)
	projects.HandleFunc("/{id}/invitations", h.handleCreateInvitation).Methods(http.MethodPost)
	projects.HandleFunc("/{id}/access-requests", h.handleCreateAccessRequest).Methods(http.MethodPost)
	projects.HandleFunc("/{id}/access-requests/{requestID}", h.handleDecideAccessRequest).Methods(http.MethodPost)
	projects.HandleFunc("/{id}/audit-export", h.handleExportAuditPack).Methods(http.MethodGet)
	api.HandleFunc("/invitations/accept", h.handleAcceptInvitation).Methods(http.MethodPost)

	files := api.PathPrefix("/files").Subrouter()
	files.HandleFunc("", h.handleCreateFile).Methods(http.MethodPost)
	uploadRoute := files.Handle("/{id}/content", http.HandlerFunc(h.handleUploadFileContent)).Methods(http.MethodPut)
	if presignLimiter != nil {
		uploadRoute.Handler(presignLimiter.Middleware(http.HandlerFunc(h.handleUploadFileContent)))
	}

	jobs := api.PathPrefix("/jobs").Subrouter()
	jobs.HandleFunc("", withIdempotency(h.idempotency, h.handleCreateJob)).Methods(http.MethodPost)
	jobs.HandleFunc("", h.handleListJobs).Methods(http.MethodGet)
	jobs.HandleFunc("/{id}", h.handleGetJob).Methods(http.MethodGet)
	jobs.HandleFunc("/{id}/events", h.handleJobEvents).Methods(http.MethodGet)
	jobs.HandleFunc("/{id}/stream", h.handleJobStream).Methods(http.MethodGet)
	jobs.HandleFunc("/{id}/exports/stream", h.handleJobExportsStream).Methods(http.MethodGet)
	jobs.HandleFunc("/{id}/boq", h.handleGetBoq).Methods(http.MethodGet)
	jobs.HandleFunc("/{id}/boq/validate", h.handleBoqValidate).Methods(http.MethodGet)
	jobs.HandleFunc("/{id}/export", h.handleExportJob).Methods(http.MethodPost)
	jobs.HandleFunc("/{id}/artifacts", h.handleListArtifacts).Methods(http.MethodGet)

	boqItems := api.PathPrefix("/boq/items").Subrouter()
	boqItems.HandleFunc("/{id}", h.handlePatchBoqItem).Methods(http.MethodPatch)
	boqItems.HandleFunc("/bulk", h.handleBulkBoqPatch).Methods(http.MethodPost)

	artifactsRoutes := api.PathPrefix("/artifacts").Subrouter()
	artifactsRoutes.HandleFunc("/{id}/presign", h.handlePresignArtifact).Methods(http.MethodPost)
	downloadRoute := artifactsRoutes.Handle("/{id}/download", http.HandlerFunc(h.handleDownloadArtifact)).Methods(http.MethodGet)
	if presignLimiter != nil {
		downloadRoute.Handler(presignLimiter.Middleware(http.HandlerFunc(h.handleDownloadArtifact)))
	}

	var handler http.Handler = r
	handler = auth.NewMiddleware(tokens)(handler)
	handler = loggingMiddleware(deps.logger())(handler)
	handler = auth.RequestIDMiddleware(handler)
	handler = auth.CORSMiddleware(corsOrigins)(handler)
	handler = recoverMiddleware(deps.logger())(handler)
	return handler
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// recoverMiddleware keeps one panicking request from taking down the
// listener, matching the panic-and-continue discipline jobengine.Engine
// uses around job processing.
func recoverMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorContext(r.Context(), "http handler panicked", "panic", rec, "path", r.URL.Path)
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware records one structured line per request, including
// the request id RequestIDMiddleware attaches downstream of this wrapper
// (loggingMiddleware itself runs closer to the handler, request-id
// closer to the edge, so by the time this reads the context it's set).
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", auth.GetRequestID(r.Context()),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}
