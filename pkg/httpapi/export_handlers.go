package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/takeoffworks/estimator/pkg/auth"
	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/export"
	"github.com/takeoffworks/estimator/pkg/types"
)

var artifactContentTypes = map[string]string{
	"export:csv":  "text/csv",
	"export:xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"export:pdf":  "application/pdf",
}

func (h *handlers) handleExportJob(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	jobID := mux.Vars(r)["id"]
	format := export.Format(r.URL.Query().Get("format"))
	switch format {
	case export.FormatCSV, export.FormatXLSX, export.FormatPDF:
	default:
		writeError(w, r, errs.Validationf("bad_format", "format must be csv, xlsx or pdf"))
		return
	}

	artifact, err := h.deps.Export.Export(r.Context(), userID, jobID, format)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, artifact)
}

func (h *handlers) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	job := h.jobForAccess(w, r, types.RoleViewer)
	if job == nil {
		return
	}
	artifacts, err := h.deps.Store.ArtifactsByJob(r.Context(), job.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}

type presignArtifactRequest struct {
	TTLSeconds int64 `json:"ttl_seconds"`
}

func (h *handlers) handlePresignArtifact(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	artifactID := mux.Vars(r)["id"]
	var req presignArtifactRequest
	if err := decodeJSON(w, r, &req, 0); err != nil {
		writeError(w, r, err)
		return
	}
	ttl := req.TTLSeconds
	if ttl <= 0 {
		ttl = int64(h.deps.PresignDefaultTTL.Seconds())
	}

	url, err := h.deps.Export.PresignDownload(r.Context(), userID, artifactID, ttl)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"download_url": url})
}

// handleDownloadArtifact is reached purely on presigned-path bypass, same
// reasoning as handleUploadFileContent: the signature already scopes
// authorization to this one artifact id.
func (h *handlers) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID := mux.Vars(r)["id"]
	q := r.URL.Query()
	exp, parseErr := strconv.ParseInt(q.Get("exp"), 10, 64)
	if parseErr != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "presign_invalid", "signed url is invalid"))
		return
	}

	data, err := h.deps.Export.DownloadArtifact(r.Context(), artifactID, q.Get("act"), exp, q.Get("sig"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	artifact, err := h.deps.Store.ArtifactGetByID(r.Context(), artifactID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	contentType := artifactContentTypes[artifact.Kind]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+sanitizeFilename(artifactID, artifact.Kind)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func sanitizeFilename(artifactID, kind string) string {
	ext := strings.TrimPrefix(kind, "export:")
	return artifactID + "." + ext
}
