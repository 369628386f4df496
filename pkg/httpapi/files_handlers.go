package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/takeoffworks/estimator/pkg/auth"
	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/rbac"
	"github.com/takeoffworks/estimator/pkg/types"
)

const uploadAction = "upload"

type createFileRequest struct {
	ProjectID string        `json:"project_id"`
	Filename  string        `json:"filename"`
	Type      types.FileType `json:"type"`
}

// handleCreateFile records a pending upload and hands back a presigned URL
// scoped to exactly this file id — the client never needs a bearer token to
// perform the actual PUT, which matters for browser upload flows that go
// straight from a file picker to the signed URL.
func (h *handlers) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	var req createFileRequest
	if err := decodeJSON(w, r, &req, 0); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := rbac.RequireProjectAccess(r.Context(), h.deps.Store, req.ProjectID, userID, types.RoleEditor); err != nil {
		writeError(w, r, err)
		return
	}
	if !allowedType(h.deps.AllowedUploadTypes, string(req.Type)) {
		writeError(w, r, errs.Validationf("unsupported_file_type", "file type %q is not accepted", req.Type))
		return
	}

	f := &types.File{
		ID:         uuid.NewString(),
		ProjectID:  req.ProjectID,
		UploaderID: userID,
		Filename:   req.Filename,
		Type:       req.Type,
	}
	if err := h.deps.Store.FileCreate(r.Context(), f); err != nil {
		writeError(w, r, err)
		return
	}

	signed := h.deps.Signer.Sign(uploadAction, f.ID, h.deps.PresignDefaultTTL)
	writeJSON(w, http.StatusCreated, map[string]string{
		"file_id":    f.ID,
		"upload_url": "/api/v1/files/" + f.ID + "/content?" + signed.Query(),
	})
}

// handleUploadFileContent is reached purely on presigned-path bypass — no
// bearer token, no RBAC check, because the signature already scopes
// authorization to this one file id (mirrors export.Pipeline.DownloadArtifact's
// reasoning for artifact downloads).
func (h *handlers) handleUploadFileContent(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["id"]
	q := r.URL.Query()
	exp, parseErr := strconv.ParseInt(q.Get("exp"), 10, 64)
	if q.Get("act") != uploadAction || parseErr != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "presign_invalid", "signed url is invalid"))
		return
	}
	if err := h.deps.Signer.Verify(uploadAction, fileID, exp, q.Get("sig")); err != nil {
		writeError(w, r, err)
		return
	}

	file, err := h.deps.Store.FileGetByID(r.Context(), fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	limited := http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes)
	data, err := io.ReadAll(limited)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, errs.New(errs.TooLarge, "upload_too_large", "upload exceeds the maximum allowed size"))
			return
		}
		writeError(w, r, errs.Internalf("upload_read", err))
		return
	}

	if prefix := file.Type.MagicPrefix(); prefix != nil && !bytes.HasPrefix(data, prefix) {
		writeError(w, r, errs.Validationf("bad_file_signature", "file content does not match declared type %q", file.Type))
		return
	}

	checksum, err := h.deps.Blobs.Store(r.Context(), data)
	if err != nil {
		writeError(w, r, errs.Internalf("blob_store", err))
		return
	}
	if err := h.deps.Store.FileSetContent(r.Context(), fileID, int64(len(data)), checksum); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file_id": fileID, "size": len(data), "checksum": checksum})
}

func allowedType(allowed []string, t string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}
