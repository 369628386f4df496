package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/takeoffworks/estimator/pkg/audit"
	"github.com/takeoffworks/estimator/pkg/auth"
	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/rbac"
	"github.com/takeoffworks/estimator/pkg/types"
)

// recordAudit is a best-effort wrapper around deps.Audit: a nil logger or
// a failed write is logged and never turns a successful mutation into a
// failed request.
func (h *handlers) recordAudit(r *http.Request, eventType audit.EventType, action, resource string, metadata map[string]interface{}) {
	if h.deps.Audit == nil {
		return
	}
	if err := h.deps.Audit.Record(r.Context(), eventType, action, resource, metadata); err != nil {
		h.deps.logger().ErrorContext(r.Context(), "audit record failed", "action", action, "resource", resource, "error", err)
	}
}

// handleExportAuditPack lets a project owner download a zip of the
// project's recorded audit events for compliance review. Requires
// deps.AuditExport to be configured; otherwise it 404s as an unimplemented
// surface rather than pretending to succeed with an empty pack.
func (h *handlers) handleExportAuditPack(w http.ResponseWriter, r *http.Request) {
	if h.deps.AuditExport == nil {
		writeError(w, r, errs.NotFoundf("audit_export_disabled", "compliance export is not configured"))
		return
	}
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	projectID := mux.Vars(r)["id"]
	if _, err := rbac.RequireProjectAccess(r.Context(), h.deps.Store, projectID, userID, types.RoleOwner); err != nil {
		writeError(w, r, err)
		return
	}

	req := audit.ExportRequest{ProjectID: projectID}
	if t := r.URL.Query().Get("start_time"); t != "" {
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			req.StartTime = parsed
		}
	}
	if t := r.URL.Query().Get("end_time"); t != "" {
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			req.EndTime = parsed
		}
	}

	pack, checksum, err := h.deps.AuditExport.GeneratePack(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-"+projectID+".zip\"")
	w.Header().Set("X-Audit-Pack-Checksum", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pack)
}
