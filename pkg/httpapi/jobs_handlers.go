package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/takeoffworks/estimator/pkg/audit"
	"github.com/takeoffworks/estimator/pkg/auth"
	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/rbac"
	"github.com/takeoffworks/estimator/pkg/types"
)

type createJobRequest struct {
	FileID        string `json:"file_id"`
	PriceListID   string `json:"price_list_id"`
}

// handleCreateJob kicks off a take-off run for an already-uploaded file.
// The job starts queued; pkg/jobengine's background worker picks it up from
// the outbox and drives it through extraction, pricing and completion.
func (h *handlers) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	var req createJobRequest
	if err := decodeJSON(w, r, &req, 0); err != nil {
		writeError(w, r, err)
		return
	}
	if req.FileID == "" {
		writeError(w, r, errs.Validationf("missing_file_id", "file_id is required"))
		return
	}

	file, err := h.deps.Store.FileGetByID(r.Context(), req.FileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := rbac.RequireProjectAccess(r.Context(), h.deps.Store, file.ProjectID, userID, types.RoleEditor); err != nil {
		writeError(w, r, err)
		return
	}

	job, err := h.deps.Jobs.CreateJob(r.Context(), userID, req.FileID, req.PriceListID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.recordAudit(r, audit.EventMutation, "job_created", "job:"+job.ID, map[string]interface{}{"project_id": file.ProjectID, "file_id": req.FileID})
	writeJSON(w, http.StatusCreated, job)
}

func (h *handlers) handleListJobs(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, r, errs.Validationf("missing_project_id", "project_id query parameter is required"))
		return
	}
	if _, err := rbac.RequireProjectAccess(r.Context(), h.deps.Store, projectID, userID, types.RoleViewer); err != nil {
		writeError(w, r, err)
		return
	}
	jobs, err := h.deps.Store.JobsListForProject(r.Context(), projectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// jobForAccess loads a job and checks the caller has at least minRole on its
// owning project — the shared first step of every per-job handler below,
// since a job id alone carries no access information.
func (h *handlers) jobForAccess(w http.ResponseWriter, r *http.Request, minRole types.Role) *types.Job {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return nil
	}
	jobID := mux.Vars(r)["id"]
	job, err := h.deps.Store.JobGetByID(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err)
		return nil
	}
	if _, err := rbac.RequireProjectAccess(r.Context(), h.deps.Store, job.ProjectID, userID, minRole); err != nil {
		writeError(w, r, err)
		return nil
	}
	return job
}

func (h *handlers) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job := h.jobForAccess(w, r, types.RoleViewer)
	if job == nil {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handlers) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	job := h.jobForAccess(w, r, types.RoleViewer)
	if job == nil {
		return
	}
	events, err := h.deps.Store.JobEventsSince(r.Context(), job.ID, 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleJobStream replays the job's event history and then relays live
// progress over the jobengine's own channel, closing once the job reaches a
// terminal status so long-lived clients don't have to guess when to stop.
func (h *handlers) handleJobStream(w http.ResponseWriter, r *http.Request) {
	job := h.jobForAccess(w, r, types.RoleViewer)
	if job == nil {
		return
	}
	events, err := h.deps.Store.JobEventsSince(r.Context(), job.ID, 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	history := make([]any, len(events))
	for i, ev := range events {
		history[i] = ev
	}
	h.streamSSE(w, r, "job:"+job.ID, history, func() bool {
		current, err := h.deps.Store.JobGetByID(r.Context(), job.ID)
		return err == nil && current.Status.Terminal()
	})
}

func (h *handlers) handleJobExportsStream(w http.ResponseWriter, r *http.Request) {
	job := h.jobForAccess(w, r, types.RoleViewer)
	if job == nil {
		return
	}
	artifacts, err := h.deps.Store.ArtifactsByJob(r.Context(), job.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	history := make([]any, len(artifacts))
	for i, a := range artifacts {
		history[i] = a
	}
	h.streamSSE(w, r, fmt.Sprintf("jobs:%s:exports", job.ID), history, nil)
}
