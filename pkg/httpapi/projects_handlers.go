package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/takeoffworks/estimator/pkg/audit"
	"github.com/takeoffworks/estimator/pkg/auth"
	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/rbac"
	"github.com/takeoffworks/estimator/pkg/types"
)

type createProjectRequest struct {
	Name                   string `json:"name"`
	Description            string `json:"description"`
	MonthlySpendCapCredits int64  `json:"monthly_spend_cap_credits"`
}

func (h *handlers) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	var req createProjectRequest
	if err := decodeJSON(w, r, &req, 0); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, errs.Validationf("missing_name", "project name is required"))
		return
	}

	p := &types.Project{
		ID:                     uuid.NewString(),
		OwnerUserID:            userID,
		Name:                   req.Name,
		Description:            req.Description,
		Status:                 types.ProjectActive,
		MonthlySpendCapCredits: req.MonthlySpendCapCredits,
	}
	if err := h.deps.Store.ProjectCreate(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	h.recordAudit(r, audit.EventMutation, "project_created", "project:"+p.ID, nil)
	writeJSON(w, http.StatusCreated, p)
}

func (h *handlers) handleListProjects(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	projects, err := h.deps.Store.ProjectListForUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *handlers) handleGetProject(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	projectID := mux.Vars(r)["id"]
	if _, err := rbac.RequireProjectAccess(r.Context(), h.deps.Store, projectID, userID, types.RoleViewer); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.deps.Store.ProjectGetByID(r.Context(), projectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) handleListCollaborators(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	projectID := mux.Vars(r)["id"]
	if _, err := rbac.RequireProjectAccess(r.Context(), h.deps.Store, projectID, userID, types.RoleViewer); err != nil {
		writeError(w, r, err)
		return
	}
	cs, err := h.deps.Store.CollaboratorList(r.Context(), projectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

type addCollaboratorRequest struct {
	UserID string     `json:"user_id"`
	Role   types.Role `json:"role"`
}

// handleAddCollaborator is the owner-only direct-add path: the caller
// already knows the invitee's user id (e.g. a returning collaborator),
// distinct from handleCreateInvitation's email-based flow.
func (h *handlers) handleAddCollaborator(w http.ResponseWriter, r *http.Request) {
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
	var req addCollaboratorRequest
	if err := decodeJSON(w, r, &req, 0); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UserID == "" || (req.Role != types.RoleOwner && req.Role != types.RoleEditor && req.Role != types.RoleViewer) {
		writeError(w, r, errs.Validationf("bad_collaborator", "user_id and a valid role are required"))
		return
	}

	c := &types.Collaborator{ProjectID: projectID, UserID: req.UserID, Role: req.Role, InviterID: userID}
	if err := h.deps.Store.CollaboratorAdd(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	h.recordAudit(r, audit.EventMutation, "collaborator_added", "project:"+projectID, map[string]interface{}{"collaborator_id": req.UserID, "role": req.Role})
	writeJSON(w, http.StatusCreated, c)
}

type changeCollaboratorRoleRequest struct {
	Role types.Role `json:"role"`
}

func (h *handlers) handleChangeCollaboratorRole(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	vars := mux.Vars(r)
	projectID, targetUserID := vars["id"], vars["userID"]
	if _, err := rbac.RequireProjectAccess(r.Context(), h.deps.Store, projectID, userID, types.RoleOwner); err != nil {
		writeError(w, r, err)
		return
	}
	var req changeCollaboratorRoleRequest
	if err := decodeJSON(w, r, &req, 0); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Role != types.RoleOwner && req.Role != types.RoleEditor && req.Role != types.RoleViewer {
		writeError(w, r, errs.Validationf("bad_role", "role must be owner, editor or viewer"))
		return
	}

	c := &types.Collaborator{ProjectID: projectID, UserID: targetUserID, Role: req.Role, InviterID: userID}
	if err := h.deps.Store.CollaboratorAdd(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	h.recordAudit(r, audit.EventMutation, "collaborator_role_changed", "project:"+projectID, map[string]interface{}{"collaborator_id": targetUserID, "role": req.Role})
	writeJSON(w, http.StatusOK, c)
}

type createInvitationRequest struct {
	Email string     `json:"email"`
	Role  types.Role `json:"role"`
}

// handleCreateInvitation lets an editor or owner invite a collaborator by
// email. Per the owner-escalation invariant, an invitation can never carry
// the owner role — only a direct collaborator-role change by an existing
// owner can do that.
func (h *handlers) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	projectID := mux.Vars(r)["id"]
	if _, err := rbac.RequireProjectAccess(r.Context(), h.deps.Store, projectID, userID, types.RoleEditor); err != nil {
		writeError(w, r, err)
		return
	}
	var req createInvitationRequest
	if err := decodeJSON(w, r, &req, 0); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Email == "" {
		writeError(w, r, errs.Validationf("missing_email", "email is required"))
		return
	}
	if req.Role == types.RoleOwner {
		writeError(w, r, errs.Forbiddenf("owner_not_invitable", "the owner role cannot be granted by invitation"))
		return
	}
	if req.Role != types.RoleEditor && req.Role != types.RoleViewer {
		req.Role = types.RoleViewer
	}

	plain, err := randomToken()
	if err != nil {
		writeError(w, r, errs.Internalf("token_generate", err))
		return
	}
	inv := &types.Invitation{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Email:     req.Email,
		Role:      req.Role,
		TokenHash: hashPlain(plain),
		Status:    types.InvitationPending,
		InviterID: userID,
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	}
	if err := h.deps.Store.InvitationCreate(r.Context(), inv); err != nil {
		writeError(w, r, err)
		return
	}
	h.recordAudit(r, audit.EventMutation, "invitation_created", "project:"+projectID, map[string]interface{}{"invitation_id": inv.ID, "role": inv.Role})
	writeJSON(w, http.StatusCreated, map[string]string{"invitation_id": inv.ID, "token": plain})
}

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

func (h *handlers) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	var req acceptInvitationRequest
	if err := decodeJSON(w, r, &req, 0); err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := h.deps.Store.InvitationGetByTokenHash(r.Context(), hashPlain(req.Token))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.deps.Store.AcceptInvitation(r.Context(), inv.ID, userID); err != nil {
		writeError(w, r, err)
		return
	}
	h.recordAudit(r, audit.EventMutation, "invitation_accepted", "project:"+inv.ProjectID, map[string]interface{}{"invitation_id": inv.ID})
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

type createAccessRequestRequest struct {
	RequestedRole types.Role `json:"requested_role"`
}

// handleCreateAccessRequest is the requester-initiated counterpart to
// invitations: a user without membership asks to join, rather than an
// existing member reaching out to them.
func (h *handlers) handleCreateAccessRequest(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	projectID := mux.Vars(r)["id"]
	var req createAccessRequestRequest
	if err := decodeJSON(w, r, &req, 0); err != nil {
		writeError(w, r, err)
		return
	}
	if req.RequestedRole == types.RoleOwner {
		req.RequestedRole = types.RoleViewer
	}
	ar := &types.AccessRequest{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		RequesterID:   userID,
		RequestedRole: req.RequestedRole,
		Status:        types.AccessRequestPending,
	}
	if err := h.deps.Store.AccessRequestCreate(r.Context(), ar); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ar)
}

type decideAccessRequestRequest struct {
	Approve bool `json:"approve"`
}

func (h *handlers) handleDecideAccessRequest(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	projectID := mux.Vars(r)["id"]
	requestID := mux.Vars(r)["requestID"]
	if _, err := rbac.RequireProjectAccess(r.Context(), h.deps.Store, projectID, userID, types.RoleOwner); err != nil {
		writeError(w, r, err)
		return
	}
	var req decideAccessRequestRequest
	if err := decodeJSON(w, r, &req, 0); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.deps.Store.AccessRequestDecide(r.Context(), requestID, userID, req.Approve); err != nil {
		writeError(w, r, err)
		return
	}
	h.recordAudit(r, audit.EventMutation, "access_request_decided", "project:"+projectID, map[string]interface{}{"request_id": requestID, "approved": req.Approve})
	writeJSON(w, http.StatusOK, map[string]bool{"decided": true})
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
