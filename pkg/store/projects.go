package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/types"
)

func (s *Store) ProjectCreate(ctx context.Context, p *types.Project) error {
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO projects (id, owner_user_id, name, description, start_date, end_date, status, created_at, updated_at, monthly_spend_cap_credits)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.OwnerUserID, p.Name, p.Description, nullableTime(p.StartDate), nullableTime(p.EndDate), p.Status, fmtTime(now), fmtTime(now), p.MonthlySpendCapCredits)
	return err
}

func (s *Store) ProjectGetByID(ctx context.Context, id string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, owner_user_id, name, description, start_date, end_date, status, created_at, updated_at, monthly_spend_cap_credits
		FROM projects WHERE id = ?`), id)
	return scanProject(row)
}

func scanProject(row *sql.Row) (*types.Project, error) {
	var p types.Project
	var start, end, createdAt, updatedAt sql.NullString
	err := row.Scan(&p.ID, &p.OwnerUserID, &p.Name, &p.Description, &start, &end, &p.Status, &createdAt, &updatedAt, &p.MonthlySpendCapCredits)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("project_not_found", "project not found")
	}
	if err != nil {
		return nil, errs.Internalf("project_scan", err)
	}
	p.StartDate = parseTimePtr(start)
	p.EndDate = parseTimePtr(end)
	p.CreatedAt = parseTime(createdAt.String)
	p.UpdatedAt = parseTime(updatedAt.String)
	return &p, nil
}

func (s *Store) ProjectListForUser(ctx context.Context, userID string) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT p.id, p.owner_user_id, p.name, p.description, p.start_date, p.end_date, p.status, p.created_at, p.updated_at, p.monthly_spend_cap_credits
		FROM projects p
		LEFT JOIN collaborators c ON c.project_id = p.id AND c.user_id = ?
		WHERE p.owner_user_id = ? OR c.user_id IS NOT NULL
		ORDER BY p.created_at DESC`), userID, userID)
	if err != nil {
		return nil, errs.Internalf("project_list", err)
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		var p types.Project
		var start, end, createdAt, updatedAt sql.NullString
		if err := rows.Scan(&p.ID, &p.OwnerUserID, &p.Name, &p.Description, &start, &end, &p.Status, &createdAt, &updatedAt, &p.MonthlySpendCapCredits); err != nil {
			return nil, errs.Internalf("project_list_scan", err)
		}
		p.StartDate = parseTimePtr(start)
		p.EndDate = parseTimePtr(end)
		p.CreatedAt = parseTime(createdAt.String)
		p.UpdatedAt = parseTime(updatedAt.String)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) ProjectMetadataGet(ctx context.Context, projectID string) (*types.ProjectMetadata, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT project_id, fields, updated_at FROM project_metadata WHERE project_id = ?`), projectID)
	var m types.ProjectMetadata
	var fields string
	var updatedAt string
	if err := row.Scan(&m.ProjectID, &fields, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return &types.ProjectMetadata{ProjectID: projectID, Fields: map[string]any{}}, nil
		}
		return nil, errs.Internalf("project_metadata_scan", err)
	}
	_ = json.Unmarshal([]byte(fields), &m.Fields)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}

func (s *Store) ProjectMetadataSet(ctx context.Context, m *types.ProjectMetadata) error {
	fields, err := json.Marshal(m.Fields)
	if err != nil {
		return errs.Wrap(errs.Validation, "bad_metadata", "metadata not serializable", err)
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO project_metadata (project_id, fields, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET fields = excluded.fields, updated_at = excluded.updated_at`),
		m.ProjectID, string(fields), fmtTime(now))
	return err
}

func (s *Store) CollaboratorAdd(ctx context.Context, c *types.Collaborator) error {
	c.InvitedAt = s.now()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO collaborators (project_id, user_id, role, inviter_id, invited_at, accepted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, user_id) DO UPDATE SET role = excluded.role`),
		c.ProjectID, c.UserID, c.Role, c.InviterID, fmtTime(c.InvitedAt), nullableTime(c.AcceptedAt))
	return err
}

func (s *Store) CollaboratorRole(ctx context.Context, projectID, userID string) (types.Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT role FROM collaborators WHERE project_id = ? AND user_id = ?`), projectID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", errs.NotFoundf("not_a_collaborator", "user is not a project collaborator")
	}
	if err != nil {
		return "", errs.Internalf("collaborator_role", err)
	}
	return types.Role(role), nil
}

func (s *Store) CollaboratorList(ctx context.Context, projectID string) ([]*types.Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT project_id, user_id, role, inviter_id, invited_at, accepted_at
		FROM collaborators WHERE project_id = ?`), projectID)
	if err != nil {
		return nil, errs.Internalf("collaborator_list", err)
	}
	defer rows.Close()

	var out []*types.Collaborator
	for rows.Next() {
		var c types.Collaborator
		var invitedAt string
		var acceptedAt sql.NullString
		if err := rows.Scan(&c.ProjectID, &c.UserID, &c.Role, &c.InviterID, &invitedAt, &acceptedAt); err != nil {
			return nil, errs.Internalf("collaborator_scan", err)
		}
		c.InvitedAt = parseTime(invitedAt)
		c.AcceptedAt = parseTimePtr(acceptedAt)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *Store) InvitationCreate(ctx context.Context, inv *types.Invitation) error {
	inv.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO invitations (id, project_id, email, role, token_hash, status, inviter_id, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		inv.ID, inv.ProjectID, inv.Email, inv.Role, inv.TokenHash, inv.Status, inv.InviterID, fmtTime(inv.ExpiresAt), fmtTime(inv.CreatedAt))
	return err
}

func (s *Store) InvitationGetByTokenHash(ctx context.Context, tokenHash string) (*types.Invitation, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, project_id, email, role, token_hash, status, inviter_id, expires_at, created_at
		FROM invitations WHERE token_hash = ?`), tokenHash)
	var inv types.Invitation
	var expiresAt, createdAt string
	err := row.Scan(&inv.ID, &inv.ProjectID, &inv.Email, &inv.Role, &inv.TokenHash, &inv.Status, &inv.InviterID, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("invitation_not_found", "invitation not found")
	}
	if err != nil {
		return nil, errs.Internalf("invitation_scan", err)
	}
	inv.ExpiresAt = parseTime(expiresAt)
	inv.CreatedAt = parseTime(createdAt)
	return &inv, nil
}

// AcceptInvitation marks the invitation accepted and creates the
// collaborator row in a single transaction, so a crash between the two
// steps never leaves a dangling accepted-but-not-a-member invitation.
func (s *Store) AcceptInvitation(ctx context.Context, invitationID, userID string) error {
	return s.TxDo(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var projectID, role, status string
		err := tx.QueryRowContext(ctx, s.q(`SELECT project_id, role, status FROM invitations WHERE id = ?`), invitationID).
			Scan(&projectID, &role, &status)
		if err == sql.ErrNoRows {
			return errs.NotFoundf("invitation_not_found", "invitation not found")
		}
		if err != nil {
			return errs.Internalf("invitation_accept_scan", err)
		}
		if status != string(types.InvitationPending) {
			return errs.Validationf("invitation_not_pending", "invitation is %s, not pending", status)
		}

		now := s.now()
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE invitations SET status = ? WHERE id = ?`), types.InvitationAccepted, invitationID); err != nil {
			return errs.Internalf("invitation_accept_update", err)
		}
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO collaborators (project_id, user_id, role, inviter_id, invited_at, accepted_at)
			VALUES (?, ?, ?, '', ?, ?)
			ON CONFLICT(project_id, user_id) DO UPDATE SET role = excluded.role, accepted_at = excluded.accepted_at`),
			projectID, userID, role, fmtTime(now), fmtTime(now))
		if err != nil {
			return errs.Internalf("invitation_accept_collaborator", err)
		}
		return nil
	})
}

func (s *Store) AccessRequestCreate(ctx context.Context, ar *types.AccessRequest) error {
	ar.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO access_requests (id, project_id, requester_id, requested_role, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		ar.ID, ar.ProjectID, ar.RequesterID, ar.RequestedRole, ar.Status, fmtTime(ar.CreatedAt))
	return err
}

// AccessRequestDecide approves or denies a pending request, and on approval
// creates the collaborator row atomically — mirrors AcceptInvitation.
func (s *Store) AccessRequestDecide(ctx context.Context, requestID, deciderID string, approve bool) error {
	return s.TxDo(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var projectID, requesterID, role, status string
		err := tx.QueryRowContext(ctx, s.q(`SELECT project_id, requester_id, requested_role, status FROM access_requests WHERE id = ?`), requestID).
			Scan(&projectID, &requesterID, &role, &status)
		if err == sql.ErrNoRows {
			return errs.NotFoundf("access_request_not_found", "access request not found")
		}
		if err != nil {
			return errs.Internalf("access_request_scan", err)
		}
		if status != string(types.AccessRequestPending) {
			return errs.Validationf("access_request_not_pending", "access request is %s, not pending", status)
		}

		now := s.now()
		newStatus := types.AccessRequestDenied
		if approve {
			newStatus = types.AccessRequestApproved
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE access_requests SET status = ?, decided_by = ?, decided_at = ? WHERE id = ?`),
			newStatus, deciderID, fmtTime(now), requestID); err != nil {
			return errs.Internalf("access_request_update", err)
		}
		if !approve {
			return nil
		}
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO collaborators (project_id, user_id, role, inviter_id, invited_at, accepted_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id, user_id) DO UPDATE SET role = excluded.role, accepted_at = excluded.accepted_at`),
			projectID, requesterID, role, deciderID, fmtTime(now), fmtTime(now))
		if err != nil {
			return errs.Internalf("access_request_collaborator", err)
		}
		return nil
	})
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}
