package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/types"
)

func (s *Store) NotificationCreate(ctx context.Context, n *types.Notification) error {
	n.CreatedAt = s.now()
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return errs.Wrap(errs.Validation, "bad_payload", "notification payload not serializable", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO notifications (id, project_id, user_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		n.ID, n.ProjectID, n.UserID, n.Kind, string(payload), fmtTime(n.CreatedAt))
	return err
}

func (s *Store) NotificationsForUser(ctx context.Context, userID string, unreadOnly bool) ([]*types.Notification, error) {
	query := `SELECT id, project_id, user_id, kind, payload, read_at, created_at FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, s.q(query), userID)
	if err != nil {
		return nil, errs.Internalf("notifications_list", err)
	}
	defer rows.Close()

	var out []*types.Notification
	for rows.Next() {
		var n types.Notification
		var payload, createdAt string
		var readAt sql.NullString
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.UserID, &n.Kind, &payload, &readAt, &createdAt); err != nil {
			return nil, errs.Internalf("notifications_scan", err)
		}
		_ = json.Unmarshal([]byte(payload), &n.Payload)
		n.CreatedAt = parseTime(createdAt)
		n.ReadAt = parseTimePtr(readAt)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *Store) NotificationMarkRead(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE notifications SET read_at = ? WHERE id = ?`), fmtTime(s.now()), id)
	return err
}

func (s *Store) ActivityAppend(ctx context.Context, a *types.Activity) error {
	a.CreatedAt = s.now()
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return errs.Wrap(errs.Validation, "bad_payload", "activity payload not serializable", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO activities (id, project_id, actor_id, verb, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		a.ID, a.ProjectID, a.ActorID, a.Verb, string(payload), fmtTime(a.CreatedAt))
	return err
}

func (s *Store) ActivitiesByProject(ctx context.Context, projectID string, limit int) ([]*types.Activity, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, project_id, actor_id, verb, payload, created_at FROM activities
		WHERE project_id = ? ORDER BY created_at DESC LIMIT ?`), projectID, limit)
	if err != nil {
		return nil, errs.Internalf("activities_list", err)
	}
	defer rows.Close()

	var out []*types.Activity
	for rows.Next() {
		var a types.Activity
		var payload, createdAt string
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.ActorID, &a.Verb, &payload, &createdAt); err != nil {
			return nil, errs.Internalf("activities_scan", err)
		}
		_ = json.Unmarshal([]byte(payload), &a.Payload)
		a.CreatedAt = parseTime(createdAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) CommentCreate(ctx context.Context, c *types.Comment) error {
	c.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO comments (id, project_id, author_id, body, created_at) VALUES (?, ?, ?, ?, ?)`),
		c.ID, c.ProjectID, c.AuthorID, c.Body, fmtTime(c.CreatedAt))
	return err
}

func (s *Store) CommentsByProject(ctx context.Context, projectID string) ([]*types.Comment, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, project_id, author_id, body, created_at FROM comments WHERE project_id = ? ORDER BY created_at ASC`), projectID)
	if err != nil {
		return nil, errs.Internalf("comments_list", err)
	}
	defer rows.Close()

	var out []*types.Comment
	for rows.Next() {
		var c types.Comment
		var createdAt string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.AuthorID, &c.Body, &createdAt); err != nil {
			return nil, errs.Internalf("comments_scan", err)
		}
		c.CreatedAt = parseTime(createdAt)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *Store) UserIntegrationCreate(ctx context.Context, ui *types.UserIntegration) error {
	ui.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO user_integrations (id, user_id, provider, external_account_id, token_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		ui.ID, ui.UserID, ui.Provider, ui.ExternalAccountID, ui.TokenRef, fmtTime(ui.CreatedAt))
	return err
}

func (s *Store) UserIntegrationsByUser(ctx context.Context, userID string) ([]*types.UserIntegration, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, user_id, provider, external_account_id, token_ref, created_at FROM user_integrations WHERE user_id = ?`), userID)
	if err != nil {
		return nil, errs.Internalf("user_integrations_list", err)
	}
	defer rows.Close()

	var out []*types.UserIntegration
	for rows.Next() {
		var ui types.UserIntegration
		var createdAt string
		if err := rows.Scan(&ui.ID, &ui.UserID, &ui.Provider, &ui.ExternalAccountID, &ui.TokenRef, &createdAt); err != nil {
			return nil, errs.Internalf("user_integrations_scan", err)
		}
		ui.CreatedAt = parseTime(createdAt)
		out = append(out, &ui)
	}
	return out, rows.Err()
}
