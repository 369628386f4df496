package store

import (
	"context"
	"database/sql"

	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/types"
)

// ArtifactCreate records an exported file's location and content metadata
// against the job it was rendered from.
func (s *Store) ArtifactCreate(ctx context.Context, a *types.Artifact) error {
	a.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO artifacts (id, job_id, kind, path, size, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.JobID, a.Kind, a.Path, a.Size, a.Checksum, fmtTime(a.CreatedAt))
	if err != nil {
		return errs.Internalf("artifact_insert", err)
	}
	return nil
}

func (s *Store) ArtifactGetByID(ctx context.Context, id string) (*types.Artifact, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, job_id, kind, path, size, checksum, created_at FROM artifacts WHERE id = ?`), id)
	var a types.Artifact
	var createdAt string
	err := row.Scan(&a.ID, &a.JobID, &a.Kind, &a.Path, &a.Size, &a.Checksum, &createdAt)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("artifact_not_found", "artifact not found")
	}
	if err != nil {
		return nil, errs.Internalf("artifact_scan", err)
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// ArtifactsByJob lists every artifact rendered from jobID, most recent first.
func (s *Store) ArtifactsByJob(ctx context.Context, jobID string) ([]*types.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, job_id, kind, path, size, checksum, created_at FROM artifacts
		WHERE job_id = ? ORDER BY created_at DESC`), jobID)
	if err != nil {
		return nil, errs.Internalf("artifacts_by_job", err)
	}
	defer rows.Close()

	var out []*types.Artifact
	for rows.Next() {
		var a types.Artifact
		var createdAt string
		if err := rows.Scan(&a.ID, &a.JobID, &a.Kind, &a.Path, &a.Size, &a.Checksum, &createdAt); err != nil {
			return nil, errs.Internalf("artifacts_scan", err)
		}
		a.CreatedAt = parseTime(createdAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}
