package store

import (
	"context"
	"database/sql"

	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/types"
)

func (s *Store) FileCreate(ctx context.Context, f *types.File) error {
	f.UploadedAt = s.now()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO files (id, project_id, uploader_id, filename, type, size, checksum, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		f.ID, f.ProjectID, f.UploaderID, f.Filename, f.Type, f.Size, f.Checksum, fmtTime(f.UploadedAt))
	return err
}

func (s *Store) FileGetByID(ctx context.Context, id string) (*types.File, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, project_id, uploader_id, filename, type, size, checksum, uploaded_at
		FROM files WHERE id = ?`), id)
	var f types.File
	var uploadedAt string
	err := row.Scan(&f.ID, &f.ProjectID, &f.UploaderID, &f.Filename, &f.Type, &f.Size, &f.Checksum, &uploadedAt)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("file_not_found", "file not found")
	}
	if err != nil {
		return nil, errs.Internalf("file_scan", err)
	}
	f.UploadedAt = parseTime(uploadedAt)
	return &f, nil
}

// FileSetContent stamps a file row with the size and checksum of the bytes
// actually received at the presigned upload endpoint. The row is created by
// FileCreate with size 0 and an empty checksum — there is nothing to
// checksum until the client PUTs the content — so this is the second half
// of a two-step upload, not a general-purpose update.
func (s *Store) FileSetContent(ctx context.Context, id string, size int64, checksum string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE files SET size = ?, checksum = ? WHERE id = ?`), size, checksum, id)
	if err != nil {
		return errs.Internalf("file_set_content", err)
	}
	return nil
}
