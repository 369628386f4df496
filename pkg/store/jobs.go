package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/types"
)

func (s *Store) JobCreate(ctx context.Context, j *types.Job) error {
	j.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO jobs (id, project_id, user_id, file_id, status, progress, error_code, price_list_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		j.ID, j.ProjectID, j.UserID, j.FileID, j.Status, j.Progress, j.ErrorCode, j.PriceListID, fmtTime(j.CreatedAt))
	return err
}

func (s *Store) JobGetByID(ctx context.Context, id string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, project_id, user_id, file_id, status, progress, error_code, price_list_id, created_at, started_at, finished_at
		FROM jobs WHERE id = ?`), id)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*types.Job, error) {
	var j types.Job
	var createdAt string
	var startedAt, finishedAt sql.NullString
	err := row.Scan(&j.ID, &j.ProjectID, &j.UserID, &j.FileID, &j.Status, &j.Progress, &j.ErrorCode, &j.PriceListID, &createdAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("job_not_found", "job not found")
	}
	if err != nil {
		return nil, errs.Internalf("job_scan", err)
	}
	j.CreatedAt = parseTime(createdAt)
	j.StartedAt = parseTimePtr(startedAt)
	j.FinishedAt = parseTimePtr(finishedAt)
	return &j, nil
}

// JobsListForProject returns a project's jobs newest-first, for the
// per-project job listing endpoint.
func (s *Store) JobsListForProject(ctx context.Context, projectID string) ([]*types.Job, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, project_id, user_id, file_id, status, progress, error_code, price_list_id, created_at, started_at, finished_at
		FROM jobs WHERE project_id = ? ORDER BY created_at DESC`), projectID)
	if err != nil {
		return nil, errs.Internalf("jobs_list", err)
	}
	defer rows.Close()

	var out []*types.Job
	for rows.Next() {
		var j types.Job
		var createdAt string
		var startedAt, finishedAt sql.NullString
		if err := rows.Scan(&j.ID, &j.ProjectID, &j.UserID, &j.FileID, &j.Status, &j.Progress, &j.ErrorCode, &j.PriceListID, &createdAt, &startedAt, &finishedAt); err != nil {
			return nil, errs.Internalf("jobs_list_scan", err)
		}
		j.CreatedAt = parseTime(createdAt)
		j.StartedAt = parseTimePtr(startedAt)
		j.FinishedAt = parseTimePtr(finishedAt)
		out = append(out, &j)
	}
	return out, rows.Err()
}

// JobUpdateStatus is a one-way state transition: callers own invariant
// enforcement (queued→running→{completed,failed,canceled}), this just
// persists the new status and stamps started_at/finished_at as needed.
func (s *Store) JobUpdateStatus(ctx context.Context, jobID string, status types.JobStatus, errorCode string) error {
	now := fmtTime(s.now())
	switch status {
	case types.JobRunning:
		_, err := s.db.ExecContext(ctx, s.q(`UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`), status, now, jobID)
		return err
	case types.JobCompleted, types.JobFailed, types.JobCanceled:
		_, err := s.db.ExecContext(ctx, s.q(`UPDATE jobs SET status = ?, error_code = ?, finished_at = ? WHERE id = ?`),
			status, errorCode, now, jobID)
		return err
	default:
		_, err := s.db.ExecContext(ctx, s.q(`UPDATE jobs SET status = ? WHERE id = ?`), status, jobID)
		return err
	}
}

func (s *Store) JobSetProgress(ctx context.Context, jobID string, progress int) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE jobs SET progress = ? WHERE id = ?`), progress, jobID)
	return err
}

func (s *Store) JobSetPriceListID(ctx context.Context, jobID, priceListID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE jobs SET price_list_id = ? WHERE id = ?`), priceListID, jobID)
	return err
}

// JobEventAppend appends a staged progress event for a job, assigning the
// next monotonic sequence number for that job. Grounded on
// interfaces.EventRepository.Append/ReadFrom: append-only, globally ordered
// per job, the SSE layer replays from a sequence number with no gap.
func (s *Store) JobEventAppend(ctx context.Context, ev *types.JobEvent) error {
	ev.Timestamp = s.now()
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return errs.Wrap(errs.Validation, "bad_event_details", "event details not serializable", err)
	}

	return s.TxDo(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var next int64
		err := tx.QueryRowContext(ctx, s.q(`SELECT next_seq FROM job_event_seq WHERE job_id = ?`), ev.JobID).Scan(&next)
		if err == sql.ErrNoRows {
			next = 1
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO job_event_seq (job_id, next_seq) VALUES (?, ?)`), ev.JobID, next+1); err != nil {
				return errs.Internalf("job_event_seq_insert", err)
			}
		} else if err != nil {
			return errs.Internalf("job_event_seq_select", err)
		} else {
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE job_event_seq SET next_seq = ? WHERE job_id = ?`), next+1, ev.JobID); err != nil {
				return errs.Internalf("job_event_seq_update", err)
			}
		}

		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO job_events (id, job_id, seq, timestamp, stage, message, details)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			ev.ID, ev.JobID, next, fmtTime(ev.Timestamp), ev.Stage, ev.Message, string(details))
		if err != nil {
			return errs.Internalf("job_event_insert", err)
		}
		return nil
	})
}

// JobEventsSince returns every event for jobID with seq > afterSeq, in
// order. Called with afterSeq=0 for full historical replay before an SSE
// stream switches to live broker events — the handoff invariant from the
// spec's slow-client scenario.
func (s *Store) JobEventsSince(ctx context.Context, jobID string, afterSeq int64) ([]*types.JobEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, job_id, seq, timestamp, stage, message, details
		FROM job_events WHERE job_id = ? AND seq > ? ORDER BY seq ASC`), jobID, afterSeq)
	if err != nil {
		return nil, errs.Internalf("job_events_since", err)
	}
	defer rows.Close()

	var out []*types.JobEvent
	for rows.Next() {
		var ev types.JobEvent
		var seq int64
		var ts, details string
		if err := rows.Scan(&ev.ID, &ev.JobID, &seq, &ts, &ev.Stage, &ev.Message, &details); err != nil {
			return nil, errs.Internalf("job_events_scan", err)
		}
		ev.Timestamp = parseTime(ts)
		_ = json.Unmarshal([]byte(details), &ev.Details)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// JobOutboxSchedule enqueues jobID for background processing.
// Grounded on PostgresEffectOutboxStore.Schedule: INSERT ... ON CONFLICT DO
// NOTHING so a duplicate submission call is a no-op, not a double-run.
func (s *Store) JobOutboxSchedule(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO job_outbox (job_id, scheduled_at, status) VALUES (?, ?, 'pending')
		ON CONFLICT(job_id) DO NOTHING`), jobID, fmtTime(s.now()))
	return err
}

func (s *Store) JobOutboxPending(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT job_id FROM job_outbox WHERE status = 'pending' ORDER BY scheduled_at ASC`))
	if err != nil {
		return nil, errs.Internalf("job_outbox_pending", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Internalf("job_outbox_scan", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) JobOutboxMarkDone(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE job_outbox SET status = 'done' WHERE job_id = ?`), jobID)
	return err
}
