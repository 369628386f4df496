package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/types"
)

func (s *Store) UserCreate(ctx context.Context, u *types.User) error {
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (id, email, password_hash, system_role, email_verified, credits_balance, full_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.Email, u.PasswordHash, u.SystemRole, boolToInt(u.EmailVerified), u.CreditsBalance, u.FullName, fmtTime(now), fmtTime(now))
	return err
}

func (s *Store) UserGetByID(ctx context.Context, id string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, email, password_hash, system_role, email_verified, credits_balance, full_name, last_verify_sent_at, created_at, updated_at
		FROM users WHERE id = ?`), id)
	return scanUser(row)
}

func (s *Store) UserGetByEmail(ctx context.Context, email string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, email, password_hash, system_role, email_verified, credits_balance, full_name, last_verify_sent_at, created_at, updated_at
		FROM users WHERE email = ?`), email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*types.User, error) {
	var u types.User
	var emailVerified int
	var lastVerify, createdAt, updatedAt sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.SystemRole, &emailVerified, &u.CreditsBalance, &u.FullName, &lastVerify, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("user_not_found", "user not found")
	}
	if err != nil {
		return nil, errs.Internalf("user_scan", err)
	}
	u.EmailVerified = emailVerified != 0
	u.CreatedAt = parseTime(createdAt.String)
	u.UpdatedAt = parseTime(updatedAt.String)
	if lastVerify.Valid && lastVerify.String != "" {
		t := parseTime(lastVerify.String)
		u.LastVerifySentAt = &t
	}
	return &u, nil
}

// MarkVerificationSent stamps LastVerifySentAt to now with a single UPDATE;
// it does not share a transaction with the caller's cooldown check.
// Per the resolved Open Question, this fires on attempt, not confirmed
// delivery, so a failed send still engages the cooldown.
func (s *Store) MarkVerificationSent(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET last_verify_sent_at = ?, updated_at = ? WHERE id = ?`),
		fmtTime(s.now()), fmtTime(s.now()), userID)
	return err
}

func (s *Store) MarkEmailVerified(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET email_verified = 1, updated_at = ? WHERE id = ?`),
		fmtTime(s.now()), userID)
	return err
}

// CreditsDebit atomically debits amount from the user's balance, only if
// the balance can cover it. The WHERE-clause guard is the entire
// concurrency story: two simultaneous debits against a low balance cannot
// both succeed, because the second UPDATE's WHERE balance >= amount no
// longer matches once the first has committed. Returns errs.PaymentRequired
// if the balance is insufficient.
func (s *Store) CreditsDebit(ctx context.Context, userID string, amount int64) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE users SET credits_balance = credits_balance - ?, updated_at = ?
		WHERE id = ? AND credits_balance >= ?`),
		amount, fmtTime(s.now()), userID, amount)
	if err != nil {
		return errs.Internalf("credits_debit", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Internalf("credits_debit_rows", err)
	}
	if n == 0 {
		return errs.New(errs.PaymentRequired, "insufficient_credits", "insufficient credits")
	}
	return nil
}

// CreditsCredit adds amount to the user's balance. It is additive and not
// idempotent at the storage layer: callers (refund paths)
// are responsible for not calling it twice for the same event, but a
// duplicate call is merely an over-refund, never a corruption — there is
// no WHERE guard to violate.
func (s *Store) CreditsCredit(ctx context.Context, userID string, amount int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE users SET credits_balance = credits_balance + ?, updated_at = ?
		WHERE id = ?`), amount, fmtTime(s.now()), userID)
	return err
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

func parseTimePtr(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	t := parseTime(value.String)
	return &t
}
