package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/store"
	"github.com/takeoffworks/estimator/pkg/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *store.Store, credits int64) *types.User {
	t.Helper()
	u := &types.User{ID: uuid.NewString(), Email: uuid.NewString() + "@example.com", PasswordHash: "x", SystemRole: types.SystemRoleUser, CreditsBalance: credits}
	require.NoError(t, s.UserCreate(context.Background(), u))
	return u
}

func TestCreditsDebit_SufficientBalance(t *testing.T) {
	s := newTestStore(t)
	u := seedUser(t, s, 1000)

	err := s.CreditsDebit(context.Background(), u.ID, 400)
	require.NoError(t, err)

	got, err := s.UserGetByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(600), got.CreditsBalance)
}

func TestCreditsDebit_InsufficientBalance(t *testing.T) {
	s := newTestStore(t)
	u := seedUser(t, s, 100)

	err := s.CreditsDebit(context.Background(), u.ID, 400)
	require.Error(t, err)
	require.Equal(t, errs.PaymentRequired, errs.KindOf(err))

	got, err := s.UserGetByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(100), got.CreditsBalance, "balance must be untouched on a failed debit")
}

func TestCreditsDebit_SequentialRace(t *testing.T) {
	// Two debits of 600 against a balance of 1000: only one can succeed.
	// The conditional UPDATE ... WHERE balance >= amount is what the spec's
	// S1 scenario tests for — this exercises the same guard sequentially.
	s := newTestStore(t)
	u := seedUser(t, s, 1000)

	err1 := s.CreditsDebit(context.Background(), u.ID, 600)
	err2 := s.CreditsDebit(context.Background(), u.ID, 600)

	succeeded := 0
	if err1 == nil {
		succeeded++
	}
	if err2 == nil {
		succeeded++
	}
	require.Equal(t, 1, succeeded, "exactly one of two competing debits should succeed")

	got, err := s.UserGetByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(400), got.CreditsBalance)
}

func TestCreditsCredit_Refund(t *testing.T) {
	s := newTestStore(t)
	u := seedUser(t, s, 0)

	require.NoError(t, s.CreditsCredit(context.Background(), u.ID, 400))
	got, err := s.UserGetByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(400), got.CreditsBalance)
}

func seedJobWithItem(t *testing.T, s *store.Store) (*types.Job, *types.BoqItem) {
	t.Helper()
	ctx := context.Background()
	u := seedUser(t, s, 1000)
	p := &types.Project{ID: uuid.NewString(), OwnerUserID: u.ID, Name: "test", Status: types.ProjectActive}
	require.NoError(t, s.ProjectCreate(ctx, p))
	f := &types.File{ID: uuid.NewString(), ProjectID: p.ID, UploaderID: u.ID, Filename: "a.ifc", Type: types.FileIFC, Size: 10, Checksum: "x"}
	require.NoError(t, s.FileCreate(ctx, f))
	j := &types.Job{ID: uuid.NewString(), ProjectID: p.ID, UserID: u.ID, FileID: f.ID, Status: types.JobQueued}
	require.NoError(t, s.JobCreate(ctx, j))

	item := &types.BoqItem{ID: uuid.NewString(), JobID: j.ID, Code: "01.01", Description: "concrete", Unit: "m3", Qty: 10, UnitPrice: 5}
	require.NoError(t, s.BoqItemCreate(ctx, item))
	return j, item
}

func TestBoqItemUpdateIf_SuccessWritesRevision(t *testing.T) {
	s := newTestStore(t)
	_, item := seedJobWithItem(t, s)
	ctx := context.Background()

	token := item.UpdatedAt.UTC().Format(time.RFC3339Nano)
	updated, err := s.BoqItemUpdateIf(ctx, item.ID, token, "user-1", func(b *types.BoqItem) {
		b.Qty = 20
	})
	require.NoError(t, err)
	require.Equal(t, 20.0, updated.Qty)
	require.Equal(t, 100.0, updated.TotalPrice) // 20 * 5 + 0 allowance

	revs, err := s.RevisionsByBoqItem(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	require.Contains(t, revs[0].Changes, "qty")
}

func TestBoqItemUpdateIf_StaleTokenConflicts(t *testing.T) {
	s := newTestStore(t)
	_, item := seedJobWithItem(t, s)
	ctx := context.Background()

	staleToken := "2000-01-01T00:00:00Z"
	_, err := s.BoqItemUpdateIf(ctx, item.ID, staleToken, "user-1", func(b *types.BoqItem) {
		b.Qty = 99
	})
	require.Error(t, err)
	require.Equal(t, errs.Conflict, errs.KindOf(err))

	unchanged, err := s.BoqItemGetByID(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 10.0, unchanged.Qty)
}

func TestJobEventAppend_OrderedBySequence(t *testing.T) {
	s := newTestStore(t)
	j, _ := seedJobWithItem(t, s)
	ctx := context.Background()

	for _, stage := range []string{"queued", "validating", "parsing", "takeoff"} {
		require.NoError(t, s.JobEventAppend(ctx, &types.JobEvent{ID: uuid.NewString(), JobID: j.ID, Stage: stage}))
	}

	events, err := s.JobEventsSince(ctx, j.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.Equal(t, []string{"queued", "validating", "parsing", "takeoff"},
		[]string{events[0].Stage, events[1].Stage, events[2].Stage, events[3].Stage})

	// Historical replay from a cursor must pick up only newer events — the
	// no-gap handoff a live SSE stream relies on.
	tail, err := s.JobEventsSince(ctx, j.ID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
}

func TestAcceptInvitation_CreatesCollaborator(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := seedUser(t, s, 0)
	invitee := seedUser(t, s, 0)
	p := &types.Project{ID: uuid.NewString(), OwnerUserID: owner.ID, Name: "p", Status: types.ProjectActive}
	require.NoError(t, s.ProjectCreate(ctx, p))

	inv := &types.Invitation{ID: uuid.NewString(), ProjectID: p.ID, Email: invitee.Email, Role: types.RoleEditor,
		TokenHash: "hash", Status: types.InvitationPending, InviterID: owner.ID, ExpiresAt: time.Now().Add(24 * time.Hour)}
	require.NoError(t, s.InvitationCreate(ctx, inv))

	require.NoError(t, s.AcceptInvitation(ctx, inv.ID, invitee.ID))

	role, err := s.CollaboratorRole(ctx, p.ID, invitee.ID)
	require.NoError(t, err)
	require.Equal(t, types.RoleEditor, role)
}
