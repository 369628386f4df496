package boq_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/takeoffworks/estimator/pkg/boq"
	"github.com/takeoffworks/estimator/pkg/broker"
	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/types"
)

type fakeStore struct {
	projects      map[string]*types.Project
	collaborators map[string]types.Role // projectID+"|"+userID
	jobs          map[string]*types.Job
	items         map[string]*types.BoqItem
	priceLists    map[string]*types.PriceList
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:      map[string]*types.Project{},
		collaborators: map[string]types.Role{},
		jobs:          map[string]*types.Job{},
		items:         map[string]*types.BoqItem{},
		priceLists:    map[string]*types.PriceList{},
	}
}

func (s *fakeStore) ProjectGetByID(ctx context.Context, id string) (*types.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, errs.NotFoundf("project_not_found", "not found")
	}
	return p, nil
}

func (s *fakeStore) CollaboratorRole(ctx context.Context, projectID, userID string) (types.Role, error) {
	role, ok := s.collaborators[projectID+"|"+userID]
	if !ok {
		return "", errs.NotFoundf("not_collaborator", "not a collaborator")
	}
	return role, nil
}

func (s *fakeStore) BoqItemGetByID(ctx context.Context, id string) (*types.BoqItem, error) {
	it, ok := s.items[id]
	if !ok {
		return nil, errs.NotFoundf("boq_item_not_found", "not found")
	}
	cp := *it
	return &cp, nil
}

func (s *fakeStore) BoqItemsByJob(ctx context.Context, jobID string) ([]*types.BoqItem, error) {
	var out []*types.BoqItem
	for _, it := range s.items {
		if it.JobID == jobID {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) BoqItemUpdateIf(ctx context.Context, id string, expectedUpdatedAt string, actor string, mutate func(*types.BoqItem)) (*types.BoqItem, error) {
	it, ok := s.items[id]
	if !ok {
		return nil, errs.NotFoundf("boq_item_not_found", "not found")
	}
	actual := it.UpdatedAt.UTC().Format(time.RFC3339Nano)
	if !withinOneSecond(expectedUpdatedAt, actual) {
		return nil, errs.WithMeta(errs.Conflict, "stale_update_token", "stale token", map[string]any{
			"expected_updated_at": expectedUpdatedAt, "actual_updated_at": actual,
		})
	}
	before := *it
	mutate(it)
	it.Recompute()
	if before != *it {
		it.UpdatedAt = it.UpdatedAt.Add(time.Second)
	}
	cp := *it
	return &cp, nil
}

func withinOneSecond(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA != nil || errB != nil {
		return false
	}
	d := ta.Sub(tb)
	if d < 0 {
		d = -d
	}
	return d <= time.Second
}

func (s *fakeStore) JobGetByID(ctx context.Context, id string) (*types.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, errs.NotFoundf("job_not_found", "not found")
	}
	return j, nil
}

func (s *fakeStore) PriceListGetByID(ctx context.Context, id string) (*types.PriceList, error) {
	pl, ok := s.priceLists[id]
	if !ok {
		return nil, errs.NotFoundf("price_list_not_found", "not found")
	}
	return pl, nil
}

func seedProject(s *fakeStore, projectID, ownerID string) {
	s.projects[projectID] = &types.Project{ID: projectID, OwnerUserID: ownerID, Name: "Test"}
}

func TestUpdateOne_EditorCanPatch(t *testing.T) {
	s := newFakeStore()
	seedProject(s, "proj-1", "owner-1")
	s.collaborators["proj-1|editor-1"] = types.RoleEditor
	s.jobs["job-1"] = &types.Job{ID: "job-1", ProjectID: "proj-1"}
	now := time.Now()
	s.items["item-1"] = &types.BoqItem{ID: "item-1", JobID: "job-1", Description: "Footing", Unit: "m3", Qty: 4, UnitPrice: 100, UpdatedAt: now}

	e := boq.New(s, broker.NewMemoryBroker().WithHeartbeat(0))
	newQty := 5.0
	res, err := e.UpdateOne(context.Background(), "editor-1", boq.Patch{ItemID: "item-1", Qty: &newQty}, "editor-1", false)
	require.NoError(t, err)
	require.True(t, res.Modified)
	require.Equal(t, 5.0, res.Item.Qty)
}

func TestUpdateOne_ViewerForbidden(t *testing.T) {
	s := newFakeStore()
	seedProject(s, "proj-1", "owner-1")
	s.collaborators["proj-1|viewer-1"] = types.RoleViewer
	s.jobs["job-1"] = &types.Job{ID: "job-1", ProjectID: "proj-1"}
	s.items["item-1"] = &types.BoqItem{ID: "item-1", JobID: "job-1", Description: "Footing", Unit: "m3", Qty: 4, UpdatedAt: time.Now()}

	e := boq.New(s, nil)
	newQty := 5.0
	_, err := e.UpdateOne(context.Background(), "viewer-1", boq.Patch{ItemID: "item-1", Qty: &newQty}, "viewer-1", false)
	require.Error(t, err)
	require.Equal(t, errs.Forbidden, errs.KindOf(err))
}

func TestUpdateOne_NegativeQtyRejected(t *testing.T) {
	s := newFakeStore()
	seedProject(s, "proj-1", "owner-1")
	s.jobs["job-1"] = &types.Job{ID: "job-1", ProjectID: "proj-1"}
	s.items["item-1"] = &types.BoqItem{ID: "item-1", JobID: "job-1", Description: "Footing", Unit: "m3", Qty: 4, UpdatedAt: time.Now()}

	e := boq.New(s, nil)
	badQty := -1.0
	_, err := e.UpdateOne(context.Background(), "owner-1", boq.Patch{ItemID: "item-1", Qty: &badQty}, "owner-1", false)
	require.Error(t, err)
	require.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestUpdateOne_StaleTokenConflict(t *testing.T) {
	s := newFakeStore()
	seedProject(s, "proj-1", "owner-1")
	s.jobs["job-1"] = &types.Job{ID: "job-1", ProjectID: "proj-1"}
	s.items["item-1"] = &types.BoqItem{ID: "item-1", JobID: "job-1", Description: "Footing", Unit: "m3", Qty: 4, UpdatedAt: time.Now()}

	e := boq.New(s, nil)
	staleToken := time.Now().Add(-1 * time.Hour).UTC().Format(time.RFC3339Nano)
	newQty := 5.0
	_, err := e.UpdateOne(context.Background(), "owner-1", boq.Patch{ItemID: "item-1", Qty: &newQty, UpdatedAt: staleToken}, "owner-1", true)
	require.Error(t, err)
	require.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestUpdateOne_NoOpWhenUnchanged(t *testing.T) {
	s := newFakeStore()
	seedProject(s, "proj-1", "owner-1")
	s.jobs["job-1"] = &types.Job{ID: "job-1", ProjectID: "proj-1"}
	s.items["item-1"] = &types.BoqItem{ID: "item-1", JobID: "job-1", Description: "Footing", Unit: "m3", Qty: 4, UpdatedAt: time.Now()}

	e := boq.New(s, nil)
	sameQty := 4.0
	res, err := e.UpdateOne(context.Background(), "owner-1", boq.Patch{ItemID: "item-1", Qty: &sameQty}, "owner-1", false)
	require.NoError(t, err)
	require.False(t, res.Modified)
}

func TestUpdateMany_AggregatesSkipsAndUpdates(t *testing.T) {
	s := newFakeStore()
	seedProject(s, "proj-1", "owner-1")
	s.jobs["job-1"] = &types.Job{ID: "job-1", ProjectID: "proj-1"}
	s.items["item-1"] = &types.BoqItem{ID: "item-1", JobID: "job-1", Description: "Footing", Unit: "m3", Qty: 4, UpdatedAt: time.Now()}
	s.items["item-2"] = &types.BoqItem{ID: "item-2", JobID: "job-1", Description: "Slab", Unit: "m3", Qty: 8, UpdatedAt: time.Now()}

	e := boq.New(s, broker.NewMemoryBroker().WithHeartbeat(0))
	goodQty := 10.0
	badQty := -1.0
	summary, err := e.UpdateMany(context.Background(), "owner-1", []boq.Patch{
		{ItemID: "item-1", Qty: &goodQty},
		{ItemID: "item-2", Qty: &badQty},
	}, "owner-1")
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 1, summary.Updated)
	require.Len(t, summary.Skipped, 1)
	require.Equal(t, "item-2", summary.Skipped[0].ItemID)
}

func TestValidate_FlagsMissingFieldsAndMismatch(t *testing.T) {
	s := newFakeStore()
	seedProject(s, "proj-1", "owner-1")
	s.jobs["job-1"] = &types.Job{ID: "job-1", ProjectID: "proj-1"}
	s.items["item-1"] = &types.BoqItem{ID: "item-1", JobID: "job-1", Description: "", Unit: "m3", Qty: 4, UnitPrice: 100, TotalPrice: 999, UpdatedAt: time.Now()}

	e := boq.New(s, nil)
	problems, err := e.Validate(context.Background(), "owner-1", "job-1")
	require.NoError(t, err)
	require.True(t, len(problems) >= 2)
}

func TestValidate_DuplicateCodeIsWarning(t *testing.T) {
	s := newFakeStore()
	seedProject(s, "proj-1", "owner-1")
	s.jobs["job-1"] = &types.Job{ID: "job-1", ProjectID: "proj-1"}
	now := time.Now()
	s.items["item-1"] = &types.BoqItem{ID: "item-1", JobID: "job-1", Code: "03-300", Description: "Footing", Unit: "m3", Qty: 4, UnitPrice: 100, TotalPrice: 400, UpdatedAt: now}
	s.items["item-2"] = &types.BoqItem{ID: "item-2", JobID: "job-1", Code: "03-300", Description: "Footing 2", Unit: "m3", Qty: 2, UnitPrice: 100, TotalPrice: 200, UpdatedAt: now}

	e := boq.New(s, nil)
	problems, err := e.Validate(context.Background(), "owner-1", "job-1")
	require.NoError(t, err)

	var found bool
	for _, p := range problems {
		if p.Kind == "duplicate_code" {
			found = true
			require.True(t, p.Warning)
		}
	}
	require.True(t, found)
}
