package jobengine_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/takeoffworks/estimator/pkg/broker"
	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/extractor"
	"github.com/takeoffworks/estimator/pkg/jobengine"
	"github.com/takeoffworks/estimator/pkg/observability"
	"github.com/takeoffworks/estimator/pkg/types"
)

// fakeStore is an in-memory jobengine.Store double, avoiding a database
// in tests that only exercise the engine's own control flow.
type fakeStore struct {
	mu sync.Mutex

	files    map[string]*types.File
	jobs     map[string]*types.Job
	events   []*types.JobEvent
	boqItems map[string]*types.BoqItem
	balances map[string]int64

	suppliers    map[string][]*types.Supplier
	supplierPx   map[string]map[string]*types.SupplierPriceItem
	priceLists   map[string]*types.PriceList
	priceItems   map[string]map[string]*types.PriceItem
	adminListID  string
	outboxPending map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		files:         map[string]*types.File{},
		jobs:          map[string]*types.Job{},
		boqItems:      map[string]*types.BoqItem{},
		balances:      map[string]int64{},
		suppliers:     map[string][]*types.Supplier{},
		supplierPx:    map[string]map[string]*types.SupplierPriceItem{},
		priceLists:    map[string]*types.PriceList{},
		priceItems:    map[string]map[string]*types.PriceItem{},
		outboxPending: map[string]bool{},
	}
}

func (s *fakeStore) FileGetByID(ctx context.Context, id string) (*types.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, errs.NotFoundf("file_not_found", "file not found")
	}
	return f, nil
}

func (s *fakeStore) JobCreate(ctx context.Context, j *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *fakeStore) JobGetByID(ctx context.Context, id string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, errs.NotFoundf("job_not_found", "job not found")
	}
	cp := *j
	return &cp, nil
}

func (s *fakeStore) JobUpdateStatus(ctx context.Context, jobID string, status types.JobStatus, errorCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return errs.NotFoundf("job_not_found", "job not found")
	}
	j.Status = status
	j.ErrorCode = errorCode
	now := time.Now()
	if status == types.JobRunning {
		j.StartedAt = &now
	}
	if status.Terminal() {
		j.FinishedAt = &now
	}
	return nil
}

func (s *fakeStore) JobSetProgress(ctx context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return errs.NotFoundf("job_not_found", "job not found")
	}
	j.Progress = progress
	return nil
}

func (s *fakeStore) JobEventAppend(ctx context.Context, ev *types.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeStore) JobOutboxSchedule(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outboxPending[jobID] = true
	return nil
}

func (s *fakeStore) JobOutboxPending(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, pending := range s.outboxPending {
		if pending {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *fakeStore) JobOutboxMarkDone(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outboxPending[jobID] = false
	return nil
}

func (s *fakeStore) BoqItemsCreateBatch(ctx context.Context, items []*types.BoqItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		it.Recompute()
		cp := *it
		s.boqItems[it.ID] = &cp
	}
	return nil
}

func (s *fakeStore) BoqItemsByJob(ctx context.Context, jobID string) ([]*types.BoqItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.BoqItem
	for _, it := range s.boqItems {
		if it.JobID == jobID {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) BoqItemUpdateIf(ctx context.Context, id string, expectedUpdatedAt string, actor string, mutate func(*types.BoqItem)) (*types.BoqItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.boqItems[id]
	if !ok {
		return nil, errs.NotFoundf("boq_item_not_found", "not found")
	}
	mutate(it)
	it.Recompute()
	return it, nil
}

func (s *fakeStore) CreditsDebit(ctx context.Context, userID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[userID] < amount {
		return errs.New(errs.PaymentRequired, "insufficient_credits", "insufficient credits")
	}
	s.balances[userID] -= amount
	return nil
}

func (s *fakeStore) CreditsCredit(ctx context.Context, userID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] += amount
	return nil
}

func (s *fakeStore) SuppliersByProject(ctx context.Context, projectID string) ([]*types.Supplier, error) {
	return s.suppliers[projectID], nil
}

func (s *fakeStore) SupplierPriceItemByCode(ctx context.Context, supplierID, code string) (*types.SupplierPriceItem, error) {
	m := s.supplierPx[supplierID]
	if m == nil {
		return nil, errs.NotFoundf("price_code_unresolved", "no price")
	}
	item, ok := m[code]
	if !ok {
		return nil, errs.NotFoundf("price_code_unresolved", "no price")
	}
	return item, nil
}

func (s *fakeStore) PriceListGetByID(ctx context.Context, id string) (*types.PriceList, error) {
	pl, ok := s.priceLists[id]
	if !ok {
		return nil, errs.NotFoundf("price_list_not_found", "not found")
	}
	return pl, nil
}

func (s *fakeStore) PriceListActiveAdmin(ctx context.Context) (*types.PriceList, error) {
	if s.adminListID == "" {
		return nil, errs.NotFoundf("price_list_not_found", "no active admin price list")
	}
	return s.priceLists[s.adminListID], nil
}

func (s *fakeStore) PriceItemByCode(ctx context.Context, priceListID, code string) (*types.PriceItem, error) {
	m := s.priceItems[priceListID]
	if m == nil {
		return nil, errs.NotFoundf("price_code_unresolved", "no price")
	}
	item, ok := m[code]
	if !ok {
		return nil, errs.NotFoundf("price_code_unresolved", "no price")
	}
	return item, nil
}

type fakeBlobStore struct{ blobs map[string][]byte }

func (b *fakeBlobStore) Get(ctx context.Context, hash string) ([]byte, error) {
	data, ok := b.blobs[hash]
	if !ok {
		return nil, errs.NotFoundf("blob_not_found", "blob not found")
	}
	return data, nil
}

func testEngine(t *testing.T, store *fakeStore, blobs *fakeBlobStore) *jobengine.Engine {
	t.Helper()
	obs, err := observability.New(context.Background(), observability.DefaultConfig())
	require.NoError(t, err)
	return jobengine.New(store, blobs, broker.NewMemoryBroker().WithHeartbeat(0), extractor.NewBuiltinRegistry(), obs, 400)
}

func TestCreateJob_DebitsAndSchedules(t *testing.T) {
	store := newFakeStore()
	store.files["file-1"] = &types.File{ID: "file-1", ProjectID: "proj-1", UploaderID: "user-1", Type: types.FileIFC}
	store.balances["user-1"] = 1000

	e := testEngine(t, store, &fakeBlobStore{blobs: map[string][]byte{}})

	job, err := e.CreateJob(context.Background(), "user-1", "file-1", "")
	require.NoError(t, err)
	require.Equal(t, types.JobQueued, job.Status)
	require.Equal(t, int64(600), store.balances["user-1"])

	pending, err := store.JobOutboxPending(context.Background())
	require.NoError(t, err)
	require.Contains(t, pending, job.ID)
}

func TestCreateJob_InsufficientCredits(t *testing.T) {
	store := newFakeStore()
	store.files["file-1"] = &types.File{ID: "file-1", ProjectID: "proj-1", UploaderID: "user-1", Type: types.FileIFC}
	store.balances["user-1"] = 100

	e := testEngine(t, store, &fakeBlobStore{blobs: map[string][]byte{}})

	_, err := e.CreateJob(context.Background(), "user-1", "file-1", "")
	require.Error(t, err)
	require.Equal(t, errs.PaymentRequired, errs.KindOf(err))
	require.Equal(t, int64(100), store.balances["user-1"], "balance must be unchanged on rejected debit")
}

func TestCreateJob_NotFileOwner(t *testing.T) {
	store := newFakeStore()
	store.files["file-1"] = &types.File{ID: "file-1", ProjectID: "proj-1", UploaderID: "someone-else", Type: types.FileIFC}
	store.balances["user-1"] = 1000

	e := testEngine(t, store, &fakeBlobStore{blobs: map[string][]byte{}})

	_, err := e.CreateJob(context.Background(), "user-1", "file-1", "")
	require.Error(t, err)
	require.Equal(t, errs.Forbidden, errs.KindOf(err))
	require.Equal(t, int64(1000), store.balances["user-1"], "credits must not be debited when authorization fails")
}

func ifcFixture(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.json")
	body := `{
		"schema":"IFC4","length_unit":"METRE",
		"bounding_box":[[0,0,0],[10,10,10]],
		"global_ids":["g1","g2"],
		"rows":[{"code":"03-300","description":"Footing concrete","unit":"m3","qty":4.521,"source_ref":"g1"}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestProcess_HappyPath(t *testing.T) {
	store := newFakeStore()
	fileBytes := ifcFixture(t)
	store.files["file-1"] = &types.File{ID: "file-1", ProjectID: "proj-1", UploaderID: "user-1", Type: types.FileIFC, Checksum: "abc"}
	store.balances["user-1"] = 1000

	blobs := &fakeBlobStore{blobs: map[string][]byte{"abc": fileBytes}}
	e := testEngine(t, store, blobs)

	job, err := e.CreateJob(context.Background(), "user-1", "file-1", "")
	require.NoError(t, err)

	e.Process(context.Background(), job.ID)

	got, err := store.JobGetByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, got.Status)
	require.Equal(t, 100, got.Progress)
	require.NotNil(t, got.FinishedAt)

	items, err := store.BoqItemsByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "03-300", items[0].Code)
	require.Equal(t, 4.521, items[0].Qty)
}

func TestProcess_ValidationFailureRefundsCredits(t *testing.T) {
	store := newFakeStore()
	store.files["file-1"] = &types.File{ID: "file-1", ProjectID: "proj-1", UploaderID: "user-1", Type: types.FilePDF, Checksum: "bad"}
	store.balances["user-1"] = 1000

	blobs := &fakeBlobStore{blobs: map[string][]byte{"bad": []byte("not a pdf")}}
	e := testEngine(t, store, blobs)

	job, err := e.CreateJob(context.Background(), "user-1", "file-1", "")
	require.NoError(t, err)
	require.Equal(t, int64(600), store.balances["user-1"])

	e.Process(context.Background(), job.ID)

	got, err := store.JobGetByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobFailed, got.Status)
	require.Equal(t, "validation_error", got.ErrorCode)
	require.Equal(t, int64(1000), store.balances["user-1"], "credits must be refunded on validation failure")
}

func TestProcess_MissingJobIsSilentNoOp(t *testing.T) {
	store := newFakeStore()
	e := testEngine(t, store, &fakeBlobStore{blobs: map[string][]byte{}})
	require.NotPanics(t, func() { e.Process(context.Background(), "does-not-exist") })
}

func TestProcess_TerminalJobIsSilentNoOp(t *testing.T) {
	store := newFakeStore()
	store.jobs["job-1"] = &types.Job{ID: "job-1", Status: types.JobCompleted, Progress: 100}
	e := testEngine(t, store, &fakeBlobStore{blobs: map[string][]byte{}})

	e.Process(context.Background(), "job-1")

	got, err := store.JobGetByID(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, got.Status)
}

func TestProcess_AppliesAdminPriceListPricing(t *testing.T) {
	store := newFakeStore()
	fileBytes := ifcFixture(t)
	store.files["file-1"] = &types.File{ID: "file-1", ProjectID: "proj-1", UploaderID: "user-1", Type: types.FileIFC, Checksum: "abc"}
	store.balances["user-1"] = 1000
	store.priceLists["pl-1"] = &types.PriceList{ID: "pl-1", Name: "Admin", Active: true, IsAdmin: true}
	store.priceItems["pl-1"] = map[string]*types.PriceItem{"03-300": {ID: "pi-1", PriceListID: "pl-1", Code: "03-300", UnitPrice: 250}}
	store.adminListID = "pl-1"

	blobs := &fakeBlobStore{blobs: map[string][]byte{"abc": fileBytes}}
	e := testEngine(t, store, blobs)

	job, err := e.CreateJob(context.Background(), "user-1", "file-1", "")
	require.NoError(t, err)

	e.Process(context.Background(), job.ID)

	items, err := store.BoqItemsByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 250.0, items[0].UnitPrice)
}
