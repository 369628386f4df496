package export_test

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/takeoffworks/estimator/pkg/artifacts"
	"github.com/takeoffworks/estimator/pkg/broker"
	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/export"
	"github.com/takeoffworks/estimator/pkg/presign"
	"github.com/takeoffworks/estimator/pkg/types"
)

type fakeStore struct {
	projects      map[string]*types.Project
	collaborators map[string]types.Role
	jobs          map[string]*types.Job
	items         map[string][]*types.BoqItem
	artifacts     map[string]*types.Artifact
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:      map[string]*types.Project{},
		collaborators: map[string]types.Role{},
		jobs:          map[string]*types.Job{},
		items:         map[string][]*types.BoqItem{},
		artifacts:     map[string]*types.Artifact{},
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

func (s *fakeStore) JobGetByID(ctx context.Context, id string) (*types.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, errs.NotFoundf("job_not_found", "not found")
	}
	return j, nil
}

func (s *fakeStore) BoqItemsByJob(ctx context.Context, jobID string) ([]*types.BoqItem, error) {
	return s.items[jobID], nil
}

func (s *fakeStore) ArtifactCreate(ctx context.Context, a *types.Artifact) error {
	s.artifacts[a.ID] = a
	return nil
}

func (s *fakeStore) ArtifactGetByID(ctx context.Context, id string) (*types.Artifact, error) {
	a, ok := s.artifacts[id]
	if !ok {
		return nil, errs.NotFoundf("artifact_not_found", "not found")
	}
	return a, nil
}

func testPipeline(t *testing.T, s *fakeStore) (*export.Pipeline, artifacts.Store) {
	t.Helper()
	blobs, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)
	signer := presign.NewSigner("test-secret-key")
	return export.New(s, blobs, broker.NewMemoryBroker().WithHeartbeat(0), signer), blobs
}

func TestExport_CSVRoundTrip(t *testing.T) {
	s := newFakeStore()
	s.projects["proj-1"] = &types.Project{ID: "proj-1", OwnerUserID: "owner-1"}
	s.jobs["job-1"] = &types.Job{ID: "job-1", ProjectID: "proj-1"}
	s.items["job-1"] = []*types.BoqItem{
		{ID: "item-1", JobID: "job-1", Code: "03-300", Description: "Footing", Unit: "m3", Qty: 4, UnitPrice: 100, TotalPrice: 400},
	}

	pipeline, _ := testPipeline(t, s)
	artifact, err := pipeline.Export(context.Background(), "owner-1", "job-1", export.FormatCSV)
	require.NoError(t, err)
	require.Equal(t, "export:csv", artifact.Kind)
	require.Greater(t, artifact.Size, int64(0))
}

func TestExport_ForbiddenForNonMember(t *testing.T) {
	s := newFakeStore()
	s.projects["proj-1"] = &types.Project{ID: "proj-1", OwnerUserID: "owner-1"}
	s.jobs["job-1"] = &types.Job{ID: "job-1", ProjectID: "proj-1"}

	pipeline, _ := testPipeline(t, s)
	_, err := pipeline.Export(context.Background(), "stranger", "job-1", export.FormatCSV)
	require.Error(t, err)
	require.Equal(t, errs.Forbidden, errs.KindOf(err))
}

func TestExport_UnsupportedFormat(t *testing.T) {
	s := newFakeStore()
	s.projects["proj-1"] = &types.Project{ID: "proj-1", OwnerUserID: "owner-1"}
	s.jobs["job-1"] = &types.Job{ID: "job-1", ProjectID: "proj-1"}

	pipeline, _ := testPipeline(t, s)
	_, err := pipeline.Export(context.Background(), "owner-1", "job-1", export.Format("docx"))
	require.Error(t, err)
	require.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestExport_XLSXAndPDFProduceNonEmptyArtifacts(t *testing.T) {
	s := newFakeStore()
	s.projects["proj-1"] = &types.Project{ID: "proj-1", OwnerUserID: "owner-1"}
	s.jobs["job-1"] = &types.Job{ID: "job-1", ProjectID: "proj-1"}
	s.items["job-1"] = []*types.BoqItem{
		{ID: "item-1", JobID: "job-1", Code: "03-300", Description: "Footing concrete", Unit: "m3", Qty: 4.521, UnitPrice: 250, Allowance: 10, TotalPrice: 1140.25},
	}

	pipeline, _ := testPipeline(t, s)

	xlsxArtifact, err := pipeline.Export(context.Background(), "owner-1", "job-1", export.FormatXLSX)
	require.NoError(t, err)
	require.Greater(t, xlsxArtifact.Size, int64(0))

	pdfArtifact, err := pipeline.Export(context.Background(), "owner-1", "job-1", export.FormatPDF)
	require.NoError(t, err)
	require.Greater(t, pdfArtifact.Size, int64(0))
}

func TestPresignAndDownloadArtifact(t *testing.T) {
	s := newFakeStore()
	s.projects["proj-1"] = &types.Project{ID: "proj-1", OwnerUserID: "owner-1"}
	s.jobs["job-1"] = &types.Job{ID: "job-1", ProjectID: "proj-1"}
	s.items["job-1"] = []*types.BoqItem{
		{ID: "item-1", JobID: "job-1", Code: "03-300", Description: "Footing", Unit: "m3", Qty: 4, UnitPrice: 100, TotalPrice: 400},
	}

	pipeline, _ := testPipeline(t, s)
	artifact, err := pipeline.Export(context.Background(), "owner-1", "job-1", export.FormatCSV)
	require.NoError(t, err)

	url, err := pipeline.PresignDownload(context.Background(), "owner-1", artifact.ID, 900)
	require.NoError(t, err)
	require.Contains(t, url, "act=download")

	act, exp, sig := parseQuery(t, url)
	data, err := pipeline.DownloadArtifact(context.Background(), artifact.ID, act, exp, sig)
	require.NoError(t, err)
	require.Contains(t, string(data), "03-300")
}

func TestDownloadArtifact_RejectsTamperedSignature(t *testing.T) {
	s := newFakeStore()
	s.projects["proj-1"] = &types.Project{ID: "proj-1", OwnerUserID: "owner-1"}
	s.jobs["job-1"] = &types.Job{ID: "job-1", ProjectID: "proj-1"}
	s.items["job-1"] = []*types.BoqItem{{ID: "item-1", JobID: "job-1", Code: "03-300", Description: "Footing", Unit: "m3"}}

	pipeline, _ := testPipeline(t, s)
	artifact, err := pipeline.Export(context.Background(), "owner-1", "job-1", export.FormatCSV)
	require.NoError(t, err)

	url, err := pipeline.PresignDownload(context.Background(), "owner-1", artifact.ID, 900)
	require.NoError(t, err)
	act, exp, sig := parseQuery(t, url)

	_, err = pipeline.DownloadArtifact(context.Background(), artifact.ID, act, exp+60, sig)
	require.Error(t, err)
	require.Equal(t, errs.Unauthenticated, errs.KindOf(err))
}

func parseQuery(t *testing.T, rawURL string) (act string, exp int64, sig string) {
	t.Helper()
	idx := strings.Index(rawURL, "?")
	require.GreaterOrEqual(t, idx, 0)
	values, err := url.ParseQuery(rawURL[idx+1:])
	require.NoError(t, err)

	act = values.Get("act")
	sig = values.Get("sig")
	exp, err = strconv.ParseInt(values.Get("exp"), 10, 64)
	require.NoError(t, err)
	return act, exp, sig
}
