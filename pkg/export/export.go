// Package export renders a job's priced BoQ to a downloadable artifact
// (csv, xlsx or pdf), persists it through the same content-addressed
// store pkg/jobengine reads uploads from, and gates retrieval behind a
// presigned, subject-scoped URL rather than a second ownership check at
// download time.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/takeoffworks/estimator/pkg/artifacts"
	"github.com/takeoffworks/estimator/pkg/broker"
	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/metering"
	"github.com/takeoffworks/estimator/pkg/presign"
	"github.com/takeoffworks/estimator/pkg/rbac"
	"github.com/takeoffworks/estimator/pkg/types"
)

// Format is one of the export pipeline's supported render targets.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

const presignAction = "download"

// Store is the slice of pkg/store.Store the export pipeline depends on.
type Store interface {
	rbac.ProjectAccessStore

	JobGetByID(ctx context.Context, id string) (*types.Job, error)
	BoqItemsByJob(ctx context.Context, jobID string) ([]*types.BoqItem, error)
	ArtifactCreate(ctx context.Context, a *types.Artifact) error
	ArtifactGetByID(ctx context.Context, id string) (*types.Artifact, error)
}

// Pipeline renders, stores and serves job export artifacts.
type Pipeline struct {
	store  Store
	blobs  *artifacts.Registry
	broker broker.Broker
	signer *presign.Signer
	logger *slog.Logger
	meter  metering.Meter
}

func New(store Store, blobs artifacts.Store, b broker.Broker, signer *presign.Signer) *Pipeline {
	return &Pipeline{
		store:  store,
		blobs:  artifacts.NewRegistry(blobs),
		broker: b,
		signer: signer,
		logger: slog.Default().With("component", "export"),
	}
}

// WithMeter attaches a metering.Meter that records export_generated
// events. Returns p for chaining at construction time.
func (p *Pipeline) WithMeter(m metering.Meter) *Pipeline {
	p.meter = m
	return p
}

// Export implements the render protocol: authorize (minRole=viewer),
// announce start, render the job's priced BoQ rows to the requested
// format, store the bytes content-addressed, record the artifact row,
// and announce completion.
func (p *Pipeline) Export(ctx context.Context, userID, jobID string, format Format) (*types.Artifact, error) {
	job, err := p.store.JobGetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := rbac.RequireProjectAccess(ctx, p.store, job.ProjectID, userID, types.RoleViewer); err != nil {
		return nil, err
	}

	p.publish(ctx, jobID, "export.started", map[string]any{"format": format})

	items, err := p.store.BoqItemsByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	data, err := render(format, items)
	if err != nil {
		return nil, err
	}

	hash, err := p.blobs.Put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("export: store artifact: %w", err)
	}

	artifact := &types.Artifact{
		ID:       uuid.NewString(),
		JobID:    jobID,
		Kind:     "export:" + string(format),
		Path:     hash,
		Size:     int64(len(data)),
		Checksum: hash,
	}
	if err := p.store.ArtifactCreate(ctx, artifact); err != nil {
		return nil, err
	}

	p.publish(ctx, jobID, "export.completed", map[string]any{"artifact_id": artifact.ID})
	p.recordMeteredExport(ctx, job.ProjectID, jobID)

	return artifact, nil
}

// recordMeteredExport logs an export_generated usage event. Non-fatal:
// the artifact is already durably stored and recorded by this point.
func (p *Pipeline) recordMeteredExport(ctx context.Context, projectID, jobID string) {
	if p.meter == nil {
		return
	}
	evt := metering.Event{ProjectID: projectID, EventType: metering.EventExportGenerated, Quantity: 1}
	if err := p.meter.Record(ctx, evt); err != nil {
		p.logger.ErrorContext(ctx, "metering record failed", "project_id", projectID, "job_id", jobID, "error", err)
	}
}

func render(format Format, items []*types.BoqItem) ([]byte, error) {
	switch format {
	case FormatCSV:
		return renderCSV(items)
	case FormatXLSX:
		return renderXLSX(items)
	case FormatPDF:
		return renderPDF(items)
	default:
		return nil, errs.Validationf("unsupported_export_format", "unsupported export format %q", format)
	}
}

func (p *Pipeline) publish(ctx context.Context, jobID, kind string, payload any) {
	if p.broker == nil {
		return
	}
	if err := p.broker.Publish(ctx, fmt.Sprintf("jobs:%s:exports", jobID), broker.Event{Kind: kind, Payload: payload}); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish export event", "job_id", jobID, "kind", kind, "error", err)
	}
}

// PresignDownload verifies actor owns the job that owns artifactID (at
// least viewer) and mints a time-bounded download signature over it.
func (p *Pipeline) PresignDownload(ctx context.Context, userID, artifactID string, ttl int64) (string, error) {
	artifact, err := p.store.ArtifactGetByID(ctx, artifactID)
	if err != nil {
		return "", err
	}
	job, err := p.store.JobGetByID(ctx, artifact.JobID)
	if err != nil {
		return "", err
	}
	if _, err := rbac.RequireProjectAccess(ctx, p.store, job.ProjectID, userID, types.RoleViewer); err != nil {
		return "", err
	}

	signed := p.signer.Sign(presignAction, artifactID, time.Duration(ttl)*time.Second)
	return fmt.Sprintf("/api/v1/artifacts/%s/download?%s", artifactID, signed.Query()), nil
}

// DownloadArtifact verifies act/exp/sig authorize artifactID and streams
// its bytes. It does not re-check the caller's project membership: the
// signature was scoped to this artifact id at issue time, and a single
// signature authorizes exactly one subject id, so there is nothing left
// to check that the signature itself didn't already establish.
func (p *Pipeline) DownloadArtifact(ctx context.Context, artifactID, act string, exp int64, sig string) ([]byte, error) {
	if act != presignAction {
		return nil, errs.New(errs.Unauthenticated, "presign_wrong_action", "signature was not issued for download")
	}
	if err := p.signer.Verify(presignAction, artifactID, exp, sig); err != nil {
		return nil, err
	}

	artifact, err := p.store.ArtifactGetByID(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	return p.blobs.Get(ctx, artifact.Path)
}
