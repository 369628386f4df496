// Package httpapi wires the estimator's domain packages onto HTTP: routing
// with gorilla/mux, request decoding, RFC 7807 error rendering, and the
// SSE endpoints job progress and export lifecycle are streamed over. Every
// handler is a thin adapter — authorization and business rules live in
// pkg/rbac, pkg/jobengine, pkg/boq and pkg/export; this package's job is
// shape conversion and status-code selection.
package httpapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/takeoffworks/estimator/pkg/audit"
	"github.com/takeoffworks/estimator/pkg/auth"
	"github.com/takeoffworks/estimator/pkg/boq"
	"github.com/takeoffworks/estimator/pkg/broker"
	"github.com/takeoffworks/estimator/pkg/export"
	"github.com/takeoffworks/estimator/pkg/jobengine"
	"github.com/takeoffworks/estimator/pkg/presign"
	"github.com/takeoffworks/estimator/pkg/rbac"
	"github.com/takeoffworks/estimator/pkg/types"
)

// Store is the slice of pkg/store.Store the HTTP layer talks to directly,
// for resources (projects, collaborators, invitations, files, artifacts)
// that have no dedicated service package of their own.
type Store interface {
	rbac.ProjectAccessStore

	UserGetByID(ctx context.Context, id string) (*types.User, error)

	ProjectCreate(ctx context.Context, p *types.Project) error
	ProjectGetByID(ctx context.Context, id string) (*types.Project, error)
	ProjectListForUser(ctx context.Context, userID string) ([]*types.Project, error)

	CollaboratorAdd(ctx context.Context, c *types.Collaborator) error
	CollaboratorList(ctx context.Context, projectID string) ([]*types.Collaborator, error)

	InvitationCreate(ctx context.Context, inv *types.Invitation) error
	InvitationGetByTokenHash(ctx context.Context, tokenHash string) (*types.Invitation, error)
	AcceptInvitation(ctx context.Context, invitationID, userID string) error

	AccessRequestCreate(ctx context.Context, ar *types.AccessRequest) error
	AccessRequestDecide(ctx context.Context, requestID, deciderID string, approve bool) error

	FileCreate(ctx context.Context, f *types.File) error
	FileGetByID(ctx context.Context, id string) (*types.File, error)
	FileSetContent(ctx context.Context, id string, size int64, checksum string) error

	JobGetByID(ctx context.Context, id string) (*types.Job, error)
	JobsListForProject(ctx context.Context, projectID string) ([]*types.Job, error)
	JobEventsSince(ctx context.Context, jobID string, afterSeq int64) ([]*types.JobEvent, error)

	BoqItemsByJob(ctx context.Context, jobID string) ([]*types.BoqItem, error)

	ArtifactsByJob(ctx context.Context, jobID string) ([]*types.Artifact, error)
	ArtifactGetByID(ctx context.Context, id string) (*types.Artifact, error)
}

// BlobStore is the content-addressed store the files endpoints write
// uploaded bytes into. Satisfied by pkg/artifacts.Store.
type BlobStore interface {
	Store(ctx context.Context, data []byte) (string, error)
}

// Dependencies bundles everything a Router needs to build handlers. It is
// assembled once at process startup by cmd/estimatord.
type Dependencies struct {
	Store  Store
	Blobs  BlobStore
	Broker broker.Broker
	Signer *presign.Signer
	Auth   *auth.Service
	Jobs   *jobengine.Engine
	BoqEd  *boq.Editor
	Export *export.Pipeline

	// Audit and AuditExport are both optional. A nil Audit disables
	// access/mutation event logging; a nil AuditExport disables the
	// compliance-export route.
	Audit       audit.Logger
	AuditExport *audit.Exporter

	MaxUploadBytes     int64
	AllowedUploadTypes []string
	PresignDefaultTTL  time.Duration

	Logger *slog.Logger
}

func (d *Dependencies) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
