// Package types holds the estimator's persistent domain model: the shapes
// the store reads and writes. Nothing here talks to a database or the
// network — it is the vocabulary every other package shares.
package types

import "time"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Rank returns the role's position in the ordered hierarchy
// owner(3) > editor(2) > viewer(1). Unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

type UserSystemRole string

const (
	SystemRoleAdmin UserSystemRole = "admin"
	SystemRoleUser  UserSystemRole = "user"
)

type User struct {
	ID              string
	Email           string
	PasswordHash    string
	SystemRole      UserSystemRole
	EmailVerified   bool
	CreditsBalance  int64
	FullName        string
	LastVerifySentAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
)

type Project struct {
	ID          string
	OwnerUserID string
	Name        string
	Description string
	StartDate   *time.Time
	EndDate     *time.Time
	Status      ProjectStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// MonthlySpendCapCredits, when positive, bounds the job credits this
	// project may consume in a calendar month, independent of the
	// owner's account-wide credit balance. Zero disables the cap.
	MonthlySpendCapCredits int64
}

// ProjectMetadata is a free-form per-project JSON bag (client name, site
// address, currency, ...). Read/written alongside the project, not through a
// separate endpoint surface.
type ProjectMetadata struct {
	ProjectID string
	Fields    map[string]any
	UpdatedAt time.Time
}

type FileType string

const (
	FileIFC FileType = "IFC"
	FileDWG FileType = "DWG"
	FileDXF FileType = "DXF"
	FilePDF FileType = "PDF"
)

// MagicPrefix returns the expected byte prefix for the file type, or nil if
// the type has no fixed magic bytes (DWG's "AC" header has several variants,
// enforced separately).
func (t FileType) MagicPrefix() []byte {
	switch t {
	case FilePDF:
		return []byte("%PDF-")
	case FileIFC:
		return []byte("ISO-10303-21")
	default:
		return nil
	}
}

type File struct {
	ID         string
	ProjectID  string
	UploaderID string
	Filename   string
	Type       FileType
	Size       int64
	Checksum   string
	UploadedAt time.Time
}

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCanceled
}

type Job struct {
	ID            string
	ProjectID     string
	UserID        string
	FileID        string
	Status        JobStatus
	Progress      int
	ErrorCode     string
	PriceListID   string // resolved price list/supplier reference, may be empty
	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

type JobEvent struct {
	ID        string
	JobID     string
	Timestamp time.Time
	Stage     string
	Message   string
	Details   map[string]any
}

type BoqItem struct {
	ID              string
	JobID           string
	Code            string
	Description     string
	Unit            string
	Qty             float64
	MappedPriceItem string
	Allowance       float64
	UnitPrice       float64
	TotalPrice      float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Recompute sets TotalPrice from Qty/UnitPrice/Allowance per the spec
// invariant total_price ≈ qty*unit_price + allowance.
func (b *BoqItem) Recompute() {
	b.TotalPrice = b.Qty*b.UnitPrice + b.Allowance
}

type Revision struct {
	ID        string
	BoqItemID string
	Actor     string
	Changes   map[string]FieldChange
	CreatedAt time.Time
}

type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

type ArtifactKind string

type Artifact struct {
	ID        string
	JobID     string
	Kind      string // e.g. "export:csv", "export:xlsx", "export:pdf"
	Path      string
	Size      int64
	Checksum  string
	CreatedAt time.Time
}

type Supplier struct {
	ID        string
	ProjectID string
	Name      string
	IsDefault bool
	CreatedAt time.Time
}

type SupplierPriceItem struct {
	ID         string
	SupplierID string
	Code       string
	UnitPrice  float64
	UpdatedAt  time.Time
}

type PriceList struct {
	ID         string
	Name       string
	Version    string // semver, e.g. "1.2.0"
	Active     bool
	IsAdmin    bool
	ValidateCEL string // optional CEL expression evaluated in BoQ Validate
	CreatedAt  time.Time
}

type PriceItem struct {
	ID          string
	PriceListID string
	Code        string
	UnitPrice   float64
}

type Collaborator struct {
	ProjectID  string
	UserID     string
	Role       types_Role
	InviterID  string
	InvitedAt  time.Time
	AcceptedAt *time.Time
}

// types_Role avoids a self-referential alias collision; Collaborator.Role is
// simply a Role.
type types_Role = Role

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRevoked  InvitationStatus = "revoked"
	InvitationExpired  InvitationStatus = "expired"
)

type Invitation struct {
	ID        string
	ProjectID string
	Email     string
	Role      Role
	TokenHash string
	Status    InvitationStatus
	InviterID string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AccessRequest is requester-initiated, distinct from the owner-initiated
// Invitation: a user without membership asks to join; an owner/admin
// approves (creating a Collaborator) or denies it.
type AccessRequestStatus string

const (
	AccessRequestPending  AccessRequestStatus = "pending"
	AccessRequestApproved AccessRequestStatus = "approved"
	AccessRequestDenied   AccessRequestStatus = "denied"
)

type AccessRequest struct {
	ID           string
	ProjectID    string
	RequesterID  string
	RequestedRole Role
	Status       AccessRequestStatus
	DecidedBy    string
	CreatedAt    time.Time
	DecidedAt    *time.Time
}

type Notification struct {
	ID        string
	ProjectID string
	UserID    string
	Kind      string
	Payload   map[string]any
	ReadAt    *time.Time
	CreatedAt time.Time
}

type Activity struct {
	ID        string
	ProjectID string
	ActorID   string
	Verb      string
	Payload   map[string]any
	CreatedAt time.Time
}

type Comment struct {
	ID        string
	ProjectID string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

// UserIntegration is the storage shape for a per-user OAuth integration
// record. No OAuth flow is implemented here (external collaborator); this is
// the row shape a future integration endpoint would populate.
type UserIntegration struct {
	ID                string
	UserID            string
	Provider          string
	ExternalAccountID string
	TokenRef          string
	CreatedAt         time.Time
}
