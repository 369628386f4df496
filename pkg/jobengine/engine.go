// Package jobengine drives the estimator's job state machine: submission
// (authorize, enforce an optional per-project spend cap, debit credits,
// record usage telemetry, resolve pricing, enqueue) and the background
// pipeline that validates, extracts and prices a take-off file. Grounded
// on the teacher's executor.SafeExecutor.Execute — a numbered-phase method
// with an idempotency check up front, outbox scheduling before dispatch,
// and non-fatal side-effects (metering, pricing and refunds) logged rather
// than allowed to fail the main operation.
package jobengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/takeoffworks/estimator/pkg/broker"
	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/extractor"
	"github.com/takeoffworks/estimator/pkg/finance"
	"github.com/takeoffworks/estimator/pkg/metering"
	"github.com/takeoffworks/estimator/pkg/observability"
	"github.com/takeoffworks/estimator/pkg/types"
)

// Store is the slice of pkg/store.Store the engine depends on.
type Store interface {
	FileGetByID(ctx context.Context, id string) (*types.File, error)
	ProjectGetByID(ctx context.Context, id string) (*types.Project, error)

	JobCreate(ctx context.Context, j *types.Job) error
	JobGetByID(ctx context.Context, id string) (*types.Job, error)
	JobUpdateStatus(ctx context.Context, jobID string, status types.JobStatus, errorCode string) error
	JobSetProgress(ctx context.Context, jobID string, progress int) error
	JobEventAppend(ctx context.Context, ev *types.JobEvent) error
	JobOutboxSchedule(ctx context.Context, jobID string) error
	JobOutboxPending(ctx context.Context) ([]string, error)
	JobOutboxMarkDone(ctx context.Context, jobID string) error

	BoqItemsCreateBatch(ctx context.Context, items []*types.BoqItem) error
	BoqItemsByJob(ctx context.Context, jobID string) ([]*types.BoqItem, error)
	BoqItemUpdateIf(ctx context.Context, id string, expectedUpdatedAt string, actor string, mutate func(*types.BoqItem)) (*types.BoqItem, error)

	CreditsDebit(ctx context.Context, userID string, amount int64) error
	CreditsCredit(ctx context.Context, userID string, amount int64) error

	SuppliersByProject(ctx context.Context, projectID string) ([]*types.Supplier, error)
	SupplierPriceItemByCode(ctx context.Context, supplierID, code string) (*types.SupplierPriceItem, error)
	PriceListGetByID(ctx context.Context, id string) (*types.PriceList, error)
	PriceListActiveAdmin(ctx context.Context) (*types.PriceList, error)
	PriceItemByCode(ctx context.Context, priceListID, code string) (*types.PriceItem, error)
}

// BlobStore retrieves an uploaded file's bytes by its content checksum.
// Satisfied by pkg/artifacts.Store.
type BlobStore interface {
	Get(ctx context.Context, hash string) ([]byte, error)
}

// Engine owns job submission and background processing.
type Engine struct {
	store      Store
	blobs      BlobStore
	broker     broker.Broker
	registry   *extractor.Registry
	obs        *observability.Provider
	costPerJob int64
	logger     *slog.Logger
	clock      func() time.Time

	// spendTracker, if non-nil, enforces each project's optional
	// MonthlySpendCapCredits on top of the account-wide credits ledger.
	// A nil tracker (or an unset project cap) is a no-op: the credits
	// ledger in Store remains the only hard floor.
	spendTracker finance.Tracker
	// meter, if non-nil, records usage telemetry for dashboards. Record
	// failures are logged and never fail the submission they describe.
	meter metering.Meter
}

// New constructs an Engine. obs may be a disabled Provider; b may be nil
// if no live subscribers need job events (events are still durably
// appended via Store regardless).
func New(store Store, blobs BlobStore, b broker.Broker, registry *extractor.Registry, obs *observability.Provider, costPerJob int64) *Engine {
	return &Engine{
		store:      store,
		blobs:      blobs,
		broker:     b,
		registry:   registry,
		obs:        obs,
		costPerJob: costPerJob,
		logger:     slog.Default().With("component", "jobengine"),
		clock:      time.Now,
	}
}

// WithSpendTracker attaches a finance.Tracker that enforces each project's
// MonthlySpendCapCredits. Returns e for chaining at construction time.
func (e *Engine) WithSpendTracker(t finance.Tracker) *Engine {
	e.spendTracker = t
	return e
}

// WithMeter attaches a metering.Meter that records job_submitted events.
// Returns e for chaining at construction time.
func (e *Engine) WithMeter(m metering.Meter) *Engine {
	e.meter = m
	return e
}

// spendBudgetID is the finance.Tracker budget key for a project's
// monthly spend cap.
func spendBudgetID(projectID string) string {
	return "project:" + projectID
}

// CreateJob implements the submission protocol: authorize ownership,
// debit credits, resolve pricing, insert the job queued, and schedule it
// for background execution. Credits are debited before the job exists;
// if job creation itself fails, the debit is refunded since no job will
// ever run to account for it.
func (e *Engine) CreateJob(ctx context.Context, userID, fileID, explicitPriceListID string) (*types.Job, error) {
	file, err := e.store.FileGetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.UploaderID != userID {
		return nil, errs.Forbiddenf("not_file_owner", "file %s is not owned by the caller", fileID)
	}

	if err := e.checkSpendCap(ctx, file.ProjectID); err != nil {
		return nil, err
	}

	if err := e.store.CreditsDebit(ctx, userID, e.costPerJob); err != nil {
		return nil, err
	}

	e.consumeSpendCap(ctx, file.ProjectID)
	e.recordMeteredSubmission(ctx, file.ProjectID)

	job := &types.Job{
		ID:          uuid.NewString(),
		ProjectID:   file.ProjectID,
		UserID:      userID,
		FileID:      fileID,
		Status:      types.JobQueued,
		Progress:    0,
		PriceListID: e.resolvePriceRef(ctx, file.ProjectID, explicitPriceListID),
	}
	if err := e.store.JobCreate(ctx, job); err != nil {
		if refundErr := e.store.CreditsCredit(ctx, userID, e.costPerJob); refundErr != nil {
			e.logger.ErrorContext(ctx, "refund after failed job create also failed", "user_id", userID, "error", refundErr)
		}
		return nil, err
	}

	if err := e.store.JobOutboxSchedule(ctx, job.ID); err != nil {
		return nil, err
	}

	return job, nil
}

// checkSpendCap rejects submission if projectID has a configured
// MonthlySpendCapCredits and is already at or over it. A tracker error
// (budget lookup failure, misconfiguration) is logged and treated as
// fail-open, since the credits ledger is the authoritative spend limit;
// this cap is an additional, optional ceiling an owner opted into.
func (e *Engine) checkSpendCap(ctx context.Context, projectID string) error {
	if e.spendTracker == nil {
		return nil
	}
	project, err := e.store.ProjectGetByID(ctx, projectID)
	if err != nil {
		return err
	}
	if project.MonthlySpendCapCredits <= 0 {
		return nil
	}
	budgetID := spendBudgetID(projectID)
	if err := e.spendTracker.EnsureBudget(budgetID, "CREDITS", project.MonthlySpendCapCredits, finance.WindowMonthly); err != nil {
		e.logger.ErrorContext(ctx, "spend cap ensure-budget failed", "project_id", projectID, "error", err)
		return nil
	}
	ok, err := e.spendTracker.Check(budgetID, finance.Cost{Credits: e.costPerJob})
	if err != nil {
		e.logger.ErrorContext(ctx, "spend cap check failed", "project_id", projectID, "error", err)
		return nil
	}
	if !ok {
		return errs.New(errs.PaymentRequired, "spend_cap_exceeded", "project has reached its monthly spend cap")
	}
	return nil
}

// consumeSpendCap records the job's cost against the project's spend cap
// after credits have actually been debited. Best-effort: a failure here
// only loosens the optional cap, it never blocks or unwinds the job.
func (e *Engine) consumeSpendCap(ctx context.Context, projectID string) {
	if e.spendTracker == nil {
		return
	}
	project, err := e.store.ProjectGetByID(ctx, projectID)
	if err != nil || project.MonthlySpendCapCredits <= 0 {
		return
	}
	if err := e.spendTracker.Consume(spendBudgetID(projectID), finance.Cost{Credits: e.costPerJob}); err != nil {
		e.logger.ErrorContext(ctx, "spend cap consume failed", "project_id", projectID, "error", err)
	}
}

// recordMeteredSubmission logs a job_submitted usage event. Non-fatal:
// metering is dashboard telemetry, not the credits ledger of record.
func (e *Engine) recordMeteredSubmission(ctx context.Context, projectID string) {
	if e.meter == nil {
		return
	}
	evt := metering.Event{ProjectID: projectID, EventType: metering.EventJobSubmitted, Quantity: 1}
	if err := e.meter.Record(ctx, evt); err != nil {
		e.logger.ErrorContext(ctx, "metering record failed", "project_id", projectID, "error", err)
	}
}

// Process runs job jobID's background pipeline to completion. It is safe
// to call more than once for the same id: a job already in a terminal
// state, or no longer found, is a silent no-op — the spec's allowance for
// another worker having already finished or canceled it.
func (e *Engine) Process(ctx context.Context, jobID string) {
	job, err := e.store.JobGetByID(ctx, jobID)
	if err != nil {
		return
	}
	if job.Status.Terminal() {
		return
	}
	file, err := e.store.FileGetByID(ctx, job.FileID)
	if err != nil {
		return
	}

	ctx, finish := e.obs.TrackStage(ctx, "job.process", jobID)
	var stageErr error
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "job processing panicked", "job_id", jobID, "panic", r)
			e.failJob(ctx, job, "unexpected_error", fmt.Sprintf("unexpected error: %v", r))
			finish(fmt.Errorf("panic: %v", r))
			return
		}
		finish(stageErr)
	}()

	if err := e.store.JobUpdateStatus(ctx, jobID, types.JobRunning, ""); err != nil {
		stageErr = err
		e.logger.ErrorContext(ctx, "failed to transition job to running", "job_id", jobID, "error", err)
		return
	}
	e.emit(ctx, jobID, "queued", "Job queued", 5, nil)

	e.emit(ctx, jobID, "validating", "Validating uploaded file", 15, nil)
	fileBytes, err := e.blobs.Get(ctx, file.Checksum)
	if err != nil {
		stageErr = err
		e.failJob(ctx, job, "validation_error", fmt.Sprintf("could not read uploaded file: %v", err))
		return
	}
	warnings, err := validateByType(file.Type, fileBytes)
	if err != nil {
		stageErr = err
		e.failJob(ctx, job, "validation_error", err.Error())
		return
	}
	for _, w := range warnings {
		e.emit(ctx, jobID, "validating", w, -1, nil)
	}

	e.emit(ctx, jobID, "parsing", "Parsing file structure", 30, nil)
	filePath, cleanup, err := materialize(file, fileBytes)
	if err != nil {
		stageErr = err
		e.failJob(ctx, job, "takeoff_error", err.Error())
		return
	}
	defer cleanup()

	e.emit(ctx, jobID, "takeoff", "Extracting quantities", 60, nil)
	rows, err := e.extractAll(ctx, file.Type, filePath)
	if err != nil {
		stageErr = err
		e.failJob(ctx, job, "takeoff_error", err.Error())
		return
	}

	if err := e.persistRows(ctx, jobID, rows); err != nil {
		stageErr = err
		e.failJob(ctx, job, "takeoff_error", err.Error())
		return
	}
	e.emit(ctx, jobID, "complete", "Quantities extracted", 85, nil)

	e.applyPricing(ctx, job)

	if err := e.store.JobUpdateStatus(ctx, jobID, types.JobCompleted, ""); err != nil {
		stageErr = err
		e.logger.ErrorContext(ctx, "failed to mark job completed", "job_id", jobID, "error", err)
		return
	}
	e.emit(ctx, jobID, "completed", "Job completed", 100, nil)
}

// failJob transitions job to failed, emits the error event and issues the
// best-effort credit refund exactly once.
func (e *Engine) failJob(ctx context.Context, job *types.Job, errorCode, message string) {
	if err := e.store.JobUpdateStatus(ctx, job.ID, types.JobFailed, errorCode); err != nil {
		e.logger.ErrorContext(ctx, "failed to mark job failed", "job_id", job.ID, "error", err)
	}
	e.emit(ctx, job.ID, "error", message, -1, map[string]any{"error_code": errorCode})
	if err := e.store.CreditsCredit(ctx, job.UserID, e.costPerJob); err != nil {
		e.logger.ErrorContext(ctx, "credit refund failed", "job_id", job.ID, "user_id", job.UserID, "error", err)
	}
}

// emit persists a staged progress event and publishes it live. progress
// < 0 leaves the job's stored progress untouched (used for sub-events
// within a stage, e.g. validation warnings, that don't advance the bar).
func (e *Engine) emit(ctx context.Context, jobID, stage, message string, progress int, details map[string]any) {
	if progress >= 0 {
		if err := e.store.JobSetProgress(ctx, jobID, progress); err != nil {
			e.logger.ErrorContext(ctx, "failed to set job progress", "job_id", jobID, "error", err)
		}
	}
	ev := &types.JobEvent{ID: uuid.NewString(), JobID: jobID, Stage: stage, Message: message, Details: details}
	if err := e.store.JobEventAppend(ctx, ev); err != nil {
		e.logger.ErrorContext(ctx, "failed to append job event", "job_id", jobID, "error", err)
	}
	if e.broker != nil {
		if err := e.broker.Publish(ctx, "job:"+jobID, broker.Event{Kind: stage, Payload: ev}); err != nil {
			e.logger.ErrorContext(ctx, "failed to publish job event", "job_id", jobID, "error", err)
		}
	}
}

func validateByType(fileType types.FileType, data []byte) ([]string, error) {
	switch fileType {
	case types.FileIFC:
		return extractor.ValidateIFC(data)
	case types.FileDWG, types.FileDXF:
		return extractor.ValidateDWGDXF(data)
	case types.FilePDF:
		return nil, extractor.ValidatePDF(data)
	default:
		return nil, &extractor.ValidationError{Reason: fmt.Sprintf("unsupported file type %q", fileType)}
	}
}

// materialize writes data to a temp file so extractor.Registry's
// path-based interface can read it. Extractors never see the store or
// the upload's original path.
func materialize(file *types.File, data []byte) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "estimator-takeoff-*")
	if err != nil {
		return "", nil, fmt.Errorf("jobengine: create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("jobengine: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("jobengine: close temp file: %w", err)
	}
	return f.Name(), func() { _ = os.Remove(f.Name()) }, nil
}

func (e *Engine) extractAll(ctx context.Context, fileType types.FileType, path string) ([]*extractor.BoqRow, error) {
	it, err := e.registry.Extract(ctx, fileType, path, nil)
	if err != nil {
		return nil, err
	}
	var rows []*extractor.BoqRow
	for {
		row, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (e *Engine) persistRows(ctx context.Context, jobID string, rows []*extractor.BoqRow) error {
	items := make([]*types.BoqItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, &types.BoqItem{
			ID:          uuid.NewString(),
			JobID:       jobID,
			Code:        r.Code,
			Description: r.Description,
			Unit:        r.Unit,
			Qty:         r.Qty,
			Allowance:   r.Allowance,
			UnitPrice:   r.UnitPrice,
		})
	}
	if len(items) == 0 {
		return nil
	}
	return e.store.BoqItemsCreateBatch(ctx, items)
}

func fmtTimeForConflictCheck(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
