// Package boq implements the BoQ editor: per-row optimistic-concurrency
// patching, bulk patching, and the whole-job validation sweep. The
// job-engine's pkg/store/boq.go owns persistence (BoqItemUpdateIf already
// does the conflict check, diff, recompute and revision append in one
// transaction); this package is the authorization, validation and
// event-publication layer sitting in front of it.
package boq

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/takeoffworks/estimator/pkg/broker"
	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/rbac"
	"github.com/takeoffworks/estimator/pkg/types"
)

// Store is the slice of pkg/store.Store the editor depends on.
type Store interface {
	rbac.ProjectAccessStore

	BoqItemGetByID(ctx context.Context, id string) (*types.BoqItem, error)
	BoqItemsByJob(ctx context.Context, jobID string) ([]*types.BoqItem, error)
	BoqItemUpdateIf(ctx context.Context, id string, expectedUpdatedAt string, actor string, mutate func(*types.BoqItem)) (*types.BoqItem, error)
	JobGetByID(ctx context.Context, id string) (*types.Job, error)
	PriceListGetByID(ctx context.Context, id string) (*types.PriceList, error)
}

// Patch carries the editable fields of a BoQ row. Nil fields are left
// untouched. UpdatedAt is the client's last-read optimistic token,
// compared against the row's current value when CheckConcurrency is set.
type Patch struct {
	ItemID      string
	Description *string
	Unit        *string
	Qty         *float64
	Allowance   *float64
	UnitPrice   *float64
	UpdatedAt   string
}

// UpdateResult reports whether a patch actually changed anything.
type UpdateResult struct {
	Item     *types.BoqItem
	Modified bool
}

// BulkSkip records one rejected or conflicting item from UpdateMany.
type BulkSkip struct {
	ItemID  string
	Field   string
	Message string
}

// BulkSummary is UpdateMany's aggregate result.
type BulkSummary struct {
	Total   int
	Updated int
	Skipped []BulkSkip
}

// Editor applies BoQ edits under RBAC and optimistic concurrency control.
type Editor struct {
	store  Store
	broker broker.Broker
	logger *slog.Logger
}

func New(store Store, b broker.Broker) *Editor {
	return &Editor{store: store, broker: b, logger: slog.Default().With("component", "boq.editor")}
}

// UpdateOne implements the editor's single-row patch protocol: load,
// authorize (minRole=editor), optionally enforce the optimistic token,
// validate, and persist via Store.BoqItemUpdateIf, which itself
// recomputes total_price and appends the revision atomically.
func (e *Editor) UpdateOne(ctx context.Context, userID string, patch Patch, actor string, checkConcurrency bool) (*UpdateResult, error) {
	return e.updateOne(ctx, userID, patch, actor, checkConcurrency, true)
}

// updateOne is UpdateOne with the per-row boq.item.updated broadcast made
// optional, so UpdateMany can publish its aggregate event instead.
func (e *Editor) updateOne(ctx context.Context, userID string, patch Patch, actor string, checkConcurrency, broadcast bool) (*UpdateResult, error) {
	item, err := e.store.BoqItemGetByID(ctx, patch.ItemID)
	if err != nil {
		return nil, err
	}

	job, err := e.store.JobGetByID(ctx, item.JobID)
	if err != nil {
		return nil, err
	}
	if _, err := rbac.RequireProjectAccess(ctx, e.store, job.ProjectID, userID, types.RoleEditor); err != nil {
		return nil, err
	}

	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	expected := fmtToken(item.UpdatedAt)
	if checkConcurrency && patch.UpdatedAt != "" {
		expected = patch.UpdatedAt
	}

	updated, err := e.store.BoqItemUpdateIf(ctx, patch.ItemID, expected, actor, func(b *types.BoqItem) {
		applyPatch(b, patch)
	})
	if err != nil {
		return nil, err
	}

	modified := !sameRow(item, updated)
	if !modified {
		return &UpdateResult{Item: updated, Modified: false}, nil
	}

	if broadcast && e.broker != nil {
		if pubErr := e.broker.Publish(ctx, "project:"+job.ProjectID, broker.Event{Kind: "boq.item.updated", Payload: updated}); pubErr != nil {
			e.logger.ErrorContext(ctx, "failed to publish boq.item.updated", "item_id", updated.ID, "error", pubErr)
		}
	}

	return &UpdateResult{Item: updated, Modified: true}, nil
}

// UpdateMany applies every patch independently with checkConcurrency
// always on, collecting a summary rather than failing the whole batch on
// one conflicting or invalid row. A single aggregate boq.bulk.updated
// event is published afterward instead of one per row.
func (e *Editor) UpdateMany(ctx context.Context, userID string, patches []Patch, actor string) (*BulkSummary, error) {
	summary := &BulkSummary{Total: len(patches)}
	if len(patches) == 0 {
		return summary, nil
	}

	var projectID string
	var g errgroup.Group
	results := make([]*UpdateResult, len(patches))
	errsOut := make([]error, len(patches))

	for i, p := range patches {
		i, p := i, p
		g.Go(func() error {
			res, err := e.updateOne(ctx, userID, p, actor, true, false)
			results[i] = res
			errsOut[i] = err
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range patches {
		if err := errsOut[i]; err != nil {
			summary.Skipped = append(summary.Skipped, BulkSkip{ItemID: p.ItemID, Field: fieldOf(err), Message: err.Error()})
			continue
		}
		if results[i].Modified {
			summary.Updated++
		}
		if item, err := e.store.BoqItemGetByID(ctx, p.ItemID); err == nil {
			if job, jerr := e.store.JobGetByID(ctx, item.JobID); jerr == nil {
				projectID = job.ProjectID
			}
		}
	}

	if e.broker != nil && projectID != "" {
		if pubErr := e.broker.Publish(ctx, "project:"+projectID, broker.Event{Kind: "boq.bulk.updated", Payload: summary}); pubErr != nil {
			e.logger.ErrorContext(ctx, "failed to publish boq.bulk.updated", "project_id", projectID, "error", pubErr)
		}
	}

	return summary, nil
}

func fieldOf(err error) string {
	if e, ok := err.(*errs.Error); ok {
		if f, ok := e.Meta["field"].(string); ok {
			return f
		}
	}
	return ""
}

func applyPatch(b *types.BoqItem, p Patch) {
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.Unit != nil {
		b.Unit = *p.Unit
	}
	if p.Qty != nil {
		b.Qty = *p.Qty
	}
	if p.Allowance != nil {
		b.Allowance = *p.Allowance
	}
	if p.UnitPrice != nil {
		b.UnitPrice = *p.UnitPrice
	}
}

func validatePatch(p Patch) error {
	if p.Qty != nil && *p.Qty < 0 {
		return errs.WithMeta(errs.Validation, "negative_qty", "qty must be non-negative", map[string]any{"field": "qty"})
	}
	if p.Allowance != nil && *p.Allowance < 0 {
		return errs.WithMeta(errs.Validation, "negative_allowance", "allowance must be non-negative", map[string]any{"field": "allowance"})
	}
	if p.UnitPrice != nil && *p.UnitPrice < 0 {
		return errs.WithMeta(errs.Validation, "negative_unit_price", "unit_price must be non-negative", map[string]any{"field": "unit_price"})
	}
	if p.Description != nil && *p.Description == "" {
		return errs.WithMeta(errs.Validation, "empty_description", "description cannot be cleared", map[string]any{"field": "description"})
	}
	if p.Unit != nil && *p.Unit == "" {
		return errs.WithMeta(errs.Validation, "empty_unit", "unit cannot be cleared", map[string]any{"field": "unit"})
	}
	return nil
}

func sameRow(before, after *types.BoqItem) bool {
	return before.Description == after.Description &&
		before.Unit == after.Unit &&
		before.Qty == after.Qty &&
		before.Allowance == after.Allowance &&
		before.UnitPrice == after.UnitPrice
}

func fmtToken(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
