package jobengine

import (
	"context"
	"strings"

	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/types"
)

// priceRef encodes the source a job's pricing cascade resolved to.
// Job.PriceListID is a single TEXT column shared by two distinct
// resolution outcomes — an admin/explicit price list or a project's
// default supplier — so the source is tagged with a prefix rather than
// adding a second nullable column for what is, functionally, one
// "resolved pricing reference" concept.
const (
	priceRefPriceList = "pricelist:"
	priceRefSupplier  = "supplier:"
)

// resolvePriceRef implements the submission-time cascade: explicit id →
// project's default supplier → active admin price list → none. A
// resolution failure at any tier (not-found, no default configured) is
// not an error — it just falls through to the next tier, down to "".
func (e *Engine) resolvePriceRef(ctx context.Context, projectID, explicitPriceListID string) string {
	if explicitPriceListID != "" {
		if _, err := e.store.PriceListGetByID(ctx, explicitPriceListID); err == nil {
			return priceRefPriceList + explicitPriceListID
		}
	}

	if suppliers, err := e.store.SuppliersByProject(ctx, projectID); err == nil {
		for _, sp := range suppliers {
			if sp.IsDefault {
				return priceRefSupplier + sp.ID
			}
		}
	}

	if pl, err := e.store.PriceListActiveAdmin(ctx); err == nil {
		return priceRefPriceList + pl.ID
	}

	return ""
}

// applyPricing resolves a unit price for every BoQ row belonging to job
// and commits them all-or-nothing: if any row's code fails to resolve
// against the job's pricing source, the whole apply aborts and no row is
// touched, rather than leaving the BoQ partially priced. A job with no
// resolvable pricing source at all is left unpriced without this being
// treated as a failure — the editor can always apply pricing manually.
func (e *Engine) applyPricing(ctx context.Context, job *types.Job) {
	if job.PriceListID == "" {
		e.emit(ctx, job.ID, "pricing", "no pricing source resolved, BoQ left unpriced", -1, nil)
		return
	}

	items, err := e.store.BoqItemsByJob(ctx, job.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "pricing: failed to load BoQ items", "job_id", job.ID, "error", err)
		e.emit(ctx, job.ID, "pricing", "could not load BoQ items for pricing", -1, nil)
		return
	}
	if len(items) == 0 {
		return
	}

	lookup := e.priceLookupFor(job.PriceListID)
	staged := make(map[string]float64, len(items))
	var unresolved []string
	for _, item := range items {
		unitPrice, err := lookup(ctx, item.Code)
		if err != nil {
			unresolved = append(unresolved, item.Code)
			continue
		}
		staged[item.ID] = unitPrice
	}

	if len(unresolved) > 0 {
		e.emit(ctx, job.ID, "pricing", "pricing apply aborted: unresolved codes", -1, map[string]any{"unresolved_codes": unresolved})
		return
	}

	for _, item := range items {
		unitPrice := staged[item.ID]
		expected := fmtTimeForConflictCheck(item.UpdatedAt)
		code := item.Code
		if _, err := e.store.BoqItemUpdateIf(ctx, item.ID, expected, "jobengine", func(b *types.BoqItem) {
			b.UnitPrice = unitPrice
			b.MappedPriceItem = code
		}); err != nil {
			e.logger.ErrorContext(ctx, "pricing: failed to commit staged price", "job_id", job.ID, "boq_item_id", item.ID, "error", err)
		}
	}

	e.emit(ctx, job.ID, "pricing", "pricing applied", -1, map[string]any{"priced": len(items)})
}

type priceLookupFunc func(ctx context.Context, code string) (float64, error)

func (e *Engine) priceLookupFor(ref string) priceLookupFunc {
	switch {
	case strings.HasPrefix(ref, priceRefSupplier):
		supplierID := strings.TrimPrefix(ref, priceRefSupplier)
		return func(ctx context.Context, code string) (float64, error) {
			item, err := e.store.SupplierPriceItemByCode(ctx, supplierID, code)
			if err != nil {
				return 0, err
			}
			return item.UnitPrice, nil
		}
	case strings.HasPrefix(ref, priceRefPriceList):
		priceListID := strings.TrimPrefix(ref, priceRefPriceList)
		return func(ctx context.Context, code string) (float64, error) {
			item, err := e.store.PriceItemByCode(ctx, priceListID, code)
			if err != nil {
				return 0, err
			}
			return item.UnitPrice, nil
		}
	default:
		return func(ctx context.Context, code string) (float64, error) {
			return 0, errs.NotFoundf("price_code_unresolved", "no pricing source")
		}
	}
}
