package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/takeoffworks/estimator/pkg/audit"
	"github.com/takeoffworks/estimator/pkg/auth"
	"github.com/takeoffworks/estimator/pkg/boq"
	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/types"
)

func (h *handlers) handleGetBoq(w http.ResponseWriter, r *http.Request) {
	job := h.jobForAccess(w, r, types.RoleViewer)
	if job == nil {
		return
	}
	items, err := h.deps.Store.BoqItemsByJob(r.Context(), job.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type patchBoqItemRequest struct {
	Description      *string  `json:"description"`
	Unit             *string  `json:"unit"`
	Qty              *float64 `json:"qty"`
	Allowance        *float64 `json:"allowance"`
	UnitPrice        *float64 `json:"unit_price"`
	UpdatedAt        string   `json:"updated_at"`
	CheckConcurrency bool     `json:"check_concurrency"`
}

// handlePatchBoqItem applies a single-row edit. A conflicting UpdatedAt
// token surfaces as a 409 through httperr's Meta passthrough — the store
// layer stamps expected/actual timestamps on the error, so the client can
// re-fetch and retry without a second round trip to learn why it failed.
func (h *handlers) handlePatchBoqItem(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	itemID := mux.Vars(r)["id"]
	var req patchBoqItemRequest
	if err := decodeJSON(w, r, &req, 0); err != nil {
		writeError(w, r, err)
		return
	}

	patch := boq.Patch{
		ItemID:      itemID,
		Description: req.Description,
		Unit:        req.Unit,
		Qty:         req.Qty,
		Allowance:   req.Allowance,
		UnitPrice:   req.UnitPrice,
		UpdatedAt:   req.UpdatedAt,
	}
	result, err := h.deps.BoqEd.UpdateOne(r.Context(), userID, patch, userID, req.CheckConcurrency)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.recordAudit(r, audit.EventMutation, "boq_item_patched", "boq_item:"+itemID, nil)
	writeJSON(w, http.StatusOK, result)
}

type bulkPatchItem struct {
	ItemID string `json:"item_id"`
	patchBoqItemRequest
}

type bulkBoqPatchRequest struct {
	Items []bulkPatchItem `json:"items"`
}

func (h *handlers) handleBulkBoqPatch(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	var req bulkBoqPatchRequest
	if err := decodeJSON(w, r, &req, 0); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, r, errs.Validationf("empty_patch_set", "items must not be empty"))
		return
	}

	patches := make([]boq.Patch, len(req.Items))
	for i, it := range req.Items {
		patches[i] = boq.Patch{
			ItemID:      it.ItemID,
			Description: it.Description,
			Unit:        it.Unit,
			Qty:         it.Qty,
			Allowance:   it.Allowance,
			UnitPrice:   it.UnitPrice,
			UpdatedAt:   it.UpdatedAt,
		}
	}
	summary, err := h.deps.BoqEd.UpdateMany(r.Context(), userID, patches, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.recordAudit(r, audit.EventMutation, "boq_bulk_patched", "boq_items", map[string]interface{}{"item_count": len(patches)})
	writeJSON(w, http.StatusOK, summary)
}

func (h *handlers) handleBoqValidate(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		writeError(w, r, errs.New(errs.Unauthenticated, "unauthenticated", "missing session"))
		return
	}
	jobID := mux.Vars(r)["id"]
	problems, err := h.deps.BoqEd.Validate(r.Context(), userID, jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, problems)
}
