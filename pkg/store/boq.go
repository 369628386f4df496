package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/takeoffworks/estimator/pkg/crypto"
	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/types"
)

func (s *Store) BoqItemCreate(ctx context.Context, b *types.BoqItem) error {
	now := s.now()
	b.CreatedAt, b.UpdatedAt = now, now
	b.Recompute()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO boq_items (id, job_id, code, description, unit, qty, mapped_price_item, allowance, unit_price, total_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		b.ID, b.JobID, b.Code, b.Description, b.Unit, b.Qty, b.MappedPriceItem, b.Allowance, b.UnitPrice, b.TotalPrice, fmtTime(now), fmtTime(now))
	return err
}

func (s *Store) BoqItemGetByID(ctx context.Context, id string) (*types.BoqItem, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, job_id, code, description, unit, qty, mapped_price_item, allowance, unit_price, total_price, created_at, updated_at
		FROM boq_items WHERE id = ?`), id)
	return scanBoqItem(row)
}

func scanBoqItem(row *sql.Row) (*types.BoqItem, error) {
	var b types.BoqItem
	var createdAt, updatedAt string
	err := row.Scan(&b.ID, &b.JobID, &b.Code, &b.Description, &b.Unit, &b.Qty, &b.MappedPriceItem, &b.Allowance, &b.UnitPrice, &b.TotalPrice, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("boq_item_not_found", "BoQ item not found")
	}
	if err != nil {
		return nil, errs.Internalf("boq_item_scan", err)
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

// BoqItemsCreateBatch inserts every item in one transaction — the
// takeoff step's "persist in one transaction" requirement, so a crash
// partway through a large extraction never leaves a job with a partial
// BoQ.
func (s *Store) BoqItemsCreateBatch(ctx context.Context, items []*types.BoqItem) error {
	return s.TxDo(ctx, func(ctx context.Context, tx *sql.Tx) error {
		now := s.now()
		for _, b := range items {
			b.CreatedAt, b.UpdatedAt = now, now
			b.Recompute()
			_, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO boq_items (id, job_id, code, description, unit, qty, mapped_price_item, allowance, unit_price, total_price, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				b.ID, b.JobID, b.Code, b.Description, b.Unit, b.Qty, b.MappedPriceItem, b.Allowance, b.UnitPrice, b.TotalPrice, fmtTime(now), fmtTime(now))
			if err != nil {
				return errs.Internalf("boq_item_batch_insert", err)
			}
		}
		return nil
	})
}

func (s *Store) BoqItemsByJob(ctx context.Context, jobID string) ([]*types.BoqItem, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, job_id, code, description, unit, qty, mapped_price_item, allowance, unit_price, total_price, created_at, updated_at
		FROM boq_items WHERE job_id = ? ORDER BY code ASC`), jobID)
	if err != nil {
		return nil, errs.Internalf("boq_items_by_job", err)
	}
	defer rows.Close()

	var out []*types.BoqItem
	for rows.Next() {
		var b types.BoqItem
		var createdAt, updatedAt string
		if err := rows.Scan(&b.ID, &b.JobID, &b.Code, &b.Description, &b.Unit, &b.Qty, &b.MappedPriceItem, &b.Allowance, &b.UnitPrice, &b.TotalPrice, &createdAt, &updatedAt); err != nil {
			return nil, errs.Internalf("boq_items_scan", err)
		}
		b.CreatedAt = parseTime(createdAt)
		b.UpdatedAt = parseTime(updatedAt)
		out = append(out, &b)
	}
	return out, rows.Err()
}

// conflictErr builds the errs.Conflict for BoQ edit collisions, carrying the
// expected/actual updated_at tokens in Meta so callers can surface a
// "someone else edited this" message with the competing timestamp.
func conflictErr(expected, actual string) *errs.Error {
	return errs.WithMeta(errs.Conflict, "stale_update_token", "item was modified by another edit",
		map[string]any{"expected_updated_at": expected, "actual_updated_at": actual})
}

// BoqItemUpdateIf applies mutate to the item identified by id if and only if
// its current updated_at matches expectedUpdatedAt within a 1-second
// tolerance (clients send back the token they last read; clock skew between
// the token's serialization and the DB's stored value is expected). On
// success it recomputes total_price, appends a hash-chained Revision
// capturing exactly the fields mutate changed, and commits all three in one
// transaction. On mismatch it returns errs.Conflict without applying
// anything.
func (s *Store) BoqItemUpdateIf(ctx context.Context, id string, expectedUpdatedAt string, actor string, mutate func(*types.BoqItem)) (*types.BoqItem, error) {
	var result *types.BoqItem
	err := s.TxDo(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.q(`
			SELECT id, job_id, code, description, unit, qty, mapped_price_item, allowance, unit_price, total_price, created_at, updated_at
			FROM boq_items WHERE id = ?`), id)
		before, err := scanBoqItem(row)
		if err != nil {
			return err
		}

		actualToken := fmtTime(before.UpdatedAt)
		if !withinOneSecond(expectedUpdatedAt, actualToken) {
			return conflictErr(expectedUpdatedAt, actualToken)
		}

		snapshot := *before
		after := *before
		mutate(&after)
		after.Recompute()
		after.UpdatedAt = s.now()

		changes := diffFields(&snapshot, &after)
		if len(changes) == 0 {
			result = &after
			return nil
		}

		_, err = tx.ExecContext(ctx, s.q(`
			UPDATE boq_items SET description = ?, unit = ?, qty = ?, mapped_price_item = ?, allowance = ?, unit_price = ?, total_price = ?, updated_at = ?
			WHERE id = ?`),
			after.Description, after.Unit, after.Qty, after.MappedPriceItem, after.Allowance, after.UnitPrice, after.TotalPrice, fmtTime(after.UpdatedAt), id)
		if err != nil {
			return errs.Internalf("boq_item_update", err)
		}

		if err := s.appendRevision(ctx, tx, id, actor, changes); err != nil {
			return err
		}

		result = &after
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// diffFields compares the fields a revision cares about and returns only
// those that actually changed.
func diffFields(before, after *types.BoqItem) map[string]types.FieldChange {
	changes := map[string]types.FieldChange{}
	add := func(field string, oldV, newV any) {
		if oldV != newV {
			changes[field] = types.FieldChange{Old: oldV, New: newV}
		}
	}
	add("description", before.Description, after.Description)
	add("unit", before.Unit, after.Unit)
	add("qty", before.Qty, after.Qty)
	add("mapped_price_item", before.MappedPriceItem, after.MappedPriceItem)
	add("allowance", before.Allowance, after.Allowance)
	add("unit_price", before.UnitPrice, after.UnitPrice)
	add("total_price", before.TotalPrice, after.TotalPrice)
	return changes
}

// appendRevision hash-chains a Revision onto the BoQ item's revision trail.
// Grounded on pkg/ledger.Ledger.Append: content_hash = SHA256(JCS(changes,
// prev_hash)), prev_hash = previous revision's content_hash (empty for the
// first revision), giving the same tamper-evident chaining the teacher's
// Ledger provides, but scoped per BoQ item and backed by the relational
// store instead of an in-memory slice.
func (s *Store) appendRevision(ctx context.Context, tx *sql.Tx, boqItemID, actor string, changes map[string]types.FieldChange) error {
	var prevHash sql.NullString
	err := tx.QueryRowContext(ctx, s.q(`
		SELECT content_hash FROM revisions WHERE boq_item_id = ? ORDER BY created_at DESC LIMIT 1`), boqItemID).Scan(&prevHash)
	if err != nil && err != sql.ErrNoRows {
		return errs.Internalf("revision_prev_hash", err)
	}

	hasher := crypto.NewCanonicalHasher()
	hash, err := hasher.Hash(map[string]any{"prev_hash": prevHash.String, "actor": actor, "changes": changes})
	if err != nil {
		return errs.Internalf("revision_hash", err)
	}

	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return errs.Internalf("revision_marshal", err)
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO revisions (id, boq_item_id, actor, changes, content_hash, prev_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		newRevisionID(), boqItemID, actor, string(changesJSON), hash, prevHash.String, fmtTime(s.now()))
	if err != nil {
		return errs.Internalf("revision_insert", err)
	}
	return nil
}

func (s *Store) RevisionsByBoqItem(ctx context.Context, boqItemID string) ([]*types.Revision, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, boq_item_id, actor, changes, created_at FROM revisions WHERE boq_item_id = ? ORDER BY created_at ASC`), boqItemID)
	if err != nil {
		return nil, errs.Internalf("revisions_list", err)
	}
	defer rows.Close()

	var out []*types.Revision
	for rows.Next() {
		var r types.Revision
		var changesJSON, createdAt string
		if err := rows.Scan(&r.ID, &r.BoqItemID, &r.Actor, &changesJSON, &createdAt); err != nil {
			return nil, errs.Internalf("revisions_scan", err)
		}
		_ = json.Unmarshal([]byte(changesJSON), &r.Changes)
		r.CreatedAt = parseTime(createdAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}
