package store

import (
	"context"
	"database/sql"

	"github.com/Masterminds/semver/v3"

	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/types"
)

func (s *Store) SupplierCreate(ctx context.Context, sp *types.Supplier) error {
	sp.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO suppliers (id, project_id, name, is_default, created_at) VALUES (?, ?, ?, ?, ?)`),
		sp.ID, sp.ProjectID, sp.Name, boolToInt(sp.IsDefault), fmtTime(sp.CreatedAt))
	return err
}

func (s *Store) SuppliersByProject(ctx context.Context, projectID string) ([]*types.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, project_id, name, is_default, created_at FROM suppliers WHERE project_id = ?`), projectID)
	if err != nil {
		return nil, errs.Internalf("suppliers_list", err)
	}
	defer rows.Close()

	var out []*types.Supplier
	for rows.Next() {
		var sp types.Supplier
		var isDefault int
		var createdAt string
		if err := rows.Scan(&sp.ID, &sp.ProjectID, &sp.Name, &isDefault, &createdAt); err != nil {
			return nil, errs.Internalf("suppliers_scan", err)
		}
		sp.IsDefault = isDefault != 0
		sp.CreatedAt = parseTime(createdAt)
		out = append(out, &sp)
	}
	return out, rows.Err()
}

func (s *Store) SupplierPriceItemUpsert(ctx context.Context, item *types.SupplierPriceItem) error {
	item.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO supplier_price_items (id, supplier_id, code, unit_price, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET unit_price = excluded.unit_price, updated_at = excluded.updated_at`),
		item.ID, item.SupplierID, item.Code, item.UnitPrice, fmtTime(item.UpdatedAt))
	return err
}

// SupplierPriceItemByCode resolves a single BoQ code against a supplier's
// price book, returning errs.NotFound if no entry exists for the code.
func (s *Store) SupplierPriceItemByCode(ctx context.Context, supplierID, code string) (*types.SupplierPriceItem, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, supplier_id, code, unit_price, updated_at FROM supplier_price_items WHERE supplier_id = ? AND code = ?`), supplierID, code)
	var item types.SupplierPriceItem
	var updatedAt string
	err := row.Scan(&item.ID, &item.SupplierID, &item.Code, &item.UnitPrice, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("price_code_unresolved", "no price for code %q", code)
	}
	if err != nil {
		return nil, errs.Internalf("supplier_price_item_scan", err)
	}
	item.UpdatedAt = parseTime(updatedAt)
	return &item, nil
}

func (s *Store) PriceListCreate(ctx context.Context, pl *types.PriceList) error {
	pl.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO price_lists (id, name, version, active, is_admin, validate_cel, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		pl.ID, pl.Name, pl.Version, boolToInt(pl.Active), boolToInt(pl.IsAdmin), pl.ValidateCEL, fmtTime(pl.CreatedAt))
	return err
}

func (s *Store) PriceListGetByID(ctx context.Context, id string) (*types.PriceList, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, name, version, active, is_admin, validate_cel, created_at FROM price_lists WHERE id = ?`), id)
	var pl types.PriceList
	var active, isAdmin int
	var createdAt string
	err := row.Scan(&pl.ID, &pl.Name, &pl.Version, &active, &isAdmin, &pl.ValidateCEL, &createdAt)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("price_list_not_found", "price list not found")
	}
	if err != nil {
		return nil, errs.Internalf("price_list_scan", err)
	}
	pl.Active = active != 0
	pl.IsAdmin = isAdmin != 0
	pl.CreatedAt = parseTime(createdAt)
	return &pl, nil
}

// PriceListActiveAdmin returns the active admin-maintained price list —
// the fallback tier of pricing resolution when a job has neither an
// explicit price list nor a default supplier. More than one list can be
// marked active at once (e.g. mid-rollout of a new rate card), in which
// case the highest non-prerelease semver wins; ties or unparseable
// versions fall back to most-recently-created.
func (s *Store) PriceListActiveAdmin(ctx context.Context) (*types.PriceList, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, name, version, active, is_admin, validate_cel, created_at
		FROM price_lists WHERE active = 1 AND is_admin = 1 ORDER BY created_at DESC`))
	if err != nil {
		return nil, errs.Internalf("price_list_active_admin_query", err)
	}
	defer rows.Close()

	var candidates []*types.PriceList
	for rows.Next() {
		var pl types.PriceList
		var active, isAdmin int
		var createdAt string
		if err := rows.Scan(&pl.ID, &pl.Name, &pl.Version, &active, &isAdmin, &pl.ValidateCEL, &createdAt); err != nil {
			return nil, errs.Internalf("price_list_active_admin_scan", err)
		}
		pl.Active = active != 0
		pl.IsAdmin = isAdmin != 0
		pl.CreatedAt = parseTime(createdAt)
		candidates = append(candidates, &pl)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Internalf("price_list_active_admin_rows", err)
	}
	if len(candidates) == 0 {
		return nil, errs.NotFoundf("price_list_not_found", "no active admin price list")
	}
	return highestSemverOrFirst(candidates), nil
}

// highestSemverOrFirst picks the candidate with the greatest non-prerelease
// semver version. candidates is assumed already ordered most-recent-first,
// which is also the tiebreak when versions are equal, missing, or
// unparseable — only a strictly greater parsed version displaces the
// current pick.
func highestSemverOrFirst(candidates []*types.PriceList) *types.PriceList {
	best := candidates[0]
	bestVer, bestOK := parseNonPrerelease(best.Version)
	for _, c := range candidates[1:] {
		v, ok := parseNonPrerelease(c.Version)
		if !ok {
			continue
		}
		if !bestOK || v.GreaterThan(bestVer) {
			best, bestVer, bestOK = c, v, true
		}
	}
	return best
}

// parseNonPrerelease parses raw as a semver version, rejecting prerelease
// versions (e.g. "2.0.0-rc1") so a rate card still being validated never
// outranks the current stable one even if its version number is higher.
func parseNonPrerelease(raw string) (*semver.Version, bool) {
	v, err := semver.NewVersion(raw)
	if err != nil || v.Prerelease() != "" {
		return nil, false
	}
	return v, true
}

func (s *Store) PriceItemUpsert(ctx context.Context, item *types.PriceItem) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO price_items (id, price_list_id, code, unit_price) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET unit_price = excluded.unit_price`),
		item.ID, item.PriceListID, item.Code, item.UnitPrice)
	return err
}

func (s *Store) PriceItemByCode(ctx context.Context, priceListID, code string) (*types.PriceItem, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, price_list_id, code, unit_price FROM price_items WHERE price_list_id = ? AND code = ?`), priceListID, code)
	var item types.PriceItem
	err := row.Scan(&item.ID, &item.PriceListID, &item.Code, &item.UnitPrice)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("price_code_unresolved", "no price for code %q", code)
	}
	if err != nil {
		return nil, errs.Internalf("price_item_scan", err)
	}
	return &item, nil
}
