package boq

import (
	"context"
	"fmt"
	"math"

	"github.com/google/cel-go/cel"

	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/rbac"
	"github.com/takeoffworks/estimator/pkg/types"
)

// Problem is one finding from Validate. Warnings (e.g. duplicate codes)
// don't block anything downstream; they're surfaced for the user to
// review.
type Problem struct {
	ItemID  string
	Kind    string // "missing_field" | "negative_value" | "price_mismatch" | "duplicate_code" | "rule_violation"
	Message string
	Warning bool
}

// Validate scans every BoQ row on job jobID: missing description/unit,
// negative numerics, a total_price drifted more than 0.01 from
// qty*unit_price+allowance, duplicate non-null codes (warning only), and —
// if the job's resolved price list carries one — a CEL expression
// evaluated per row for project-specific acceptance rules.
func (e *Editor) Validate(ctx context.Context, userID, jobID string) ([]Problem, error) {
	job, err := e.store.JobGetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := rbac.RequireProjectAccess(ctx, e.store, job.ProjectID, userID, types.RoleViewer); err != nil {
		return nil, err
	}

	items, err := e.store.BoqItemsByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var prog cel.Program
	if job.PriceListID != "" {
		if pl, rule, ok := e.resolveValidationRule(ctx, job.PriceListID); ok {
			if p, err := compileRule(rule); err != nil {
				e.logger.WarnContext(ctx, "invalid CEL validation rule, skipping", "price_list_id", pl, "error", err)
			} else {
				prog = p
			}
		}
	}

	var problems []Problem
	seenCodes := map[string]bool{}
	for _, item := range items {
		if item.Description == "" {
			problems = append(problems, Problem{ItemID: item.ID, Kind: "missing_field", Message: "missing description"})
		}
		if item.Unit == "" {
			problems = append(problems, Problem{ItemID: item.ID, Kind: "missing_field", Message: "missing unit"})
		}
		if item.Qty < 0 || item.UnitPrice < 0 || item.Allowance < 0 {
			problems = append(problems, Problem{ItemID: item.ID, Kind: "negative_value", Message: "negative numeric field"})
		}
		if expected := item.Qty*item.UnitPrice + item.Allowance; math.Abs(expected-item.TotalPrice) > 0.01 {
			problems = append(problems, Problem{ItemID: item.ID, Kind: "price_mismatch", Message: fmt.Sprintf("total_price %.2f does not match qty*unit_price+allowance %.2f", item.TotalPrice, expected)})
		}
		if item.Code != "" {
			if seenCodes[item.Code] {
				problems = append(problems, Problem{ItemID: item.ID, Kind: "duplicate_code", Message: fmt.Sprintf("duplicate code %q", item.Code), Warning: true})
			}
			seenCodes[item.Code] = true
		}
		if prog != nil {
			if ok, err := evalRule(prog, item); err != nil {
				e.logger.WarnContext(ctx, "CEL rule evaluation failed", "item_id", item.ID, "error", err)
			} else if !ok {
				problems = append(problems, Problem{ItemID: item.ID, Kind: "rule_violation", Message: "item fails price list validation rule"})
			}
		}
	}

	return problems, nil
}

func (e *Editor) resolveValidationRule(ctx context.Context, priceRef string) (priceListID, rule string, ok bool) {
	id := priceRef
	if len(priceRef) > len("pricelist:") && priceRef[:len("pricelist:")] == "pricelist:" {
		id = priceRef[len("pricelist:"):]
	} else {
		return "", "", false
	}
	pl, err := e.store.PriceListGetByID(ctx, id)
	if err != nil || pl.ValidateCEL == "" {
		return "", "", false
	}
	return id, pl.ValidateCEL, true
}

// compileRule compiles expr against an environment exposing the BoQ row's
// numeric fields (qty, unit_price, allowance, total_price) so price lists
// can declare rules like "qty >= 0 && unit_price >= 0" without this
// package needing to know them ahead of time.
func compileRule(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("qty", cel.DoubleType),
		cel.Variable("unit_price", cel.DoubleType),
		cel.Variable("allowance", cel.DoubleType),
		cel.Variable("total_price", cel.DoubleType),
	)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	return env.Program(ast)
}

func evalRule(prog cel.Program, item *types.BoqItem) (bool, error) {
	out, _, err := prog.Eval(map[string]any{
		"qty":         item.Qty,
		"unit_price":  item.UnitPrice,
		"allowance":   item.Allowance,
		"total_price": item.TotalPrice,
	})
	if err != nil {
		return false, err
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, errs.Internalf("rule_not_bool", fmt.Errorf("CEL rule did not evaluate to a bool"))
	}
	return result, nil
}
