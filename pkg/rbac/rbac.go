// Package rbac enforces the estimator's ordered-role access control:
// owner(3) > editor(2) > viewer(1). Every project-scoped operation checks
// membership here rather than against row ownership, per the spec's
// resolved Open Question on RBAC check scope.
package rbac

import (
	"context"

	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/types"
)

// ProjectAccessStore is the slice of pkg/store.Store this package depends
// on — kept as a narrow interface so tests can fake it without a database.
type ProjectAccessStore interface {
	ProjectGetByID(ctx context.Context, id string) (*types.Project, error)
	CollaboratorRole(ctx context.Context, projectID, userID string) (types.Role, error)
}

// RequireProjectAccess checks that userID has at least minRole on
// projectID, returning the user's actual role on success. The project
// owner always has RoleOwner regardless of the collaborators table. A
// user with no collaborator row is Forbidden, not NotFound — project
// existence is not something a non-member should be able to probe for
// via the error kind.
//
// Grounded on authz.Engine.Check, collapsed from ReBAC's transitive tuple
// graph to a flat ordered comparison: this domain has exactly three roles
// in a total order, not an open relation graph, so there is nothing for
// group-expansion or relation-rewrite traversal to do.
func RequireProjectAccess(ctx context.Context, store ProjectAccessStore, projectID, userID string, minRole types.Role) (types.Role, error) {
	project, err := store.ProjectGetByID(ctx, projectID)
	if err != nil {
		return "", err
	}

	if project.OwnerUserID == userID {
		return types.RoleOwner, nil
	}

	role, err := store.CollaboratorRole(ctx, projectID, userID)
	if err != nil {
		if errs.KindOf(err) == errs.NotFound {
			return "", errs.Forbiddenf("not_project_member", "user is not a member of project %s", projectID)
		}
		return "", err
	}

	if role.Rank() < minRole.Rank() {
		return "", errs.Forbiddenf("insufficient_role", "operation requires role %s or higher, user has %s", minRole, role)
	}
	return role, nil
}
