// Package access implements a permission based view access check for
// referenced entities.
package access

import (
	"context"

	"github.com/tendant/merged-fields/pkg/entityfields"
)

// PermissionBypass grants access to every entity
const PermissionBypass = "bypass entity access"

// ViewPermission returns the permission needed to view published entities of a type
func ViewPermission(entityType string) string {
	return "view " + entityType
}

// ViewOwnUnpublishedPermission returns the permission needed to view one's own
// unpublished entities of a type
func ViewOwnUnpublishedPermission(entityType string) string {
	return "view own unpublished " + entityType
}

// PermissionChecker grants view access from the permissions of the account.
//
//   - PermissionBypass allows everything.
//   - Published entities need ViewPermission(type).
//   - Unpublished entities need ViewOwnUnpublishedPermission(type) and ownership.
//
// Every result varies by permissions; ownership checks also vary per user.
// Results involving the entity state depend on the entity cache tags.
type PermissionChecker struct{}

// New creates a permission checker
func New() *PermissionChecker {
	return &PermissionChecker{}
}

// Access implements entityfields.AccessChecker
func (c *PermissionChecker) Access(ctx context.Context, entity *entityfields.Entity, operation string, account entityfields.Account) entityfields.AccessResult {
	if account.HasPermission(PermissionBypass) {
		return entityfields.Allowed().CachePerPermissions()
	}

	if operation != entityfields.OperationView {
		return entityfields.Forbidden("unsupported operation " + operation).CachePerPermissions()
	}

	if !entity.Published {
		result := entityfields.Forbidden("entity is unpublished")
		if account.HasPermission(ViewOwnUnpublishedPermission(entity.TypeID)) {
			if !account.IsAnonymous() && account.ID == entity.OwnerID {
				result = entityfields.Allowed()
			}
			result = result.CachePerUser()
		}
		return result.CachePerPermissions().AddCacheableDependency(entity)
	}

	if account.HasPermission(ViewPermission(entity.TypeID)) {
		return entityfields.Allowed().CachePerPermissions().AddCacheableDependency(entity)
	}
	return entityfields.Forbidden("missing permission " + ViewPermission(entity.TypeID)).CachePerPermissions()
}
