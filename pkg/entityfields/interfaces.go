package entityfields

import "context"

// EntityStorage loads entities of a single entity type
type EntityStorage interface {
	// Load returns the entity with the given id or ErrEntityNotFound
	Load(ctx context.Context, id string) (*Entity, error)
}

// StorageResolver returns the storage handler for an entity type.
// It returns ErrUnknownEntityType when no handler is registered.
type StorageResolver interface {
	Storage(entityType string) (EntityStorage, error)
}

// DisplayRepository provides entity view display configuration
type DisplayRepository interface {
	// Display returns the display keyed {entity_type}.{bundle}.{view_mode}
	// or ErrDisplayNotFound
	Display(ctx context.Context, id string) (*Display, error)

	// ViewModes lists the view modes known for an entity type
	ViewModes(ctx context.Context, entityType string) ([]ViewMode, error)
}

// EntityTypeRepository provides entity type definitions
type EntityTypeRepository interface {
	// EntityType returns the definition or ErrEntityTypeNotFound
	EntityType(ctx context.Context, id string) (*EntityType, error)
}

// AccessChecker decides whether an account may perform an operation on an entity
type AccessChecker interface {
	Access(ctx context.Context, entity *Entity, operation string, account Account) AccessResult
}

// Renderer builds the render tree of an entity for a display
type Renderer interface {
	Build(ctx context.Context, entity *Entity, display *Display, langcode string) (*RenderTree, error)
}

// Operation names passed to AccessChecker
const (
	OperationView = "view"
)

// AccessResult is the outcome of an access check together with the cache
// metadata the decision depends on
type AccessResult struct {
	Allowed bool
	Reason  string
	Cache   CacheableMetadata
}

// Allowed returns an allowing result
func Allowed() AccessResult {
	return AccessResult{Allowed: true, Cache: NewCacheableMetadata()}
}

// Forbidden returns a denying result with a reason
func Forbidden(reason string) AccessResult {
	return AccessResult{Reason: reason, Cache: NewCacheableMetadata()}
}

// CachePerPermissions adds the permissions cache context to the result
func (r AccessResult) CachePerPermissions() AccessResult {
	r.Cache = r.Cache.AddContexts("user.permissions")
	return r
}

// CachePerUser adds the user cache context to the result
func (r AccessResult) CachePerUser() AccessResult {
	r.Cache = r.Cache.AddContexts("user")
	return r
}

// AddCacheableDependency merges the entity metadata into the result
func (r AccessResult) AddCacheableDependency(entity *Entity) AccessResult {
	r.Cache = r.Cache.Merge(entity.CacheableMetadata())
	return r
}
