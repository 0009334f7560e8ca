package entityfields

import "context"

// AllowAllAccessChecker grants view access to every entity.
// Useful for trusted back-office rendering and for testing.
type AllowAllAccessChecker struct{}

// NewAllowAllAccessChecker creates an access checker that allows everything
func NewAllowAllAccessChecker() AccessChecker {
	return &AllowAllAccessChecker{}
}

// Access always allows and depends on nothing
func (a *AllowAllAccessChecker) Access(ctx context.Context, entity *Entity, operation string, account Account) AccessResult {
	return Allowed()
}

// StorageResolverFunc adapts a function to StorageResolver
type StorageResolverFunc func(entityType string) (EntityStorage, error)

// Storage calls fn(entityType)
func (fn StorageResolverFunc) Storage(entityType string) (EntityStorage, error) {
	return fn(entityType)
}

// RendererFunc adapts a function to Renderer
type RendererFunc func(ctx context.Context, entity *Entity, display *Display, langcode string) (*RenderTree, error)

// Build calls fn
func (fn RendererFunc) Build(ctx context.Context, entity *Entity, display *Display, langcode string) (*RenderTree, error) {
	return fn(ctx, entity, display, langcode)
}

// AccessCheckerFunc adapts a function to AccessChecker
type AccessCheckerFunc func(ctx context.Context, entity *Entity, operation string, account Account) AccessResult

// Access calls fn
func (fn AccessCheckerFunc) Access(ctx context.Context, entity *Entity, operation string, account Account) AccessResult {
	return fn(ctx, entity, operation, account)
}
