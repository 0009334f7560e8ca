package entityfields

import (
	"context"
	"log/slog"
)

// Hooks allow extending the render pipeline without modifying the formatter.
// They are called for every referenced entity that reaches rendering.
type Hooks struct {
	// BeforeEntityRender runs after the display is resolved. An error skips the entity.
	BeforeEntityRender []BeforeEntityRenderHook

	// AfterEntityRender runs on the processed tree. An error drops the entity from output.
	AfterEntityRender []AfterEntityRenderHook

	// OnError is notified of logged configuration and storage failures
	OnError []ErrorHook
}

// HookContext carries information through the hook chain
type HookContext struct {
	Context   context.Context
	Metadata  map[string]interface{} // Custom metadata passed between hooks
	StopChain bool                   // Set to true to stop processing remaining hooks
}

// NewHookContext creates a new hook context
func NewHookContext(ctx context.Context) *HookContext {
	return &HookContext{
		Context:  ctx,
		Metadata: make(map[string]interface{}),
	}
}

// BeforeEntityRenderHook is called before an entity is rendered
type BeforeEntityRenderHook func(hctx *HookContext, entity *Entity, display *Display) error

// AfterEntityRenderHook is called after an entity tree was processed
type AfterEntityRenderHook func(hctx *HookContext, rendered *RenderedEntity) error

// ErrorHook is called when an error occurs
type ErrorHook func(hctx *HookContext, operation string, err error)

// Merge appends the hooks of other after the receiver's and returns the result
func (h *Hooks) Merge(other *Hooks) *Hooks {
	out := &Hooks{}
	for _, src := range []*Hooks{h, other} {
		if src == nil {
			continue
		}
		out.BeforeEntityRender = append(out.BeforeEntityRender, src.BeforeEntityRender...)
		out.AfterEntityRender = append(out.AfterEntityRender, src.AfterEntityRender...)
		out.OnError = append(out.OnError, src.OnError...)
	}
	return out
}

func (h *Hooks) executeBeforeEntityRender(ctx context.Context, entity *Entity, display *Display) error {
	if h == nil || len(h.BeforeEntityRender) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.BeforeEntityRender {
		if err := hook(hctx, entity, display); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeAfterEntityRender(ctx context.Context, rendered *RenderedEntity) error {
	if h == nil || len(h.AfterEntityRender) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterEntityRender {
		if err := hook(hctx, rendered); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeOnError(ctx context.Context, operation string, err error) {
	if h == nil || len(h.OnError) == 0 {
		return
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.OnError {
		hook(hctx, operation, err)
		if hctx.StopChain {
			break
		}
	}
}

// LoggingHook logs every rendered entity at debug level
func LoggingHook(logger *slog.Logger) *Hooks {
	return &Hooks{
		AfterEntityRender: []AfterEntityRenderHook{
			func(hctx *HookContext, rendered *RenderedEntity) error {
				logger.DebugContext(hctx.Context, "Entity rendered",
					"entity_type", rendered.EntityType,
					"entity_id", rendered.EntityID,
					"view_mode", rendered.ViewMode,
					"elements", len(rendered.Elements))
				return nil
			},
		},
	}
}
