package entityfields

import (
	"cmp"
	"context"

	"golang.org/x/exp/slices"
)

// DisplayListCacheTag is invalidated whenever any view display changes
const DisplayListCacheTag = "config:entity_view_display_list"

// SortByWeight orders elements by ascending weight. The sort is stable:
// elements of equal weight keep their relative order.
func SortByWeight(elements []Element) {
	slices.SortStableFunc(elements, func(a, b Element) int {
		return cmp.Compare(a.Weight, b.Weight)
	})
}

// renderEntity builds and post-processes the tree of one accessible entity.
// It reports false when the entity contributes nothing to the output.
func (f *Formatter) renderEntity(ctx context.Context, entity *Entity, delta int, langcode, labelKey string) (*RenderedEntity, CacheableMetadata, bool) {
	display, mode := f.resolveDisplay(ctx, entity)
	if display == nil {
		// A display created later must invalidate this output.
		return nil, NewCacheableMetadata().AddTags(DisplayListCacheTag), false
	}

	if err := f.hooks.executeBeforeEntityRender(ctx, entity, display); err != nil {
		f.logger.WarnContext(ctx, "Entity render vetoed by hook",
			"entity_type", entity.TypeID, "entity_id", entity.ID, "error", err)
		return nil, CacheableMetadata{}, false
	}

	tree, err := f.renderer.Build(ctx, entity, display, langcode)
	if err == nil && tree == nil {
		err = ErrEmptyRender
	}
	if err != nil {
		f.logger.ErrorContext(ctx, "Failed to render referenced entity",
			"entity_type", entity.TypeID, "entity_id", entity.ID, "display", display.ID, "error", err)
		f.hooks.executeOnError(ctx, "render_entity", err)
		return nil, CacheableMetadata{}, false
	}

	// Work on a copy so the renderer's tree is left untouched.
	processed := RenderTree{
		Elements: append([]Element(nil), tree.Elements...),
		Cache:    tree.Cache,
	}
	if !f.settings.ShowEntityLabel && labelKey != "" {
		processed.Remove(labelKey)
	}
	SortByWeight(processed.Elements)

	rendered := &RenderedEntity{
		Delta:      delta,
		EntityType: entity.TypeID,
		EntityID:   entity.ID,
		Bundle:     entity.Bundle,
		ViewMode:   mode,
		Langcode:   langcode,
		Elements:   processed.Elements,
	}
	if err := f.hooks.executeAfterEntityRender(ctx, rendered); err != nil {
		f.logger.WarnContext(ctx, "Rendered entity dropped by hook",
			"entity_type", entity.TypeID, "entity_id", entity.ID, "error", err)
		return nil, CacheableMetadata{}, false
	}

	cache := processed.Cache
	if mode != f.settings.ViewMode {
		// Creating the configured display must invalidate a fallback render.
		cache = cache.AddTags(DisplayListCacheTag)
	}
	return rendered, cache, true
}
