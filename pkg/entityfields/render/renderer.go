// Package render builds entity render trees from view display configuration.
package render

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/tendant/merged-fields/pkg/entityfields"
)

// RegionHidden marks a component that is configured but not displayed
const RegionHidden = "hidden"

// Renderer turns the components of a display into render tree elements.
// One element is produced per displayed component that has values on the
// entity. The entity label is used for the label key of the entity type when
// the entity carries no field of that name.
type Renderer struct {
	entityTypes entityfields.EntityTypeRepository
}

// Option configures the renderer
type Option func(*Renderer)

// WithEntityTypes lets the renderer map the entity type label key to Entity.Label
func WithEntityTypes(entityTypes entityfields.EntityTypeRepository) Option {
	return func(r *Renderer) {
		r.entityTypes = entityTypes
	}
}

// New creates a renderer
func New(options ...Option) *Renderer {
	r := &Renderer{}
	for _, option := range options {
		option(r)
	}
	return r
}

// Build implements entityfields.Renderer
func (r *Renderer) Build(ctx context.Context, entity *entityfields.Entity, display *entityfields.Display, langcode string) (*entityfields.RenderTree, error) {
	if entity == nil {
		return nil, errors.New("entity is required")
	}
	if display == nil {
		return nil, errors.New("display is required")
	}

	labelKey := r.labelKey(ctx, entity.TypeID)

	names := make([]string, 0, len(display.Components))
	for name := range display.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	tree := &entityfields.RenderTree{
		Elements: []entityfields.Element{},
		Cache:    entityfields.NewCacheableMetadata().AddTags(DisplayCacheTag(display.ID)),
	}
	for _, name := range names {
		component := display.Components[name]
		if component.Region == RegionHidden {
			continue
		}

		values := entity.Fields[name]
		if len(values) == 0 && name == labelKey && entity.Label != "" {
			values = []any{entity.Label}
		}
		if len(values) == 0 {
			continue
		}

		tree.Elements = append(tree.Elements, entityfields.Element{
			Key:          name,
			Weight:       component.Weight,
			Label:        HumanizeFieldName(name),
			LabelDisplay: component.Label,
			Formatter:    component.Type,
			Items:        append([]any(nil), values...),
			Settings:     component.Settings,
		})
	}

	if langcode != "" {
		tree.Cache = tree.Cache.AddContexts("languages:language_content")
	}
	return tree, nil
}

func (r *Renderer) labelKey(ctx context.Context, entityType string) string {
	if r.entityTypes == nil {
		return ""
	}
	definition, err := r.entityTypes.EntityType(ctx, entityType)
	if err != nil {
		return ""
	}
	return definition.LabelKey()
}

// DisplayCacheTag returns the cache tag of a view display
func DisplayCacheTag(displayID string) string {
	return "config:core.entity_view_display." + displayID
}

// HumanizeFieldName turns field_related_items into "Related items"
func HumanizeFieldName(name string) string {
	name = strings.TrimPrefix(name, "field_")
	name = strings.ReplaceAll(name, "_", " ")
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
