// Package fixture loads entity types, entities, view displays and field
// definitions from YAML documents into a repository.
package fixture

import (
	"context"
	"fmt"
	"os"

	"github.com/tendant/merged-fields/pkg/entityfields"
	"gopkg.in/yaml.v3"
)

// Writer is implemented by repositories that can be seeded
type Writer interface {
	SaveEntityType(ctx context.Context, entityType *entityfields.EntityType) error
	SaveEntity(ctx context.Context, entity *entityfields.Entity) error
	SaveDisplay(ctx context.Context, display *entityfields.Display) error
	SaveViewMode(ctx context.Context, mode entityfields.ViewMode) error
}

// Fixture is the decoded YAML document
type Fixture struct {
	EntityTypes []entityfields.EntityType      `yaml:"entity_types"`
	ViewModes   []entityfields.ViewMode        `yaml:"view_modes"`
	Displays    []entityfields.Display         `yaml:"displays"`
	Entities    []Entity                       `yaml:"entities"`
	Fields      []entityfields.FieldDefinition `yaml:"fields"`
}

// Entity is the YAML form of an entityfields.Entity
type Entity struct {
	EntityType string           `yaml:"entity_type"`
	ID         string           `yaml:"id"`
	Bundle     string           `yaml:"bundle"`
	Label      string           `yaml:"label"`
	Langcode   string           `yaml:"langcode"`
	Published  *bool            `yaml:"published"` // defaults to true
	OwnerID    string           `yaml:"owner_id"`
	Fields     map[string][]any `yaml:"fields"`
	CacheTags  []string         `yaml:"cache_tags"`
	MaxAge     *int             `yaml:"max_age"`
}

// Parse decodes a fixture document
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFile reads and decodes a fixture file
func LoadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture %s: %w", path, err)
	}
	return Parse(data)
}

func (f *Fixture) validate() error {
	for i, t := range f.EntityTypes {
		if t.ID == "" {
			return fmt.Errorf("entity_types[%d]: id is required", i)
		}
	}
	for i, e := range f.Entities {
		if e.EntityType == "" || e.ID == "" || e.Bundle == "" {
			return fmt.Errorf("entities[%d]: entity_type, id and bundle are required", i)
		}
	}
	for i, d := range f.Displays {
		if d.TargetEntityType == "" || d.Bundle == "" || d.Mode == "" {
			return fmt.Errorf("displays[%d]: target_entity_type, bundle and mode are required", i)
		}
	}
	for i, fd := range f.Fields {
		if fd.Name == "" {
			return fmt.Errorf("fields[%d]: name is required", i)
		}
	}
	return nil
}

// Apply saves every record of the fixture. Entity types go first so that
// entities can reference them.
func (f *Fixture) Apply(ctx context.Context, w Writer) error {
	for i := range f.EntityTypes {
		entityType := f.EntityTypes[i]
		if err := w.SaveEntityType(ctx, &entityType); err != nil {
			return fmt.Errorf("failed to save entity type %s: %w", entityType.ID, err)
		}
	}
	for _, mode := range f.ViewModes {
		if err := w.SaveViewMode(ctx, mode); err != nil {
			return fmt.Errorf("failed to save view mode %s: %w", mode.ID, err)
		}
	}
	for i := range f.Displays {
		display := f.Displays[i]
		if err := w.SaveDisplay(ctx, &display); err != nil {
			return fmt.Errorf("failed to save display %s: %w", display.ID, err)
		}
	}
	for _, e := range f.Entities {
		entity := e.toEntity()
		if err := w.SaveEntity(ctx, entity); err != nil {
			return fmt.Errorf("failed to save entity %s %s: %w", entity.TypeID, entity.ID, err)
		}
	}
	return nil
}

// Field returns the field definition with the given name
func (f *Fixture) Field(name string) (entityfields.FieldDefinition, bool) {
	for _, fd := range f.Fields {
		if fd.Name == name {
			return fd, true
		}
	}
	return entityfields.FieldDefinition{}, false
}

func (e Entity) toEntity() *entityfields.Entity {
	published := true
	if e.Published != nil {
		published = *e.Published
	}
	cache := entityfields.NewCacheableMetadata().AddTags(e.CacheTags...)
	if e.MaxAge != nil {
		cache = cache.WithMaxAge(*e.MaxAge)
	}
	return &entityfields.Entity{
		TypeID:    e.EntityType,
		Bundle:    e.Bundle,
		ID:        e.ID,
		Label:     e.Label,
		Langcode:  e.Langcode,
		Published: published,
		OwnerID:   e.OwnerID,
		Fields:    e.Fields,
		Cache:     cache,
	}
}
