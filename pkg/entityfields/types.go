package entityfields

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field type constants
const (
	FieldTypeEntityReference        = "entity_reference"
	FieldTypeDynamicEntityReference = "dynamic_entity_reference"
)

// Field storage setting keys
const (
	SettingTargetType    = "target_type"
	SettingEntityTypeIDs = "entity_type_ids"
)

// Entity type key names
const (
	EntityKeyID     = "id"
	EntityKeyBundle = "bundle"
	EntityKeyLabel  = "label"
	EntityKeyUUID   = "uuid"
)

// DefaultViewMode is the view mode used when a bundle has no display for the
// configured one
const DefaultViewMode = "default"

// FieldDefinition describes a reference field attached to a bundle
type FieldDefinition struct {
	Name       string            `json:"name" yaml:"name"`
	Type       string            `json:"type" yaml:"type"`
	EntityType string            `json:"entity_type" yaml:"entity_type"`
	Bundle     string            `json:"bundle" yaml:"bundle"`
	Label      string            `json:"label,omitempty" yaml:"label,omitempty"`
	Storage    StorageDefinition `json:"storage" yaml:"storage"`
}

// ID returns the {entity_type}.{bundle}.{name} identifier of the field
func (f FieldDefinition) ID() string {
	return fmt.Sprintf("%s.%s.%s", f.EntityType, f.Bundle, f.Name)
}

// StorageDefinition carries the storage-level settings of a field
type StorageDefinition struct {
	Settings map[string]any `json:"settings" yaml:"settings"`
}

// FieldItem is a single value of a reference field
type FieldItem struct {
	TargetID string `json:"target_id" yaml:"target_id"`
}

// FieldItems is the ordered value list of a field
type FieldItems []FieldItem

// Entity is a loaded content entity
type Entity struct {
	TypeID    string            `json:"entity_type" yaml:"entity_type"`
	Bundle    string            `json:"bundle" yaml:"bundle"`
	ID        string            `json:"id" yaml:"id"`
	UUID      uuid.UUID         `json:"uuid" yaml:"uuid"`
	Label     string            `json:"label,omitempty" yaml:"label,omitempty"`
	Langcode  string            `json:"langcode,omitempty" yaml:"langcode,omitempty"`
	Published bool              `json:"published" yaml:"published"`
	OwnerID   string            `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
	Fields    map[string][]any  `json:"fields,omitempty" yaml:"fields,omitempty"`
	Changed   time.Time         `json:"changed" yaml:"changed"`
	Cache     CacheableMetadata `json:"cache" yaml:"cache"`
}

// CacheTag returns the {entity_type}:{id} cache tag of the entity
func (e *Entity) CacheTag() string {
	return e.TypeID + ":" + e.ID
}

// CacheableMetadata returns the cacheability contract of the entity
func (e *Entity) CacheableMetadata() CacheableMetadata {
	return e.Cache.AddTags(e.CacheTag())
}

// EntityType is the schema of an entity type
type EntityType struct {
	ID    string            `json:"id" yaml:"id"`
	Label string            `json:"label" yaml:"label"`
	Keys  map[string]string `json:"keys" yaml:"keys"`
}

// LabelKey returns the field name holding the entity label, or "" when the
// entity type has none
func (t *EntityType) LabelKey() string {
	if t == nil || t.Keys == nil {
		return ""
	}
	return t.Keys[EntityKeyLabel]
}

// Display is the view display configuration of a bundle in a view mode
type Display struct {
	ID               string                      `json:"id" yaml:"id"`
	TargetEntityType string                      `json:"target_entity_type" yaml:"target_entity_type"`
	Bundle           string                      `json:"bundle" yaml:"bundle"`
	Mode             string                      `json:"mode" yaml:"mode"`
	Status           bool                        `json:"status" yaml:"status"`
	Components       map[string]DisplayComponent `json:"content" yaml:"content"`
	Hidden           []string                    `json:"hidden,omitempty" yaml:"hidden,omitempty"`
}

// DisplayComponent configures how one field is shown
type DisplayComponent struct {
	Type     string         `json:"type" yaml:"type"`
	Label    string         `json:"label,omitempty" yaml:"label,omitempty"`
	Weight   int            `json:"weight" yaml:"weight"`
	Region   string         `json:"region,omitempty" yaml:"region,omitempty"`
	Settings map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// DisplayID builds the {entity_type}.{bundle}.{view_mode} display key
func DisplayID(entityType, bundle, viewMode string) string {
	return entityType + "." + bundle + "." + viewMode
}

// ViewMode is a named display profile of an entity type
type ViewMode struct {
	ID               string `json:"id" yaml:"id"`
	Label            string `json:"label" yaml:"label"`
	TargetEntityType string `json:"target_entity_type" yaml:"target_entity_type"`
}

// Element is one sub-element of a render tree
type Element struct {
	Key          string         `json:"key" yaml:"key"`
	Weight       int            `json:"weight" yaml:"weight"`
	Label        string         `json:"label,omitempty" yaml:"label,omitempty"`
	LabelDisplay string         `json:"label_display,omitempty" yaml:"label_display,omitempty"`
	Formatter    string         `json:"formatter,omitempty" yaml:"formatter,omitempty"`
	Items        []any          `json:"items,omitempty" yaml:"items,omitempty"`
	Settings     map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// RenderTree is the ordered set of sub-elements produced for one entity
type RenderTree struct {
	Elements []Element        `json:"elements" yaml:"elements"`
	Cache    CacheableMetadata `json:"cache" yaml:"cache"`
}

// Element returns the sub-element with the given key
func (t *RenderTree) Element(key string) (Element, bool) {
	for _, el := range t.Elements {
		if el.Key == key {
			return el, true
		}
	}
	return Element{}, false
}

// Remove drops the sub-element with the given key and reports whether it was present
func (t *RenderTree) Remove(key string) bool {
	for i, el := range t.Elements {
		if el.Key == key {
			t.Elements = append(t.Elements[:i:i], t.Elements[i+1:]...)
			return true
		}
	}
	return false
}

// Keys returns the sub-element keys in order
func (t *RenderTree) Keys() []string {
	keys := make([]string, 0, len(t.Elements))
	for _, el := range t.Elements {
		keys = append(keys, el.Key)
	}
	return keys
}

// RenderedEntity is the processed render tree of one referenced entity.
// Delta is the position of the entity in the accessible entity sequence.
type RenderedEntity struct {
	Delta      int       `json:"delta" yaml:"delta"`
	EntityType string    `json:"entity_type" yaml:"entity_type"`
	EntityID   string    `json:"entity_id" yaml:"entity_id"`
	Bundle     string    `json:"bundle" yaml:"bundle"`
	ViewMode   string    `json:"view_mode" yaml:"view_mode"`
	Langcode   string    `json:"langcode,omitempty" yaml:"langcode,omitempty"`
	Elements   []Element `json:"elements" yaml:"elements"`
}

// Output is the result of rendering a field
type Output struct {
	Items []RenderedEntity  `json:"items" yaml:"items"`
	Cache CacheableMetadata `json:"cache" yaml:"cache"`
}

// Empty reports whether nothing was rendered
func (o *Output) Empty() bool {
	return len(o.Items) == 0
}

// Account is the viewer an access check is performed for
type Account struct {
	ID          string   `json:"id" yaml:"id"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// IsAnonymous reports whether the account is the anonymous viewer
func (a Account) IsAnonymous() bool {
	return a.ID == ""
}

// HasPermission reports whether the account holds the permission
func (a Account) HasPermission(permission string) bool {
	for _, p := range a.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
