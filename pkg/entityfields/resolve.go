package entityfields

import (
	"context"
	"errors"
	"sort"
)

// TargetEntityType returns the entity type referenced by the field. A
// single-reference field names it in the target_type storage setting; a
// dynamic-reference field lists candidates in entity_type_ids, of which the
// first is used.
func TargetEntityType(field FieldDefinition) (string, error) {
	settings := field.Storage.Settings
	if settings == nil {
		return "", ErrTargetTypeUnresolved
	}

	if v, ok := settings[SettingTargetType].(string); ok && v != "" {
		return v, nil
	}

	switch ids := settings[SettingEntityTypeIDs].(type) {
	case []string:
		for _, id := range ids {
			if id != "" {
				return id, nil
			}
		}
	case []any:
		for _, raw := range ids {
			if id, ok := raw.(string); ok && id != "" {
				return id, nil
			}
		}
	case map[string]any:
		// Config exports key the candidates by entity type id
		for _, raw := range sortedValues(ids) {
			if id, ok := raw.(string); ok && id != "" {
				return id, nil
			}
		}
	}

	return "", ErrTargetTypeUnresolved
}

type loadStatus int

const (
	loadSucceeded loadStatus = iota
	loadConfigurationError
)

type consideredEntity struct {
	entity *Entity
	access AccessResult
}

// loadResult separates a storage configuration failure from a successful,
// possibly empty, load. Missing and inaccessible entities are not errors.
type loadResult struct {
	status     loadStatus
	err        error
	accessible []*Entity
	considered []consideredEntity
}

func (f *Formatter) loadEntities(ctx context.Context, entityType string, items FieldItems) loadResult {
	storage, err := f.storages.Storage(entityType)
	if err != nil {
		return loadResult{
			status: loadConfigurationError,
			err:    &StorageError{EntityType: entityType, Op: "resolve_storage", Err: err},
		}
	}
	if storage == nil {
		return loadResult{
			status: loadConfigurationError,
			err:    &StorageError{EntityType: entityType, Op: "resolve_storage", Err: ErrUnknownEntityType},
		}
	}

	account := AccountFromContext(ctx)
	result := loadResult{status: loadSucceeded}
	for _, item := range items {
		if item.TargetID == "" {
			continue
		}

		entity, err := storage.Load(ctx, item.TargetID)
		if err != nil {
			if errors.Is(err, ErrUnknownEntityType) {
				return loadResult{
					status: loadConfigurationError,
					err:    &StorageError{EntityType: entityType, ID: item.TargetID, Op: "load_entity", Err: err},
				}
			}
			if !errors.Is(err, ErrEntityNotFound) {
				f.logger.WarnContext(ctx, "Failed to load referenced entity",
					"entity_type", entityType, "entity_id", item.TargetID, "error", err)
			}
			continue
		}
		if entity == nil {
			continue
		}

		access := f.access.Access(ctx, entity, OperationView, account)
		result.considered = append(result.considered, consideredEntity{entity: entity, access: access})
		if !access.Allowed {
			continue
		}
		result.accessible = append(result.accessible, entity)
	}

	return result
}

// resolveDisplay returns the display for the configured view mode, falling
// back to the default view mode. Disabled displays are treated as missing.
func (f *Formatter) resolveDisplay(ctx context.Context, entity *Entity) (*Display, string) {
	candidates := []string{f.settings.ViewMode}
	if f.settings.ViewMode != DefaultViewMode {
		candidates = append(candidates, DefaultViewMode)
	}

	for _, mode := range candidates {
		id := DisplayID(entity.TypeID, entity.Bundle, mode)
		display, err := f.displays.Display(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrDisplayNotFound) {
				f.logger.WarnContext(ctx, "Failed to load view display", "display", id, "error", err)
			}
			continue
		}
		if display == nil || !display.Status {
			continue
		}
		return display, mode
	}

	err := &StorageError{EntityType: entity.TypeID, ID: entity.ID, Op: "resolve_display", Err: ErrDisplayNotFound}
	f.logger.ErrorContext(ctx, "No view display for referenced entity",
		"entity_type", entity.TypeID,
		"entity_id", entity.ID,
		"bundle", entity.Bundle,
		"view_mode", f.settings.ViewMode)
	f.hooks.executeOnError(ctx, "resolve_display", err)
	return nil, ""
}

func (f *Formatter) labelKey(ctx context.Context, entityType string) string {
	definition, err := f.entityTypes.EntityType(ctx, entityType)
	if err != nil {
		if !errors.Is(err, ErrEntityTypeNotFound) {
			f.logger.WarnContext(ctx, "Failed to load entity type", "entity_type", entityType, "error", err)
		}
		return ""
	}
	return definition.LabelKey()
}

func sortedValues(m map[string]any) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]any, 0, len(keys))
	for _, k := range keys {
		values = append(values, m[k])
	}
	return values
}
