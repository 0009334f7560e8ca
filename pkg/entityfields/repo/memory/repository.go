package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/merged-fields/pkg/entityfields"
)

// Repository keeps entity types, entities, view displays and view modes in
// memory. It implements entityfields.StorageResolver,
// entityfields.DisplayRepository and entityfields.EntityTypeRepository.
type Repository struct {
	mu          sync.RWMutex
	entityTypes map[string]*entityfields.EntityType
	entities    map[string]map[string]*entityfields.Entity // entity_type -> id -> entity
	displays    map[string]*entityfields.Display
	viewModes   map[string]map[string]entityfields.ViewMode // entity_type -> mode -> view mode
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		entityTypes: make(map[string]*entityfields.EntityType),
		entities:    make(map[string]map[string]*entityfields.Entity),
		displays:    make(map[string]*entityfields.Display),
		viewModes:   make(map[string]map[string]entityfields.ViewMode),
	}
}

// entityStorage loads entities of one type from the repository
type entityStorage struct {
	repo       *Repository
	entityType string
}

// Storage returns the storage of a registered entity type
func (r *Repository) Storage(entityType string) (entityfields.EntityStorage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.entityTypes[entityType]; !exists {
		return nil, fmt.Errorf("%w: %s", entityfields.ErrUnknownEntityType, entityType)
	}
	return &entityStorage{repo: r, entityType: entityType}, nil
}

func (s *entityStorage) Load(ctx context.Context, id string) (*entityfields.Entity, error) {
	s.repo.mu.RLock()
	defer s.repo.mu.RUnlock()

	entity, exists := s.repo.entities[s.entityType][id]
	if !exists {
		return nil, entityfields.ErrEntityNotFound
	}
	return copyEntity(entity), nil
}

// Entity type operations

func (r *Repository) EntityType(ctx context.Context, id string) (*entityfields.EntityType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entityType, exists := r.entityTypes[id]
	if !exists {
		return nil, entityfields.ErrEntityTypeNotFound
	}
	typeCopy := *entityType
	typeCopy.Keys = copyStringMap(entityType.Keys)
	return &typeCopy, nil
}

func (r *Repository) SaveEntityType(ctx context.Context, entityType *entityfields.EntityType) error {
	if entityType.ID == "" {
		return fmt.Errorf("entity type id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	typeCopy := *entityType
	typeCopy.Keys = copyStringMap(entityType.Keys)
	r.entityTypes[entityType.ID] = &typeCopy
	if _, exists := r.entities[entityType.ID]; !exists {
		r.entities[entityType.ID] = make(map[string]*entityfields.Entity)
	}
	return nil
}

// Entity operations

// SaveEntity stores a copy of the entity. A missing UUID is generated and
// Changed is set to the current time.
func (r *Repository) SaveEntity(ctx context.Context, entity *entityfields.Entity) error {
	if entity.ID == "" {
		return fmt.Errorf("entity id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byID, exists := r.entities[entity.TypeID]
	if !exists {
		return fmt.Errorf("%w: %s", entityfields.ErrUnknownEntityType, entity.TypeID)
	}

	if entity.UUID == uuid.Nil {
		entity.UUID = uuid.New()
	}
	entity.Changed = time.Now().UTC()
	byID[entity.ID] = copyEntity(entity)
	return nil
}

func (r *Repository) DeleteEntity(ctx context.Context, entityType, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entities[entityType][id]; !exists {
		return entityfields.ErrEntityNotFound
	}
	delete(r.entities[entityType], id)
	return nil
}

// Display operations

func (r *Repository) Display(ctx context.Context, id string) (*entityfields.Display, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	display, exists := r.displays[id]
	if !exists {
		return nil, entityfields.ErrDisplayNotFound
	}
	return copyDisplay(display), nil
}

// SaveDisplay stores a copy of the display and registers its view mode for
// the target entity type if it is not known yet
func (r *Repository) SaveDisplay(ctx context.Context, display *entityfields.Display) error {
	if display.TargetEntityType == "" || display.Bundle == "" || display.Mode == "" {
		return fmt.Errorf("display requires target entity type, bundle and mode")
	}
	if display.ID == "" {
		display.ID = entityfields.DisplayID(display.TargetEntityType, display.Bundle, display.Mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.displays[display.ID] = copyDisplay(display)

	modes, exists := r.viewModes[display.TargetEntityType]
	if !exists {
		modes = make(map[string]entityfields.ViewMode)
		r.viewModes[display.TargetEntityType] = modes
	}
	if _, exists := modes[display.Mode]; !exists {
		modes[display.Mode] = entityfields.ViewMode{
			ID:               display.Mode,
			Label:            display.Mode,
			TargetEntityType: display.TargetEntityType,
		}
	}
	return nil
}

func (r *Repository) DeleteDisplay(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.displays[id]; !exists {
		return entityfields.ErrDisplayNotFound
	}
	delete(r.displays, id)
	return nil
}

// View mode operations

func (r *Repository) ViewModes(ctx context.Context, entityType string) ([]entityfields.ViewMode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []entityfields.ViewMode
	for _, mode := range r.viewModes[entityType] {
		result = append(result, mode)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

func (r *Repository) SaveViewMode(ctx context.Context, mode entityfields.ViewMode) error {
	if mode.ID == "" || mode.TargetEntityType == "" {
		return fmt.Errorf("view mode requires id and target entity type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	modes, exists := r.viewModes[mode.TargetEntityType]
	if !exists {
		modes = make(map[string]entityfields.ViewMode)
		r.viewModes[mode.TargetEntityType] = modes
	}
	modes[mode.ID] = mode
	return nil
}

func copyEntity(entity *entityfields.Entity) *entityfields.Entity {
	entityCopy := *entity
	if entity.Fields != nil {
		entityCopy.Fields = make(map[string][]any, len(entity.Fields))
		for name, values := range entity.Fields {
			entityCopy.Fields[name] = append([]any(nil), values...)
		}
	}
	entityCopy.Cache = entity.Cache.Merge(entityfields.CacheableMetadata{})
	return &entityCopy
}

func copyDisplay(display *entityfields.Display) *entityfields.Display {
	displayCopy := *display
	if display.Components != nil {
		displayCopy.Components = make(map[string]entityfields.DisplayComponent, len(display.Components))
		for name, component := range display.Components {
			displayCopy.Components[name] = component
		}
	}
	displayCopy.Hidden = append([]string(nil), display.Hidden...)
	return &displayCopy
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
