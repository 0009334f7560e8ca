package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/merged-fields/pkg/entityfields"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository reads entities, entity types, view displays and view modes from
// PostgreSQL. It implements entityfields.StorageResolver,
// entityfields.DisplayRepository and entityfields.EntityTypeRepository.
//
// Storage does not touch the database: Load reports an unregistered entity
// type as entityfields.ErrUnknownEntityType. Use StorageContext to check
// eagerly.
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("duplicate entry")
		case "23503": // foreign_key_violation
			if strings.Contains(pgErr.ConstraintName, "entity_type") {
				return entityfields.ErrUnknownEntityType
			}
			return fmt.Errorf("referenced record not found")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// entityStorage loads entities of one type
type entityStorage struct {
	repo       *Repository
	entityType string
}

// Storage returns the storage of an entity type
func (r *Repository) Storage(entityType string) (entityfields.EntityStorage, error) {
	if entityType == "" {
		return nil, entityfields.ErrUnknownEntityType
	}
	return &entityStorage{repo: r, entityType: entityType}, nil
}

// StorageContext returns the storage of an entity type after checking the
// type is registered
func (r *Repository) StorageContext(ctx context.Context, entityType string) (entityfields.EntityStorage, error) {
	if _, err := r.EntityType(ctx, entityType); err != nil {
		if errors.Is(err, entityfields.ErrEntityTypeNotFound) {
			return nil, fmt.Errorf("%w: %s", entityfields.ErrUnknownEntityType, entityType)
		}
		return nil, err
	}
	return r.Storage(entityType)
}

func (s *entityStorage) Load(ctx context.Context, id string) (*entityfields.Entity, error) {
	query := `
		SELECT e.entity_type, e.id, e.uuid, e.bundle, e.label, e.langcode,
		       e.published, e.owner_id, e.fields, e.cache_tags, e.changed
		FROM entities e
		JOIN entity_types t ON t.id = e.entity_type
		WHERE e.entity_type = $1 AND e.id = $2`

	var entity entityfields.Entity
	var fields []byte
	var cacheTags []string
	err := s.repo.db.QueryRow(ctx, query, s.entityType, id).Scan(
		&entity.TypeID, &entity.ID, &entity.UUID, &entity.Bundle, &entity.Label, &entity.Langcode,
		&entity.Published, &entity.OwnerID, &fields, &cacheTags, &entity.Changed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.missing(ctx)
		}
		return nil, s.repo.handlePostgresError("load entity", err)
	}

	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &entity.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields of %s %s: %w", s.entityType, id, err)
		}
	}
	entity.Cache = entityfields.NewCacheableMetadata().AddTags(cacheTags...)

	return &entity, nil
}

// missing tells a missing entity apart from an unregistered entity type
func (s *entityStorage) missing(ctx context.Context) error {
	if _, err := s.repo.EntityType(ctx, s.entityType); err != nil {
		if errors.Is(err, entityfields.ErrEntityTypeNotFound) {
			return fmt.Errorf("%w: %s", entityfields.ErrUnknownEntityType, s.entityType)
		}
		return err
	}
	return entityfields.ErrEntityNotFound
}

// SaveEntity inserts or replaces an entity
func (r *Repository) SaveEntity(ctx context.Context, entity *entityfields.Entity) error {
	if entity.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	if entity.UUID == uuid.Nil {
		entity.UUID = uuid.New()
	}
	entity.Changed = time.Now().UTC()

	fields, err := json.Marshal(entity.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	query := `
		INSERT INTO entities (
			entity_type, id, uuid, bundle, label, langcode,
			published, owner_id, fields, cache_tags, changed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (entity_type, id) DO UPDATE SET
			uuid = EXCLUDED.uuid, bundle = EXCLUDED.bundle, label = EXCLUDED.label,
			langcode = EXCLUDED.langcode, published = EXCLUDED.published,
			owner_id = EXCLUDED.owner_id, fields = EXCLUDED.fields,
			cache_tags = EXCLUDED.cache_tags, changed = EXCLUDED.changed`

	_, err = r.db.Exec(ctx, query,
		entity.TypeID, entity.ID, entity.UUID, entity.Bundle, entity.Label, entity.Langcode,
		entity.Published, entity.OwnerID, fields, nonNil(entity.Cache.Tags), entity.Changed)
	if err != nil {
		return r.handlePostgresError("save entity", err)
	}
	return nil
}

func (r *Repository) DeleteEntity(ctx context.Context, entityType, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM entities WHERE entity_type = $1 AND id = $2`, entityType, id)
	if err != nil {
		return r.handlePostgresError("delete entity", err)
	}
	if tag.RowsAffected() == 0 {
		return entityfields.ErrEntityNotFound
	}
	return nil
}

// Entity type operations

func (r *Repository) EntityType(ctx context.Context, id string) (*entityfields.EntityType, error) {
	query := `SELECT id, label, keys FROM entity_types WHERE id = $1`

	var entityType entityfields.EntityType
	var keys []byte
	err := r.db.QueryRow(ctx, query, id).Scan(&entityType.ID, &entityType.Label, &keys)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entityfields.ErrEntityTypeNotFound
		}
		return nil, r.handlePostgresError("get entity type", err)
	}

	if len(keys) > 0 {
		if err := json.Unmarshal(keys, &entityType.Keys); err != nil {
			return nil, fmt.Errorf("failed to decode keys of entity type %s: %w", id, err)
		}
	}
	return &entityType, nil
}

func (r *Repository) SaveEntityType(ctx context.Context, entityType *entityfields.EntityType) error {
	if entityType.ID == "" {
		return fmt.Errorf("entity type id is required")
	}
	keys, err := json.Marshal(entityType.Keys)
	if err != nil {
		return fmt.Errorf("failed to encode keys: %w", err)
	}

	query := `
		INSERT INTO entity_types (id, label, keys) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET label = EXCLUDED.label, keys = EXCLUDED.keys`
	if _, err := r.db.Exec(ctx, query, entityType.ID, entityType.Label, keys); err != nil {
		return r.handlePostgresError("save entity type", err)
	}
	return nil
}

// Display operations

func (r *Repository) Display(ctx context.Context, id string) (*entityfields.Display, error) {
	query := `
		SELECT id, target_entity_type, bundle, mode, status, components, hidden
		FROM entity_view_displays WHERE id = $1`

	var display entityfields.Display
	var components []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&display.ID, &display.TargetEntityType, &display.Bundle, &display.Mode,
		&display.Status, &components, &display.Hidden)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entityfields.ErrDisplayNotFound
		}
		return nil, r.handlePostgresError("get display", err)
	}

	if len(components) > 0 {
		if err := json.Unmarshal(components, &display.Components); err != nil {
			return nil, fmt.Errorf("failed to decode components of display %s: %w", id, err)
		}
	}
	return &display, nil
}

// SaveDisplay inserts or replaces a display and registers its view mode
func (r *Repository) SaveDisplay(ctx context.Context, display *entityfields.Display) error {
	if display.TargetEntityType == "" || display.Bundle == "" || display.Mode == "" {
		return fmt.Errorf("display requires target entity type, bundle and mode")
	}
	if display.ID == "" {
		display.ID = entityfields.DisplayID(display.TargetEntityType, display.Bundle, display.Mode)
	}

	components, err := json.Marshal(display.Components)
	if err != nil {
		return fmt.Errorf("failed to encode components: %w", err)
	}

	query := `
		INSERT INTO entity_view_displays (id, target_entity_type, bundle, mode, status, components, hidden)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			target_entity_type = EXCLUDED.target_entity_type, bundle = EXCLUDED.bundle,
			mode = EXCLUDED.mode, status = EXCLUDED.status,
			components = EXCLUDED.components, hidden = EXCLUDED.hidden`
	_, err = r.db.Exec(ctx, query,
		display.ID, display.TargetEntityType, display.Bundle, display.Mode,
		display.Status, components, nonNil(display.Hidden))
	if err != nil {
		return r.handlePostgresError("save display", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO entity_view_modes (id, target_entity_type, label) VALUES ($1, $2, $1)
		ON CONFLICT (target_entity_type, id) DO NOTHING`,
		display.Mode, display.TargetEntityType)
	if err != nil {
		return r.handlePostgresError("save view mode", err)
	}
	return nil
}

// View mode operations

func (r *Repository) ViewModes(ctx context.Context, entityType string) ([]entityfields.ViewMode, error) {
	query := `
		SELECT id, label, target_entity_type FROM entity_view_modes
		WHERE target_entity_type = $1 ORDER BY id`

	rows, err := r.db.Query(ctx, query, entityType)
	if err != nil {
		return nil, r.handlePostgresError("list view modes", err)
	}
	defer rows.Close()

	var result []entityfields.ViewMode
	for rows.Next() {
		var mode entityfields.ViewMode
		if err := rows.Scan(&mode.ID, &mode.Label, &mode.TargetEntityType); err != nil {
			return nil, r.handlePostgresError("scan view mode", err)
		}
		result = append(result, mode)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list view modes", err)
	}
	return result, nil
}

func (r *Repository) SaveViewMode(ctx context.Context, mode entityfields.ViewMode) error {
	if mode.ID == "" || mode.TargetEntityType == "" {
		return fmt.Errorf("view mode requires id and target entity type")
	}
	query := `
		INSERT INTO entity_view_modes (id, target_entity_type, label) VALUES ($1, $2, $3)
		ON CONFLICT (target_entity_type, id) DO UPDATE SET label = EXCLUDED.label`
	if _, err := r.db.Exec(ctx, query, mode.ID, mode.TargetEntityType, mode.Label); err != nil {
		return r.handlePostgresError("save view mode", err)
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
