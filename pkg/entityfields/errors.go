package entityfields

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrTargetTypeUnresolved indicates the field storage names no target entity type
	ErrTargetTypeUnresolved = errors.New("target entity type could not be resolved")

	// ErrUnknownEntityType indicates no storage handler exists for an entity type
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrEntityNotFound indicates an entity was not found
	ErrEntityNotFound = errors.New("entity not found")

	// ErrEntityTypeNotFound indicates an entity type definition was not found
	ErrEntityTypeNotFound = errors.New("entity type not found")

	// ErrDisplayNotFound indicates a view display was not found
	ErrDisplayNotFound = errors.New("display not found")

	// ErrEmptyRender indicates a renderer returned neither a tree nor an error
	ErrEmptyRender = errors.New("renderer returned no render tree")

	// ErrInvalidSettings indicates formatter settings failed validation
	ErrInvalidSettings = errors.New("invalid formatter settings")
)

// FieldError represents an error related to a reference field
type FieldError struct {
	Field string
	Op    string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field operation %s failed for field %s: %v", e.Op, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to entity storage
type StorageError struct {
	EntityType string
	ID         string
	Op         string
	Err        error
}

func (e *StorageError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("storage operation %s failed for entity type %s: %v", e.Op, e.EntityType, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed for %s %s: %v", e.Op, e.EntityType, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
