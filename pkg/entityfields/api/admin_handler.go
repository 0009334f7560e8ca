package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/merged-fields/pkg/entityfields"
)

// Store is the writable side of the entity repository
type Store interface {
	SaveEntityType(ctx context.Context, entityType *entityfields.EntityType) error
	SaveEntity(ctx context.Context, entity *entityfields.Entity) error
	DeleteEntity(ctx context.Context, entityType, id string) error
}

// DisplayWriter stores view displays
type DisplayWriter interface {
	SaveDisplay(ctx context.Context, display *entityfields.Display) error
}

// EntityRequest is the request body for upserting an entity
type EntityRequest struct {
	Bundle    string           `json:"bundle"`
	Label     string           `json:"label"`
	Langcode  string           `json:"langcode"`
	Published *bool            `json:"published,omitempty"` // defaults to true
	OwnerID   string           `json:"owner_id"`
	Fields    map[string][]any `json:"fields"`
	CacheTags []string         `json:"cache_tags,omitempty"`
	MaxAge    *int             `json:"max_age,omitempty"`
}

// AdminHandler upserts the entities and configuration the formatter reads
type AdminHandler struct {
	store    Store
	displays DisplayWriter
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(store Store, displays DisplayWriter) *AdminHandler {
	return &AdminHandler{store: store, displays: displays}
}

// Routes returns the admin routes
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Put("/entity-types/{id}", h.PutEntityType)
	r.Put("/entities/{type}/{id}", h.PutEntity)
	r.Delete("/entities/{type}/{id}", h.DeleteEntity)
	r.Put("/displays/{id}", h.PutDisplay)

	return r
}

// PutEntityType creates or replaces an entity type
func (h *AdminHandler) PutEntityType(w http.ResponseWriter, r *http.Request) {
	var entityType entityfields.EntityType
	if err := render.DecodeJSON(r.Body, &entityType); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entityType.ID = chi.URLParam(r, "id")

	if err := h.store.SaveEntityType(r.Context(), &entityType); err != nil {
		slog.Error("Failed to save entity type", "entity_type", entityType.ID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	render.JSON(w, r, entityType)
}

// PutEntity creates or replaces an entity
func (h *AdminHandler) PutEntity(w http.ResponseWriter, r *http.Request) {
	var req EntityRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Bundle == "" {
		http.Error(w, "bundle is required", http.StatusBadRequest)
		return
	}

	published := true
	if req.Published != nil {
		published = *req.Published
	}
	cache := entityfields.NewCacheableMetadata().AddTags(req.CacheTags...)
	if req.MaxAge != nil {
		cache = cache.WithMaxAge(*req.MaxAge)
	}

	entity := &entityfields.Entity{
		TypeID:    chi.URLParam(r, "type"),
		ID:        chi.URLParam(r, "id"),
		Bundle:    req.Bundle,
		Label:     req.Label,
		Langcode:  req.Langcode,
		Published: published,
		OwnerID:   req.OwnerID,
		Fields:    req.Fields,
		Cache:     cache,
	}

	if err := h.store.SaveEntity(r.Context(), entity); err != nil {
		if errors.Is(err, entityfields.ErrUnknownEntityType) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		slog.Error("Failed to save entity", "entity_type", entity.TypeID, "entity_id", entity.ID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("Entity saved", "entity_type", entity.TypeID, "entity_id", entity.ID)
	render.JSON(w, r, entity)
}

// DeleteEntity removes an entity
func (h *AdminHandler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "type")
	id := chi.URLParam(r, "id")

	if err := h.store.DeleteEntity(r.Context(), entityType, id); err != nil {
		if errors.Is(err, entityfields.ErrEntityNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		slog.Error("Failed to delete entity", "entity_type", entityType, "entity_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PutDisplay creates or replaces a view display. The id must be
// {entity_type}.{bundle}.{view_mode} of the body.
func (h *AdminHandler) PutDisplay(w http.ResponseWriter, r *http.Request) {
	var display entityfields.Display
	if err := render.DecodeJSON(r.Body, &display); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	if id != entityfields.DisplayID(display.TargetEntityType, display.Bundle, display.Mode) {
		http.Error(w, "display id does not match target_entity_type.bundle.mode", http.StatusBadRequest)
		return
	}
	display.ID = id

	if err := h.displays.SaveDisplay(r.Context(), &display); err != nil {
		slog.Error("Failed to save display", "display", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	render.JSON(w, r, display)
}
