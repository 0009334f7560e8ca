package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/merged-fields/pkg/entityfields"
)

// Response headers carrying the aggregated cache metadata
const (
	HeaderCacheTags     = "Cache-Tags"
	HeaderCacheContexts = "Cache-Contexts"
)

// FieldLookup resolves registered field definitions by name
type FieldLookup interface {
	Field(name string) (entityfields.FieldDefinition, bool)
}

// FieldMap is a FieldLookup over a map
type FieldMap map[string]entityfields.FieldDefinition

func (m FieldMap) Field(name string) (entityfields.FieldDefinition, bool) {
	field, ok := m[name]
	return field, ok
}

// RenderRequest is the request body of POST /render. Either Field or
// FieldName must be given; Settings override the formatter defaults.
type RenderRequest struct {
	Field     *entityfields.FieldDefinition `json:"field,omitempty"`
	FieldName string                        `json:"field_name,omitempty"`
	Items     entityfields.FieldItems       `json:"items"`
	Langcode  string                        `json:"langcode,omitempty"`
	Settings  *entityfields.Settings        `json:"settings,omitempty"`
}

// SettingsRequest is the request body of the settings endpoints
type SettingsRequest struct {
	Field     *entityfields.FieldDefinition `json:"field,omitempty"`
	FieldName string                        `json:"field_name,omitempty"`
	Settings  *entityfields.Settings        `json:"settings,omitempty"`
}

// SummaryResponse is the response body of POST /settings/summary
type SummaryResponse struct {
	Summary []string `json:"summary"`
}

// RenderHandler serves the formatter over HTTP
type RenderHandler struct {
	formatter *entityfields.Formatter
	fields    FieldLookup
}

// NewRenderHandler creates a new render handler. fields may be nil when
// callers always send field definitions inline.
func NewRenderHandler(formatter *entityfields.Formatter, fields FieldLookup) *RenderHandler {
	if fields == nil {
		fields = FieldMap{}
	}
	return &RenderHandler{formatter: formatter, fields: fields}
}

// Routes returns the routes for rendering and formatter settings
func (h *RenderHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/render", h.Render)
	r.Get("/fields/{name}", h.GetField)

	r.Get("/settings/defaults", h.DefaultSettings)
	r.Post("/settings/form", h.SettingsForm)
	r.Post("/settings/summary", h.SettingsSummary)

	return r
}

// Render renders the referenced entities of a field for the viewer of the request
func (h *RenderHandler) Render(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	field, err := h.field(req.Field, req.FieldName)
	if err != nil {
		writeFieldError(w, err)
		return
	}

	formatter, err := h.formatterFor(req.Settings)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	out := formatter.ViewElements(r.Context(), field, req.Items, req.Langcode)

	writeCacheHeaders(w, out.Cache)
	slog.Debug("Field rendered", "field", field.ID(), "items", len(req.Items), "rendered", len(out.Items))
	render.JSON(w, r, out)
}

// GetField returns a registered field definition
func (h *RenderHandler) GetField(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	field, ok := h.fields.Field(name)
	if !ok {
		http.Error(w, "Field not found", http.StatusNotFound)
		return
	}
	render.JSON(w, r, field)
}

// DefaultSettings returns the formatter's default settings
func (h *RenderHandler) DefaultSettings(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, entityfields.DefaultSettings())
}

// SettingsForm returns the settings form of a field
func (h *RenderHandler) SettingsForm(w http.ResponseWriter, r *http.Request) {
	formatter, field, ok := h.decodeSettingsRequest(w, r)
	if !ok {
		return
	}

	form, err := formatter.SettingsForm(r.Context(), field)
	if err != nil {
		slog.Error("Failed to build settings form", "field", field.ID(), "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	render.JSON(w, r, form)
}

// SettingsSummary returns the settings summary of a field
func (h *RenderHandler) SettingsSummary(w http.ResponseWriter, r *http.Request) {
	formatter, field, ok := h.decodeSettingsRequest(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, SummaryResponse{Summary: formatter.SettingsSummary(r.Context(), field)})
}

func (h *RenderHandler) decodeSettingsRequest(w http.ResponseWriter, r *http.Request) (*entityfields.Formatter, entityfields.FieldDefinition, bool) {
	var req SettingsRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, entityfields.FieldDefinition{}, false
	}

	field, err := h.field(req.Field, req.FieldName)
	if err != nil {
		writeFieldError(w, err)
		return nil, entityfields.FieldDefinition{}, false
	}

	formatter, err := h.formatterFor(req.Settings)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, entityfields.FieldDefinition{}, false
	}
	return formatter, field, true
}

var (
	errFieldRequired      = errors.New("field or field_name is required")
	errFieldNotFound      = errors.New("field not found")
	errFieldNotApplicable = errors.New("field is not an entity reference field")
)

func (h *RenderHandler) field(inline *entityfields.FieldDefinition, name string) (entityfields.FieldDefinition, error) {
	var field entityfields.FieldDefinition
	switch {
	case inline != nil:
		field = *inline
	case name != "":
		registered, ok := h.fields.Field(name)
		if !ok {
			return field, fmt.Errorf("%w: %s", errFieldNotFound, name)
		}
		field = registered
	default:
		return field, errFieldRequired
	}

	if !entityfields.IsApplicable(field) {
		return field, fmt.Errorf("%w: %s", errFieldNotApplicable, field.Type)
	}
	return field, nil
}

func (h *RenderHandler) formatterFor(settings *entityfields.Settings) (*entityfields.Formatter, error) {
	if settings == nil {
		return h.formatter, nil
	}
	return h.formatter.WithSettings(*settings)
}

func writeFieldError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errFieldNotFound) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

func writeCacheHeaders(w http.ResponseWriter, cache entityfields.CacheableMetadata) {
	if len(cache.Tags) > 0 {
		w.Header().Set(HeaderCacheTags, strings.Join(cache.Tags, " "))
	}
	if len(cache.Contexts) > 0 {
		w.Header().Set(HeaderCacheContexts, strings.Join(cache.Contexts, " "))
	}
	if cache.MaxAge != nil {
		w.Header().Set("Cache-Control", "max-age="+strconv.Itoa(*cache.MaxAge))
	}
}
