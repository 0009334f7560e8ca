package entityfields

import (
	"context"
	"fmt"
	"log/slog"
)

// LogChannel is the channel attribute attached to every log record of the formatter
const LogChannel = "entity_merged_fields"

// Formatter renders the fields of referenced entities in place of the
// reference. It is immutable once built and safe for concurrent use when its
// collaborators are.
type Formatter struct {
	storages    StorageResolver
	displays    DisplayRepository
	entityTypes EntityTypeRepository
	access      AccessChecker
	renderer    Renderer
	logger      *slog.Logger
	settings    Settings
	hooks       *Hooks
}

// Option represents a functional option for configuring the formatter
type Option func(*Formatter)

// WithStorageResolver sets the entity storage lookup
func WithStorageResolver(resolver StorageResolver) Option {
	return func(f *Formatter) {
		f.storages = resolver
	}
}

// WithDisplayRepository sets the view display lookup
func WithDisplayRepository(displays DisplayRepository) Option {
	return func(f *Formatter) {
		f.displays = displays
	}
}

// WithEntityTypes sets the entity type schema lookup
func WithEntityTypes(entityTypes EntityTypeRepository) Option {
	return func(f *Formatter) {
		f.entityTypes = entityTypes
	}
}

// WithAccessChecker sets the view access check
func WithAccessChecker(checker AccessChecker) Option {
	return func(f *Formatter) {
		f.access = checker
	}
}

// WithRenderer sets the entity renderer
func WithRenderer(renderer Renderer) Option {
	return func(f *Formatter) {
		f.renderer = renderer
	}
}

// WithLogger sets the logger. The LogChannel attribute is added to it.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Formatter) {
		f.logger = logger
	}
}

// WithSettings sets the formatter settings
func WithSettings(settings Settings) Option {
	return func(f *Formatter) {
		f.settings = settings
	}
}

// WithHooks adds render hooks
func WithHooks(hooks *Hooks) Option {
	return func(f *Formatter) {
		f.hooks = f.hooks.Merge(hooks)
	}
}

// New creates a formatter with the given options
func New(options ...Option) (*Formatter, error) {
	f := &Formatter{
		settings: DefaultSettings(),
		hooks:    &Hooks{},
	}

	for _, option := range options {
		option(f)
	}

	if f.storages == nil {
		return nil, fmt.Errorf("storage resolver is required")
	}
	if f.displays == nil {
		return nil, fmt.Errorf("display repository is required")
	}
	if f.entityTypes == nil {
		return nil, fmt.Errorf("entity type repository is required")
	}
	if f.access == nil {
		return nil, fmt.Errorf("access checker is required")
	}
	if f.renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if err := f.settings.Validate(); err != nil {
		return nil, err
	}

	if f.logger == nil {
		f.logger = slog.Default()
	}
	f.logger = f.logger.With("channel", LogChannel)

	return f, nil
}

// Settings returns the current settings
func (f *Formatter) Settings() Settings {
	return f.settings
}

// WithSettings returns a copy of the formatter using the given settings
func (f *Formatter) WithSettings(settings Settings) (*Formatter, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	clone := *f
	clone.settings = settings
	return &clone, nil
}

// ViewElements renders the entities referenced by items. The viewer is taken
// from ctx (see WithAccount). Failures never abort the render: affected
// entities are skipped and the problem is logged. The returned Output is
// never nil.
func (f *Formatter) ViewElements(ctx context.Context, field FieldDefinition, items FieldItems, langcode string) *Output {
	out := &Output{Items: []RenderedEntity{}}
	if len(items) == 0 {
		return out
	}

	targetType, err := TargetEntityType(field)
	if err != nil {
		err = &FieldError{Field: field.ID(), Op: "resolve_target_type", Err: err}
		f.logger.ErrorContext(ctx, "Cannot resolve target entity type", "field", field.ID(), "error", err)
		f.hooks.executeOnError(ctx, "resolve_target_type", err)
		return out
	}

	loaded := f.loadEntities(ctx, targetType, items)
	if loaded.status == loadConfigurationError {
		f.logger.ErrorContext(ctx, "Cannot load referenced entities", "field", field.ID(), "entity_type", targetType, "error", loaded.err)
		f.hooks.executeOnError(ctx, "load_entities", loaded.err)
		return out
	}

	cache := NewCacheableMetadata()
	for _, considered := range loaded.considered {
		cache = cache.Merge(considered.entity.CacheableMetadata()).Merge(considered.access.Cache)
	}

	labelKey := ""
	if !f.settings.ShowEntityLabel && len(loaded.accessible) > 0 {
		labelKey = f.labelKey(ctx, targetType)
	}

	for delta, entity := range loaded.accessible {
		rendered, treeCache, ok := f.renderEntity(ctx, entity, delta, langcode, labelKey)
		cache = cache.Merge(treeCache)
		if !ok {
			continue
		}
		out.Items = append(out.Items, *rendered)
	}

	out.Cache = cache
	return out
}
