package entityfields_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/merged-fields/pkg/entityfields"
	"github.com/tendant/merged-fields/pkg/entityfields/render"
	"github.com/tendant/merged-fields/pkg/entityfields/repo/memory"
)

// countingResolver records storage lookups and loads
type countingResolver struct {
	inner   entityfields.StorageResolver
	lookups int
	loads   int
}

func (c *countingResolver) Storage(entityType string) (entityfields.EntityStorage, error) {
	c.lookups++
	storage, err := c.inner.Storage(entityType)
	if err != nil {
		return nil, err
	}
	return &countingStorage{inner: storage, resolver: c}, nil
}

type countingStorage struct {
	inner    entityfields.EntityStorage
	resolver *countingResolver
}

func (c *countingStorage) Load(ctx context.Context, id string) (*entityfields.Entity, error) {
	c.resolver.loads++
	return c.inner.Load(ctx, id)
}

// loadFunc adapts a function to EntityStorage
type loadFunc func(ctx context.Context, id string) (*entityfields.Entity, error)

func (fn loadFunc) Load(ctx context.Context, id string) (*entityfields.Entity, error) {
	return fn(ctx, id)
}

type testEnv struct {
	repo     *memory.Repository
	resolver *countingResolver
	checked  []string
	denied   map[string]bool
	logs     *bytes.Buffer
	errors   []error
}

func (e *testEnv) access(ctx context.Context, entity *entityfields.Entity, operation string, account entityfields.Account) entityfields.AccessResult {
	e.checked = append(e.checked, entity.ID)
	if e.denied[entity.ID] {
		return entityfields.Forbidden("denied").CachePerPermissions().CachePerUser()
	}
	return entityfields.Allowed().CachePerPermissions()
}

func (e *testEnv) formatter(t *testing.T, settings entityfields.Settings, extra ...entityfields.Option) *entityfields.Formatter {
	t.Helper()
	options := []entityfields.Option{
		entityfields.WithStorageResolver(e.resolver),
		entityfields.WithDisplayRepository(e.repo),
		entityfields.WithEntityTypes(e.repo),
		entityfields.WithAccessChecker(entityfields.AccessCheckerFunc(e.access)),
		entityfields.WithRenderer(render.New(render.WithEntityTypes(e.repo))),
		entityfields.WithLogger(slog.New(slog.NewJSONHandler(e.logs, nil))),
		entityfields.WithSettings(settings),
		entityfields.WithHooks(&entityfields.Hooks{
			OnError: []entityfields.ErrorHook{
				func(hctx *entityfields.HookContext, operation string, err error) {
					e.errors = append(e.errors, err)
				},
			},
		}),
	}
	f, err := entityfields.New(append(options, extra...)...)
	require.NoError(t, err)
	return f
}

// newTestEnv stores node entities:
//
//	1 article (teaser + default displays)
//	2 article, denied to the viewer
//	3 page (default display only)
//	5 gallery (no display)
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	repo := memory.New()

	require.NoError(t, repo.SaveEntityType(ctx, &entityfields.EntityType{
		ID:    "node",
		Label: "Content",
		Keys:  map[string]string{"id": "nid", "bundle": "type", "label": "title"},
	}))

	entities := []*entityfields.Entity{
		{TypeID: "node", Bundle: "article", ID: "1", Label: "One", Published: true,
			Fields: map[string][]any{"body": {"one body"}, "field_a": {"a"}, "field_b": {"b"}}},
		{TypeID: "node", Bundle: "article", ID: "2", Label: "Two", Published: true,
			Fields: map[string][]any{"body": {"two body"}}},
		{TypeID: "node", Bundle: "page", ID: "3", Label: "Three", Published: true,
			Fields: map[string][]any{"body": {"three body"}}},
		{TypeID: "node", Bundle: "gallery", ID: "5", Label: "Five", Published: true,
			Fields: map[string][]any{"body": {"five body"}}},
	}
	for _, entity := range entities {
		require.NoError(t, repo.SaveEntity(ctx, entity))
	}

	articleComponents := map[string]entityfields.DisplayComponent{
		"title":   {Type: "string", Weight: -10},
		"body":    {Type: "text_default", Weight: 5},
		"field_a": {Type: "string", Weight: 0},
		"field_b": {Type: "string", Weight: 0},
	}
	displays := []*entityfields.Display{
		{TargetEntityType: "node", Bundle: "article", Mode: "teaser", Status: true, Components: articleComponents},
		{TargetEntityType: "node", Bundle: "article", Mode: "default", Status: true, Components: articleComponents},
		{TargetEntityType: "node", Bundle: "page", Mode: "default", Status: true, Components: map[string]entityfields.DisplayComponent{
			"title": {Type: "string", Weight: 0},
			"body":  {Type: "text_default", Weight: 1},
		}},
		{TargetEntityType: "node", Bundle: "gallery", Mode: "teaser", Status: false, Components: articleComponents},
	}
	for _, display := range displays {
		require.NoError(t, repo.SaveDisplay(ctx, display))
	}

	return &testEnv{
		repo:     repo,
		resolver: &countingResolver{inner: repo},
		denied:   map[string]bool{"2": true},
		logs:     &bytes.Buffer{},
	}
}

func nodeField() entityfields.FieldDefinition {
	return entityfields.FieldDefinition{
		Name:       "field_related",
		Type:       entityfields.FieldTypeEntityReference,
		EntityType: "node",
		Bundle:     "landing",
		Storage: entityfields.StorageDefinition{
			Settings: map[string]any{"target_type": "node"},
		},
	}
}

func items(ids ...string) entityfields.FieldItems {
	out := make(entityfields.FieldItems, 0, len(ids))
	for _, id := range ids {
		out = append(out, entityfields.FieldItem{TargetID: id})
	}
	return out
}

func renderedIDs(out *entityfields.Output) []string {
	var ids []string
	for _, item := range out.Items {
		ids = append(ids, item.EntityID)
	}
	return ids
}

func TestFormatterCreation(t *testing.T) {
	repo := memory.New()
	full := []entityfields.Option{
		entityfields.WithStorageResolver(repo),
		entityfields.WithDisplayRepository(repo),
		entityfields.WithEntityTypes(repo),
		entityfields.WithAccessChecker(entityfields.NewAllowAllAccessChecker()),
		entityfields.WithRenderer(render.New()),
	}

	tests := []struct {
		name        string
		options     []entityfields.Option
		expectError bool
	}{
		{name: "no options should fail", options: nil, expectError: true},
		{name: "missing renderer should fail", options: full[:4], expectError: true},
		{name: "all collaborators", options: full, expectError: false},
		{
			name:        "empty view mode should fail",
			options:     append(append([]entityfields.Option{}, full...), entityfields.WithSettings(entityfields.Settings{})),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := entityfields.New(tt.options...)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, f)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, entityfields.DefaultSettings(), f.Settings())
		})
	}
}

func TestViewElements_EmptyField(t *testing.T) {
	env := newTestEnv(t)
	f := env.formatter(t, entityfields.DefaultSettings())

	out := f.ViewElements(context.Background(), nodeField(), nil, "en")

	require.NotNil(t, out)
	assert.True(t, out.Empty())
	assert.True(t, out.Cache.IsEmpty())
	assert.Zero(t, env.resolver.lookups)
	assert.Zero(t, env.resolver.loads)
	assert.Empty(t, env.checked)
}

func TestViewElements_LoadAndAccessFiltering(t *testing.T) {
	env := newTestEnv(t)
	f := env.formatter(t, entityfields.DefaultSettings())

	out := f.ViewElements(context.Background(), nodeField(), items("3", "404", "2", "", "1"), "en")

	assert.Equal(t, 4, env.resolver.loads, "empty target ids are not loaded")
	assert.Equal(t, []string{"3", "2", "1"}, env.checked)
	assert.Equal(t, []string{"3", "1"}, renderedIDs(out))
	assert.Equal(t, 0, out.Items[0].Delta)
	assert.Equal(t, 1, out.Items[1].Delta)

	// Inaccessible and missing entities are skipped without logging
	assert.Empty(t, env.logs.String())
	assert.Empty(t, env.errors)
}

func TestViewElements_DisplayFallback(t *testing.T) {
	env := newTestEnv(t)
	f := env.formatter(t, entityfields.Settings{ViewMode: "teaser"})

	out := f.ViewElements(context.Background(), nodeField(), items("1", "3"), "en")

	require.Len(t, out.Items, 2)
	assert.Equal(t, "teaser", out.Items[0].ViewMode)
	assert.Equal(t, "default", out.Items[1].ViewMode)
	assert.Empty(t, env.logs.String())
}

func TestViewElements_MissingDisplay(t *testing.T) {
	env := newTestEnv(t)
	f := env.formatter(t, entityfields.Settings{ViewMode: "teaser"})

	out := f.ViewElements(context.Background(), nodeField(), items("1", "5", "3"), "en")

	assert.Equal(t, []string{"1", "3"}, renderedIDs(out))
	assert.Equal(t, 0, out.Items[0].Delta)
	assert.Equal(t, 2, out.Items[1].Delta, "delta keeps the position in the accessible sequence")

	assert.Contains(t, env.logs.String(), "No view display for referenced entity")
	assert.Contains(t, env.logs.String(), `"channel":"entity_merged_fields"`)
	require.Len(t, env.errors, 1)
	assert.True(t, errors.Is(env.errors[0], entityfields.ErrDisplayNotFound))
}

func TestViewElements_EntityLabel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	hidden := env.formatter(t, entityfields.Settings{ViewMode: "default", ShowEntityLabel: false}).
		ViewElements(ctx, nodeField(), items("1"), "en")
	require.Len(t, hidden.Items, 1)
	for _, el := range hidden.Items[0].Elements {
		assert.NotEqual(t, "title", el.Key)
	}

	shown := env.formatter(t, entityfields.Settings{ViewMode: "default", ShowEntityLabel: true}).
		ViewElements(ctx, nodeField(), items("1"), "en")
	require.Len(t, shown.Items, 1)
	assert.Equal(t, "title", shown.Items[0].Elements[0].Key)
	assert.Equal(t, []any{"One"}, shown.Items[0].Elements[0].Items)
}

func TestViewElements_WeightOrder(t *testing.T) {
	env := newTestEnv(t)
	f := env.formatter(t, entityfields.Settings{ViewMode: "default", ShowEntityLabel: true})

	out := f.ViewElements(context.Background(), nodeField(), items("1"), "en")

	require.Len(t, out.Items, 1)
	var keys []string
	for _, el := range out.Items[0].Elements {
		keys = append(keys, el.Key)
	}
	assert.Equal(t, []string{"title", "field_a", "field_b", "body"}, keys)
}

func TestViewElements_CacheAggregation(t *testing.T) {
	env := newTestEnv(t)
	f := env.formatter(t, entityfields.Settings{ViewMode: "teaser"})

	out := f.ViewElements(context.Background(), nodeField(), items("1", "2", "5", "404"), "en")

	assert.Equal(t, []string{"1"}, renderedIDs(out))
	// Denied (2) and undisplayable (5) entities still contribute
	assert.Subset(t, out.Cache.Tags, []string{"node:1", "node:2", "node:5"})
	assert.Contains(t, out.Cache.Tags, "config:core.entity_view_display.node.article.teaser")
	assert.Contains(t, out.Cache.Tags, entityfields.DisplayListCacheTag)
	assert.NotContains(t, out.Cache.Tags, "node:404")
	assert.Subset(t, out.Cache.Contexts, []string{"user", "user.permissions"})
	assert.Equal(t, entityfields.Permanent, out.Cache.MaxAgeSeconds())
}

func TestViewElements_CacheMaxAge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	entity := &entityfields.Entity{TypeID: "node", Bundle: "article", ID: "8", Published: true,
		Fields: map[string][]any{"body": {"x"}},
		Cache:  entityfields.NewCacheableMetadata().WithMaxAge(300)}
	require.NoError(t, env.repo.SaveEntity(ctx, entity))

	out := env.formatter(t, entityfields.DefaultSettings()).ViewElements(ctx, nodeField(), items("1", "8"), "en")

	assert.Len(t, out.Items, 2)
	assert.Equal(t, 300, out.Cache.MaxAgeSeconds())
}

func TestViewElements_UnknownStorage(t *testing.T) {
	env := newTestEnv(t)
	f := env.formatter(t, entityfields.DefaultSettings())
	field := nodeField()
	field.Storage.Settings = map[string]any{"target_type": "paragraph"}

	out := f.ViewElements(context.Background(), field, items("1"), "en")

	assert.True(t, out.Empty())
	assert.Zero(t, env.resolver.loads)
	assert.Contains(t, env.logs.String(), "Cannot load referenced entities")
	require.Len(t, env.errors, 1)
	assert.True(t, errors.Is(env.errors[0], entityfields.ErrUnknownEntityType))

	var storageErr *entityfields.StorageError
	require.True(t, errors.As(env.errors[0], &storageErr))
	assert.Equal(t, "paragraph", storageErr.EntityType)
}

func TestViewElements_UnresolvedTargetType(t *testing.T) {
	env := newTestEnv(t)
	f := env.formatter(t, entityfields.DefaultSettings())
	field := nodeField()
	field.Storage.Settings = map[string]any{}

	out := f.ViewElements(context.Background(), field, items("1"), "en")

	assert.True(t, out.Empty())
	assert.Zero(t, env.resolver.lookups)
	require.Len(t, env.errors, 1)
	assert.True(t, errors.Is(env.errors[0], entityfields.ErrTargetTypeUnresolved))

	var fieldErr *entityfields.FieldError
	require.True(t, errors.As(env.errors[0], &fieldErr))
	assert.Equal(t, "node.landing.field_related", fieldErr.Field)
}

func TestViewElements_DoesNotMutateItems(t *testing.T) {
	env := newTestEnv(t)
	f := env.formatter(t, entityfields.DefaultSettings())
	source := items("1", "2", "3")
	before := append(entityfields.FieldItems(nil), source...)

	f.ViewElements(context.Background(), nodeField(), source, "en")

	assert.Equal(t, before, source)
}

func TestViewElements_RendererFailureIsolated(t *testing.T) {
	env := newTestEnv(t)
	renderer := render.New()
	failing := entityfields.RendererFunc(func(ctx context.Context, entity *entityfields.Entity, display *entityfields.Display, langcode string) (*entityfields.RenderTree, error) {
		if entity.ID == "1" {
			return nil, errors.New("boom")
		}
		return renderer.Build(ctx, entity, display, langcode)
	})
	f := env.formatter(t, entityfields.DefaultSettings(), entityfields.WithRenderer(failing))

	out := f.ViewElements(context.Background(), nodeField(), items("1", "3"), "en")

	assert.Equal(t, []string{"3"}, renderedIDs(out))
	assert.Equal(t, 1, out.Items[0].Delta)
	assert.Contains(t, env.logs.String(), "Failed to render referenced entity")
}

func TestViewElements_RendererTreeNotModified(t *testing.T) {
	env := newTestEnv(t)
	tree := &entityfields.RenderTree{Elements: []entityfields.Element{
		{Key: "body", Weight: 3},
		{Key: "title", Weight: 1},
	}}
	f := env.formatter(t, entityfields.DefaultSettings(), entityfields.WithRenderer(entityfields.RendererFunc(
		func(ctx context.Context, entity *entityfields.Entity, display *entityfields.Display, langcode string) (*entityfields.RenderTree, error) {
			return tree, nil
		})))

	out := f.ViewElements(context.Background(), nodeField(), items("1"), "en")

	require.Len(t, out.Items, 1)
	assert.Len(t, out.Items[0].Elements, 1)
	assert.Equal(t, []string{"body", "title"}, tree.Keys())
}

func TestViewElements_ViewerFromContext(t *testing.T) {
	env := newTestEnv(t)
	var seen []entityfields.Account
	checker := entityfields.AccessCheckerFunc(func(ctx context.Context, entity *entityfields.Entity, operation string, account entityfields.Account) entityfields.AccessResult {
		seen = append(seen, account)
		assert.Equal(t, entityfields.OperationView, operation)
		return entityfields.Allowed()
	})
	f := env.formatter(t, entityfields.DefaultSettings(), entityfields.WithAccessChecker(checker))

	ctx := entityfields.WithAccount(context.Background(), entityfields.Account{ID: "42"})
	f.ViewElements(ctx, nodeField(), items("1"), "en")

	require.Len(t, seen, 1)
	assert.Equal(t, "42", seen[0].ID)
}

func TestFormatter_WithSettings(t *testing.T) {
	env := newTestEnv(t)
	f := env.formatter(t, entityfields.DefaultSettings())

	teaser, err := f.WithSettings(entityfields.Settings{ViewMode: "teaser", ShowEntityLabel: true})
	require.NoError(t, err)
	assert.Equal(t, "teaser", teaser.Settings().ViewMode)
	assert.Equal(t, entityfields.DefaultSettings(), f.Settings())

	_, err = f.WithSettings(entityfields.Settings{})
	assert.True(t, errors.Is(err, entityfields.ErrInvalidSettings))
}

func TestViewElements_UnknownTypeReportedByLoad(t *testing.T) {
	env := newTestEnv(t)
	var loaded []string
	resolver := entityfields.StorageResolverFunc(func(entityType string) (entityfields.EntityStorage, error) {
		return loadFunc(func(ctx context.Context, id string) (*entityfields.Entity, error) {
			loaded = append(loaded, id)
			return nil, fmt.Errorf("%w: %s", entityfields.ErrUnknownEntityType, entityType)
		}), nil
	})
	f := env.formatter(t, entityfields.DefaultSettings(), entityfields.WithStorageResolver(resolver))
	field := nodeField()
	field.Storage.Settings = map[string]any{"target_type": "paragraph"}

	out := f.ViewElements(context.Background(), field, items("1", "2"), "en")

	assert.True(t, out.Empty())
	assert.Equal(t, []string{"1"}, loaded)
	assert.Contains(t, env.logs.String(), "Cannot load referenced entities")
	require.Len(t, env.errors, 1)
	assert.True(t, errors.Is(env.errors[0], entityfields.ErrUnknownEntityType))

	var storageErr *entityfields.StorageError
	require.True(t, errors.As(env.errors[0], &storageErr))
	assert.Equal(t, "paragraph", storageErr.EntityType)
	assert.Equal(t, "load_entity", storageErr.Op)
}

func TestViewElements_FallbackDisplayCacheTag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	configured := env.formatter(t, entityfields.Settings{ViewMode: "teaser"}).
		ViewElements(ctx, nodeField(), items("1"), "en")
	require.Len(t, configured.Items, 1)
	assert.NotContains(t, configured.Cache.Tags, entityfields.DisplayListCacheTag)

	fallback := env.formatter(t, entityfields.Settings{ViewMode: "teaser"}).
		ViewElements(ctx, nodeField(), items("3"), "en")
	require.Len(t, fallback.Items, 1)
	assert.Equal(t, "default", fallback.Items[0].ViewMode)
	assert.Contains(t, fallback.Cache.Tags, entityfields.DisplayListCacheTag)
	assert.Contains(t, fallback.Cache.Tags, "config:core.entity_view_display.node.page.default")

	direct := env.formatter(t, entityfields.DefaultSettings()).
		ViewElements(ctx, nodeField(), items("3"), "en")
	require.Len(t, direct.Items, 1)
	assert.NotContains(t, direct.Cache.Tags, entityfields.DisplayListCacheTag)
}

func TestViewElements_RendererWithoutTree(t *testing.T) {
	env := newTestEnv(t)
	empty := entityfields.RendererFunc(func(ctx context.Context, entity *entityfields.Entity, display *entityfields.Display, langcode string) (*entityfields.RenderTree, error) {
		return nil, nil
	})
	f := env.formatter(t, entityfields.DefaultSettings(), entityfields.WithRenderer(empty))

	out := f.ViewElements(context.Background(), nodeField(), items("1"), "en")

	assert.True(t, out.Empty())
	assert.Contains(t, env.logs.String(), "Failed to render referenced entity")
	assert.Contains(t, env.logs.String(), entityfields.ErrEmptyRender.Error())
	require.Len(t, env.errors, 1)
	assert.True(t, errors.Is(env.errors[0], entityfields.ErrEmptyRender))
}
