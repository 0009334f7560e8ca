package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/merged-fields/pkg/entityfields"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.DatabaseType)
	assert.Equal(t, "repository", cfg.DisplayStore)
	assert.Equal(t, entityfields.DefaultSettings(), cfg.Formatter.Settings())
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want string
	}{
		{"EmptyPort", []Option{WithPort("")}, "port cannot be empty"},
		{"BadDatabase", []Option{WithDatabase("mysql", "")}, "database type must be"},
		{"PostgresWithoutURL", []Option{WithDatabase("postgres", "")}, "database URL is required"},
		{"S3WithoutBucket", []Option{WithS3DisplayStore(S3Config{})}, "s3 bucket cannot be empty"},
		{"BadLogLevel", []Option{WithLogLevel("loud")}, "invalid log_level"},
		{"EmptyViewMode", []Option{WithFormatterSettings(entityfields.Settings{})}, "view mode"},
		{"UnknownEnvironment", []Option{WithEnvironment("staging")}, "environment must be"},
		{"EmptySchema", []Option{WithDatabaseSchema("")}, "database schema cannot be empty"},
		{"EmptyJWTSecret", []Option{WithJWTSecret("")}, "jwt secret cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.opts...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad_ExplicitOptions(t *testing.T) {
	cfg, err := Load(
		WithEnvironment("production"),
		WithDatabase("postgres", "postgres://localhost/site"),
		WithDatabaseSchema("site_fields"),
		WithJWTSecret("s3cret"),
	)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "postgres", cfg.DatabaseType)
	assert.Equal(t, "site_fields", cfg.DBSchema)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestValidate_Environment(t *testing.T) {
	cfg := defaults()
	cfg.Environment = "staging"
	assert.EqualError(t, cfg.Validate(), "environment must be development, production or testing")
}

func TestValidate_DisplayStore(t *testing.T) {
	cfg := defaults()
	cfg.DisplayStore = "filesystem"
	assert.EqualError(t, cfg.Validate(), "display_store must be 'repository' or 's3'")

	cfg.DisplayStore = "s3"
	assert.EqualError(t, cfg.Validate(), "s3 bucket is required when display_store is 's3'")
}

func TestWithEnv(t *testing.T) {
	t.Setenv("ENTITYFIELDS_PORT", "9090")
	t.Setenv("ENTITYFIELDS_VIEW_MODE", "teaser")
	t.Setenv("ENTITYFIELDS_SHOW_ENTITY_LABEL", "true")
	t.Setenv("ENTITYFIELDS_S3_BUCKET", "displays")
	t.Setenv("ENTITYFIELDS_DISPLAY_STORE", "s3")

	cfg, err := Load(WithEnv())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "memory", cfg.DatabaseType)
	assert.Equal(t, entityfields.Settings{ViewMode: "teaser", ShowEntityLabel: true}, cfg.Formatter.Settings())
	assert.Equal(t, "s3", cfg.DisplayStore)
	assert.Equal(t, "displays", cfg.S3.Bucket)
}

func TestWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7070"
log_level: debug
fixture_path: site.yaml
formatter:
  view_mode: teaser
`), 0o600))

	t.Run("FileValues", func(t *testing.T) {
		cfg, err := Load(WithFile(path))
		require.NoError(t, err)
		assert.Equal(t, "7070", cfg.Port)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "site.yaml", cfg.FixturePath)
		assert.Equal(t, "teaser", cfg.Formatter.ViewMode)
		assert.Equal(t, "memory", cfg.DatabaseType)
	})

	t.Run("EnvOverridesFile", func(t *testing.T) {
		t.Setenv("ENTITYFIELDS_PORT", "6060")
		cfg, err := Load(WithFile(path))
		require.NoError(t, err)
		assert.Equal(t, "6060", cfg.Port)
	})

	t.Run("ExplicitOptionWins", func(t *testing.T) {
		cfg, err := Load(WithFile(path), WithPort("5050"))
		require.NoError(t, err)
		assert.Equal(t, "5050", cfg.Port)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(WithFile(filepath.Join(t.TempDir(), "missing.yaml")))
		assert.ErrorContains(t, err, "failed to read config file")
	})
}

func TestBuild_MemoryWithFixture(t *testing.T) {
	cfg, err := Load(
		WithFixture("../fixture/testdata/site.yaml"),
		WithFormatterSettings(entityfields.Settings{ViewMode: "teaser"}),
		WithLogLevel("error"),
	)
	require.NoError(t, err)

	rt, err := cfg.Build(context.Background())
	require.NoError(t, err)
	defer rt.Close()

	require.Contains(t, rt.Fields, "field_related")
	field := rt.Fields["field_related"]

	ctx := entityfields.WithAccount(context.Background(), entityfields.Account{
		ID:          "1",
		Permissions: []string{"view node"},
	})
	out := rt.Formatter.ViewElements(ctx, field, entityfields.FieldItems{
		{TargetID: "1"}, {TargetID: "2"}, {TargetID: "3"},
	}, "en")

	// 3 is unpublished and not owned by the viewer
	require.Len(t, out.Items, 2)
	assert.Equal(t, "1", out.Items[0].EntityID)
	assert.Equal(t, "teaser", out.Items[0].ViewMode)
	assert.Equal(t, "2", out.Items[1].EntityID)
	assert.Equal(t, "default", out.Items[1].ViewMode)
	assert.Equal(t, 300, out.Cache.MaxAgeSeconds())
	assert.Contains(t, out.Cache.Tags, "node:3")

	_, err = rt.Repository.EntityType(context.Background(), "node")
	assert.NoError(t, err)
	_, err = rt.Displays.Display(context.Background(), "node.article.teaser")
	assert.NoError(t, err)
}

func TestBuild_FixtureErrors(t *testing.T) {
	cfg, err := Load(WithFixture("missing.yaml"))
	require.NoError(t, err)

	_, err = cfg.Build(context.Background())
	assert.ErrorContains(t, err, "failed to read fixture")
	assert.False(t, errors.Is(err, entityfields.ErrInvalidSettings))
}

func TestUsage(t *testing.T) {
	usage, err := Usage()
	require.NoError(t, err)
	assert.Contains(t, usage, "ENTITYFIELDS_DATABASE_URL")
	assert.Contains(t, usage, "ENTITYFIELDS_VIEW_MODE")
}
