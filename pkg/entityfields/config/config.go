package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/merged-fields/pkg/entityfields"
	"github.com/tendant/merged-fields/pkg/entityfields/access"
	s3store "github.com/tendant/merged-fields/pkg/entityfields/displaystore/s3"
	"github.com/tendant/merged-fields/pkg/entityfields/fixture"
	"github.com/tendant/merged-fields/pkg/entityfields/render"
	"github.com/tendant/merged-fields/pkg/entityfields/repo/memory"
	repopg "github.com/tendant/merged-fields/pkg/entityfields/repo/postgres"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		DatabaseType: "memory",
		DBSchema:     "entityfields",
		DisplayStore: "repository",
		LogLevel:     "info",
		MaxBodyBytes: 1 << 20,
		Formatter: FormatterConfig{
			ViewMode: entityfields.DefaultViewMode,
		},
	}
}

// ServerConfig represents configuration for the merged fields render service
type ServerConfig struct {
	Port        string `yaml:"port" env:"ENTITYFIELDS_PORT" env-default:"8080" env-description:"HTTP listen port"`
	Environment string `yaml:"environment" env:"ENTITYFIELDS_ENVIRONMENT" env-default:"development" env-description:"development, production or testing"`
	LogLevel    string `yaml:"log_level" env:"ENTITYFIELDS_LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`

	CORSOrigins  []string `yaml:"cors_origins" env:"ENTITYFIELDS_CORS_ORIGINS" env-separator:"," env-description:"Comma separated origins allowed by CORS"`
	MaxBodyBytes int64    `yaml:"max_body_bytes" env:"ENTITYFIELDS_MAX_BODY_BYTES" env-default:"1048576" env-description:"Maximum request body size"`

	// Database configuration
	DatabaseType string `yaml:"database_type" env:"ENTITYFIELDS_DATABASE_TYPE" env-default:"memory" env-description:"memory or postgres"`
	DatabaseURL  string `yaml:"database_url" env:"ENTITYFIELDS_DATABASE_URL" env-description:"Postgres connection string"`
	DBSchema     string `yaml:"db_schema" env:"ENTITYFIELDS_DB_SCHEMA" env-default:"entityfields" env-description:"Postgres schema set as search_path"`

	// FixturePath seeds the repository from a YAML fixture on startup
	FixturePath string `yaml:"fixture_path" env:"ENTITYFIELDS_FIXTURE_PATH" env-description:"YAML fixture loaded on startup"`

	// Display configuration: "repository" reads displays from the database, "s3" from a bucket
	DisplayStore string   `yaml:"display_store" env:"ENTITYFIELDS_DISPLAY_STORE" env-default:"repository" env-description:"repository or s3"`
	S3           S3Config `yaml:"s3"`

	// JWTSecret verifies HS256 viewer tokens. Requests without a token render as anonymous.
	JWTSecret string `yaml:"jwt_secret" env:"ENTITYFIELDS_JWT_SECRET" env-description:"HS256 secret for viewer tokens"`

	Formatter FormatterConfig `yaml:"formatter"`
}

// S3Config configures the S3 display store
type S3Config struct {
	Region          string `yaml:"region" env:"ENTITYFIELDS_S3_REGION" env-description:"AWS region"`
	Bucket          string `yaml:"bucket" env:"ENTITYFIELDS_S3_BUCKET" env-description:"Bucket holding display objects"`
	Prefix          string `yaml:"prefix" env:"ENTITYFIELDS_S3_PREFIX" env-description:"Key prefix of display objects"`
	AccessKeyID     string `yaml:"access_key_id" env:"ENTITYFIELDS_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"ENTITYFIELDS_S3_SECRET_ACCESS_KEY"`
	Endpoint        string `yaml:"endpoint" env:"ENTITYFIELDS_S3_ENDPOINT" env-description:"Custom endpoint for S3-compatible services"`
	UsePathStyle    bool   `yaml:"use_path_style" env:"ENTITYFIELDS_S3_USE_PATH_STYLE"`
}

// FormatterConfig holds the default formatter settings
type FormatterConfig struct {
	ViewMode        string `yaml:"view_mode" env:"ENTITYFIELDS_VIEW_MODE" env-default:"default" env-description:"View mode used to render referenced entities"`
	ShowEntityLabel bool   `yaml:"show_entity_label" env:"ENTITYFIELDS_SHOW_ENTITY_LABEL" env-description:"Keep the label of referenced entities"`
}

// Settings converts the formatter configuration
func (c FormatterConfig) Settings() entityfields.Settings {
	return entityfields.Settings{ViewMode: c.ViewMode, ShowEntityLabel: c.ShowEntityLabel}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if !validEnvironment(c.Environment) {
		return errors.New("environment must be development, production or testing")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.DisplayStore {
	case "repository":
	case "s3":
		if c.S3.Bucket == "" {
			return errors.New("s3 bucket is required when display_store is 's3'")
		}
	default:
		return errors.New("display_store must be 'repository' or 's3'")
	}

	if c.MaxBodyBytes < 0 {
		return errors.New("max_body_bytes cannot be negative")
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	if err := c.Formatter.Settings().Validate(); err != nil {
		return fmt.Errorf("formatter: %w", err)
	}

	return nil
}

func validEnvironment(env string) bool {
	switch env {
	case "development", "production", "testing":
		return true
	}
	return false
}

// Logger creates the JSON slog logger at the configured level
func (c *ServerConfig) Logger() *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return l, fmt.Errorf("invalid log_level %q", level)
	}
	return l, nil
}

// Repository is the store the service reads entities and configuration from
type Repository interface {
	entityfields.StorageResolver
	entityfields.EntityTypeRepository
	entityfields.DisplayRepository
	fixture.Writer
	DeleteEntity(ctx context.Context, entityType, id string) error
}

// DisplayStore is where view displays are read from and written to
type DisplayStore interface {
	entityfields.DisplayRepository
	SaveDisplay(ctx context.Context, display *entityfields.Display) error
}

// Runtime is the wired service built from a ServerConfig
type Runtime struct {
	Formatter  *entityfields.Formatter
	Repository Repository
	Displays   DisplayStore
	Fields     map[string]entityfields.FieldDefinition
	Logger     *slog.Logger

	pool *pgxpool.Pool
}

// Close releases the database pool
func (r *Runtime) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Build wires repositories, the display store, access checker, renderer and
// formatter from the configuration
func (c *ServerConfig) Build(ctx context.Context, opts ...entityfields.Option) (*Runtime, error) {
	rt := &Runtime{
		Logger: c.Logger(),
		Fields: map[string]entityfields.FieldDefinition{},
	}

	repo, pool, err := c.buildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	rt.Repository = repo
	rt.pool = pool

	if c.FixturePath != "" {
		f, err := fixture.LoadFile(c.FixturePath)
		if err != nil {
			rt.Close()
			return nil, err
		}
		if err := f.Apply(ctx, repo); err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to apply fixture: %w", err)
		}
		for _, field := range f.Fields {
			rt.Fields[field.Name] = field
		}
	}

	rt.Displays = repo
	if c.DisplayStore == "s3" {
		store, err := s3store.New(ctx, s3store.Config{
			Region:          c.S3.Region,
			Bucket:          c.S3.Bucket,
			Prefix:          c.S3.Prefix,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			Endpoint:        c.S3.Endpoint,
			UsePathStyle:    c.S3.UsePathStyle,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to build display store: %w", err)
		}
		rt.Displays = store
	}

	options := []entityfields.Option{
		entityfields.WithStorageResolver(repo),
		entityfields.WithDisplayRepository(rt.Displays),
		entityfields.WithEntityTypes(repo),
		entityfields.WithAccessChecker(access.New()),
		entityfields.WithRenderer(render.New(render.WithEntityTypes(repo))),
		entityfields.WithLogger(rt.Logger),
		entityfields.WithSettings(c.Formatter.Settings()),
	}
	options = append(options, opts...)

	formatter, err := entityfields.New(options...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Formatter = formatter
	return rt, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context) (Repository, *pgxpool.Pool, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil, nil
	case "postgres":
		cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		schema := c.DBSchema
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if schema == "" {
				return nil
			}
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return repopg.NewWithPool(pool), pool, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// Usage describes the environment variables read by WithEnv
func Usage() (string, error) {
	header := "Environment variables:"
	var cfg ServerConfig
	return cleanenv.GetDescription(&cfg, &header)
}
