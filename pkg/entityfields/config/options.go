package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/merged-fields/pkg/entityfields"
)

// WithEnv applies environment variable overrides. Variables are named by the
// env tags of ServerConfig (ENTITYFIELDS_PORT, ENTITYFIELDS_DATABASE_URL, ...).
// Unset variables keep the value configured so far.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// WithFile reads a YAML, JSON or TOML config file. Environment variables
// still take precedence over the file.
func WithFile(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return nil
		}
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}
}

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment selects development, production or testing. Development
// adds render logging hooks in cmd/server.
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if !validEnvironment(env) {
			return fmt.Errorf("environment must be development, production or testing, got: %q", env)
		}
		c.Environment = env
		return nil
	}
}

// WithLogLevel sets the slog level
func WithLogLevel(level string) Option {
	return func(c *ServerConfig) error {
		if _, err := parseLevel(level); err != nil {
			return err
		}
		c.LogLevel = level
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the Postgres schema used as search_path
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		if schema == "" {
			return fmt.Errorf("database schema cannot be empty")
		}
		c.DBSchema = schema
		return nil
	}
}

// WithFixture seeds the repository from a YAML fixture file
func WithFixture(path string) Option {
	return func(c *ServerConfig) error {
		c.FixturePath = path
		return nil
	}
}

// WithS3DisplayStore reads view displays from an S3 bucket
func WithS3DisplayStore(s3 S3Config) Option {
	return func(c *ServerConfig) error {
		if s3.Bucket == "" {
			return fmt.Errorf("s3 bucket cannot be empty")
		}
		c.DisplayStore = "s3"
		c.S3 = s3
		return nil
	}
}

// WithJWTSecret sets the secret used to verify viewer tokens. cmd/server
// enables the admin routes only when a secret is configured.
func WithJWTSecret(secret string) Option {
	return func(c *ServerConfig) error {
		if secret == "" {
			return fmt.Errorf("jwt secret cannot be empty")
		}
		c.JWTSecret = secret
		return nil
	}
}

// WithFormatterSettings sets the default formatter settings
func WithFormatterSettings(settings entityfields.Settings) Option {
	return func(c *ServerConfig) error {
		if err := settings.Validate(); err != nil {
			return err
		}
		c.Formatter = FormatterConfig{ViewMode: settings.ViewMode, ShowEntityLabel: settings.ShowEntityLabel}
		return nil
	}
}
