package store

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a storage backend.
type Config struct {
	// Provider selects the backend: "embedded" (default) or "postgres".
	Provider string

	Postgres PostgresConfig
	Embedded EmbeddedConfig
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "embedded"
	}
	c.Postgres.ApplyDefaults()
	c.Embedded.ApplyDefaults()
}

// New creates a Store based on the configuration.
//
// The factory examines Config.Provider and creates the matching backend:
//   - "embedded" (default): chromem-go plus an in-memory keyword index,
//     zero external dependencies
//   - "postgres": PostgreSQL with pgvector and pg_trgm
//
// Exactly one backend serves a process. Callers hold the returned Store
// and pass it to the services that need it.
func New(cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	switch cfg.Provider {
	case "embedded":
		return NewEmbeddedStore(cfg.Embedded, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported storage provider %q (supported: embedded, postgres)",
			ErrInvalidConfig, cfg.Provider)
	}
}
