// Package backend opens a store.Store from a driver name and DSN, for
// callers that pick the backend from configuration.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/xraph/grove"

	"github.com/xraph/remittance/store"
	"github.com/xraph/remittance/store/memory"
	"github.com/xraph/remittance/store/mongo"
	"github.com/xraph/remittance/store/postgres"
	"github.com/xraph/remittance/store/sqlite"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// DefaultMongoDatabase is used when a mongo Config names no database.
const DefaultMongoDatabase = "remittance"

// Config selects and addresses a store backend.
type Config struct {
	// Driver is one of memory, sqlite, postgres or mongo (default memory).
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// DSN is a file path for sqlite, a connection string for postgres and
	// a URI for mongo. It is ignored by memory.
	DSN string `json:"dsn" mapstructure:"dsn" yaml:"dsn"`

	// Database names the mongo database.
	Database string `json:"database" mapstructure:"database" yaml:"database"`
}

// Durable reports whether c selects a backend that outlives the process.
func (c Config) Durable() bool {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	return driver != "" && driver != DriverMemory
}

// Open connects to the configured backend. The caller owns the returned
// store and must Close it.
func Open(ctx context.Context, cfg Config) (store.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if cfg.Durable() && cfg.DSN == "" {
		return nil, fmt.Errorf("backend: driver %q needs a dsn", driver)
	}

	switch driver {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverSQLite, "sqlite3":
		s, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres, "pg", "postgresql":
		s, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMongo, "mongodb":
		db := cfg.Database
		if db == "" {
			db = DefaultMongoDatabase
		}
		s, err := mongo.Open(ctx, cfg.DSN, db)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("backend: unknown driver %q", cfg.Driver)
	}
}

// FromGrove builds a store on an open grove handle, choosing the backend
// from the handle's driver. The store closes db when it is closed.
func FromGrove(db *grove.DB) (store.Store, error) {
	if db == nil {
		return nil, fmt.Errorf("backend: nil grove handle")
	}
	switch name := db.Driver().Name(); name {
	case "pg":
		return postgres.New(db), nil
	case "sqlite":
		return sqlite.New(db), nil
	case "mongo":
		return mongo.New(db), nil
	default:
		return nil, fmt.Errorf("backend: unsupported grove driver %q", name)
	}
}
