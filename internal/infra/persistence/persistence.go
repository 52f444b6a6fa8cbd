// Package persistence selects the persistence backend.
package persistence

import (
	"fmt"

	"miqa/internal/infra/persistence/memory"
	"miqa/internal/infra/persistence/postgres"
	"miqa/internal/infra/persistence/sqlite"
	"miqa/pkg/domain"
)

// Options configures backend selection.
type Options struct {
	// Driver is one of memory, sqlite, or postgres. Empty means memory.
	Driver string
	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string
	// PostgresDSN is the connection string for the postgres driver. Empty
	// falls back to the driver default.
	PostgresDSN string
}

// Open constructs the configured store. The memory driver is the default
// and keeps state process-local.
func Open(opts Options) (domain.PersistentStore, error) {
	switch opts.Driver {
	case "", "memory":
		return memory.NewStore(), nil
	case "sqlite":
		return sqlite.NewStore(opts.SQLitePath)
	case "postgres":
		return postgres.NewStore(opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", opts.Driver)
	}
}
