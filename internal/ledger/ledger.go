// Package ledger selects a ledger backend from configuration.
package ledger

import (
	"context"
	"fmt"
	"io"

	"taskledger/internal/blob"
	blobledger "taskledger/internal/infra/persistence/blob"
	"taskledger/internal/infra/persistence/memory"
	"taskledger/internal/infra/persistence/postgres"
	"taskledger/internal/infra/persistence/sqlite"
	"taskledger/pkg/domain"
)

// Driver identifies a concrete ledger implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
	DriverBlob     Driver = "blob"     // one object per account in a blob store
)

// Config selects and configures a ledger backend. The zero value opens the
// default sqlite file.
type Config struct {
	Driver      Driver      `yaml:"driver"`
	SQLitePath  string      `yaml:"sqlite_path"`
	PostgresDSN string      `yaml:"postgres_dsn"`
	Blob        blob.Config `yaml:"blob"`
}

// Open constructs the configured ledger for program.
func Open(ctx context.Context, cfg Config, program domain.Program, engine *domain.RulesEngine) (domain.Ledger, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverMemory:
		return memory.NewStore(program.ID, engine), nil
	case DriverSQLite:
		return ledgerOrNil(sqlite.NewStore(cfg.SQLitePath, program.ID, engine))
	case DriverPostgres:
		return ledgerOrNil(postgres.NewStore(ctx, cfg.PostgresDSN, program.ID, engine))
	case DriverBlob:
		objects, err := blob.Open(ctx, cfg.Blob)
		if err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		return ledgerOrNil(blobledger.NewStore(ctx, objects, program.ID, engine))
	default:
		return nil, fmt.Errorf("unknown ledger driver %s", driver)
	}
}

// ledgerOrNil keeps a failed constructor from leaking a typed nil.
func ledgerOrNil[L domain.Ledger](l L, err error) (domain.Ledger, error) {
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Close releases backend resources when the ledger holds any.
func Close(l domain.Ledger) error {
	if c, ok := l.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
