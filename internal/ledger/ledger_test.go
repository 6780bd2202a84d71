package ledger

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"taskledger/internal/blob"
	blobledger "taskledger/internal/infra/persistence/blob"
	"taskledger/internal/infra/persistence/memory"
	"taskledger/internal/infra/persistence/postgres"
	"taskledger/internal/infra/persistence/postgres/testutil"
	"taskledger/internal/infra/persistence/sqlite"
	"taskledger/pkg/domain"
)

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()
	program := domain.DefaultProgram()

	mem, err := Open(ctx, Config{Driver: DriverMemory}, program, nil)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := mem.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", mem)
	}
	if err := Close(mem); err != nil {
		t.Fatalf("close memory: %v", err)
	}

	path := filepath.Join(t.TempDir(), "ledger.db")
	lite, err := Open(ctx, Config{SQLitePath: path}, program, nil)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	store, ok := lite.(*sqlite.Store)
	if !ok || store.Path() != path {
		t.Fatalf("expected sqlite store at %s, got %T", path, lite)
	}
	if err := Close(lite); err != nil {
		t.Fatalf("close sqlite: %v", err)
	}

	objects, err := Open(ctx, Config{Driver: DriverBlob, Blob: blob.Config{Driver: blob.DriverMemory}}, program, nil)
	if err != nil {
		t.Fatalf("blob: %v", err)
	}
	if _, ok := objects.(*blobledger.Store); !ok {
		t.Fatalf("expected blob ledger, got %T", objects)
	}
}

func TestOpenPostgres(t *testing.T) {
	db, _ := testutil.NewStubDB()
	restore := postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	l, err := Open(context.Background(), Config{Driver: DriverPostgres, PostgresDSN: "postgres://stub"}, domain.DefaultProgram(), nil)
	if err != nil {
		t.Fatalf("postgres: %v", err)
	}
	if _, ok := l.(*postgres.Store); !ok {
		t.Fatalf("expected postgres store, got %T", l)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Config{Driver: "paper"}, domain.DefaultProgram(), nil); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, Config{Driver: DriverBlob, Blob: blob.Config{Driver: "tape"}}, domain.DefaultProgram(), nil); err == nil {
		t.Fatalf("expected blob driver error")
	}
}
