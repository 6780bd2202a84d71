// Package postgres provides a Postgres-backed ledger that mirrors the
// in-memory semantics and snapshots committed state to two tables.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"

	"taskledger/internal/infra/persistence/memory"
	"taskledger/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the ledger interface.
var _ domain.Ledger = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/taskledger?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		address TEXT PRIMARY KEY,
		payer TEXT NOT NULL,
		data BYTEA NOT NULL,
		rent BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS balances (
		identity TEXT PRIMARY KEY,
		amount BIGINT NOT NULL
	)`,
}

// Store persists ledger state to Postgres while reusing the in-memory
// implementation for transactions. State is written before a commit becomes
// visible.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed ledger using dsn (falls back to defaultDSN),
// ensures the schema exists and hydrates the in-memory ledger.
func NewStore(ctx context.Context, dsn string, programID domain.Address, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	snapshot, err := prepare(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(programID, engine)
	mem.ImportState(snapshot)
	s := &Store{Store: mem, db: db}
	mem.SetCommitHook(s.persist)
	return s, nil
}

func prepare(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	if err := db.PingContext(ctx); err != nil {
		return memory.Snapshot{}, fmt.Errorf("ping postgres: %w", err)
	}
	for _, ddl := range schema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return memory.Snapshot{}, fmt.Errorf("execute ddl: %w", err)
		}
	}
	return loadSnapshot(ctx, db)
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		Accounts: make(map[domain.Address]domain.Account),
		Balances: make(map[domain.Identity]uint64),
	}
	rows, err := db.QueryContext(ctx, `SELECT address, payer, data, rent FROM accounts`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var addr, payer string
		var data []byte
		var rent int64
		if err := rows.Scan(&addr, &payer, &data, &rent); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan account: %w", err)
		}
		address, err := domain.ParseAddress(addr)
		if err != nil {
			return memory.Snapshot{}, err
		}
		owner, err := domain.ParseIdentity(payer)
		if err != nil {
			return memory.Snapshot{}, err
		}
		if rent < 0 {
			return memory.Snapshot{}, fmt.Errorf("account %s has negative rent", addr)
		}
		snapshot.Accounts[address] = domain.Account{Address: address, Payer: owner, Data: data, Rent: uint64(rent)}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate accounts: %w", err)
	}

	brows, err := db.QueryContext(ctx, `SELECT identity, amount FROM balances`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select balances: %w", err)
	}
	defer func() { _ = brows.Close() }()
	for brows.Next() {
		var ident string
		var amount int64
		if err := brows.Scan(&ident, &amount); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan balance: %w", err)
		}
		id, err := domain.ParseIdentity(ident)
		if err != nil {
			return memory.Snapshot{}, err
		}
		if amount < 0 {
			return memory.Snapshot{}, fmt.Errorf("balance of %s is negative", ident)
		}
		snapshot.Balances[id] = uint64(amount)
	}
	if err := brows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate balances: %w", err)
	}
	return snapshot, nil
}

func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range []string{`TRUNCATE TABLE accounts`, `TRUNCATE TABLE balances`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}
	for _, acct := range snapshot.SortedAccounts() {
		if acct.Rent > math.MaxInt64 {
			return fmt.Errorf("account %s rent out of range", acct.Address)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO accounts(address,payer,data,rent) VALUES($1,$2,$3,$4) ON CONFLICT(address) DO UPDATE SET payer=EXCLUDED.payer, data=EXCLUDED.data, rent=EXCLUDED.rent`,
			acct.Address.String(), acct.Payer.String(), acct.Data, int64(acct.Rent)); err != nil {
			return fmt.Errorf("upsert account %s: %w", acct.Address, err)
		}
	}
	for id, amount := range snapshot.Balances {
		if amount > math.MaxInt64 {
			return fmt.Errorf("balance of %s out of range", id)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO balances(identity,amount) VALUES($1,$2) ON CONFLICT(identity) DO UPDATE SET amount=EXCLUDED.amount`,
			id.String(), int64(amount)); err != nil {
			return fmt.Errorf("upsert balance %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
