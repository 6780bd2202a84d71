// Package sqlite provides a SQLite-backed ledger that wraps the in-memory
// transactional store and snapshots committed state to disk.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"taskledger/internal/infra/persistence/memory"
	"taskledger/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.Ledger = (*Store)(nil)

const defaultPath = "taskledger.db"

// Store persists the in-memory ledger to SQLite. The account and balance
// tables are rewritten inside one SQL transaction before a ledger
// transaction becomes visible; a failed write aborts the commit.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path and hydrates the ledger.
func NewStore(path string, programID domain.Address, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			address TEXT PRIMARY KEY,
			payer TEXT NOT NULL,
			data BLOB NOT NULL,
			rent INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS balances (
			identity TEXT PRIMARY KEY,
			amount INTEGER NOT NULL
		)`,
	} {
		if _, err := db.Exec(ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}
	s := &Store{Store: memory.NewStore(programID, engine), db: db, path: path}
	if err := s.load(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.SetCommitHook(s.persist)
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	snapshot := memory.Snapshot{
		Accounts: make(map[domain.Address]domain.Account),
		Balances: make(map[domain.Identity]uint64),
	}
	rows, err := s.db.QueryContext(ctx, `SELECT address, payer, data, rent FROM accounts`)
	if err != nil {
		return fmt.Errorf("select accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var addr, payer string
		var data []byte
		var rent int64
		if err := rows.Scan(&addr, &payer, &data, &rent); err != nil {
			return fmt.Errorf("scan account: %w", err)
		}
		acct, err := decodeAccount(addr, payer, data, rent)
		if err != nil {
			return err
		}
		snapshot.Accounts[acct.Address] = acct
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate accounts: %w", err)
	}

	brows, err := s.db.QueryContext(ctx, `SELECT identity, amount FROM balances`)
	if err != nil {
		return fmt.Errorf("select balances: %w", err)
	}
	defer func() { _ = brows.Close() }()
	for brows.Next() {
		var ident string
		var amount int64
		if err := brows.Scan(&ident, &amount); err != nil {
			return fmt.Errorf("scan balance: %w", err)
		}
		id, err := domain.ParseIdentity(ident)
		if err != nil {
			return err
		}
		if amount < 0 {
			return fmt.Errorf("balance of %s is negative", ident)
		}
		snapshot.Balances[id] = uint64(amount)
	}
	if err := brows.Err(); err != nil {
		return fmt.Errorf("iterate balances: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

func decodeAccount(addr, payer string, data []byte, rent int64) (domain.Account, error) {
	address, err := domain.ParseAddress(addr)
	if err != nil {
		return domain.Account{}, err
	}
	owner, err := domain.ParseIdentity(payer)
	if err != nil {
		return domain.Account{}, err
	}
	if rent < 0 {
		return domain.Account{}, fmt.Errorf("account %s has negative rent", addr)
	}
	return domain.Account{Address: address, Payer: owner, Data: data, Rent: uint64(rent)}, nil
}

func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return fmt.Errorf("clear accounts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM balances`); err != nil {
		return fmt.Errorf("clear balances: %w", err)
	}
	for _, acct := range snapshot.SortedAccounts() {
		if acct.Rent > math.MaxInt64 {
			return fmt.Errorf("account %s rent out of range", acct.Address)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO accounts(address,payer,data,rent) VALUES(?,?,?,?)`,
			acct.Address.String(), acct.Payer.String(), acct.Data, int64(acct.Rent)); err != nil {
			return fmt.Errorf("insert account %s: %w", acct.Address, err)
		}
	}
	for id, amount := range snapshot.Balances {
		if amount > math.MaxInt64 {
			return fmt.Errorf("balance of %s out of range", id)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO balances(identity,amount) VALUES(?,?)`, id.String(), int64(amount)); err != nil {
			return fmt.Errorf("insert balance %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
