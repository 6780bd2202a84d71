package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"taskledger/pkg/domain"
)

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	program := domain.DefaultProgram()
	owner := domain.Identity{7}
	d, err := program.DeriveProfileAddress(owner)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	store, err := NewStore(path, program.ID, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.LedgerTx) error {
		if err := tx.Credit(owner, 1_000_000_000); err != nil {
			return err
		}
		_, err := tx.Allocate(d, 3, owner, []byte{1, 2, 3})
		return err
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}
	balance := store.Balance(owner)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, program.ID, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	acct, ok := reopened.Read(d.Address)
	if !ok {
		t.Fatalf("account not reloaded")
	}
	if string(acct.Data) != string([]byte{1, 2, 3}) || acct.Payer != owner || acct.Rent != domain.RentExemptMinimum(3) {
		t.Fatalf("unexpected account %+v", acct)
	}
	if reopened.Balance(owner) != balance {
		t.Fatalf("expected balance %d, got %d", balance, reopened.Balance(owner))
	}
	if reopened.Path() != path {
		t.Fatalf("unexpected path %s", reopened.Path())
	}
}

func TestStoreSkipsPersistOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	program := domain.DefaultProgram()
	store, err := NewStore(path, program.ID, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	boom := errors.New("boom")
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.LedgerTx) error {
		if err := tx.Credit(domain.Identity{1}, 5); err != nil {
			return err
		}
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM balances`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no persisted balances, got %d", count)
	}
}

func TestStoreRejectsCommitWhenDatabaseUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	program := domain.DefaultProgram()
	owner := domain.Identity{5}
	profile, err := program.DeriveProfileAddress(owner)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	task, err := program.DeriveTaskAddress(owner, 0)
	if err != nil {
		t.Fatalf("derive task: %v", err)
	}
	store, err := NewStore(path, program.ID, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.LedgerTx) error {
		if err := tx.Credit(owner, 1_000_000_000); err != nil {
			return err
		}
		_, err := tx.Allocate(profile, 2, owner, []byte{0, 0})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	balance := store.Balance(owner)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.LedgerTx) error {
		if err := tx.Write(profile.Address, []byte{1, 1}); err != nil {
			return err
		}
		_, err := tx.Allocate(task, 2, owner, []byte{9, 9})
		return err
	}); err == nil {
		t.Fatalf("expected commit to fail on a closed database")
	}
	acct, ok := store.Read(profile.Address)
	if !ok || acct.Data[0] != 0 || acct.Data[1] != 0 {
		t.Fatalf("profile changed after failed commit: %+v", acct)
	}
	if _, ok := store.Read(task.Address); ok {
		t.Fatalf("task visible after failed commit")
	}
	if got := store.Balance(owner); got != balance {
		t.Fatalf("balance changed after failed commit: %d vs %d", got, balance)
	}
}

func TestNewStoreRejectsNegativeBalance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := NewStore(path, domain.DefaultProgram().ID, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT INTO balances(identity,amount) VALUES(?,?)`, domain.Identity{6}.String(), -5); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := NewStore(path, domain.DefaultProgram().ID, nil); err == nil {
		t.Fatalf("expected negative balance to be rejected")
	}
}
