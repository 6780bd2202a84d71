// Package memory provides an in-memory implementation of the task ledger
// used for tests, ephemeral environments and as the transactional core of
// the durable backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"taskledger/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the ledger interface.
var _ domain.Ledger = (*Store)(nil)

type (
	// Account aliases domain.Account.
	Account = domain.Account
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
)

type memoryState struct {
	accounts map[domain.Address]Account
	balances map[domain.Identity]uint64
}

// Snapshot captures a point-in-time clone of the ledger state.
type Snapshot struct {
	Accounts map[domain.Address]Account `json:"accounts"`
	Balances map[domain.Identity]uint64 `json:"balances"`
}

func newMemoryState() memoryState {
	return memoryState{
		accounts: make(map[domain.Address]Account),
		balances: make(map[domain.Identity]uint64),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.accounts {
		cloned.accounts[k] = v.Clone()
	}
	for k, v := range s.balances {
		cloned.balances[k] = v
	}
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{Accounts: cloned.accounts, Balances: cloned.balances}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Accounts {
		v.Address = k
		state.accounts[k] = v.Clone()
	}
	for k, v := range s.Balances {
		state.balances[k] = v
	}
	return state
}

// SortedAccounts returns the snapshot accounts ordered by address.
func (s Snapshot) SortedAccounts() []Account {
	out := make([]Account, 0, len(s.Accounts))
	for _, acct := range s.Accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.String() < out[j].Address.String() })
	return out
}

// CommitHook receives the candidate state of a transaction before it becomes
// visible. A non-nil error aborts the commit.
type CommitHook func(ctx context.Context, next Snapshot) error

// Store provides an in-memory transactional ledger owned by one program.
type Store struct {
	mu        sync.RWMutex
	state     memoryState
	programID domain.Address
	engine    *RulesEngine
	onCommit  CommitHook
}

// NewStore constructs an in-memory ledger for programID. A nil engine skips
// commit-time rule evaluation.
func NewStore(programID domain.Address, engine *RulesEngine) *Store {
	return &Store{
		state:     newMemoryState(),
		programID: programID,
		engine:    engine,
	}
}

// ProgramID returns the program whose derivations this ledger accepts.
func (s *Store) ProgramID() domain.Address { return s.programID }

// RulesEngine exposes the configured rules engine.
func (s *Store) RulesEngine() *RulesEngine { return s.engine }

// SetCommitHook installs hook to run under the store lock for every
// transaction that passes rule evaluation. Durable backends persist from it.
func (s *Store) SetCommitHook(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommit = hook
}

// ExportState returns a deep copy of the ledger state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the ledger state with the snapshot contents.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []domain.Change
}

type ledgerView struct {
	state *memoryState
}

func (v ledgerView) Read(addr domain.Address) (Account, bool) {
	acct, ok := v.state.accounts[addr]
	if !ok {
		return Account{}, false
	}
	return acct.Clone(), true
}

func (v ledgerView) Balance(id domain.Identity) uint64 {
	return v.state.balances[id]
}

// RunInTransaction executes fn against a transactional copy of the ledger
// state. The copy replaces the live state only when fn succeeds, the context
// is still live, no blocking rule violation is reported and the commit hook
// (if any) accepts it.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.LedgerTx) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	tx := &transaction{
		store: s,
		state: s.state.clone(),
	}
	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, ledgerView{state: &tx.state}, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if s.onCommit != nil {
		if err := s.onCommit(context.WithoutCancel(ctx), snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the ledger state.
func (s *Store) View(_ context.Context, fn func(domain.LedgerView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(ledgerView{state: &snapshot})
}

// Read returns a copy of the account at addr from the committed state.
func (s *Store) Read(addr domain.Address) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ledgerView{state: &s.state}.Read(addr)
}

// Balance returns the committed balance of id.
func (s *Store) Balance(id domain.Identity) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.balances[id]
}

func (tx *transaction) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) Read(addr domain.Address) (Account, bool) {
	return ledgerView{state: &tx.state}.Read(addr)
}

func (tx *transaction) Balance(id domain.Identity) uint64 {
	return tx.state.balances[id]
}

func (tx *transaction) Allocate(d domain.Derivation, size int, payer domain.Identity, data []byte) (Account, error) {
	if size <= 0 || len(data) != size {
		return Account{}, fmt.Errorf("%w: %d bytes for %d byte account", domain.ErrSizeMismatch, len(data), size)
	}
	if err := d.Verify(tx.store.programID); err != nil {
		return Account{}, err
	}
	if _, exists := tx.state.accounts[d.Address]; exists {
		return Account{}, fmt.Errorf("%w: %s", domain.ErrAccountInUse, d.Address)
	}
	rent := domain.RentExemptMinimum(size)
	balance := tx.state.balances[payer]
	if balance < rent {
		return Account{}, fmt.Errorf("%w: %s has %d, needs %d", domain.ErrInsufficientFunds, payer, balance, rent)
	}
	tx.state.balances[payer] = balance - rent
	acct := Account{
		Address: d.Address,
		Payer:   payer,
		Data:    append([]byte(nil), data...),
		Rent:    rent,
	}
	tx.state.accounts[d.Address] = acct
	tx.recordChange(domain.Change{Address: d.Address, Action: domain.ActionCreate, After: acct.Clone().Data})
	return acct.Clone(), nil
}

func (tx *transaction) Write(addr domain.Address, data []byte) error {
	acct, ok := tx.state.accounts[addr]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, addr)
	}
	if len(data) != len(acct.Data) {
		return fmt.Errorf("%w: %d bytes for %d byte account", domain.ErrSizeMismatch, len(data), len(acct.Data))
	}
	before := acct.Data
	acct.Data = append([]byte(nil), data...)
	tx.state.accounts[addr] = acct
	tx.recordChange(domain.Change{Address: addr, Action: domain.ActionUpdate, Before: before, After: append([]byte(nil), data...)})
	return nil
}

func (tx *transaction) Deallocate(d domain.Derivation, refundTo domain.Identity) (uint64, error) {
	if err := d.Verify(tx.store.programID); err != nil {
		return 0, err
	}
	acct, ok := tx.state.accounts[d.Address]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, d.Address)
	}
	balance, err := domain.AddBalance(tx.state.balances[refundTo], acct.Rent)
	if err != nil {
		return 0, err
	}
	tx.state.balances[refundTo] = balance
	delete(tx.state.accounts, d.Address)
	tx.recordChange(domain.Change{Address: d.Address, Action: domain.ActionDelete, Before: acct.Data})
	return acct.Rent, nil
}

func (tx *transaction) Credit(id domain.Identity, amount uint64) error {
	balance, err := domain.AddBalance(tx.state.balances[id], amount)
	if err != nil {
		return err
	}
	tx.state.balances[id] = balance
	return nil
}
