package domain

import (
	"context"
	"math"
)

// Rent parameters. Allocating an account debits its rent-exempt minimum from
// the payer; deallocating refunds exactly what was charged.
const (
	AccountStorageOverhead = 128
	RentPerByteYear        = 3480
	RentExemptionYears     = 2
)

// RentExemptMinimum returns the rent charged for an account of size bytes.
func RentExemptMinimum(size int) uint64 {
	return uint64(AccountStorageOverhead+size) * RentPerByteYear * RentExemptionYears
}

// Account is a ledger slot.
type Account struct {
	Address Address  `json:"address"`
	Payer   Identity `json:"payer"`
	Data    []byte   `json:"data"`
	Rent    uint64   `json:"rent"`
}

// Clone returns a deep copy of the account.
func (a Account) Clone() Account {
	cp := a
	cp.Data = append([]byte(nil), a.Data...)
	return cp
}

// LedgerView provides read-only access to ledger state.
type LedgerView interface {
	Read(addr Address) (Account, bool)
	Balance(id Identity) uint64
}

// LedgerTx exposes the mutations a ledger supports within an atomic scope.
type LedgerTx interface {
	LedgerView
	// Allocate creates an account at d.Address. The derivation must verify
	// against the ledger's program id and len(data) must equal size.
	Allocate(d Derivation, size int, payer Identity, data []byte) (Account, error)
	// Write replaces the data of an existing account without resizing it.
	Write(addr Address, data []byte) error
	// Deallocate removes the account and refunds its rent to refundTo.
	Deallocate(d Derivation, refundTo Identity) (uint64, error)
	// Credit adds funds to an identity's balance.
	Credit(id Identity, amount uint64) error
}

// Ledger is the storage backend contract. RunInTransaction applies fn
// all-or-nothing; concurrent transactions are serialized.
type Ledger interface {
	RunInTransaction(ctx context.Context, fn func(LedgerTx) error) (Result, error)
	View(ctx context.Context, fn func(LedgerView) error) error
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured per transaction.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes a mutation applied to an account during a transaction.
type Change struct {
	Address Address
	Action  Action
	Before  []byte
	After   []byte
}

// AddBalance adds amount to balance, failing on overflow.
func AddBalance(balance, amount uint64) (uint64, error) {
	if balance > math.MaxUint64-amount {
		return 0, ErrCounterOverflow
	}
	return balance + amount, nil
}
