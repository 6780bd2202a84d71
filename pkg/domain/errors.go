package domain

import (
	"errors"
	"fmt"
)

// Operation errors. Every one of them is terminal for the operation that
// raised it; the surrounding ledger transaction is discarded.
var (
	ErrAlreadyExists         = errors.New("record already exists")
	ErrNotFound              = errors.New("record not found")
	ErrAuthorityMismatch     = errors.New("caller is not the record authority")
	ErrCounterOverflow       = errors.New("counter overflow")
	ErrUnderflow             = errors.New("counter underflow")
	ErrIndexSpaceExhausted   = errors.New("task index space exhausted")
	ErrCollisionDetected     = errors.New("derived task address already allocated")
	ErrInvalidMarkState      = errors.New("task already marked")
	ErrAddressSpaceExhausted = errors.New("no valid program address in bump range")
	ErrContentTooLong        = errors.New("task content too long")
	ErrInvalidRecord         = errors.New("invalid record encoding")
)

// Ledger errors reported by storage backends.
var (
	ErrInvalidSeeds      = errors.New("invalid derivation seeds")
	ErrSeedMismatch      = errors.New("derivation seeds do not produce address")
	ErrSizeMismatch      = errors.New("data size does not match allocation")
	ErrInsufficientFunds = errors.New("insufficient funds for rent")
	ErrAccountInUse      = errors.New("account already allocated")
	ErrAccountNotFound   = errors.New("account not allocated")
)

// RecordError annotates an operation error with the record it concerns.
type RecordError struct {
	Op      string
	Kind    RecordKind
	Address Address
	Err     error
}

func (e *RecordError) Error() string {
	if e.Address.IsZero() {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Kind, e.Address, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
