// Package domain defines the records, addressing scheme and persistence
// contracts shared by the task ledger service and its storage backends.
package domain

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// KeySize is the byte length of identities and addresses.
const KeySize = 32

// Identity is an authenticated principal (an ed25519 public key).
type Identity [KeySize]byte

// Address is a storage slot key within the ledger.
type Address [KeySize]byte

// String renders the identity in base58.
func (id Identity) String() string { return base58.Encode(id[:]) }

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool { return id == Identity{} }

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// String renders the address in base58.
func (a Address) String() string { return base58.Encode(a[:]) }

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == Address{} }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseIdentity decodes a base58 identity.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	if err := decodeKey(s, id[:]); err != nil {
		return Identity{}, fmt.Errorf("parse identity: %w", err)
	}
	return id, nil
}

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	var a Address
	if err := decodeKey(s, a[:]); err != nil {
		return Address{}, fmt.Errorf("parse address: %w", err)
	}
	return a, nil
}

// MustParseAddress is ParseAddress for package-level constants; it panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func decodeKey(s string, dst []byte) error {
	raw, err := base58.Decode(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
