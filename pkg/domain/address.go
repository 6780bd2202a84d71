package domain

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
)

const (
	// MaxSeeds bounds the number of seeds, bump included.
	MaxSeeds = 16
	// MaxSeedLength bounds the byte length of a single seed.
	MaxSeedLength = 32

	programAddressMarker = "ProgramDerivedAddress"
)

// AddressValidator reports whether a candidate address is usable by the ledger.
type AddressValidator func(Address) bool

// OffCurve accepts addresses that are not valid ed25519 point encodings,
// so no private key can exist for them.
func OffCurve(a Address) bool {
	_, err := new(edwards25519.Point).SetBytes(a[:])
	return err != nil
}

// Derivation is a derived address together with the inputs that produced it.
// Ledgers re-derive it to authorize allocation and deallocation.
type Derivation struct {
	Address Address
	Seeds   [][]byte
	Bump    uint8
}

// SignerSeeds returns the seeds with the bump appended.
func (d Derivation) SignerSeeds() [][]byte {
	out := make([][]byte, 0, len(d.Seeds)+1)
	for _, seed := range d.Seeds {
		out = append(out, append([]byte(nil), seed...))
	}
	return append(out, []byte{d.Bump})
}

// Verify checks that the derivation inputs reproduce the address.
func (d Derivation) Verify(programID Address) error {
	addr, err := CreateProgramAddress(d.SignerSeeds(), programID)
	if err != nil {
		return err
	}
	if addr != d.Address {
		return fmt.Errorf("%w: %s", ErrSeedMismatch, d.Address)
	}
	return nil
}

// CreateProgramAddress hashes the seeds with the program id. It does not
// check validity; callers searching for an address use FindProgramAddress.
func CreateProgramAddress(seeds [][]byte, programID Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, fmt.Errorf("%w: %d seeds exceeds %d", ErrInvalidSeeds, len(seeds), MaxSeeds)
	}
	h := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Address{}, fmt.Errorf("%w: seed %d is %d bytes", ErrInvalidSeeds, i, len(seed))
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(programAddressMarker))
	var out Address
	copy(out[:], h.Sum(nil))
	return out, nil
}

// FindProgramAddress searches bumps from 255 down to 0 and returns the first
// candidate accepted by valid (OffCurve when nil).
func FindProgramAddress(seeds [][]byte, programID Address, valid AddressValidator) (Derivation, error) {
	if valid == nil {
		valid = OffCurve
	}
	if len(seeds) >= MaxSeeds {
		return Derivation{}, fmt.Errorf("%w: %d seeds leaves no room for bump", ErrInvalidSeeds, len(seeds))
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		candidate, err := CreateProgramAddress(withBump, programID)
		if err != nil {
			return Derivation{}, err
		}
		if valid(candidate) {
			return Derivation{Address: candidate, Seeds: cloneSeeds(seeds), Bump: uint8(bump)}, nil
		}
	}
	return Derivation{}, ErrAddressSpaceExhausted
}

func cloneSeeds(seeds [][]byte) [][]byte {
	out := make([][]byte, len(seeds))
	for i, seed := range seeds {
		out[i] = append([]byte(nil), seed...)
	}
	return out
}
