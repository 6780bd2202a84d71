package domain

import (
	"errors"
	"testing"
)

func testOwner(b byte) Identity {
	var id Identity
	for i := range id {
		id[i] = b + byte(i)
	}
	return id
}

func TestDeriveProfileAddressDeterministic(t *testing.T) {
	program := DefaultProgram()
	owner := testOwner(7)
	first, err := program.DeriveProfileAddress(owner)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := program.DeriveProfileAddress(owner)
		if err != nil {
			t.Fatalf("derive again: %v", err)
		}
		if again.Address != first.Address || again.Bump != first.Bump {
			t.Fatalf("derivation not deterministic: %s/%d vs %s/%d", first.Address, first.Bump, again.Address, again.Bump)
		}
	}
	if !OffCurve(first.Address) {
		t.Fatalf("derived address %s is a valid curve point", first.Address)
	}
	if err := first.Verify(program.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestDeriveProfileAddressDistinctOwners(t *testing.T) {
	program := DefaultProgram()
	a, err := program.DeriveProfileAddress(testOwner(1))
	if err != nil {
		t.Fatalf("derive a: %v", err)
	}
	b, err := program.DeriveProfileAddress(testOwner(2))
	if err != nil {
		t.Fatalf("derive b: %v", err)
	}
	if a.Address == b.Address {
		t.Fatalf("distinct owners share address %s", a.Address)
	}
}

func TestDeriveTaskAddressUniquePerIndex(t *testing.T) {
	program := DefaultProgram()
	owner := testOwner(3)
	profile, err := program.DeriveProfileAddress(owner)
	if err != nil {
		t.Fatalf("derive profile: %v", err)
	}
	seen := map[Address]int{profile.Address: -1}
	for i := 0; i < MaxTasks; i++ {
		d, err := program.DeriveTaskAddress(owner, uint8(i))
		if err != nil {
			t.Fatalf("derive task %d: %v", i, err)
		}
		if prev, dup := seen[d.Address]; dup {
			t.Fatalf("task %d collides with %d at %s", i, prev, d.Address)
		}
		seen[d.Address] = i
	}
}

func TestFindProgramAddressSkipsRejectedBumps(t *testing.T) {
	rejected := 0
	validator := func(Address) bool {
		if rejected < 3 {
			rejected++
			return false
		}
		return true
	}
	program := DefaultProgram().WithAddressValidator(validator)
	d, err := program.DeriveProfileAddress(testOwner(9))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if d.Bump != 252 {
		t.Fatalf("expected bump 252 after three rejections, got %d", d.Bump)
	}
	if err := d.Verify(program.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestFindProgramAddressExhausted(t *testing.T) {
	program := DefaultProgram().WithAddressValidator(func(Address) bool { return false })
	if _, err := program.DeriveTaskAddress(testOwner(4), 0); !errors.Is(err, ErrAddressSpaceExhausted) {
		t.Fatalf("expected ErrAddressSpaceExhausted, got %v", err)
	}
}

func TestCreateProgramAddressRejectsInvalidSeeds(t *testing.T) {
	long := make([]byte, MaxSeedLength+1)
	if _, err := CreateProgramAddress([][]byte{long}, Address{1}); !errors.Is(err, ErrInvalidSeeds) {
		t.Fatalf("expected ErrInvalidSeeds for long seed, got %v", err)
	}
	many := make([][]byte, MaxSeeds)
	if _, err := FindProgramAddress(many, Address{1}, nil); !errors.Is(err, ErrInvalidSeeds) {
		t.Fatalf("expected ErrInvalidSeeds for too many seeds, got %v", err)
	}
}

func TestDerivationVerifyDetectsTampering(t *testing.T) {
	program := DefaultProgram()
	d, err := program.DeriveTaskAddress(testOwner(5), 1)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	d.Seeds[2] = []byte{2}
	if err := d.Verify(program.ID); !errors.Is(err, ErrSeedMismatch) {
		t.Fatalf("expected ErrSeedMismatch, got %v", err)
	}
}

func TestProgramValidate(t *testing.T) {
	if err := DefaultProgram().Validate(); err != nil {
		t.Fatalf("default program invalid: %v", err)
	}
	bad := NewProgram(Address{}, "SAME", "SAME")
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
	long := NewProgram(Address{1}, "USER", string(make([]byte, MaxSeedLength+1)))
	if err := long.Validate(); err == nil {
		t.Fatalf("expected tag length error")
	}
}

func TestIdentityTextRoundTrip(t *testing.T) {
	id := testOwner(11)
	text, err := id.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var parsed Identity
	if err := parsed.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: %s vs %s", parsed, id)
	}
	if _, err := ParseIdentity("abc"); err == nil {
		t.Fatalf("expected short key error")
	}
	if _, err := ParseAddress("0OIl"); err == nil {
		t.Fatalf("expected invalid base58 error")
	}
}
