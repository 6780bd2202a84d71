package domain

import (
	"errors"
	"fmt"
)

// Default program settings.
const (
	DefaultProgramID  = "HsbRjsbmgqQfH1W3xwnth2kzPkU4mWVdYa8wZvArrw2Q"
	DefaultProfileTag = "USER_STATE"
	DefaultTaskTag    = "TODO_STATE"
)

// Program bundles the identifiers every operation derives addresses from.
// It is passed explicitly instead of living in package globals.
type Program struct {
	ID         Address
	ProfileTag string
	TaskTag    string

	validator AddressValidator
}

// NewProgram constructs a program description.
func NewProgram(id Address, profileTag, taskTag string) Program {
	return Program{ID: id, ProfileTag: profileTag, TaskTag: taskTag}
}

// DefaultProgram returns the program with default id and tags.
func DefaultProgram() Program {
	return NewProgram(MustParseAddress(DefaultProgramID), DefaultProfileTag, DefaultTaskTag)
}

// WithAddressValidator returns a copy using v to accept derived candidates.
func (p Program) WithAddressValidator(v AddressValidator) Program {
	p.validator = v
	return p
}

// Validate checks the program identifiers.
func (p Program) Validate() error {
	var errs []error
	if p.ID.IsZero() {
		errs = append(errs, errors.New("program id is required"))
	}
	for name, tag := range map[string]string{"profile": p.ProfileTag, "task": p.TaskTag} {
		if tag == "" {
			errs = append(errs, fmt.Errorf("%s tag is required", name))
		}
		if len(tag) > MaxSeedLength {
			errs = append(errs, fmt.Errorf("%s tag exceeds %d bytes", name, MaxSeedLength))
		}
	}
	if p.ProfileTag != "" && p.ProfileTag == p.TaskTag {
		errs = append(errs, errors.New("profile and task tags must differ"))
	}
	return errors.Join(errs...)
}

// DeriveProfileAddress derives the profile slot for owner.
func (p Program) DeriveProfileAddress(owner Identity) (Derivation, error) {
	return FindProgramAddress([][]byte{[]byte(p.ProfileTag), owner[:]}, p.ID, p.validator)
}

// DeriveTaskAddress derives the slot of owner's task at index.
func (p Program) DeriveTaskAddress(owner Identity, index uint8) (Derivation, error) {
	return FindProgramAddress([][]byte{[]byte(p.TaskTag), owner[:], {index}}, p.ID, p.validator)
}
