// Package identity manages the ed25519 keypair file a CLI caller signs in with.
// The file holds the 64-byte private key as a JSON array of integers.
package identity

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"taskledger/pkg/domain"
)

// ErrKeypairExists is returned by Save when the target file is present and
// overwrite was not requested.
var ErrKeypairExists = errors.New("keypair file already exists")

// Keypair is an ed25519 signing key.
type Keypair struct {
	private ed25519.PrivateKey
}

// Generate creates a keypair from rand (crypto/rand when nil).
func Generate(rand io.Reader) (Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}
	return Keypair{private: priv}, nil
}

// FromSeed derives a keypair from a 32-byte seed.
func FromSeed(seed []byte) (Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return Keypair{}, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return Keypair{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// Identity returns the public key as a ledger identity.
func (k Keypair) Identity() domain.Identity {
	var id domain.Identity
	copy(id[:], k.private.Public().(ed25519.PublicKey))
	return id
}

// Load reads a keypair file.
func Load(path string) (Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Keypair{}, fmt.Errorf("read keypair: %w", err)
	}
	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return Keypair{}, fmt.Errorf("decode keypair %s: %w", path, err)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return Keypair{}, fmt.Errorf("keypair %s: expected %d bytes, got %d", path, ed25519.PrivateKeySize, len(ints))
	}
	key := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return Keypair{}, fmt.Errorf("keypair %s: byte %d out of range", path, i)
		}
		key[i] = byte(v)
	}
	kp, err := FromSeed(key[:ed25519.SeedSize])
	if err != nil {
		return Keypair{}, err
	}
	if !kp.private.Equal(ed25519.PrivateKey(key)) {
		return Keypair{}, fmt.Errorf("keypair %s: public half does not match seed", path)
	}
	return kp, nil
}

// Save writes the keypair to path with 0600 permissions.
func (k Keypair) Save(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrKeypairExists, path)
		}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create keypair dir: %w", err)
		}
	}
	ints := make([]int, len(k.private))
	for i, b := range k.private {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
