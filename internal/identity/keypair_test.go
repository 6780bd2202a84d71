package identity

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	kp, err := Generate(bytes.NewReader(bytes.Repeat([]byte{7}, 64)))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "id.json")
	if err := kp.Save(path, false); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode %v", info.Mode())
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Identity() != kp.Identity() {
		t.Fatalf("identity mismatch %s != %s", loaded.Identity(), kp.Identity())
	}
	if err := kp.Save(path, false); !errors.Is(err, ErrKeypairExists) {
		t.Fatalf("expected ErrKeypairExists, got %v", err)
	}
	if err := kp.Save(path, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestFromSeedIsDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{1}, ed25519.SeedSize)
	a, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	b, _ := FromSeed(seed)
	if a.Identity() != b.Identity() || a.Identity().IsZero() {
		t.Fatalf("expected stable non-zero identity")
	}
	if _, err := FromSeed(seed[:5]); err == nil {
		t.Fatalf("expected short seed error")
	}
}

func TestLoadRejectsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"notjson.json":  "{",
		"short.json":    "[1,2,3]",
		"range.json":    "[" + repeatInts(63, "1") + ",300]",
		"mismatch.json": "[" + repeatInts(64, "2") + "]",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(filepath.Join(dir, "absent.json")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func repeatInts(n int, v string) string {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(v)
	}
	return buf.String()
}
