package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"taskledger/internal/blob/core"
)

func TestFilesystemLifecycle(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "blobs")
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Driver() != core.DriverFilesystem || s.Root() != root {
		t.Fatalf("unexpected store %s %s", s.Driver(), s.Root())
	}
	info, err := s.Put(ctx, "accounts/abc", bytes.NewBufferString("payload"), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || info.ETag == "" || info.ContentType != "application/json" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "accounts/abc", bytes.NewBufferString("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, rc, err := s.Get(ctx, "accounts/abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "payload" || got.ETag != info.ETag {
		t.Fatalf("unexpected get %q %+v", body, got)
	}
	head, err := s.Head(ctx, "accounts/abc")
	if err != nil || head.Size != 7 {
		t.Fatalf("head: %+v %v", head, err)
	}
	if _, err := s.Put(ctx, "balances.json", bytes.NewBufferString("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("put balances: %v", err)
	}
	list, err := s.List(ctx, "accounts/")
	if err != nil || len(list) != 1 || list[0].Key != "accounts/abc" {
		t.Fatalf("unexpected list %+v err=%v", list, err)
	}
	ok, err := s.Delete(ctx, "accounts/abc")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(root, "accounts", "abc.meta")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("sidecar should be removed, stat err=%v", err)
	}
	if ok, _ := s.Delete(ctx, "accounts/abc"); ok {
		t.Fatalf("expected missing delete to report false")
	}
	if _, _, err := s.Get(ctx, "accounts/abc"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Head(ctx, "accounts/abc"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
}

func TestSanitizeKeyRejectsEscapes(t *testing.T) {
	for _, key := range []string{"", "  ", "../x", "/abs", "a/../../b", "x.meta"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected %q to be rejected", key)
		}
	}
	if clean, err := sanitizeKey("a//b/"); err != nil || clean != "a/b" {
		t.Fatalf("unexpected clean %q %v", clean, err)
	}
}

func TestNewDefaultsRoot(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	s, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Root() != defaultRoot {
		t.Fatalf("expected default root, got %s", s.Root())
	}
	if _, err := os.Stat(filepath.Join(dir, "blobdata")); err != nil {
		t.Fatalf("expected blobdata dir: %v", err)
	}
}
