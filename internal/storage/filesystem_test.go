package storage

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
)

func TestFileStorePutAndRead(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	key, err := store.Put(ctx, "artifacts/document/abc.zip", []byte("bundle"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if key != "artifacts/document/abc.zip" {
		t.Fatalf("key = %q", key)
	}

	data, err := store.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(data, []byte("bundle")) {
		t.Fatalf("data = %q", data)
	}

	// Overwriting the same key replaces the content.
	if _, err := store.Put(ctx, key, []byte("bundle-v2")); err != nil {
		t.Fatalf("Put() overwrite error = %v", err)
	}
	data, _ = store.Read(ctx, key)
	if string(data) != "bundle-v2" {
		t.Fatalf("data = %q after overwrite", data)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	store, err := NewFileStore(filepath.Join(base, "artifacts"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	for _, key := range []string{"", "   ", "../escape.zip", "../../etc/passwd", "."} {
		if _, err := store.Put(ctx, key, []byte("x")); err == nil {
			t.Fatalf("Put(%q) succeeded, want error", key)
		}
	}

	// Leading slashes and dot segments are normalized, not rejected.
	key, err := store.Put(ctx, "/nested/./file.zip", []byte("x"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if key != "nested/file.zip" {
		t.Fatalf("key = %q, want normalized", key)
	}
}

func TestFileStoreRequiresBasePath(t *testing.T) {
	if _, err := NewFileStore("   "); err == nil {
		t.Fatal("NewFileStore with empty path succeeded, want error")
	}
}
