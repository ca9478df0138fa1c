package localstate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildBackendFromDSNMemory(t *testing.T) {
	backend, err := BuildBackendFromDSN("memory://")
	if err != nil {
		t.Fatalf("build backend failed: %v", err)
	}
	ctx := context.Background()
	if err := backend.Put(ctx, "k", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("memory put failed: %v", err)
	}
	value, ok, err := backend.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("memory get failed: ok=%v err=%v", ok, err)
	}
	if string(value) != `{"a":1}` {
		t.Fatalf("unexpected value %s", value)
	}
}

func TestBuildBackendFromDSNFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	backend, err := BuildBackendFromDSN("file://" + path)
	if err != nil {
		t.Fatalf("build file backend failed: %v", err)
	}
	ctx := context.Background()
	if err := backend.Put(ctx, KeyBinID, []byte(`"abc"`)); err != nil {
		t.Fatalf("file put failed: %v", err)
	}
	if err := backend.Put(ctx, KeyDocument, []byte(`{"tasks":[]}`)); err != nil {
		t.Fatalf("file put failed: %v", err)
	}

	reopened := NewJSONFileBackend(path)
	value, ok, err := reopened.Get(ctx, KeyBinID)
	if err != nil || !ok || string(value) != `"abc"` {
		t.Fatalf("expected bin id to survive reopen, got %s ok=%v err=%v", value, ok, err)
	}
	if err := reopened.Delete(ctx, KeyBinID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, _ := reopened.Get(ctx, KeyBinID); ok {
		t.Fatalf("expected deleted key to be absent")
	}
	if _, ok, _ := reopened.Get(ctx, KeyDocument); !ok {
		t.Fatalf("expected sibling key to be kept")
	}
}

func TestJSONFileBackendRejectsNonJSONValues(t *testing.T) {
	backend := NewJSONFileBackend(filepath.Join(t.TempDir(), "state.json"))
	if err := backend.Put(context.Background(), "k", []byte("not json")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestJSONFileBackendMissingFileIsEmpty(t *testing.T) {
	backend := NewJSONFileBackend(filepath.Join(t.TempDir(), "absent.json"))
	_, ok, err := backend.Get(context.Background(), KeyDocument)
	if err != nil || ok {
		t.Fatalf("expected missing file to read as empty, ok=%v err=%v", ok, err)
	}
}

func TestJSONFileBackendCorruptFileSurfacesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write corrupt file failed: %v", err)
	}
	if _, _, err := NewJSONFileBackend(path).Get(context.Background(), KeyDocument); err == nil {
		t.Fatalf("expected decode error for corrupt mirror")
	}
}

func TestBuildBackendFromDSNUnsupported(t *testing.T) {
	backend, err := BuildBackendFromDSN("postgres://localhost/fieldsync?sslmode=disable")
	if err != nil {
		t.Fatalf("expected postgres backend to be available, got %v", err)
	}
	if backend == nil {
		t.Fatalf("expected non-nil postgres backend")
	}
	if _, err := BuildBackendFromDSN("mysql://localhost/fieldsync"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected not implemented error for mysql backend, got %v", err)
	}
	if _, err := BuildBackendFromDSN("ftp://localhost/x"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
	if _, err := BuildBackendFromDSN(""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty dsn, got %v", err)
	}
}

func TestFilePath(t *testing.T) {
	cases := map[string]string{
		"file:///var/lib/fieldsync/state.json": "/var/lib/fieldsync/state.json",
		"file://.fieldsync/state.json":         ".fieldsync/state.json",
		"state.json":                           "state.json",
		"memory://":                            "",
		"redis://localhost:6379/0":             "",
	}
	for dsn, want := range cases {
		if got := FilePath(dsn); got != want {
			t.Fatalf("FilePath(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestRegisterBackendFactory(t *testing.T) {
	scheme := "localstatetestcustom"
	RegisterBackendFactory(scheme, func(dsn string) (Backend, error) {
		return NewInMemoryBackend(), nil
	})
	backend, err := BuildBackendFromDSN(scheme + "://example")
	if err != nil {
		t.Fatalf("build backend via registered factory failed: %v", err)
	}
	if _, ok := backend.(*InMemoryBackend); !ok {
		t.Fatalf("expected registered factory result, got %T", backend)
	}
}
