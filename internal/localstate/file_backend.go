package localstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// JSONFileBackend keeps every key in one JSON object on disk so the mirror
// stays readable and can be inspected or hand-edited while offline. Values
// must themselves be JSON.
type JSONFileBackend struct {
	Path string

	mu sync.Mutex
}

func NewJSONFileBackend(path string) *JSONFileBackend {
	return &JSONFileBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	if b == nil || b.Path == "" {
		return nil, false, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	values, err := b.load()
	if err != nil {
		return nil, false, err
	}
	value, ok := values[key]
	if !ok {
		return nil, false, nil
	}
	return []byte(value), true, nil
}

func (b *JSONFileBackend) Put(_ context.Context, key string, value []byte) error {
	if b == nil || b.Path == "" {
		return ErrInvalidInput
	}
	if strings.TrimSpace(key) == "" || !json.Valid(value) {
		return ErrInvalidInput
	}
	return b.update(func(values map[string]json.RawMessage) {
		values[key] = append(json.RawMessage(nil), value...)
	})
}

func (b *JSONFileBackend) Delete(_ context.Context, key string) error {
	if b == nil || b.Path == "" {
		return nil
	}
	return b.update(func(values map[string]json.RawMessage) {
		delete(values, key)
	})
}

func (b *JSONFileBackend) update(apply func(map[string]json.RawMessage)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	unlock, err := lockFile(b.Path + ".lock")
	if err != nil {
		return fmt.Errorf("lock %s: %w", b.Path, err)
	}
	defer unlock()

	values, err := b.load()
	if err != nil {
		return err
	}
	apply(values)
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(b.Path, data, 0o644)
}

func (b *JSONFileBackend) load() (map[string]json.RawMessage, error) {
	values := map[string]json.RawMessage{}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.Path, err)
	}
	return values, nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
