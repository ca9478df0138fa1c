// Package localstate keeps the device-local mirror of the shared document, the
// configured bin id and the remembered session. Storage is a small key/value
// Backend selected by DSN.
package localstate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

const (
	KeyBinID    = "binId"
	KeyDocument = "document"
	KeySession  = "session"
)

// Backend stores opaque values by key. Get reports ok=false for a missing key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type InMemoryBackend struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{values: map[string][]byte{}}
}

func (b *InMemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (b *InMemoryBackend) Put(_ context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = append([]byte(nil), value...)
	return nil
}

func (b *InMemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values, key)
	return nil
}

// BuildBackendFromDSN selects a backend by DSN scheme. An empty DSN or a bare
// path selects the JSON file backend.
func BuildBackendFromDSN(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupBackendFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONFileBackend(path), nil
	case "memory", "mem", "inmem":
		return NewInMemoryBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresBackend(dsn)
	case "redis", "rediss":
		return NewRedisBackend(dsn)
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: local state backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported local state backend scheme: %s", scheme)
	}
}

// FilePath returns the mirror file path for file DSNs, or "" for any other
// backend.
func FilePath(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	parsed, err := url.Parse(dsn)
	if err != nil {
		return ""
	}
	switch strings.ToLower(parsed.Scheme) {
	case "", "file":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return ""
		}
		return path
	default:
		return ""
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if parsed.Host != "" && parsed.Host != "localhost" {
		// file://.fieldsync/state.json parses ".fieldsync" as the host.
		path = parsed.Host + path
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}

// Close releases backend resources when the backend holds any.
func Close(b Backend) error {
	if closer, ok := b.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
