package localstate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentworkforce/fieldsync/internal/document"
)

// FallbackCache is the persistent mirror of the last-known document and the
// configured bin id. Reads go through the same normalization as remote reads.
type FallbackCache struct {
	backend Backend
}

func NewFallbackCache(backend Backend) *FallbackCache {
	if backend == nil {
		backend = NewInMemoryBackend()
	}
	return &FallbackCache{backend: backend}
}

func (c *FallbackCache) Backend() Backend {
	return c.backend
}

// LoadDocument returns the mirrored document, or an empty one when nothing
// has been mirrored yet.
func (c *FallbackCache) LoadDocument(ctx context.Context) (document.Document, document.Repairs, error) {
	raw, ok, err := c.backend.Get(ctx, KeyDocument)
	if err != nil {
		return document.Empty(), document.Repairs{}, err
	}
	if !ok {
		return document.Empty(), document.Repairs{}, nil
	}
	doc, repairs, err := document.Decode(raw)
	if err != nil {
		return document.Empty(), repairs, fmt.Errorf("decode mirrored document: %w", err)
	}
	return doc, repairs, nil
}

func (c *FallbackCache) SaveDocument(ctx context.Context, doc document.Document) error {
	data, err := document.Encode(doc)
	if err != nil {
		return err
	}
	return c.backend.Put(ctx, KeyDocument, data)
}

func (c *FallbackCache) LoadBinID(ctx context.Context) (string, error) {
	raw, ok, err := c.backend.Get(ctx, KeyBinID)
	if err != nil || !ok {
		return "", err
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		// Older mirrors stored the bare id.
		return strings.TrimSpace(string(raw)), nil
	}
	return strings.TrimSpace(id), nil
}

func (c *FallbackCache) SaveBinID(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return c.ClearBinID(ctx)
	}
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return c.backend.Put(ctx, KeyBinID, data)
}

func (c *FallbackCache) ClearBinID(ctx context.Context) error {
	return c.backend.Delete(ctx, KeyBinID)
}

// IdentityStore persists the session identity for users who opted to be
// remembered across restarts.
type IdentityStore struct {
	backend Backend
}

func NewIdentityStore(backend Backend) *IdentityStore {
	if backend == nil {
		backend = NewInMemoryBackend()
	}
	return &IdentityStore{backend: backend}
}

func (s *IdentityStore) Remember(ctx context.Context, identity document.Identity) error {
	if strings.TrimSpace(identity.Name) == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, KeySession, data)
}

// Recall returns the remembered identity, if any.
func (s *IdentityStore) Recall(ctx context.Context) (document.Identity, bool, error) {
	raw, ok, err := s.backend.Get(ctx, KeySession)
	if err != nil || !ok {
		return document.Identity{}, false, err
	}
	var identity document.Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return document.Identity{}, false, fmt.Errorf("decode remembered session: %w", err)
	}
	if identity.Name == "" {
		return document.Identity{}, false, nil
	}
	role, err := document.ParseRole(string(identity.Role))
	if err != nil {
		return document.Identity{}, false, nil
	}
	identity.Role = role
	return identity, true, nil
}

func (s *IdentityStore) Forget(ctx context.Context) error {
	return s.backend.Delete(ctx, KeySession)
}
