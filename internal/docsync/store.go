package docsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentworkforce/fieldsync/internal/document"
	"github.com/agentworkforce/fieldsync/internal/localstate"
	"github.com/agentworkforce/fieldsync/internal/metrics"
)

var ErrNoBinID = errors.New("no document id configured")

// Source says where a loaded document came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// Store is the remote document store with the local mirror behind it. Its
// exported operations never fail outward: reads degrade to the mirror and
// writes report false.
type Store struct {
	client  RemoteClient
	cache   *localstate.FallbackCache
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	now     func() time.Time
}

type StoreOptions struct {
	Metrics *metrics.Metrics
	Logger  *zap.SugaredLogger
	Now     func() time.Time
}

func NewStore(client RemoteClient, cache *localstate.FallbackCache, opts StoreOptions) *Store {
	if cache == nil {
		cache = localstate.NewFallbackCache(nil)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{client: client, cache: cache, metrics: opts.Metrics, log: log, now: now}
}

func (s *Store) Cache() *localstate.FallbackCache {
	return s.cache
}

// Fetch retrieves and normalizes the remote document. It does not fall back.
func (s *Store) Fetch(ctx context.Context, id string) (document.Document, error) {
	if s.client == nil {
		return document.Document{}, fmt.Errorf("remote client is not configured")
	}
	id = ExtractBinID(id)
	if id == "" {
		return document.Document{}, ErrNoBinID
	}
	raw, err := s.client.Get(ctx, id)
	if err != nil {
		return document.Document{}, err
	}
	doc, repairs, err := document.Decode(raw)
	if err != nil {
		return document.Document{}, err
	}
	s.recordRepairs(id, repairs)
	return doc, nil
}

// Load returns the remote document, mirroring it locally, or the mirrored
// document when no id is set or the remote call fails.
func (s *Store) Load(ctx context.Context, id string) (document.Document, Source) {
	if ExtractBinID(id) != "" {
		doc, err := s.Fetch(ctx, id)
		if err == nil {
			if err := s.cache.SaveDocument(ctx, doc); err != nil {
				s.log.Warnw("mirror fetched document failed", "error", err)
			}
			return doc, SourceRemote
		}
		s.log.Warnw("remote fetch failed; using local mirror", "bin_id", id, "error", err)
	}
	return s.LoadLocal(ctx), SourceLocal
}

// LoadLocal reads the mirror, returning an empty document on any failure.
func (s *Store) LoadLocal(ctx context.Context) document.Document {
	doc, repairs, err := s.cache.LoadDocument(ctx)
	if err != nil {
		s.log.Warnw("read local mirror failed", "error", err)
		return document.Empty()
	}
	s.recordRepairs("local", repairs)
	return doc
}

// Save stamps updatedAt, mirrors the document locally and then overwrites the
// remote document. Without an id only the mirror is written and Save
// reports true. A failed remote write leaves the mirror in place.
func (s *Store) Save(ctx context.Context, doc document.Document, id string) bool {
	doc = document.Normalize(doc)
	doc.UpdatedAt = document.MillisOf(s.now())
	if err := s.cache.SaveDocument(ctx, doc); err != nil {
		s.log.Warnw("mirror document failed", "error", err)
	}
	id = ExtractBinID(id)
	if id == "" || s.client == nil {
		return true
	}
	body, err := document.Encode(doc)
	if err != nil {
		s.log.Warnw("encode document failed", "error", err)
		s.metrics.Save(false)
		return false
	}
	if err := s.client.Put(ctx, id, body); err != nil {
		s.log.Warnw("remote save failed", "bin_id", id, "error", err)
		s.metrics.Save(false)
		return false
	}
	s.metrics.Save(true)
	return true
}

// Create provisions a new remote document seeded with the given rosters. It
// returns "" on failure.
func (s *Store) Create(ctx context.Context, amirs, ustas []document.Member) string {
	if s.client == nil {
		return ""
	}
	doc := document.Empty()
	if amirs != nil {
		doc.Amirs = amirs
	}
	if ustas != nil {
		doc.Ustas = ustas
	}
	doc.UpdatedAt = document.MillisOf(s.now())
	body, err := document.Encode(doc)
	if err != nil {
		s.log.Warnw("encode initial document failed", "error", err)
		return ""
	}
	id, err := s.client.Create(ctx, body)
	if err != nil {
		s.log.Warnw("create remote document failed", "error", err)
		return ""
	}
	s.log.Infow("created remote document", "bin_id", id)
	return id
}

// CheckConnection reports whether id names a readable remote document.
func (s *Store) CheckConnection(ctx context.Context, id string) bool {
	id = ExtractBinID(id)
	if id == "" || s.client == nil {
		return false
	}
	if _, err := s.client.Get(ctx, id); err != nil {
		s.log.Debugw("connection check failed", "bin_id", id, "error", err)
		return false
	}
	return true
}

func (s *Store) recordRepairs(origin string, repairs document.Repairs) {
	if !repairs.Any() {
		return
	}
	if repairs.LegacyArray {
		s.metrics.Repair("legacy_array", 1)
	}
	s.metrics.Repair("missing_field", len(repairs.MissingFields))
	s.metrics.Repair("legacy_member", repairs.LegacyMembers)
	s.metrics.Repair("dropped_entry", repairs.DroppedEntries)
	s.log.Debugw("normalized document",
		"origin", origin,
		"legacy_array", repairs.LegacyArray,
		"missing_fields", strings.Join(repairs.MissingFields, ","),
		"legacy_members", repairs.LegacyMembers,
		"dropped_entries", repairs.DroppedEntries,
	)
}
