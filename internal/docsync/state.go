package docsync

import (
	"sync"

	"github.com/agentworkforce/fieldsync/internal/document"
)

// Snapshot is a consistent copy of the session's in-memory state.
type Snapshot struct {
	Document document.Document  `json:"document"`
	Identity *document.Identity `json:"identity,omitempty"`
	BinID    string             `json:"binId"`
	Source   Source             `json:"source"`
}

// State holds the in-memory document and session identity. Every read hands
// out a deep copy; every replace notifies subscribers with a copy.
type State struct {
	mu       sync.RWMutex
	doc      document.Document
	identity *document.Identity
	binID    string
	source   Source

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Snapshot)
}

func NewState() *State {
	return &State{
		doc:    document.Empty(),
		source: SourceLocal,
		subs:   map[int]func(Snapshot){},
	}
}

func (s *State) Document() document.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

// Replace installs doc as the authoritative in-memory document.
func (s *State) Replace(doc document.Document, source Source) {
	s.mu.Lock()
	s.doc = document.Normalize(doc).Clone()
	if source != "" {
		s.source = source
	}
	s.mu.Unlock()
	s.publish()
}

func (s *State) Identity() *document.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	identity := *s.identity
	return &identity
}

func (s *State) SetIdentity(identity *document.Identity) {
	s.mu.Lock()
	if identity == nil {
		s.identity = nil
	} else {
		copied := *identity
		s.identity = &copied
	}
	s.mu.Unlock()
	s.publish()
}

func (s *State) BinID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.binID
}

func (s *State) SetBinID(id string) {
	s.mu.Lock()
	s.binID = id
	s.mu.Unlock()
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Document: s.doc.Clone(), BinID: s.binID, Source: s.source}
	if s.identity != nil {
		identity := *s.identity
		snap.Identity = &identity
	}
	return snap
}

// Subscribe registers fn to receive a snapshot after every state change. The
// returned func unregisters it.
func (s *State) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *State) publish() {
	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	if len(fns) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}
