package docsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/agentworkforce/fieldsync/internal/document"
	"github.com/agentworkforce/fieldsync/internal/localstate"
)

// fakeClient is an in-memory whole-document store. Every Put replaces the
// stored payload; there is no concurrency control, like the real service.
type fakeClient struct {
	mu        sync.Mutex
	docs      map[string][]byte
	failGet   bool
	failPut   bool
	failNew   bool
	gets      int
	puts      int
	createSeq int
}

func newFakeClient() *fakeClient {
	return &fakeClient{docs: map[string][]byte{}}
}

func (f *fakeClient) Get(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failGet {
		return nil, fmt.Errorf("dial tcp: connection refused")
	}
	body, ok := f.docs[id]
	if !ok {
		return nil, &HTTPError{StatusCode: 404, Message: "not found"}
	}
	return append([]byte(nil), body...), nil
}

func (f *fakeClient) Put(_ context.Context, id string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.failPut {
		return &HTTPError{StatusCode: 503}
	}
	f.docs[id] = append([]byte(nil), body...)
	return nil
}

func (f *fakeClient) Create(_ context.Context, body []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNew {
		return "", fmt.Errorf("create failed")
	}
	f.createSeq++
	id := fmt.Sprintf("bin%d", f.createSeq)
	f.docs[id] = append([]byte(nil), body...)
	return id, nil
}

func (f *fakeClient) setRaw(id, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id] = []byte(raw)
}

func (f *fakeClient) setDoc(t *testing.T, id string, doc document.Document) {
	t.Helper()
	body, err := document.Encode(doc)
	if err != nil {
		t.Fatalf("encode seed document failed: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id] = body
}

func (f *fakeClient) doc(t *testing.T, id string) document.Document {
	t.Helper()
	f.mu.Lock()
	raw := append([]byte(nil), f.docs[id]...)
	f.mu.Unlock()
	doc, _, err := document.Decode(raw)
	if err != nil {
		t.Fatalf("decode stored document failed: %v", err)
	}
	return doc
}

func (f *fakeClient) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func (f *fakeClient) setFailures(get, put bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failGet = get
	f.failPut = put
}

func newTestStore(client RemoteClient) (*Store, *localstate.FallbackCache) {
	cache := localstate.NewFallbackCache(localstate.NewInMemoryBackend())
	return NewStore(client, cache, StoreOptions{}), cache
}

func rawJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return string(data)
}
