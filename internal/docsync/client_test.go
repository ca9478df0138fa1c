package docsync

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestHTTPClientGetPutCreate(t *testing.T) {
	var stored atomic.Value
	stored.Store(`{"tasks":[]}`)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Correlation-Id") == "" {
			t.Errorf("expected correlation id header")
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/jsonBlob/abc":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(stored.Load().(string)))
		case r.Method == http.MethodPut && r.URL.Path == "/api/jsonBlob/abc":
			body, _ := io.ReadAll(r.Body)
			stored.Store(string(body))
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/api/jsonBlob":
			w.Header().Set("Location", "https://jsonblob.com/api/jsonBlob/new123")
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/api/jsonBlob/", server.Client())
	ctx := context.Background()

	body, err := client.Get(ctx, "abc")
	if err != nil || string(body) != `{"tasks":[]}` {
		t.Fatalf("unexpected get result %s err=%v", body, err)
	}
	if err := client.Put(ctx, "abc", []byte(`{"tasks":[{"id":"1"}]}`)); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if stored.Load().(string) != `{"tasks":[{"id":"1"}]}` {
		t.Fatalf("expected put to replace stored document, got %s", stored.Load())
	}
	id, err := client.Create(ctx, []byte(`{}`))
	if err != nil || id != "new123" {
		t.Fatalf("expected id from Location header, got %q err=%v", id, err)
	}
}

func TestHTTPClientCreateReadsIDFromBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"fromBody"}`))
	}))
	defer server.Close()

	id, err := NewHTTPClient(server.URL, server.Client()).Create(context.Background(), []byte(`{}`))
	if err != nil || id != "fromBody" {
		t.Fatalf("expected id from body, got %q err=%v", id, err)
	}
}

func TestHTTPClientCreateWithoutIDFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	if _, err := NewHTTPClient(server.URL, server.Client()).Create(context.Background(), []byte(`{}`)); err == nil {
		t.Fatalf("expected error when no id is returned")
	}
}

func TestHTTPClientDoesNotRetryByDefault(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"down"}`))
	}))
	defer server.Close()

	_, err := NewHTTPClient(server.URL, server.Client()).Get(context.Background(), "abc")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable || httpErr.Message != "down" {
		t.Fatalf("expected 503 HTTPError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single call, got %d", atomic.LoadInt32(&calls))
	}
}

func TestHTTPClientRetriesTransientFailureWhenEnabled(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, server.Client(), WithRetries(2))
	client.baseDelay = 0
	body, err := client.Get(context.Background(), "abc")
	if err != nil || string(body) != "[]" {
		t.Fatalf("expected retry to recover, got %s err=%v", body, err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", atomic.LoadInt32(&calls))
	}
}

func TestHTTPClientSaveMethodPost(t *testing.T) {
	var method atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, server.Client(), WithSaveMethod("post"))
	if err := client.Put(context.Background(), "abc", []byte(`{}`)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if method.Load().(string) != http.MethodPost {
		t.Fatalf("expected POST overwrite, got %v", method.Load())
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("3"); got.Seconds() != 3 {
		t.Fatalf("expected 3s, got %v", got)
	}
	if got := parseRetryAfter(" "); got != 0 {
		t.Fatalf("expected 0 for empty header, got %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Fatalf("expected 0 for junk header, got %v", got)
	}
}

func TestDefaultBaseURL(t *testing.T) {
	if got := NewHTTPClient("  ", nil).BaseURL(); !strings.HasPrefix(got, "https://jsonblob.com") {
		t.Fatalf("expected default base url, got %s", got)
	}
}
