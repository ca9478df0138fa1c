package docsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseURL is the public JSON blob service the field clients share.
const DefaultBaseURL = "https://jsonblob.com/api/jsonBlob"

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// RemoteClient is the whole-document key/value endpoint. Put replaces the
// entire document stored under id.
type RemoteClient interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Put(ctx context.Context, id string, body []byte) error
	Create(ctx context.Context, body []byte) (string, error)
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	saveMethod string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

type ClientOption func(*HTTPClient)

// WithRetries enables retry with backoff on transport errors, 429 and 5xx.
// The default is no retries; the caller falls back to the local mirror.
func WithRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithSaveMethod selects the verb used to overwrite a document. Some blob
// services accept POST to the document URL instead of PUT.
func WithSaveMethod(method string) ClientOption {
	return func(c *HTTPClient) {
		method = strings.ToUpper(strings.TrimSpace(method))
		if method == http.MethodPut || method == http.MethodPost {
			c.saveMethod = method
		}
	}
}

func NewHTTPClient(baseURL string, httpClient *http.Client, opts ...ClientOption) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	c := &HTTPClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		saveMethod: http.MethodPut,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

func (c *HTTPClient) Get(ctx context.Context, id string) ([]byte, error) {
	payload, _, err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(id), nil)
	return payload, err
}

func (c *HTTPClient) Put(ctx context.Context, id string, body []byte) error {
	_, _, err := c.do(ctx, c.saveMethod, "/"+url.PathEscape(id), body)
	return err
}

// Create provisions a new document and returns its id, taken from an
// {"id": ...} body or, failing that, from the Location header.
func (c *HTTPClient) Create(ctx context.Context, body []byte) (string, error) {
	payload, header, err := c.do(ctx, http.MethodPost, "", body)
	if err != nil {
		return "", err
	}
	var created struct {
		ID json.RawMessage `json:"id"`
	}
	if len(payload) > 0 && json.Unmarshal(payload, &created) == nil && len(created.ID) > 0 {
		var id string
		if json.Unmarshal(created.ID, &id) != nil {
			id = strings.Trim(string(created.ID), `"`)
		}
		if id = strings.TrimSpace(id); id != "" {
			return id, nil
		}
	}
	if id := ExtractBinID(header.Get("Location")); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("create response carried no document id")
}

func (c *HTTPClient) do(ctx context.Context, method, requestPath string, body []byte) ([]byte, http.Header, error) {
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, nil, waitErr
				}
				continue
			}
			return nil, nil, err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, nil, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return payload, resp.Header, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, nil, waitErr
			}
			continue
		}

		var errPayload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return nil, nil, &HTTPError{StatusCode: resp.StatusCode, Message: errPayload.Message}
	}
}

func correlationID() string {
	return "fieldsync_" + uuid.NewString()
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
