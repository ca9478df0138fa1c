// Package geo provides single-shot position fixes for presence heartbeats.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single position request.
const DefaultTimeout = 5 * time.Second

var ErrUnavailable = errors.New("position unavailable")

type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// PositionProvider returns one high-accuracy fix or an error on denial,
// timeout or an unsupported platform.
type PositionProvider interface {
	CurrentPosition(ctx context.Context) (Position, error)
}

type NoopProvider struct{}

func (NoopProvider) CurrentPosition(context.Context) (Position, error) {
	return Position{}, ErrUnavailable
}

// StaticProvider reports a fixed position, for stationary kiosks.
type StaticProvider struct {
	Position Position
}

func (p StaticProvider) CurrentPosition(context.Context) (Position, error) {
	return p.Position, nil
}

// HTTPProvider reads a fix from a local location daemon that answers GET with
// {"latitude":..,"longitude":..}.
type HTTPProvider struct {
	URL        string
	HTTPClient *http.Client
}

func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{URL: strings.TrimSpace(url), HTTPClient: &http.Client{}}
}

func (p *HTTPProvider) CurrentPosition(ctx context.Context) (Position, error) {
	if p == nil || p.URL == "" {
		return Position{}, ErrUnavailable
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return Position{}, err
	}
	req.Header.Set("Accept", "application/json")
	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Position{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	var fix struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Accuracy  float64  `json:"accuracy"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&fix); err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if fix.Latitude == nil || fix.Longitude == nil {
		return Position{}, ErrUnavailable
	}
	return Position{Latitude: *fix.Latitude, Longitude: *fix.Longitude, Accuracy: fix.Accuracy}, nil
}

// Acquire makes one bounded attempt. ok is false on any failure; callers
// proceed without location.
func Acquire(ctx context.Context, p PositionProvider, timeout time.Duration) (Position, bool) {
	if p == nil {
		return Position{}, false
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		pos Position
		err error
	}
	done := make(chan result, 1)
	go func() {
		pos, err := p.CurrentPosition(ctx)
		done <- result{pos: pos, err: err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return Position{}, false
		}
		return r.pos, true
	case <-ctx.Done():
		return Position{}, false
	}
}
