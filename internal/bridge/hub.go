package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/agentworkforce/fieldsync/internal/docsync"
	"github.com/agentworkforce/fieldsync/internal/notify"
)

const (
	EventSnapshot = "snapshot"
	EventAlert    = "alert"

	clientBuffer = 16
)

// Event is one message on the live feed.
type Event struct {
	Type     string            `json:"type"`
	Snapshot *docsync.Snapshot `json:"snapshot,omitempty"`
	Alert    *notify.Alert     `json:"alert,omitempty"`
}

// Hub fans state snapshots and task alerts out to live-feed clients. It is a
// notify.Notifier so the session's deduplicator can deliver alerts to it.
type Hub struct {
	mu      sync.Mutex
	nextID  int
	clients map[int]chan []byte
	log     *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{clients: map[int]chan []byte{}, log: log}
}

func (h *Hub) Notify(_ context.Context, alert notify.Alert) {
	h.broadcast(Event{Type: EventAlert, Alert: &alert})
}

// PublishSnapshot sends snap to every connected client.
func (h *Hub) PublishSnapshot(snap docsync.Snapshot) {
	h.broadcast(Event{Type: EventSnapshot, Snapshot: &snap})
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// register returns the client's message channel and a func that removes it.
// The channel is closed when the client is dropped.
func (h *Hub) register() (<-chan []byte, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan []byte, clientBuffer)
	h.clients[id] = ch
	return ch, func() { h.drop(id) }
}

func (h *Hub) drop(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
	}
}

// broadcast never blocks; a client whose buffer is full is disconnected and
// resyncs from a fresh snapshot when it reconnects.
func (h *Hub) broadcast(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Warnw("encode live event failed", "type", event.Type, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		select {
		case ch <- payload:
		default:
			delete(h.clients, id)
			close(ch)
			h.log.Warnw("dropping slow live client", "client", id)
		}
	}
}
