package docsync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentworkforce/fieldsync/internal/document"
	"github.com/agentworkforce/fieldsync/internal/geo"
	"github.com/agentworkforce/fieldsync/internal/metrics"
)

// Heartbeat advertises liveness, and for field workers their position, by
// rewriting the caller's own member record in a freshly fetched document.
type Heartbeat struct {
	store           *Store
	state           *State
	positions       geo.PositionProvider
	positionTimeout time.Duration
	metrics         *metrics.Metrics
	log             *zap.SugaredLogger
	now             func() time.Time
}

func NewHeartbeat(store *Store, state *State, positions geo.PositionProvider, m *metrics.Metrics, log *zap.SugaredLogger) *Heartbeat {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if positions == nil {
		positions = geo.NoopProvider{}
	}
	return &Heartbeat{
		store:           store,
		state:           state,
		positions:       positions,
		positionTimeout: geo.DefaultTimeout,
		metrics:         m,
		log:             log,
		now:             time.Now,
	}
}

// Beat runs one heartbeat and reports whether a save succeeded. The position
// fix is taken before the fetch so the read-modify-write window stays as
// short as the transport allows. A member missing from the fetched roster is
// not re-added.
func (h *Heartbeat) Beat(ctx context.Context) bool {
	identity := h.state.Identity()
	binID := h.state.BinID()
	if identity == nil || binID == "" {
		h.metrics.Heartbeat(metrics.ResultSkipped)
		return false
	}

	var (
		pos    geo.Position
		hasFix bool
	)
	if identity.Role == document.RoleUsta {
		pos, hasFix = geo.Acquire(ctx, h.positions, h.positionTimeout)
	}

	doc, source := h.store.Load(ctx, binID)
	roster := doc.Roster(identity.Role)
	idx := document.FindMember(roster, identity.Name)
	if idx < 0 {
		h.log.Debugw("member not in roster; skipping heartbeat", "name", identity.Name, "role", identity.Role)
		h.metrics.Heartbeat(metrics.ResultSkipped)
		return false
	}
	roster[idx].LastActive = document.MillisOf(h.now())
	if hasFix {
		lat, lon := pos.Latitude, pos.Longitude
		roster[idx].Latitude = &lat
		roster[idx].Longitude = &lon
	}

	h.state.Replace(doc, source)
	ok := h.store.Save(ctx, doc, binID)
	if ok {
		h.metrics.Heartbeat(metrics.ResultOK)
	} else {
		h.metrics.Heartbeat(metrics.ResultFailed)
	}
	h.log.Debugw("heartbeat", "name", identity.Name, "has_fix", hasFix, "saved", ok)
	return ok
}
