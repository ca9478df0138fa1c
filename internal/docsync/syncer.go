package docsync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentworkforce/fieldsync/internal/document"
	"github.com/agentworkforce/fieldsync/internal/metrics"
	"github.com/agentworkforce/fieldsync/internal/notify"
)

// Syncer keeps in-memory state convergent with the remote document by
// polling. A fetched document replaces local state verbatim.
type Syncer struct {
	store        *Store
	state        *State
	dedup        *notify.Deduplicator
	metrics      *metrics.Metrics
	log          *zap.SugaredLogger
	onlineWindow time.Duration
	now          func() time.Time
}

func NewSyncer(store *Store, state *State, dedup *notify.Deduplicator, m *metrics.Metrics, log *zap.SugaredLogger) *Syncer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if dedup == nil {
		dedup = notify.NewDeduplicator(nil)
	}
	return &Syncer{
		store:        store,
		state:        state,
		dedup:        dedup,
		metrics:      m,
		log:          log,
		onlineWindow: document.DefaultOnlineWindow,
		now:          time.Now,
	}
}

// PollOnce runs one poll cycle. Without a document id it does nothing; the
// session then works purely from the local mirror. Alerts are only derived
// from remote fetches.
func (s *Syncer) PollOnce(ctx context.Context) []notify.Alert {
	binID := s.state.BinID()
	if binID == "" {
		s.metrics.Poll(metrics.ResultSkipped)
		return nil
	}
	doc, source := s.store.Load(ctx, binID)
	if binID != s.state.BinID() {
		// The document id changed while this fetch was in flight.
		s.metrics.Poll(metrics.ResultSkipped)
		return nil
	}
	s.state.Replace(doc, source)
	if source == SourceLocal {
		s.metrics.Poll(metrics.ResultLocal)
		return nil
	}
	s.metrics.Poll(metrics.ResultRemote)
	s.recordPresence(doc)

	alerts := s.dedup.Observe(ctx, s.state.Identity(), doc.Tasks)
	if len(alerts) > 0 {
		s.log.Infow("new task alerts", "count", len(alerts))
	}
	return alerts
}

func (s *Syncer) recordPresence(doc document.Document) {
	now := s.now()
	s.metrics.OnlineMembers(string(document.RoleAmir), len(document.OnlineMembers(doc.Amirs, now, s.onlineWindow)))
	s.metrics.OnlineMembers(string(document.RoleUsta), len(document.OnlineMembers(doc.Ustas, now, s.onlineWindow)))
}
