package docsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agentworkforce/fieldsync/internal/document"
	"github.com/agentworkforce/fieldsync/internal/geo"
	"github.com/agentworkforce/fieldsync/internal/localstate"
	"github.com/agentworkforce/fieldsync/internal/metrics"
	"github.com/agentworkforce/fieldsync/internal/notify"
)

var (
	ErrUnknownMember = errors.New("member not in roster")
	ErrBadPassword   = errors.New("password does not match")
	ErrNotLoggedIn   = errors.New("no active session identity")
	ErrRateLimited   = errors.New("refresh rate limited")
)

const (
	DefaultPollInterval      = 2 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
)

type SessionOptions struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	// Jitter spreads timer firings by up to this ratio of the interval.
	Jitter          float64
	OnlineWindow    time.Duration
	PositionTimeout time.Duration
	RefreshLimit    rate.Limit
	RefreshBurst    int

	Positions  geo.PositionProvider
	Notifier   notify.Notifier
	Policy     notify.RelevancePolicy
	Identities *localstate.IdentityStore
	Metrics    *metrics.Metrics
	Logger     *zap.SugaredLogger
	Now        func() time.Time
}

// Session owns the in-memory state for one client and the poll and heartbeat
// loops that keep it current. Loops run only between Start and Stop and are
// restarted when the document id changes.
type Session struct {
	store      *Store
	state      *State
	dedup      *notify.Deduplicator
	syncer     *Syncer
	heartbeat  *Heartbeat
	renamer    *Renamer
	identities *localstate.IdentityStore
	limiter    *rate.Limiter
	log        *zap.SugaredLogger
	opts       SessionOptions
	now        func() time.Time

	// writeMu serializes this client's read-modify-write cycles.
	writeMu sync.Mutex

	lifeMu   sync.Mutex
	parent   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	beatKick chan struct{}
}

func NewSession(store *Store, opts SessionOptions) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.OnlineWindow <= 0 {
		opts.OnlineWindow = document.DefaultOnlineWindow
	}
	if opts.PositionTimeout <= 0 {
		opts.PositionTimeout = geo.DefaultTimeout
	}
	if opts.RefreshLimit <= 0 {
		opts.RefreshLimit = rate.Limit(1)
	}
	if opts.RefreshBurst <= 0 {
		opts.RefreshBurst = 3
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Identities == nil {
		opts.Identities = localstate.NewIdentityStore(store.Cache().Backend())
	}

	state := NewState()
	dedup := notify.NewDeduplicator(opts.Notifier,
		notify.WithPolicy(opts.Policy),
		notify.WithMetrics(opts.Metrics),
		notify.WithLogger(opts.Logger.With("component", "notify")),
	)
	syncer := NewSyncer(store, state, dedup, opts.Metrics, opts.Logger.With("component", "syncer"))
	syncer.onlineWindow = opts.OnlineWindow
	syncer.now = opts.Now
	heartbeat := NewHeartbeat(store, state, opts.Positions, opts.Metrics, opts.Logger.With("component", "heartbeat"))
	heartbeat.positionTimeout = opts.PositionTimeout
	heartbeat.now = opts.Now

	s := &Session{
		store:      store,
		state:      state,
		dedup:      dedup,
		syncer:     syncer,
		heartbeat:  heartbeat,
		identities: opts.Identities,
		limiter:    rate.NewLimiter(opts.RefreshLimit, opts.RefreshBurst),
		log:        opts.Logger.With("component", "session"),
		opts:       opts,
		now:        opts.Now,
		beatKick:   make(chan struct{}, 1),
	}
	s.renamer = NewRenamer(store, state, opts.Identities, opts.Logger.With("component", "rename"))
	s.renamer.writeMu = &s.writeMu
	return s
}

func (s *Session) State() *State {
	return s.state
}

func (s *Session) Store() *Store {
	return s.store
}

func (s *Session) Snapshot() Snapshot {
	return s.state.Snapshot()
}

func (s *Session) Subscribe(fn func(Snapshot)) func() {
	return s.state.Subscribe(fn)
}

// Restore loads the persisted document id, the mirrored document and the
// remembered identity. It reports whether a remembered identity was found.
func (s *Session) Restore(ctx context.Context) bool {
	cache := s.store.Cache()
	binID, err := cache.LoadBinID(ctx)
	if err != nil {
		s.log.Warnw("read persisted document id failed", "error", err)
	}
	s.state.SetBinID(binID)
	s.state.Replace(s.store.LoadLocal(ctx), SourceLocal)

	identity, ok, err := s.identities.Recall(ctx)
	if err != nil {
		s.log.Warnw("read remembered session failed", "error", err)
		return false
	}
	if ok {
		s.state.SetIdentity(&identity)
		s.log.Infow("restored remembered session", "name", identity.Name, "role", identity.Role)
	}
	return ok
}

// Start launches the poll and heartbeat loops under ctx. Calling Start while
// running restarts the loops.
func (s *Session) Start(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.stopLocked()
	s.parent = ctx
	s.startLocked()
}

// Stop cancels both loops and waits for them to exit.
func (s *Session) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.stopLocked()
	s.parent = nil
}

func (s *Session) Running() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.cancel != nil
}

func (s *Session) startLocked() {
	if s.parent == nil {
		return
	}
	ctx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		loop(ctx, s.opts.PollInterval, s.opts.Jitter, nil, func(ctx context.Context) {
			s.syncer.PollOnce(ctx)
		})
	}()
	go func() {
		defer s.wg.Done()
		loop(ctx, s.opts.HeartbeatInterval, s.opts.Jitter, s.beatKick, func(ctx context.Context) {
			s.beat(ctx)
		})
	}()
	s.log.Debugw("session loops started", "bin_id", s.state.BinID())
}

func (s *Session) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.wg.Wait()
	s.log.Debugw("session loops stopped")
}

func (s *Session) beat(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.heartbeat.Beat(ctx)
}

// SetBinID switches the session to another document. The notification set
// is reset so the next fetch seeds it again, and running loops restart.
func (s *Session) SetBinID(ctx context.Context, input string) string {
	id := ExtractBinID(input)
	if err := s.store.Cache().SaveBinID(ctx, id); err != nil {
		s.log.Warnw("persist document id failed", "error", err)
	}

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	running := s.cancel != nil
	s.stopLocked()
	s.state.SetBinID(id)
	s.dedup.Reset()
	if running {
		s.startLocked()
	}
	s.log.Infow("document id set", "bin_id", id)
	return id
}

// Login checks name against the role's roster and its optional password. With
// remember set the identity survives restarts.
func (s *Session) Login(ctx context.Context, name string, role document.Role, password string, remember bool) error {
	name = document.NormalizeName(name)
	doc := s.state.Document()
	roster := doc.Roster(role)
	idx := document.FindMember(roster, name)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownMember, name)
	}
	if roster[idx].Password != "" && roster[idx].Password != password {
		return ErrBadPassword
	}
	identity := document.Identity{Name: name, Role: role}
	s.state.SetIdentity(&identity)
	if remember {
		if err := s.identities.Remember(ctx, identity); err != nil {
			s.log.Warnw("remember session failed", "error", err)
		}
	} else if err := s.identities.Forget(ctx); err != nil {
		s.log.Warnw("forget session failed", "error", err)
	}
	s.log.Infow("logged in", "name", name, "role", role)
	s.KickHeartbeat()
	return nil
}

// Logout stops the loops and clears the identity and its remembered copy.
func (s *Session) Logout(ctx context.Context) {
	s.Stop()
	s.state.SetIdentity(nil)
	if err := s.identities.Forget(ctx); err != nil {
		s.log.Warnw("forget session failed", "error", err)
	}
	s.log.Infow("logged out")
}

// KickHeartbeat requests an immediate heartbeat from the running loop.
func (s *Session) KickHeartbeat() {
	select {
	case s.beatKick <- struct{}{}:
	default:
	}
}

// Refresh polls immediately, as on returning to the foreground.
func (s *Session) Refresh(ctx context.Context) ([]notify.Alert, error) {
	if !s.limiter.Allow() {
		return nil, ErrRateLimited
	}
	return s.syncer.PollOnce(ctx), nil
}

// PollOnce runs a single poll outside the loop.
func (s *Session) PollOnce(ctx context.Context) []notify.Alert {
	return s.syncer.PollOnce(ctx)
}

// Beat runs a single heartbeat outside the loop.
func (s *Session) Beat(ctx context.Context) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.heartbeat.Beat(ctx)
}

// LoadData fetches the document for id (or the current id when empty),
// replaces in-memory state and returns it.
func (s *Session) LoadData(ctx context.Context, id string) document.Document {
	if id == "" {
		id = s.state.BinID()
	}
	doc, source := s.store.Load(ctx, id)
	s.state.Replace(doc, source)
	return doc
}

// SaveAppData applies doc to in-memory state and persists it as the whole
// document. State is kept even when the remote write fails.
func (s *Session) SaveAppData(ctx context.Context, doc document.Document, id string) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if id == "" {
		id = s.state.BinID()
	}
	s.state.Replace(doc, "")
	return s.store.Save(ctx, doc, id)
}

func (s *Session) CreateNewBin(ctx context.Context, amirs, ustas []document.Member) string {
	return s.store.Create(ctx, amirs, ustas)
}

func (s *Session) CheckConnection(ctx context.Context, id string) bool {
	return s.store.CheckConnection(ctx, id)
}

// Rename cascades a member rename. See Renamer.Rename.
func (s *Session) Rename(ctx context.Context, role document.Role, oldName, newName string) (attempted, saved bool) {
	return s.renamer.Rename(ctx, role, oldName, newName)
}

// Mutate applies fn to a snapshot of the in-memory document, installs the
// result, then saves it as the whole document. If fn fails nothing changes.
// saved is false when the remote write failed; the local change stays.
func (s *Session) Mutate(ctx context.Context, fn func(doc *document.Document) error) (saved bool, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	doc := s.state.Document()
	if err := fn(&doc); err != nil {
		return false, err
	}
	s.state.Replace(doc, "")
	return s.store.Save(ctx, doc, s.state.BinID()), nil
}

// OnlineMembers lists the role's members with a recent heartbeat.
func (s *Session) OnlineMembers(role document.Role) []document.Member {
	doc := s.state.Document()
	return document.OnlineMembers(doc.Roster(role), s.now(), s.opts.OnlineWindow)
}

// WatchMirror reloads state from the local mirror when it changes on disk
// while the session has no document id.
func (s *Session) WatchMirror(ctx context.Context, path string) error {
	return localstate.Watch(ctx, path, func() {
		if s.state.BinID() != "" {
			return
		}
		s.state.Replace(s.store.LoadLocal(ctx), SourceLocal)
		s.log.Debugw("reloaded local mirror", "path", path)
	})
}

func (s *Session) AddTask(ctx context.Context, task document.Task) (document.Task, bool, error) {
	if task.ID == "" {
		task.ID = document.ID(uuid.NewString())
	}
	var added document.Task
	saved, err := s.Mutate(ctx, func(doc *document.Document) error {
		var err error
		added, err = document.AddTask(doc, task, s.now())
		if err != nil {
			return err
		}
		s.dedup.MarkKnown(added.ID)
		return nil
	})
	return added, saved, err
}

// UpdateTask replaces the active task with the same id.
func (s *Session) UpdateTask(ctx context.Context, task document.Task) (bool, error) {
	return s.Mutate(ctx, func(doc *document.Document) error {
		idx := document.FindTask(doc.Tasks, task.ID)
		if idx < 0 {
			return fmt.Errorf("%w: task %s", document.ErrNotFound, task.ID)
		}
		doc.Tasks[idx] = task
		return nil
	})
}

func (s *Session) AdvanceTaskStatus(ctx context.Context, id document.ID, next document.TaskStatus) (bool, error) {
	return s.Mutate(ctx, func(doc *document.Document) error {
		return document.AdvanceTaskStatus(doc, id, next, s.now())
	})
}

// MarkTaskSeen records the current identity's first view of its task. It
// writes nothing when seenAt is already set.
func (s *Session) MarkTaskSeen(ctx context.Context, id document.ID) (bool, error) {
	identity := s.state.Identity()
	if identity == nil {
		return false, ErrNotLoggedIn
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	doc := s.state.Document()
	first, err := document.MarkTaskSeen(&doc, id, identity.Name, s.now())
	if err != nil || !first {
		return false, err
	}
	s.state.Replace(doc, "")
	return s.store.Save(ctx, doc, s.state.BinID()), nil
}

func (s *Session) ArchiveTask(ctx context.Context, id document.ID) (bool, error) {
	return s.Mutate(ctx, func(doc *document.Document) error {
		return document.ArchiveTask(doc, id, s.now())
	})
}

func (s *Session) PurgeArchivedTask(ctx context.Context, id document.ID) (bool, error) {
	return s.Mutate(ctx, func(doc *document.Document) error {
		return document.PurgeArchivedTask(doc, id)
	})
}

func (s *Session) AddMaterialRequest(ctx context.Context, req document.MaterialRequest) (document.MaterialRequest, bool, error) {
	if req.ID == "" {
		req.ID = document.ID(uuid.NewString())
	}
	var added document.MaterialRequest
	saved, err := s.Mutate(ctx, func(doc *document.Document) error {
		var err error
		added, err = document.AddMaterialRequest(doc, req, s.now())
		return err
	})
	return added, saved, err
}

func (s *Session) SetMaterialRequestStatus(ctx context.Context, id document.ID, status document.RequestStatus) (bool, error) {
	return s.Mutate(ctx, func(doc *document.Document) error {
		return document.SetMaterialRequestStatus(doc, id, status)
	})
}

func (s *Session) AddLeaveRequest(ctx context.Context, leave document.LeaveRequest) (document.LeaveRequest, bool, error) {
	if leave.ID == "" {
		leave.ID = document.ID(uuid.NewString())
	}
	var added document.LeaveRequest
	saved, err := s.Mutate(ctx, func(doc *document.Document) error {
		var err error
		added, err = document.AddLeaveRequest(doc, leave, s.now())
		return err
	})
	return added, saved, err
}

func (s *Session) SetLeaveStatus(ctx context.Context, id document.ID, status document.RequestStatus) (bool, error) {
	return s.Mutate(ctx, func(doc *document.Document) error {
		return document.SetLeaveStatus(doc, id, status)
	})
}

func (s *Session) AddMember(ctx context.Context, role document.Role, member document.Member) (bool, error) {
	return s.Mutate(ctx, func(doc *document.Document) error {
		return document.AddMember(doc, role, member)
	})
}

func (s *Session) RemoveMember(ctx context.Context, role document.Role, name string) (bool, error) {
	return s.Mutate(ctx, func(doc *document.Document) error {
		return document.RemoveMember(doc, role, name)
	})
}
