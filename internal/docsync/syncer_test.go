package docsync

import (
	"context"
	"sync"
	"testing"

	"github.com/agentworkforce/fieldsync/internal/document"
	"github.com/agentworkforce/fieldsync/internal/notify"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (r *recordingNotifier) Notify(_ context.Context, alert notify.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func taskFor(id, assignee string) document.Task {
	return document.Task{ID: document.ID(id), MasterName: assignee, MachineName: "Press " + id, Status: document.StatusPending, Priority: document.PriorityHigh}
}

func TestSyncerWithoutBinIDDoesNothing(t *testing.T) {
	client := newFakeClient()
	store, _ := newTestStore(client)
	syncer := NewSyncer(store, NewState(), nil, nil, nil)

	if alerts := syncer.PollOnce(context.Background()); alerts != nil {
		t.Fatalf("expected no alerts, got %+v", alerts)
	}
	if client.gets != 0 {
		t.Fatalf("expected no remote reads, got %d", client.gets)
	}
}

func TestSyncerSeedsThenAlertsOncePerTask(t *testing.T) {
	client := newFakeClient()
	store, _ := newTestStore(client)
	state := NewState()
	state.SetBinID("abc")
	state.SetIdentity(&document.Identity{Name: "Ali", Role: document.RoleUsta})
	notifier := &recordingNotifier{}
	syncer := NewSyncer(store, state, notify.NewDeduplicator(notifier), nil, nil)
	ctx := context.Background()

	doc := document.Empty()
	doc.Tasks = []document.Task{taskFor("t1", "Ali")}
	client.setDoc(t, "abc", doc)

	if alerts := syncer.PollOnce(ctx); len(alerts) != 0 {
		t.Fatalf("expected first poll to seed silently, got %+v", alerts)
	}
	if len(state.Document().Tasks) != 1 {
		t.Fatalf("expected state to be replaced with fetched document")
	}

	doc.Tasks = append(doc.Tasks, taskFor("t2", "Ali"), taskFor("t3", "Veli"))
	client.setDoc(t, "abc", doc)

	alerts := syncer.PollOnce(ctx)
	if len(alerts) != 1 || alerts[0].TaskID != "t2" || !alerts[0].Urgent {
		t.Fatalf("expected a single urgent alert for t2, got %+v", alerts)
	}
	if again := syncer.PollOnce(ctx); len(again) != 0 {
		t.Fatalf("expected no repeat alerts, got %+v", again)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected notifier to be called once, got %d", notifier.count())
	}
}

func TestSyncerLocalFallbackDoesNotAlert(t *testing.T) {
	client := newFakeClient()
	store, cache := newTestStore(client)
	state := NewState()
	state.SetBinID("abc")
	state.SetIdentity(&document.Identity{Name: "Ali", Role: document.RoleUsta})
	dedup := notify.NewDeduplicator(nil)
	syncer := NewSyncer(store, state, dedup, nil, nil)
	ctx := context.Background()

	client.setDoc(t, "abc", document.Empty())
	syncer.PollOnce(ctx)

	mirrored := document.Empty()
	mirrored.Tasks = []document.Task{taskFor("offline", "Ali")}
	if err := cache.SaveDocument(ctx, mirrored); err != nil {
		t.Fatalf("seed mirror failed: %v", err)
	}
	client.setFailures(true, false)

	if alerts := syncer.PollOnce(ctx); len(alerts) != 0 {
		t.Fatalf("expected no alerts from mirror, got %+v", alerts)
	}
	if state.Snapshot().Source != SourceLocal {
		t.Fatalf("expected local source after failed fetch")
	}
	if dedup.Known("offline") {
		t.Fatalf("expected mirrored tasks not to enter the known set")
	}
}

func TestSyncerPollReplacesLocalChangesVerbatim(t *testing.T) {
	client := newFakeClient()
	store, _ := newTestStore(client)
	state := NewState()
	state.SetBinID("abc")
	syncer := NewSyncer(store, state, nil, nil, nil)

	local := document.Empty()
	local.Tasks = []document.Task{taskFor("unsaved", "Ali")}
	state.Replace(local, SourceLocal)

	client.setDoc(t, "abc", document.Empty())
	syncer.PollOnce(context.Background())

	if got := state.Document(); len(got.Tasks) != 0 {
		t.Fatalf("expected remote document to replace local state, got %+v", got.Tasks)
	}
}
