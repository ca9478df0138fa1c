package docsync

import (
	"context"
	"testing"
	"time"

	"github.com/agentworkforce/fieldsync/internal/document"
	"github.com/agentworkforce/fieldsync/internal/geo"
)

func newHeartbeatFixture(t *testing.T, identity document.Identity, positions geo.PositionProvider) (*Heartbeat, *fakeClient, *State) {
	t.Helper()
	client := newFakeClient()
	store, _ := newTestStore(client)
	state := NewState()
	state.SetBinID("abc")
	state.SetIdentity(&identity)
	hb := NewHeartbeat(store, state, positions, nil, nil)
	hb.positionTimeout = 50 * time.Millisecond
	return hb, client, state
}

func TestHeartbeatUpdatesOwnRecordWithPosition(t *testing.T) {
	hb, client, state := newHeartbeatFixture(t, document.Identity{Name: "Ali", Role: document.RoleUsta},
		geo.StaticProvider{Position: geo.Position{Latitude: 41.0, Longitude: 29.0}})
	now := time.UnixMilli(1_700_000_000_000)
	hb.now = func() time.Time { return now }

	doc := document.Empty()
	doc.Ustas = []document.Member{{Name: "Ali"}, {Name: "Veli", LastActive: 5}}
	doc.Tasks = []document.Task{taskFor("t1", "Veli")}
	client.setDoc(t, "abc", doc)

	if !hb.Beat(context.Background()) {
		t.Fatalf("expected heartbeat to save")
	}
	remote := client.doc(t, "abc")
	ali := remote.Ustas[0]
	if ali.LastActive != document.MillisOf(now) {
		t.Fatalf("expected lastActive stamped, got %d", ali.LastActive)
	}
	if ali.Latitude == nil || *ali.Latitude != 41.0 || ali.Longitude == nil || *ali.Longitude != 29.0 {
		t.Fatalf("expected position written, got %+v", ali)
	}
	if remote.Ustas[1].LastActive != 5 || len(remote.Tasks) != 1 {
		t.Fatalf("expected other records untouched, got %+v", remote)
	}
	if got := state.Document().Ustas[0].LastActive; got != document.MillisOf(now) {
		t.Fatalf("expected in-memory state updated, got %d", got)
	}
}

func TestHeartbeatWithoutFixStillWrites(t *testing.T) {
	hb, client, _ := newHeartbeatFixture(t, document.Identity{Name: "Ali", Role: document.RoleUsta}, geo.NoopProvider{})
	doc := document.Empty()
	doc.Ustas = []document.Member{{Name: "Ali"}}
	client.setDoc(t, "abc", doc)

	if !hb.Beat(context.Background()) {
		t.Fatalf("expected heartbeat to save without a fix")
	}
	ali := client.doc(t, "abc").Ustas[0]
	if ali.LastActive.IsZero() || ali.Latitude != nil {
		t.Fatalf("expected lastActive only, got %+v", ali)
	}
}

func TestHeartbeatSupervisorSkipsPosition(t *testing.T) {
	hb, client, _ := newHeartbeatFixture(t, document.Identity{Name: "Boss", Role: document.RoleAmir},
		geo.StaticProvider{Position: geo.Position{Latitude: 1, Longitude: 2}})
	doc := document.Empty()
	doc.Amirs = []document.Member{{Name: "Boss"}}
	client.setDoc(t, "abc", doc)

	if !hb.Beat(context.Background()) {
		t.Fatalf("expected heartbeat to save")
	}
	boss := client.doc(t, "abc").Amirs[0]
	if boss.LastActive.IsZero() || boss.Latitude != nil {
		t.Fatalf("expected supervisor heartbeat without position, got %+v", boss)
	}
}

func TestHeartbeatSkipsMissingMember(t *testing.T) {
	hb, client, _ := newHeartbeatFixture(t, document.Identity{Name: "Ghost", Role: document.RoleUsta}, nil)
	doc := document.Empty()
	doc.Ustas = []document.Member{{Name: "Ali"}}
	client.setDoc(t, "abc", doc)

	if hb.Beat(context.Background()) {
		t.Fatalf("expected heartbeat to skip")
	}
	if client.putCount() != 0 {
		t.Fatalf("expected no write for a removed member, got %d", client.putCount())
	}
	if len(client.doc(t, "abc").Ustas) != 1 {
		t.Fatalf("expected roster unchanged")
	}
}

func TestHeartbeatSkipsWithoutIdentity(t *testing.T) {
	client := newFakeClient()
	store, _ := newTestStore(client)
	state := NewState()
	state.SetBinID("abc")
	if NewHeartbeat(store, state, nil, nil, nil).Beat(context.Background()) {
		t.Fatalf("expected no heartbeat without identity")
	}
	if client.gets != 0 || client.putCount() != 0 {
		t.Fatalf("expected no remote traffic")
	}
}
