package docsync

import (
	"context"
	"testing"

	"github.com/agentworkforce/fieldsync/internal/document"
	"github.com/agentworkforce/fieldsync/internal/localstate"
)

func renameFixture(t *testing.T) (*Renamer, *fakeClient, *State, *localstate.IdentityStore) {
	t.Helper()
	client := newFakeClient()
	store, cache := newTestStore(client)
	identities := localstate.NewIdentityStore(cache.Backend())
	state := NewState()
	state.SetBinID("abc")

	doc := document.Empty()
	doc.Ustas = []document.Member{{Name: "Ali"}, {Name: "Veli"}}
	doc.Tasks = []document.Task{taskFor("t1", "Ali"), taskFor("t2", "Veli")}
	doc.DeletedTasks = []document.Task{taskFor("t0", "Ali")}
	doc.Requests = []document.MaterialRequest{{ID: "r1", UstaName: "Ali", Content: "bolts", Status: document.RequestPending}}
	doc.Leaves = []document.LeaveRequest{{ID: "l1", UstaName: "Ali", StartDate: "2024-01-01", EndDate: "2024-01-02", DaysCount: 2, Status: document.RequestPending}}
	state.Replace(doc, SourceRemote)

	return NewRenamer(store, state, identities, nil), client, state, identities
}

func TestRenameCascadesWithSingleWrite(t *testing.T) {
	renamer, client, state, _ := renameFixture(t)

	attempted, saved := renamer.Rename(context.Background(), document.RoleUsta, "Ali", "Ali Usta")
	if !attempted || !saved {
		t.Fatalf("expected attempted and saved, got %v %v", attempted, saved)
	}
	if client.putCount() != 1 {
		t.Fatalf("expected exactly one remote write, got %d", client.putCount())
	}
	remote := client.doc(t, "abc")
	if remote.Ustas[0].Name != "Ali Usta" || remote.Ustas[1].Name != "Veli" {
		t.Fatalf("unexpected roster %+v", remote.Ustas)
	}
	if remote.Tasks[0].MasterName != "Ali Usta" || remote.Tasks[1].MasterName != "Veli" {
		t.Fatalf("unexpected tasks %+v", remote.Tasks)
	}
	if remote.DeletedTasks[0].MasterName != "Ali Usta" || remote.Requests[0].UstaName != "Ali Usta" || remote.Leaves[0].UstaName != "Ali Usta" {
		t.Fatalf("expected every reference renamed, got %+v", remote)
	}
	if state.Document().Tasks[0].MasterName != "Ali Usta" {
		t.Fatalf("expected in-memory state renamed")
	}
}

func TestRenameUpdatesSessionAndRememberedIdentity(t *testing.T) {
	renamer, _, state, identities := renameFixture(t)
	ctx := context.Background()
	self := document.Identity{Name: "Ali", Role: document.RoleUsta}
	state.SetIdentity(&self)
	if err := identities.Remember(ctx, self); err != nil {
		t.Fatalf("remember failed: %v", err)
	}

	renamer.Rename(ctx, document.RoleUsta, "Ali", "Ali Usta")

	if got := state.Identity(); got == nil || got.Name != "Ali Usta" {
		t.Fatalf("expected session identity renamed, got %+v", got)
	}
	remembered, ok, err := identities.Recall(ctx)
	if err != nil || !ok || remembered.Name != "Ali Usta" {
		t.Fatalf("expected remembered identity renamed, got %+v ok=%v err=%v", remembered, ok, err)
	}
}

func TestRenameOfOtherMemberLeavesIdentity(t *testing.T) {
	renamer, _, state, identities := renameFixture(t)
	ctx := context.Background()
	state.SetIdentity(&document.Identity{Name: "Boss", Role: document.RoleAmir})

	renamer.Rename(ctx, document.RoleUsta, "Veli", "Veli Usta")

	if got := state.Identity(); got.Name != "Boss" {
		t.Fatalf("expected identity unchanged, got %+v", got)
	}
	if _, ok, _ := identities.Recall(ctx); ok {
		t.Fatalf("expected nothing remembered")
	}
}

func TestRenameNoOp(t *testing.T) {
	renamer, client, _, _ := renameFixture(t)
	ctx := context.Background()

	for _, newName := range []string{"", "   ", "Ali"} {
		attempted, saved := renamer.Rename(ctx, document.RoleUsta, "Ali", newName)
		if attempted || saved {
			t.Fatalf("expected no-op for %q", newName)
		}
	}
	if client.putCount() != 0 {
		t.Fatalf("expected no writes, got %d", client.putCount())
	}
}

func TestRenameReportsFailedWrite(t *testing.T) {
	renamer, client, state, _ := renameFixture(t)
	client.setFailures(false, true)

	attempted, saved := renamer.Rename(context.Background(), document.RoleUsta, "Ali", "Ali Usta")
	if !attempted || saved {
		t.Fatalf("expected attempted but unsaved, got %v %v", attempted, saved)
	}
	if state.Document().Ustas[0].Name != "Ali Usta" {
		t.Fatalf("expected local rename to stay applied")
	}
}
