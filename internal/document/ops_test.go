package document

import (
	"errors"
	"testing"
	"time"
)

func sampleDocument() Document {
	doc := Empty()
	doc.Amirs = []Member{{Name: "Hasan"}}
	doc.Ustas = []Member{{Name: "Ali"}, {Name: "Kemal"}}
	doc.Tasks = []Task{
		{ID: "t1", MasterName: "Ali", Status: StatusPending},
		{ID: "t2", MasterName: "Kemal", Status: StatusPending},
	}
	doc.DeletedTasks = []Task{{ID: "t0", MasterName: "Ali", Status: StatusCompleted, DeletedAt: 5}}
	doc.Requests = []MaterialRequest{{ID: "r1", UstaName: "Ali"}, {ID: "r2", UstaName: "Kemal"}}
	doc.Leaves = []LeaveRequest{{ID: "l1", UstaName: "Ali"}}
	return doc
}

func TestRenameMemberCascadesEveryReference(t *testing.T) {
	doc := sampleDocument()
	changed := RenameMember(&doc, RoleUsta, "Ali", "Veli")
	if changed != 5 {
		t.Fatalf("expected 5 changed records, got %d", changed)
	}
	if doc.Ustas[0].Name != "Veli" || doc.Ustas[1].Name != "Kemal" {
		t.Fatalf("unexpected roster: %+v", doc.Ustas)
	}
	if doc.Tasks[0].MasterName != "Veli" || doc.Tasks[1].MasterName != "Kemal" {
		t.Fatalf("unexpected tasks: %+v", doc.Tasks)
	}
	if doc.DeletedTasks[0].MasterName != "Veli" {
		t.Fatalf("expected archived task to be renamed: %+v", doc.DeletedTasks)
	}
	if doc.Requests[0].UstaName != "Veli" || doc.Requests[1].UstaName != "Kemal" {
		t.Fatalf("unexpected requests: %+v", doc.Requests)
	}
	if doc.Leaves[0].UstaName != "Veli" {
		t.Fatalf("unexpected leaves: %+v", doc.Leaves)
	}
}

func TestAdvanceTaskStatusIsForwardOnly(t *testing.T) {
	doc := sampleDocument()
	now := time.UnixMilli(1_000)
	if err := AdvanceTaskStatus(&doc, "t1", StatusInProgress, now); err != nil {
		t.Fatalf("advance to in progress failed: %v", err)
	}
	if doc.Tasks[0].StartedAt != 1_000 {
		t.Fatalf("expected startedAt to be stamped, got %d", doc.Tasks[0].StartedAt)
	}
	if err := AdvanceTaskStatus(&doc, "t1", StatusPending, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected backwards transition to fail, got %v", err)
	}
	if err := AdvanceTaskStatus(&doc, "t1", StatusCompleted, time.UnixMilli(2_000)); err != nil {
		t.Fatalf("advance to completed failed: %v", err)
	}
	if doc.Tasks[0].CompletedAt != 2_000 {
		t.Fatalf("expected completedAt to be stamped, got %d", doc.Tasks[0].CompletedAt)
	}
	if err := AdvanceTaskStatus(&doc, "t1", StatusCancelled, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected terminal task to stay terminal, got %v", err)
	}
}

func TestMarkTaskSeenOnlyOnceAndOnlyByAssignee(t *testing.T) {
	doc := sampleDocument()
	if _, err := MarkTaskSeen(&doc, "t1", "Kemal", time.UnixMilli(10)); !errors.Is(err, ErrNotAssignee) {
		t.Fatalf("expected non-assignee to be refused, got %v", err)
	}
	first, err := MarkTaskSeen(&doc, "t1", "Ali", time.UnixMilli(10))
	if err != nil || !first {
		t.Fatalf("expected first view to set seenAt, got %v %v", first, err)
	}
	second, err := MarkTaskSeen(&doc, "t1", "Ali", time.UnixMilli(20))
	if err != nil || second {
		t.Fatalf("expected second view to be a no-op, got %v %v", second, err)
	}
	if doc.Tasks[0].SeenAt != 10 {
		t.Fatalf("expected seenAt to keep first view time, got %d", doc.Tasks[0].SeenAt)
	}
}

func TestArchiveAndPurge(t *testing.T) {
	doc := sampleDocument()
	if err := PurgeArchivedTask(&doc, "t1"); !errors.Is(err, ErrNotArchived) {
		t.Fatalf("expected purge of active task to be refused, got %v", err)
	}
	if err := ArchiveTask(&doc, "t1", time.UnixMilli(99)); err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if FindTask(doc.Tasks, "t1") >= 0 {
		t.Fatalf("expected archived task to leave active set")
	}
	idx := FindTask(doc.DeletedTasks, "t1")
	if idx < 0 || doc.DeletedTasks[idx].DeletedAt != 99 {
		t.Fatalf("expected archived task with deletedAt, got %+v", doc.DeletedTasks)
	}
	if err := PurgeArchivedTask(&doc, "t1"); err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if FindTask(doc.DeletedTasks, "t1") >= 0 {
		t.Fatalf("expected purged task to be gone")
	}
}

func TestAddLeaveRequestDerivesDaysCount(t *testing.T) {
	doc := Empty()
	leave, err := AddLeaveRequest(&doc, LeaveRequest{ID: "l9", UstaName: "Ali", StartDate: "2024-01-01", EndDate: "2024-01-03"}, time.UnixMilli(1))
	if err != nil {
		t.Fatalf("add leave failed: %v", err)
	}
	if leave.DaysCount != 3 || leave.Status != RequestPending {
		t.Fatalf("unexpected leave: %+v", leave)
	}
	if err := SetLeaveStatus(&doc, "l9", RequestApproved); err != nil {
		t.Fatalf("approve leave failed: %v", err)
	}
	if err := SetLeaveStatus(&doc, "l9", RequestRejected); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected approved leave to be terminal, got %v", err)
	}
}

func TestAddMemberRejectsDuplicates(t *testing.T) {
	doc := sampleDocument()
	if err := AddMember(&doc, RoleUsta, Member{Name: " Ali "}); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected duplicate name to be refused, got %v", err)
	}
	if err := AddMember(&doc, RoleUsta, Member{Name: "Can", PhoneNumber: "0532 000 00 00"}); err != nil {
		t.Fatalf("add member failed: %v", err)
	}
	idx := FindMember(doc.Ustas, "Can")
	if idx < 0 || doc.Ustas[idx].PhoneNumber != "905320000000" {
		t.Fatalf("expected normalized phone number, got %+v", doc.Ustas)
	}
}
