package document

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNotArchived       = errors.New("task is not archived")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateName     = errors.New("name already in roster")
	ErrNotAssignee       = errors.New("viewer is not the assignee")
)

// RenameMember renames a member and cascades the new name to every reference:
// the roster entry, masterName in active and archived tasks, and ustaName in
// material and leave requests. It returns the number of records changed.
// All changes are applied to doc in one pass; callers persist doc once.
func RenameMember(doc *Document, role Role, oldName, newName string) int {
	changed := 0
	roster := doc.Roster(role)
	for i := range roster {
		if roster[i].Name == oldName {
			roster[i].Name = newName
			changed++
		}
	}
	for i := range doc.Tasks {
		if doc.Tasks[i].MasterName == oldName {
			doc.Tasks[i].MasterName = newName
			changed++
		}
	}
	for i := range doc.DeletedTasks {
		if doc.DeletedTasks[i].MasterName == oldName {
			doc.DeletedTasks[i].MasterName = newName
			changed++
		}
	}
	for i := range doc.Requests {
		if doc.Requests[i].UstaName == oldName {
			doc.Requests[i].UstaName = newName
			changed++
		}
	}
	for i := range doc.Leaves {
		if doc.Leaves[i].UstaName == oldName {
			doc.Leaves[i].UstaName = newName
			changed++
		}
	}
	return changed
}

func AddMember(doc *Document, role Role, m Member) error {
	m.Name = NormalizeName(m.Name)
	if m.Name == "" {
		return ErrInvalidInput
	}
	roster := doc.Roster(role)
	if FindMember(roster, m.Name) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateName, m.Name)
	}
	m.PhoneNumber = NormalizePhone(m.PhoneNumber)
	doc.SetRoster(role, append(roster, m))
	return nil
}

func RemoveMember(doc *Document, role Role, name string) error {
	roster := doc.Roster(role)
	idx := FindMember(roster, name)
	if idx < 0 {
		return fmt.Errorf("%w: member %s", ErrNotFound, name)
	}
	out := append([]Member{}, roster[:idx]...)
	doc.SetRoster(role, append(out, roster[idx+1:]...))
	return nil
}

func AddTask(doc *Document, task Task, now time.Time) (Task, error) {
	if task.ID == "" || task.MasterName == "" {
		return Task{}, ErrInvalidInput
	}
	if FindTask(doc.Tasks, task.ID) >= 0 {
		return Task{}, fmt.Errorf("%w: duplicate task id %s", ErrInvalidInput, task.ID)
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = MillisOf(now)
	}
	doc.Tasks = append(doc.Tasks, task)
	return task, nil
}

// AdvanceTaskStatus moves an active task forward along its lifecycle and
// stamps startedAt / completedAt.
func AdvanceTaskStatus(doc *Document, id ID, next TaskStatus, now time.Time) error {
	idx := FindTask(doc.Tasks, id)
	if idx < 0 {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	task := &doc.Tasks[idx]
	if !task.Status.CanAdvanceTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, next)
	}
	task.Status = next
	switch next {
	case StatusInProgress:
		task.StartedAt = MillisOf(now)
	case StatusCompleted, StatusCancelled:
		task.CompletedAt = MillisOf(now)
	}
	return nil
}

// MarkTaskSeen records the first time the assignee viewed a task. Later
// calls leave the original seenAt untouched and report false.
func MarkTaskSeen(doc *Document, id ID, viewer string, now time.Time) (bool, error) {
	idx := FindTask(doc.Tasks, id)
	if idx < 0 {
		return false, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	task := &doc.Tasks[idx]
	if task.MasterName != viewer {
		return false, ErrNotAssignee
	}
	if !task.SeenAt.IsZero() {
		return false, nil
	}
	task.SeenAt = MillisOf(now)
	return true, nil
}

func ArchiveTask(doc *Document, id ID, now time.Time) error {
	idx := FindTask(doc.Tasks, id)
	if idx < 0 {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	task := doc.Tasks[idx]
	task.DeletedAt = MillisOf(now)
	rest := append([]Task{}, doc.Tasks[:idx]...)
	doc.Tasks = append(rest, doc.Tasks[idx+1:]...)
	doc.DeletedTasks = append(doc.DeletedTasks, task)
	return nil
}

// PurgeArchivedTask permanently removes an archived task. Active tasks cannot
// be purged directly; they must be archived first.
func PurgeArchivedTask(doc *Document, id ID) error {
	idx := FindTask(doc.DeletedTasks, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotArchived, id)
	}
	rest := append([]Task{}, doc.DeletedTasks[:idx]...)
	doc.DeletedTasks = append(rest, doc.DeletedTasks[idx+1:]...)
	return nil
}

func AddMaterialRequest(doc *Document, req MaterialRequest, now time.Time) (MaterialRequest, error) {
	if req.ID == "" || req.UstaName == "" {
		return MaterialRequest{}, ErrInvalidInput
	}
	if req.Status == "" {
		req.Status = RequestPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = MillisOf(now)
	}
	doc.Requests = append(doc.Requests, req)
	return req, nil
}

func SetMaterialRequestStatus(doc *Document, id ID, status RequestStatus) error {
	for i := range doc.Requests {
		if doc.Requests[i].ID != id {
			continue
		}
		if doc.Requests[i].Status.Terminal() || !status.Terminal() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Requests[i].Status, status)
		}
		doc.Requests[i].Status = status
		return nil
	}
	return fmt.Errorf("%w: request %s", ErrNotFound, id)
}

func RemoveMaterialRequest(doc *Document, id ID) error {
	for i := range doc.Requests {
		if doc.Requests[i].ID == id {
			rest := append([]MaterialRequest{}, doc.Requests[:i]...)
			doc.Requests = append(rest, doc.Requests[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: request %s", ErrNotFound, id)
}

func AddLeaveRequest(doc *Document, leave LeaveRequest, now time.Time) (LeaveRequest, error) {
	if leave.ID == "" || leave.UstaName == "" {
		return LeaveRequest{}, ErrInvalidInput
	}
	days := DaysCount(leave.StartDate, leave.EndDate)
	if days == 0 {
		return LeaveRequest{}, fmt.Errorf("%w: leave dates %s..%s", ErrInvalidInput, leave.StartDate, leave.EndDate)
	}
	leave.DaysCount = days
	if leave.Status == "" {
		leave.Status = RequestPending
	}
	if leave.CreatedAt.IsZero() {
		leave.CreatedAt = MillisOf(now)
	}
	doc.Leaves = append(doc.Leaves, leave)
	return leave, nil
}

func SetLeaveStatus(doc *Document, id ID, status RequestStatus) error {
	for i := range doc.Leaves {
		if doc.Leaves[i].ID != id {
			continue
		}
		if doc.Leaves[i].Status.Terminal() || !status.Terminal() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Leaves[i].Status, status)
		}
		doc.Leaves[i].Status = status
		return nil
	}
	return fmt.Errorf("%w: leave %s", ErrNotFound, id)
}

func RemoveLeaveRequest(doc *Document, id ID) error {
	for i := range doc.Leaves {
		if doc.Leaves[i].ID == id {
			rest := append([]LeaveRequest{}, doc.Leaves[:i]...)
			doc.Leaves = append(rest, doc.Leaves[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: leave %s", ErrNotFound, id)
}
