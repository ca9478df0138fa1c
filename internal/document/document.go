// Package document defines the shared document replicated between supervisor
// and field-worker clients, and the read-side normalization that upgrades
// legacy or partial payloads to the current shape.
package document

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrMalformed    = errors.New("malformed document")
)

type Role string

const (
	RoleAmir Role = "AMIR"
	RoleUsta Role = "USTA"
)

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAmir:
		return RoleAmir, nil
	case RoleUsta:
		return RoleUsta, nil
	default:
		return "", ErrInvalidInput
	}
}

type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusCancelled  TaskStatus = "CANCELLED"
)

// rank orders statuses along the forward-only lifecycle. Both terminal
// statuses share the highest rank.
func (s TaskStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusCancelled:
		return 2
	default:
		return -1
	}
}

func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanAdvanceTo reports whether next is a legal forward transition from s.
func (s TaskStatus) CanAdvanceTo(next TaskStatus) bool {
	if s.Terminal() || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
)

func (s RequestStatus) Terminal() bool {
	return s == RequestApproved || s == RequestRejected
}

type Member struct {
	Name        string   `json:"name"`
	Password    string   `json:"password"`
	PhoneNumber string   `json:"phoneNumber,omitempty"`
	LastActive  Millis   `json:"lastActive,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

type Task struct {
	ID             ID         `json:"id"`
	MachineName    string     `json:"machineName"`
	MasterName     string     `json:"masterName"`
	Description    string     `json:"description"`
	Status         TaskStatus `json:"status"`
	Priority       Priority   `json:"priority"`
	CreatedAt      Millis     `json:"createdAt"`
	StartedAt      Millis     `json:"startedAt,omitempty"`
	CompletedAt    Millis     `json:"completedAt,omitempty"`
	SeenAt         Millis     `json:"seenAt,omitempty"`
	DeletedAt      Millis     `json:"deletedAt,omitempty"`
	Comments       string     `json:"comments,omitempty"`
	Image          string     `json:"image,omitempty"`
	CompletedImage string     `json:"completedImage,omitempty"`
}

type MaterialRequest struct {
	ID        ID            `json:"id"`
	UstaName  string        `json:"ustaName"`
	Content   string        `json:"content"`
	Status    RequestStatus `json:"status"`
	CreatedAt Millis        `json:"createdAt"`
}

type LeaveRequest struct {
	ID        ID            `json:"id"`
	UstaName  string        `json:"ustaName"`
	StartDate string        `json:"startDate"`
	EndDate   string        `json:"endDate"`
	DaysCount int           `json:"daysCount"`
	Reason    string        `json:"reason"`
	Status    RequestStatus `json:"status"`
	CreatedAt Millis        `json:"createdAt"`
}

// Document is the entire remote state. Every save replaces it as a whole.
type Document struct {
	Tasks        []Task            `json:"tasks"`
	DeletedTasks []Task            `json:"deletedTasks"`
	Requests     []MaterialRequest `json:"requests"`
	Leaves       []LeaveRequest    `json:"leaves"`
	Amirs        []Member          `json:"amirs"`
	Ustas        []Member          `json:"ustas"`
	UpdatedAt    Millis            `json:"updatedAt,omitempty"`
}

// Identity is the client-local session identity. It is never part of the
// shared document.
type Identity struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

func Empty() Document {
	return Document{
		Tasks:        []Task{},
		DeletedTasks: []Task{},
		Requests:     []MaterialRequest{},
		Leaves:       []LeaveRequest{},
		Amirs:        []Member{},
		Ustas:        []Member{},
	}
}

// Normalize replaces nil collections with empty ones so the document always
// serializes with all six collections present.
func Normalize(doc Document) Document {
	if doc.Tasks == nil {
		doc.Tasks = []Task{}
	}
	if doc.DeletedTasks == nil {
		doc.DeletedTasks = []Task{}
	}
	if doc.Requests == nil {
		doc.Requests = []MaterialRequest{}
	}
	if doc.Leaves == nil {
		doc.Leaves = []LeaveRequest{}
	}
	if doc.Amirs == nil {
		doc.Amirs = []Member{}
	}
	if doc.Ustas == nil {
		doc.Ustas = []Member{}
	}
	return doc
}

// Clone returns a deep copy safe to mutate independently of doc.
func (doc Document) Clone() Document {
	out := Document{
		Tasks:        append([]Task{}, doc.Tasks...),
		DeletedTasks: append([]Task{}, doc.DeletedTasks...),
		Requests:     append([]MaterialRequest{}, doc.Requests...),
		Leaves:       append([]LeaveRequest{}, doc.Leaves...),
		Amirs:        cloneMembers(doc.Amirs),
		Ustas:        cloneMembers(doc.Ustas),
		UpdatedAt:    doc.UpdatedAt,
	}
	return out
}

func cloneMembers(in []Member) []Member {
	out := make([]Member, len(in))
	for i, m := range in {
		if m.Latitude != nil {
			lat := *m.Latitude
			m.Latitude = &lat
		}
		if m.Longitude != nil {
			lon := *m.Longitude
			m.Longitude = &lon
		}
		out[i] = m
	}
	return out
}

// Roster returns the member collection for role.
func (doc *Document) Roster(role Role) []Member {
	if role == RoleAmir {
		return doc.Amirs
	}
	return doc.Ustas
}

func (doc *Document) SetRoster(role Role, members []Member) {
	if role == RoleAmir {
		doc.Amirs = members
		return
	}
	doc.Ustas = members
}

func FindMember(members []Member, name string) int {
	for i := range members {
		if members[i].Name == name {
			return i
		}
	}
	return -1
}

func FindTask(tasks []Task, id ID) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (m Member) Online(now time.Time, window time.Duration) bool {
	return IsOnline(m, now, window)
}
