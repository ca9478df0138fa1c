// Package notify decides which newly observed tasks deserve a local alert and
// delivers each alert at most once per process.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agentworkforce/fieldsync/internal/document"
	"github.com/agentworkforce/fieldsync/internal/metrics"
)

type Alert struct {
	TaskID   document.ID       `json:"taskId"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Assignee string            `json:"assignee"`
	Priority document.Priority `json:"priority"`
	// Urgent asks the presentation layer for sound and vibration.
	Urgent bool `json:"urgent"`
}

// Notifier delivers an alert to the presentation layer.
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

type NotifierFunc func(ctx context.Context, alert Alert)

func (f NotifierFunc) Notify(ctx context.Context, alert Alert) {
	f(ctx, alert)
}

type LogNotifier struct {
	Log *zap.SugaredLogger
}

func (n LogNotifier) Notify(_ context.Context, alert Alert) {
	if n.Log == nil {
		return
	}
	n.Log.Infow("task alert", "task_id", alert.TaskID, "assignee", alert.Assignee, "title", alert.Title, "priority", alert.Priority)
}

type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, alert Alert) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, alert)
		}
	}
}

// RelevancePolicy reports whether task concerns the viewer.
type RelevancePolicy func(viewer document.Identity, task document.Task) bool

// AssigneeOnly alerts a field worker for tasks assigned to them.
func AssigneeOnly(viewer document.Identity, task document.Task) bool {
	return viewer.Role == document.RoleUsta && task.MasterName == viewer.Name
}

// AssigneeOrSupervisor additionally alerts supervisors for every new task.
func AssigneeOrSupervisor(viewer document.Identity, task document.Task) bool {
	return viewer.Role == document.RoleAmir || AssigneeOnly(viewer, task)
}

// Deduplicator tracks task ids already presented to this session. The set
// only grows; the first observation seeds it without alerting.
type Deduplicator struct {
	mu       sync.Mutex
	known    map[document.ID]struct{}
	seeded   bool
	policy   RelevancePolicy
	notifier Notifier
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
}

type Option func(*Deduplicator)

func WithPolicy(policy RelevancePolicy) Option {
	return func(d *Deduplicator) {
		if policy != nil {
			d.policy = policy
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Deduplicator) { d.metrics = m }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(d *Deduplicator) {
		if log != nil {
			d.log = log
		}
	}
}

func NewDeduplicator(notifier Notifier, opts ...Option) *Deduplicator {
	d := &Deduplicator{
		known:    map[document.ID]struct{}{},
		policy:   AssigneeOnly,
		notifier: notifier,
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Observe records the ids in tasks and returns the alerts emitted for ids not
// seen before. viewer may be nil when no one is logged in; ids are still
// recorded so a later login does not alert for them.
func (d *Deduplicator) Observe(ctx context.Context, viewer *document.Identity, tasks []document.Task) []Alert {
	d.mu.Lock()
	if !d.seeded {
		for _, task := range tasks {
			d.known[task.ID] = struct{}{}
		}
		d.seeded = true
		d.mu.Unlock()
		d.log.Debugw("seeded known tasks", "count", len(tasks))
		return nil
	}

	var alerts []Alert
	for _, task := range tasks {
		if _, ok := d.known[task.ID]; ok {
			continue
		}
		d.known[task.ID] = struct{}{}
		if viewer == nil || viewer.Name == "" || !d.policy(*viewer, task) {
			continue
		}
		alerts = append(alerts, alertFor(task))
	}
	d.mu.Unlock()

	for _, alert := range alerts {
		d.metrics.Alert()
		if d.notifier != nil {
			d.notifier.Notify(ctx, alert)
		}
	}
	return alerts
}

// MarkKnown pre-seeds ids, used by a creator so it never alerts itself for
// its own task on the next poll.
func (d *Deduplicator) MarkKnown(ids ...document.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.known[id] = struct{}{}
	}
}

func (d *Deduplicator) Known(id document.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.known[id]
	return ok
}

func (d *Deduplicator) Seeded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seeded
}

// Reset forgets every id so the next observation seeds again. Used when the
// session switches to a different document.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.known = map[document.ID]struct{}{}
	d.seeded = false
}

func alertFor(task document.Task) Alert {
	title := "New task"
	if task.MachineName != "" {
		title = fmt.Sprintf("New task: %s", task.MachineName)
	}
	body := strings.TrimSpace(task.Description)
	if body == "" {
		body = fmt.Sprintf("Assigned to %s", task.MasterName)
	}
	return Alert{
		TaskID:   task.ID,
		Title:    title,
		Body:     body,
		Assignee: task.MasterName,
		Priority: task.Priority,
		Urgent:   task.Priority == document.PriorityHigh || task.Priority == document.PriorityCritical,
	}
}
