// Package queue implements the per-blueprint FIFO task queue: tasks for
// one blueprint run strictly one at a time, while blueprints run fully in
// parallel with each other. No goroutine is spawned eagerly — a drain
// loop is started lazily the moment a blueprint's FIFO becomes non-empty
// and exits the moment it drains, following the promise-resolver shape
// described for this kind of queue.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/planexec/executor/internal/pending"
)

// TaskFunc is the work a queued task performs once it is its turn to run.
type TaskFunc func(ctx context.Context) (any, error)

// Outcome is delivered to a task's completion handle once it finishes,
// fails, or is cancelled before it started.
type Outcome struct {
	Result    any
	Err       error
	Cancelled bool
}

// Handle lets an enqueuer await a task's outcome.
type Handle struct {
	done chan Outcome
}

// Wait blocks until the task completes or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case o := <-h.done:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Publisher is an optional sink for queue lifecycle notifications. A nil
// Publisher disables publishing; Manager never blocks on it.
type Publisher interface {
	Publish(subject string, payload any)
}

type queuedTask struct {
	kind     pending.TaskKind
	nodeID   string
	queuedAt time.Time
	fn       TaskFunc
	handle   *Handle
}

type blueprintFIFO struct {
	tasks    []*queuedTask
	draining bool
}

// Manager owns one FIFO per blueprint id.
type Manager struct {
	mu         sync.Mutex
	fifos      map[string]*blueprintFIFO
	registry   *pending.Registry
	publisher  Publisher
}

// NewManager creates an empty Manager. registry and publisher may be nil.
func NewManager(registry *pending.Registry, publisher Publisher) *Manager {
	return &Manager{
		fifos:     make(map[string]*blueprintFIFO),
		registry:  registry,
		publisher: publisher,
	}
}

func (m *Manager) publish(subject string, payload any) {
	if m.publisher != nil {
		m.publisher.Publish(subject, payload)
	}
}

// Enqueue appends a task to blueprintID's FIFO, creating it if absent,
// and kicks off a drain goroutine if one is not already running.
func (m *Manager) Enqueue(blueprintID string, kind pending.TaskKind, nodeID string, fn TaskFunc) *Handle {
	now := time.Now()
	h := &Handle{done: make(chan Outcome, 1)}
	qt := &queuedTask{kind: kind, nodeID: nodeID, queuedAt: now, fn: fn, handle: h}

	m.mu.Lock()
	f, ok := m.fifos[blueprintID]
	if !ok {
		f = &blueprintFIFO{}
		m.fifos[blueprintID] = f
	}
	f.tasks = append(f.tasks, qt)
	needsDrain := !f.draining
	if needsDrain {
		f.draining = true
	}
	m.mu.Unlock()

	if m.registry != nil {
		m.registry.Add(blueprintID, kind, nodeID, now)
	}
	m.publish("executor.queue."+blueprintID+".enqueued", qt)

	if needsDrain {
		go m.drain(blueprintID)
	}
	return h
}

// drain pops tasks one at a time until the FIFO is empty, then removes it
// and releases the draining flag. A task's failure never stops the loop.
func (m *Manager) drain(blueprintID string) {
	for {
		m.mu.Lock()
		f := m.fifos[blueprintID]
		if f == nil || len(f.tasks) == 0 {
			if f != nil {
				delete(m.fifos, blueprintID)
			}
			m.mu.Unlock()
			return
		}
		qt := f.tasks[0]
		f.tasks = f.tasks[1:]
		m.mu.Unlock()

		result, err := qt.fn(context.Background())

		if m.registry != nil {
			m.registry.Remove(blueprintID, qt.nodeID, qt.kind)
		}
		m.publish("executor.queue."+blueprintID+".completed", qt)

		qt.handle.done <- Outcome{Result: result, Err: err}
	}
}

// RemoveQueued cancels a not-yet-started task for nodeID on blueprintID.
// Its handle resolves with a cancelled outcome and no work runs. Returns
// false if no matching not-yet-started task exists.
func (m *Manager) RemoveQueued(blueprintID, nodeID string) bool {
	m.mu.Lock()
	f, ok := m.fifos[blueprintID]
	if !ok {
		m.mu.Unlock()
		return false
	}

	idx := -1
	for i, t := range f.tasks {
		if t.nodeID == nodeID {
			idx = i
			break
		}
	}
	if idx == -1 {
		m.mu.Unlock()
		return false
	}
	qt := f.tasks[idx]
	f.tasks = append(f.tasks[:idx], f.tasks[idx+1:]...)
	m.mu.Unlock()

	if m.registry != nil {
		m.registry.Remove(blueprintID, qt.nodeID, qt.kind)
	}
	qt.handle.done <- Outcome{Cancelled: true}
	return true
}

// Info describes one blueprint's queue state.
type Info struct {
	Running      bool
	Depth        int
	PendingTasks []pending.Entry
}

// GetQueueInfo reports whether blueprintID is draining and how deep its
// backlog is.
func (m *Manager) GetQueueInfo(blueprintID string) Info {
	m.mu.Lock()
	f, ok := m.fifos[blueprintID]
	var running bool
	var depth int
	if ok {
		running = f.draining
		depth = len(f.tasks)
	}
	m.mu.Unlock()

	var entries []pending.Entry
	if m.registry != nil {
		entries = m.registry.List(blueprintID)
	}
	return Info{Running: running, Depth: depth, PendingTasks: entries}
}

// GlobalEntry describes one active or pending task across all blueprints.
type GlobalEntry struct {
	BlueprintID string
	Running     bool
	Entry       pending.Entry
}

// GetGlobalQueueInfo returns a flat list of active and pending tasks
// across every blueprint with queue activity.
func (m *Manager) GetGlobalQueueInfo() []GlobalEntry {
	m.mu.Lock()
	runningSet := make(map[string]bool, len(m.fifos))
	for bpID, f := range m.fifos {
		runningSet[bpID] = f.draining
	}
	m.mu.Unlock()

	if m.registry == nil {
		out := make([]GlobalEntry, 0, len(runningSet))
		for bpID, running := range runningSet {
			out = append(out, GlobalEntry{BlueprintID: bpID, Running: running})
		}
		return out
	}

	var out []GlobalEntry
	for _, ge := range m.registry.All() {
		out = append(out, GlobalEntry{BlueprintID: ge.BlueprintID, Running: runningSet[ge.BlueprintID], Entry: ge.Entry})
	}
	return out
}
