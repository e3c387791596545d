package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dmreiter/foreman/internal/model"
	"github.com/dmreiter/foreman/internal/task"
	"github.com/dmreiter/foreman/internal/tracker"
)

// Hooks are the change callbacks a host wires into the manager to mirror
// engine state into its own attribute or event system. Any field may be
// nil. Each hook fires exactly once per corresponding update, never batched
// and never dropped. Hook bodies must be quick and must not call back into
// the manager's mutating methods.
type Hooks struct {
	OnQueueChanged    func([]tracker.QueueEntry)
	OnStatusChanged   func([]tracker.StatusEntry)
	OnProgressChanged func([]tracker.ProgressEntry)
	OnResult          func(id string, res model.CommandResult)
	OnException       func(id string, err error)
}

// Options configures a manager.
type Options struct {
	// MaxQueueSize bounds the FIFO; 0 selects synchronous execution with no
	// worker goroutines.
	MaxQueueSize int
	// NumWorkers is the worker pool size, forced to at least 1 whenever
	// MaxQueueSize is positive.
	NumWorkers int
	// RemovalTime is how long finished command records are retained.
	RemovalTime time.Duration
	// MaxFinished caps the number of retained finished records, evicting
	// oldest-first; 0 means no cap beyond RemovalTime.
	MaxFinished int
}

// Manager is the facade external callers use: it wires the queue manager,
// the command tracker and the event broker together, maintains the
// aggregate snapshots hosts poll, and relays change callbacks.
type Manager struct {
	queue  *QueueManager
	trk    *tracker.Tracker
	broker *EventBroker
	hooks  Hooks
	logger *slog.Logger

	mu           sync.RWMutex
	queueSnap    []tracker.QueueEntry
	statusSnap   []tracker.StatusEntry
	progressSnap []tracker.ProgressEntry
	lastResultID string
	lastResult   model.CommandResult
	hasResult    bool
}

// NewManager creates the engine facade and starts its worker pool.
func NewManager(opts Options, hooks Hooks, logger *slog.Logger) *Manager {
	m := &Manager{
		broker: NewEventBroker(),
		hooks:  hooks,
		logger: logger,
	}
	m.trk = tracker.New(opts.RemovalTime, opts.MaxFinished, tracker.Callbacks{
		QueueChanged:    m.onQueueChanged,
		StatusChanged:   m.onStatusChanged,
		ProgressChanged: m.onProgressChanged,
		Result:          m.onResult,
		Exception:       m.onException,
		Event:           m.onEvent,
		Purged:          m.onPurged,
	})
	m.queue = NewQueueManager(opts.MaxQueueSize, opts.NumWorkers, m.trk, logger)
	return m
}

// Enqueue submits a task for execution. It returns the command id together
// with the admission status: queued on acceptance, rejected when the queue
// is full or stopping, or the final status in synchronous mode.
func (m *Manager) Enqueue(t task.Task) (string, model.TaskStatus) {
	return m.queue.Enqueue(t)
}

// AbortTasks drains all queued commands and cancels in-flight ones.
func (m *Manager) AbortTasks() {
	m.queue.Abort()
}

// StopTasks makes every worker exit after its current item. Not resumable.
func (m *Manager) StopTasks() {
	m.queue.Stop()
}

// ResumeTasks clears the aborting state so new work is accepted normally.
func (m *Manager) ResumeTasks() {
	m.queue.Resume()
}

// Shutdown aborts pending work, waits for the drain, then stops and joins
// the worker pool.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.queue.Shutdown(ctx)
}

// TaskState returns the lifecycle status for id. Unknown and purged ids
// report not_found; the query never fails.
func (m *Manager) TaskState(id string) model.TaskStatus {
	return m.trk.Status(id)
}

// Record returns a copy of the full command record for id.
func (m *Manager) Record(id string) (model.CommandRecord, bool) {
	return m.trk.Record(id)
}

// Records returns a copy of every retained command record, in submission
// order.
func (m *Manager) Records() []model.CommandRecord {
	return m.trk.Records()
}

// QueueDepth returns the number of commands currently waiting in the queue.
func (m *Manager) QueueDepth() int {
	return m.queue.Depth()
}

// Workers returns the size of the worker pool.
func (m *Manager) Workers() int {
	return m.queue.Workers()
}

// CommandsInQueue returns the latest queue snapshot: every command the
// engine currently holds, in submission order.
func (m *Manager) CommandsInQueue() []tracker.QueueEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.queueSnap)
}

// CommandStatuses returns the latest status snapshot over all retained
// commands.
func (m *Manager) CommandStatuses() []tracker.StatusEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.statusSnap)
}

// CommandProgresses returns the latest progress snapshot.
func (m *Manager) CommandProgresses() []tracker.ProgressEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.progressSnap)
}

// LatestResult returns the most recently recorded command result and the id
// it belongs to. ok is false until any command has produced a result.
func (m *Manager) LatestResult() (id string, res model.CommandResult, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastResultID, m.lastResult, m.hasResult
}

// Broker returns the manager's event broker for SSE subscription.
func (m *Manager) Broker() *EventBroker {
	return m.broker
}

// Stats holds aggregate engine statistics.
type Stats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	QueueDepth    int            `json:"queue_depth"`
	Workers       int            `json:"workers"`
}

// Stats summarizes the currently retained commands and pool occupancy.
func (m *Manager) Stats() Stats {
	statuses := m.trk.Statuses()
	st := Stats{
		Total:         len(statuses),
		CountByStatus: make(map[string]int),
		QueueDepth:    m.queue.Depth(),
		Workers:       m.queue.Workers(),
	}
	for _, e := range statuses {
		st.CountByStatus[string(e.Status)]++
	}
	return st
}

func (m *Manager) onQueueChanged(q []tracker.QueueEntry) {
	m.mu.Lock()
	m.queueSnap = q
	m.mu.Unlock()
	if m.hooks.OnQueueChanged != nil {
		m.hooks.OnQueueChanged(q)
	}
}

func (m *Manager) onStatusChanged(s []tracker.StatusEntry) {
	m.mu.Lock()
	m.statusSnap = s
	m.mu.Unlock()
	if m.hooks.OnStatusChanged != nil {
		m.hooks.OnStatusChanged(s)
	}
}

func (m *Manager) onProgressChanged(p []tracker.ProgressEntry) {
	m.mu.Lock()
	m.progressSnap = p
	m.mu.Unlock()
	if m.hooks.OnProgressChanged != nil {
		m.hooks.OnProgressChanged(p)
	}
}

func (m *Manager) onResult(id string, res model.CommandResult) {
	m.mu.Lock()
	m.lastResultID = id
	m.lastResult = res
	m.hasResult = true
	m.mu.Unlock()
	if m.hooks.OnResult != nil {
		m.hooks.OnResult(id, res)
	}
}

func (m *Manager) onException(id string, err error) {
	if m.hooks.OnException != nil {
		m.hooks.OnException(id, err)
	}
}

// onEvent relays every id-scoped change into the broker and closes the
// topic once the command reaches a terminal status, so SSE subscribers see
// a finished stream instead of waiting forever.
func (m *Manager) onEvent(ev tracker.Event) {
	m.broker.Publish(ev.ID, ev)
	if ev.Status != nil && ev.Status.Terminal() {
		m.broker.Close(ev.ID)
	}
}

// onPurged drops the broker topics of records that left the history, so
// closed-topic markers are bounded by the same retention policy as the
// tracker.
func (m *Manager) onPurged(ids []string) {
	for _, id := range ids {
		m.broker.Forget(id)
	}
}
