// Package tracker implements the command ledger: it assigns command ids,
// records status, progress, result and exception per id, bounds the history
// of finished commands, and fires change-notification callbacks with full
// snapshots so observers never have to reconstruct state from deltas.
package tracker

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dmreiter/foreman/internal/model"
)

// ErrNotFound is returned when a command id was never issued or its record
// has been purged.
var ErrNotFound = errors.New("command not found")

// ErrInvalidStatus is returned when an update carries a status value outside
// the enumeration. Accepting one would corrupt lifecycle tracking, so the
// call fails instead.
var ErrInvalidStatus = errors.New("invalid status value")

// ErrInvalidTransition is returned when a status transition is not allowed,
// including any transition out of a terminal status.
var ErrInvalidTransition = errors.New("invalid status transition")

// QueueEntry is one element of the queue snapshot: a command the engine
// currently holds, in submission order.
type QueueEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StatusEntry is one element of the status snapshot.
type StatusEntry struct {
	ID     string           `json:"id"`
	Status model.TaskStatus `json:"status"`
}

// ProgressEntry is one element of the progress snapshot.
type ProgressEntry struct {
	ID       string `json:"id"`
	Progress int    `json:"progress"`
}

// Event is the id-scoped change notification. Only the fields that changed
// in the triggering mutation are set.
type Event struct {
	ID       string               `json:"id"`
	Status   *model.TaskStatus    `json:"status,omitempty"`
	Progress *int                 `json:"progress,omitempty"`
	Result   *model.CommandResult `json:"result,omitempty"`
	Err      error                `json:"-"`
}

// Callbacks are the change hooks a host wires into the tracker. Any field
// may be nil. Callbacks are invoked in mutation order, outside the state
// lock; they must not call back into tracker mutation methods. Purged fires
// last within a mutation, reporting the ids of records the mutation dropped
// from the history.
type Callbacks struct {
	QueueChanged    func([]QueueEntry)
	StatusChanged   func([]StatusEntry)
	ProgressChanged func([]ProgressEntry)
	Result          func(id string, res model.CommandResult)
	Exception       func(id string, err error)
	Event           func(Event)
	Purged          func(ids []string)
}

// CommandUpdate carries the fields to merge into a record. Only non-nil
// fields change; the rest of the record is left as is.
type CommandUpdate struct {
	Status   *model.TaskStatus
	Progress *int
	Result   *model.CommandResult
	Err      error
}

// Tracker is the in-memory command ledger. All methods are safe for
// concurrent use; reads never block behind callback dispatch.
type Tracker struct {
	removalTime time.Duration
	maxFinished int
	now         func() time.Time

	// cbMu serializes mutation+dispatch so observers see callbacks in
	// mutation order. mu alone guards the records map, letting reads
	// proceed while a callback is running.
	cbMu sync.Mutex
	mu   sync.RWMutex

	records map[string]*model.CommandRecord
	cbs     Callbacks
}

// New creates a tracker. Finished records are retained for removalTime and
// then purged on the next mutation; maxFinished caps how many finished
// records are retained at once, evicting oldest-first (0 means no cap).
func New(removalTime time.Duration, maxFinished int, cbs Callbacks) *Tracker {
	return &Tracker{
		removalTime: removalTime,
		maxFinished: maxFinished,
		now:         time.Now,
		records:     make(map[string]*model.CommandRecord),
		cbs:         cbs,
	}
}

// NewCommand allocates a command id for the named task, inserts a staging
// record and fires the queue, status and event callbacks with the updated
// snapshots.
func (t *Tracker) NewCommand(name string) string {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()

	t.mu.Lock()
	purged := t.purgeLocked()
	id := model.NewCommandID(name)
	t.records[id] = &model.CommandRecord{
		ID:        id,
		Name:      name,
		Status:    model.StatusStaging,
		CreatedAt: t.now(),
	}
	queue := t.queueSnapshotLocked()
	statuses := t.statusSnapshotLocked()
	t.mu.Unlock()

	if t.cbs.QueueChanged != nil {
		t.cbs.QueueChanged(queue)
	}
	if t.cbs.StatusChanged != nil {
		t.cbs.StatusChanged(statuses)
	}
	if t.cbs.Event != nil {
		st := model.StatusStaging
		t.cbs.Event(Event{ID: id, Status: &st})
	}
	if len(purged) > 0 && t.cbs.Purged != nil {
		t.cbs.Purged(purged)
	}
	return id
}

// Update merges u into the record for id and fires the granular callbacks
// for each field that changed, plus the id-scoped event callback.
//
// A status outside the enumeration fails with ErrInvalidStatus. A status
// transition out of a terminal record fails with ErrInvalidTransition.
// Progress, result or exception writes against an already-terminal record
// are dropped silently: the record is immutable, and a task body reporting
// progress after its command was aborted is a benign race, not an error.
func (t *Tracker) Update(id string, u CommandUpdate) error {
	if u.Status != nil && (!u.Status.Valid() || *u.Status == model.StatusNotFound) {
		return ErrInvalidStatus
	}

	t.cbMu.Lock()
	defer t.cbMu.Unlock()

	t.mu.Lock()
	rec, ok := t.records[id]
	if !ok || t.expiredLocked(rec) {
		t.mu.Unlock()
		return ErrNotFound
	}

	if rec.Status.Terminal() {
		t.mu.Unlock()
		if u.Status != nil {
			return ErrInvalidTransition
		}
		return nil
	}

	statusChanged := false
	leftQueue := false
	if u.Status != nil {
		if !model.ValidTransition(rec.Status, *u.Status) {
			t.mu.Unlock()
			return ErrInvalidTransition
		}
		rec.Status = *u.Status
		statusChanged = true
		if u.Status.Terminal() {
			ts := t.now()
			rec.FinishedAt = &ts
			leftQueue = true
		}
	}
	progressChanged := false
	if u.Progress != nil {
		p := *u.Progress
		rec.Progress = &p
		progressChanged = true
	}
	resultSet := false
	if u.Result != nil {
		r := *u.Result
		rec.Result = &r
		resultSet = true
	}
	errSet := false
	if u.Err != nil {
		rec.Err = u.Err
		errSet = true
	}

	purged := t.purgeLocked()

	var queue []QueueEntry
	var statuses []StatusEntry
	var progresses []ProgressEntry
	if leftQueue {
		queue = t.queueSnapshotLocked()
	}
	if statusChanged {
		statuses = t.statusSnapshotLocked()
	}
	if progressChanged {
		progresses = t.progressSnapshotLocked()
	}
	t.mu.Unlock()

	if leftQueue && t.cbs.QueueChanged != nil {
		t.cbs.QueueChanged(queue)
	}
	if statusChanged && t.cbs.StatusChanged != nil {
		t.cbs.StatusChanged(statuses)
	}
	if progressChanged && t.cbs.ProgressChanged != nil {
		t.cbs.ProgressChanged(progresses)
	}
	if resultSet && t.cbs.Result != nil {
		t.cbs.Result(id, *u.Result)
	}
	if errSet && t.cbs.Exception != nil {
		t.cbs.Exception(id, u.Err)
	}
	if t.cbs.Event != nil && (statusChanged || progressChanged || resultSet || errSet) {
		t.cbs.Event(Event{ID: id, Status: u.Status, Progress: u.Progress, Result: u.Result, Err: u.Err})
	}
	if len(purged) > 0 && t.cbs.Purged != nil {
		t.cbs.Purged(purged)
	}
	return nil
}

// Status returns the lifecycle status for id. Missing and purged ids report
// StatusNotFound; reads never fail.
func (t *Tracker) Status(id string) model.TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	if !ok || t.expiredLocked(rec) {
		return model.StatusNotFound
	}
	return rec.Status
}

// Progress returns the last reported progress for id. The second return is
// false when the id is unknown or no progress was ever reported.
func (t *Tracker) Progress(id string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	if !ok || t.expiredLocked(rec) || rec.Progress == nil {
		return 0, false
	}
	return *rec.Progress, true
}

// Result returns the recorded result for id. The second return is false
// when the id is unknown or the command has no result yet.
func (t *Tracker) Result(id string) (model.CommandResult, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	if !ok || t.expiredLocked(rec) || rec.Result == nil {
		return model.CommandResult{}, false
	}
	return *rec.Result, true
}

// Err returns the exception recorded for id, or nil.
func (t *Tracker) Err(id string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	if !ok || t.expiredLocked(rec) {
		return nil
	}
	return rec.Err
}

// Record returns a copy of the full record for id. The second return is
// false when the id is unknown or purged.
func (t *Tracker) Record(id string) (model.CommandRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	if !ok || t.expiredLocked(rec) {
		return model.CommandRecord{}, false
	}
	return cloneRecord(rec), true
}

// Records returns a copy of every retained command record, in submission
// order.
func (t *Tracker) Records() []model.CommandRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.CommandRecord, 0, len(t.records))
	for _, rec := range t.records {
		if t.expiredLocked(rec) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CommandsInQueue returns the commands the engine currently holds, in
// submission order.
func (t *Tracker) CommandsInQueue() []QueueEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.queueSnapshotLocked()
}

// Statuses returns the status of every retained command, in submission order.
func (t *Tracker) Statuses() []StatusEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.statusSnapshotLocked()
}

// Progresses returns the progress of every retained command that has
// reported any, in submission order.
func (t *Tracker) Progresses() []ProgressEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progressSnapshotLocked()
}

// queueSnapshotLocked lists non-terminal records. Command ids start with a
// ULID, so sorting by id yields submission order.
func (t *Tracker) queueSnapshotLocked() []QueueEntry {
	entries := make([]QueueEntry, 0, len(t.records))
	for _, rec := range t.records {
		if !rec.Status.Terminal() {
			entries = append(entries, QueueEntry{ID: rec.ID, Name: rec.Name})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

func (t *Tracker) statusSnapshotLocked() []StatusEntry {
	entries := make([]StatusEntry, 0, len(t.records))
	for _, rec := range t.records {
		if t.expiredLocked(rec) {
			continue
		}
		entries = append(entries, StatusEntry{ID: rec.ID, Status: rec.Status})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

func (t *Tracker) progressSnapshotLocked() []ProgressEntry {
	entries := make([]ProgressEntry, 0, len(t.records))
	for _, rec := range t.records {
		if t.expiredLocked(rec) || rec.Progress == nil {
			continue
		}
		entries = append(entries, ProgressEntry{ID: rec.ID, Progress: *rec.Progress})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// expiredLocked reports whether rec is past its retention window. Expired
// records read as not found even before the next mutation purges them.
func (t *Tracker) expiredLocked(rec *model.CommandRecord) bool {
	return rec.Status.Terminal() && rec.FinishedAt != nil &&
		t.now().Sub(*rec.FinishedAt) >= t.removalTime
}

// purgeLocked drops finished records past the retention window, then
// enforces the finished-history cap by evicting oldest-finished first. It
// returns the dropped ids so the caller can dispatch the Purged callback
// after releasing the state lock.
func (t *Tracker) purgeLocked() []string {
	var purged []string
	for id, rec := range t.records {
		if t.expiredLocked(rec) {
			delete(t.records, id)
			purged = append(purged, id)
		}
	}

	if t.maxFinished <= 0 {
		return purged
	}
	finished := make([]*model.CommandRecord, 0, len(t.records))
	for _, rec := range t.records {
		if rec.Status.Terminal() {
			finished = append(finished, rec)
		}
	}
	if len(finished) <= t.maxFinished {
		return purged
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].FinishedAt.Before(*finished[j].FinishedAt)
	})
	for _, rec := range finished[:len(finished)-t.maxFinished] {
		delete(t.records, rec.ID)
		purged = append(purged, rec.ID)
	}
	return purged
}

func cloneRecord(rec *model.CommandRecord) model.CommandRecord {
	out := *rec
	if rec.Progress != nil {
		p := *rec.Progress
		out.Progress = &p
	}
	if rec.Result != nil {
		r := *rec.Result
		out.Result = &r
	}
	if rec.FinishedAt != nil {
		ts := *rec.FinishedAt
		out.FinishedAt = &ts
	}
	return out
}
