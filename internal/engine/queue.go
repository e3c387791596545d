package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmreiter/foreman/internal/model"
	"github.com/dmreiter/foreman/internal/task"
	"github.com/dmreiter/foreman/internal/tracker"
)

// queuedTask pairs a command id with the task to run and its admission time.
type queuedTask struct {
	id         string
	task       task.Task
	enqueuedAt time.Time
}

// QueueManager owns the bounded FIFO queue and the fixed pool of workers
// that service it. Every outcome is reported into the tracker; a caller is
// never blocked on task execution, only briefly on admission bookkeeping.
type QueueManager struct {
	maxQueueSize int
	numWorkers   int

	trk    *tracker.Tracker
	logger *slog.Logger

	tasks    chan *queuedTask
	queued   atomic.Int64
	aborting *signal
	stopping *signal
	wg       sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc
}

// NewQueueManager creates a queue manager and starts its workers. A
// maxQueueSize of 0 means no workers exist and Enqueue executes the task
// synchronously in the caller's goroutine, producing an identical status and
// result sequence so callers cannot tell the two modes apart from observed
// state.
func NewQueueManager(maxQueueSize, numWorkers int, trk *tracker.Tracker, logger *slog.Logger) *QueueManager {
	if maxQueueSize < 0 {
		maxQueueSize = 0
	}
	switch {
	case maxQueueSize == 0:
		numWorkers = 0
	case numWorkers <= 0:
		numWorkers = 1
	}

	qm := &QueueManager{
		maxQueueSize: maxQueueSize,
		numWorkers:   numWorkers,
		trk:          trk,
		logger:       logger,
		tasks:        make(chan *queuedTask, maxQueueSize),
		aborting:     newSignal(),
		stopping:     newSignal(),
		inflight:     make(map[string]context.CancelFunc),
	}
	for i := 0; i < numWorkers; i++ {
		qm.wg.Go(func() {
			qm.worker(i)
		})
	}
	return qm
}

// Enqueue admits t into the queue. It never blocks on execution: when the
// queue is at capacity the command is immediately rejected with result
// (rejected, "Queue is full") and the body never runs.
func (qm *QueueManager) Enqueue(t task.Task) (string, model.TaskStatus) {
	id := qm.trk.NewCommand(t.Name())

	if qm.stopping.IsSet() {
		qm.finishRejected(id, "Queue is stopping")
		return id, model.StatusRejected
	}

	if qm.maxQueueSize == 0 {
		return id, qm.runInline(id, t)
	}

	// Reserve a queue slot before recording QUEUED so that the send below
	// can never block and a worker can never observe the command before the
	// queued status lands.
	for {
		n := qm.queued.Load()
		if n >= int64(qm.maxQueueSize) {
			qm.finishRejected(id, "Queue is full")
			return id, model.StatusRejected
		}
		if qm.queued.CompareAndSwap(n, n+1) {
			break
		}
	}

	// Re-check after the reservation: a stop can land between the first
	// check and the slot claim. A clear flag here means the claim happened
	// before the stop, so a teardown sweep running after the workers exit is
	// guaranteed to observe the reservation and reap the deposit.
	if qm.stopping.IsSet() {
		qm.queued.Add(-1)
		qm.finishRejected(id, "Queue is stopping")
		return id, model.StatusRejected
	}
	queueDepth.Inc()

	qm.recordStatus(id, model.StatusQueued)
	qm.tasks <- &queuedTask{id: id, task: t, enqueuedAt: time.Now()}
	return id, model.StatusQueued
}

// runInline executes t synchronously for the zero-capacity mode. The status
// sequence matches the worker path: queued, then either aborted without
// running or the execution outcome.
func (qm *QueueManager) runInline(id string, t task.Task) model.TaskStatus {
	qm.recordStatus(id, model.StatusQueued)
	qm.execute(&queuedTask{id: id, task: t, enqueuedAt: time.Now()})
	return qm.trk.Status(id)
}

// worker is the loop each pool goroutine runs. An aborting pool is drained
// by whichever worker observes the flag first, which then clears it; the
// channel serializes concurrent pops, so a second drainer just finds the
// queue already empty.
func (qm *QueueManager) worker(n int) {
	qm.logger.Debug("worker started", "worker", n)
	defer qm.logger.Debug("worker exited", "worker", n)

	for {
		if qm.stopping.IsSet() {
			return
		}
		if qm.aborting.IsSet() {
			qm.drain()
			qm.aborting.Clear()
			continue
		}

		select {
		case <-qm.stopping.Wait():
			return
		case <-qm.aborting.Wait():
			// loop back to drain
		case qt := <-qm.tasks:
			qm.queued.Add(-1)
			queueDepth.Dec()
			queueWaitDuration.Observe(time.Since(qt.enqueuedAt).Seconds())
			qm.execute(qt)
		}
	}
}

// drain empties the pending queue, marking every drained command aborted
// without its body ever running.
func (qm *QueueManager) drain() {
	for {
		select {
		case qt := <-qm.tasks:
			qm.queued.Add(-1)
			queueDepth.Dec()
			qm.finishAborted(qt.id)
		default:
			return
		}
	}
}

// execute runs one command through its lifecycle. The admission hook runs
// before the in_progress transition: a refusal rejects the command, a
// panicking hook fails it, and in both cases the body never runs. Body
// panics are caught so one task's failure never takes down the worker.
func (qm *QueueManager) execute(qt *queuedTask) {
	if qm.aborting.IsSet() {
		qm.finishAborted(qt.id)
		return
	}

	if refused, failed := checkAllowed(qt.task); failed != nil {
		qm.finishFailed(qt.id, failed)
		return
	} else if refused != nil {
		qm.finishRejected(qt.id, refused.Error())
		return
	}

	qm.recordStatus(qt.id, model.StatusInProgress)
	tasksInProgress.Inc()
	defer tasksInProgress.Dec()

	runCtx, cancel := context.WithCancel(context.Background())
	qm.inflightMu.Lock()
	qm.inflight[qt.id] = cancel
	qm.inflightMu.Unlock()
	defer func() {
		qm.inflightMu.Lock()
		delete(qm.inflight, qt.id)
		qm.inflightMu.Unlock()
		cancel()
	}()

	tctx := task.NewContext(runCtx, qt.id,
		func(pct int) { qm.reportProgress(qt.id, pct) },
		func() bool { return runCtx.Err() != nil || qm.aborting.IsSet() },
		qm.stopping.IsSet,
	)

	start := time.Now()
	value, err := runBody(qt.task, tctx)
	taskDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		qm.finishCompleted(qt.id, value)
	case runCtx.Err() != nil:
		// The body returned an error after its context was cancelled.
		// Cooperative cancellation is a normal outcome, not a failure.
		qm.finishAborted(qt.id)
	default:
		qm.finishFailed(qt.id, err)
	}
}

// runBody invokes the task body, converting a panic into an error that
// carries the stack.
func runBody(t task.Task, ctx *task.Context) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v\n%s", r, debug.Stack())
		}
	}()
	return t.Run(ctx)
}

// checkAllowed runs the task's admission hook when it has one. A refusal
// comes back in refused; a panicking hook comes back in failed.
func checkAllowed(t task.Task) (refused, failed error) {
	checker, ok := t.(task.AllowedChecker)
	if !ok {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			failed = fmt.Errorf("allowance check panicked: %v", r)
		}
	}()
	return checker.Allowed(), nil
}

// Abort flips the pool into its aborting state: queued commands will be
// drained and marked aborted by the next worker through its loop, and every
// in-flight task context is cancelled. A running body is expected to observe
// the cancellation and return promptly; the engine never kills a goroutine.
func (qm *QueueManager) Abort() {
	qm.aborting.Set()

	qm.inflightMu.Lock()
	defer qm.inflightMu.Unlock()
	for _, cancel := range qm.inflight {
		cancel()
	}
}

// Stop makes every worker exit its loop after finishing its current item.
// In-flight bodies run to completion unless they also observe the abort
// signal. Stop is not resumable; a stopped pool rejects all new work.
func (qm *QueueManager) Stop() {
	qm.stopping.Set()
}

// Resume clears the aborting state so subsequently enqueued work is accepted
// normally again. Workers clear the flag themselves after draining; Resume
// covers the synchronous mode and an abort no worker ever observed.
func (qm *QueueManager) Resume() {
	qm.aborting.Clear()
}

// Shutdown aborts pending work, waits for the drain to be observed, then
// stops the pool and joins the workers. Deposits from Enqueue calls racing
// the stop are reaped after the join, so no command is left silently
// pending. ctx bounds the whole wait.
func (qm *QueueManager) Shutdown(ctx context.Context) error {
	qm.Abort()

	if qm.numWorkers == 0 || qm.stopping.IsSet() {
		// No worker is going to observe the abort; drain here.
		qm.drain()
		qm.aborting.Clear()
	} else {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for qm.aborting.IsSet() {
			select {
			case <-ctx.Done():
				qm.Stop()
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}

	qm.Stop()

	done := make(chan struct{})
	go func() {
		qm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// The workers are gone, but an Enqueue that claimed its slot before the
	// stop may still deposit into the channel. The queued counter settles to
	// zero once every claimed slot has either sent or been released, so wait
	// it out and abort whatever arrives.
	for qm.queued.Load() > 0 {
		select {
		case qt := <-qm.tasks:
			qm.queued.Add(-1)
			queueDepth.Dec()
			qm.finishAborted(qt.id)
		case <-time.After(5 * time.Millisecond):
			// A released reservation leaves no deposit; re-check the counter.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Depth returns the number of commands currently waiting in the queue.
func (qm *QueueManager) Depth() int {
	return int(qm.queued.Load())
}

// Workers returns the size of the worker pool.
func (qm *QueueManager) Workers() int {
	return qm.numWorkers
}

func (qm *QueueManager) recordStatus(id string, st model.TaskStatus) {
	if err := qm.trk.Update(id, tracker.CommandUpdate{Status: &st}); err != nil {
		qm.logger.Error("failed to record status", "command_id", id, "status", st, "error", err)
	}
}

func (qm *QueueManager) finishCompleted(id string, value any) {
	msg := ""
	if value != nil {
		msg = fmt.Sprint(value)
	}
	st := model.StatusCompleted
	res := model.CommandResult{Code: model.ResultOK, Message: msg}
	if err := qm.trk.Update(id, tracker.CommandUpdate{Status: &st, Result: &res}); err != nil {
		qm.logger.Error("failed to record completion", "command_id", id, "error", err)
	}
	tasksTotal.WithLabelValues(string(model.StatusCompleted)).Inc()
}

func (qm *QueueManager) finishFailed(id string, taskErr error) {
	st := model.StatusFailed
	res := model.CommandResult{Code: model.ResultFailed, Message: "Error: " + taskErr.Error()}
	if err := qm.trk.Update(id, tracker.CommandUpdate{Status: &st, Result: &res, Err: taskErr}); err != nil {
		qm.logger.Error("failed to record failure", "command_id", id, "error", err)
	}
	tasksTotal.WithLabelValues(string(model.StatusFailed)).Inc()
}

func (qm *QueueManager) finishAborted(id string) {
	st := model.StatusAborted
	res := model.CommandResult{Code: model.ResultAborted, Message: id + " Aborted"}
	if err := qm.trk.Update(id, tracker.CommandUpdate{Status: &st, Result: &res}); err != nil {
		qm.logger.Error("failed to record abort", "command_id", id, "error", err)
	}
	tasksTotal.WithLabelValues(string(model.StatusAborted)).Inc()
}

func (qm *QueueManager) finishRejected(id, reason string) {
	st := model.StatusRejected
	res := model.CommandResult{Code: model.ResultRejected, Message: reason}
	if err := qm.trk.Update(id, tracker.CommandUpdate{Status: &st, Result: &res}); err != nil {
		qm.logger.Error("failed to record rejection", "command_id", id, "error", err)
	}
	tasksTotal.WithLabelValues(string(model.StatusRejected)).Inc()
}

func (qm *QueueManager) reportProgress(id string, pct int) {
	p := pct
	if err := qm.trk.Update(id, tracker.CommandUpdate{Progress: &p}); err != nil {
		qm.logger.Debug("progress report dropped", "command_id", id, "error", err)
	}
}
