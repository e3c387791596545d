package model

import "time"

// TaskStatus describes where a command is in its lifecycle.
type TaskStatus string

// Task status values. Staging covers the instant between id assignment and
// queue acceptance; completed, failed, aborted and rejected are terminal.
// NotFound is only ever reported by queries, never stored.
const (
	StatusStaging    TaskStatus = "staging"
	StatusQueued     TaskStatus = "queued"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusAborted    TaskStatus = "aborted"
	StatusRejected   TaskStatus = "rejected"
	StatusNotFound   TaskStatus = "not_found"
)

// Valid reports whether s is a member of the TaskStatus enumeration.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusStaging, StatusQueued, StatusInProgress, StatusCompleted,
		StatusFailed, StatusAborted, StatusRejected, StatusNotFound:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is a final status. A record in a terminal
// status is immutable until it is purged.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted, StatusRejected:
		return true
	default:
		return false
	}
}

// ResultCode describes the outcome of a command as communicated to callers
// and external observers.
type ResultCode string

// Result code values.
const (
	ResultOK       ResultCode = "ok"
	ResultStarted  ResultCode = "started"
	ResultQueued   ResultCode = "queued"
	ResultFailed   ResultCode = "failed"
	ResultRejected ResultCode = "rejected"
	ResultAborted  ResultCode = "aborted"
	ResultUnknown  ResultCode = "unknown"
)

// CommandResult is the (code, message) pair recorded when a command reaches
// a terminal status.
type CommandResult struct {
	Code    ResultCode `json:"result_code"`
	Message string     `json:"message"`
}

// validTransitions maps each status to the set of statuses it may transition
// to. Terminal statuses have no exits.
var validTransitions = map[TaskStatus]map[TaskStatus]bool{
	StatusStaging: {
		StatusQueued:   true,
		StatusRejected: true,
	},
	StatusQueued: {
		StatusInProgress: true,
		StatusAborted:    true,
		StatusRejected:   true,
		StatusFailed:     true,
	},
	StatusInProgress: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusAborted:   true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to TaskStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// CommandRecord tracks the lifecycle of a single issued command id. Records
// are owned by the tracker and mutated only through its update method; the
// executed task object itself is never retained.
type CommandRecord struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Status     TaskStatus     `json:"status"`
	Progress   *int           `json:"progress,omitempty"`
	Result     *CommandResult `json:"result,omitempty"`
	Err        error          `json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}
