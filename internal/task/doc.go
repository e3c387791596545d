// Package task defines the unit of work executed by the engine: the Task
// interface, the run Context through which a body reports progress and
// observes cooperative cancellation, and a registry of named task factories
// for hosts that accept work over the wire.
package task
