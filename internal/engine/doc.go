// Package engine implements the asynchronous execution core: a bounded FIFO
// queue serviced by a fixed worker pool with cooperative abort and graceful
// stop, the manager facade hosts submit work through, and the broker that
// streams per-command events to subscribers.
package engine
