package task

import "context"

// Context carries the identity and control surface of one command into the
// task body. The embedded context.Context is cancelled when the command is
// aborted, so bodies doing I/O can pass it straight down; bodies doing pure
// computation should poll Aborting at convenient points instead.
type Context struct {
	context.Context

	id       string
	progress func(int)
	aborting func() bool
	stopping func() bool
}

// NewContext builds a run context. Nil callbacks are replaced with no-ops so
// a task can be driven directly in tests.
func NewContext(ctx context.Context, id string, progress func(int), aborting, stopping func() bool) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if progress == nil {
		progress = func(int) {}
	}
	if aborting == nil {
		aborting = func() bool { return false }
	}
	if stopping == nil {
		stopping = func() bool { return false }
	}
	return &Context{
		Context:  ctx,
		id:       id,
		progress: progress,
		aborting: aborting,
		stopping: stopping,
	}
}

// ID returns the command id this run was issued under.
func (c *Context) ID() string { return c.id }

// ReportProgress records a progress value for the command. Values are
// forwarded to the engine's progress observers as they arrive.
func (c *Context) ReportProgress(pct int) { c.progress(pct) }

// Aborting reports whether an abort has been requested for the pool. Bodies
// seeing true should return promptly, typically with c.Err().
func (c *Context) Aborting() bool { return c.aborting() }

// Stopping reports whether the pool is stopping. Unlike abort, stop does not
// cancel the embedded context; an in-flight body may finish normally or wind
// down early when it sees this.
func (c *Context) Stopping() bool { return c.stopping() }
