package task

// Task is a unit of work accepted by the queue manager. The engine never
// kills a running goroutine; long-running implementations are expected to
// poll the run context's cancellation signals and return early.
type Task interface {
	// Name identifies the kind of work. It becomes part of every command id
	// issued for this task.
	Name() string

	// Run executes the work. On success the returned value is formatted
	// into the command result message. Run should return ctx.Err() when it
	// exits early because the command was aborted.
	Run(ctx *Context) (any, error)
}

// AllowedChecker is an optional interface a Task may implement. The worker
// consults it immediately before execution; a non-nil error rejects the
// command with the error text as the result message, and the body never runs.
type AllowedChecker interface {
	Allowed() error
}

// funcTask adapts a plain function to the Task interface.
type funcTask struct {
	name string
	fn   func(ctx *Context) (any, error)
}

// Func wraps fn as a Task with the given name.
func Func(name string, fn func(ctx *Context) (any, error)) Task {
	return &funcTask{name: name, fn: fn}
}

func (t *funcTask) Name() string { return t.name }

func (t *funcTask) Run(ctx *Context) (any, error) { return t.fn(ctx) }
