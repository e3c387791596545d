package task

import (
	"errors"
	"fmt"
	"time"
)

// RegisterBuiltins installs the stock task types every deployment ships
// with: sleep, compute and fail.
func RegisterBuiltins(reg *Registry) {
	reg.Register("sleep", newSleepTask)
	reg.Register("compute", newComputeTask)
	reg.Register("fail", newFailTask)
}

const sleepSteps = 10

// newSleepTask builds a task that sleeps for duration_ms milliseconds
// (default 1000), reporting progress in ten steps and returning early when
// the command is aborted.
func newSleepTask(params map[string]any) (Task, error) {
	ms := 1000.0
	if v, ok := params["duration_ms"]; ok {
		f, isNum := v.(float64)
		if !isNum || f < 0 {
			return nil, fmt.Errorf("duration_ms must be a non-negative number, got %v", v)
		}
		ms = f
	}
	total := time.Duration(ms) * time.Millisecond

	return Func("sleep", func(ctx *Context) (any, error) {
		for i := 1; i <= sleepSteps; i++ {
			select {
			case <-time.After(total / sleepSteps):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			ctx.ReportProgress(i * 100 / sleepSteps)
		}
		return fmt.Sprintf("slept %s", total), nil
	}), nil
}

// newComputeTask builds a task that applies op ("add", "sub", "mul" or
// "div", default "add") to the numeric params a and b.
func newComputeTask(params map[string]any) (Task, error) {
	a, okA := params["a"].(float64)
	b, okB := params["b"].(float64)
	if !okA || !okB {
		return nil, errors.New("compute requires numeric a and b params")
	}
	op, _ := params["op"].(string)
	if op == "" {
		op = "add"
	}
	switch op {
	case "add", "sub", "mul", "div":
	default:
		return nil, fmt.Errorf("unknown op %q", op)
	}

	return Func("compute", func(*Context) (any, error) {
		switch op {
		case "add":
			return a + b, nil
		case "sub":
			return a - b, nil
		case "mul":
			return a * b, nil
		default:
			if b == 0 {
				return nil, errors.New("division by zero")
			}
			return a / b, nil
		}
	}), nil
}

// newFailTask builds a task that always fails with the message param
// (default "intentional failure"). It exists to exercise error paths.
func newFailTask(params map[string]any) (Task, error) {
	msg, _ := params["message"].(string)
	if msg == "" {
		msg = "intentional failure"
	}
	return Func("fail", func(*Context) (any, error) {
		return nil, errors.New(msg)
	}), nil
}
