package sched

import "fmt"

// SchedulerError reports a failure inside the task scheduler: a task
// operation invoked in the wrong state, or a dispatch that could not be
// completed.
type SchedulerError struct {
	Op     string
	Reason string
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("sched: %s: %s", e.Op, e.Reason)
}

func schedErrorf(op, format string, args ...any) error {
	return &SchedulerError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
