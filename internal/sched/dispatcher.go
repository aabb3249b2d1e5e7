package sched

import (
	"github.com/zboralski/galago/internal/backend"
	"github.com/zboralski/galago/internal/log"
)

// DefaultQuantum is the number of guest instructions a task runs before
// the dispatcher preempts it in favor of the next runnable task. This
// system has exactly one host CPU core backing all guest tasks, so
// preemption is what makes "concurrent" guest threads make progress at
// all.
const DefaultQuantum = 10000

// Dispatcher is the cooperative, single-core task scheduler: it loads
// one Task's context into the CPU, runs it for at most one quantum
// (or until it blocks or a hook stops it early), saves its context back
// out, and picks the next runnable task.
type Dispatcher struct {
	cpu     backend.CPU
	quantum uint32
	log     *log.Logger

	tasks   []*Task
	current *Task

	tick  uint64
	count uint32
}

// NewDispatcher creates a Dispatcher bound to cpu. It installs a
// quantum-expiry code hook over the full address space; cpu must not
// already have a conflicting code hook doing its own EmuStop bookkeeping.
// logger receives one TaskSwitch event per context switch; pass
// log.NewNop() if scheduling tracing isn't wanted.
func NewDispatcher(cpu backend.CPU, quantum uint32, logger *log.Logger) (*Dispatcher, error) {
	if quantum == 0 {
		quantum = DefaultQuantum
	}
	d := &Dispatcher{cpu: cpu, quantum: quantum, log: logger}
	if err := cpu.AddCodeHook(0, ^uint64(0), d.onInstruction); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) onInstruction(addr uint64, size uint32) {
	d.count++
	if d.count >= d.quantum {
		d.cpu.EmuStop()
	}
}

// AddTask registers a task with the dispatcher.
func (d *Dispatcher) AddTask(t *Task) { d.tasks = append(d.tasks, t) }

// RemoveTask drops a task (it has exited).
func (d *Dispatcher) RemoveTask(t *Task) {
	for i, other := range d.tasks {
		if other == t {
			d.tasks = append(d.tasks[:i], d.tasks[i+1:]...)
			return
		}
	}
}

// Tasks returns the live task set.
func (d *Dispatcher) Tasks() []*Task { return d.tasks }

// CurrentTask returns the task whose context is presently loaded into
// the CPU, or nil outside of Run's dispatch loop (e.g. before the first
// task has been picked).
func (d *Dispatcher) CurrentTask() *Task { return d.current }

// ErrDeadlock is returned by Run when no task is runnable and none of
// the remaining waiters can ever become ready on their own (every
// waiter reported not-ready across a full scheduling pass with no
// forward progress possible from advancing the logical clock alone).
type ErrDeadlock struct{}

func (ErrDeadlock) Error() string { return "scheduler: no runnable task (deadlock)" }

// Run drives the scheduler until every task reaches StatusDead or no
// task can make progress. It returns the first EmuStart error from a
// task's quantum, if any task's run ended in a fault rather than a
// deliberate yield.
func (d *Dispatcher) Run() error {
	for {
		if len(d.tasks) == 0 {
			return nil
		}
		next := d.pickNext()
		if next == nil {
			if d.allDead() {
				return nil
			}
			if d.advanceTick() {
				continue
			}
			return ErrDeadlock{}
		}

		if d.current != nil && d.current != next {
			d.log.TaskSwitch(d.current.TID, next.TID)
		}
		d.current = next
		if err := next.RestoreContext(d.cpu); err != nil {
			return err
		}

		d.count = 0
		err := d.cpu.EmuStart(next.PC(), 0)

		if serr := next.SaveContext(d.cpu); serr != nil && err == nil {
			err = serr
		}
		if err != nil {
			return err
		}
	}
}

// pickNext scans tasks round-robin starting just after the last
// dispatched task, returning the first one CanDispatch accepts at the
// current tick.
func (d *Dispatcher) pickNext() *Task {
	n := len(d.tasks)
	start := 0
	if d.current != nil {
		for i, t := range d.tasks {
			if t == d.current {
				start = (i + 1) % n
				break
			}
		}
	}
	for i := 0; i < n; i++ {
		t := d.tasks[(start+i)%n]
		if t.CanDispatch(d.tick) {
			return t
		}
	}
	return nil
}

func (d *Dispatcher) allDead() bool {
	for _, t := range d.tasks {
		if t.Status() != StatusDead {
			return false
		}
	}
	return true
}

// advanceTick moves the logical clock forward one step, used to
// resolve timed waiters (FutexNanoSleep) when nothing is immediately
// runnable. It reports whether advancing could possibly unblock a task,
// so Run can distinguish "wait a bit longer" from genuine deadlock.
func (d *Dispatcher) advanceTick() bool {
	hasTimedWaiter := false
	for _, t := range d.tasks {
		if t.Status() == StatusWaiting {
			if _, ok := t.waiter.(FutexNanoSleep); ok {
				hasTimedWaiter = true
			}
		}
	}
	if !hasTimedWaiter {
		return false
	}
	d.tick++
	return true
}
