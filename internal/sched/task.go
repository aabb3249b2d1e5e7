package sched

import "github.com/zboralski/galago/internal/backend"

// Status is a task's scheduling state.
type Status int

const (
	StatusRunnable Status = iota
	StatusWaiting
	StatusCovered // interrupted by a signal-delivery task layered on top
	StatusDead
)

// FunctionCall is one entry on a task's pending-call stack: a guest
// function the dispatcher must invoke on this task's behalf (signal
// handler invocation, a queued nested call) before resuming its normal
// instruction stream.
type FunctionCall struct {
	Target uint64
	Args   []Arg
}

// Task is one cooperatively scheduled guest thread of execution. Only
// one Task's context is ever loaded into the CPU at a time; the
// dispatcher swaps contexts between EmuStart runs.
type Task struct {
	TID    int32
	status Status
	waiter Waiter

	regs regSnapshot
	tls  uint64 // TPIDR_EL0 value for this task

	pending []FunctionCall

	// Covered is set when this task's status is StatusCovered: it names
	// the task now running "on top of" it (typically a signal-handler
	// invocation), which must reach StatusDead before this task can
	// resume.
	Covered *Task
}

type regSnapshot struct {
	x    [31]uint64
	sp   uint64
	pc   uint64
	nzcv uint64
}

// NewTask creates a task with the given initial PC/SP; it starts
// runnable.
func NewTask(tid int32, pc, sp uint64) *Task {
	t := &Task{TID: tid, status: StatusRunnable}
	t.regs.pc = pc
	t.regs.sp = sp
	return t
}

func (t *Task) Status() Status        { return t.status }
func (t *Task) SetStatus(s Status)    { t.status = s }
func (t *Task) SetWaiter(w Waiter)    { t.waiter = w; t.status = StatusWaiting }
func (t *Task) TLS() uint64           { return t.tls }
func (t *Task) SetTLS(v uint64)       { t.tls = v }

// CanDispatch reports whether the task may be selected to run this
// tick: it must be runnable, or waiting with a Waiter that now reports
// ready.
func (t *Task) CanDispatch(now uint64) bool {
	switch t.status {
	case StatusRunnable:
		return true
	case StatusWaiting:
		return t.waiter != nil && t.waiter.Ready(now)
	default:
		return false
	}
}

// PushFunction queues a guest call to run before the task's normal
// instruction stream resumes (used for signal-handler invocation).
func (t *Task) PushFunction(call FunctionCall) {
	t.pending = append(t.pending, call)
}

// PopFunction removes and returns the next queued call, if any.
func (t *Task) PopFunction() (FunctionCall, bool) {
	if len(t.pending) == 0 {
		return FunctionCall{}, false
	}
	call := t.pending[0]
	t.pending = t.pending[1:]
	return call, true
}

// SaveContext snapshots cpu's integer registers into the task.
func (t *Task) SaveContext(cpu backend.CPU) error {
	for i := 0; i < 31; i++ {
		v, err := cpu.RegRead(backend.Reg(i))
		if err != nil {
			return err
		}
		t.regs.x[i] = v
	}
	var err error
	if t.regs.sp, err = cpu.RegRead(backend.SP); err != nil {
		return err
	}
	if t.regs.pc, err = cpu.RegRead(backend.PC); err != nil {
		return err
	}
	if t.regs.nzcv, err = cpu.RegRead(backend.NZCV); err != nil {
		return err
	}
	return cpu.RegWrite(backend.TPIDR_EL0, t.tls)
}

// RestoreContext loads the task's saved registers into cpu so it can
// resume exactly where it left off.
func (t *Task) RestoreContext(cpu backend.CPU) error {
	for i := 0; i < 31; i++ {
		if err := cpu.RegWrite(backend.Reg(i), t.regs.x[i]); err != nil {
			return err
		}
	}
	if err := cpu.RegWrite(backend.SP, t.regs.sp); err != nil {
		return err
	}
	if err := cpu.RegWrite(backend.PC, t.regs.pc); err != nil {
		return err
	}
	if err := cpu.RegWrite(backend.NZCV, t.regs.nzcv); err != nil {
		return err
	}
	return cpu.RegWrite(backend.TPIDR_EL0, t.tls)
}

// PC returns the task's saved program counter (valid when the task is
// not the one currently loaded into the CPU).
func (t *Task) PC() uint64 { return t.regs.pc }
