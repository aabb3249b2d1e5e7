package sched

import (
	"github.com/zboralski/galago/internal/backend"
	"github.com/zboralski/galago/internal/memory"
	"github.com/zboralski/galago/internal/svc"
)

// savedRegs snapshots every integer register Caller.Call must restore
// after a nested call, so a host-injected call is invisible to whatever
// guest context (if any) was interrupted to make it.
type savedRegs struct {
	x    [31]uint64
	sp   uint64
	pc   uint64
	nzcv uint64
}

// Caller drives nested host->guest calls through the shared 29-
// instruction trampoline (see internal/svc's asm.go): the callee's
// return address is set to the trampoline, which asks the host via
// `svc #RequestNextCallSVC` whether another call should run before
// unwinding, then signals completion via
// `svc #PostCallbackSyscallNumber`. A plain one-shot Call
// answers "no more calls" on the first request, but the same mechanism
// lets a hook listener queue a follow-on call from inside that handler,
// which is how a native method calling back into another native method
// is expressed without a second top-level EmuStart.
type Caller struct {
	cpu backend.CPU
	mem *memory.Manager
	reg *svc.Registry

	pending []pendingCall
}

type pendingCall struct {
	target uint64
	argc   uint64
	regs   [8]uint64
}

// NewCaller installs the reserved SVC handlers the nested-call
// trampoline depends on and returns a ready Caller. Call it once per
// Registry; installing the reserved handlers twice is harmless but
// wasteful.
func NewCaller(cpu backend.CPU, mem *memory.Manager, reg *svc.Registry) *Caller {
	c := &Caller{cpu: cpu, mem: mem, reg: reg}
	reg.RegisterReserved(svc.RequestNextCallSVC, "sched_request_next_call", c.handleRequestNextCall)
	reg.RegisterReserved(svc.PostCallbackSyscallNumber, "sched_post_callback", c.handlePostCallback)
	return c
}

func (c *Caller) handleRequestNextCall(ctx *svc.Context) (svc.Result, error) {
	if len(c.pending) == 0 {
		if err := ctx.SetX(19, 0); err != nil {
			return nil, err
		}
		return svc.NoWrite{}, nil
	}
	next := c.pending[0]
	c.pending = c.pending[1:]
	if err := ctx.SetX(19, next.target); err != nil {
		return nil, err
	}
	if err := ctx.SetX(20, next.argc); err != nil {
		return nil, err
	}
	for i, v := range next.regs {
		if err := ctx.SetX(i, v); err != nil {
			return nil, err
		}
	}
	return svc.NoWrite{}, nil
}

func (c *Caller) handlePostCallback(ctx *svc.Context) (svc.Result, error) {
	return svc.NoWrite{}, nil
}

// QueueCall schedules target to run immediately after the call
// currently in flight returns, before the trampoline unwinds to the
// host. Meant to be used from inside a hook listener or SVC handler
// that itself needs to invoke guest code as a consequence of the call
// it's handling.
func (c *Caller) QueueCall(target uint64, args []Arg) {
	var regs [8]uint64
	// Stack-resident args (ArgString/ArgBytes) can't be marshaled here
	// without a stack pointer; queued calls are restricted to register-
	// only arguments (ArgInt/ArgPtr), and any other kind is passed as 0.
	for i, a := range args {
		if i >= 8 {
			break
		}
		switch v := a.(type) {
		case ArgInt:
			regs[i] = uint64(v)
		case ArgPtr:
			regs[i] = uint64(v)
		}
	}
	c.pending = append(c.pending, pendingCall{target: target, argc: uint64(len(args)), regs: regs})
}

// Call invokes target(args...) on the guest CPU and returns X0. It
// saves and restores every register around the call, so it is safe to
// use both as a top-level call (CallSymbol) and reentrantly from inside
// an SVC handler that is itself running as a result of a previous Call.
func (c *Caller) Call(target uint64, args []Arg) (uint64, error) {
	saved, err := c.saveRegs()
	if err != nil {
		return 0, err
	}
	defer c.restoreRegs(saved)

	trampoline, err := c.reg.NestedCallAddr()
	if err != nil {
		return 0, err
	}
	untilAddr, err := c.reg.NestedCallRetAddr()
	if err != nil {
		return 0, err
	}

	sp := saved.sp
	newSP, regs, extra := marshal(c.mem, sp, args)
	for _, v := range extra {
		var err error
		newSP, _, err = c.mem.WriteStackBytes(newSP, u64le(v))
		if err != nil {
			return 0, err
		}
	}
	newSP &^= 0xF

	if err := c.cpu.RegWrite(backend.SP, newSP); err != nil {
		return 0, err
	}
	if err := c.cpu.RegWrite(backend.X30, trampoline); err != nil {
		return 0, err
	}
	for i, v := range regs {
		if err := c.cpu.RegWrite(backend.Reg(int(backend.X0)+i), v); err != nil {
			return 0, err
		}
	}

	if err := c.cpu.EmuStart(target, untilAddr); err != nil {
		return 0, err
	}

	return c.cpu.RegRead(backend.X0)
}

func u64le(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func (c *Caller) saveRegs() (savedRegs, error) {
	var s savedRegs
	for i := 0; i < 31; i++ {
		v, err := c.cpu.RegRead(backend.Reg(i))
		if err != nil {
			return s, err
		}
		s.x[i] = v
	}
	var err error
	if s.sp, err = c.cpu.RegRead(backend.SP); err != nil {
		return s, err
	}
	if s.pc, err = c.cpu.RegRead(backend.PC); err != nil {
		return s, err
	}
	if s.nzcv, err = c.cpu.RegRead(backend.NZCV); err != nil {
		return s, err
	}
	return s, nil
}

func (c *Caller) restoreRegs(s savedRegs) {
	for i := 0; i < 31; i++ {
		c.cpu.RegWrite(backend.Reg(i), s.x[i])
	}
	c.cpu.RegWrite(backend.SP, s.sp)
	c.cpu.RegWrite(backend.PC, s.pc)
	c.cpu.RegWrite(backend.NZCV, s.nzcv)
}
