// Package svc implements the SVC trampoline mechanism: every intercepted
// guest symbol resolves to a short stub that traps into a registered Go
// handler, rather than to real machine code. Numbers run 1..0xFFFE;
// 0xFFF and 0xFFFF are reserved for the nested host->guest call protocol
// (see asm.go).
package svc

import (
	"sync"

	"github.com/zboralski/galago/internal/backend"
	"github.com/zboralski/galago/internal/memory"
)

// maxNumber is the highest ordinary (non-reserved) SVC number.
const maxNumber = 0xFFFE

// Context is what an SVC handler needs: register and memory access
// scoped to the CPU the dispatch is running on.
type Context struct {
	CPU backend.CPU
	Mem *memory.Manager
}

// X reads Xn, n in [0,30].
func (c *Context) X(n int) (uint64, error) {
	return c.CPU.RegRead(backend.Reg(int(backend.X0) + n))
}

// SetX writes Xn, n in [0,30].
func (c *Context) SetX(n int, v uint64) error {
	return c.CPU.RegWrite(backend.Reg(int(backend.X0)+n), v)
}

// Result is the two-case outcome of a handler: either it left return
// registers untouched, or it wrote X0. Modeled as a closed sum type
// rather than a sentinel "did it write" bool plus value pair, per the
// calling convention's own preference for explicit cases over sentinels.
type Result interface{ isResult() }

// NoWrite means the handler did not set a return value (e.g. a void
// function, or one that already wrote its result itself).
type NoWrite struct{}

// WriteX0 means the handler wants X0 set to Value before the trampoline
// returns to the guest caller.
type WriteX0 struct{ Value uint64 }

func (NoWrite) isResult() {}
func (WriteX0) isResult() {}

// HandlerFunc implements one SVC number's behavior.
type HandlerFunc func(ctx *Context) (Result, error)

// Entry is one registered SVC: its number, the symbolic name it was
// registered under (for trace/log output), and the trampoline address
// guest code actually branches to (zero for reserved protocol numbers
// that are never resolved as a symbol).
type Entry struct {
	Number  uint16
	Name    string
	Addr    uint64
	Handler HandlerFunc
}

// Registry owns SVC number allocation, trampoline emission into the
// reserved SVC arena, and dispatch from a trapped SVC instruction back
// to the registered Go handler.
type Registry struct {
	mu sync.Mutex

	cpu    backend.CPU
	asm    Assembler
	base   uint64
	size   uint64
	offset uint64

	next    uint16
	entries map[uint16]*Entry

	nestedCallAddr     uint64
	nestedCallAssembled bool
}

// NewRegistry creates a Registry that emits trampolines into the SVC
// arena described by layout. The arena itself must already be mapped
// executable (internal/memory.Manager.New does this as part of
// constructing a Manager for the same layout).
func NewRegistry(cpu backend.CPU, layout memory.Layout, asm Assembler) *Registry {
	if asm == nil {
		asm = NewBuiltinAssembler()
	}
	return &Registry{
		cpu:     cpu,
		asm:     asm,
		base:    layout.SVCBase,
		size:    layout.SVCSize,
		next:    1,
		entries: make(map[uint16]*Entry),
	}
}

// Register allocates the next free SVC number, writes its "svc #n; ret"
// trampoline into the arena, and binds it to h.
func (r *Registry) Register(name string, h HandlerFunc) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.next == RequestNextCallSVC || r.next == PostCallbackSyscallNumber {
		r.next++
	}
	if r.next > maxNumber {
		return nil, &SVCError{Number: r.next, Reason: "SVC number space exhausted"}
	}
	number := r.next
	r.next++

	stub := AssembleSimpleSVC(number)
	if r.offset+uint64(len(stub)) > r.size {
		return nil, &SVCError{Number: number, Reason: "SVC trampoline arena exhausted"}
	}
	addr := r.base + r.offset
	if err := r.cpu.MemWrite(addr, stub); err != nil {
		return nil, &SVCError{Number: number, Reason: "writing trampoline: " + err.Error()}
	}
	r.offset += uint64(len(stub))

	entry := &Entry{Number: number, Name: name, Addr: addr, Handler: h}
	r.entries[number] = entry
	return entry, nil
}

// RegisterReserved binds a handler to one of the two fixed protocol
// numbers (RequestNextCallSVC, PostCallbackSyscallNumber) used by the
// nested-call trampoline; no guest-resolvable trampoline is emitted
// since guest code never branches to these by symbol.
func (r *Registry) RegisterReserved(number uint16, name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[number] = &Entry{Number: number, Name: name, Handler: h}
}

// NestedCallAddr reserves space for, assembles, and returns the address
// of the shared 29-instruction nested-call trampoline used by
// sched.Caller.Call. The trampoline is a single shared routine; repeated
// calls return the same address without re-assembling it.
func (r *Registry) NestedCallAddr() (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nestedCallAssembled {
		return r.nestedCallAddr, nil
	}

	code, err := r.asm.Assemble(ShapeNestedCall, r.base+r.offset)
	if err != nil {
		return 0, err
	}
	if r.offset+uint64(len(code)) > r.size {
		return 0, &SVCError{Reason: "SVC trampoline arena exhausted assembling nested-call trampoline"}
	}
	addr := r.base + r.offset
	if err := r.cpu.MemWrite(addr, code); err != nil {
		return 0, &SVCError{Reason: "writing nested-call trampoline: " + err.Error()}
	}
	r.offset += uint64(len(code))
	r.nestedCallAddr = addr
	r.nestedCallAssembled = true
	return addr, nil
}

// NestedCallRetAddr returns the address of the trampoline's final `ret`
// instruction, used by sched.Caller.Call as the EmuStart "until" address so
// execution halts the instant the trampoline is about to return rather
// than continuing into whatever follows it in the arena.
func (r *Registry) NestedCallRetAddr() (uint64, error) {
	addr, err := r.NestedCallAddr()
	if err != nil {
		return 0, err
	}
	return addr + uint64(NestedCallTrampolineInsns-1)*4, nil
}

// Lookup returns the entry registered for number, if any.
func (r *Registry) Lookup(number uint16) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[number]
	return e, ok
}

// Dispatch runs the handler registered for number against ctx.
func (r *Registry) Dispatch(number uint16, ctx *Context) (Result, error) {
	entry, ok := r.Lookup(number)
	if !ok {
		return nil, &SVCError{Number: number, Reason: "no handler registered"}
	}
	return entry.Handler(ctx)
}
