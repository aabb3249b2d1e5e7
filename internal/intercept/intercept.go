// Package intercept implements the guest-resolvable symbol tables for
// libc, libdl/android, and pthread: every exported name a loaded module
// imports but never defines gets an SVC trampoline here instead of real
// machine code, installed as a linker.HookListener. This supersedes the
// old per-package stub tree (internal/stubs/*) with a single boot-time,
// unconditional install rather than a symbol-sniffing detector model.
package intercept

import (
	"github.com/zboralski/galago/internal/backend"
	"github.com/zboralski/galago/internal/log"
	"github.com/zboralski/galago/internal/memory"
	"github.com/zboralski/galago/internal/sched"
	"github.com/zboralski/galago/internal/svc"
)

// Host is the shared plumbing every group of intercepts needs: register
// trampolines, read/write guest memory, bump-allocate heap space, and
// run nested calls back into guest code.
type Host struct {
	cpu      backend.CPU
	mem      *memory.Manager
	reg      *svc.Registry
	caller   *sched.Caller
	log      *log.Logger
	alloc    *Allocator
	resolver func(name string) (uint64, bool)

	errnoAddr uint64
}

// ErrnoAddr lazily carves out the one word of guest memory
// `__errno_location` hands back to every libc caller, and that the
// façade's SetErrno writes through to model a task's errno TLS slot.
func (h *Host) ErrnoAddr() uint64 {
	if h.errnoAddr == 0 {
		h.errnoAddr = h.alloc.Malloc(8)
	}
	return h.errnoAddr
}

// SetResolver installs the whole-process symbol lookup (normally
// Linker.ResolveAny) used to answer dlsym
// against every loaded module and intercept table, not just this one.
// Called once by the façade after every intercept group and the
// linker have been constructed, breaking what would otherwise be a
// construction-order cycle between the linker's hook-listener chain
// and dlsym's need to search that same chain.
func (h *Host) SetResolver(fn func(name string) (uint64, bool)) { h.resolver = fn }

func (h *Host) resolve(name string) (uint64, bool) {
	if h.resolver == nil {
		return 0, false
	}
	return h.resolver(name)
}

// NewHost creates a Host bound to the emulator's core collaborators.
func NewHost(cpu backend.CPU, mem *memory.Manager, reg *svc.Registry, caller *sched.Caller, logger *log.Logger) *Host {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Host{cpu: cpu, mem: mem, reg: reg, caller: caller, log: logger, alloc: newAllocator(mem)}
}

// Table is a resolved name->trampoline-address symbol table; it
// implements linker.HookListener directly.
type Table map[string]uint64

func (t Table) ResolveSymbol(name string) (uint64, bool) {
	addr, ok := t[name]
	return addr, ok
}

// register installs fn under names[0] and records its trampoline address in
// dst under every alias in names (names[0] is the canonical name used
// for trace/log output).
func (h *Host) register(dst Table, fn svc.HandlerFunc, names ...string) error {
	entry, err := h.reg.Register(names[0], fn)
	if err != nil {
		return err
	}
	for _, n := range names {
		dst[n] = entry.Addr
	}
	return nil
}

func (h *Host) readString(addr uint64, max int) string {
	if addr == 0 {
		return ""
	}
	s, _ := h.cpu.MemReadCString(addr, max)
	return s
}

func (h *Host) writeString(addr uint64, s string) error {
	return h.cpu.MemWrite(addr, append([]byte(s), 0))
}

func (h *Host) writeU64(addr, v uint64) error {
	b := [8]byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
		byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
	}
	return h.cpu.MemWrite(addr, b[:])
}

func (h *Host) writeU32(addr uint64, v uint32) error {
	b := [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return h.cpu.MemWrite(addr, b[:])
}

func ok(v uint64) (svc.Result, error) { return svc.WriteX0{Value: v}, nil }

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func formatPtrPair(a string, av uint64, b string, bv uint64) string {
	return a + "=0x" + hex64(av) + " " + b + "=0x" + hex64(bv)
}

func hex64(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}
