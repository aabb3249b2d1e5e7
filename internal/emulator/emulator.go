// Package emulator is the host-facing façade: it wires together the
// backend CPU core, the guest memory manager, the SVC registry, the
// cooperative scheduler, the dynamic linker, the Linux syscall surface,
// the JNI/DVM bridge, and the libc/android/pthread intercept tables
// into the single `Emulator` type a host program drives an ARM64
// native library through.
package emulator

import (
	"fmt"
	"sync"

	"github.com/zboralski/galago/internal/backend"
	"github.com/zboralski/galago/internal/intercept"
	"github.com/zboralski/galago/internal/jni"
	"github.com/zboralski/galago/internal/linker"
	"github.com/zboralski/galago/internal/log"
	"github.com/zboralski/galago/internal/memory"
	"github.com/zboralski/galago/internal/sched"
	"github.com/zboralski/galago/internal/svc"
	"github.com/zboralski/galago/internal/syscall"
)

// ModuleHandle identifies a loaded module to the host, opaque beyond
// being stable for the lifetime of the Emulator it came from.
type ModuleHandle uint64

// TraceEvent is one recorded CallSymbol invocation (Category "call"),
// collected when EnableTrace has been called. Intercept handlers and
// syscalls are not recorded.
type TraceEvent struct {
	PC       uint64
	Category string
	Name     string
	Detail   string
}

// Emulator is the façade's host-facing handle onto one guest process.
// Every collaborator package it owns follows the "one Emulator, one
// process" lifetime spec.md's concurrency model assumes.
type Emulator struct {
	mu sync.RWMutex

	cpu    backend.CPU
	mem    *memory.Manager
	reg    *svc.Registry
	disp   *sched.Dispatcher
	fut    *sched.FutexTable
	caller *sched.Caller
	lk     *linker.Linker
	sys    *syscall.Handler
	bridge *jni.Bridge

	host    *intercept.Host
	libc    *intercept.Libc
	android *intercept.Android
	pthread *intercept.Pthread

	log *log.Logger

	pid, ppid int32
	procName  string
	userData  uint64

	mainTask *sched.Task

	handles    map[ModuleHandle]*linker.Module
	nextHandle ModuleHandle

	svcCallback func(swi uint16, userData uint64)

	traceEnabled bool
	traceEvents  []TraceEvent
}

// Config holds the knobs CreateARM64 needs beyond the four façade
// parameters spec.md names — the search path and address-mode settings
// internal/config loads from file/flags.
type Config struct {
	BigAddress   bool
	SearchPaths  []string
	RootDir      string
	Debug        bool
	SchedQuantum uint32
}

// CreateARM64 builds a fresh ARM64 guest process: the backend CPU core,
// every collaborator package, the virtual libc/libdl/libm/libstdc++
// modules, and one main Task ready to receive calls through CallSymbol.
// pid/ppid/procName mirror the values a real `fork`/`execve` would have
// assigned; userData is an opaque value handed back unchanged to a
// SetSVCCallback observer.
func CreateARM64(pid, ppid int32, procName string, userData uint64, cfg Config) (*Emulator, error) {
	logger := log.NewNop()
	if cfg.Debug {
		logger = log.New(true)
	}

	cpu, err := backend.NewUnicorn()
	if err != nil {
		return nil, fmt.Errorf("create cpu core: %w", err)
	}

	layout := memory.SmallLayout
	if cfg.BigAddress {
		layout = memory.BigLayout
	}
	mem, err := memory.New(cpu, layout)
	if err != nil {
		return nil, fmt.Errorf("create memory manager: %w", err)
	}

	reg := svc.NewRegistry(cpu, layout, nil)
	caller := sched.NewCaller(cpu, mem, reg)

	disp, err := sched.NewDispatcher(cpu, cfg.SchedQuantum, logger)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}
	fut := sched.NewFutexTable()

	resolver := linker.NewDiskResolver(cfg.SearchPaths...)
	lk := linker.New(cpu, mem, resolver, caller, logger)

	sys := syscall.NewHandler(disp, fut, pid, ppid, cfg.RootDir)
	reg.RegisterReserved(0, "linux_syscall", sys.Handle)

	bridge := jni.NewBridge(cpu, mem, reg, caller)
	if _, _, err := bridge.Install(); err != nil {
		return nil, fmt.Errorf("install jni bridge: %w", err)
	}

	host := intercept.NewHost(cpu, mem, reg, caller, logger)
	libc, err := intercept.NewLibc(host)
	if err != nil {
		return nil, fmt.Errorf("install libc intercepts: %w", err)
	}
	android, err := intercept.NewAndroid(host)
	if err != nil {
		return nil, fmt.Errorf("install android intercepts: %w", err)
	}
	pthread, err := intercept.NewPthread(host, disp, fut)
	if err != nil {
		return nil, fmt.Errorf("install pthread intercepts: %w", err)
	}

	lk.RegisterHookListener(libc)
	lk.RegisterHookListener(android)
	lk.RegisterHookListener(pthread)
	host.SetResolver(lk.ResolveAny)

	registerVirtualModules(lk, libc, android, pthread)

	// mainTask is never driven through Dispatcher.Run (CallSymbol invokes
	// guest code synchronously via Caller.Call instead); it exists so
	// Dispatcher.CurrentTask has something to report, letting
	// pthread_cond_wait's futex park degrade gracefully rather than
	// silently no-op for the common single-task embedding.
	mainTask := sched.NewTask(pid, 0, mem.StackTop())
	disp.AddTask(mainTask)

	e := &Emulator{
		cpu: cpu, mem: mem, reg: reg, disp: disp, fut: fut, caller: caller,
		lk: lk, sys: sys, bridge: bridge,
		host: host, libc: libc, android: android, pthread: pthread,
		log: logger,
		pid: pid, ppid: ppid, procName: procName, userData: userData,
		mainTask: mainTask,
		handles:  make(map[ModuleHandle]*linker.Module),
	}

	// This single interrupt hook both dispatches the trapping SVC to
	// its registered handler and, if
	// SetSVCCallback has installed one, notifies the host observer —
	// SetSVCCallback itself only ever updates e.svcCallback.
	if err := cpu.AddInterruptHook(e.handleInterrupt); err != nil {
		return nil, fmt.Errorf("install interrupt hook: %w", err)
	}

	return e, nil
}

// handleInterrupt is the single InterruptHookFunc installed on the
// backend: it dispatches the trapping SVC number to its registered
// handler, writes X0 if the handler produced a result, and forwards the
// raw number to the host's SetSVCCallback observer, if any.
func (e *Emulator) handleInterrupt(number uint16) {
	ctx := &svc.Context{CPU: e.cpu, Mem: e.mem}
	result, err := e.reg.Dispatch(number, ctx)
	if err != nil {
		e.log.Trace(0, "emulator", "svc_dispatch_error", fmt.Sprintf("svc #%d: %v", number, err))
		e.cpu.EmuStop()
		return
	}
	if w, ok := result.(svc.WriteX0); ok {
		if err := ctx.SetX(0, w.Value); err != nil {
			e.log.Trace(0, "emulator", "svc_writeback_error", err.Error())
		}
	}
	e.mu.RLock()
	cb := e.svcCallback
	e.mu.RUnlock()
	if cb != nil {
		cb(number, e.userData)
	}
}

// registerVirtualModules installs libc.so/libdl.so/libm.so/libstdc++.so/
// liblog.so as virtual modules whose exports are the intercept
// trampolines just installed — Android's bionic merges pthread into
// libc and ships libdl/liblog as thin wrappers, so the grouping here
// mirrors the real system image rather than this package's own file
// layout.
func registerVirtualModules(lk *linker.Linker, libc *intercept.Libc, android *intercept.Android, pthread *intercept.Pthread) {
	libcSymbols := libc.Symbols()
	for name, addr := range pthread.Symbols() {
		libcSymbols[name] = addr
	}
	lk.RegisterVirtualModule("libc.so", libcSymbols)
	lk.RegisterVirtualModule("libm.so", libc.Symbols())
	lk.RegisterVirtualModule("libstdc++.so", libc.Symbols())
	lk.RegisterVirtualModule("libdl.so", android.Symbols())
	lk.RegisterVirtualModule("liblog.so", android.Symbols())
}

// SetErrno installs v as the value `__errno_location()` hands back to
// guest libc callers, modeling a task's errno TLS slot from the host
// side (e.g. after a host-mediated I/O operation the syscall layer
// itself didn't perform).
func (e *Emulator) SetErrno(v int32) error {
	return e.cpu.MemWrite(e.host.ErrnoAddr(), []byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
	})
}

// LoadLibrary loads path from the configured search path and returns a
// stable handle to it. Its full DT_NEEDED graph is resolved and its
// .init_array run before this returns, same as the dynamic linker would
// do before handing control to a real process's entry point.
func (e *Emulator) LoadLibrary(path string) (ModuleHandle, error) {
	m, err := e.lk.Load(path)
	if err != nil {
		return 0, err
	}
	return e.registerHandle(m), nil
}

// LoadLibraryBytes loads an in-memory ELF image under name (used when
// the host has its own source for the bytes — an extracted APK entry,
// bytes fetched over the network — rather than a path on disk).
func (e *Emulator) LoadLibraryBytes(name string, data []byte) (ModuleHandle, error) {
	m, err := e.lk.LoadBytes(name, data)
	if err != nil {
		return 0, err
	}
	return e.registerHandle(m), nil
}

func (e *Emulator) registerHandle(m *linker.Module) ModuleHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextHandle++
	h := e.nextHandle
	e.handles[h] = m
	return h
}

// CallSymbol resolves symbol against module's own exports, then every
// loaded module's exports in load order followed by the hook-listener
// chain (Linker.ResolveAny), and invokes it with args through the nested-call trampoline, returning X0.
func (e *Emulator) CallSymbol(module ModuleHandle, symbol string, args []sched.Arg) (uint64, error) {
	e.mu.RLock()
	m, ok := e.handles[module]
	e.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("call_symbol: unknown module handle %d", module)
	}
	addr, ok := m.FindSymbol(symbol)
	if !ok {
		addr, ok = e.lk.ResolveAny(symbol)
	}
	if !ok {
		return 0, fmt.Errorf("call_symbol: symbol %q not found in %s", symbol, m.Name)
	}
	e.traceCall(addr, symbol)
	return e.caller.Call(addr, args)
}

func (e *Emulator) traceCall(addr uint64, symbol string) {
	if !e.traceEnabled {
		return
	}
	e.mu.Lock()
	e.traceEvents = append(e.traceEvents, TraceEvent{PC: addr, Category: "call", Name: symbol})
	e.mu.Unlock()
}

// RegisterHookListener appends hl to the linker's fallback symbol
// resolution chain, ahead of nothing already installed — a listener
// registered here only ever answers a lookup the libc/android/pthread
// groups and every loaded module's own exports didn't already satisfy.
func (e *Emulator) RegisterHookListener(hl linker.HookListener) {
	e.lk.RegisterHookListener(hl)
}

// SetSystemPropertyService installs fn as the backing store
// `__system_property_get` consults; fn returns (value, false) for an
// unset property.
func (e *Emulator) SetSystemPropertyService(fn func(name string) (string, bool)) {
	e.android.SetPropertyService(fn)
}

// SetSVCCallback installs an observer invoked, in addition to the
// registered handler, every time the guest executes an SVC — swi is the
// 16-bit trampoline number, userData is the opaque value passed to
// CreateARM64. Intended for host-side tracing/policy enforcement rather
// than as a substitute for registering a real handler.
func (e *Emulator) SetSVCCallback(fn func(swi uint16, userData uint64)) {
	e.mu.Lock()
	e.svcCallback = fn
	e.mu.Unlock()
}

// EnableTrace turns on TraceEvents collection for CallSymbol.
func (e *Emulator) EnableTrace() { e.mu.Lock(); e.traceEnabled = true; e.mu.Unlock() }

// TraceEvents returns a snapshot of recorded trace events.
func (e *Emulator) TraceEvents() []TraceEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]TraceEvent(nil), e.traceEvents...)
}

// Regions returns a snapshot of the guest's mapped memory regions.
func (e *Emulator) Regions() []memory.Region { return e.mem.Regions() }

// Modules returns the modules handed back by LoadLibrary and
// LoadLibraryBytes, in the order of those calls. Modules loaded only as
// DT_NEEDED dependencies, and the virtual modules, are not listed.
func (e *Emulator) Modules() []*linker.Module {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*linker.Module, 0, len(e.handles))
	for h := ModuleHandle(1); h <= e.nextHandle; h++ {
		if m, ok := e.handles[h]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Destroy releases the backend CPU core. The Emulator must not be used
// afterward.
func (e *Emulator) Destroy() error {
	return e.cpu.Close()
}
