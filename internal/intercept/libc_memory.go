package intercept

import "github.com/zboralski/galago/internal/svc"

// Libc is the libc.so/libm.so/libstdc++.so symbol table: every libc
// entry point a loaded module can import that this emulator doesn't
// map real code for resolves to one of these SVC trampolines.
type Libc struct {
	host   *Host
	tab    Table
	locale *localeState

	localeNameBuf uint64
	localeconvBuf uint64
}

// NewLibc builds and installs the libc intercept table.
func NewLibc(host *Host) (*Libc, error) {
	l := &Libc{host: host, tab: make(Table)}
	installers := []func() error{
		l.installMemory,
		l.installString,
		l.installStdio,
		l.installTime,
		l.installSystem,
		l.installLocale,
	}
	for _, fn := range installers {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// ResolveSymbol implements linker.HookListener.
func (l *Libc) ResolveSymbol(name string) (uint64, bool) { return l.tab.ResolveSymbol(name) }

// Symbols returns a copy of the installed name->trampoline table, used
// by the façade to populate the libc.so/libm.so/libstdc++.so virtual
// modules directly rather than relying solely on the hook-listener
// fallback.
func (l *Libc) Symbols() map[string]uint64 {
	out := make(map[string]uint64, len(l.tab))
	for k, v := range l.tab {
		out[k] = v
	}
	return out
}

func (l *Libc) installMemory() error {
	h := l.host
	reg := func(fn svc.HandlerFunc, names ...string) error { return h.register(l.tab, fn, names...) }

	if err := reg(l.handleMalloc, "malloc"); err != nil {
		return err
	}
	if err := reg(l.handleCalloc, "calloc"); err != nil {
		return err
	}
	if err := reg(l.handleRealloc, "realloc"); err != nil {
		return err
	}
	if err := reg(l.handleFree, "free"); err != nil {
		return err
	}
	if err := reg(l.handleGetpagesize, "getpagesize"); err != nil {
		return err
	}
	if err := reg(l.handleMalloc, "_Znwm", "_Znam", "_ZnwmSt11align_val_t", "_ZnamSt11align_val_t"); err != nil {
		return err
	}
	if err := reg(l.handleFree, "_ZdlPv", "_ZdaPv", "_ZdlPvm", "_ZdaPvm"); err != nil {
		return err
	}
	return nil
}

func (l *Libc) handleMalloc(ctx *svc.Context) (svc.Result, error) {
	size, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	ptr := l.host.alloc.Malloc(size)
	l.host.log.Trace(0, "libc", "malloc", formatPtrPair("size", size, "->", ptr))
	return ok(ptr), nil
}

func (l *Libc) handleCalloc(ctx *svc.Context) (svc.Result, error) {
	count, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	size, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	total := count * size
	ptr := l.host.alloc.Malloc(total)
	zeros := make([]byte, min64(total, 4096))
	l.host.cpu.MemWrite(ptr, zeros)
	l.host.log.Trace(0, "libc", "calloc", formatPtrPair("total", total, "->", ptr))
	return ok(ptr), nil
}

func (l *Libc) handleRealloc(ctx *svc.Context) (svc.Result, error) {
	size, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	ptr := l.host.alloc.Malloc(size)
	l.host.log.Trace(0, "libc", "realloc", formatPtrPair("size", size, "->", ptr))
	return ok(ptr), nil
}

func (l *Libc) handleFree(ctx *svc.Context) (svc.Result, error) {
	l.host.log.TraceSimple("libc", "free", "")
	return svc.NoWrite{}, nil
}

func (l *Libc) handleGetpagesize(ctx *svc.Context) (svc.Result, error) {
	return ok(4096), nil
}

