package intercept

import "github.com/zboralski/galago/internal/svc"

func (l *Libc) installSystem() error {
	h := l.host
	reg := func(fn svc.HandlerFunc, names ...string) error { return h.register(l.tab, fn, names...) }

	if err := reg(l.handleAbort, "abort"); err != nil {
		return err
	}
	if err := reg(l.handleExit, "exit", "_exit", "_Exit"); err != nil {
		return err
	}
	if err := reg(l.handleZero, "atexit"); err != nil {
		return err
	}
	if err := reg(l.handleErrnoLocation, "__errno_location", "__errno"); err != nil {
		return err
	}
	return nil
}

// handleErrnoLocation backs __errno_location(), returning the address
// of the single word SetErrno writes through -- this port runs one
// guest task at a time, so a single slot rather than a real per-task
// TLS block is enough to give every libc caller the pointer it expects.
func (l *Libc) handleErrnoLocation(ctx *svc.Context) (svc.Result, error) {
	return ok(l.host.ErrnoAddr()), nil
}

// handleAbort and handleExit stop the running EmuStart loop rather
// than returning to the caller, matching abort(3)/exit(3) never
// returning to their caller.
func (l *Libc) handleAbort(ctx *svc.Context) (svc.Result, error) {
	l.host.log.TraceSimple("libc", "abort", "program aborted")
	ctx.CPU.EmuStop()
	return svc.NoWrite{}, nil
}

func (l *Libc) handleExit(ctx *svc.Context) (svc.Result, error) {
	code, _ := ctx.X(0)
	l.host.log.Trace(0, "libc", "exit", hex64(code))
	ctx.CPU.EmuStop()
	return svc.NoWrite{}, nil
}
