package intercept

import "github.com/zboralski/galago/internal/svc"

// mockTimeSec/mockTimeNSec give the guest a deterministic clock: real
// wall time would make two runs of the same binary diverge, which
// defeats the point of an emulator used for reproducible analysis.
const (
	mockTimeSec  = int64(1704067200) // 2024-01-01T00:00:00Z
	mockTimeUSec = int64(0)
	mockTimeNSec = int64(0)
)

func (l *Libc) installTime() error {
	h := l.host
	reg := func(fn svc.HandlerFunc, names ...string) error { return h.register(l.tab, fn, names...) }

	if err := reg(l.handleGettimeofday, "gettimeofday"); err != nil {
		return err
	}
	if err := reg(l.handleClockGettime, "clock_gettime"); err != nil {
		return err
	}
	if err := reg(l.handleTime, "time"); err != nil {
		return err
	}
	if err := reg(l.handleClock, "clock"); err != nil {
		return err
	}
	if err := reg(l.handleZero, "nanosleep", "usleep", "sleep"); err != nil {
		return err
	}
	return nil
}

func (l *Libc) handleGettimeofday(ctx *svc.Context) (svc.Result, error) {
	tv, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	if tv != 0 {
		l.host.writeU64(tv, uint64(mockTimeSec))
		l.host.writeU64(tv+8, uint64(mockTimeUSec))
	}
	return ok(0), nil
}

func (l *Libc) handleClockGettime(ctx *svc.Context) (svc.Result, error) {
	tp, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	if tp != 0 {
		l.host.writeU64(tp, uint64(mockTimeSec))
		l.host.writeU64(tp+8, uint64(mockTimeNSec))
	}
	return ok(0), nil
}

func (l *Libc) handleTime(ctx *svc.Context) (svc.Result, error) {
	tloc, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	if tloc != 0 {
		l.host.writeU64(tloc, uint64(mockTimeSec))
	}
	return ok(uint64(mockTimeSec)), nil
}

func (l *Libc) handleClock(ctx *svc.Context) (svc.Result, error) { return ok(1000000), nil }
