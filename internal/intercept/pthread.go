package intercept

import (
	"sync"

	"github.com/zboralski/galago/internal/sched"
	"github.com/zboralski/galago/internal/svc"
)

// Pthread is the pthread.so symbol table. Mutexes, rwlocks, and
// spinlocks are no-ops (this emulator runs one guest task at a time
// through internal/sched's cooperative dispatcher, so guest-visible
// lock state never actually contends). Condition variables route
// through the scheduler's futex table: pthread_cond_wait parks the
// dispatcher's current task, and signal/broadcast wake waiters.
// pthread_create only hands out a fresh thread id (no scheduler task is
// created and the start routine is not run), and pthread_join returns
// at once with a zero retval.
type Pthread struct {
	host *Host
	tab  Table
	disp *sched.Dispatcher
	fut  *sched.FutexTable

	mu          sync.Mutex
	tlsData     map[uint64]uint64
	nextTLSKey  uint64
	onceFlags   map[uint64]bool
}

// NewPthread builds and installs the pthread intercept table. disp and
// fut are the scheduler collaborators the pthread_cond_* handlers use;
// either may be nil in a single-task embedding, in which case
// pthread_cond_wait returns 0 at once without parking.
func NewPthread(host *Host, disp *sched.Dispatcher, fut *sched.FutexTable) (*Pthread, error) {
	p := &Pthread{
		host: host, tab: make(Table), disp: disp, fut: fut,
		tlsData: make(map[uint64]uint64), nextTLSKey: 1, onceFlags: make(map[uint64]bool),
	}
	if err := p.install(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pthread) ResolveSymbol(name string) (uint64, bool) { return p.tab.ResolveSymbol(name) }

// Symbols returns a copy of the installed name->trampoline table, used
// by the façade to populate the libc.so virtual module -- Android's
// bionic merges pthread into libc itself rather than shipping it as a
// separate libpthread.so.
func (p *Pthread) Symbols() map[string]uint64 {
	out := make(map[string]uint64, len(p.tab))
	for k, v := range p.tab {
		out[k] = v
	}
	return out
}

func (p *Pthread) install() error {
	h := p.host
	reg := func(fn svc.HandlerFunc, names ...string) error { return h.register(p.tab, fn, names...) }

	if err := reg(p.handleCreate, "pthread_create"); err != nil {
		return err
	}
	if err := reg(p.handleJoin, "pthread_join"); err != nil {
		return err
	}
	if err := reg(p.handleOK, "pthread_detach", "pthread_cancel", "pthread_setname_np"); err != nil {
		return err
	}
	if err := reg(p.handleEqual, "pthread_equal"); err != nil {
		return err
	}
	if err := reg(p.handleSelf, "pthread_self"); err != nil {
		return err
	}
	if err := reg(p.handleGetname, "pthread_getname_np"); err != nil {
		return err
	}
	if err := reg(p.handleNoop, "pthread_exit"); err != nil {
		return err
	}
	if err := reg(p.handleOK, "sched_yield"); err != nil {
		return err
	}

	if err := reg(p.handleOK,
		"pthread_mutex_init", "pthread_mutex_destroy", "pthread_mutex_lock",
		"pthread_mutex_trylock", "pthread_mutex_unlock",
		"pthread_rwlock_init", "pthread_rwlock_destroy", "pthread_rwlock_rdlock",
		"pthread_rwlock_wrlock", "pthread_rwlock_unlock",
		"pthread_spin_init", "pthread_spin_destroy", "pthread_spin_lock", "pthread_spin_unlock",
		"pthread_attr_init", "pthread_attr_destroy", "pthread_attr_setstacksize",
		"pthread_attr_setdetachstate", "pthread_attr_setschedparam", "pthread_attr_getschedparam",
		"pthread_mutexattr_init", "pthread_mutexattr_destroy", "pthread_mutexattr_settype",
		"pthread_condattr_init", "pthread_condattr_destroy",
	); err != nil {
		return err
	}

	if err := reg(p.handleAttrGetstacksize, "pthread_attr_getstacksize"); err != nil {
		return err
	}
	if err := reg(p.handleAttrGetdetachstate, "pthread_attr_getdetachstate"); err != nil {
		return err
	}

	if err := reg(p.handleOK, "pthread_cond_init", "pthread_cond_destroy"); err != nil {
		return err
	}
	if err := reg(p.handleCondWait, "pthread_cond_wait"); err != nil {
		return err
	}
	if err := reg(p.handleCondWait, "pthread_cond_timedwait"); err != nil {
		return err
	}
	if err := reg(p.handleCondSignal, "pthread_cond_signal"); err != nil {
		return err
	}
	if err := reg(p.handleCondBroadcast, "pthread_cond_broadcast"); err != nil {
		return err
	}

	if err := reg(p.handleKeyCreate, "pthread_key_create"); err != nil {
		return err
	}
	if err := reg(p.handleKeyDelete, "pthread_key_delete"); err != nil {
		return err
	}
	if err := reg(p.handleSetspecific, "pthread_setspecific"); err != nil {
		return err
	}
	if err := reg(p.handleGetspecific, "pthread_getspecific"); err != nil {
		return err
	}
	if err := reg(p.handleOnce, "pthread_once"); err != nil {
		return err
	}
	return nil
}

func (p *Pthread) handleOK(ctx *svc.Context) (svc.Result, error)   { return ok(0), nil }
func (p *Pthread) handleNoop(ctx *svc.Context) (svc.Result, error) { return svc.NoWrite{}, nil }

var (
	nextThreadID uint64 = 1
	threadIDMu   sync.Mutex
)

// handleCreate writes a fresh guest-visible thread id to *thread and
// returns 0. It does not register a scheduler Task and does not run
// startRoutine.
func (p *Pthread) handleCreate(ctx *svc.Context) (svc.Result, error) {
	threadPtr, err := ctx.X(0)
	if err != nil {
		return nil, err
	}

	threadIDMu.Lock()
	tid := nextThreadID
	nextThreadID++
	threadIDMu.Unlock()

	if threadPtr != 0 {
		p.host.writeU64(threadPtr, tid)
	}
	p.host.log.Trace(0, "pthread", "pthread_create", "tid="+hex64(tid))
	return ok(0), nil
}

func (p *Pthread) handleJoin(ctx *svc.Context) (svc.Result, error) {
	retvalPtr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	if retvalPtr != 0 {
		p.host.writeU64(retvalPtr, 0)
	}
	return ok(0), nil
}

func (p *Pthread) handleEqual(ctx *svc.Context) (svc.Result, error) {
	t1, _ := ctx.X(0)
	t2, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	if t1 == t2 {
		return ok(1), nil
	}
	return ok(0), nil
}

func (p *Pthread) handleSelf(ctx *svc.Context) (svc.Result, error) { return ok(1), nil }

func (p *Pthread) handleGetname(ctx *svc.Context) (svc.Result, error) {
	buf, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	if buf != 0 {
		p.host.writeString(buf, "main")
	}
	return ok(0), nil
}

func (p *Pthread) handleAttrGetstacksize(ctx *svc.Context) (svc.Result, error) {
	sizePtr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	if sizePtr != 0 {
		p.host.writeU64(sizePtr, 8*1024*1024)
	}
	return ok(0), nil
}

func (p *Pthread) handleAttrGetdetachstate(ctx *svc.Context) (svc.Result, error) {
	statePtr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	if statePtr != 0 {
		p.host.writeU32(statePtr, 0) // PTHREAD_CREATE_JOINABLE
	}
	return ok(0), nil
}

// handleCondWait parks the current task on the futex table keyed by
// the condvar's own address, rather than returning immediately: a
// worker that waits for another task to pthread_cond_signal it must
// actually block, or producer/consumer guests spin on state that never
// changes.
func (p *Pthread) handleCondWait(ctx *svc.Context) (svc.Result, error) {
	cond, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	if p.fut == nil || p.disp == nil {
		return ok(0), nil
	}
	task := p.disp.CurrentTask()
	if task == nil {
		return ok(0), nil
	}
	p.fut.Wait(task, cond, sched.FutexIndefinite{Addr: cond})
	ctx.CPU.EmuStop()
	return ok(0), nil
}

func (p *Pthread) handleCondSignal(ctx *svc.Context) (svc.Result, error) {
	cond, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	if p.fut != nil {
		p.fut.Wake(cond, 1)
	}
	return ok(0), nil
}

func (p *Pthread) handleCondBroadcast(ctx *svc.Context) (svc.Result, error) {
	cond, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	if p.fut != nil {
		p.fut.Wake(cond, -1)
	}
	return ok(0), nil
}

func (p *Pthread) handleKeyCreate(ctx *svc.Context) (svc.Result, error) {
	keyPtr, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	key := p.nextTLSKey
	p.nextTLSKey++
	p.mu.Unlock()
	if keyPtr != 0 {
		p.host.writeU64(keyPtr, key)
	}
	return ok(0), nil
}

func (p *Pthread) handleKeyDelete(ctx *svc.Context) (svc.Result, error) {
	key, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	delete(p.tlsData, key)
	p.mu.Unlock()
	return ok(0), nil
}

func (p *Pthread) handleSetspecific(ctx *svc.Context) (svc.Result, error) {
	key, _ := ctx.X(0)
	value, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.tlsData[key] = value
	p.mu.Unlock()
	return ok(0), nil
}

func (p *Pthread) handleGetspecific(ctx *svc.Context) (svc.Result, error) {
	key, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	value := p.tlsData[key]
	p.mu.Unlock()
	return ok(value), nil
}

func (p *Pthread) handleOnce(ctx *svc.Context) (svc.Result, error) {
	onceControl, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	already := p.onceFlags[onceControl]
	if !already {
		p.onceFlags[onceControl] = true
	}
	p.mu.Unlock()
	if !already {
		initRoutine, _ := ctx.X(1)
		if initRoutine != 0 && p.host.caller != nil {
			p.host.caller.QueueCall(initRoutine, nil)
		}
	}
	return ok(0), nil
}
