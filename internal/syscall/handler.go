package syscall

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"

	"github.com/zboralski/galago/internal/backend"
	"github.com/zboralski/galago/internal/sched"
	"github.com/zboralski/galago/internal/svc"
)

// toMemProt translates a Linux PROT_* bitmask (the mmap/mprotect
// argument convention, bit-identical to backend.Prot's own layout) into
// the backend's protection type.
func toMemProt(prot uint64) backend.Prot {
	return backend.Prot(prot & 0x7)
}

// FUTEX_WAIT/FUTEX_WAKE, masking off FUTEX_PRIVATE_FLAG/FUTEX_CLOCK_REALTIME
// the way real futex() callers set them.
const (
	futexWait = 0
	futexWake = 1
	futexOpMask = 0x7F
)

// Handler implements the syscall numbers named in §4.6 against a guest
// CPU/memory pair, dispatched from SVC number 0 (the raw `svc #0` a real
// Linux syscall convention uses, as opposed to the dense 1..0xFFFE
// intercept-trampoline numbers the rest of the system allocates).
type Handler struct {
	fds        *FDTable
	dispatcher *sched.Dispatcher
	futex      *sched.FutexTable

	pid, ppid int32
	rootDir   string // host directory guest absolute paths resolve under, "" disables host passthrough
	nextTID   int32
}

// NewHandler creates a Handler. rootDir, if non-empty, lets openat/stat
// resolve guest paths against a real host directory (e.g. the Android
// system image's extracted /system tree) in addition to the five
// built-in pseudo-files; pass "" to serve only pseudo-files.
func NewHandler(dispatcher *sched.Dispatcher, futex *sched.FutexTable, pid, ppid int32, rootDir string) *Handler {
	return &Handler{
		fds:        NewFDTable(),
		dispatcher: dispatcher,
		futex:      futex,
		pid:        pid,
		ppid:       ppid,
		rootDir:    rootDir,
		nextTID:    pid + 1,
	}
}

// FDs exposes the underlying file descriptor table, used by tests to
// inspect what a guest had open.
func (h *Handler) FDs() *FDTable { return h.fds }

// Handle implements svc.HandlerFunc; register it on reserved SVC number
// 0 (github.com/zboralski/galago/internal/svc.Registry.RegisterReserved).
func (h *Handler) Handle(ctx *svc.Context) (svc.Result, error) {
	number, err := ctx.X(8)
	if err != nil {
		return nil, err
	}
	result, err := h.dispatch(ctx, number)
	if err != nil {
		return nil, err
	}
	return svc.WriteX0{Value: result}, nil
}

func (h *Handler) dispatch(ctx *svc.Context, number uint64) (uint64, error) {
	switch number {
	case SYS_openat:
		return h.sysOpenat(ctx)
	case SYS_close:
		return h.sysClose(ctx)
	case SYS_read:
		return h.sysRead(ctx)
	case SYS_write:
		return h.sysWrite(ctx)
	case SYS_pread64:
		return h.sysPread(ctx)
	case SYS_lseek:
		return h.sysLseek(ctx)
	case SYS_fstat:
		return h.sysFstat(ctx)
	case SYS_newfstatat:
		return h.sysFstatat(ctx)
	case SYS_readlinkat:
		return h.sysReadlinkat(ctx)
	case SYS_getdents64:
		return h.sysGetdents64(ctx)
	case SYS_mmap:
		return h.sysMmap(ctx)
	case SYS_mprotect:
		return h.sysMprotect(ctx)
	case SYS_munmap:
		return h.sysMunmap(ctx)
	case SYS_brk:
		return h.sysBrk(ctx)
	case SYS_futex:
		return h.sysFutex(ctx)
	case SYS_rt_sigaction:
		return 0, nil // signal disposition bookkeeping lives in internal/sched; acknowledge only
	case SYS_rt_sigprocmask:
		return h.sysRtSigprocmask(ctx)
	case SYS_tgkill:
		return 0, nil
	case SYS_clone:
		return h.sysClone(ctx)
	case SYS_gettid:
		return h.sysGettid(), nil
	case SYS_getpid:
		return uint64(uint32(h.pid)), nil
	case SYS_set_tid_address:
		return h.sysGettid(), nil
	case SYS_clock_gettime:
		return h.sysClockGettime(ctx)
	case SYS_nanosleep:
		return h.sysNanosleep(ctx)
	case SYS_getuid:
		return 0, nil
	case SYS_prctl:
		return 0, nil
	case SYS_exit, SYS_exit_group:
		return h.sysExit(ctx, number == SYS_exit_group)
	case SYS_faccessat:
		return h.sysFaccessat(ctx)
	case SYS_fcntl:
		return 0, nil
	case SYS_ioctl:
		return 0, nil
	case SYS_madvise:
		return 0, nil
	default:
		return negErrno(ENOSYS), nil
	}
}

func (h *Handler) readPath(ctx *svc.Context, addr uint64) (string, error) {
	return ctx.CPU.MemReadCString(addr, 4096)
}

// resolveHostPath maps a guest absolute path to a host path under
// rootDir, refusing to let ".." escape it.
func (h *Handler) resolveHostPath(guestPath string) (string, bool) {
	if h.rootDir == "" {
		return "", false
	}
	clean := filepath.Clean("/" + guestPath)
	return filepath.Join(h.rootDir, clean), true
}

func (h *Handler) sysOpenat(ctx *svc.Context) (uint64, error) {
	pathAddr, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	path, err := h.readPath(ctx, pathAddr)
	if err != nil {
		return negErrno(EFAULT), nil
	}

	if pf, ok := openPseudoFile(path, ctx.Mem.MapsString); ok {
		return uint64(uint32(h.fds.Install(pf))), nil
	}

	if hostPath, ok := h.resolveHostPath(path); ok {
		if fi, serr := os.Stat(hostPath); serr == nil && fi.IsDir() {
			entries, _ := os.ReadDir(hostPath)
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			return uint64(uint32(h.fds.Install(NewDirection(names)))), nil
		}
		data, rerr := os.ReadFile(hostPath)
		if rerr != nil {
			return negErrno(ENOENT), nil
		}
		return uint64(uint32(h.fds.Install(newBufferFile(path, data, 0444)))), nil
	}

	return negErrno(ENOENT), nil
}

func (h *Handler) sysClose(ctx *svc.Context) (uint64, error) {
	fd, err := ctx.X(0)
	if err != nil {
		return 0, err
	}
	if !h.fds.Close(int32(fd)) {
		return negErrno(EBADF), nil
	}
	return 0, nil
}

func (h *Handler) withFD(ctx *svc.Context, regno int) (FileIO, int32, error) {
	raw, err := ctx.X(regno)
	if err != nil {
		return nil, 0, err
	}
	fd := int32(raw)
	f, ok := h.fds.Get(fd)
	return f, fd, boolToNilErr(ok)
}

func boolToNilErr(ok bool) error {
	if ok {
		return nil
	}
	return errBadFD
}

var errBadFD = &SyscallError{Reason: "unknown file descriptor"}

func (h *Handler) sysRead(ctx *svc.Context) (uint64, error) {
	f, _, err := h.withFD(ctx, 0)
	if err != nil {
		return negErrno(EBADF), nil
	}
	bufAddr, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	count, err := ctx.X(2)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, count)
	n, rerr := f.Read(buf)
	if rerr != nil {
		return negErrno(EINVAL), nil
	}
	if n > 0 {
		if werr := ctx.CPU.MemWrite(bufAddr, buf[:n]); werr != nil {
			return negErrno(EFAULT), nil
		}
	}
	return uint64(int64(n)), nil
}

func (h *Handler) sysWrite(ctx *svc.Context) (uint64, error) {
	f, _, err := h.withFD(ctx, 0)
	if err != nil {
		return negErrno(EBADF), nil
	}
	bufAddr, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	count, err := ctx.X(2)
	if err != nil {
		return 0, err
	}
	data, rerr := ctx.CPU.MemRead(bufAddr, int(count))
	if rerr != nil {
		return negErrno(EFAULT), nil
	}
	n, werr := f.Write(data)
	if werr != nil {
		return negErrno(EINVAL), nil
	}
	return uint64(int64(n)), nil
}

func (h *Handler) sysPread(ctx *svc.Context) (uint64, error) {
	f, _, err := h.withFD(ctx, 0)
	if err != nil {
		return negErrno(EBADF), nil
	}
	bufAddr, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	count, err := ctx.X(2)
	if err != nil {
		return 0, err
	}
	off, err := ctx.X(3)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, count)
	n, rerr := f.Pread(buf, int64(off))
	if rerr != nil {
		return negErrno(EINVAL), nil
	}
	if n > 0 {
		if werr := ctx.CPU.MemWrite(bufAddr, buf[:n]); werr != nil {
			return negErrno(EFAULT), nil
		}
	}
	return uint64(int64(n)), nil
}

func (h *Handler) sysLseek(ctx *svc.Context) (uint64, error) {
	f, _, err := h.withFD(ctx, 0)
	if err != nil {
		return negErrno(EBADF), nil
	}
	offset, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	whence, err := ctx.X(2)
	if err != nil {
		return 0, err
	}
	pos, serr := f.Lseek(int64(offset), int(whence))
	if serr != nil {
		return negErrno(EINVAL), nil
	}
	return uint64(pos), nil
}

// writeStat fills a Linux arm64 `struct stat` (144 bytes) at addr,
// zeroing unused fields and setting only st_mode (offset 16) and
// st_size (offset 48) from f.
func writeStat(ctx *svc.Context, addr uint64, f FileIO) error {
	buf := make([]byte, 144)
	binary.LittleEndian.PutUint32(buf[16:20], f.StMode())
	binary.LittleEndian.PutUint64(buf[48:56], uint64(f.Len()))
	return ctx.CPU.MemWrite(addr, buf)
}

func (h *Handler) sysFstat(ctx *svc.Context) (uint64, error) {
	f, _, err := h.withFD(ctx, 0)
	if err != nil {
		return negErrno(EBADF), nil
	}
	statAddr, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	if statAddr != 0 {
		if werr := writeStat(ctx, statAddr, f); werr != nil {
			return negErrno(EFAULT), nil
		}
	}
	return 0, nil
}

func (h *Handler) sysFstatat(ctx *svc.Context) (uint64, error) {
	pathAddr, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	path, err := h.readPath(ctx, pathAddr)
	if err != nil {
		return negErrno(EFAULT), nil
	}
	statAddr, err := ctx.X(2)
	if err != nil {
		return 0, err
	}

	var f FileIO
	if pf, ok := openPseudoFile(path, ctx.Mem.MapsString); ok {
		f = pf
	} else if hostPath, ok := h.resolveHostPath(path); ok {
		data, rerr := os.ReadFile(hostPath)
		if rerr != nil {
			return negErrno(ENOENT), nil
		}
		f = newBufferFile(path, data, 0444)
	} else {
		return negErrno(ENOENT), nil
	}

	if statAddr != 0 {
		if werr := writeStat(ctx, statAddr, f); werr != nil {
			return negErrno(EFAULT), nil
		}
	}
	return 0, nil
}

func (h *Handler) sysReadlinkat(ctx *svc.Context) (uint64, error) {
	pathAddr, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	path, err := h.readPath(ctx, pathAddr)
	if err != nil {
		return negErrno(EFAULT), nil
	}
	bufAddr, err := ctx.X(2)
	if err != nil {
		return 0, err
	}
	bufSize, err := ctx.X(3)
	if err != nil {
		return 0, err
	}

	var target string
	switch {
	case path == "/proc/self/exe":
		target = "/system/bin/app_process64"
	case strings.HasPrefix(path, "/proc/self/fd/"):
		target = "anon_inode:[" + strings.TrimPrefix(path, "/proc/self/fd/") + "]"
	default:
		return negErrno(EINVAL), nil
	}

	n := len(target)
	if uint64(n) > bufSize {
		n = int(bufSize)
	}
	if werr := ctx.CPU.MemWrite(bufAddr, []byte(target[:n])); werr != nil {
		return negErrno(EFAULT), nil
	}
	return uint64(n), nil
}

func (h *Handler) sysGetdents64(ctx *svc.Context) (uint64, error) {
	f, _, err := h.withFD(ctx, 0)
	if err != nil {
		return negErrno(EBADF), nil
	}
	dir, ok := f.(*Direction)
	if !ok {
		return negErrno(ENOTDIR), nil
	}
	bufAddr, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	count, err := ctx.X(2)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, count)
	n, _ := dir.Getdents64(buf)
	if n > 0 {
		if werr := ctx.CPU.MemWrite(bufAddr, buf[:n]); werr != nil {
			return negErrno(EFAULT), nil
		}
	}
	return uint64(n), nil
}

func (h *Handler) sysFaccessat(ctx *svc.Context) (uint64, error) {
	pathAddr, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	path, err := h.readPath(ctx, pathAddr)
	if err != nil {
		return negErrno(EFAULT), nil
	}
	if _, ok := openPseudoFile(path, ctx.Mem.MapsString); ok {
		return 0, nil
	}
	if hostPath, ok := h.resolveHostPath(path); ok {
		if _, serr := os.Stat(hostPath); serr == nil {
			return 0, nil
		}
	}
	return negErrno(ENOENT), nil
}

func (h *Handler) sysMmap(ctx *svc.Context) (uint64, error) {
	addr, err := ctx.X(0)
	if err != nil {
		return 0, err
	}
	length, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	prot, err := ctx.X(2)
	if err != nil {
		return 0, err
	}
	base, merr := ctx.Mem.Mmap(addr, length, toMemProt(prot), "")
	if merr != nil {
		return negErrno(ENOMEM), nil
	}
	return base, nil
}

func (h *Handler) sysMprotect(ctx *svc.Context) (uint64, error) {
	addr, err := ctx.X(0)
	if err != nil {
		return 0, err
	}
	length, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	prot, err := ctx.X(2)
	if err != nil {
		return 0, err
	}
	if merr := ctx.Mem.Mprotect(addr, length, toMemProt(prot)); merr != nil {
		return negErrno(EINVAL), nil
	}
	return 0, nil
}

func (h *Handler) sysMunmap(ctx *svc.Context) (uint64, error) {
	addr, err := ctx.X(0)
	if err != nil {
		return 0, err
	}
	length, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	if merr := ctx.Mem.Munmap(addr, length); merr != nil {
		return negErrno(EINVAL), nil
	}
	return 0, nil
}

func (h *Handler) sysBrk(ctx *svc.Context) (uint64, error) {
	addr, err := ctx.X(0)
	if err != nil {
		return 0, err
	}
	return ctx.Mem.Brk(addr), nil
}

func (h *Handler) sysFutex(ctx *svc.Context) (uint64, error) {
	addr, err := ctx.X(0)
	if err != nil {
		return 0, err
	}
	op, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	val, err := ctx.X(2)
	if err != nil {
		return 0, err
	}

	switch op & futexOpMask {
	case futexWait:
		cur, rerr := ctx.CPU.MemRead(addr, 4)
		if rerr != nil {
			return negErrno(EFAULT), nil
		}
		if binary.LittleEndian.Uint32(cur) != uint32(val) {
			return negErrno(EAGAIN), nil
		}
		if h.dispatcher == nil || h.futex == nil {
			return 0, nil
		}
		task := h.dispatcher.CurrentTask()
		if task == nil {
			return 0, nil
		}
		h.futex.Wait(task, addr, sched.FutexIndefinite{Addr: addr})
		ctx.CPU.EmuStop()
		return 0, nil
	case futexWake:
		if h.futex == nil {
			return 0, nil
		}
		n := h.futex.Wake(addr, int(val))
		return uint64(n), nil
	default:
		return negErrno(ENOSYS), nil
	}
}

func (h *Handler) sysRtSigprocmask(ctx *svc.Context) (uint64, error) { return 0, nil }

func (h *Handler) sysClone(ctx *svc.Context) (uint64, error) {
	childSP, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	if h.dispatcher == nil {
		return negErrno(ENOSYS), nil
	}
	pc, err := ctx.CPU.RegRead(backend.PC)
	if err != nil {
		return 0, err
	}
	tid := h.nextTID
	h.nextTID++
	child := sched.NewTask(tid, pc, childSP)
	h.dispatcher.AddTask(child)
	return uint64(uint32(tid)), nil
}

func (h *Handler) sysGettid() uint64 {
	if h.dispatcher != nil {
		if t := h.dispatcher.CurrentTask(); t != nil {
			return uint64(uint32(t.TID))
		}
	}
	return uint64(uint32(h.pid))
}

func (h *Handler) sysClockGettime(ctx *svc.Context) (uint64, error) {
	tsAddr, err := ctx.X(1)
	if err != nil {
		return 0, err
	}
	if tsAddr == 0 {
		return 0, nil
	}
	buf := make([]byte, 16)
	if werr := ctx.CPU.MemWrite(tsAddr, buf); werr != nil {
		return negErrno(EFAULT), nil
	}
	return 0, nil
}

func (h *Handler) sysNanosleep(ctx *svc.Context) (uint64, error) {
	reqAddr, err := ctx.X(0)
	if err != nil {
		return 0, err
	}
	req, rerr := ctx.CPU.MemRead(reqAddr, 16)
	if rerr != nil {
		return negErrno(EFAULT), nil
	}
	sec := binary.LittleEndian.Uint64(req[0:8])
	nsec := binary.LittleEndian.Uint64(req[8:16])
	if h.dispatcher == nil {
		return 0, nil
	}
	task := h.dispatcher.CurrentTask()
	if task == nil {
		return 0, nil
	}
	// Each dispatcher tick is one scheduling pass; a nanosecond-precise
	// deadline has no meaning against that logical clock, so any
	// positive duration parks for one tick to let other tasks run.
	ticks := uint64(0)
	if sec > 0 || nsec > 0 {
		ticks = 1
	}
	task.SetWaiter(sched.FutexNanoSleep{DeadlineTick: ticks})
	ctx.CPU.EmuStop()
	return 0, nil
}

func (h *Handler) sysExit(ctx *svc.Context, group bool) (uint64, error) {
	if h.dispatcher == nil {
		ctx.CPU.EmuStop()
		return 0, nil
	}
	task := h.dispatcher.CurrentTask()
	if task != nil {
		task.SetStatus(sched.StatusDead)
		if h.futex != nil {
			h.futex.Forget(task)
		}
	}
	if group {
		for _, t := range h.dispatcher.Tasks() {
			t.SetStatus(sched.StatusDead)
		}
	}
	ctx.CPU.EmuStop()
	return 0, nil
}
