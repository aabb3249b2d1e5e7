package intercept

import (
	"sync"

	"github.com/zboralski/galago/internal/svc"
)

// Android is the libdl.so/liblog.so symbol table: dynamic-loader
// introspection (dlopen/dlsym/dlclose/dlerror/dladdr) and the
// __android_log_* logging family real Android native code calls
// constantly. dlopen/dlsym never load real code here -- this emulator
// already resolves every needed library at boot through
// internal/linker -- they exist purely so a guest's own dlopen/dlsym
// probing (common in JNI_OnLoad implementations that look up their own
// symbols) gets a plausible, stable answer instead of crashing.
type Android struct {
	host *Host
	tab  Table

	mu         sync.Mutex
	handles    map[uint64]string
	nextHandle uint64
	lastError  string

	propertyService func(name string) (string, bool)
}

// SetPropertyService installs the host-provided lookup
// __system_property_get answers against -- the façade's SetSystemPropertyService forwards here so a
// host program can feed the guest values like "ro.build.version.sdk"
// without this package hardcoding an Android build fingerprint.
func (a *Android) SetPropertyService(fn func(name string) (string, bool)) {
	a.mu.Lock()
	a.propertyService = fn
	a.mu.Unlock()
}

// NewAndroid builds and installs the android intercept table.
func NewAndroid(host *Host) (*Android, error) {
	a := &Android{host: host, tab: make(Table), handles: make(map[uint64]string), nextHandle: 0x7F000000}
	if err := a.install(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Android) ResolveSymbol(name string) (uint64, bool) { return a.tab.ResolveSymbol(name) }

// Symbols returns a copy of the installed name->trampoline table, used
// by the façade to populate the libdl.so/liblog.so virtual modules.
func (a *Android) Symbols() map[string]uint64 {
	out := make(map[string]uint64, len(a.tab))
	for k, v := range a.tab {
		out[k] = v
	}
	return out
}

func (a *Android) install() error {
	h := a.host
	reg := func(fn svc.HandlerFunc, names ...string) error { return h.register(a.tab, fn, names...) }

	if err := reg(a.handleDlopen, "dlopen", "android_dlopen_ext"); err != nil {
		return err
	}
	if err := reg(a.handleDlsym, "dlsym"); err != nil {
		return err
	}
	if err := reg(a.handleDlclose, "dlclose"); err != nil {
		return err
	}
	if err := reg(a.handleDlerror, "dlerror"); err != nil {
		return err
	}
	if err := reg(a.handleZero, "dladdr", "dl_iterate_phdr"); err != nil {
		return err
	}
	if err := reg(a.handleLogPrint, "__android_log_print", "__android_log_vprint"); err != nil {
		return err
	}
	if err := reg(a.handleLogWrite, "__android_log_write", "__android_log_buf_write"); err != nil {
		return err
	}
	if err := reg(a.handleZero, "__android_log_buf_print"); err != nil {
		return err
	}
	if err := reg(a.handleLogAssert, "__android_log_assert"); err != nil {
		return err
	}
	if err := reg(a.handleNoop, "openlog", "closelog"); err != nil {
		return err
	}
	if err := reg(a.handleSyslog, "syslog"); err != nil {
		return err
	}
	if err := reg(a.handlePropertyGet, "__system_property_get"); err != nil {
		return err
	}
	if err := reg(a.handleZero, "__system_property_set"); err != nil {
		return err
	}
	if err := reg(a.handleZero, "__system_property_find"); err != nil {
		return err
	}
	return nil
}

// handlePropertyGet answers __system_property_get(name, value) by
// consulting the host-installed property service, if any; an unset or
// unanswered property is reported as not found (empty string, return
// 0), matching the real function's contract.
func (a *Android) handlePropertyGet(ctx *svc.Context) (svc.Result, error) {
	namePtr, _ := ctx.X(0)
	valuePtr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	name := a.host.readString(namePtr, 92)

	a.mu.Lock()
	lookup := a.propertyService
	a.mu.Unlock()

	if lookup == nil {
		a.host.writeString(valuePtr, "")
		return ok(0), nil
	}
	value, found := lookup(name)
	if !found {
		a.host.writeString(valuePtr, "")
		return ok(0), nil
	}
	a.host.writeString(valuePtr, value)
	return ok(uint64(len(value))), nil
}

func (a *Android) handleDlopen(ctx *svc.Context) (svc.Result, error) {
	filenamePtr, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	filename := a.host.readString(filenamePtr, 256)

	a.mu.Lock()
	handle := a.nextHandle
	a.nextHandle += 0x1000
	a.handles[handle] = filename
	a.lastError = ""
	a.mu.Unlock()

	a.host.log.Trace(0, "android", "dlopen", filename+" -> "+hex64(handle))
	return ok(handle), nil
}

func (a *Android) handleDlsym(ctx *svc.Context) (svc.Result, error) {
	handle, _ := ctx.X(0)
	symbolPtr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	symbol := a.host.readString(symbolPtr, 128)

	a.mu.Lock()
	lib, known := a.handles[handle]
	a.mu.Unlock()

	if !known && handle != 0 {
		a.mu.Lock()
		a.lastError = "invalid handle"
		a.mu.Unlock()
		return ok(0), nil
	}

	if addr, found := a.host.resolve(symbol); found {
		a.host.log.Trace(0, "android", "dlsym", lib+":"+symbol+" -> "+hex64(addr))
		return ok(addr), nil
	}

	a.host.log.Trace(0, "android", "dlsym", lib+":"+symbol+" -> not found")
	return ok(0), nil
}

func (a *Android) handleDlclose(ctx *svc.Context) (svc.Result, error) {
	handle, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	delete(a.handles, handle)
	a.mu.Unlock()
	return ok(0), nil
}

func (a *Android) handleDlerror(ctx *svc.Context) (svc.Result, error) {
	a.mu.Lock()
	errText := a.lastError
	a.lastError = ""
	a.mu.Unlock()

	if errText == "" {
		return ok(0), nil
	}
	ptr := a.host.alloc.Malloc(uint64(len(errText) + 1))
	a.host.writeString(ptr, errText)
	return ok(ptr), nil
}

func (a *Android) handleZero(ctx *svc.Context) (svc.Result, error) { return ok(0), nil }
func (a *Android) handleNoop(ctx *svc.Context) (svc.Result, error) { return svc.NoWrite{}, nil }

func (a *Android) handleLogPrint(ctx *svc.Context) (svc.Result, error) {
	tagPtr, _ := ctx.X(1)
	fmtPtr, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	tag := a.host.readString(tagPtr, 64)
	format := a.host.readString(fmtPtr, 256)
	a.host.log.Trace(0, "android", "__android_log_print", tag+": "+format)
	return ok(0), nil
}

func (a *Android) handleLogWrite(ctx *svc.Context) (svc.Result, error) {
	tagPtr, _ := ctx.X(1)
	textPtr, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	tag := a.host.readString(tagPtr, 64)
	text := a.host.readString(textPtr, 256)
	a.host.log.Trace(0, "android", "__android_log_write", tag+": "+text)
	return ok(0), nil
}

func (a *Android) handleLogAssert(ctx *svc.Context) (svc.Result, error) {
	condPtr, _ := ctx.X(0)
	tagPtr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	cond := a.host.readString(condPtr, 64)
	tag := a.host.readString(tagPtr, 64)
	a.host.log.Trace(0, "android", "__android_log_assert", tag+": "+cond)
	return svc.NoWrite{}, nil
}

func (a *Android) handleSyslog(ctx *svc.Context) (svc.Result, error) {
	fmtPtr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	a.host.log.Trace(0, "android", "syslog", a.host.readString(fmtPtr, 256))
	return svc.NoWrite{}, nil
}
