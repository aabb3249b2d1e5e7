package intercept

import "github.com/zboralski/galago/internal/svc"

// guestEnvDefaults mocks a minimal Android process environment; real guest
// code only ever probes a handful of well-known variables.
var guestEnvDefaults = map[string]string{
	"PATH":   "/system/bin:/system/xbin",
	"HOME":   "/data/data/com.app",
	"TMPDIR": "/data/local/tmp",
	"LANG":   "C",
	"LC_ALL": "C",
}

type localeState struct {
	name string
	env  map[string]string
}

func (l *Libc) installLocale() error {
	h := l.host
	l.locale = &localeState{name: "", env: make(map[string]string)}
	reg := func(fn svc.HandlerFunc, names ...string) error { return h.register(l.tab, fn, names...) }

	if err := reg(l.handleSetlocale, "setlocale"); err != nil {
		return err
	}
	if err := reg(l.handleFakeHandle, "newlocale", "uselocale"); err != nil {
		return err
	}
	if err := reg(l.handleZero, "freelocale"); err != nil {
		return err
	}
	if err := reg(l.handleLocaleconv, "localeconv"); err != nil {
		return err
	}
	if err := reg(l.handleSysconf, "sysconf"); err != nil {
		return err
	}
	if err := reg(l.handleGetenv, "getenv"); err != nil {
		return err
	}
	if err := reg(l.handleSetenv, "setenv"); err != nil {
		return err
	}
	if err := reg(l.handleUnsetenv, "unsetenv"); err != nil {
		return err
	}
	if err := reg(l.handleZero, "putenv"); err != nil {
		return err
	}

	for name, fn := range map[string]svc.HandlerFunc{
		"isalpha": l.handleIsalpha, "isdigit": l.handleIsdigit, "isalnum": l.handleIsalnum,
		"isspace": l.handleIsspace, "isupper": l.handleIsupper, "islower": l.handleIslower,
		"isxdigit": l.handleIsxdigit, "isprint": l.handleIsprint, "iscntrl": l.handleIscntrl,
		"ispunct": l.handleIspunct, "isgraph": l.handleIsgraph, "isblank": l.handleIsblank,
		"toupper": l.handleToupper, "tolower": l.handleTolower,
	} {
		if err := reg(fn, name); err != nil {
			return err
		}
	}
	return nil
}

func (l *Libc) handleSetlocale(ctx *svc.Context) (svc.Result, error) {
	localePtr, _ := ctx.X(1)
	locale := l.host.readString(localePtr, 64)
	l.host.log.Trace(0, "libc", "setlocale", locale)
	if l.locale.name == "" {
		buf := l.host.alloc.Malloc(2)
		l.host.writeString(buf, "C")
		l.localeNameBuf = buf
	}
	return ok(l.localeNameBuf), nil
}

func (l *Libc) handleFakeHandle(ctx *svc.Context) (svc.Result, error) {
	handle := l.host.alloc.Malloc(8)
	l.host.writeU64(handle, 1)
	return ok(handle), nil
}

func (l *Libc) handleLocaleconv(ctx *svc.Context) (svc.Result, error) {
	if l.localeconvBuf == 0 {
		buf := l.host.alloc.Malloc(128)
		decPt := l.host.alloc.Malloc(4)
		l.host.writeString(decPt, ".")
		l.host.writeU64(buf, decPt)
		thousSep := l.host.alloc.Malloc(4)
		l.host.writeString(thousSep, "")
		l.host.writeU64(buf+8, thousSep)
		l.localeconvBuf = buf
	}
	return ok(l.localeconvBuf), nil
}

func (l *Libc) handleSysconf(ctx *svc.Context) (svc.Result, error) {
	name, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	var result uint64
	switch name {
	case 30: // _SC_PAGESIZE
		result = 4096
	case 84, 83: // _SC_NPROCESSORS_ONLN / _CONF
		result = 4
	case 2: // _SC_CLK_TCK
		result = 100
	case 0: // _SC_ARG_MAX
		result = 131072
	case 1: // _SC_CHILD_MAX
		result = 999
	case 4: // _SC_OPEN_MAX
		result = 1024
	default:
		result = ^uint64(0)
	}
	return ok(result), nil
}

func (l *Libc) handleGetenv(ctx *svc.Context) (svc.Result, error) {
	namePtr, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	name := l.host.readString(namePtr, 256)
	l.host.log.Trace(0, "libc", "getenv", name)

	val, ok2 := l.locale.env[name]
	if !ok2 {
		val, ok2 = guestEnvDefaults[name]
	}
	if !ok2 {
		return ok(0), nil
	}
	buf := l.host.alloc.Malloc(uint64(len(val) + 1))
	l.host.writeString(buf, val)
	return ok(buf), nil
}

func (l *Libc) handleSetenv(ctx *svc.Context) (svc.Result, error) {
	namePtr, _ := ctx.X(0)
	valuePtr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	name := l.host.readString(namePtr, 256)
	value := l.host.readString(valuePtr, 1024)
	l.locale.env[name] = value
	return ok(0), nil
}

func (l *Libc) handleUnsetenv(ctx *svc.Context) (svc.Result, error) {
	namePtr, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	delete(l.locale.env, l.host.readString(namePtr, 256))
	return ok(0), nil
}

func charClassHandler(pred func(byte) bool) svc.HandlerFunc {
	return func(ctx *svc.Context) (svc.Result, error) {
		c, err := ctx.X(0)
		if err != nil {
			return nil, err
		}
		if pred(byte(c)) {
			return ok(1), nil
		}
		return ok(0), nil
	}
}

func inRange(c, low, high byte) bool { return c >= low && c <= high }

func (l *Libc) handleIsalpha(ctx *svc.Context) (svc.Result, error) {
	return charClassHandler(func(c byte) bool { return inRange(c, 'A', 'Z') || inRange(c, 'a', 'z') })(ctx)
}
func (l *Libc) handleIsdigit(ctx *svc.Context) (svc.Result, error) {
	return charClassHandler(func(c byte) bool { return inRange(c, '0', '9') })(ctx)
}
func (l *Libc) handleIsalnum(ctx *svc.Context) (svc.Result, error) {
	return charClassHandler(func(c byte) bool {
		return inRange(c, 'A', 'Z') || inRange(c, 'a', 'z') || inRange(c, '0', '9')
	})(ctx)
}
func (l *Libc) handleIsspace(ctx *svc.Context) (svc.Result, error) {
	return charClassHandler(func(c byte) bool {
		return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
	})(ctx)
}
func (l *Libc) handleIsupper(ctx *svc.Context) (svc.Result, error) {
	return charClassHandler(func(c byte) bool { return inRange(c, 'A', 'Z') })(ctx)
}
func (l *Libc) handleIslower(ctx *svc.Context) (svc.Result, error) {
	return charClassHandler(func(c byte) bool { return inRange(c, 'a', 'z') })(ctx)
}
func (l *Libc) handleIsxdigit(ctx *svc.Context) (svc.Result, error) {
	return charClassHandler(func(c byte) bool {
		return inRange(c, '0', '9') || inRange(c, 'A', 'F') || inRange(c, 'a', 'f')
	})(ctx)
}
func (l *Libc) handleIsprint(ctx *svc.Context) (svc.Result, error) {
	return charClassHandler(func(c byte) bool { return c >= 0x20 && c <= 0x7e })(ctx)
}
func (l *Libc) handleIscntrl(ctx *svc.Context) (svc.Result, error) {
	return charClassHandler(func(c byte) bool { return c < 0x20 || c == 0x7f })(ctx)
}
func (l *Libc) handleIspunct(ctx *svc.Context) (svc.Result, error) {
	return charClassHandler(func(c byte) bool {
		return inRange(c, 0x21, 0x2f) || inRange(c, 0x3a, 0x40) || inRange(c, 0x5b, 0x60) || inRange(c, 0x7b, 0x7e)
	})(ctx)
}
func (l *Libc) handleIsgraph(ctx *svc.Context) (svc.Result, error) {
	return charClassHandler(func(c byte) bool { return c >= 0x21 && c <= 0x7e })(ctx)
}
func (l *Libc) handleIsblank(ctx *svc.Context) (svc.Result, error) {
	return charClassHandler(func(c byte) bool { return c == ' ' || c == '\t' })(ctx)
}

func (l *Libc) handleToupper(ctx *svc.Context) (svc.Result, error) {
	c, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	b := byte(c)
	if inRange(b, 'a', 'z') {
		b -= 'a' - 'A'
	}
	return ok(uint64(b)), nil
}

func (l *Libc) handleTolower(ctx *svc.Context) (svc.Result, error) {
	c, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	b := byte(c)
	if inRange(b, 'A', 'Z') {
		b += 'a' - 'A'
	}
	return ok(uint64(b)), nil
}
