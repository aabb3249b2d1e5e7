package intercept

import "github.com/zboralski/galago/internal/svc"

// installStdio wires the printf/puts/FILE* family. None of these
// actually interpret a va_list of format arguments (no CPU backend
// this port targets exposes the variadic argument save area in a way
// worth decoding for a debug stub); like the teacher's own printf
// stubs, each one reports the raw format string and returns its
// length, which is enough for guests that only check the return value
// or log the call for tracing.
func (l *Libc) installStdio() error {
	h := l.host
	reg := func(fn svc.HandlerFunc, names ...string) error { return h.register(l.tab, fn, names...) }

	if err := reg(l.handlePrintf, "printf", "vprintf"); err != nil {
		return err
	}
	if err := reg(l.handleFprintf, "fprintf", "vfprintf", "__fprintf_chk"); err != nil {
		return err
	}
	if err := reg(l.handlePrintfChk, "__printf_chk"); err != nil {
		return err
	}
	if err := reg(l.handleSprintf, "sprintf", "vsprintf", "__sprintf_chk"); err != nil {
		return err
	}
	if err := reg(l.handleSnprintf, "snprintf", "vsnprintf", "__snprintf_chk", "__vsnprintf_chk"); err != nil {
		return err
	}
	if err := reg(l.handleAsprintf, "asprintf", "vasprintf"); err != nil {
		return err
	}
	if err := reg(l.handlePuts, "puts", "fputs"); err != nil {
		return err
	}
	if err := reg(l.handlePassthroughByte, "putchar", "fputc", "putc"); err != nil {
		return err
	}
	if err := reg(l.handleFwrite, "fwrite"); err != nil {
		return err
	}
	if err := reg(l.handleZero, "fread"); err != nil {
		return err
	}
	if err := reg(l.handleZero, "fflush", "fclose", "fseek", "ftell", "ferror", "rewind", "clearerr"); err != nil {
		return err
	}
	if err := reg(l.handleZero, "fopen"); err != nil {
		return err
	}
	if err := reg(l.handleFeof, "feof"); err != nil {
		return err
	}
	if err := reg(l.handleFileno, "fileno"); err != nil {
		return err
	}
	if err := reg(l.handlePerror, "perror"); err != nil {
		return err
	}
	if err := reg(l.handleStrerror, "strerror"); err != nil {
		return err
	}
	if err := reg(l.handleStrerrorR, "strerror_r"); err != nil {
		return err
	}
	return nil
}

func (l *Libc) handlePrintf(ctx *svc.Context) (svc.Result, error) {
	fmtPtr, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	format := l.host.readString(fmtPtr, 256)
	l.host.log.Trace(0, "libc", "printf", format)
	return ok(uint64(len(format))), nil
}

func (l *Libc) handleFprintf(ctx *svc.Context) (svc.Result, error) {
	fmtPtr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	format := l.host.readString(fmtPtr, 256)
	l.host.log.Trace(0, "libc", "fprintf", format)
	return ok(uint64(len(format))), nil
}

func (l *Libc) handlePrintfChk(ctx *svc.Context) (svc.Result, error) {
	fmtPtr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	format := l.host.readString(fmtPtr, 256)
	l.host.log.Trace(0, "libc", "__printf_chk", format)
	return ok(uint64(len(format))), nil
}

func (l *Libc) handleSprintf(ctx *svc.Context) (svc.Result, error) {
	dest, _ := ctx.X(0)
	fmtPtr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	format := l.host.readString(fmtPtr, 256)
	l.host.writeString(dest, format)
	return ok(uint64(len(format))), nil
}

func (l *Libc) handleSnprintf(ctx *svc.Context) (svc.Result, error) {
	dest, _ := ctx.X(0)
	n, _ := ctx.X(1)
	fmtPtr, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	format := l.host.readString(fmtPtr, int(n))
	if n > 0 {
		format = truncate(format, n-1)
		l.host.writeString(dest, format)
	}
	return ok(uint64(len(format))), nil
}

func (l *Libc) handleAsprintf(ctx *svc.Context) (svc.Result, error) {
	retPtr, _ := ctx.X(0)
	fmtPtr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	format := l.host.readString(fmtPtr, 256)
	buf := l.host.alloc.Malloc(uint64(len(format) + 1))
	l.host.writeString(buf, format)
	l.host.writeU64(retPtr, buf)
	return ok(uint64(len(format))), nil
}

func (l *Libc) handlePuts(ctx *svc.Context) (svc.Result, error) {
	strPtr, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	s := l.host.readString(strPtr, 256)
	l.host.log.Trace(0, "libc", "puts", s)
	return ok(0), nil
}

func (l *Libc) handlePassthroughByte(ctx *svc.Context) (svc.Result, error) {
	c, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	return ok(c & 0xFF), nil
}

func (l *Libc) handleFwrite(ctx *svc.Context) (svc.Result, error) {
	nmemb, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	return ok(nmemb), nil
}

func (l *Libc) handleZero(ctx *svc.Context) (svc.Result, error) { return ok(0), nil }

func (l *Libc) handleFeof(ctx *svc.Context) (svc.Result, error) { return ok(1), nil }

func (l *Libc) handleFileno(ctx *svc.Context) (svc.Result, error) { return ok(1), nil }

func (l *Libc) handlePerror(ctx *svc.Context) (svc.Result, error) {
	strPtr, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	s := l.host.readString(strPtr, 256)
	l.host.log.Trace(0, "libc", "perror", s)
	return svc.NoWrite{}, nil
}

const unknownErrorText = "Unknown error"

func (l *Libc) handleStrerror(ctx *svc.Context) (svc.Result, error) {
	buf := l.host.alloc.Malloc(uint64(len(unknownErrorText) + 1))
	l.host.writeString(buf, unknownErrorText)
	return ok(buf), nil
}

func (l *Libc) handleStrerrorR(ctx *svc.Context) (svc.Result, error) {
	buf, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	l.host.writeString(buf, unknownErrorText)
	return ok(0), nil
}
