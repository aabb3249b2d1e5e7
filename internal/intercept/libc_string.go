package intercept

import "github.com/zboralski/galago/internal/svc"

const maxStrRead = 4096

func (l *Libc) installString() error {
	h := l.host
	reg := func(fn svc.HandlerFunc, names ...string) error { return h.register(l.tab, fn, names...) }

	for _, e := range []struct {
		fn    svc.HandlerFunc
		names []string
	}{
		{l.handleStrlen, []string{"strlen"}},
		{l.handleMemcpy, []string{"memcpy"}},
		{l.handleMemset, []string{"memset"}},
		{l.handleMemmove, []string{"memmove"}},
		{l.handleMemcmp, []string{"memcmp"}},
		{l.handleStrcmp, []string{"strcmp"}},
		{l.handleStrncmp, []string{"strncmp"}},
		{l.handleStrcpy, []string{"strcpy"}},
		{l.handleStrncpy, []string{"strncpy"}},
		{l.handleStrcat, []string{"strcat"}},
		{l.handleStrncat, []string{"strncat"}},
		{l.handleStrchr, []string{"strchr"}},
		{l.handleStrrchr, []string{"strrchr"}},
		{l.handleStrstr, []string{"strstr"}},
		{l.handleStrdup, []string{"strdup"}},
		{l.handleStrndup, []string{"strndup"}},
	} {
		if err := reg(e.fn, e.names...); err != nil {
			return err
		}
	}
	return nil
}

func (l *Libc) handleStrlen(ctx *svc.Context) (svc.Result, error) {
	addr, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	s := l.host.readString(addr, maxStrRead)
	return ok(uint64(len(s))), nil
}

func (l *Libc) handleMemcpy(ctx *svc.Context) (svc.Result, error) {
	dest, _ := ctx.X(0)
	src, _ := ctx.X(1)
	n, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	if n > 0 && n < 0x100000 {
		if data, err := l.host.cpu.MemRead(src, int(n)); err == nil {
			l.host.cpu.MemWrite(dest, data)
		}
	}
	return ok(dest), nil
}

func (l *Libc) handleMemset(ctx *svc.Context) (svc.Result, error) {
	dest, _ := ctx.X(0)
	c, _ := ctx.X(1)
	n, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	if n > 0 && n < 0x100000 {
		data := make([]byte, n)
		fill := byte(c & 0xFF)
		for i := range data {
			data[i] = fill
		}
		l.host.cpu.MemWrite(dest, data)
	}
	return ok(dest), nil
}

func (l *Libc) handleMemmove(ctx *svc.Context) (svc.Result, error) {
	return l.handleMemcpy(ctx)
}

func (l *Libc) handleMemcmp(ctx *svc.Context) (svc.Result, error) {
	a1, _ := ctx.X(0)
	a2, _ := ctx.X(1)
	n, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	var result uint64
	if n > 0 && n < 0x100000 {
		s1, _ := l.host.cpu.MemRead(a1, int(n))
		s2, _ := l.host.cpu.MemRead(a2, int(n))
		for i := 0; i < len(s1) && i < len(s2); i++ {
			if s1[i] < s2[i] {
				result = ^uint64(0)
				break
			} else if s1[i] > s2[i] {
				result = 1
				break
			}
		}
	}
	return ok(result), nil
}

func (l *Libc) handleStrcmp(ctx *svc.Context) (svc.Result, error) {
	a1, _ := ctx.X(0)
	a2, _ := ctx.X(1)
	s1 := l.host.readString(a1, maxStrRead)
	s2 := l.host.readString(a2, maxStrRead)
	return ok(strcmpResult(s1, s2)), nil
}

func (l *Libc) handleStrncmp(ctx *svc.Context) (svc.Result, error) {
	a1, _ := ctx.X(0)
	a2, _ := ctx.X(1)
	n, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	s1 := truncate(l.host.readString(a1, maxStrRead), n)
	s2 := truncate(l.host.readString(a2, maxStrRead), n)
	return ok(strcmpResult(s1, s2)), nil
}

func strcmpResult(a, b string) uint64 {
	switch {
	case a < b:
		return ^uint64(0)
	case a > b:
		return 1
	default:
		return 0
	}
}

func truncate(s string, n uint64) string {
	if uint64(len(s)) > n {
		return s[:n]
	}
	return s
}

func (l *Libc) handleStrcpy(ctx *svc.Context) (svc.Result, error) {
	dest, _ := ctx.X(0)
	src, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	s := l.host.readString(src, maxStrRead)
	l.host.writeString(dest, s)
	return ok(dest), nil
}

func (l *Libc) handleStrncpy(ctx *svc.Context) (svc.Result, error) {
	dest, _ := ctx.X(0)
	src, _ := ctx.X(1)
	n, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	s := truncate(l.host.readString(src, maxStrRead), n)
	buf := make([]byte, n)
	copy(buf, s)
	l.host.cpu.MemWrite(dest, buf)
	return ok(dest), nil
}

func (l *Libc) handleStrcat(ctx *svc.Context) (svc.Result, error) {
	dest, _ := ctx.X(0)
	src, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	base := l.host.readString(dest, maxStrRead)
	tail := l.host.readString(src, maxStrRead)
	l.host.writeString(dest+uint64(len(base)), tail)
	return ok(dest), nil
}

func (l *Libc) handleStrncat(ctx *svc.Context) (svc.Result, error) {
	dest, _ := ctx.X(0)
	src, _ := ctx.X(1)
	n, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	base := l.host.readString(dest, maxStrRead)
	tail := truncate(l.host.readString(src, maxStrRead), n)
	l.host.writeString(dest+uint64(len(base)), tail)
	return ok(dest), nil
}

func (l *Libc) handleStrchr(ctx *svc.Context) (svc.Result, error) {
	addr, _ := ctx.X(0)
	c, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	s := l.host.readString(addr, maxStrRead)
	idx := indexByte(s, byte(c))
	if idx < 0 {
		if byte(c) == 0 {
			return ok(addr + uint64(len(s))), nil
		}
		return ok(0), nil
	}
	return ok(addr + uint64(idx)), nil
}

func (l *Libc) handleStrrchr(ctx *svc.Context) (svc.Result, error) {
	addr, _ := ctx.X(0)
	c, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	s := l.host.readString(addr, maxStrRead)
	idx := lastIndexByte(s, byte(c))
	if idx < 0 {
		return ok(0), nil
	}
	return ok(addr + uint64(idx)), nil
}

func (l *Libc) handleStrstr(ctx *svc.Context) (svc.Result, error) {
	haystackAddr, _ := ctx.X(0)
	needleAddr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	haystack := l.host.readString(haystackAddr, maxStrRead)
	needle := l.host.readString(needleAddr, maxStrRead)
	idx := indexString(haystack, needle)
	if idx < 0 {
		return ok(0), nil
	}
	return ok(haystackAddr + uint64(idx)), nil
}

func (l *Libc) handleStrdup(ctx *svc.Context) (svc.Result, error) {
	addr, err := ctx.X(0)
	if err != nil {
		return nil, err
	}
	s := l.host.readString(addr, maxStrRead)
	buf := l.host.alloc.Malloc(uint64(len(s) + 1))
	l.host.writeString(buf, s)
	return ok(buf), nil
}

func (l *Libc) handleStrndup(ctx *svc.Context) (svc.Result, error) {
	addr, _ := ctx.X(0)
	n, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	s := truncate(l.host.readString(addr, maxStrRead), n)
	buf := l.host.alloc.Malloc(uint64(len(s) + 1))
	l.host.writeString(buf, s)
	return ok(buf), nil
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func lastIndexByte(s string, c byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func indexString(haystack, needle string) int {
	if len(needle) == 0 {
		return 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
