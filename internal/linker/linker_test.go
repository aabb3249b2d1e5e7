package linker

import (
	"encoding/binary"
	"testing"

	"github.com/zboralski/galago/internal/backend"
	"github.com/zboralski/galago/internal/log"
	"github.com/zboralski/galago/internal/memory"
	"github.com/zboralski/galago/internal/sched"
	"github.com/zboralski/galago/internal/svc"
)

// mapResolver resolves names from an in-memory map, used so tests never
// touch the filesystem.
type mapResolver map[string][]byte

func (m mapResolver) Resolve(name string) ([]byte, string, error) {
	data, ok := m[name]
	if !ok {
		return nil, "", &LoadError{Name: name, Reason: "not found"}
	}
	return data, "mem://" + name, nil
}

// buildMinimalSO returns a syntactically valid, dependency-free ARM64
// ELF64 shared object: one PT_LOAD segment covering the whole file and
// a PT_DYNAMIC segment holding a single DT_NULL terminator, no section
// headers, no DT_NEEDED, no relocations.
func buildMinimalSO() []byte {
	const ehdrSize = 64
	const phentSize = 56
	const phNum = 2
	phOff := uint64(ehdrSize)
	dynOff := phOff + phentSize*phNum
	total := dynOff + 16

	buf := make([]byte, total)
	buf[0], buf[1], buf[2], buf[3] = 0x7F, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	le := binary.LittleEndian
	le.PutUint16(buf[16:18], 3)   // ET_DYN
	le.PutUint16(buf[18:20], 183) // EM_AARCH64
	le.PutUint64(buf[24:32], 0)   // e_entry
	le.PutUint64(buf[32:40], phOff)
	le.PutUint64(buf[40:48], 0) // e_shoff
	le.PutUint16(buf[52:54], ehdrSize)
	le.PutUint16(buf[54:56], phentSize)
	le.PutUint16(buf[56:58], phNum)
	le.PutUint16(buf[58:60], 0) // e_shentsize
	le.PutUint16(buf[60:62], 0) // e_shnum
	le.PutUint16(buf[62:64], 0) // e_shstrndx

	writePhdr := func(off uint64, typ, flags uint32, offset, vaddr, filesz, memsz, align uint64) {
		b := buf[off : off+phentSize]
		le.PutUint32(b[0:4], typ)
		le.PutUint32(b[4:8], flags)
		le.PutUint64(b[8:16], offset)
		le.PutUint64(b[16:24], vaddr)
		le.PutUint64(b[24:32], vaddr) // paddr
		le.PutUint64(b[32:40], filesz)
		le.PutUint64(b[40:48], memsz)
		le.PutUint64(b[48:56], align)
	}
	writePhdr(phOff, 1 /* PT_LOAD */, 5 /* R|X */, 0, 0, total, total, 0x1000)
	writePhdr(phOff+phentSize, 2 /* PT_DYNAMIC */, 6 /* RW */, dynOff, dynOff, 16, 16, 8)

	// One DT_NULL terminator entry.
	le.PutUint64(buf[dynOff:dynOff+8], 0)
	le.PutUint64(buf[dynOff+8:dynOff+16], 0)

	return buf
}

func newTestLinker(t *testing.T, resolver LibraryResolver) (*Linker, backend.CPU, *memory.Manager) {
	t.Helper()
	cpu := backend.NewMock()
	layout := memory.SmallLayout
	mem, err := memory.New(cpu, layout)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	reg := svc.NewRegistry(cpu, layout, svc.NewBuiltinAssembler())
	caller := sched.NewCaller(cpu, mem, reg)
	return New(cpu, mem, resolver, caller, log.NewNop()), cpu, mem
}

func TestLoadMinimalModuleNoDeps(t *testing.T) {
	resolver := mapResolver{"libtarget.so": buildMinimalSO()}
	l, _, _ := newTestLinker(t, resolver)

	m, err := l.Load("libtarget.so")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.LoadBase == 0 {
		t.Fatalf("expected non-zero load base")
	}
	if len(m.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(m.Segments))
	}
	if len(m.Needed) != 0 {
		t.Fatalf("expected no dependencies, got %v", m.Needed)
	}

	// Loading again returns the cached module, not a second copy.
	m2, err := l.Load("libtarget.so")
	if err != nil {
		t.Fatalf("Load (cached): %v", err)
	}
	if m2 != m {
		t.Fatalf("Load did not return the cached module on reload")
	}
}

func TestLoadMissingLibraryErrors(t *testing.T) {
	l, _, _ := newTestLinker(t, mapResolver{})
	if _, err := l.Load("libmissing.so"); err == nil {
		t.Fatalf("expected error loading unresolvable library")
	}
}

func TestVirtualModuleSymbolLookup(t *testing.T) {
	l, _, _ := newTestLinker(t, mapResolver{})
	m := l.RegisterVirtualModule("libc.so", map[string]uint64{"malloc": 0x1000, "free": 0x1008})

	addr, ok := m.FindSymbol("malloc")
	if !ok || addr != 0x1000 {
		t.Fatalf("FindSymbol(malloc) = (0x%x, %v), want (0x1000, true)", addr, ok)
	}
	if _, ok := m.FindSymbol("nonexistent"); ok {
		t.Fatalf("FindSymbol should not resolve unregistered virtual symbol")
	}
}

func TestHookListenerFallbackResolvesUndefinedSymbol(t *testing.T) {
	l, _, _ := newTestLinker(t, mapResolver{})
	from := &Module{Name: "libtarget.so"}

	l.RegisterHookListener(fakeListener{"__android_log_print": 0xDEAD})

	addr, ok := l.lookupSymbol("__android_log_print", from)
	if !ok || addr != 0xDEAD {
		t.Fatalf("lookupSymbol fallback = (0x%x, %v), want (0xdead, true)", addr, ok)
	}

	if _, ok := l.lookupSymbol("totally_unknown_symbol", from); ok {
		t.Fatalf("lookupSymbol resolved a symbol no listener provides")
	}
}

type fakeListener map[string]uint64

func (f fakeListener) ResolveSymbol(name string) (uint64, bool) {
	addr, ok := f[name]
	return addr, ok
}
