package linker

import (
	"github.com/zboralski/galago/internal/backend"
	"github.com/zboralski/galago/internal/elf"
	"github.com/zboralski/galago/internal/log"
	"github.com/zboralski/galago/internal/memory"
	"github.com/zboralski/galago/internal/sched"
)

// HookListener is the last stage of symbol resolution: anything neither
// the loading module nor its dependency graph define falls through to
// the chain of registered listeners (the intercept layer's libc/
// android/pthread symbol tables, plus any host-registered listener),
// in registration order.
type HookListener interface {
	ResolveSymbol(name string) (addr uint64, ok bool)
}

// Linker loads ELF shared objects, resolves their DT_NEEDED graph, maps
// their segments, and applies relocations.
type Linker struct {
	cpu      backend.CPU
	mem      *memory.Manager
	resolver LibraryResolver
	caller   *sched.Caller
	log      *log.Logger

	modules   map[string]*Module
	order     []*Module
	listeners []HookListener
}

// New creates a Linker. caller is used to invoke `.init_array` entries
// through the same nested-call mechanism as any other host->guest call.
// logger receives one Reloc event per relocation applied; pass
// log.NewNop() if load-time relocation tracing isn't wanted.
func New(cpu backend.CPU, mem *memory.Manager, resolver LibraryResolver, caller *sched.Caller, logger *log.Logger) *Linker {
	return &Linker{
		cpu:      cpu,
		mem:      mem,
		resolver: resolver,
		caller:   caller,
		log:      logger,
		modules:  make(map[string]*Module),
	}
}

// RegisterHookListener appends hl to the end of the fallback resolution
// chain.
func (l *Linker) RegisterHookListener(hl HookListener) {
	l.listeners = append(l.listeners, hl)
}

// RegisterVirtualModule installs a module whose exports are entirely
// supplied by a hook listener (an SVC trampoline per symbol) rather
// than mapped from a real .so. The façade registers libc.so, libdl.so,
// libm.so, libstdc++.so and liblog.so this way; libjnigraphics.so is
// not registered, so a DT_NEEDED on it goes to the LibraryResolver.
func (l *Linker) RegisterVirtualModule(name string, symbols map[string]uint64) *Module {
	m := &Module{Name: name, Virtual: true, virtualSymbols: symbols}
	l.modules[name] = m
	l.order = append(l.order, m)
	return m
}

// Module returns an already-loaded module by name.
func (l *Linker) Module(name string) (*Module, bool) {
	m, ok := l.modules[name]
	return m, ok
}

// ResolveAny searches every loaded module's exports, in load order,
// then the hook-listener chain -- the RTLD_DEFAULT search dlsym(3)
// performs against a NULL or pseudo-handle, used by the dlsym
// intercept to answer a guest's own symbol lookups.
func (l *Linker) ResolveAny(name string) (uint64, bool) {
	for _, m := range l.order {
		if addr, ok := m.FindSymbol(name); ok {
			return addr, true
		}
	}
	for _, hl := range l.listeners {
		if addr, ok := hl.ResolveSymbol(name); ok {
			return addr, true
		}
	}
	return 0, false
}

// Load resolves, maps, and relocates name and its full DT_NEEDED graph,
// returning the top-level module. A module already loaded under the
// same requested name is returned without reloading; a module's own
// DT_SONAME is not consulted.
func (l *Linker) Load(name string) (*Module, error) {
	if m, ok := l.modules[name]; ok {
		return m, nil
	}

	data, path, err := l.resolver.Resolve(name)
	if err != nil {
		return nil, err
	}
	return l.loadData(name, path, data)
}

// LoadBytes loads a module from an already-in-memory ELF image under
// name, instead of resolving it from a search path — used by the
// façade's LoadLibrary when the host supplies raw bytes (an extracted
// APK entry, a library fetched over the network) rather than a path.
// name still drives DT_NEEDED dependency resolution through the normal
// resolver for anything the image itself requires.
func (l *Linker) LoadBytes(name string, data []byte) (*Module, error) {
	if m, ok := l.modules[name]; ok {
		return m, nil
	}
	return l.loadData(name, "", data)
}

func (l *Linker) loadData(name, path string, data []byte) (*Module, error) {
	f, err := elf.Open(data)
	if err != nil {
		return nil, loadErrorf(name, "parsing ELF: %v", err)
	}

	m := &Module{Name: name, Path: path, file: f}
	// Reserve the name before recursing so a dependency cycle resolves
	// to the in-progress module rather than loading it twice.
	l.modules[name] = m

	needed, err := f.Needed()
	if err != nil {
		return nil, loadErrorf(name, "reading DT_NEEDED: %v", err)
	}
	m.Needed = needed
	for _, dep := range needed {
		if _, err := l.Load(dep); err != nil {
			return nil, loadErrorf(name, "loading dependency %q: %v", dep, err)
		}
	}

	if err := l.mapSegments(m, f); err != nil {
		return nil, err
	}

	syms, err := f.DynSymbols()
	if err != nil {
		return nil, loadErrorf(name, "reading dynamic symbols: %v", err)
	}
	m.symbols = syms
	m.locator = elf.NewSymtabLocator(syms)

	if err := l.applyRelocations(m, f); err != nil {
		return nil, err
	}
	l.finalizeProtections(m, f)

	l.order = append(l.order, m)

	if err := l.runInitArray(m, f); err != nil {
		return nil, err
	}

	return m, nil
}

// mapSegments picks a load_base for m via first-fit and copies every
// PT_LOAD segment's file-backed bytes into place. Segments are mapped
// RWX initially so relocation writes work; finalizeProtections narrows
// them to their real flags once relocations are applied, before the
// module's .init_array runs.
func (l *Linker) mapSegments(m *Module, f *elf.File) error {
	var lo, hi uint64
	first := true
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if first || p.VAddr < lo {
			lo = p.VAddr
		}
		end := p.VAddr + p.MemSz
		if first || end > hi {
			hi = end
		}
		first = false
	}
	if first {
		return loadErrorf(m.Name, "no PT_LOAD segments")
	}
	span := memory.AlignUp(hi - lo)
	loadBase := l.mem.FindFreeRange(l.mem.Layout().MmapBase, span)
	m.LoadBase = loadBase - lo

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		base := memory.AlignDown(m.LoadBase + p.VAddr)
		size := memory.AlignUp((m.LoadBase + p.VAddr + p.MemSz) - base)
		if err := l.cpu.MemMap(base, size, backend.ProtRead|backend.ProtWrite|backend.ProtExec); err != nil {
			return loadErrorf(m.Name, "mapping segment at 0x%x: %v", base, err)
		}
		if p.FileSz > 0 {
			data := f.Raw()[p.Offset : p.Offset+p.FileSz]
			if err := l.cpu.MemWrite(m.LoadBase+p.VAddr, data); err != nil {
				return loadErrorf(m.Name, "writing segment at 0x%x: %v", m.LoadBase+p.VAddr, err)
			}
		}
		prot := backend.ProtNone
		if p.IsReadable() {
			prot |= backend.ProtRead
		}
		if p.IsWritable() {
			prot |= backend.ProtWrite
		}
		if p.IsExecutable() {
			prot |= backend.ProtExec
		}
		m.Segments = append(m.Segments, Segment{Base: base, Size: size, Prot: prot})
		l.mem.RegisterRegion(memory.Region{Base: base, Size: size, Prot: backend.ProtRead | backend.ProtWrite | backend.ProtExec, Name: m.Name, Owner: memory.OwnerModule})
	}
	return nil
}

// finalizeProtections narrows each segment down to its real PT_LOAD
// flags now that relocations have been written into it. It runs before
// the module's .init_array entries.
func (l *Linker) finalizeProtections(m *Module, f *elf.File) {
	for _, seg := range m.Segments {
		l.mem.Mprotect(seg.Base, seg.Size, seg.Prot)
	}
}

// lookupSymbol implements the search order: the module that needed the
// symbol first, then its DT_NEEDED dependencies breadth-first, then the
// hook-listener chain in registration order.
func (l *Linker) lookupSymbol(name string, from *Module) (uint64, bool) {
	if addr, ok := from.FindSymbol(name); ok {
		return addr, true
	}

	visited := map[string]bool{from.Name: true}
	queue := append([]string(nil), from.Needed...)
	for len(queue) > 0 {
		depName := queue[0]
		queue = queue[1:]
		if visited[depName] {
			continue
		}
		visited[depName] = true
		dep, ok := l.modules[depName]
		if !ok {
			continue
		}
		if addr, ok := dep.FindSymbol(name); ok {
			return addr, true
		}
		queue = append(queue, dep.Needed...)
	}

	for _, hl := range l.listeners {
		if addr, ok := hl.ResolveSymbol(name); ok {
			return addr, true
		}
	}
	return 0, false
}

// applyRelocations applies every entry in .rela.dyn and .rela.plt
// against m's already-mapped segments.
func (l *Linker) applyRelocations(m *Module, f *elf.File) error {
	dynSyms, err := f.DynSymbols()
	if err != nil {
		return err
	}

	apply := func(relocs []elf.Relocation) error {
		for _, r := range relocs {
			target := m.LoadBase + r.Offset
			switch r.Type() {
			case elf.R_AARCH64_RELATIVE:
				value := uint64(int64(m.LoadBase) + r.Addend)
				if err := l.writeU64(target, value); err != nil {
					return err
				}
				l.log.Reloc(m.Name, r.Type(), target, value)
			case elf.R_AARCH64_GLOB_DAT, elf.R_AARCH64_JUMP_SLOT, elf.R_AARCH64_ABS64:
				sym := dynSyms[r.Sym()]
				addr, ok := l.resolveSymbolRef(m, sym)
				if !ok && !sym.Weak() {
					return loadErrorf(m.Name, "undefined symbol %q (reloc type %d)", sym.Name, r.Type())
				}
				value := addr + uint64(r.Addend)
				if err := l.writeU64(target, value); err != nil {
					return err
				}
				l.log.Reloc(m.Name, r.Type(), target, value)
			case elf.R_AARCH64_COPY:
				sym := dynSyms[r.Sym()]
				addr, ok := l.resolveSymbolRef(m, sym)
				if !ok {
					continue
				}
				data, err := l.cpu.MemRead(addr, int(sym.Size))
				if err != nil {
					return err
				}
				if err := l.cpu.MemWrite(target, data); err != nil {
					return err
				}
				l.log.Reloc(m.Name, r.Type(), target, addr)
			case elf.R_AARCH64_TLS_DTPMOD64, elf.R_AARCH64_TLS_DTPREL64, elf.R_AARCH64_TLS_TPREL64:
				// TLS relocations are satisfied by the per-task TPIDR_EL0
				// block the scheduler sets up; this linker leaves the slot
				// as the loader-provided zero and lets the TLS access path
				// resolve it at call time. Nothing to do at load time.
			case elf.R_AARCH64_IRELATIVE:
				resolver := m.LoadBase + uint64(r.Addend)
				addr, err := l.callResolver(resolver)
				if err != nil {
					return err
				}
				if err := l.writeU64(target, addr); err != nil {
					return err
				}
				l.log.Reloc(m.Name, r.Type(), target, addr)
			}
		}
		return nil
	}

	relaDyn, err := f.RelaDyn()
	if err != nil {
		return err
	}
	if err := apply(relaDyn); err != nil {
		return loadErrorf(m.Name, "applying .rela.dyn: %v", err)
	}
	relaPlt, err := f.RelaPlt()
	if err != nil {
		return err
	}
	if err := apply(relaPlt); err != nil {
		return loadErrorf(m.Name, "applying .rela.plt: %v", err)
	}
	return nil
}

func (l *Linker) resolveSymbolRef(m *Module, sym elf.Symbol) (uint64, bool) {
	if sym.Defined() {
		return m.LoadBase + sym.Value, true
	}
	return l.lookupSymbol(sym.Name, m)
}

func (l *Linker) callResolver(addr uint64) (uint64, error) {
	if l.caller == nil {
		return addr, nil
	}
	return l.caller.Call(addr, nil)
}

func (l *Linker) writeU64(addr, v uint64) error {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return l.cpu.MemWrite(addr, b)
}

// runInitArray invokes every `.init_array` entry in file order. Entries
// are the raw values stored in the file image. A value below the
// module's load base is taken as load-base-relative (the "linux style")
// and has LoadBase added; any other value is taken as an absolute
// address and called as it stands. Zero entries are skipped.
func (l *Linker) runInitArray(m *Module, f *elf.File) error {
	if l.caller == nil {
		return nil
	}
	entries, err := f.InitArray()
	if err != nil {
		return loadErrorf(m.Name, "reading .init_array: %v", err)
	}
	for _, raw := range entries {
		addr := uint64(raw)
		if addr < m.LoadBase {
			addr += m.LoadBase
		}
		if addr == 0 {
			continue
		}
		if _, err := l.caller.Call(addr, nil); err != nil {
			return loadErrorf(m.Name, "running init_array entry at 0x%x: %v", addr, err)
		}
	}
	return nil
}
