// Package linker resolves an ELF image's DT_NEEDED graph, maps every
// module's segments into guest memory, and applies relocations against
// a symbol search order of (module itself -> its dependencies,
// breadth-first -> the hook-listener chain).
package linker

import (
	"github.com/zboralski/galago/internal/backend"
	"github.com/zboralski/galago/internal/elf"
)

// Segment is one mapped PT_LOAD span of a loaded module, already
// relocated to its final guest address.
type Segment struct {
	Base uint64
	Size uint64
	Prot backend.Prot
}

// Module is one loaded shared object: either a real ELF image mapped
// from disk, or a Virtual module whose symbols are supplied directly by
// a hook listener (the façade registers libc.so, libdl.so, libm.so,
// libstdc++.so and liblog.so this way, because every symbol they export
// is intercepted).
type Module struct {
	Name     string // the name the module was requested or registered under
	Path     string // resolved disk path; empty for a virtual module
	LoadBase uint64
	Segments []Segment
	Needed   []string

	Virtual bool

	file    *elf.File
	symbols []elf.Symbol
	locator elf.SymbolLocator

	// virtualSymbols backs FindSymbol for a Virtual module: every
	// exported name resolves to its own SVC trampoline address, assigned
	// when the hook listener that owns the module registers it.
	virtualSymbols map[string]uint64
}

// FindSymbol looks up name among this module's exported, defined
// symbols (not imports). It never recurses into dependencies; that is
// the linker's job via the module+deps-BFS search order.
func (m *Module) FindSymbol(name string) (uint64, bool) {
	if m.Virtual {
		addr, ok := m.virtualSymbols[name]
		return addr, ok
	}
	for _, s := range m.symbols {
		if s.Name == name && s.Defined() && s.Bind() != 0 /* STB_LOCAL excluded from export */ {
			return m.LoadBase + s.Value, true
		}
	}
	return 0, false
}

// File returns the parsed ELF image backing this module, or nil for a
// virtual module.
func (m *Module) File() *elf.File { return m.file }
