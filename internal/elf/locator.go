package elf

// SymbolLocator is the polymorphic indirection a relocation walks to
// find its symbol: some relocation tables are keyed against an
// already-materialized symbol slice, others read straight off a
// DT_SYMTAB-rooted byte range without forcing that table to be fully
// parsed and cached. Both implementations answer the same Lookup(idx)
// contract so the relocation-apply code path is shared between
// `.rela.plt` and ordinary `.rela.dyn`/Android packed relocations.
type SymbolLocator interface {
	Lookup(idx uint32) (Symbol, error)
}

// symtabLocator locates symbols in an already-parsed slice, as used by
// `f.Symbols()`/`f.DynSymbols()` once materialized.
type symtabLocator struct {
	syms []Symbol
}

func (l *symtabLocator) Lookup(idx uint32) (Symbol, error) {
	if int(idx) >= len(l.syms) {
		return Symbol{}, parseErrorf("symbol index %d out of range", idx)
	}
	return l.syms[idx], nil
}

// sectionLocator reads one Elf64_Sym directly from a raw byte range
// rooted at a DT_SYMTAB value, without parsing or caching the whole
// table — used when only a handful of indices from a large dynsym are
// ever dereferenced (the common case for a sparse `.rela.plt`).
type sectionLocator struct {
	raw    []byte
	off    uint64
	strtab *StringTable
}

func (l *sectionLocator) Lookup(idx uint32) (Symbol, error) {
	base := l.off + uint64(idx)*symEntSize
	if base+symEntSize > uint64(len(l.raw)) {
		return Symbol{}, parseErrorf("symbol index %d out of range", idx)
	}
	syms, err := parseSymbolTable(l.raw, base, symEntSize, l.strtab)
	if err != nil {
		return Symbol{}, err
	}
	return syms[0], nil
}

// NewSymtabLocator wraps an already-materialized symbol slice.
func NewSymtabLocator(syms []Symbol) SymbolLocator { return &symtabLocator{syms: syms} }
