package elf

// DynSymbols returns the dynamic symbol table (`.dynsym`), parsed and
// cached on first call.
func (f *File) DynSymbols() ([]Symbol, error) {
	return f.dynSymbols.o.get(func() ([]Symbol, error) {
		sh := f.sectionByType(SHT_DYNSYM)
		if sh == nil {
			// Fall back to the dynamic table's DT_SYMTAB, since stripped
			// Android shared objects frequently carry no section headers
			// at all and must be resolved purely from PT_DYNAMIC.
			symOff, ok := f.DynValue(DT_SYMTAB)
			if !ok {
				return nil, nil
			}
			strtab, err := f.dynStringTable()
			if err != nil {
				return nil, err
			}
			// Without a section header we don't know the table size; take
			// symbols up to the string table (the next thing in the
			// image) as the conventional layout places .dynstr right
			// after .dynsym.
			off := f.vaddrToOffset(symOff)
			strOff, _ := f.DynValue(DT_STRTAB)
			end := f.vaddrToOffset(strOff)
			if end <= off {
				return nil, parseErrorf("cannot bound .dynsym without section headers")
			}
			return parseSymbolTable(f.raw, off, end-off, strtab)
		}
		strtab, err := f.dynStringTable()
		if err != nil {
			return nil, err
		}
		return parseSymbolTable(f.raw, sh.Offset, sh.Size, strtab)
	})
}

// Symbols returns the static symbol table (`.symtab`) if present (debug
// builds only; stripped Android libraries have none).
func (f *File) Symbols() ([]Symbol, error) {
	return f.symbols.o.get(func() ([]Symbol, error) {
		sh := f.sectionByType(SHT_SYMTAB)
		if sh == nil {
			return nil, nil
		}
		strSh := f.sectionByName(".strtab")
		var strtab *StringTable
		if strSh != nil {
			var err error
			strtab, err = newStringTable(f.raw, strSh.Offset, strSh.Size)
			if err != nil {
				return nil, err
			}
		}
		return parseSymbolTable(f.raw, sh.Offset, sh.Size, strtab)
	})
}

// HashTable returns the SysV `.hash` table, if present.
func (f *File) HashTable() (*HashTable, error) {
	return f.hashTab.get(func() (*HashTable, error) {
		if off, ok := f.DynValue(DT_HASH); ok {
			fileOff := f.vaddrToOffset(off)
			return parseHashTable(f.raw, fileOff, uint64(len(f.raw))-fileOff)
		}
		sh := f.sectionByType(SHT_HASH)
		if sh == nil {
			return nil, nil
		}
		return parseHashTable(f.raw, sh.Offset, sh.Size)
	})
}

// GnuHashTable returns the `.gnu.hash` table, if present.
func (f *File) GnuHashTable() (*GnuHashTable, error) {
	return f.gnuHashTab.get(func() (*GnuHashTable, error) {
		if off, ok := f.DynValue(DT_GNU_HASH); ok {
			fileOff := f.vaddrToOffset(off)
			// Section size is unknown from the dynamic tag alone; parse
			// against the remainder of the file and let the internal
			// bounds checks stop at truncation.
			return parseGnuHashTable(f.raw, fileOff, uint64(len(f.raw))-fileOff)
		}
		sh := f.sectionByName(".gnu.hash")
		if sh == nil {
			return nil, nil
		}
		return parseGnuHashTable(f.raw, sh.Offset, sh.Size)
	})
}

// RelaDyn returns the `.rela.dyn` relocations (DT_RELA/DT_RELASZ).
func (f *File) RelaDyn() ([]Relocation, error) {
	return f.relaDyn.get(func() ([]Relocation, error) {
		off, ok := f.DynValue(DT_RELA)
		if !ok {
			sh := f.sectionByName(".rela.dyn")
			if sh == nil {
				return nil, nil
			}
			return parseRelocations(f.raw, sh.Offset, sh.Size, sh.EntSize)
		}
		size, _ := f.DynValue(DT_RELASZ)
		entSize, _ := f.DynValue(DT_RELAENT)
		return parseRelocations(f.raw, f.vaddrToOffset(off), size, entSize)
	})
}

// RelaPlt returns the PLT relocations (DT_JMPREL/DT_PLTRELSZ).
func (f *File) RelaPlt() ([]Relocation, error) {
	return f.relaPlt.get(func() ([]Relocation, error) {
		off, ok := f.DynValue(DT_JMPREL)
		if !ok {
			sh := f.sectionByName(".rela.plt")
			if sh == nil {
				return nil, nil
			}
			return parseRelocations(f.raw, sh.Offset, sh.Size, sh.EntSize)
		}
		size, _ := f.DynValue(DT_PLTRELSZ)
		return parseRelocations(f.raw, f.vaddrToOffset(off), size, 24)
	})
}

// InitArray returns the raw `.init_array` entries as load-base-relative
// or absolute pointers, per DT_INIT_ARRAY/DT_INIT_ARRAYSZ. Each entry is
// 8 bytes wide: this parser is ELF64-only and never handles the 4-byte
// ELF32 encoding. Distinguishing "absolute" from "linux-style" entries
// is the dynamic linker's job (§4.5), not the parser's: the raw int64
// values are handed back unchanged.
func (f *File) InitArray() ([]int64, error) {
	return f.initArray.get(func() ([]int64, error) {
		off, ok := f.DynValue(DT_INIT_ARRAY)
		if !ok {
			return nil, nil
		}
		size, _ := f.DynValue(DT_INIT_ARRAYSZ)
		fileOff := f.vaddrToOffset(off)
		if fileOff+size > uint64(len(f.raw)) {
			return nil, parseErrorf(".init_array truncated")
		}
		n := size / 8
		out := make([]int64, n)
		for i := uint64(0); i < n; i++ {
			out[i] = int64(leUint64(f.raw[fileOff+i*8:]))
		}
		return out, nil
	})
}

// DynSymbolLocator exposes the dynamic symbol table through the
// SymbolLocator indirection so relocation-apply code (linker package)
// doesn't care whether a given table was materialized from a section
// header or read straight off PT_DYNAMIC.
func (f *File) DynSymbolLocator() (SymbolLocator, error) {
	syms, err := f.DynSymbols()
	if err != nil {
		return nil, err
	}
	return NewSymtabLocator(syms), nil
}

func leUint64(b []byte) uint64 {
	_ = b[7]
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}
