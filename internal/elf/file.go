// Package elf implements a byte-accurate ARM64 ELF64 decoder: headers,
// segments, sections, the dynamic table, symbols, relocations, string
// tables, and .init_array. ELF32 is intentionally out of scope — the
// parser rejects anything whose EI_CLASS is not ELFCLASS64.
package elf

import (
	"encoding/binary"
)

const (
	ELFCLASS64  = 2
	ELFDATA2LSB = 1
	EM_AARCH64  = 183

	ET_DYN = 3
	ET_EXEC = 2

	PT_LOAD    = 1
	PT_DYNAMIC = 2
	PT_INTERP  = 3

	PF_X = 1
	PF_W = 2
	PF_R = 4

	SHT_SYMTAB = 2
	SHT_STRTAB = 3
	SHT_RELA   = 4
	SHT_HASH   = 5
	SHT_DYNAMIC = 6
	SHT_NOBITS  = 8
	SHT_DYNSYM  = 11
	SHT_GNU_HASH = 0x6ffffff6

	SHN_UNDEF = 0

	DT_NULL     = 0
	DT_NEEDED   = 1
	DT_HASH     = 4
	DT_STRTAB   = 5
	DT_SYMTAB   = 6
	DT_RELA     = 7
	DT_RELASZ   = 8
	DT_RELAENT  = 9
	DT_STRSZ    = 10
	DT_SYMENT   = 11
	DT_INIT     = 12
	DT_FINI     = 13
	DT_SONAME   = 14
	DT_INIT_ARRAY     = 25
	DT_INIT_ARRAYSZ   = 27
	DT_JMPREL   = 23
	DT_PLTRELSZ = 2
	DT_GNU_HASH = 0x6ffffef5
)

// Header is the ELF64 file header, fields read in file order.
type Header struct {
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrNdx  uint16
	Type      uint16
	Machine   uint16
}

// ProgramHeader is one PT_* entry.
type ProgramHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	FileSz uint64
	MemSz  uint64
	Align  uint64
}

func (p *ProgramHeader) IsExecutable() bool { return p.Flags&PF_X != 0 }
func (p *ProgramHeader) IsWritable() bool   { return p.Flags&PF_W != 0 }
func (p *ProgramHeader) IsReadable() bool   { return p.Flags&PF_R != 0 }

// SectionHeader is one section header table entry.
type SectionHeader struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

// File is a parsed ARM64 ELF64 image. Derived tables are materialized
// lazily and memoized: the first call to e.g. DynSymbols parses the
// table once and every subsequent call returns the cached result.
type File struct {
	raw     []byte
	Header  Header
	Progs   []ProgramHeader
	Sects   []SectionHeader
	Dynamic []DynEntry

	dynStrTab *onceStrTab
	shStrTab  *onceStrTab

	dynSymbols onceSymTab
	symbols    onceSymTab
	hashTab    once[*HashTable]
	gnuHashTab once[*GnuHashTable]
	relaDyn    once[[]Relocation]
	relaPlt    once[[]Relocation]
	initArray  once[[]int64]
}

// DynEntry is one .dynamic table entry (Tag, Val/Ptr share a union in
// the file format; Val is used for both here).
type DynEntry struct {
	Tag int64
	Val uint64
}

type onceStrTab struct {
	o     once[*StringTable]
	offset, size uint64
}

type onceSymTab struct {
	o once[[]Symbol]
}

// Open parses the ELF64 header, program headers, section headers, and
// dynamic table from raw. It does not eagerly parse symbol/relocation
// tables; those are lazy via the accessor methods below.
func Open(raw []byte) (*File, error) {
	if len(raw) < 64 {
		return nil, parseErrorf("file too short for ELF header (%d bytes)", len(raw))
	}
	if raw[0] != 0x7F || raw[1] != 'E' || raw[2] != 'L' || raw[3] != 'F' {
		return nil, parseErrorf("bad magic")
	}
	if raw[4] != ELFCLASS64 {
		return nil, parseErrorf("unsupported EI_CLASS %d (only ELFCLASS64 is supported)", raw[4])
	}
	if raw[5] != ELFDATA2LSB {
		return nil, parseErrorf("unsupported EI_DATA %d (only little-endian is supported)", raw[5])
	}

	f := &File{raw: raw}
	h := &f.Header
	h.Type = binary.LittleEndian.Uint16(raw[16:18])
	h.Machine = binary.LittleEndian.Uint16(raw[18:20])
	h.Entry = binary.LittleEndian.Uint64(raw[24:32])
	h.PhOff = binary.LittleEndian.Uint64(raw[32:40])
	h.ShOff = binary.LittleEndian.Uint64(raw[40:48])
	h.Flags = binary.LittleEndian.Uint32(raw[48:52])
	h.EhSize = binary.LittleEndian.Uint16(raw[52:54])
	h.PhEntSize = binary.LittleEndian.Uint16(raw[54:56])
	h.PhNum = binary.LittleEndian.Uint16(raw[56:58])
	h.ShEntSize = binary.LittleEndian.Uint16(raw[58:60])
	h.ShNum = binary.LittleEndian.Uint16(raw[60:62])
	h.ShStrNdx = binary.LittleEndian.Uint16(raw[62:64])

	if h.Machine != EM_AARCH64 {
		return nil, parseErrorf("unsupported machine %d (only EM_AARCH64 is supported)", h.Machine)
	}

	if err := f.parseProgramHeaders(); err != nil {
		return nil, err
	}
	if err := f.parseSectionHeaders(); err != nil {
		return nil, err
	}
	if err := f.parseDynamic(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) parseProgramHeaders() error {
	h := &f.Header
	end := h.PhOff + uint64(h.PhNum)*uint64(h.PhEntSize)
	if h.PhNum > 0 && end > uint64(len(f.raw)) {
		return parseErrorf("program header table truncated")
	}
	f.Progs = make([]ProgramHeader, h.PhNum)
	for i := 0; i < int(h.PhNum); i++ {
		off := h.PhOff + uint64(i)*uint64(h.PhEntSize)
		b := f.raw[off:]
		p := &f.Progs[i]
		p.Type = binary.LittleEndian.Uint32(b[0:4])
		p.Flags = binary.LittleEndian.Uint32(b[4:8])
		p.Offset = binary.LittleEndian.Uint64(b[8:16])
		p.VAddr = binary.LittleEndian.Uint64(b[16:24])
		p.PAddr = binary.LittleEndian.Uint64(b[24:32])
		p.FileSz = binary.LittleEndian.Uint64(b[32:40])
		p.MemSz = binary.LittleEndian.Uint64(b[40:48])
		p.Align = binary.LittleEndian.Uint64(b[48:56])
	}
	return nil
}

func (f *File) parseSectionHeaders() error {
	h := &f.Header
	if h.ShNum == 0 {
		return nil
	}
	end := h.ShOff + uint64(h.ShNum)*uint64(h.ShEntSize)
	if end > uint64(len(f.raw)) {
		return parseErrorf("section header table truncated")
	}
	f.Sects = make([]SectionHeader, h.ShNum)
	for i := 0; i < int(h.ShNum); i++ {
		off := h.ShOff + uint64(i)*uint64(h.ShEntSize)
		b := f.raw[off:]
		s := &f.Sects[i]
		s.Name = binary.LittleEndian.Uint32(b[0:4])
		s.Type = binary.LittleEndian.Uint32(b[4:8])
		s.Flags = binary.LittleEndian.Uint64(b[8:16])
		s.Addr = binary.LittleEndian.Uint64(b[16:24])
		s.Offset = binary.LittleEndian.Uint64(b[24:32])
		s.Size = binary.LittleEndian.Uint64(b[32:40])
		s.Link = binary.LittleEndian.Uint32(b[40:44])
		s.Info = binary.LittleEndian.Uint32(b[44:48])
		s.AddrAlign = binary.LittleEndian.Uint64(b[48:56])
		s.EntSize = binary.LittleEndian.Uint64(b[56:64])
	}
	if int(h.ShStrNdx) < len(f.Sects) {
		sh := f.Sects[h.ShStrNdx]
		f.shStrTab = &onceStrTab{offset: sh.Offset, size: sh.Size}
	}
	return nil
}

func (f *File) parseDynamic() error {
	var dynSect *SectionHeader
	for i := range f.Sects {
		if f.Sects[i].Type == SHT_DYNAMIC {
			dynSect = &f.Sects[i]
			break
		}
	}
	var dynProg *ProgramHeader
	for i := range f.Progs {
		if f.Progs[i].Type == PT_DYNAMIC {
			dynProg = &f.Progs[i]
			break
		}
	}

	var off, size uint64
	switch {
	case dynSect != nil:
		off, size = dynSect.Offset, dynSect.Size
	case dynProg != nil:
		off, size = dynProg.Offset, dynProg.FileSz
	default:
		return nil // not dynamically linked (e.g. static executable)
	}

	if off+size > uint64(len(f.raw)) {
		return parseErrorf("dynamic table truncated")
	}

	n := size / 16
	f.Dynamic = make([]DynEntry, 0, n)
	var strTabOff, strTabSz uint64
	for i := uint64(0); i < n; i++ {
		b := f.raw[off+i*16:]
		tag := int64(binary.LittleEndian.Uint64(b[0:8]))
		val := binary.LittleEndian.Uint64(b[8:16])
		if tag == DT_NULL {
			break
		}
		f.Dynamic = append(f.Dynamic, DynEntry{Tag: tag, Val: val})
		if tag == DT_STRTAB {
			strTabOff = f.vaddrToOffset(val)
		}
		if tag == DT_STRSZ {
			strTabSz = val
		}
	}
	if strTabOff != 0 {
		f.dynStrTab = &onceStrTab{offset: strTabOff, size: strTabSz}
	}
	return nil
}

// vaddrToOffset maps a virtual address back to a file offset via the
// PT_LOAD segment that covers it; used because the dynamic table stores
// pointers as load-time virtual addresses, not file offsets.
func (f *File) vaddrToOffset(vaddr uint64) uint64 {
	for _, p := range f.Progs {
		if p.Type == PT_LOAD && vaddr >= p.VAddr && vaddr < p.VAddr+p.FileSz {
			return p.Offset + (vaddr - p.VAddr)
		}
	}
	return vaddr
}

// DynValue returns the first value for a given dynamic tag.
func (f *File) DynValue(tag int64) (uint64, bool) {
	for _, d := range f.Dynamic {
		if d.Tag == tag {
			return d.Val, true
		}
	}
	return 0, false
}

// DynValues returns all values for a given dynamic tag, in file order.
func (f *File) DynValues(tag int64) []uint64 {
	var out []uint64
	for _, d := range f.Dynamic {
		if d.Tag == tag {
			out = append(out, d.Val)
		}
	}
	return out
}

// Needed returns the DT_NEEDED sonames in file order.
func (f *File) Needed() ([]string, error) {
	st, err := f.dynStringTable()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, off := range f.DynValues(DT_NEEDED) {
		s, err := st.Get(uint32(off))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// SoName returns DT_SONAME if present.
func (f *File) SoName() (string, bool) {
	off, ok := f.DynValue(DT_SONAME)
	if !ok {
		return "", false
	}
	st, err := f.dynStringTable()
	if err != nil {
		return "", false
	}
	name, err := st.Get(uint32(off))
	if err != nil {
		return "", false
	}
	return name, true
}

func (f *File) dynStringTable() (*StringTable, error) {
	if f.dynStrTab == nil {
		return nil, parseErrorf("no DT_STRTAB")
	}
	return f.dynStrTab.o.get(func() (*StringTable, error) {
		return newStringTable(f.raw, f.dynStrTab.offset, f.dynStrTab.size)
	})
}

func (f *File) sectionByType(t uint32) *SectionHeader {
	for i := range f.Sects {
		if f.Sects[i].Type == t {
			return &f.Sects[i]
		}
	}
	return nil
}

func (f *File) sectionByName(name string) *SectionHeader {
	if f.shStrTab == nil {
		return nil
	}
	st, err := f.shStrTab.o.get(func() (*StringTable, error) {
		return newStringTable(f.raw, f.shStrTab.offset, f.shStrTab.size)
	})
	if err != nil {
		return nil
	}
	for i := range f.Sects {
		n, err := st.Get(f.Sects[i].Name)
		if err == nil && n == name {
			return &f.Sects[i]
		}
	}
	return nil
}

// Raw exposes the underlying file bytes (used by the linker to copy
// PT_LOAD segment data).
func (f *File) Raw() []byte { return f.raw }
