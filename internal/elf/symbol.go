package elf

import "encoding/binary"

const symEntSize = 24 // Elf64_Sym

// Symbol bind/type, low bits of Info.
const (
	STB_LOCAL  = 0
	STB_GLOBAL = 1
	STB_WEAK   = 2

	STT_NOTYPE = 0
	STT_OBJECT = 1
	STT_FUNC   = 2
	STT_TLS    = 6
)

// Symbol is one Elf64_Sym entry with its name already resolved through
// the owning string table.
type Symbol struct {
	Name  string
	Info  byte
	Other byte
	Shndx uint16
	Value uint64
	Size  uint64
}

func (s Symbol) Bind() byte { return s.Info >> 4 }
func (s Symbol) Type() byte { return s.Info & 0xf }

// Defined reports whether the symbol resolves inside this image (as
// opposed to an undefined import that must come from a dependency or a
// hook listener).
func (s Symbol) Defined() bool { return s.Shndx != SHN_UNDEF }

// Weak reports whether an undefined reference to this symbol is
// permitted to remain unresolved without being a fatal load error.
func (s Symbol) Weak() bool { return s.Bind() == STB_WEAK }

func parseSymbolTable(raw []byte, off, size uint64, strtab *StringTable) ([]Symbol, error) {
	if off+size > uint64(len(raw)) {
		return nil, parseErrorf("symbol table truncated")
	}
	n := size / symEntSize
	out := make([]Symbol, n)
	for i := uint64(0); i < n; i++ {
		b := raw[off+i*symEntSize:]
		nameOff := binary.LittleEndian.Uint32(b[0:4])
		name := ""
		if strtab != nil {
			name, _ = strtab.Get(nameOff)
		}
		out[i] = Symbol{
			Name:  name,
			Info:  b[4],
			Other: b[5],
			Shndx: binary.LittleEndian.Uint16(b[6:8]),
			Value: binary.LittleEndian.Uint64(b[8:16]),
			Size:  binary.LittleEndian.Uint64(b[16:24]),
		}
	}
	return out, nil
}
