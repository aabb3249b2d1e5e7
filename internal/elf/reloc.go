package elf

import "encoding/binary"

// ARM64 relocation types this system understands; see §4.5 of the
// owning specification for which of these the linker actually applies.
const (
	R_AARCH64_ABS64        = 257
	R_AARCH64_COPY         = 1024
	R_AARCH64_GLOB_DAT     = 1025
	R_AARCH64_JUMP_SLOT    = 1026
	R_AARCH64_RELATIVE     = 1027
	R_AARCH64_TLS_DTPMOD64 = 1028
	R_AARCH64_TLS_DTPREL64 = 1029
	R_AARCH64_TLS_TPREL64  = 1030
	R_AARCH64_IRELATIVE    = 1032
)

// Relocation is one Elf64_Rela (or Elf64_Rel, Addend always zero in that
// case) entry. Type and Sym are not stored separately; the Type and Sym
// methods decode them from Info on each call.
type Relocation struct {
	Offset uint64
	Info   uint64
	Addend int64
}

func (r Relocation) Type() uint32 { return uint32(r.Info & 0xffffffff) }
func (r Relocation) Sym() uint32  { return uint32(r.Info >> 32) }

// parseRelocations decodes a `.rela.*`/`.rel.*` table. entSize
// distinguishes Elf64_Rela (24 bytes, addend present) from Elf64_Rel (16
// bytes, no addend field).
func parseRelocations(raw []byte, off, size, entSize uint64) ([]Relocation, error) {
	if entSize == 0 {
		entSize = 24
	}
	if off+size > uint64(len(raw)) {
		return nil, parseErrorf("relocation table truncated")
	}
	n := size / entSize
	out := make([]Relocation, n)
	for i := uint64(0); i < n; i++ {
		b := raw[off+i*entSize:]
		rel := Relocation{
			Offset: binary.LittleEndian.Uint64(b[0:8]),
			Info:   binary.LittleEndian.Uint64(b[8:16]),
		}
		if entSize >= 24 {
			rel.Addend = int64(binary.LittleEndian.Uint64(b[16:24]))
		}
		out[i] = rel
	}
	return out, nil
}
