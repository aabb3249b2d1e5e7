package elf

import (
	"encoding/binary"
	"testing"
)

// buildMinimalHeader returns an ELF64 header with one PT_DYNAMIC program
// header whose table carries a DT_NEEDED entry and a DT_STRTAB/DT_STRSZ
// pair, with overridable class/endian/machine bytes for the rejection
// tests below.
func buildMinimalHeader(class, data byte, machine uint16) []byte {
	const (
		phOff     = 64
		dynOff    = 0x1000
		strTabOff = 0x2000
	)
	strTab := []byte("\x00libc.so\x00")
	dynSize := uint64(4 * 16) // DT_NEEDED, DT_STRTAB, DT_STRSZ, DT_NULL

	buf := make([]byte, 0x3000)
	buf[0], buf[1], buf[2], buf[3] = 0x7F, 'E', 'L', 'F'
	buf[4] = class
	buf[5] = data
	binary.LittleEndian.PutUint16(buf[16:18], ET_DYN)
	binary.LittleEndian.PutUint16(buf[18:20], machine)
	binary.LittleEndian.PutUint64(buf[24:32], 0x1000) // entry
	binary.LittleEndian.PutUint64(buf[32:40], phOff)  // phoff
	binary.LittleEndian.PutUint64(buf[40:48], 0)      // shoff (no section headers)
	binary.LittleEndian.PutUint16(buf[52:54], 64)     // ehsize
	binary.LittleEndian.PutUint16(buf[54:56], 56)     // phentsize
	binary.LittleEndian.PutUint16(buf[56:58], 1)      // phnum
	binary.LittleEndian.PutUint16(buf[58:60], 64)     // shentsize
	binary.LittleEndian.PutUint16(buf[60:62], 0)      // shnum
	binary.LittleEndian.PutUint16(buf[62:64], 0)      // shstrndx

	// single PT_DYNAMIC program header entry.
	p := buf[phOff:]
	binary.LittleEndian.PutUint32(p[0:4], PT_DYNAMIC)
	binary.LittleEndian.PutUint32(p[4:8], PF_R)
	binary.LittleEndian.PutUint64(p[8:16], dynOff)  // file offset
	binary.LittleEndian.PutUint64(p[16:24], dynOff) // vaddr == offset, no PT_LOAD involved
	binary.LittleEndian.PutUint64(p[24:32], dynOff) // paddr
	binary.LittleEndian.PutUint64(p[32:40], dynSize)
	binary.LittleEndian.PutUint64(p[40:48], dynSize)
	binary.LittleEndian.PutUint64(p[48:56], 8)

	copy(buf[strTabOff:], strTab)

	d := buf[dynOff:]
	binary.LittleEndian.PutUint64(d[0:8], DT_NEEDED)
	binary.LittleEndian.PutUint64(d[8:16], 1) // offset of "libc.so" in strTab
	binary.LittleEndian.PutUint64(d[16:24], DT_STRTAB)
	binary.LittleEndian.PutUint64(d[24:32], strTabOff) // vaddr == file offset here too
	binary.LittleEndian.PutUint64(d[32:40], DT_STRSZ)
	binary.LittleEndian.PutUint64(d[40:48], uint64(len(strTab)))
	binary.LittleEndian.PutUint64(d[48:56], DT_NULL)
	binary.LittleEndian.PutUint64(d[56:64], 0)

	return buf
}

func TestOpenRejectsBadMagic(t *testing.T) {
	buf := buildMinimalHeader(ELFCLASS64, ELFDATA2LSB, EM_AARCH64)
	buf[1] = 'X'
	if _, err := Open(buf); err == nil {
		t.Fatalf("Open should reject bad magic")
	}
}

func TestOpenRejectsNon64BitClass(t *testing.T) {
	buf := buildMinimalHeader(1 /* ELFCLASS32 */, ELFDATA2LSB, EM_AARCH64)
	_, err := Open(buf)
	if err == nil {
		t.Fatalf("Open should reject EI_CLASS != ELFCLASS64")
	}
	if _, ok := err.(*ParseError); !ok {
		t.Fatalf("error = %T, want *ParseError", err)
	}
}

func TestOpenRejectsBigEndian(t *testing.T) {
	buf := buildMinimalHeader(ELFCLASS64, 2 /* ELFDATA2MSB */, EM_AARCH64)
	if _, err := Open(buf); err == nil {
		t.Fatalf("Open should reject big-endian data encoding")
	}
}

func TestOpenRejectsWrongMachine(t *testing.T) {
	buf := buildMinimalHeader(ELFCLASS64, ELFDATA2LSB, 0x28 /* EM_ARM, not AARCH64 */)
	if _, err := Open(buf); err == nil {
		t.Fatalf("Open should reject a non-AArch64 machine")
	}
}

func TestOpenRejectsTruncated(t *testing.T) {
	if _, err := Open(make([]byte, 16)); err == nil {
		t.Fatalf("Open should reject a file too short for the ELF header")
	}
}

func TestOpenParsesHeaderFields(t *testing.T) {
	buf := buildMinimalHeader(ELFCLASS64, ELFDATA2LSB, EM_AARCH64)
	f, err := Open(buf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if f.Header.Machine != EM_AARCH64 {
		t.Fatalf("Header.Machine = %d, want EM_AARCH64", f.Header.Machine)
	}
	if f.Header.Type != ET_DYN {
		t.Fatalf("Header.Type = %d, want ET_DYN", f.Header.Type)
	}
	if f.Header.Entry != 0x1000 {
		t.Fatalf("Header.Entry = 0x%x, want 0x1000", f.Header.Entry)
	}
}

func TestNeeded(t *testing.T) {
	buf := buildMinimalHeader(ELFCLASS64, ELFDATA2LSB, EM_AARCH64)
	f, err := Open(buf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	needed, err := f.Needed()
	if err != nil {
		t.Fatalf("Needed: %v", err)
	}
	if len(needed) != 1 || needed[0] != "libc.so" {
		t.Fatalf("Needed = %v, want [libc.so]", needed)
	}
}

func TestDynValueAndValues(t *testing.T) {
	buf := buildMinimalHeader(ELFCLASS64, ELFDATA2LSB, EM_AARCH64)
	f, err := Open(buf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, ok := f.DynValue(DT_NEEDED)
	if !ok || v != 1 {
		t.Fatalf("DynValue(DT_NEEDED) = (%d, %v), want (1, true)", v, ok)
	}
	if got := f.DynValues(DT_NEEDED); len(got) != 1 || got[0] != 1 {
		t.Fatalf("DynValues(DT_NEEDED) = %v, want [1]", got)
	}
}
