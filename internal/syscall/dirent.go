package syscall

import "encoding/binary"

// DT_UNKNOWN/DT_DIR/DT_REG, the handful of linux_dirent64 d_type values
// this port ever synthesizes.
const (
	dtUnknown = 0
	dtDir     = 4
	dtReg     = 8
)

type dirent struct {
	name string
	ino  uint64
	typ  byte
}

// Direction is the directory-descriptor side of getdents64: an ordered
// queue of entries (synthetic "." and ".." pushed to the front), drained
// from the front across however many Getdents64 calls it takes to empty
// it. Entries that fit the caller's buffer are encoded and removed from
// the queue; entries that don't fit are retained for the next call.
// Getdents64 must never duplicate or skip an entry regardless of how the
// caller's buffer size splits the queue across calls.
type Direction struct {
	entries []dirent
	off     int64
}

// NewDirection builds a Direction over names (plain directory entries,
// not including "." and ".."), which it prepends as any real readdir
// does.
func NewDirection(names []string) *Direction {
	d := &Direction{}
	d.entries = append(d.entries, dirent{name: ".", ino: 1, typ: dtDir})
	d.entries = append(d.entries, dirent{name: "..", ino: 1, typ: dtDir})
	for _, n := range names {
		d.entries = append(d.entries, dirent{name: n, ino: uint64(len(d.entries) + 1), typ: dtUnknown})
	}
	return d
}

// linux_dirent64 layout: ino(8) off(8) reclen(2) type(1) name(NUL-term),
// the whole record padded to an 8-byte boundary.
func direntRecLen(name string) int {
	n := 19 + len(name) + 1 // 8+8+2+1 header + name + NUL
	return (n + 7) &^ 7
}

func encodeDirent(buf []byte, e dirent, nextOff int64, reclen int) {
	binary.LittleEndian.PutUint64(buf[0:8], e.ino)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(nextOff))
	binary.LittleEndian.PutUint16(buf[16:18], uint16(reclen))
	buf[18] = e.typ
	copy(buf[19:], e.name)
	buf[19+len(e.name)] = 0
}

// Getdents64 writes as many entries from the front of the queue as fit
// in buf, encoding each as a linux_dirent64 record, and drops exactly
// the entries it wrote. It returns 0, nil once the queue is empty,
// matching the real syscall's exhausted-iterator signal, and never
// writes past len(buf).
func (d *Direction) Getdents64(buf []byte) (int, error) {
	written := 0
	consumed := 0
	for _, e := range d.entries {
		reclen := direntRecLen(e.name)
		if written+reclen > len(buf) {
			break
		}
		d.off++
		encodeDirent(buf[written:written+reclen], e, d.off, reclen)
		written += reclen
		consumed++
	}
	d.entries = d.entries[consumed:]
	return written, nil
}

func (d *Direction) Read(p []byte) (int, error)             { return 0, nil }
func (d *Direction) Pread(p []byte, off int64) (int, error) { return 0, nil }
func (d *Direction) Write(p []byte) (int, error)             { return 0, nil }
func (d *Direction) Lseek(off int64, whence int) (int64, error) { return off, nil }
func (d *Direction) OFlags() int                              { return 0 }
func (d *Direction) StMode() uint32                            { return S_IFDIR | 0755 }
func (d *Direction) UID() uint32                               { return 0 }
func (d *Direction) Len() int64                                { return 0 }
func (d *Direction) ToVec() []byte                              { return nil }
func (d *Direction) Path() string                               { return "" }
