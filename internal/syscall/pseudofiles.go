package syscall

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FileIO is the filesystem abstraction every open guest descriptor is
// backed by, whether a pseudo-file or a real host file opened through a
// resolver. Read/Write/Pread operate relative to the descriptor's own
// cursor except Pread, which never moves it.
type FileIO interface {
	Read(p []byte) (int, error)
	Pread(p []byte, off int64) (int, error)
	Write(p []byte) (int, error)
	Lseek(offset int64, whence int) (int64, error)
	Getdents64(buf []byte) (int, error)
	OFlags() int
	StMode() uint32
	UID() uint32
	Len() int64
	ToVec() []byte
	Path() string
}

// S_IFREG/S_IFDIR/S_IFCHR mode bits, the subset stat/fstat need to
// report a plausible file type.
const (
	S_IFREG = 0100000
	S_IFDIR = 0040000
	S_IFCHR = 0020000
)

// bufferFile is a read-only FileIO backed by a fixed byte slice with an
// ordinary seekable cursor, the shape every canned pseudo-file (meminfo,
// cpuinfo, boot_id) and any resolved host file share.
type bufferFile struct {
	path string
	data []byte
	mode uint32
	pos  int64
}

func newBufferFile(path string, data []byte, mode uint32) *bufferFile {
	return &bufferFile{path: path, data: data, mode: mode}
}

func (f *bufferFile) Read(p []byte) (int, error) {
	if f.pos >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(p, f.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *bufferFile) Pread(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, nil
	}
	return copy(p, f.data[off:]), nil
}

func (f *bufferFile) Write(p []byte) (int, error) { return 0, fmt.Errorf("%s: read-only", f.path) }

func (f *bufferFile) Lseek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0: // SEEK_SET
		f.pos = offset
	case 1: // SEEK_CUR
		f.pos += offset
	case 2: // SEEK_END
		f.pos = int64(len(f.data)) + offset
	default:
		return 0, fmt.Errorf("%s: bad whence %d", f.path, whence)
	}
	return f.pos, nil
}

func (f *bufferFile) Getdents64(buf []byte) (int, error) { return 0, nil }
func (f *bufferFile) OFlags() int                        { return 0 }
func (f *bufferFile) StMode() uint32                      { return S_IFREG | f.mode }
func (f *bufferFile) UID() uint32                         { return 0 }
func (f *bufferFile) Len() int64                          { return int64(len(f.data)) }
func (f *bufferFile) ToVec() []byte                       { return f.data }
func (f *bufferFile) Path() string                        { return f.path }

// urandomFile never exhausts: every read is freshly generated from
// crypto/rand, and Pread/Lseek are position-independent since the
// device has no real offset semantics.
type urandomFile struct{}

func (urandomFile) Read(p []byte) (int, error)  { return rand.Read(p) }
func (urandomFile) Pread(p []byte, _ int64) (int, error) { return rand.Read(p) }
func (urandomFile) Write(p []byte) (int, error) { return len(p), nil }
func (urandomFile) Lseek(off int64, _ int) (int64, error) { return off, nil }
func (urandomFile) Getdents64(_ []byte) (int, error)      { return 0, nil }
func (urandomFile) OFlags() int                           { return 0 }
func (urandomFile) StMode() uint32                        { return S_IFCHR | 0666 }
func (urandomFile) UID() uint32                           { return 0 }
func (urandomFile) Len() int64                            { return 0 }
func (urandomFile) ToVec() []byte                         { return nil }
func (urandomFile) Path() string                          { return "/dev/urandom" }

const meminfoContents = `MemTotal:        4096000 kB
MemFree:         2048000 kB
MemAvailable:    3000000 kB
SwapTotal:              0 kB
SwapFree:               0 kB
`

const cpuinfoContents = `processor	: 0
BogoMIPS	: 26.00
Features	: fp asimd evtstrm aes pmull sha1 sha2 crc32
CPU implementer	: 0x41
CPU architecture: 8
CPU variant	: 0x0
CPU part	: 0xd08
CPU revision	: 2
`

var bootIDOnce sync.Once
var bootID string

func bootIDContents() string {
	bootIDOnce.Do(func() {
		bootID = uuid.New().String() + "\n"
	})
	return bootID
}

// openPseudoFile returns the built-in FileIO for path, if path names
// one of the five pseudo-files this system always provides, regardless
// of any resolver or host filesystem access.
func openPseudoFile(path string, mapsString func() string) (FileIO, bool) {
	switch path {
	case "/dev/urandom":
		return urandomFile{}, true
	case "/proc/meminfo":
		return newBufferFile(path, []byte(meminfoContents), 0444), true
	case "/proc/cpuinfo":
		return newBufferFile(path, []byte(cpuinfoContents), 0444), true
	case "/proc/self/maps":
		return newBufferFile(path, []byte(mapsString()), 0444), true
	case "/proc/sys/kernel/random/boot_id":
		return newBufferFile(path, []byte(bootIDContents()), 0444), true
	}
	return nil, false
}
