package syscall

import "os"

// stdioFile forwards guest writes to the host's own stdout/stderr and
// never yields input (stdin reads always return EOF), which is enough
// fidelity for the logging fprintf/puts traffic native libraries emit.
type stdioFile struct {
	path string
	w    *os.File
}

func (f *stdioFile) Read(p []byte) (int, error)             { return 0, nil }
func (f *stdioFile) Pread(p []byte, off int64) (int, error) { return 0, nil }
func (f *stdioFile) Write(p []byte) (int, error) {
	if f.w == nil {
		return len(p), nil
	}
	return f.w.Write(p)
}
func (f *stdioFile) Lseek(off int64, whence int) (int64, error) { return 0, nil }
func (f *stdioFile) Getdents64(buf []byte) (int, error)          { return 0, nil }
func (f *stdioFile) OFlags() int                                 { return 0 }
func (f *stdioFile) StMode() uint32                              { return S_IFCHR | 0666 }
func (f *stdioFile) UID() uint32                                 { return 0 }
func (f *stdioFile) Len() int64                                  { return 0 }
func (f *stdioFile) ToVec() []byte                               { return nil }
func (f *stdioFile) Path() string                                { return f.path }

// FDTable owns the guest's open-file-descriptor table. Descriptors 0-2
// are pre-seeded as stdio; new descriptors start at 3 and are never
// reused while still referenced, matching ordinary POSIX allocation
// behavior closely enough for guest code that doesn't depend on exact
// reuse order.
type FDTable struct {
	files map[int32]FileIO
	next  int32
}

// NewFDTable creates a table with stdin/stdout/stderr pre-populated.
func NewFDTable() *FDTable {
	t := &FDTable{files: make(map[int32]FileIO), next: 3}
	t.files[0] = &stdioFile{path: "/dev/stdin"}
	t.files[1] = &stdioFile{path: "/dev/stdout", w: os.Stdout}
	t.files[2] = &stdioFile{path: "/dev/stderr", w: os.Stderr}
	return t
}

// Install assigns the next free descriptor to f and returns it.
func (t *FDTable) Install(f FileIO) int32 {
	fd := t.next
	t.next++
	t.files[fd] = f
	return fd
}

// Get returns the FileIO bound to fd, if any.
func (t *FDTable) Get(fd int32) (FileIO, bool) {
	f, ok := t.files[fd]
	return f, ok
}

// Close removes fd from the table; it is not an error to close an
// already-closed or never-opened descriptor other than reporting EBADF
// to the guest (the caller decides that, not this method).
func (t *FDTable) Close(fd int32) bool {
	if _, ok := t.files[fd]; !ok {
		return false
	}
	delete(t.files, fd)
	return true
}

// Dup installs a new descriptor aliasing the same FileIO as fd.
func (t *FDTable) Dup(fd int32) (int32, bool) {
	f, ok := t.files[fd]
	if !ok {
		return 0, false
	}
	return t.Install(f), true
}
