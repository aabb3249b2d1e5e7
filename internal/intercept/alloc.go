package intercept

import "github.com/zboralski/galago/internal/memory"

// Allocator is the malloc/calloc/realloc/free/operator-new surface
// backing libc's heap API: a bump allocator over the heap arena
// internal/memory.Manager already reserves and tracks via Brk,
// generalizing the teacher's own fixed heapPtr bump in emulator.go's
// Malloc. free/delete are no-ops: nothing in this emulator's lifetime
// revisits a freed block closely enough for reuse to matter, and the
// teacher's own realloc/free stubs made the same trade (leak rather
// than track).
type Allocator struct {
	mem *memory.Manager
}

func newAllocator(mem *memory.Manager) *Allocator {
	return &Allocator{mem: mem}
}

// Malloc returns a fresh, 16-byte-aligned block of size bytes (minimum
// 16) by advancing the heap break.
func (a *Allocator) Malloc(size uint64) uint64 {
	if size == 0 {
		size = 16
	}
	size = (size + 15) &^ 15

	cur := a.mem.Brk(0)
	addr := cur
	a.mem.Brk(cur + size)
	return addr
}

func (a *Allocator) Free(uint64) {}
