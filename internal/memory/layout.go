// Package memory implements the guest virtual address space: a
// page-granular, first-fit allocator over two arenas (a low arena
// holding heap/stack/mmap, and a small reserved arena for the SVC
// trampoline page), plus the region table that backs `/proc/self/maps`.
package memory

const PageSize = 0x1000

// Layout describes the guest address-space geometry. Two concrete
// layouts are supported, selected by BigAddress rather than a build tag
// so a single binary can emulate either: most 32-bit-style Android
// builds use the small layout, while 64-bit address space hardened
// builds relocate everything into the 0x7200_... spans.
type Layout struct {
	HeapBase  uint64
	StackTop  uint64
	MmapBase  uint64
	SVCBase   uint64
	SVCSize   uint64
	LRSentinel uint64
}

// SmallLayout is the default 32-bit-style guest memory map.
var SmallLayout = Layout{
	HeapBase:   0x08048000,
	StackTop:   0xC0000000,
	MmapBase:   0x40000000,
	SVCBase:    0xFFFE0000,
	SVCSize:    0x4000,
	LRSentinel: 0x7FFFF0000,
}

// BigLayout relocates heap/stack/mmap into the high 0x7200_... spans
// used by "big address" guest configurations.
var BigLayout = Layout{
	HeapBase:   0x7201_0000_0000,
	StackTop:   0x7200_0000_0000,
	MmapBase:   0x7203_0000_0000,
	SVCBase:    0xFFFE0000,
	SVCSize:    0x4000,
	LRSentinel: 0x7FFFF0000,
}

// DefaultStackSize is the size reserved for the initial stack region.
const DefaultStackSize = 8 * 1024 * 1024

// DefaultHeapSize is the size reserved for the brk-style heap arena.
const DefaultHeapSize = 256 * 1024 * 1024

// AlignUp rounds size up to the next multiple of PageSize.
func AlignUp(size uint64) uint64 {
	return (size + PageSize - 1) &^ (PageSize - 1)
}

// AlignDown rounds addr down to a page boundary.
func AlignDown(addr uint64) uint64 {
	return addr &^ (PageSize - 1)
}
