package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zboralski/galago/internal/backend"
)

// Manager is the guest virtual memory manager: a first-fit allocator
// over disjoint 4 KiB pages, kept as a base-sorted slice (the region
// counts this system deals with — a handful of modules plus a few mmap
// callers — never justify a tree).
type Manager struct {
	cpu    backend.CPU
	layout Layout

	mu      sync.Mutex
	regions []Region

	brk     uint64 // current heap break
	heapEnd uint64 // reserved heap arena end

	stackBase uint64
	stackSize uint64
}

// New creates a memory manager bound to cpu, reserving the stack, heap,
// and SVC arenas up front. layout selects small- or big-address mode.
func New(cpu backend.CPU, layout Layout) (*Manager, error) {
	m := &Manager{cpu: cpu, layout: layout}

	m.stackSize = DefaultStackSize
	m.stackBase = layout.StackTop - m.stackSize
	if err := m.mapFixed(m.stackBase, m.stackSize, backend.ProtRead|backend.ProtWrite, "[stack]", OwnerStack); err != nil {
		return nil, err
	}

	if err := m.mapFixed(layout.HeapBase, DefaultHeapSize, backend.ProtRead|backend.ProtWrite, "[heap]", OwnerHeap); err != nil {
		return nil, err
	}
	m.brk = layout.HeapBase
	m.heapEnd = layout.HeapBase + DefaultHeapSize

	if err := m.mapFixed(layout.SVCBase, layout.SVCSize, backend.ProtRead|backend.ProtExec, "[svc]", OwnerSVC); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Manager) Layout() Layout { return m.layout }

// StackTop returns the initial stack pointer (top of the reserved
// stack region, 16-byte aligned per AAPCS64).
func (m *Manager) StackTop() uint64 { return m.stackBase + m.stackSize }

func (m *Manager) mapFixed(base, size uint64, prot backend.Prot, name string, owner Owner) error {
	size = AlignUp(size)
	if err := m.cpu.MemMap(base, size, prot); err != nil {
		return memErrorf("mmap", base, size, "backend map failed: %v", err)
	}
	m.insertRegion(Region{Base: base, Size: size, Prot: prot, Name: name, Owner: owner})
	return nil
}

func (m *Manager) insertRegion(r Region) {
	m.regions = append(m.regions, r)
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].Base < m.regions[j].Base })
}

func (m *Manager) findRegionIndex(addr uint64) int {
	for i := range m.regions {
		if m.regions[i].Contains(addr) {
			return i
		}
	}
	return -1
}

func (m *Manager) overlapsAny(base, size uint64) bool {
	for _, r := range m.regions {
		if r.Overlaps(base, size) {
			return true
		}
	}
	return false
}

// Mmap allocates or fixes a mapping. addr==0 picks the next free span
// in the mmap arena (first fit, walking regions in base order); addr!=0
// requests that exact address and fails if it isn't free.
func (m *Manager) Mmap(addr, size uint64, prot backend.Prot, name string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size == 0 {
		return 0, memErrorf("mmap", addr, size, "zero-length mapping")
	}
	size = AlignUp(size)

	if addr != 0 {
		base := AlignDown(addr)
		if m.overlapsAny(base, size) {
			return 0, memErrorf("mmap", base, size, "fixed address unavailable")
		}
		if err := m.mapFixed(base, size, prot, name, OwnerAnonymous); err != nil {
			return 0, err
		}
		return base, nil
	}

	base := m.firstFit(m.layout.MmapBase, size)
	if name == "" {
		name = fmt.Sprintf("[anon:%d]", size)
	}
	if err := m.mapFixed(base, size, prot, name, OwnerAnonymous); err != nil {
		return 0, err
	}
	return base, nil
}

// firstFit finds the lowest free span of size at or above floor,
// scanning mmap-arena regions sorted by base.
func (m *Manager) firstFit(floor, size uint64) uint64 {
	candidate := floor
	for _, r := range m.regions {
		if r.Base < floor {
			continue
		}
		if candidate+size <= r.Base {
			return candidate
		}
		if r.End() > candidate {
			candidate = r.End()
		}
	}
	return candidate
}

// Munmap releases the mapping at (addr, size). It must exactly cover
// one or more whole contiguous regions; partial overlaps are rejected
// without mutating any region (no partial application).
func (m *Manager) Munmap(addr, size uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	size = AlignUp(size)
	base := AlignDown(addr)
	end := base + size

	// Verify the requested range is covered by whole, contiguous regions.
	covered := uint64(0)
	cursor := base
	var toRemove []int
	for cursor < end {
		idx := m.findRegionIndex(cursor)
		if idx < 0 {
			return memErrorf("munmap", addr, size, "not fully mapped")
		}
		r := m.regions[idx]
		if r.Base < base || r.End() > end {
			return memErrorf("munmap", addr, size, "partial region overlap not supported")
		}
		toRemove = append(toRemove, idx)
		covered += r.Size
		cursor = r.End()
	}
	if covered != size {
		return memErrorf("munmap", addr, size, "gap in requested range")
	}

	for i := len(toRemove) - 1; i >= 0; i-- {
		r := m.regions[toRemove[i]]
		if err := m.cpu.MemUnmap(r.Base, r.Size); err != nil {
			return memErrorf("munmap", r.Base, r.Size, "backend unmap failed: %v", err)
		}
		m.regions = append(m.regions[:toRemove[i]], m.regions[toRemove[i]+1:]...)
	}
	return nil
}

// Mprotect changes protection over (addr, size). Like Munmap, it must
// cover whole contiguous regions and may split a larger region's
// metadata entry but never applies partially on error.
func (m *Manager) Mprotect(addr, size uint64, prot backend.Prot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	size = AlignUp(size)
	base := AlignDown(addr)
	end := base + size

	cursor := base
	var idxs []int
	for cursor < end {
		idx := m.findRegionIndex(cursor)
		if idx < 0 {
			return memErrorf("mprotect", addr, size, "unmapped hole in range")
		}
		r := m.regions[idx]
		if r.Base < base || r.End() > end {
			// Splitting a larger region that covers only part of [base,end)
			// is allowed as long as this particular page range is inside it.
			if base < r.Base || end > r.End() {
				return memErrorf("mprotect", addr, size, "partial region overlap not supported")
			}
		}
		idxs = append(idxs, idx)
		cursor = r.End()
		if r.End() > end {
			break
		}
	}

	if err := m.cpu.MemProtect(base, size, prot); err != nil {
		return memErrorf("mprotect", base, size, "backend protect failed: %v", err)
	}
	if len(idxs) == 1 {
		if r := m.regions[idxs[0]]; r.Base < base || r.End() > end {
			left, mid, right := r, r, r
			left.Size = base - r.Base
			mid.Base, mid.Size, mid.Prot = base, size, prot
			right.Base, right.Size = end, r.End()-end
			var parts []Region
			for _, p := range []Region{left, mid, right} {
				if p.Size > 0 {
					parts = append(parts, p)
				}
			}
			m.regions = append(m.regions[:idxs[0]], append(parts, m.regions[idxs[0]+1:]...)...)
			return nil
		}
	}
	for _, idx := range idxs {
		m.regions[idx].Prot = prot
	}
	return nil
}

// Brk implements the brk-like heap: addr==0 queries the current break;
// otherwise grows or shrinks it within the reserved heap arena.
func (m *Manager) Brk(addr uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr == 0 {
		return m.brk
	}
	if addr < m.layout.HeapBase || addr > m.heapEnd {
		return m.brk
	}
	m.brk = addr
	return m.brk
}

// WriteStackBytes pushes b onto the stack (SP grows down, 16-byte
// aligned) and returns the address it was written at.
func (m *Manager) WriteStackBytes(sp uint64, b []byte) (uint64, uint64, error) {
	n := uint64(len(b))
	newSP := (sp - n) &^ 0xF
	if err := m.cpu.MemWrite(newSP, b); err != nil {
		return sp, 0, memErrorf("write_stack_bytes", newSP, n, "backend write failed: %v", err)
	}
	return newSP, newSP, nil
}

// WriteStackString pushes a NUL-terminated string onto the stack.
func (m *Manager) WriteStackString(sp uint64, s string) (uint64, uint64, error) {
	return m.WriteStackBytes(sp, append([]byte(s), 0))
}

// AllocateStack reserves n bytes on the stack without writing to them;
// the caller writes via MemWrite once it knows the address.
func (m *Manager) AllocateStack(sp uint64, n uint64) (newSP, addr uint64) {
	newSP = (sp - n) &^ 0xF
	return newSP, newSP
}

// Regions returns a snapshot of the region table sorted by base,
// suitable for rendering `/proc/self/maps` or a postmortem dump.
func (m *Manager) Regions() []Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Region, len(m.regions))
	copy(out, m.regions)
	return out
}

// RegisterRegion records a region the manager didn't allocate itself
// (e.g. module segments mapped directly by the linker via PT_LOAD
// addresses chosen by module layout, not the mmap arena).
func (m *Manager) RegisterRegion(r Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertRegion(r)
}

// FindFreeRange returns the lowest address at or above floor with size
// contiguous free bytes, without mapping it — used by the dynamic
// linker to choose a module's load_base before copying segment bytes.
func (m *Manager) FindFreeRange(floor, size uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstFit(floor, size)
}

// MapsString renders `/proc/self/maps` from the live region table.
func (m *Manager) MapsString() string {
	regions := m.Regions()
	out := ""
	for _, r := range regions {
		path := r.Name
		out += fmt.Sprintf("%08x-%08x %s 00000000 00:00 0 %s\n",
			r.Base, r.End(), permString(r.Prot), path)
	}
	return out
}
