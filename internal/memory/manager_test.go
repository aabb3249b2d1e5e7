package memory

import (
	"testing"

	"github.com/zboralski/galago/internal/backend"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(backend.NewMock(), SmallLayout)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

// TestMmapMunmapFirstFit exercises spec.md §8 scenario 4 verbatim: from
// an empty mmap arena, two allocations land back to back, and after
// freeing the first one a same-size request reclaims it.
func TestMmapMunmapFirstFit(t *testing.T) {
	m := newTestManager(t)
	base := m.Layout().MmapBase

	a, err := m.Mmap(0, 0x3000, backend.ProtRead|backend.ProtWrite, "")
	if err != nil {
		t.Fatalf("Mmap #1: %v", err)
	}
	if a != base {
		t.Fatalf("Mmap #1 = 0x%x, want mmap base 0x%x", a, base)
	}

	b, err := m.Mmap(0, 0x1000, backend.ProtRead|backend.ProtWrite, "")
	if err != nil {
		t.Fatalf("Mmap #2: %v", err)
	}
	if b != base+0x3000 {
		t.Fatalf("Mmap #2 = 0x%x, want 0x%x", b, base+0x3000)
	}

	if err := m.Munmap(base, 0x3000); err != nil {
		t.Fatalf("Munmap: %v", err)
	}

	c, err := m.Mmap(0, 0x1000, backend.ProtRead|backend.ProtWrite, "")
	if err != nil {
		t.Fatalf("Mmap #3: %v", err)
	}
	if c != base {
		t.Fatalf("Mmap #3 = 0x%x, want reclaimed base 0x%x", c, base)
	}
}

func TestMmapZeroSizeFails(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Mmap(0, 0, backend.ProtRead, ""); err == nil {
		t.Fatalf("Mmap(size=0) should fail")
	}
}

func TestMmapOnePageRoundsUp(t *testing.T) {
	m := newTestManager(t)
	addr, err := m.Mmap(0, 1, backend.ProtRead|backend.ProtWrite, "")
	if err != nil {
		t.Fatalf("Mmap(size=1): %v", err)
	}
	for _, r := range m.Regions() {
		if r.Base == addr {
			if r.Size != PageSize {
				t.Fatalf("region size = 0x%x, want one page", r.Size)
			}
			return
		}
	}
	t.Fatalf("no region found at 0x%x", addr)
}

func TestMprotectAcrossHoleFails(t *testing.T) {
	m := newTestManager(t)
	base := m.Layout().MmapBase

	if _, err := m.Mmap(base, 0x1000, backend.ProtRead|backend.ProtWrite, ""); err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	// base+0x1000..base+0x2000 is never mapped: a hole.
	if err := m.Mprotect(base, 0x3000, backend.ProtRead); err == nil {
		t.Fatalf("Mprotect spanning an unmapped hole should fail")
	}

	// The mapped region's protection must be untouched by the failed call.
	for _, r := range m.Regions() {
		if r.Base == base && r.Prot != backend.ProtRead|backend.ProtWrite {
			t.Fatalf("Mprotect partially applied: region prot = %v", r.Prot)
		}
	}
}

func TestEveryMappedAddressHasExactlyOneRegion(t *testing.T) {
	m := newTestManager(t)
	base, err := m.Mmap(0, 0x2000, backend.ProtRead|backend.ProtWrite, "")
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}

	count := 0
	for _, r := range m.Regions() {
		if r.Contains(base) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("address 0x%x is contained by %d regions, want exactly 1", base, count)
	}
}
