package memory

import "github.com/zboralski/galago/internal/backend"

// Owner classifies who a region belongs to, used for `/proc/self/maps`
// pathname rendering and for deciding what a dump may reclaim.
type Owner int

const (
	OwnerAnonymous Owner = iota
	OwnerModule
	OwnerStack
	OwnerHeap
	OwnerSVC
)

// Region is one non-overlapping, page-aligned span of the guest memory
// map. An address is mapped iff exactly one region contains it.
type Region struct {
	Base  uint64
	Size  uint64
	Prot  backend.Prot
	Name  string // module path, "[heap]", "[stack]", "[anon:...]"
	Owner Owner
}

func (r Region) End() uint64 { return r.Base + r.Size }

func (r Region) Contains(addr uint64) bool { return addr >= r.Base && addr < r.End() }

func (r Region) Overlaps(base, size uint64) bool {
	end := base + size
	return base < r.End() && end > r.Base
}

func permString(p backend.Prot) string {
	b := []byte("----")
	if p&backend.ProtRead != 0 {
		b[0] = 'r'
	}
	if p&backend.ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&backend.ProtExec != 0 {
		b[2] = 'x'
	}
	b[3] = 'p'
	return string(b)
}
