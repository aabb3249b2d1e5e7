package memory

import "fmt"

// MemError reports a guest memory-manager failure: VA exhaustion, a
// protection conflict, an munmap/mprotect request that doesn't cover
// whole contiguous regions, or a malformed size.
type MemError struct {
	Op      string
	Address uint64
	Size    uint64
	Reason  string
}

func (e *MemError) Error() string {
	return fmt.Sprintf("memory: %s at 0x%x (size 0x%x): %s", e.Op, e.Address, e.Size, e.Reason)
}

func memErrorf(op string, addr, size uint64, format string, args ...any) error {
	return &MemError{Op: op, Address: addr, Size: size, Reason: fmt.Sprintf(format, args...)}
}
