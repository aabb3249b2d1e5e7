package elf

import "sync"

// once is a thread-confined "compute once, cache, return on subsequent
// reads" lazy cell — the Go analogue of the memoized lazy object pattern
// this parser is grounded on. The ELF loader itself never touches a
// given File from more than one goroutine, but a host program may run a
// background disassembler against the same parsed File while the main
// dispatch loop also reads it, so sync.Once is used instead of a bare
// guarded bool.
type once[T any] struct {
	do    sync.Once
	value T
	err   error
}

func (o *once[T]) get(compute func() (T, error)) (T, error) {
	o.do.Do(func() {
		o.value, o.err = compute()
	})
	return o.value, o.err
}
