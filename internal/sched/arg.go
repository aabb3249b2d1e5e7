// Package sched implements the cooperative single-core task scheduler:
// nested host->guest calls, futex wait/wake, and signal delivery as
// covered tasks that run to completion before the interrupted task
// resumes.
package sched

import (
	"math"

	"github.com/zboralski/galago/internal/memory"
)

// Arg is one AAPCS64 argument to a guest call, modeled as a closed sum
// type rather than a single uint64 so callers never have to fake a
// pointer or string argument through an untyped integer.
type Arg interface{ argValue(w *argWriter) }

type ArgInt uint64
type ArgPtr uint64
type ArgFloat32 float32
type ArgFloat64 float64

// ArgString copies the string (NUL-terminated) onto the guest stack and
// passes its address.
type ArgString string

// ArgBytes copies raw bytes onto the guest stack and passes their
// address.
type ArgBytes []byte

func (a ArgInt) argValue(w *argWriter)     { w.pushInt(uint64(a)) }
func (a ArgPtr) argValue(w *argWriter)     { w.pushInt(uint64(a)) }
func (a ArgFloat32) argValue(w *argWriter) { w.pushInt(uint64(math.Float32bits(float32(a)))) }
func (a ArgFloat64) argValue(w *argWriter) { w.pushInt(math.Float64bits(float64(a))) }
func (a ArgString) argValue(w *argWriter)  { w.pushBytesOnStack([]byte(a + "\x00")) }
func (a ArgBytes) argValue(w *argWriter)   { w.pushBytesOnStack([]byte(a)) }

// argWriter marshals a call's arguments per AAPCS64: the first 8
// integer/pointer arguments go in X0-X7 (this port does not model the
// separate NEON register file for floating-point args, matching the
// rest of this emulator's integer-only register model); anything beyond
// that, or a string/byte blob, is written to the guest stack first and
// passed by address or by stack slot.
type argWriter struct {
	mem *memory.Manager
	sp  uint64
	ints []uint64
}

func newArgWriter(mem *memory.Manager, sp uint64) *argWriter {
	return &argWriter{mem: mem, sp: sp}
}

func (w *argWriter) pushInt(v uint64) { w.ints = append(w.ints, v) }

func (w *argWriter) pushBytesOnStack(b []byte) {
	newSP, addr, err := w.mem.WriteStackBytes(w.sp, b)
	if err != nil {
		// Stack exhaustion mid-marshal is a fatal configuration error; the
		// caller's eventual EmuStart will surface the real symptom, so
		// here we simply stop growing the stack further.
		w.pushInt(0)
		return
	}
	w.sp = newSP
	w.pushInt(addr)
}

// marshal resolves every arg's stack-resident data first (so ArgString/
// ArgBytes addresses are stable), then returns the final SP and the
// register values for X0..X7 in order (truncated/padded as needed).
func marshal(mem *memory.Manager, sp uint64, args []Arg) (newSP uint64, regs [8]uint64, extra []uint64) {
	w := newArgWriter(mem, sp)
	for _, a := range args {
		a.argValue(w)
	}
	for i, v := range w.ints {
		if i < 8 {
			regs[i] = v
		} else {
			extra = append(extra, v)
		}
	}
	return w.sp, regs, extra
}
