package backend

import (
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

// regMap translates the package-neutral Reg enum to Unicorn's ARM64
// register constants, the same lookup table shape the emulator this
// package is grounded on keeps inline per accessor.
var regMap = map[Reg]int{
	X0: uc.ARM64_REG_X0, X1: uc.ARM64_REG_X1, X2: uc.ARM64_REG_X2, X3: uc.ARM64_REG_X3,
	X4: uc.ARM64_REG_X4, X5: uc.ARM64_REG_X5, X6: uc.ARM64_REG_X6, X7: uc.ARM64_REG_X7,
	X8: uc.ARM64_REG_X8, X9: uc.ARM64_REG_X9, X10: uc.ARM64_REG_X10, X11: uc.ARM64_REG_X11,
	X12: uc.ARM64_REG_X12, X13: uc.ARM64_REG_X13, X14: uc.ARM64_REG_X14, X15: uc.ARM64_REG_X15,
	X16: uc.ARM64_REG_X16, X17: uc.ARM64_REG_X17, X18: uc.ARM64_REG_X18, X19: uc.ARM64_REG_X19,
	X20: uc.ARM64_REG_X20, X21: uc.ARM64_REG_X21, X22: uc.ARM64_REG_X22, X23: uc.ARM64_REG_X23,
	X24: uc.ARM64_REG_X24, X25: uc.ARM64_REG_X25, X26: uc.ARM64_REG_X26, X27: uc.ARM64_REG_X27,
	X28: uc.ARM64_REG_X28, X29: uc.ARM64_REG_X29, X30: uc.ARM64_REG_X30,
	SP: uc.ARM64_REG_SP, PC: uc.ARM64_REG_PC, NZCV: uc.ARM64_REG_NZCV,
	TPIDR_EL0: uc.ARM64_REG_TPIDR_EL0,
}

// Unicorn wraps the unicorn-engine ARM64 core behind the CPU interface.
type Unicorn struct {
	mu uc.Unicorn
}

// NewUnicorn creates an ARM64 little-endian Unicorn backend.
func NewUnicorn() (*Unicorn, error) {
	mu, err := uc.NewUnicorn(uc.ARCH_ARM64, uc.MODE_ARM)
	if err != nil {
		return nil, fmt.Errorf("create unicorn: %w", err)
	}
	// Enable NEON/FP (CPACR_EL1 FPEN bits), matching the one-time backend
	// fixup the emulator this is ported from performs at boot.
	if cpacr, err := mu.RegRead(uc.ARM64_REG_CPACR_EL1); err == nil {
		_ = mu.RegWrite(uc.ARM64_REG_CPACR_EL1, cpacr|0x300000)
	}
	return &Unicorn{mu: mu}, nil
}

func (u *Unicorn) RegRead(r Reg) (uint64, error) {
	ucReg, ok := regMap[r]
	if !ok {
		return 0, fmt.Errorf("unknown register %d", r)
	}
	return u.mu.RegRead(ucReg)
}

func (u *Unicorn) RegWrite(r Reg, v uint64) error {
	ucReg, ok := regMap[r]
	if !ok {
		return fmt.Errorf("unknown register %d", r)
	}
	return u.mu.RegWrite(ucReg, v)
}

func toUCProt(prot Prot) int {
	p := 0
	if prot&ProtRead != 0 {
		p |= uc.PROT_READ
	}
	if prot&ProtWrite != 0 {
		p |= uc.PROT_WRITE
	}
	if prot&ProtExec != 0 {
		p |= uc.PROT_EXEC
	}
	return p
}

func (u *Unicorn) MemMap(base, size uint64, prot Prot) error {
	return u.mu.MemMapProt(base, int(size), toUCProt(prot))
}

func (u *Unicorn) MemUnmap(base, size uint64) error {
	return u.mu.MemUnmap(base, int(size))
}

func (u *Unicorn) MemProtect(base, size uint64, prot Prot) error {
	return u.mu.MemProtect(base, int(size), toUCProt(prot))
}

func (u *Unicorn) MemWrite(addr uint64, data []byte) error {
	return u.mu.MemWrite(addr, data)
}

func (u *Unicorn) MemRead(addr uint64, length int) ([]byte, error) {
	return u.mu.MemRead(addr, int64(length))
}

func (u *Unicorn) MemReadCString(addr uint64, max int) (string, error) {
	buf := make([]byte, 0, 64)
	for i := 0; i < max; i += 64 {
		chunk, err := u.mu.MemRead(addr+uint64(i), 64)
		if err != nil {
			if len(buf) > 0 {
				return string(buf), nil
			}
			return "", err
		}
		for _, b := range chunk {
			if b == 0 {
				return string(buf), nil
			}
			buf = append(buf, b)
			if len(buf) >= max {
				return string(buf), nil
			}
		}
	}
	return string(buf), nil
}

func (u *Unicorn) EmuStart(pc, until uint64) error {
	return u.mu.Start(pc, until)
}

func (u *Unicorn) EmuStop() error {
	return u.mu.Stop()
}

func (u *Unicorn) AddCodeHook(begin, end uint64, fn CodeHookFunc) error {
	_, err := u.mu.HookAdd(uc.HOOK_CODE, func(_ uc.Unicorn, addr uint64, size uint32) {
		fn(addr, size)
	}, begin, end)
	return err
}

func (u *Unicorn) AddMemInvalidHook(fn MemHookFunc) error {
	_, err := u.mu.HookAdd(uc.HOOK_MEM_INVALID, func(_ uc.Unicorn, access int, addr uint64, size int, _ int64) bool {
		return fn(MemFault{Kind: FaultInvalid, Address: addr, Size: size})
	}, 1, 0)
	return err
}

func (u *Unicorn) AddMemUnmappedHook(fn MemHookFunc) error {
	_, err := u.mu.HookAdd(uc.HOOK_MEM_READ_UNMAPPED|uc.HOOK_MEM_WRITE_UNMAPPED|uc.HOOK_MEM_FETCH_UNMAPPED,
		func(_ uc.Unicorn, access int, addr uint64, size int, _ int64) bool {
			kind := FaultReadUnmapped
			switch access {
			case uc.MEM_WRITE_UNMAPPED:
				kind = FaultWriteUnmapped
			case uc.MEM_FETCH_UNMAPPED:
				kind = FaultFetchUnmapped
			}
			return fn(MemFault{Kind: kind, Address: addr, Size: size})
		}, 1, 0)
	return err
}

// AddInterruptHook decodes the SVC immediate out of the instruction
// that trapped (Unicorn's HOOK_INTR only reports the exception class,
// not the immediate) by reading the 4 bytes at PC-4 and extracting the
// standard AArch64 SVC encoding's imm16 field.
func (u *Unicorn) AddInterruptHook(fn InterruptHookFunc) error {
	_, err := u.mu.HookAdd(uc.HOOK_INTR, func(mu uc.Unicorn, intno uint32) {
		pc, err := mu.RegRead(uc.ARM64_REG_PC)
		if err != nil {
			return
		}
		word, err := mu.MemRead(pc-4, 4)
		if err != nil || len(word) != 4 {
			return
		}
		raw := uint32(word[0]) | uint32(word[1])<<8 | uint32(word[2])<<16 | uint32(word[3])<<24
		if raw&0xFFE0001F != 0xD4000001 {
			return // not an SVC instruction
		}
		fn(uint16((raw >> 5) & 0xFFFF))
	}, 1, 0)
	return err
}

func (u *Unicorn) Close() error {
	return u.mu.Close()
}
