package backend

import (
	"bytes"
	"testing"
)

// TestRegReadWriteRoundTrip covers spec.md §8's save_context/restore_context
// identity law at the register level: whatever was last written is what
// comes back, for every architectural register.
func TestRegReadWriteRoundTrip(t *testing.T) {
	m := NewMock()
	regs := []Reg{X0, X1, X8, X29, X30, SP, PC, NZCV, TPIDR_EL0}
	for i, r := range regs {
		want := uint64(0x1000) + uint64(i)
		if err := m.RegWrite(r, want); err != nil {
			t.Fatalf("RegWrite(%v): %v", r, err)
		}
		got, err := m.RegRead(r)
		if err != nil {
			t.Fatalf("RegRead(%v): %v", r, err)
		}
		if got != want {
			t.Fatalf("RegRead(%v) = 0x%x, want 0x%x", r, got, want)
		}
	}
}

func TestRegReadUnwrittenIsZero(t *testing.T) {
	m := NewMock()
	got, err := m.RegRead(X3)
	if err != nil {
		t.Fatalf("RegRead: %v", err)
	}
	if got != 0 {
		t.Fatalf("RegRead(unwritten) = 0x%x, want 0", got)
	}
}

// TestMemWriteReadRoundTrip covers spec.md §8: mem_write(addr, b) followed
// by mem_read(addr, len(b)) returns b, for any mapped writable range.
func TestMemWriteReadRoundTrip(t *testing.T) {
	m := NewMock()
	const base, size = 0x4000, 0x1000
	if err := m.MemMap(base, size, ProtRead|ProtWrite); err != nil {
		t.Fatalf("MemMap: %v", err)
	}

	want := []byte("the quick brown fox")
	if err := m.MemWrite(base+0x10, want); err != nil {
		t.Fatalf("MemWrite: %v", err)
	}
	got, err := m.MemRead(base+0x10, len(want))
	if err != nil {
		t.Fatalf("MemRead: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("MemRead = %q, want %q", got, want)
	}
}

func TestMemReadCString(t *testing.T) {
	m := NewMock()
	const base, size = 0x5000, 0x1000
	if err := m.MemMap(base, size, ProtRead|ProtWrite); err != nil {
		t.Fatalf("MemMap: %v", err)
	}
	if err := m.MemWrite(base, append([]byte("hello"), 0)); err != nil {
		t.Fatalf("MemWrite: %v", err)
	}
	s, err := m.MemReadCString(base, 32)
	if err != nil {
		t.Fatalf("MemReadCString: %v", err)
	}
	if s != "hello" {
		t.Fatalf("MemReadCString = %q, want %q", s, "hello")
	}
}

func TestMemWriteUnmappedFails(t *testing.T) {
	m := NewMock()
	if err := m.MemWrite(0x9000, []byte{1}); err == nil {
		t.Fatalf("MemWrite to unmapped address should fail")
	}
}

func TestMemUnmapRemovesRegion(t *testing.T) {
	m := NewMock()
	const base, size = 0x6000, 0x1000
	if err := m.MemMap(base, size, ProtRead|ProtWrite); err != nil {
		t.Fatalf("MemMap: %v", err)
	}
	if err := m.MemUnmap(base, size); err != nil {
		t.Fatalf("MemUnmap: %v", err)
	}
	if _, err := m.MemRead(base, 1); err == nil {
		t.Fatalf("MemRead after MemUnmap should fail")
	}
}

func TestMemProtectUnmappedFails(t *testing.T) {
	m := NewMock()
	if err := m.MemProtect(0x7000, 0x1000, ProtRead); err == nil {
		t.Fatalf("MemProtect on unmapped region should fail")
	}
}

func TestInterruptHookFired(t *testing.T) {
	m := NewMock()
	var got uint16
	if err := m.AddInterruptHook(func(number uint16) { got = number }); err != nil {
		t.Fatalf("AddInterruptHook: %v", err)
	}
	m.FireInterrupt(7)
	if got != 7 {
		t.Fatalf("interrupt hook received %d, want 7", got)
	}
}
