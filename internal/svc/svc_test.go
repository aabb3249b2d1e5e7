package svc

import (
	"encoding/binary"
	"testing"

	"github.com/zboralski/galago/internal/backend"
	"github.com/zboralski/galago/internal/memory"
)

func TestNestedCallTrampolineSize(t *testing.T) {
	code := encodeNestedCallTrampoline()
	if len(code) != NestedCallTrampolineInsns*4 {
		t.Fatalf("nested-call trampoline: got %d bytes, want %d", len(code), NestedCallTrampolineInsns*4)
	}
}

func TestNestedCallTrampolineEndsInRet(t *testing.T) {
	code := encodeNestedCallTrampoline()
	last := binary.LittleEndian.Uint32(code[len(code)-4:])
	if last != encodeRET() {
		t.Fatalf("last instruction = 0x%x, want ret (0x%x)", last, encodeRET())
	}
}

func TestAssembleSimpleSVCRoundTrips(t *testing.T) {
	code := AssembleSimpleSVC(42)
	if len(code) != 8 {
		t.Fatalf("simple SVC stub: got %d bytes, want 8", len(code))
	}
	svcWord := binary.LittleEndian.Uint32(code[0:4])
	if svcWord != encodeSVC(42) {
		t.Fatalf("svc word = 0x%x, want 0x%x", svcWord, encodeSVC(42))
	}
	retWord := binary.LittleEndian.Uint32(code[4:8])
	if retWord != encodeRET() {
		t.Fatalf("ret word = 0x%x, want 0x%x", retWord, encodeRET())
	}
}

func newTestRegistry(t *testing.T) (*Registry, backend.CPU) {
	t.Helper()
	cpu := backend.NewMock()
	layout := memory.SmallLayout
	if err := cpu.MemMap(layout.SVCBase, layout.SVCSize, backend.ProtRead|backend.ProtExec); err != nil {
		t.Fatalf("mapping SVC arena: %v", err)
	}
	return NewRegistry(cpu, layout, NewBuiltinAssembler()), cpu
}

func TestRegistryAssignsSequentialNumbersAndSkipsReserved(t *testing.T) {
	reg, _ := newTestRegistry(t)

	var last uint16
	for i := 0; i < 5; i++ {
		e, err := reg.Register("stub", func(ctx *Context) (Result, error) { return NoWrite{}, nil })
		if err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
		if e.Number == RequestNextCallSVC || e.Number == PostCallbackSyscallNumber {
			t.Fatalf("allocated reserved number %d", e.Number)
		}
		if i > 0 && e.Number <= last {
			t.Fatalf("numbers not increasing: %d after %d", e.Number, last)
		}
		last = e.Number
	}
}

func TestRegistryDispatchInvokesHandler(t *testing.T) {
	reg, cpu := newTestRegistry(t)

	called := false
	entry, err := reg.Register("test_fn", func(ctx *Context) (Result, error) {
		called = true
		x0, err := ctx.X(0)
		if err != nil {
			return nil, err
		}
		return WriteX0{Value: x0 + 1}, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := &Context{CPU: cpu}
	if err := ctx.SetX(0, 41); err != nil {
		t.Fatalf("SetX: %v", err)
	}

	result, err := reg.Dispatch(entry.Number, ctx)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !called {
		t.Fatalf("handler was not invoked")
	}
	w, ok := result.(WriteX0)
	if !ok {
		t.Fatalf("result = %#v, want WriteX0", result)
	}
	if w.Value != 42 {
		t.Fatalf("result.Value = %d, want 42", w.Value)
	}
}

func TestRegistryDispatchUnknownNumberErrors(t *testing.T) {
	reg, cpu := newTestRegistry(t)
	ctx := &Context{CPU: cpu}
	if _, err := reg.Dispatch(9999, ctx); err == nil {
		t.Fatalf("expected error dispatching unregistered SVC number")
	}
}

func TestRegisterReservedDoesNotEmitTrampoline(t *testing.T) {
	reg, cpu := newTestRegistry(t)
	reg.RegisterReserved(RequestNextCallSVC, "request_next_call", func(ctx *Context) (Result, error) {
		return NoWrite{}, nil
	})
	ctx := &Context{CPU: cpu}
	if _, err := reg.Dispatch(RequestNextCallSVC, ctx); err != nil {
		t.Fatalf("dispatch reserved: %v", err)
	}
	if reg.offset != 0 {
		t.Fatalf("RegisterReserved emitted %d trampoline bytes, want 0", reg.offset)
	}
}

func TestNestedCallAddrFitsInArena(t *testing.T) {
	reg, _ := newTestRegistry(t)
	addr, err := reg.NestedCallAddr()
	if err != nil {
		t.Fatalf("NestedCallAddr: %v", err)
	}
	if addr != memory.SmallLayout.SVCBase {
		t.Fatalf("nested call trampoline address = 0x%x, want 0x%x", addr, memory.SmallLayout.SVCBase)
	}
}
