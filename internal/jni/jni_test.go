package jni

import (
	"testing"

	"github.com/zboralski/galago/internal/backend"
	"github.com/zboralski/galago/internal/memory"
	"github.com/zboralski/galago/internal/sched"
	"github.com/zboralski/galago/internal/svc"
)

func newTestBridge(t *testing.T) (*Bridge, *svc.Context, *backend.Mock) {
	t.Helper()
	cpu := backend.NewMock()
	mem, err := memory.New(cpu, memory.SmallLayout)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	reg := svc.NewRegistry(cpu, memory.SmallLayout, nil)
	caller := sched.NewCaller(cpu, mem, reg)
	b := NewBridge(cpu, mem, reg, caller)
	return b, &svc.Context{CPU: cpu, Mem: mem}, cpu
}

func writeCString(t *testing.T, cpu *backend.Mock, addr uint64, s string) {
	t.Helper()
	if err := cpu.MemWrite(addr, append([]byte(s), 0)); err != nil {
		t.Fatalf("MemWrite: %v", err)
	}
}

// TestMethodSignatureIsJNIMethod is the package's §8 property test: a
// method created with a real signature but no registered native reports
// IsJNIMethod() == false.
func TestMethodSignatureIsJNIMethod(t *testing.T) {
	dvm := NewDVM()
	class := dvm.FindOrCreateClass("com/example/Demo")
	m := dvm.FindOrCreateMethod(class.ID, "doThing", "(Ljava/lang/String;I)V")
	if m.IsJNIMethod() {
		t.Fatalf("expected IsJNIMethod() == false before RegisterNatives")
	}
	dvm.RegisterNatives(class.ID, "doThing", "(Ljava/lang/String;I)V", 0x1000)
	if !m.IsJNIMethod() {
		t.Fatalf("expected IsJNIMethod() == true after RegisterNatives with a nonzero fn_ptr")
	}
}

func TestFindOrCreateClassIsIdempotent(t *testing.T) {
	dvm := NewDVM()
	a := dvm.FindOrCreateClass("java/lang/Object")
	b := dvm.FindOrCreateClass("java/lang/Object")
	if a.ID != b.ID {
		t.Fatalf("expected the same class id on repeated lookup, got %d and %d", a.ID, b.ID)
	}
}

func TestInstallProducesReadableVtables(t *testing.T) {
	b, _, cpu := newTestBridge(t)
	jniEnv, javaVM, err := b.Install()
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if jniEnv == 0 || javaVM == 0 {
		t.Fatalf("expected nonzero JNIEnv*/JavaVM*, got %#x / %#x", jniEnv, javaVM)
	}

	jniVtable, err := readU64(cpu, jniEnv)
	if err != nil {
		t.Fatalf("readU64(jniEnv): %v", err)
	}
	findClassAddr, err := readU64(cpu, jniVtable+uint64(idxFindClass)*8)
	if err != nil {
		t.Fatalf("readU64(FindClass slot): %v", err)
	}
	if findClassAddr == 0 {
		t.Fatalf("expected FindClass vtable slot to hold a nonzero trampoline address")
	}
}

// TestFindClassThenGetMethodIDThroughDispatch drives the installed
// vtable's own SVC numbers through the registry, rather than calling
// the Bridge's handler methods directly, so the wiring Install did is
// what's actually under test.
func TestFindClassThenGetMethodIDThroughDispatch(t *testing.T) {
	b, ctx, cpu := newTestBridge(t)
	if _, _, err := b.Install(); err != nil {
		t.Fatalf("Install: %v", err)
	}

	scratch := ctx.Mem.Layout().HeapBase
	writeCString(t, cpu, scratch, "com/example/Demo")

	findClassEntry := findEntry(t, b.reg, "jni_find_class")
	if err := cpu.RegWrite(backend.X1, scratch); err != nil {
		t.Fatalf("RegWrite: %v", err)
	}
	result, err := b.reg.Dispatch(findClassEntry.Number, ctx)
	if err != nil {
		t.Fatalf("Dispatch(find_class): %v", err)
	}
	classID := result.(svc.WriteX0).Value
	if classID == 0 {
		t.Fatalf("expected a nonzero class id")
	}

	nameAddr := scratch + 64
	sigAddr := scratch + 128
	writeCString(t, cpu, nameAddr, "doThing")
	writeCString(t, cpu, sigAddr, "(Ljava/lang/String;I)V")

	getMethodEntry := findEntry(t, b.reg, "jni_get_method_id")
	if err := cpu.RegWrite(backend.X1, classID); err != nil {
		t.Fatalf("RegWrite: %v", err)
	}
	if err := cpu.RegWrite(backend.X2, nameAddr); err != nil {
		t.Fatalf("RegWrite: %v", err)
	}
	if err := cpu.RegWrite(backend.X3, sigAddr); err != nil {
		t.Fatalf("RegWrite: %v", err)
	}
	result, err = b.reg.Dispatch(getMethodEntry.Number, ctx)
	if err != nil {
		t.Fatalf("Dispatch(get_method_id): %v", err)
	}
	methodID := result.(svc.WriteX0).Value
	if methodID == 0 {
		t.Fatalf("expected a nonzero method id")
	}

	m, ok := b.dvm.Method(methodID)
	if !ok {
		t.Fatalf("expected method %d to exist in the DVM", methodID)
	}
	if m.ClassID != classID || m.Name != "doThing" || m.Signature != "(Ljava/lang/String;I)V" {
		t.Fatalf("unexpected method record: %+v", m)
	}
}

func TestNewStringUTFRoundTrip(t *testing.T) {
	b, ctx, cpu := newTestBridge(t)
	if _, _, err := b.Install(); err != nil {
		t.Fatalf("Install: %v", err)
	}

	addr := ctx.Mem.Layout().HeapBase
	writeCString(t, cpu, addr, "hello jni")
	if err := cpu.RegWrite(backend.X1, addr); err != nil {
		t.Fatalf("RegWrite: %v", err)
	}
	result, err := b.handleNewStringUTF(ctx)
	if err != nil {
		t.Fatalf("handleNewStringUTF: %v", err)
	}
	ref := result.(svc.WriteX0).Value

	if err := cpu.RegWrite(backend.X1, ref); err != nil {
		t.Fatalf("RegWrite: %v", err)
	}
	if err := cpu.RegWrite(backend.X2, 0); err != nil {
		t.Fatalf("RegWrite: %v", err)
	}
	result, err = b.handleGetStringUTFChars(ctx)
	if err != nil {
		t.Fatalf("handleGetStringUTFChars: %v", err)
	}
	bufAddr := result.(svc.WriteX0).Value
	got, err := cpu.MemReadCString(bufAddr, 64)
	if err != nil {
		t.Fatalf("MemReadCString: %v", err)
	}
	if got != "hello jni" {
		t.Fatalf("GetStringUTFChars = %q, want %q", got, "hello jni")
	}
}

// TestCallIntMethodWithoutNativeReturnsZero exercises the
// IsJNIMethod()==false path through CallIntMethod's own handler: a
// method that was only ever looked up, never registered, must not be
// dispatched through the caller.
func TestCallIntMethodWithoutNativeReturnsZero(t *testing.T) {
	b, ctx, cpu := newTestBridge(t)
	class := b.dvm.FindOrCreateClass("com/example/Demo")
	m := b.dvm.FindOrCreateMethod(class.ID, "getValue", "()I")

	if err := cpu.RegWrite(backend.X2, m.ID); err != nil {
		t.Fatalf("RegWrite: %v", err)
	}
	result, err := b.handleCallMethod(ctx)
	if err != nil {
		t.Fatalf("handleCallMethod: %v", err)
	}
	if result.(svc.WriteX0).Value != 0 {
		t.Fatalf("expected 0 when the method has no registered native")
	}
}

func TestRegisterNativesBindsFnPtr(t *testing.T) {
	b, ctx, cpu := newTestBridge(t)
	class := b.dvm.FindOrCreateClass("com/example/Demo")

	entryAddr := ctx.Mem.Layout().HeapBase
	nameAddr := entryAddr + 256
	sigAddr := entryAddr + 512
	writeCString(t, cpu, nameAddr, "getValue")
	writeCString(t, cpu, sigAddr, "()I")
	if err := cpu.MemWrite(entryAddr, u64leBytes(nameAddr)); err != nil {
		t.Fatalf("MemWrite: %v", err)
	}
	if err := cpu.MemWrite(entryAddr+8, u64leBytes(sigAddr)); err != nil {
		t.Fatalf("MemWrite: %v", err)
	}
	if err := cpu.MemWrite(entryAddr+16, u64leBytes(0xdead0000)); err != nil {
		t.Fatalf("MemWrite: %v", err)
	}

	if err := cpu.RegWrite(backend.X1, class.ID); err != nil {
		t.Fatalf("RegWrite: %v", err)
	}
	if err := cpu.RegWrite(backend.X2, entryAddr); err != nil {
		t.Fatalf("RegWrite: %v", err)
	}
	if err := cpu.RegWrite(backend.X3, 1); err != nil {
		t.Fatalf("RegWrite: %v", err)
	}
	if _, err := b.handleRegisterNatives(ctx); err != nil {
		t.Fatalf("handleRegisterNatives: %v", err)
	}

	m := b.dvm.FindOrCreateMethod(class.ID, "getValue", "()I")
	if !m.IsJNIMethod() || m.FnPtr != 0xdead0000 {
		t.Fatalf("expected RegisterNatives to bind fn_ptr, got %+v", m)
	}
}

func findEntry(t *testing.T, reg *svc.Registry, name string) *svc.Entry {
	t.Helper()
	for n := uint16(1); n < 4096; n++ {
		if e, ok := reg.Lookup(n); ok && e.Name == name {
			return e
		}
	}
	t.Fatalf("no registered SVC entry named %q", name)
	return nil
}

func u64leBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
