package script

import (
	"os"
	"path/filepath"
	"testing"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hook.js")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolveSymbolOverride(t *testing.T) {
	path := writeScript(t, `
		function resolveSymbol(name) {
			if (name === "strcmp") return 0x1000;
			return null;
		}
	`)
	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	addr, ok := l.ResolveSymbol("strcmp")
	if !ok || addr != 0x1000 {
		t.Fatalf("ResolveSymbol(strcmp) = (0x%x, %v), want (0x1000, true)", addr, ok)
	}

	addr, ok = l.ResolveSymbol("unknown_symbol")
	if ok || addr != 0 {
		t.Fatalf("ResolveSymbol(unknown_symbol) = (0x%x, %v), want (0, false)", addr, ok)
	}
}

func TestMissingResolveSymbol(t *testing.T) {
	path := writeScript(t, `function notResolveSymbol() {}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when resolveSymbol is undefined")
	}
}

func TestSVCCallbackOptional(t *testing.T) {
	path := writeScript(t, `function resolveSymbol(name) { return null; }`)
	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cb := l.SVCCallback(); cb != nil {
		t.Fatalf("expected nil SVCCallback when onSVC is undefined")
	}
}

func TestSVCCallbackInvoked(t *testing.T) {
	path := writeScript(t, `
		var lastSWI = -1;
		function resolveSymbol(name) { return null; }
		function onSVC(swi, userData) { lastSWI = swi; }
	`)
	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cb := l.SVCCallback()
	if cb == nil {
		t.Fatalf("expected non-nil SVCCallback when onSVC is defined")
	}
	cb(42, 0)

	v := l.vm.Get("lastSWI")
	if v.ToInteger() != 42 {
		t.Fatalf("onSVC was not invoked with swi=42, lastSWI=%v", v)
	}
}
