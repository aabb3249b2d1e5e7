// Package script lets a reverse engineer express a symbol-override
// policy in JavaScript instead of Go, without recompiling this module.
// spec.md's façade names `register_hook_listener` as taking an opaque
// host function; this package is one concrete implementation of that
// function type, backed by a goja runtime loaded from a file the CLI's
// --hook-script flag points at.
package script

import (
	"fmt"
	"os"

	"github.com/dop251/goja"
)

// Listener adapts a JS file into a linker.HookListener: it expects the
// script to define a global `resolveSymbol(symbolName)` function
// returning either a number (the guest address to use instead) or
// null/undefined (defer to the next listener). Only the symbol name is
// passed; the requesting module's name and the symbol's current value
// are not.
type Listener struct {
	vm *goja.Runtime
	fn goja.Callable
}

// Load reads and runs path once, then binds its resolveSymbol function.
// The runtime is not safe for concurrent use; the emulator's
// single-threaded dispatch model makes that the same assumption every
// other collaborator package already relies on.
func Load(path string) (*Listener, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hook script: %w", err)
	}

	vm := goja.New()
	if _, err := vm.RunString(string(src)); err != nil {
		return nil, fmt.Errorf("run hook script: %w", err)
	}

	v := vm.Get("resolveSymbol")
	if v == nil || goja.IsUndefined(v) {
		return nil, fmt.Errorf("hook script %s: resolveSymbol is not defined", path)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("hook script %s: resolveSymbol is not a function", path)
	}
	return &Listener{vm: vm, fn: fn}, nil
}

// ResolveSymbol implements linker.HookListener by calling into the
// script's resolveSymbol; any JS exception or a zero/negative return is
// treated as "no opinion", letting the chain continue.
func (l *Listener) ResolveSymbol(name string) (uint64, bool) {
	result, err := l.fn(goja.Undefined(), l.vm.ToValue(name))
	if err != nil {
		return 0, false
	}
	if goja.IsNull(result) || goja.IsUndefined(result) {
		return 0, false
	}
	addr := result.ToInteger()
	if addr <= 0 {
		return 0, false
	}
	return uint64(addr), true
}

// SVCCallback returns a svc-number observer that, if the script defines
// an `onSVC(number, userData)` function, invokes it on every trapped SVC. Returns
// nil (install nothing) when the script has no such function, so the
// façade's SetSVCCallback is only ever wired when there's something to
// call.
func (l *Listener) SVCCallback() func(swi uint16, userData uint64) {
	v := l.vm.Get("onSVC")
	if v == nil || goja.IsUndefined(v) {
		return nil
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil
	}
	return func(swi uint16, userData uint64) {
		_, _ = fn(goja.Undefined(), l.vm.ToValue(swi), l.vm.ToValue(userData))
	}
}
