package jni

import (
	"github.com/zboralski/galago/internal/sched"
	"github.com/zboralski/galago/internal/svc"
)

// Every JNIEnv vtable slot is called as env->Func(env, ...), so X(0) is
// always the JNIEnv* itself and the first real argument is X(1); every
// JavaVM slot follows the same convention with X(0) as the JavaVM*.

func (b *Bridge) handleGetVersion(ctx *svc.Context) (svc.Result, error) {
	return svc.WriteX0{Value: uint64(jniVersion16)}, nil
}

func (b *Bridge) handleFindClass(ctx *svc.Context) (svc.Result, error) {
	namePtr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	name, err := ctx.CPU.MemReadCString(namePtr, 256)
	if err != nil {
		return nil, err
	}
	c := b.dvm.FindOrCreateClass(name)
	return svc.WriteX0{Value: c.ID}, nil
}

func (b *Bridge) handleGetObjectClass(ctx *svc.Context) (svc.Result, error) {
	c := b.dvm.FindOrCreateClass("<object>")
	return svc.WriteX0{Value: c.ID}, nil
}

func (b *Bridge) handleGetMethodID(ctx *svc.Context) (svc.Result, error) {
	return b.methodID(ctx)
}

func (b *Bridge) handleGetStaticMethodID(ctx *svc.Context) (svc.Result, error) {
	return b.methodID(ctx)
}

func (b *Bridge) methodID(ctx *svc.Context) (svc.Result, error) {
	classID, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	namePtr, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	sigPtr, err := ctx.X(3)
	if err != nil {
		return nil, err
	}
	name, err := ctx.CPU.MemReadCString(namePtr, 256)
	if err != nil {
		return nil, err
	}
	sig, err := ctx.CPU.MemReadCString(sigPtr, 256)
	if err != nil {
		return nil, err
	}
	m := b.dvm.FindOrCreateMethod(classID, name, sig)
	return svc.WriteX0{Value: m.ID}, nil
}

func (b *Bridge) handleGetFieldID(ctx *svc.Context) (svc.Result, error) {
	return b.fieldID(ctx)
}

func (b *Bridge) handleGetStaticFieldID(ctx *svc.Context) (svc.Result, error) {
	return b.fieldID(ctx)
}

func (b *Bridge) fieldID(ctx *svc.Context) (svc.Result, error) {
	classID, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	namePtr, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	sigPtr, err := ctx.X(3)
	if err != nil {
		return nil, err
	}
	name, err := ctx.CPU.MemReadCString(namePtr, 256)
	if err != nil {
		return nil, err
	}
	sig, err := ctx.CPU.MemReadCString(sigPtr, 256)
	if err != nil {
		return nil, err
	}
	f := b.dvm.FindOrCreateField(classID, name, sig)
	return svc.WriteX0{Value: f.ID}, nil
}

// handleCallMethod backs every CallXxxMethod/CallStaticXxxMethod slot:
// X(2) is always the jmethodID regardless of whether X(1) names an
// object or a class, so one handler covers the whole family. A method
// without a registered native (IsJNIMethod() == false) has nothing to
// invoke and reports a zero result rather than faulting the guest.
func (b *Bridge) handleCallMethod(ctx *svc.Context) (svc.Result, error) {
	result, _, err := b.callMethod(ctx)
	if err != nil {
		return nil, err
	}
	return svc.WriteX0{Value: result}, nil
}

func (b *Bridge) handleCallVoidMethod(ctx *svc.Context) (svc.Result, error) {
	_, _, err := b.callMethod(ctx)
	if err != nil {
		return nil, err
	}
	return svc.NoWrite{}, nil
}

func (b *Bridge) callMethod(ctx *svc.Context) (result uint64, called bool, err error) {
	methodID, err := ctx.X(2)
	if err != nil {
		return 0, false, err
	}
	m, ok := b.dvm.Method(methodID)
	if !ok || !m.IsJNIMethod() {
		return 0, false, nil
	}
	var args []sched.Arg
	for i := 3; i <= 7; i++ {
		v, err := ctx.X(i)
		if err != nil {
			return 0, false, err
		}
		args = append(args, sched.ArgInt(v))
	}
	result, err = b.caller.Call(m.FnPtr, args)
	if err != nil {
		return 0, false, err
	}
	return result, true, nil
}

// handleRegisterNatives decodes the guest JNINativeMethod[] array
// (three pointers per entry: name, signature, fnPtr) and records each
// fn_ptr on the matching DvmMethod.
func (b *Bridge) handleRegisterNatives(ctx *svc.Context) (svc.Result, error) {
	classID, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	methodsPtr, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	nMethods, err := ctx.X(3)
	if err != nil {
		return nil, err
	}
	const entrySize = 24
	for i := uint64(0); i < nMethods; i++ {
		base := methodsPtr + i*entrySize
		namePtr, err := readU64(ctx.CPU, base)
		if err != nil {
			return nil, err
		}
		sigPtr, err := readU64(ctx.CPU, base+8)
		if err != nil {
			return nil, err
		}
		fnPtr, err := readU64(ctx.CPU, base+16)
		if err != nil {
			return nil, err
		}
		name, err := ctx.CPU.MemReadCString(namePtr, 256)
		if err != nil {
			return nil, err
		}
		sig, err := ctx.CPU.MemReadCString(sigPtr, 256)
		if err != nil {
			return nil, err
		}
		b.dvm.RegisterNatives(classID, name, sig, fnPtr)
	}
	return svc.WriteX0{Value: uint64(jniOK)}, nil
}

func (b *Bridge) handleGetField(ctx *svc.Context) (svc.Result, error) {
	return svc.WriteX0{Value: 0}, nil
}

func (b *Bridge) handleSetField(ctx *svc.Context) (svc.Result, error) {
	return svc.NoWrite{}, nil
}

func (b *Bridge) handleNewStringUTF(ctx *svc.Context) (svc.Result, error) {
	ptr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	s, err := ctx.CPU.MemReadCString(ptr, 4096)
	if err != nil {
		return nil, err
	}
	id := b.dvm.InternString(s)
	return svc.WriteX0{Value: id}, nil
}

func (b *Bridge) handleGetStringUTFChars(ctx *svc.Context) (svc.Result, error) {
	jstr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	isCopyPtr, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	s, _ := b.dvm.String(jstr)
	buf, err := b.allocScratch(uint64(len(s) + 1))
	if err != nil {
		return nil, err
	}
	if err := ctx.CPU.MemWrite(buf, append([]byte(s), 0)); err != nil {
		return nil, err
	}
	if isCopyPtr != 0 {
		if err := ctx.CPU.MemWrite(isCopyPtr, []byte{1}); err != nil {
			return nil, err
		}
	}
	return svc.WriteX0{Value: buf}, nil
}

func (b *Bridge) handleGetStringUTFLength(ctx *svc.Context) (svc.Result, error) {
	jstr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	s, _ := b.dvm.String(jstr)
	return svc.WriteX0{Value: uint64(len(s))}, nil
}

func (b *Bridge) handleNewByteArray(ctx *svc.Context) (svc.Result, error) {
	length, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	addr, err := b.allocScratch(length + 8)
	if err != nil {
		return nil, err
	}
	if err := writeU64(ctx.CPU, addr, length); err != nil {
		return nil, err
	}
	return svc.WriteX0{Value: addr}, nil
}

func (b *Bridge) handleGetByteArrayElements(ctx *svc.Context) (svc.Result, error) {
	arr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	isCopyPtr, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	if isCopyPtr != 0 {
		if err := ctx.CPU.MemWrite(isCopyPtr, []byte{0}); err != nil {
			return nil, err
		}
	}
	return svc.WriteX0{Value: arr + 8}, nil
}

func (b *Bridge) handleGetArrayLength(ctx *svc.Context) (svc.Result, error) {
	arr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	length, err := readU64(ctx.CPU, arr)
	if err != nil {
		return nil, err
	}
	return svc.WriteX0{Value: length}, nil
}

func (b *Bridge) handleNewGlobalRef(ctx *svc.Context) (svc.Result, error) {
	obj, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	return svc.WriteX0{Value: b.dvm.NewGlobalRef(obj)}, nil
}

func (b *Bridge) handleDeleteGlobalRef(ctx *svc.Context) (svc.Result, error) {
	ref, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	b.dvm.DeleteGlobalRef(ref)
	return svc.NoWrite{}, nil
}

func (b *Bridge) handleNewLocalRef(ctx *svc.Context) (svc.Result, error) {
	obj, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	return svc.WriteX0{Value: b.dvm.NewLocalRef(obj)}, nil
}

func (b *Bridge) handleDeleteLocalRef(ctx *svc.Context) (svc.Result, error) {
	ref, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	b.dvm.DeleteLocalRef(ref)
	return svc.NoWrite{}, nil
}

func (b *Bridge) handleIsSameObject(ctx *svc.Context) (svc.Result, error) {
	o1, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	o2, err := ctx.X(2)
	if err != nil {
		return nil, err
	}
	if o1 == o2 {
		return svc.WriteX0{Value: 1}, nil
	}
	return svc.WriteX0{Value: 0}, nil
}

func (b *Bridge) handleExceptionCheck(ctx *svc.Context) (svc.Result, error) {
	return svc.WriteX0{Value: 0}, nil
}

func (b *Bridge) handleExceptionCheckPtr(ctx *svc.Context) (svc.Result, error) {
	return svc.WriteX0{Value: 0}, nil
}

func (b *Bridge) handlePopLocalFrame(ctx *svc.Context) (svc.Result, error) {
	result, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	return svc.WriteX0{Value: result}, nil
}

func (b *Bridge) handleGetJavaVM(ctx *svc.Context) (svc.Result, error) {
	vmPtrAddr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	if err := writeU64(ctx.CPU, vmPtrAddr, b.javaVMPtr); err != nil {
		return nil, err
	}
	return svc.WriteX0{Value: uint64(jniOK)}, nil
}

func (b *Bridge) handleOK(ctx *svc.Context) (svc.Result, error) {
	return svc.WriteX0{Value: uint64(jniOK)}, nil
}

func (b *Bridge) handleNoop(ctx *svc.Context) (svc.Result, error) {
	return svc.NoWrite{}, nil
}

// handleGeneric is the fallback for every JNIEnv slot this port does
// not specifically implement. 0 is a safer default than a fabricated
// nonzero handle: most unimplemented calls return a jobject/jint the
// guest will null-check before using, whereas an opaque nonzero value
// invites it to dereference something that was never really allocated.
func (b *Bridge) handleGeneric(ctx *svc.Context) (svc.Result, error) {
	return svc.WriteX0{Value: 0}, nil
}

func (b *Bridge) handleJavaVMGetEnv(ctx *svc.Context) (svc.Result, error) {
	envPtrAddr, err := ctx.X(1)
	if err != nil {
		return nil, err
	}
	if err := writeU64(ctx.CPU, envPtrAddr, b.jniEnvPtr); err != nil {
		return nil, err
	}
	return svc.WriteX0{Value: uint64(jniOK)}, nil
}

func (b *Bridge) handleJavaVMGeneric(ctx *svc.Context) (svc.Result, error) {
	return svc.WriteX0{Value: uint64(jniOK)}, nil
}
