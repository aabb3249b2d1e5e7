// Package jni implements the Android JNI/DVM bridge: integer-id-keyed
// object maps for classes, methods, fields, and references, plus the
// JNIEnv/JavaVM vtables that expose them to guest code as SVC
// trampolines.
package jni

import (
	"fmt"
	"sync"
)

// DvmClass is a JNI class reference, identified by a process-unique id.
type DvmClass struct {
	ID   uint64
	Name string
}

// DvmMethod is a JNI method: id, owning class id, name, and signature,
// plus an optional guest fn_ptr recorded by RegisterNatives. Field-for-
// field the same DVM member shape a field carries, minus the native
// entry point.
type DvmMethod struct {
	ID        uint64
	ClassID   uint64
	Name      string
	Signature string
	FnPtr     uint64
}

// IsJNIMethod reports whether m has been bound to a guest native
// implementation via RegisterNatives. A method looked up before its
// native is registered (or never registered at all, e.g. a pure-Java
// method reflected through FindClass/GetMethodID) has FnPtr == 0.
func (m *DvmMethod) IsJNIMethod() bool { return m.FnPtr != 0 }

// DvmField is a JNI field: id, owning class id, name, and signature.
type DvmField struct {
	ID        uint64
	ClassID   uint64
	Name      string
	Signature string
}

// DVM owns the object graph the JNI vtable stubs operate on: classes,
// methods, fields, interned strings, and the global/local reference
// tables that keep guest-held jobject handles alive. One id space is
// shared across every kind of entry, matching the invariant that id is
// unique across the process regardless of what it names.
type DVM struct {
	mu sync.Mutex

	nextID uint64

	classes map[uint64]*DvmClass
	methods map[uint64]*DvmMethod
	fields  map[uint64]*DvmField
	strings map[uint64]string

	classByName map[string]uint64
	methodByKey map[string]uint64
	fieldByKey  map[string]uint64

	globalRefs map[uint64]uint64
	localRefs  map[uint64]uint64
}

// NewDVM creates an empty object graph.
func NewDVM() *DVM {
	return &DVM{
		nextID:      1,
		classes:     make(map[uint64]*DvmClass),
		methods:     make(map[uint64]*DvmMethod),
		fields:      make(map[uint64]*DvmField),
		strings:     make(map[uint64]string),
		classByName: make(map[string]uint64),
		methodByKey: make(map[string]uint64),
		fieldByKey:  make(map[string]uint64),
		globalRefs:  make(map[uint64]uint64),
		localRefs:   make(map[uint64]uint64),
	}
}

func (d *DVM) allocID() uint64 {
	id := d.nextID
	d.nextID++
	return id
}

// FindOrCreateClass returns the DvmClass named name, creating it on
// first reference.
func (d *DVM) FindOrCreateClass(name string) *DvmClass {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.classByName[name]; ok {
		return d.classes[id]
	}
	c := &DvmClass{ID: d.allocID(), Name: name}
	d.classes[c.ID] = c
	d.classByName[name] = c.ID
	return c
}

// Class looks up a class by id.
func (d *DVM) Class(id uint64) (*DvmClass, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.classes[id]
	return c, ok
}

func methodKey(classID uint64, name, sig string) string {
	return fmt.Sprintf("%d\x00%s\x00%s", classID, name, sig)
}

// FindOrCreateMethod returns the method named name/sig on classID,
// creating it (with a fresh id and FnPtr == 0) on first reference.
func (d *DVM) FindOrCreateMethod(classID uint64, name, sig string) *DvmMethod {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := methodKey(classID, name, sig)
	if id, ok := d.methodByKey[key]; ok {
		return d.methods[id]
	}
	m := &DvmMethod{ID: d.allocID(), ClassID: classID, Name: name, Signature: sig}
	d.methods[m.ID] = m
	d.methodByKey[key] = m.ID
	return m
}

// Method looks up a method by id.
func (d *DVM) Method(id uint64) (*DvmMethod, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.methods[id]
	return m, ok
}

// FindOrCreateField returns the field named name/sig on classID,
// creating it on first reference.
func (d *DVM) FindOrCreateField(classID uint64, name, sig string) *DvmField {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := methodKey(classID, name, sig)
	if id, ok := d.fieldByKey[key]; ok {
		return d.fields[id]
	}
	f := &DvmField{ID: d.allocID(), ClassID: classID, Name: name, Signature: sig}
	d.fields[f.ID] = f
	d.fieldByKey[key] = f.ID
	return f
}

// RegisterNatives binds fnPtr as the guest implementation of the named
// method on classID, creating the method entry if this is its first
// reference.
func (d *DVM) RegisterNatives(classID uint64, name, sig string, fnPtr uint64) *DvmMethod {
	m := d.FindOrCreateMethod(classID, name, sig)
	d.mu.Lock()
	m.FnPtr = fnPtr
	d.mu.Unlock()
	return m
}

// InternString records s under a fresh id so a later GetStringUTFChars
// can recover the original content from the jstring handle NewStringUTF
// returned.
func (d *DVM) InternString(s string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.allocID()
	d.strings[id] = s
	return id
}

// String returns the content interned under id, if any.
func (d *DVM) String(id uint64) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.strings[id]
	return s, ok
}

// NewGlobalRef mints a global reference to referent.
func (d *DVM) NewGlobalRef(referent uint64) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref := d.allocID()
	d.globalRefs[ref] = referent
	return ref
}

// DeleteGlobalRef releases a global reference.
func (d *DVM) DeleteGlobalRef(ref uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.globalRefs, ref)
}

// NewLocalRef mints a local reference to referent.
func (d *DVM) NewLocalRef(referent uint64) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref := d.allocID()
	d.localRefs[ref] = referent
	return ref
}

// DeleteLocalRef releases a local reference.
func (d *DVM) DeleteLocalRef(ref uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.localRefs, ref)
}
