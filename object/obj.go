package object

import (
	"io"
	"strconv"

	"github.com/google/uuid"

	"jstar/compiler"
)

// ObjKind tags the concrete type a heap Obj wraps.
type ObjKind int

const (
	OString ObjKind = iota
	OList
	OTuple
	OTable
	OClass
	OInstance
	OFunction
	OClosure
	OUpvalue
	ONative
	OBoundMethod
	OModule
	OStackTrace
	OUserdata
)

// Obj is the common interface every heap-allocated object satisfies. Mark
// bookkeeping and the object's own arena Ref live here so the collector
// can stay generic over kinds and so any Obj can be turned back into a
// Value without a reverse lookup.
type Obj interface {
	Kind() ObjKind
	Ref() Ref
	setRef(Ref)
	marked() bool
	setMarked(bool)
}

type header struct {
	mark bool
	ref  Ref
}

func (h *header) Ref() Ref         { return h.ref }
func (h *header) setRef(r Ref)     { h.ref = r }
func (h *header) marked() bool     { return h.mark }
func (h *header) setMarked(m bool) { h.mark = m }

// ObjValue wraps a heap object back into a Value. The object must have
// been placed in its heap via Alloc.
func ObjValue(o Obj) Value { return ObjVal(o.Ref()) }

// ObjString is interned: two strings with the same content share one Ref,
// so Equal on strings reduces to Ref equality (spec §3.2).
type ObjString struct {
	header
	Chars string
	Hash  uint32
}

func (*ObjString) Kind() ObjKind { return OString }

func hashString(s string) uint32 {
	// FNV-1a, the same constant-time string hash most bytecode-VM teaching
	// interpreters in the pack use for their intern/global tables.
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

type ObjList struct {
	header
	Elems []Value
}

func (*ObjList) Kind() ObjKind { return OList }

// ObjTuple is immutable once built (spec §3.2); Elems is never mutated
// after NewTuple returns it.
type ObjTuple struct {
	header
	Elems []Value
}

func (*ObjTuple) Kind() ObjKind { return OTuple }

type tableEntry struct {
	key       Value
	value     Value
	present   bool
	tombstone bool
}

// ObjTable is an open-addressed hash table with tombstone deletion and a
// 0.75 max load factor (spec §3.2), keyed by any hashable Value (bools,
// numbers, and strings — the only kinds Hash supports).
type ObjTable struct {
	header
	entries []tableEntry
	count   int // live entries, excludes tombstones
}

func (*ObjTable) Kind() ObjKind { return OTable }

func NewTable() *ObjTable { return &ObjTable{} }

const tableMaxLoad = 0.75

// Hashable reports whether v can be used as a table key, and its hash if so.
// Lists, tables, instances and the like aren't hashable — spec §3.2 limits
// keys to bools, numbers and (interned) strings.
func Hashable(heap *Heap, v Value) (uint32, bool) {
	switch v.Kind() {
	case Bool:
		if v.AsBool() {
			return 1, true
		}
		return 0, true
	case Number:
		return hashString(formatHashNumber(v.AsNumber())), true
	case Object:
		if s, ok := heap.Get(v.AsRef()).(*ObjString); ok {
			return s.Hash, true
		}
	}
	return 0, false
}

func formatHashNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// findEntry locates the slot key belongs in: either the live entry matching
// key, or the first empty/tombstone slot probed along the way (the
// insertion point, for Put). entries must be non-empty.
func findEntry(entries []tableEntry, key Value, hash uint32) int {
	n := uint32(len(entries))
	idx := hash % n
	var tombstoneIdx = -1
	for {
		e := &entries[idx]
		switch {
		case !e.present && !e.tombstone:
			if tombstoneIdx != -1 {
				return tombstoneIdx
			}
			return int(idx)
		case e.tombstone:
			if tombstoneIdx == -1 {
				tombstoneIdx = int(idx)
			}
		case Equal(e.key, key):
			return int(idx)
		}
		idx = (idx + 1) % n
	}
}

func (t *ObjTable) grow(heap *Heap, newCap int) {
	old := t.entries
	t.entries = make([]tableEntry, newCap)
	t.count = 0
	for _, e := range old {
		if !e.present {
			continue
		}
		hash, _ := Hashable(heap, e.key)
		idx := findEntry(t.entries, e.key, hash)
		t.entries[idx] = tableEntry{key: e.key, value: e.value, present: true}
		t.count++
	}
}

// Put inserts or overwrites key's value, growing the table first if that
// would push the load factor past 0.75.
func (t *ObjTable) Put(heap *Heap, key, value Value) bool {
	if len(t.entries) == 0 || float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		newCap := 8
		if len(t.entries) > 0 {
			newCap = len(t.entries) * 2
		}
		t.grow(heap, newCap)
	}
	hash, ok := Hashable(heap, key)
	if !ok {
		return false
	}
	idx := findEntry(t.entries, key, hash)
	e := &t.entries[idx]
	isNew := !e.present
	if isNew {
		t.count++
	}
	*e = tableEntry{key: key, value: value, present: true}
	return isNew
}

func (t *ObjTable) Get(heap *Heap, key Value) (Value, bool) {
	if len(t.entries) == 0 {
		return NullVal(), false
	}
	hash, ok := Hashable(heap, key)
	if !ok {
		return NullVal(), false
	}
	idx := findEntry(t.entries, key, hash)
	e := &t.entries[idx]
	if !e.present {
		return NullVal(), false
	}
	return e.value, true
}

// Delete tombstones key's entry rather than clearing it outright, so
// probe chains that ran through this slot still reach entries beyond it.
func (t *ObjTable) Delete(heap *Heap, key Value) bool {
	if len(t.entries) == 0 {
		return false
	}
	hash, ok := Hashable(heap, key)
	if !ok {
		return false
	}
	idx := findEntry(t.entries, key, hash)
	e := &t.entries[idx]
	if !e.present {
		return false
	}
	*e = tableEntry{present: false, tombstone: true}
	t.count--
	return true
}

func (t *ObjTable) Len() int { return t.count }

// EntryAfter returns the slot index and key of the first live entry past
// slot i (pass -1 to start), backing table iteration. Mutating the table
// mid-iteration invalidates the returned indices.
func (t *ObjTable) EntryAfter(i int) (int, Value, bool) {
	for j := i + 1; j < len(t.entries); j++ {
		if t.entries[j].present {
			return j, t.entries[j].key, true
		}
	}
	return -1, NullVal(), false
}

// Each calls fn once per live entry, in arbitrary order.
func (t *ObjTable) Each(fn func(key, value Value)) {
	for _, e := range t.entries {
		if e.present {
			fn(e.key, e.value)
		}
	}
}

// ObjClass holds methods as Obj rather than *ObjClosure so built-in
// classes (String, List, Table, ...) can carry native methods alongside
// compiled ones.
type ObjClass struct {
	header
	Name    string
	Super   *ObjClass
	Methods map[string]Obj
}

func (*ObjClass) Kind() ObjKind { return OClass }

func NewClass(name string) *ObjClass {
	return &ObjClass{Name: name, Methods: make(map[string]Obj)}
}

// Resolve walks the inheritance chain for a method lookup (spec §4.3/§4.4).
func (c *ObjClass) Resolve(name string) (Obj, bool) {
	for cls := c; cls != nil; cls = cls.Super {
		if m, ok := cls.Methods[name]; ok {
			return m, true
		}
	}
	return nil, false
}

// IsSubclassOf reports whether c is other or one of its subclasses, the
// class-chain walk behind the `is` operator and except-clause matching.
func (c *ObjClass) IsSubclassOf(other *ObjClass) bool {
	for cls := c; cls != nil; cls = cls.Super {
		if cls == other {
			return true
		}
	}
	return false
}

type ObjInstance struct {
	header
	Class  *ObjClass
	Fields map[string]Value
}

func (*ObjInstance) Kind() ObjKind { return OInstance }

func NewInstance(cls *ObjClass) *ObjInstance {
	return &ObjInstance{Class: cls, Fields: make(map[string]Value)}
}

// ObjFunction wraps a compiled prototype as a heap object so it can sit in
// a constant pool or be referenced by a Closure.
type ObjFunction struct {
	header
	Proto *compiler.Proto
}

func (*ObjFunction) Kind() ObjKind { return OFunction }

type ObjUpvalue struct {
	header
	slot   *Value // points into a live call frame's stack slice while open
	closed Value
	open   bool
}

func (*ObjUpvalue) Kind() ObjKind { return OUpvalue }

func NewOpenUpvalue(slot *Value) *ObjUpvalue { return &ObjUpvalue{slot: slot, open: true} }

func (u *ObjUpvalue) Get() Value {
	if u.open {
		return *u.slot
	}
	return u.closed
}

func (u *ObjUpvalue) Set(v Value) {
	if u.open {
		*u.slot = v
		return
	}
	u.closed = v
}

// Close copies the current stack value into the upvalue itself, detaching
// it from the frame slot it used to alias (spec §4.3's "closed upvalue").
func (u *ObjUpvalue) Close() {
	if !u.open {
		return
	}
	u.closed = *u.slot
	u.open = false
	u.slot = nil
}

type ObjClosure struct {
	header
	Fn       *ObjFunction
	Upvalues []*ObjUpvalue
	Class    *ObjClass  // the class this closure was compiled as a method of, or nil
	Module   *ObjModule // owning module, consulted for global resolution
}

func (*ObjClosure) Kind() ObjKind { return OClosure }

// Runtime is the surface natives need from the VM, kept here (rather than
// imported from a vm package) to avoid a dependency cycle: vm imports
// object, so object cannot import vm.
//
// Values a native holds only in Go locals are invisible to the collector;
// a native that allocates after obtaining a Value must keep that Value
// reachable from the VM stack (e.g. by not calling back into Call with it
// dangling).
type Runtime interface {
	Heap() *Heap
	Stdout() io.Writer
	Stderr() io.Writer
	Argv() []string
	// Stringify renders v the way print and the ## operator do.
	Stringify(v Value) string
	// ClassOf returns the class dispatch starts from for v, or Null for
	// values with no class (handles during bootstrap).
	ClassOf(v Value) Value
	// Raise builds an instance of the named core exception class and
	// returns it as a *RuntimeError for the native to propagate.
	Raise(class, format string, args ...any) error
	// Call invokes a J* callable with the given receiver-slot value and
	// arguments, running interpreted code to completion.
	Call(callee Value, args []Value) (Value, error)
}

// RuntimeError carries an in-flight J* exception value out of a native or
// an embedding API call. The VM recognizes it and resumes unwinding
// instead of wrapping it again.
type RuntimeError struct {
	Exc Value
	Msg string
}

func (e *RuntimeError) Error() string { return e.Msg }

// NativeFn is the native calling convention of spec §6.2: args[0] is the
// receiver (or the native itself for a plain call), args[1:] are the
// declared parameters, with surplus arguments packed into a trailing
// tuple when the native is variadic.
type NativeFn func(rt Runtime, args []Value) (Value, error)

type ObjNative struct {
	header
	Name     string
	Arity    int // declared parameters, including the vararg collector
	Defaults []Value
	Vararg   bool
	Fn       NativeFn
}

func (*ObjNative) Kind() ObjKind { return ONative }

// ObjBoundMethod pairs a receiver with one of its class's methods (closure
// or native), what `instance.method` (without a call) evaluates to (spec
// §4.4's field/method binding fast path).
type ObjBoundMethod struct {
	header
	Receiver Value
	Method   Obj
}

func (*ObjBoundMethod) Kind() ObjKind { return OBoundMethod }

type ObjModule struct {
	header
	Name    string
	ID      uuid.UUID
	Globals map[string]Value
}

func (*ObjModule) Kind() ObjKind { return OModule }

func NewModule(name string) *ObjModule {
	return &ObjModule{Name: name, ID: uuid.New(), Globals: make(map[string]Value)}
}

type StackFrame struct {
	FuncName   string
	ModuleName string
	Line       int
}

type ObjStackTrace struct {
	header
	Frames []StackFrame
}

func (*ObjStackTrace) Kind() ObjKind { return OStackTrace }

// ObjUserdata wraps an opaque native resource (an open file, a compiled
// regex) that a native module needs to attach to a jstar value without
// exposing its Go type to the interpreter proper.
type ObjUserdata struct {
	header
	Tag  string
	Data any
}

func (*ObjUserdata) Kind() ObjKind { return OUserdata }
