package vm

import (
	"jstar/object"
)

// The embedding API of spec §6.1: typed stack access for hosts and
// natives. Getters allocate only the exception they raise on a type
// mismatch; strings returned to the host alias
// the heap and must be copied if retained across a potential collection.

func (vm *VM) Push(v object.Value)  { vm.push(v) }
func (vm *VM) Pop() object.Value    { return vm.pop() }
func (vm *VM) Top() object.Value    { return vm.peek(0) }
func (vm *VM) StackSize() int       { return vm.sp }

func (vm *VM) PushNull()           { vm.push(object.NullVal()) }
func (vm *VM) PushNumber(n float64) { vm.push(object.NumberVal(n)) }
func (vm *VM) PushBoolean(b bool)  { vm.push(object.BoolVal(b)) }
func (vm *VM) PushHandle(h uint64) { vm.push(object.HandleVal(h)) }

func (vm *VM) PushString(s string) { vm.push(vm.internString(s)) }

func (vm *VM) PushList() {
	l := &object.ObjList{}
	vm.heap.Alloc(l)
	vm.push(object.ObjValue(l))
}

func (vm *VM) PushTable() {
	t := object.NewTable()
	vm.heap.Alloc(t)
	vm.push(object.ObjValue(t))
}

// PushTuple pops the top n values into a fresh tuple and pushes it.
func (vm *VM) PushTuple(n int) {
	tup := &object.ObjTuple{Elems: append([]object.Value(nil), vm.stack[vm.sp-n:vm.sp]...)}
	vm.heap.Alloc(tup)
	vm.drop(n)
	vm.push(object.ObjValue(tup))
}

// PushUserdata wraps an opaque host value.
func (vm *VM) PushUserdata(tag string, data any) {
	u := &object.ObjUserdata{Tag: tag, Data: data}
	vm.heap.Alloc(u)
	vm.push(object.ObjValue(u))
}

// PushNative registers a host function as an anonymous callable.
func (vm *VM) PushNative(name string, arity int, vararg bool, fn object.NativeFn) {
	n := &object.ObjNative{Name: name, Arity: arity, Vararg: vararg, Fn: fn}
	vm.heap.Alloc(n)
	vm.push(object.ObjValue(n))
}

// GetNumber reads the value at stack slot i from the top (0 = top),
// raising TypeException with the parameter name on mismatch.
func (vm *VM) GetNumber(i int, param string) (float64, error) {
	v := vm.peek(i)
	if !v.IsNumber() {
		return 0, vm.newError("TypeException", "%s must be a Number, got %s", param, vm.typeName(v))
	}
	return v.AsNumber(), nil
}

func (vm *VM) GetBoolean(i int, param string) (bool, error) {
	v := vm.peek(i)
	if !v.IsBool() {
		return false, vm.newError("TypeException", "%s must be a Bool, got %s", param, vm.typeName(v))
	}
	return v.AsBool(), nil
}

func (vm *VM) GetString(i int, param string) (string, error) {
	if s, ok := vm.asString(vm.peek(i)); ok {
		return s.Chars, nil
	}
	return "", vm.newError("TypeException", "%s must be a String, got %s", param, vm.typeName(vm.peek(i)))
}

func (vm *VM) GetHandle(i int, param string) (uint64, error) {
	v := vm.peek(i)
	if !v.IsHandle() {
		return 0, vm.newError("TypeException", "%s must be a Handle, got %s", param, vm.typeName(v))
	}
	return v.AsHandle(), nil
}

// CallFunction invokes the callable at peek(argc) with the argc values
// above it, leaving the result (or the exception, on RuntimeError) on
// top (spec §6.1's call).
func (vm *VM) CallFunction(argc int) Result {
	entry := vm.sp - argc - 1
	floor := len(vm.frames)
	if err := vm.callValue(argc); err != nil {
		return vm.finishHostCall(entry, err)
	}
	if len(vm.frames) > floor {
		if err := vm.run(floor); err != nil {
			return vm.finishHostCall(entry, err)
		}
	}
	res := vm.pop()
	vm.sp = entry
	vm.push(res)
	return Success
}

// CallMethod invokes the named method of the receiver at peek(argc).
func (vm *VM) CallMethod(name string, argc int) Result {
	entry := vm.sp - argc - 1
	floor := len(vm.frames)
	if err := vm.invoke(name, argc); err != nil {
		return vm.finishHostCall(entry, err)
	}
	if len(vm.frames) > floor {
		if err := vm.run(floor); err != nil {
			return vm.finishHostCall(entry, err)
		}
	}
	res := vm.pop()
	vm.sp = entry
	vm.push(res)
	return Success
}

func (vm *VM) finishHostCall(entry int, err error) Result {
	if vm.sp > entry {
		vm.sp = entry
	}
	if re, ok := err.(*object.RuntimeError); ok {
		vm.push(re.Exc)
	} else {
		vm.push(vm.internString(err.Error()))
	}
	return RuntimeError
}

// GetGlobal reads a global of the named module (default "<main>" when
// name is empty), falling back to __core__.
func (vm *VM) GetGlobal(moduleName, name string) (object.Value, bool) {
	if moduleName == "" {
		moduleName = "<main>"
	}
	if m, ok := vm.modules[moduleName]; ok {
		if v, ok := m.Globals[name]; ok {
			return v, true
		}
	}
	v, ok := vm.core.Globals[name]
	return v, ok
}

// SetGlobal defines a global in the named module.
func (vm *VM) SetGlobal(moduleName, name string, v object.Value) bool {
	if moduleName == "" {
		moduleName = "<main>"
	}
	m, ok := vm.modules[moduleName]
	if !ok {
		return false
	}
	m.Globals[name] = v
	return true
}

// GetField and SetField expose the field protocol to the host.
func (vm *VM) GetField(recv object.Value, name string) (object.Value, error) {
	return vm.getField(recv, name)
}

func (vm *VM) SetField(recv object.Value, name string, v object.Value) error {
	return vm.setField(recv, name, v)
}

// PrintStackTrace invokes printStacktrace on an uncaught exception the
// way the driver does (spec §4.4), so user-defined overrides are
// honored. Non-exception values are printed as-is.
func (vm *VM) PrintStackTrace(exc object.Value) {
	if _, ok := vm.obj(exc).(*object.ObjInstance); ok {
		if _, err := vm.callMethodName(exc, "printStacktrace", nil); err == nil {
			return
		}
	}
	vm.cfg.Stderr.Write([]byte(vm.Stringify(exc) + "\n"))
}

// Buffer is the growable byte buffer of spec §6.1: it owns plain host
// storage until pushed, at which point the contents become an immutable
// (interned) J* string.
type Buffer struct {
	vm   *VM
	data []byte
}

func (vm *VM) NewBuffer() *Buffer { return &Buffer{vm: vm} }

func (b *Buffer) Len() int                { return len(b.data) }
func (b *Buffer) Bytes() []byte           { return b.data }
func (b *Buffer) AppendByte(c byte)       { b.data = append(b.data, c) }
func (b *Buffer) AppendString(s string)   { b.data = append(b.data, s...) }
func (b *Buffer) Append(p []byte)         { b.data = append(b.data, p...) }

// Push seals the buffer into a string on the VM stack and resets it.
func (b *Buffer) Push() {
	b.vm.PushString(string(b.data))
	b.data = nil
}

// Free discards the buffer's storage without producing a string.
func (b *Buffer) Free() { b.data = nil }
