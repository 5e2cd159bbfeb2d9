package vm

import (
	"jstar/compiler"
	"jstar/object"
)

// constToValue turns a compile-time constant into a runtime Value.
// Strings are interned, so repeated literal loads return the same heap
// object (spec §8 invariant 3).
func (vm *VM) constToValue(c any) object.Value {
	switch v := c.(type) {
	case nil:
		return object.NullVal()
	case bool:
		return object.BoolVal(v)
	case float64:
		return object.NumberVal(v)
	case string:
		return vm.internString(v)
	}
	return object.NullVal()
}

// normalizeArgs reshapes the argc values on top of the stack to exactly
// arity slots (spec §4.4's calling convention): missing trailing
// parameters are filled from defaults, surplus ones are packed into a
// tuple when the callee is variadic, anything else raises TypeException.
func (vm *VM) normalizeArgs(name string, arity int, defaults []object.Value, vararg bool, argc int) error {
	named := arity
	if vararg {
		named--
	}
	required := named - len(defaults)
	if argc < required {
		return vm.newError("TypeException", "%s() takes at least %d arguments, %d given", name, required, argc)
	}
	if !vararg && argc > named {
		return vm.newError("TypeException", "%s() takes at most %d arguments, %d given", name, named, argc)
	}
	for i := argc; i < named; i++ {
		if err := vm.ensureStack(1); err != nil {
			return err
		}
		vm.push(defaults[i-required])
	}
	if vararg {
		extra := argc - named
		if extra < 0 {
			extra = 0
		}
		if err := vm.ensureStack(1); err != nil {
			return err
		}
		tup := &object.ObjTuple{Elems: append([]object.Value(nil), vm.stack[vm.sp-extra:vm.sp]...)}
		vm.heap.Alloc(tup)
		vm.drop(extra)
		vm.push(object.ObjValue(tup))
	}
	return nil
}

func protoDefaults(vm *VM, p *compiler.Proto) []object.Value {
	if len(p.Defaults) == 0 {
		return nil
	}
	out := make([]object.Value, len(p.Defaults))
	for i, d := range p.Defaults {
		out[i] = vm.constToValue(d)
	}
	return out
}

// callValue dispatches a CALL: the callee sits at peek(argc), its
// arguments above it. Closures push a frame for the run loop to enter;
// natives execute inline; classes instantiate; bound methods re-route to
// their receiver.
func (vm *VM) callValue(argc int) error {
	callee := vm.peek(argc)
	switch o := vm.obj(callee).(type) {
	case *object.ObjClosure:
		return vm.callClosure(o, argc)
	case *object.ObjNative:
		return vm.callNative(o, argc)
	case *object.ObjClass:
		return vm.instantiate(o, argc)
	case *object.ObjBoundMethod:
		vm.stack[vm.sp-argc-1] = o.Receiver
		return vm.invokeObj(o.Method, argc)
	}
	return vm.newError("TypeException", "%s is not callable", vm.typeName(callee))
}

// invokeObj calls a resolved method object with the receiver already in
// the callee slot.
func (vm *VM) invokeObj(m object.Obj, argc int) error {
	switch o := m.(type) {
	case *object.ObjClosure:
		return vm.callClosure(o, argc)
	case *object.ObjNative:
		return vm.callNative(o, argc)
	}
	return vm.newError("TypeException", "object is not callable")
}

func (vm *VM) callClosure(cl *object.ObjClosure, argc int) error {
	p := cl.Fn.Proto
	if err := vm.normalizeArgs(callableName(p.Name), p.Arity, protoDefaults(vm, p), p.HasVararg, argc); err != nil {
		return err
	}
	if len(vm.frames) >= cap(vm.frames) {
		return vm.newError("StackOverflowException", "max call depth exceeded")
	}
	base := vm.sp - p.Arity - 1
	if err := vm.ensureStack(p.MaxLocals + 8); err != nil {
		return err
	}
	vm.frames = append(vm.frames, frame{closure: cl, module: cl.Module, base: base})
	return nil
}

func callableName(n string) string {
	if n == "" {
		return "<anonymous>"
	}
	return n
}

// callNative runs a native to completion inline, framed so it shows up in
// stack traces with line -1 (spec §3.2's frame record).
func (vm *VM) callNative(n *object.ObjNative, argc int) error {
	if err := vm.normalizeArgs(n.Name, n.Arity, n.Defaults, n.Vararg, argc); err != nil {
		return err
	}
	base := vm.sp - n.Arity - 1
	if len(vm.frames) >= cap(vm.frames) {
		return vm.newError("StackOverflowException", "max call depth exceeded")
	}
	vm.frames = append(vm.frames, frame{native: n, module: vm.currentModule(), base: base})
	res, err := n.Fn(vm, vm.stack[base:vm.sp])
	vm.frames = vm.frames[:len(vm.frames)-1]
	if err != nil {
		return vm.asRuntimeError(err)
	}
	vm.sp = base
	vm.push(res)
	return nil
}

// instantiate implements calling a class: allocate the instance, then run
// init (if any) as a constructor, which returns the instance itself.
func (vm *VM) instantiate(cls *object.ObjClass, argc int) error {
	inst := object.NewInstance(cls)
	vm.heap.Alloc(inst)
	vm.stack[vm.sp-argc-1] = object.ObjValue(inst)
	if m, ok := cls.Resolve("init"); ok {
		return vm.invokeObj(m, argc)
	}
	if argc > 0 {
		return vm.newError("TypeException", "%s() takes no arguments, %d given", cls.Name, argc)
	}
	// No init: the instance is already in the callee slot, which doubles
	// as the result slot.
	vm.drop(argc)
	return nil
}

// invoke implements the fused INVOKE opcode (spec §4.3): method call
// without materializing a bound method.
func (vm *VM) invoke(name string, argc int) error {
	recv := vm.peek(argc)
	switch o := vm.obj(recv).(type) {
	case *object.ObjInstance:
		if f, ok := o.Fields[name]; ok {
			vm.stack[vm.sp-argc-1] = f
			return vm.callValue(argc)
		}
		if m, ok := o.Class.Resolve(name); ok {
			return vm.invokeObj(m, argc)
		}
		return vm.newError("MethodException", "'%s' object has no method '%s'", o.Class.Name, name)
	case *object.ObjModule:
		v, ok := o.Globals[name]
		if !ok {
			return vm.newError("NameException", "module '%s' has no name '%s'", o.Name, name)
		}
		vm.stack[vm.sp-argc-1] = v
		return vm.callValue(argc)
	case *object.ObjClass:
		if m, ok := o.Resolve(name); ok {
			return vm.invokeObj(m, argc)
		}
		return vm.newError("MethodException", "class '%s' has no method '%s'", o.Name, name)
	}
	if cls := vm.classOf(recv); cls != nil {
		if m, ok := cls.Resolve(name); ok {
			return vm.invokeObj(m, argc)
		}
	}
	return vm.newError("MethodException", "%s has no method '%s'", vm.typeName(recv), name)
}

func (vm *VM) currentModule() *object.ObjModule {
	if len(vm.frames) == 0 {
		return vm.core
	}
	return vm.frames[len(vm.frames)-1].module
}

// ---- re-entrant calls (natives, iteration protocol, __eq__, host API) ----

// Call invokes callee with args, running interpreted code to completion,
// and returns the result. This is the Runtime.Call natives use and the
// engine behind every protocol dispatch (__iter__, __eq__, __get__, ...).
func (vm *VM) Call(callee object.Value, args []object.Value) (object.Value, error) {
	entry := vm.sp
	if err := vm.ensureStack(len(args) + 1); err != nil {
		return object.NullVal(), err
	}
	vm.push(callee)
	for _, a := range args {
		vm.push(a)
	}
	return vm.finishCall(entry, func() error { return vm.callValue(len(args)) })
}

// callMethodObj invokes a resolved method m on recv, re-entrantly.
func (vm *VM) callMethodObj(recv object.Value, m object.Obj, args []object.Value) (object.Value, error) {
	entry := vm.sp
	if err := vm.ensureStack(len(args) + 1); err != nil {
		return object.NullVal(), err
	}
	vm.push(recv)
	for _, a := range args {
		vm.push(a)
	}
	return vm.finishCall(entry, func() error { return vm.invokeObj(m, len(args)) })
}

// callMethodName invokes recv's method name, resolving it the way INVOKE
// does.
func (vm *VM) callMethodName(recv object.Value, name string, args []object.Value) (object.Value, error) {
	entry := vm.sp
	if err := vm.ensureStack(len(args) + 1); err != nil {
		return object.NullVal(), err
	}
	vm.push(recv)
	for _, a := range args {
		vm.push(a)
	}
	return vm.finishCall(entry, func() error { return vm.invoke(name, len(args)) })
}

func (vm *VM) finishCall(entry int, start func() error) (object.Value, error) {
	floor := len(vm.frames)
	if err := start(); err != nil {
		if vm.sp > entry {
			vm.sp = entry
		}
		return object.NullVal(), err
	}
	if len(vm.frames) > floor {
		if err := vm.run(floor); err != nil {
			if vm.sp > entry {
				vm.sp = entry
			}
			return object.NullVal(), err
		}
	}
	return vm.pop(), nil
}
