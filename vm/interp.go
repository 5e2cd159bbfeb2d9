package vm

import (
	"fmt"
	"math"
	"strings"

	"jstar/compiler"
	"jstar/object"
)

// run drives the dispatch loop (spec §4.4) until the frame stack shrinks
// back to floor frames: the outermost call for the main module, or the
// re-entry depth for nested Call invocations from natives and protocol
// dispatch.
func (vm *VM) run(floor int) error {
	for {
		vm.maybeCollect()

		f := &vm.frames[len(vm.frames)-1]
		p := f.closure.Fn.Proto
		code := p.Code

		op := compiler.Opcode(code[f.ip])
		if vm.cfg.Trace {
			vm.traceInstruction(f, op)
		}
		f.ip++

		readU8 := func() int {
			v := int(code[f.ip])
			f.ip++
			return v
		}
		readU16 := func() int {
			v := compiler.ReadUint16(code, f.ip)
			f.ip += 2
			return v
		}
		constName := func() string {
			s, _ := p.Constants[readU16()].(string)
			return s
		}

		var err error

		switch op {
		case compiler.OP_POP:
			vm.pop()
		case compiler.OP_DUP:
			vm.push(vm.peek(0))
		case compiler.OP_DUP2:
			a, b := vm.peek(1), vm.peek(0)
			vm.push(a)
			vm.push(b)

		case compiler.OP_NULL:
			vm.push(object.NullVal())
		case compiler.OP_TRUE:
			vm.push(object.BoolVal(true))
		case compiler.OP_FALSE:
			vm.push(object.BoolVal(false))
		case compiler.OP_CONST:
			vm.push(vm.constToValue(p.Constants[readU16()]))

		case compiler.OP_ADD:
			b, a := vm.pop(), vm.pop()
			if a.IsNumber() && b.IsNumber() {
				vm.push(object.NumberVal(a.AsNumber() + b.AsNumber()))
			} else if as, ok := vm.asString(a); ok {
				if bs, ok := vm.asString(b); ok {
					vm.push(vm.internString(as.Chars + bs.Chars))
				} else {
					err = vm.newError("TypeException", "cannot add String and %s", vm.typeName(b))
				}
			} else {
				err = vm.newError("TypeException", "cannot add %s and %s", vm.typeName(a), vm.typeName(b))
			}
		case compiler.OP_SUB:
			err = vm.numericBinary(op)
		case compiler.OP_MUL:
			b, a := vm.pop(), vm.pop()
			switch {
			case a.IsNumber() && b.IsNumber():
				vm.push(object.NumberVal(a.AsNumber() * b.AsNumber()))
			default:
				var s *object.ObjString
				var n object.Value
				if as, ok := vm.asString(a); ok {
					s, n = as, b
				} else if bs, ok := vm.asString(b); ok {
					s, n = bs, a
				}
				if s != nil && n.IsNumber() && n.AsNumber() == math.Trunc(n.AsNumber()) && n.AsNumber() >= 0 {
					vm.push(vm.internString(strings.Repeat(s.Chars, int(n.AsNumber()))))
				} else {
					err = vm.newError("TypeException", "cannot multiply %s and %s", vm.typeName(a), vm.typeName(b))
				}
			}
		case compiler.OP_DIV, compiler.OP_MOD, compiler.OP_POW:
			err = vm.numericBinary(op)
		case compiler.OP_NEG:
			v := vm.pop()
			if !v.IsNumber() {
				err = vm.newError("TypeException", "cannot negate %s", vm.typeName(v))
			} else {
				vm.push(object.NumberVal(-v.AsNumber()))
			}

		case compiler.OP_EQ, compiler.OP_NEQ:
			// Operands stay on the stack while __eq__ may run, keeping
			// them rooted across a collection.
			var eq bool
			eq, err = vm.valuesEqual(vm.peek(1), vm.peek(0))
			if err == nil {
				vm.drop(2)
				vm.push(object.BoolVal(eq == (op == compiler.OP_EQ)))
			}
		case compiler.OP_LT, compiler.OP_LE, compiler.OP_GT, compiler.OP_GE:
			err = vm.compare(op)
		case compiler.OP_IS:
			clsVal, v := vm.pop(), vm.pop()
			cls, ok := vm.obj(clsVal).(*object.ObjClass)
			if !ok {
				err = vm.newError("TypeException", "right operand of 'is' must be a class")
			} else {
				vc := vm.classOf(v)
				vm.push(object.BoolVal(vc != nil && vc.IsSubclassOf(cls)))
			}

		case compiler.OP_NOT:
			vm.push(object.BoolVal(!vm.pop().Truthy()))
		case compiler.OP_LEN:
			var n float64
			n, err = vm.valueLen(vm.pop())
			if err == nil {
				vm.push(object.NumberVal(n))
			}
		case compiler.OP_STRINGIFY:
			vm.push(vm.internString(vm.Stringify(vm.pop())))

		case compiler.OP_LOAD_LOCAL:
			vm.push(vm.stack[f.base+readU8()])
		case compiler.OP_STORE_LOCAL:
			vm.stack[f.base+readU8()] = vm.peek(0)
		case compiler.OP_LOAD_UPVALUE:
			vm.push(f.closure.Upvalues[readU8()].Get())
		case compiler.OP_STORE_UPVALUE:
			f.closure.Upvalues[readU8()].Set(vm.peek(0))
		case compiler.OP_LOAD_GLOBAL:
			name := constName()
			if v, ok := f.module.Globals[name]; ok {
				vm.push(v)
			} else if v, ok := vm.core.Globals[name]; ok {
				vm.push(v)
			} else {
				err = vm.newError("NameException", "name '%s' is not defined", name)
			}
		case compiler.OP_STORE_GLOBAL:
			name := constName()
			if _, ok := f.module.Globals[name]; ok {
				f.module.Globals[name] = vm.peek(0)
			} else {
				err = vm.newError("NameException", "name '%s' is not defined", name)
			}
		case compiler.OP_DEFINE_GLOBAL:
			f.module.Globals[constName()] = vm.pop()

		case compiler.OP_GET_FIELD:
			name := constName()
			var res object.Value
			res, err = vm.getField(vm.pop(), name)
			if err == nil {
				vm.push(res)
			}
		case compiler.OP_SET_FIELD:
			name := constName()
			val := vm.pop()
			recv := vm.pop()
			if err = vm.setField(recv, name, val); err == nil {
				vm.push(val)
			}
		case compiler.OP_GET_INDEX:
			key := vm.pop()
			recv := vm.pop()
			var res object.Value
			res, err = vm.getIndex(recv, key)
			if err == nil {
				vm.push(res)
			}
		case compiler.OP_SET_INDEX:
			val := vm.pop()
			key := vm.pop()
			recv := vm.pop()
			if err = vm.setIndex(recv, key, val); err == nil {
				vm.push(val)
			}

		case compiler.OP_JMP:
			f.ip = readU16()
		case compiler.OP_JMP_TRUE:
			t := readU16()
			if vm.peek(0).Truthy() {
				f.ip = t
			}
		case compiler.OP_JMP_FALSE:
			t := readU16()
			if !vm.peek(0).Truthy() {
				f.ip = t
			}

		case compiler.OP_CALL:
			err = vm.callValue(readU8())
		case compiler.OP_INVOKE:
			name := constName()
			err = vm.invoke(name, readU8())
		case compiler.OP_SUPER_INVOKE:
			name := constName()
			argc := readU8()
			supVal := vm.pop()
			sup, ok := vm.obj(supVal).(*object.ObjClass)
			if !ok {
				err = vm.newError("TypeException", "superclass is not a class")
				break
			}
			m, found := sup.Resolve(name)
			if !found {
				err = vm.newError("MethodException", "class '%s' has no method '%s'", sup.Name, name)
				break
			}
			err = vm.invokeObj(m, argc)
		case compiler.OP_RETURN:
			res := vm.pop()
			vm.closeUpvalues(f.base)
			vm.sp = f.base
			vm.frames = vm.frames[:len(vm.frames)-1]
			vm.push(res)
			if len(vm.frames) == floor {
				return nil
			}

		case compiler.OP_MAKE_CLOSURE:
			proto := p.Constants[readU16()].(*compiler.Proto)
			fn := &object.ObjFunction{Proto: proto}
			vm.heap.Alloc(fn)
			cl := &object.ObjClosure{Fn: fn, Module: f.module}
			vm.heap.Alloc(cl)
			for range proto.Upvalues {
				isLocal := code[f.ip] == 1
				idx := int(code[f.ip+1])
				f.ip += 2
				if isLocal {
					cl.Upvalues = append(cl.Upvalues, vm.captureUpvalue(f.base+idx))
				} else {
					cl.Upvalues = append(cl.Upvalues, f.closure.Upvalues[idx])
				}
			}
			vm.push(object.ObjValue(cl))
		case compiler.OP_CLOSE_UPVALUE:
			slot := f.base + readU8()
			vm.closeUpvalues(slot)
			vm.sp--

		case compiler.OP_NEW_LIST:
			l := &object.ObjList{}
			vm.heap.Alloc(l)
			vm.push(object.ObjValue(l))
		case compiler.OP_LIST_APPEND:
			v := vm.pop()
			l := vm.obj(vm.peek(0)).(*object.ObjList)
			l.Elems = append(l.Elems, v)
		case compiler.OP_NEW_TUPLE:
			n := readU16()
			tup := &object.ObjTuple{Elems: append([]object.Value(nil), vm.stack[vm.sp-n:vm.sp]...)}
			vm.heap.Alloc(tup)
			vm.drop(n)
			vm.push(object.ObjValue(tup))
		case compiler.OP_NEW_TABLE:
			t := object.NewTable()
			vm.heap.Alloc(t)
			vm.push(object.ObjValue(t))
		case compiler.OP_TABLE_PUT:
			v := vm.pop()
			k := vm.pop()
			t := vm.obj(vm.peek(0)).(*object.ObjTable)
			if k.IsNull() {
				err = vm.newError("TypeException", "table keys cannot be null")
			} else if _, hashable := object.Hashable(vm.heap, k); !hashable {
				err = vm.newError("TypeException", "%s is not a hashable key", vm.typeName(k))
			} else {
				t.Put(vm.heap, k, v)
			}

		case compiler.OP_NEW_CLASS:
			cls := object.NewClass(constName())
			vm.heap.Alloc(cls)
			vm.push(object.ObjValue(cls))
		case compiler.OP_INHERIT:
			supVal := vm.pop()
			sup, ok := vm.obj(supVal).(*object.ObjClass)
			if !ok {
				err = vm.newError("TypeException", "can only inherit from a class, not %s", vm.typeName(supVal))
				break
			}
			cls := vm.obj(vm.peek(0)).(*object.ObjClass)
			cls.Super = sup
		case compiler.OP_DEFINE_METHOD:
			name := constName()
			mVal := vm.pop()
			m := vm.obj(mVal)
			cls := vm.obj(vm.peek(0)).(*object.ObjClass)
			cls.Methods[name] = m
			if cl, ok := m.(*object.ObjClosure); ok {
				cl.Class = cls
			}
		case compiler.OP_DEFINE_NATIVE:
			name := constName()
			reg := vm.nativeReg[f.module.Name]
			n, ok := reg[name]
			if !ok {
				err = vm.newError("NameException", "no native '%s' registered for module '%s'", name, f.module.Name)
				break
			}
			if cls, isClass := vm.obj(vm.peek(0)).(*object.ObjClass); isClass {
				cls.Methods[name] = n
			} else {
				f.module.Globals[name] = object.ObjValue(n)
			}

		case compiler.OP_SETUP_HANDLER:
			c := readU16()
			e := readU16()
			if c == 0xFFFF {
				c = -1
			}
			if e == 0xFFFF {
				e = -1
			}
			f.handlers = append(f.handlers, handler{catchAddr: c, ensureAddr: e, savedSP: vm.sp})
		case compiler.OP_POP_HANDLER:
			f.handlers = f.handlers[:len(f.handlers)-1]
		case compiler.OP_RAISE:
			err = vm.raiseValue(vm.pop())
		case compiler.OP_BEGIN_ENSURE:
			// On the normal (or caught) path the handler guarding this
			// ensure is still armed; retire it before running the block.
			if n := len(f.handlers); n > 0 && f.handlers[n-1].ensureAddr == f.ip-1 {
				f.handlers = f.handlers[:n-1]
			}
			f.pendings = append(f.pendings, pending{})
		case compiler.OP_END_ENSURE:
			pd := f.pendings[len(f.pendings)-1]
			f.pendings = f.pendings[:len(f.pendings)-1]
			if pd.hasExc {
				err = vm.raiseValue(pd.exc)
			}

		case compiler.OP_IMPORT:
			name := constName()
			var root *object.ObjModule
			root, _, err = vm.importModule(name)
			if err == nil {
				vm.push(object.ObjValue(root))
			}
		case compiler.OP_IMPORT_AS:
			name := constName()
			readU16() // alias name: binding is the compiler's business
			var leaf *object.ObjModule
			_, leaf, err = vm.importModule(name)
			if err == nil {
				vm.push(object.ObjValue(leaf))
			}
		case compiler.OP_IMPORT_FROM:
			name := constName()
			mod, ok := vm.obj(vm.pop()).(*object.ObjModule)
			if !ok {
				err = vm.newError("TypeException", "can only import names from a module")
				break
			}
			v, found := mod.Globals[name]
			if !found {
				err = vm.newError("NameException", "module '%s' has no name '%s'", mod.Name, name)
				break
			}
			vm.push(v)

		case compiler.OP_FOREACH_INIT:
			// Seed the iteration state slot: the protocol's initial state
			// is null (spec §4.3), handed to the first __iter__ call.
			vm.push(object.NullVal())
		case compiler.OP_FOREACH_NEXT:
			err = vm.foreachNext(f, readU16())

		default:
			err = vm.newError("Exception", "unknown opcode %d", int(op))
		}

		if err != nil {
			resumed, out := vm.handleError(err, floor)
			if !resumed {
				return out
			}
		}
	}
}

// traceInstruction prints one dispatch step to stderr (JSTAR_TRACE=1).
func (vm *VM) traceInstruction(f *frame, op compiler.Opcode) {
	def, err := compiler.Get(op)
	name := def.Name
	if err != nil {
		name = "???"
	}
	fmt.Fprintf(vm.cfg.Stderr, "[%s %04d] %-14s sp=%d\n", callableName(f.closure.Fn.Proto.Name), f.ip, name, vm.sp)
}

func (vm *VM) numericBinary(op compiler.Opcode) error {
	b, a := vm.pop(), vm.pop()
	if !a.IsNumber() || !b.IsNumber() {
		return vm.newError("TypeException", "unsupported operands %s and %s", vm.typeName(a), vm.typeName(b))
	}
	x, y := a.AsNumber(), b.AsNumber()
	var r float64
	switch op {
	case compiler.OP_SUB:
		r = x - y
	case compiler.OP_DIV:
		r = x / y
	case compiler.OP_MOD:
		r = math.Mod(x, y)
	case compiler.OP_POW:
		r = math.Pow(x, y)
	}
	vm.push(object.NumberVal(r))
	return nil
}

// compare implements < <= > >= over numbers (IEEE order) and strings
// (byte-lexicographic order), per spec §4.4.
func (vm *VM) compare(op compiler.Opcode) error {
	b, a := vm.pop(), vm.pop()
	var res bool
	switch {
	case a.IsNumber() && b.IsNumber():
		x, y := a.AsNumber(), b.AsNumber()
		switch op {
		case compiler.OP_LT:
			res = x < y
		case compiler.OP_LE:
			res = x <= y
		case compiler.OP_GT:
			res = x > y
		case compiler.OP_GE:
			res = x >= y
		}
	default:
		as, aok := vm.asString(a)
		bs, bok := vm.asString(b)
		if !aok || !bok {
			return vm.newError("TypeException", "cannot compare %s and %s", vm.typeName(a), vm.typeName(b))
		}
		switch op {
		case compiler.OP_LT:
			res = as.Chars < bs.Chars
		case compiler.OP_LE:
			res = as.Chars <= bs.Chars
		case compiler.OP_GT:
			res = as.Chars > bs.Chars
		case compiler.OP_GE:
			res = as.Chars >= bs.Chars
		}
	}
	vm.push(object.BoolVal(res))
	return nil
}

// foreachNext drives one step of the iteration protocol (spec §4.3). The
// loop's two hidden locals sit on top of the stack: the iterable below
// the iterator state. Built-in collections step without dispatch; other
// values go through __iter__/__next__.
func (vm *VM) foreachNext(f *frame, exitTarget int) error {
	state := vm.peek(0)
	iterable := vm.peek(1)

	advance := func(length int, elem func(int) object.Value) error {
		i := 0
		if !state.IsNull() {
			i = int(state.AsNumber()) + 1
		}
		if i >= length {
			f.ip = exitTarget
			return nil
		}
		vm.stack[vm.sp-1] = object.NumberVal(float64(i))
		if err := vm.ensureStack(1); err != nil {
			return err
		}
		vm.push(elem(i))
		return nil
	}

	switch o := vm.obj(iterable).(type) {
	case *object.ObjList:
		return advance(len(o.Elems), func(i int) object.Value { return o.Elems[i] })
	case *object.ObjTuple:
		return advance(len(o.Elems), func(i int) object.Value { return o.Elems[i] })
	case *object.ObjString:
		return advance(len(o.Chars), func(i int) object.Value { return vm.internString(o.Chars[i : i+1]) })
	case *object.ObjTable:
		prev := -1
		if !state.IsNull() {
			prev = int(state.AsNumber())
		}
		next, key, ok := o.EntryAfter(prev)
		if !ok {
			f.ip = exitTarget
			return nil
		}
		vm.stack[vm.sp-1] = object.NumberVal(float64(next))
		if err := vm.ensureStack(1); err != nil {
			return err
		}
		vm.push(key)
		return nil
	}

	newState, err := vm.callMethodName(iterable, "__iter__", []object.Value{state})
	if err != nil {
		return err
	}
	if !newState.Truthy() {
		f.ip = exitTarget
		return nil
	}
	vm.stack[vm.sp-1] = newState
	elem, err := vm.callMethodName(iterable, "__next__", []object.Value{newState})
	if err != nil {
		return err
	}
	if err := vm.ensureStack(1); err != nil {
		return err
	}
	vm.push(elem)
	return nil
}
