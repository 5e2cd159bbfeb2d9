package vm

import (
	"strconv"
	"strings"

	"jstar/object"
)

// classOf maps any value to the class method dispatch starts from: the
// instance's own class, or the built-in class for primitive kinds
// (spec §4.4's field and index protocol).
func (vm *VM) classOf(v object.Value) *object.ObjClass {
	switch v.Kind() {
	case object.Null:
		return vm.classes.null
	case object.Bool:
		return vm.classes.boolean
	case object.Number:
		return vm.classes.number
	case object.Handle:
		return nil
	}
	switch o := vm.obj(v).(type) {
	case *object.ObjString:
		return vm.classes.str
	case *object.ObjList:
		return vm.classes.list
	case *object.ObjTuple:
		return vm.classes.tuple
	case *object.ObjTable:
		return vm.classes.table
	case *object.ObjInstance:
		return o.Class
	case *object.ObjClass:
		return o
	case *object.ObjClosure, *object.ObjNative, *object.ObjBoundMethod, *object.ObjFunction:
		return vm.classes.function
	case *object.ObjModule:
		return vm.classes.module
	case *object.ObjStackTrace:
		return vm.classes.stackTrace
	case *object.ObjUserdata:
		return vm.classes.userdata
	}
	return nil
}

// typeName names v's type for error messages.
func (vm *VM) typeName(v object.Value) string {
	if cls := vm.classOf(v); cls != nil {
		return cls.Name
	}
	switch v.Kind() {
	case object.Handle:
		return "Handle"
	}
	return "Object"
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// Stringify renders v the way print and the ## operator do. Instances
// with a __str__ method get it invoked; everything else has a fixed
// rendering.
func (vm *VM) Stringify(v object.Value) string {
	switch v.Kind() {
	case object.Null:
		return "null"
	case object.Bool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case object.Number:
		return formatNumber(v.AsNumber())
	case object.Handle:
		return "<handle>"
	}
	switch o := vm.obj(v).(type) {
	case *object.ObjString:
		return o.Chars
	case *object.ObjList:
		return vm.stringifySeq("[", o.Elems, "]")
	case *object.ObjTuple:
		return vm.stringifySeq("(", o.Elems, ")")
	case *object.ObjTable:
		var sb strings.Builder
		sb.WriteByte('{')
		first := true
		o.Each(func(k, val object.Value) {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(vm.Stringify(k))
			sb.WriteString(": ")
			sb.WriteString(vm.Stringify(val))
		})
		sb.WriteByte('}')
		return sb.String()
	case *object.ObjInstance:
		if m, ok := o.Class.Resolve("__str__"); ok {
			if res, err := vm.callMethodObj(v, m, nil); err == nil {
				if s, ok := vm.asString(res); ok {
					return s.Chars
				}
			}
		}
		return "<" + o.Class.Name + " instance>"
	case *object.ObjClass:
		return "<class " + o.Name + ">"
	case *object.ObjClosure:
		name := o.Fn.Proto.Name
		if name == "" {
			name = "<anonymous>"
		}
		return "<fun " + name + ">"
	case *object.ObjFunction:
		return "<fun " + o.Proto.Name + ">"
	case *object.ObjNative:
		return "<native " + o.Name + ">"
	case *object.ObjBoundMethod:
		return "<bound method>"
	case *object.ObjModule:
		return "<module " + o.Name + ">"
	case *object.ObjStackTrace:
		return "<stacktrace>"
	case *object.ObjUserdata:
		return "<userdata " + o.Tag + ">"
	}
	return "<object>"
}

func (vm *VM) stringifySeq(open string, elems []object.Value, close_ string) string {
	var sb strings.Builder
	sb.WriteString(open)
	for i, e := range elems {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(vm.Stringify(e))
	}
	sb.WriteString(close_)
	return sb.String()
}

func (vm *VM) asString(v object.Value) (*object.ObjString, bool) {
	s, ok := vm.obj(v).(*object.ObjString)
	return s, ok
}

// valuesEqual implements == (spec §4.4): identical bits and interned
// strings compare fast, tuples compare structurally, instances dispatch
// __eq__ when defined, everything else is reference equality.
func (vm *VM) valuesEqual(a, b object.Value) (bool, error) {
	if object.Equal(a, b) {
		return true, nil
	}
	ao, bo := vm.obj(a), vm.obj(b)
	if at, ok := ao.(*object.ObjTuple); ok {
		bt, ok := bo.(*object.ObjTuple)
		if !ok || len(at.Elems) != len(bt.Elems) {
			return false, nil
		}
		for i := range at.Elems {
			eq, err := vm.valuesEqual(at.Elems[i], bt.Elems[i])
			if err != nil || !eq {
				return eq, err
			}
		}
		return true, nil
	}
	if as, ok := ao.(*object.ObjString); ok {
		// Interning makes pointer equality the common case; a string
		// built by the host without interning still compares by content.
		bs, ok := bo.(*object.ObjString)
		return ok && as.Chars == bs.Chars, nil
	}
	if inst, ok := ao.(*object.ObjInstance); ok {
		if m, ok := inst.Class.Resolve("__eq__"); ok {
			res, err := vm.callMethodObj(a, m, []object.Value{b})
			if err != nil {
				return false, err
			}
			return res.Truthy(), nil
		}
	}
	return false, nil
}

// valueLen implements the # operator.
func (vm *VM) valueLen(v object.Value) (float64, error) {
	switch o := vm.obj(v).(type) {
	case *object.ObjString:
		return float64(len(o.Chars)), nil
	case *object.ObjList:
		return float64(len(o.Elems)), nil
	case *object.ObjTuple:
		return float64(len(o.Elems)), nil
	case *object.ObjTable:
		return float64(o.Len()), nil
	case *object.ObjInstance:
		if m, ok := o.Class.Resolve("__len__"); ok {
			res, err := vm.callMethodObj(v, m, nil)
			if err != nil {
				return 0, err
			}
			if res.IsNumber() {
				return res.AsNumber(), nil
			}
			return 0, vm.newError("TypeException", "__len__ must return a number")
		}
	}
	return 0, vm.newError("TypeException", "%s has no length", vm.typeName(v))
}

// getField implements GET_FIELD (spec §4.4): instance fields shadow class
// methods (which bind on read), classes expose their methods, modules
// expose their globals, and primitives expose their built-in class's
// methods.
func (vm *VM) getField(recv object.Value, name string) (object.Value, error) {
	switch o := vm.obj(recv).(type) {
	case *object.ObjInstance:
		if v, ok := o.Fields[name]; ok {
			return v, nil
		}
		if m, ok := o.Class.Resolve(name); ok {
			return vm.bindMethod(recv, m), nil
		}
		return object.NullVal(), vm.newError("FieldException", "'%s' object has no field '%s'", o.Class.Name, name)
	case *object.ObjModule:
		if v, ok := o.Globals[name]; ok {
			return v, nil
		}
		return object.NullVal(), vm.newError("NameException", "module '%s' has no name '%s'", o.Name, name)
	case *object.ObjClass:
		if m, ok := o.Resolve(name); ok {
			return object.ObjValue(m), nil
		}
		return object.NullVal(), vm.newError("FieldException", "class '%s' has no method '%s'", o.Name, name)
	}
	if cls := vm.classOf(recv); cls != nil {
		if m, ok := cls.Resolve(name); ok {
			return vm.bindMethod(recv, m), nil
		}
	}
	return object.NullVal(), vm.newError("FieldException", "%s has no field '%s'", vm.typeName(recv), name)
}

func (vm *VM) bindMethod(recv object.Value, m object.Obj) object.Value {
	bm := &object.ObjBoundMethod{Receiver: recv, Method: m}
	vm.heap.Alloc(bm)
	return object.ObjValue(bm)
}

// setField implements SET_FIELD: instance fields and module globals are
// assignable, nothing else is.
func (vm *VM) setField(recv object.Value, name string, val object.Value) error {
	switch o := vm.obj(recv).(type) {
	case *object.ObjInstance:
		o.Fields[name] = val
		return nil
	case *object.ObjModule:
		o.Globals[name] = val
		return nil
	}
	return vm.newError("TypeException", "cannot set field '%s' on %s", name, vm.typeName(recv))
}

func indexOf(key object.Value, length int) (int, bool) {
	if !key.IsNumber() {
		return 0, false
	}
	n := key.AsNumber()
	i := int(n)
	if float64(i) != n || i < 0 || i >= length {
		return 0, false
	}
	return i, true
}

// getIndex implements GET_INDEX with fast paths for the built-in
// collections and a __get__ dispatch for instances (spec §4.4).
func (vm *VM) getIndex(recv, key object.Value) (object.Value, error) {
	switch o := vm.obj(recv).(type) {
	case *object.ObjList:
		i, ok := indexOf(key, len(o.Elems))
		if !ok {
			return object.NullVal(), vm.indexError(key, len(o.Elems))
		}
		return o.Elems[i], nil
	case *object.ObjTuple:
		i, ok := indexOf(key, len(o.Elems))
		if !ok {
			return object.NullVal(), vm.indexError(key, len(o.Elems))
		}
		return o.Elems[i], nil
	case *object.ObjString:
		i, ok := indexOf(key, len(o.Chars))
		if !ok {
			return object.NullVal(), vm.indexError(key, len(o.Chars))
		}
		return vm.internString(o.Chars[i : i+1]), nil
	case *object.ObjTable:
		if key.IsNull() {
			return object.NullVal(), vm.newError("TypeException", "table keys cannot be null")
		}
		v, _ := o.Get(vm.heap, key)
		return v, nil
	case *object.ObjInstance:
		if m, ok := o.Class.Resolve("__get__"); ok {
			return vm.callMethodObj(recv, m, []object.Value{key})
		}
	}
	return object.NullVal(), vm.newError("TypeException", "%s is not subscriptable", vm.typeName(recv))
}

// setIndex implements SET_INDEX; tuples and strings are immutable.
func (vm *VM) setIndex(recv, key, val object.Value) error {
	switch o := vm.obj(recv).(type) {
	case *object.ObjList:
		i, ok := indexOf(key, len(o.Elems))
		if !ok {
			return vm.indexError(key, len(o.Elems))
		}
		o.Elems[i] = val
		return nil
	case *object.ObjTable:
		if key.IsNull() {
			return vm.newError("TypeException", "table keys cannot be null")
		}
		if _, hashable := object.Hashable(vm.heap, key); !hashable {
			return vm.newError("TypeException", "%s is not a hashable key", vm.typeName(key))
		}
		o.Put(vm.heap, key, val)
		return nil
	case *object.ObjInstance:
		if m, ok := o.Class.Resolve("__set__"); ok {
			_, err := vm.callMethodObj(recv, m, []object.Value{key, val})
			return err
		}
	}
	return vm.newError("TypeException", "%s does not support item assignment", vm.typeName(recv))
}

func (vm *VM) indexError(key object.Value, length int) error {
	if !key.IsNumber() {
		return vm.newError("TypeException", "index must be an integer, got %s", vm.typeName(key))
	}
	return vm.newError("IndexOutOfBoundException", "index %s out of bounds for length %d", formatNumber(key.AsNumber()), length)
}
