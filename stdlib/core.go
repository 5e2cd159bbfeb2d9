package stdlib

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"jstar/object"
)

// CoreSource is the J*-level half of __core__: the exception hierarchy of
// spec §7, built on the __printStacktrace native. It runs after the core
// natives and built-in classes are registered.
const CoreSource = `
class Exception
	fun init(err=null)
		this._err = err
	end
	fun err()
		return this._err
	end
	fun printStacktrace()
		__printStacktrace(this)
	end
end

class TypeException is Exception end
class NameException is Exception end
class FieldException is Exception end
class MethodException is Exception end
class ImportException is Exception end
class StackOverflowException is Exception end
class SyntaxException is Exception end
class InvalidArgException is Exception end
class IndexOutOfBoundException is Exception end
class AssertException is Exception end
class NotImplementedException is Exception end
class ProgramInterrupt is Exception end
class FileNotFoundException is Exception end
class IOException is Exception end
class RegexException is Exception end
`

// CoreNatives returns the natives every module can reach through the
// __core__ fallback of global resolution (spec §4.3 step 3).
func CoreNatives() []NativeDef {
	return []NativeDef{
		{Name: "print", Arity: 1, Vararg: true, Fn: corePrint},
		{Name: "__printStacktrace", Arity: 1, Fn: corePrintStacktrace},
		{Name: "type", Arity: 1, Fn: coreType},
		{Name: "assert", Arity: 2, Defaults: []object.Value{object.NullVal()}, Fn: coreAssert},
		{Name: "str", Arity: 1, Fn: coreStr},
		{Name: "num", Arity: 1, Fn: coreNum},
		{Name: "int", Arity: 1, Fn: coreInt},
	}
}

// corePrint writes its arguments separated by a space, newline
// terminated; scenario outputs like "1 2 3" depend on exactly this
// joining.
func corePrint(rt object.Runtime, args []object.Value) (object.Value, error) {
	tup, ok := rt.Heap().Get(arg(args, 0).AsRef()).(*object.ObjTuple)
	if !ok {
		return object.NullVal(), rt.Raise("TypeException", "print arguments missing")
	}
	parts := make([]string, len(tup.Elems))
	for i, v := range tup.Elems {
		parts[i] = rt.Stringify(v)
	}
	fmt.Fprintln(rt.Stdout(), strings.Join(parts, " "))
	return object.NullVal(), nil
}

func corePrintStacktrace(rt object.Runtime, args []object.Value) (object.Value, error) {
	inst, ok := rt.Heap().Get(arg(args, 0).AsRef()).(*object.ObjInstance)
	if !ok {
		return object.NullVal(), rt.Raise("TypeException", "printStacktrace requires an exception instance")
	}
	out := rt.Stderr()
	if stVal, ok := inst.Fields["_stacktrace"]; ok && stVal.IsObject() {
		if st, ok := rt.Heap().Get(stVal.AsRef()).(*object.ObjStackTrace); ok && len(st.Frames) > 0 {
			fmt.Fprintln(out, "Traceback (most recent call last):")
			for _, fr := range st.Frames {
				if fr.Line >= 0 {
					fmt.Fprintf(out, "    [line %d] module %s in %s\n", fr.Line, fr.ModuleName, fr.FuncName)
				} else {
					fmt.Fprintf(out, "    [native] module %s in %s\n", fr.ModuleName, fr.FuncName)
				}
			}
		}
	}
	msg := rt.Stringify(inst.Fields["_err"])
	fmt.Fprintf(out, "%s: %s\n", inst.Class.Name, msg)
	return object.NullVal(), nil
}

func coreType(rt object.Runtime, args []object.Value) (object.Value, error) {
	return rt.ClassOf(arg(args, 0)), nil
}

func coreAssert(rt object.Runtime, args []object.Value) (object.Value, error) {
	if arg(args, 0).Truthy() {
		return object.NullVal(), nil
	}
	msg := "assertion failed"
	if !arg(args, 1).IsNull() {
		msg = rt.Stringify(arg(args, 1))
	}
	return object.NullVal(), rt.Raise("AssertException", "%s", msg)
}

func coreStr(rt object.Runtime, args []object.Value) (object.Value, error) {
	return internString(rt, rt.Stringify(arg(args, 0))), nil
}

func coreNum(rt object.Runtime, args []object.Value) (object.Value, error) {
	v := arg(args, 0)
	if v.IsNumber() {
		return v, nil
	}
	if v.IsObject() {
		if s, ok := rt.Heap().Get(v.AsRef()).(*object.ObjString); ok {
			n, err := strconv.ParseFloat(strings.TrimSpace(s.Chars), 64)
			if err != nil {
				return object.NullVal(), rt.Raise("InvalidArgException", "'%s' is not a valid number", s.Chars)
			}
			return object.NumberVal(n), nil
		}
	}
	return object.NullVal(), rt.Raise("TypeException", "num() requires a Number or String")
}

func coreInt(rt object.Runtime, args []object.Value) (object.Value, error) {
	res, err := coreNum(rt, args)
	if err != nil {
		return res, err
	}
	return object.NumberVal(math.Trunc(res.AsNumber())), nil
}

// InstallBuiltinClasses creates the classes dispatch starts from for
// non-instance values (spec §3.3 invariant 4) and binds them as core
// globals: Number, Bool, Null, String, List, Tuple, Table, Function,
// Module, StackTrace, Userdata.
func InstallBuiltinClasses(h *object.Heap, core *object.ObjModule) {
	install := func(name string, methods []NativeDef) {
		cls := object.NewClass(name)
		h.Alloc(cls)
		for _, d := range methods {
			n := &object.ObjNative{
				Name:     d.Name,
				Arity:    d.Arity,
				Defaults: d.Defaults,
				Vararg:   d.Vararg,
				Fn:       d.Fn,
			}
			h.Alloc(n)
			cls.Methods[d.Name] = n
		}
		core.Globals[name] = object.ObjValue(cls)
	}

	install("Number", nil)
	install("Bool", nil)
	install("Null", nil)
	install("Function", nil)
	install("Module", nil)
	install("StackTrace", nil)
	install("Userdata", nil)
	install("String", stringMethods())
	install("List", listMethods())
	install("Tuple", tupleMethods())
	install("Table", tableMethods())
}

// ---- String methods ----

func recvString(rt object.Runtime, args []object.Value) *object.ObjString {
	s, _ := rt.Heap().Get(args[0].AsRef()).(*object.ObjString)
	return s
}

func stringMethods() []NativeDef {
	return []NativeDef{
		{Name: "upper", Arity: 0, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			return internString(rt, strings.ToUpper(recvString(rt, args).Chars)), nil
		}},
		{Name: "lower", Arity: 0, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			return internString(rt, strings.ToLower(recvString(rt, args).Chars)), nil
		}},
		{Name: "trim", Arity: 0, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			return internString(rt, strings.TrimSpace(recvString(rt, args).Chars)), nil
		}},
		{Name: "contains", Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			sub, err := stringArg(rt, args, 0, "substring")
			if err != nil {
				return object.NullVal(), err
			}
			return object.BoolVal(strings.Contains(recvString(rt, args).Chars, sub)), nil
		}},
		{Name: "startsWith", Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			p, err := stringArg(rt, args, 0, "prefix")
			if err != nil {
				return object.NullVal(), err
			}
			return object.BoolVal(strings.HasPrefix(recvString(rt, args).Chars, p)), nil
		}},
		{Name: "endsWith", Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			p, err := stringArg(rt, args, 0, "suffix")
			if err != nil {
				return object.NullVal(), err
			}
			return object.BoolVal(strings.HasSuffix(recvString(rt, args).Chars, p)), nil
		}},
		{Name: "find", Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			sub, err := stringArg(rt, args, 0, "substring")
			if err != nil {
				return object.NullVal(), err
			}
			return object.NumberVal(float64(strings.Index(recvString(rt, args).Chars, sub))), nil
		}},
		{Name: "split", Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			sep, err := stringArg(rt, args, 0, "separator")
			if err != nil {
				return object.NullVal(), err
			}
			parts := strings.Split(recvString(rt, args).Chars, sep)
			elems := make([]object.Value, len(parts))
			for i, p := range parts {
				elems[i] = internString(rt, p)
			}
			return newList(rt, elems), nil
		}},
	}
}

// ---- List methods ----

func recvList(rt object.Runtime, args []object.Value) *object.ObjList {
	l, _ := rt.Heap().Get(args[0].AsRef()).(*object.ObjList)
	return l
}

func listMethods() []NativeDef {
	return []NativeDef{
		{Name: "add", Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			l := recvList(rt, args)
			l.Elems = append(l.Elems, arg(args, 0))
			return object.NullVal(), nil
		}},
		{Name: "insert", Arity: 2, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			l := recvList(rt, args)
			n, err := numberArg(rt, args, 0, "index")
			if err != nil {
				return object.NullVal(), err
			}
			i := int(n)
			if i < 0 || i > len(l.Elems) {
				return object.NullVal(), rt.Raise("IndexOutOfBoundException", "index %d out of bounds for length %d", i, len(l.Elems))
			}
			l.Elems = append(l.Elems, object.NullVal())
			copy(l.Elems[i+1:], l.Elems[i:])
			l.Elems[i] = arg(args, 1)
			return object.NullVal(), nil
		}},
		{Name: "removeAt", Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			l := recvList(rt, args)
			n, err := numberArg(rt, args, 0, "index")
			if err != nil {
				return object.NullVal(), err
			}
			i := int(n)
			if i < 0 || i >= len(l.Elems) {
				return object.NullVal(), rt.Raise("IndexOutOfBoundException", "index %d out of bounds for length %d", i, len(l.Elems))
			}
			v := l.Elems[i]
			l.Elems = append(l.Elems[:i], l.Elems[i+1:]...)
			return v, nil
		}},
		{Name: "pop", Arity: 0, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			l := recvList(rt, args)
			if len(l.Elems) == 0 {
				return object.NullVal(), rt.Raise("IndexOutOfBoundException", "pop from an empty list")
			}
			v := l.Elems[len(l.Elems)-1]
			l.Elems = l.Elems[:len(l.Elems)-1]
			return v, nil
		}},
		{Name: "contains", Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			for _, e := range recvList(rt, args).Elems {
				if valuesMatch(rt, e, arg(args, 0)) {
					return object.BoolVal(true), nil
				}
			}
			return object.BoolVal(false), nil
		}},
		{Name: "indexOf", Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			for i, e := range recvList(rt, args).Elems {
				if valuesMatch(rt, e, arg(args, 0)) {
					return object.NumberVal(float64(i)), nil
				}
			}
			return object.NumberVal(-1), nil
		}},
		{Name: "clear", Arity: 0, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			recvList(rt, args).Elems = nil
			return object.NullVal(), nil
		}},
		{Name: "join", Arity: 1, Defaults: []object.Value{object.NullVal()}, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			sep := ", "
			if !arg(args, 0).IsNull() {
				s, err := stringArg(rt, args, 0, "separator")
				if err != nil {
					return object.NullVal(), err
				}
				sep = s
			}
			parts := make([]string, 0, len(recvList(rt, args).Elems))
			for _, e := range recvList(rt, args).Elems {
				parts = append(parts, rt.Stringify(e))
			}
			return internString(rt, strings.Join(parts, sep)), nil
		}},
	}
}

// ---- Tuple methods ----

func tupleMethods() []NativeDef {
	return []NativeDef{
		{Name: "contains", Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			tup, _ := rt.Heap().Get(args[0].AsRef()).(*object.ObjTuple)
			for _, e := range tup.Elems {
				if valuesMatch(rt, e, arg(args, 0)) {
					return object.BoolVal(true), nil
				}
			}
			return object.BoolVal(false), nil
		}},
	}
}

// ---- Table methods ----

func recvTable(rt object.Runtime, args []object.Value) *object.ObjTable {
	t, _ := rt.Heap().Get(args[0].AsRef()).(*object.ObjTable)
	return t
}

func tableMethods() []NativeDef {
	return []NativeDef{
		{Name: "contains", Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			_, ok := recvTable(rt, args).Get(rt.Heap(), arg(args, 0))
			return object.BoolVal(ok), nil
		}},
		{Name: "delete", Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			return object.BoolVal(recvTable(rt, args).Delete(rt.Heap(), arg(args, 0))), nil
		}},
		{Name: "keys", Arity: 0, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			var elems []object.Value
			recvTable(rt, args).Each(func(k, _ object.Value) { elems = append(elems, k) })
			return newList(rt, elems), nil
		}},
		{Name: "values", Arity: 0, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			var elems []object.Value
			recvTable(rt, args).Each(func(_, v object.Value) { elems = append(elems, v) })
			return newList(rt, elems), nil
		}},
		{Name: "clear", Arity: 0, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			t := recvTable(rt, args)
			var keys []object.Value
			t.Each(func(k, _ object.Value) { keys = append(keys, k) })
			for _, k := range keys {
				t.Delete(rt.Heap(), k)
			}
			return object.NullVal(), nil
		}},
	}
}
