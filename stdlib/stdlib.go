// Package stdlib bundles the built-in modules recognized by name
// (spec §6.3): __core__ plus sys, io, math, re, and debug. Each built-in
// is a registration table of natives, optionally paired with J* source
// run against the freshly created module, mirroring the bundled-bytecode
// plus native-table layout of spec §6.3.
package stdlib

import (
	"jstar/object"
)

// NativeDef declares one native for registration: the arity counts every
// declared parameter, including the vararg collector when Vararg is set,
// matching the function prototype layout of spec §3.2.
type NativeDef struct {
	Name     string
	Arity    int
	Defaults []object.Value
	Vararg   bool
	Fn       object.NativeFn
}

// ModuleDef is one built-in module: natives registered first, then Init
// (for globals that need the runtime, like sys's argv list), then Source
// compiled and run against the module.
type ModuleDef struct {
	Source  string
	Natives []NativeDef
	Init    func(rt object.Runtime, m *object.ObjModule)
}

// Builtins returns the built-in module table keyed by import name.
// __core__ is not listed: the VM installs it at construction, before any
// user code can import.
func Builtins() map[string]ModuleDef {
	return map[string]ModuleDef{
		"sys":   sysModule(),
		"io":    ioModule(),
		"math":  mathModule(),
		"re":    reModule(),
		"debug": debugModule(),
	}
}

// arg fetches the i-th declared parameter (args[0] is the receiver slot,
// per spec §6.2).
func arg(args []object.Value, i int) object.Value {
	return args[i+1]
}

func stringArg(rt object.Runtime, args []object.Value, i int, name string) (string, error) {
	v := arg(args, i)
	if v.IsObject() {
		if s, ok := rt.Heap().Get(v.AsRef()).(*object.ObjString); ok {
			return s.Chars, nil
		}
	}
	return "", rt.Raise("TypeException", "%s must be a String", name)
}

func numberArg(rt object.Runtime, args []object.Value, i int, name string) (float64, error) {
	v := arg(args, i)
	if !v.IsNumber() {
		return 0, rt.Raise("TypeException", "%s must be a Number", name)
	}
	return v.AsNumber(), nil
}

// valuesMatch is the dispatch-free equality used by contains/indexOf
// natives: value equality for primitives, content equality for strings,
// reference equality for everything else.
func valuesMatch(rt object.Runtime, a, b object.Value) bool {
	if object.Equal(a, b) {
		return true
	}
	if a.IsObject() && b.IsObject() {
		as, aok := rt.Heap().Get(a.AsRef()).(*object.ObjString)
		bs, bok := rt.Heap().Get(b.AsRef()).(*object.ObjString)
		return aok && bok && as.Chars == bs.Chars
	}
	return false
}

func internString(rt object.Runtime, s string) object.Value {
	return object.ObjVal(rt.Heap().InternString(s))
}

func newList(rt object.Runtime, elems []object.Value) object.Value {
	l := &object.ObjList{Elems: elems}
	rt.Heap().Alloc(l)
	return object.ObjValue(l)
}
