package stdlib

import (
	"fmt"

	"jstar/object"
)

// debugModule exposes interpreter internals for troubleshooting scripts.
func debugModule() ModuleDef {
	return ModuleDef{
		Natives: []NativeDef{
			{Name: "heapStats", Arity: 0, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
				objects, bytes := rt.Heap().Stats()
				t := object.NewTable()
				rt.Heap().Alloc(t)
				t.Put(rt.Heap(), internString(rt, "objects"), object.NumberVal(float64(objects)))
				t.Put(rt.Heap(), internString(rt, "bytes"), object.NumberVal(float64(bytes)))
				return object.ObjValue(t), nil
			}},
			{Name: "inspect", Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
				v := arg(args, 0)
				fmt.Fprintf(rt.Stderr(), "%s (%s)\n", rt.Stringify(v), rt.Stringify(rt.ClassOf(v)))
				return v, nil
			}},
			{Name: "globalsOf", Arity: 1, Fn: debugGlobalsOf},
		},
	}
}

// debugGlobalsOf returns a module's global table as a Table snapshot.
func debugGlobalsOf(rt object.Runtime, args []object.Value) (object.Value, error) {
	mod, ok := rt.Heap().Get(arg(args, 0).AsRef()).(*object.ObjModule)
	if !ok {
		return object.NullVal(), rt.Raise("TypeException", "globalsOf requires a module")
	}
	t := object.NewTable()
	rt.Heap().Alloc(t)
	for name, v := range mod.Globals {
		t.Put(rt.Heap(), internString(rt, name), v)
	}
	return object.ObjValue(t), nil
}
