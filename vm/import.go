package vm

import (
	"strings"

	"jstar/compiler"
	"jstar/module"
	"jstar/object"
	"jstar/parser"
	"jstar/stdlib"
)

// Result classifies the outcome of evaluating a chunk of source
// (spec §6.1).
type Result int

const (
	Success Result = iota
	SyntaxError
	CompileError
	RuntimeError
)

func (r Result) String() string {
	switch r {
	case Success:
		return "Success"
	case SyntaxError:
		return "SyntaxError"
	case CompileError:
		return "CompileError"
	case RuntimeError:
		return "RuntimeError"
	}
	return "Result(?)"
}

// Evaluate compiles and runs src as the "<main>" module.
func (vm *VM) Evaluate(path, src string) Result {
	return vm.EvaluateModule(path, "<main>", src)
}

// EvaluateModule compiles src into a module named name and runs its
// top-level function. On RuntimeError the uncaught exception is left on
// top of the stack for the embedder (spec §7 layer 4).
func (vm *VM) EvaluateModule(path, name, src string) Result {
	mod, ok := vm.modules[name]
	if !ok {
		mod = vm.newModule(name)
	}
	return vm.runInModule(mod, path, src)
}

// runInModule parses, compiles, and executes src against mod.
func (vm *VM) runInModule(mod *object.ObjModule, path, src string) Result {
	top, perrs := parser.New(path, src).WithErrorFunc(parser.ErrorFunc(vm.cfg.OnError)).Parse()
	if len(perrs) > 0 {
		return SyntaxError
	}
	proto, cerrs := compiler.Compile(path, top)
	if len(cerrs) > 0 {
		for _, e := range cerrs {
			if se, ok := e.(compiler.SemanticError); ok {
				vm.cfg.OnError(se.Path, se.Line, se.Message)
			} else {
				vm.cfg.OnError(path, 0, e.Error())
			}
		}
		return CompileError
	}
	proto.ModuleName = mod.Name

	if err := vm.runProto(proto, mod); err != nil {
		if re, ok := err.(*object.RuntimeError); ok {
			// Spec §7 layer 4: the uncaught exception stays on top of the
			// stack for the embedder.
			vm.push(re.Exc)
		}
		return RuntimeError
	}
	vm.pop() // the module function's null return
	return Success
}

// runProto wraps a compiled top-level function in a closure bound to mod
// and runs it to completion. On error the exception travels in the
// returned *object.RuntimeError; runInModule pushes it onto the stack.
func (vm *VM) runProto(proto *compiler.Proto, mod *object.ObjModule) error {
	fn := &object.ObjFunction{Proto: proto}
	vm.heap.Alloc(fn)
	cl := &object.ObjClosure{Fn: fn, Module: mod}
	vm.heap.Alloc(cl)

	floor := len(vm.frames)
	if err := vm.ensureStack(1); err != nil {
		return err
	}
	vm.push(object.ObjValue(cl))
	if err := vm.callClosure(cl, 0); err != nil {
		return err
	}
	return vm.run(floor)
}

// importModule implements the IMPORT opcodes (spec §4.6). A dotted name
// imports every prefix in order, binding each submodule into its parent's
// globals under the leaf name; both the root and the leaf module are
// returned so IMPORT can bind the former and IMPORT_AS the latter.
func (vm *VM) importModule(dotted string) (root, leaf *object.ObjModule, err error) {
	parts := strings.Split(dotted, ".")
	var parent *object.ObjModule
	for i := range parts {
		name := strings.Join(parts[:i+1], ".")
		m, ierr := vm.importOne(name)
		if ierr != nil {
			return nil, nil, ierr
		}
		if i == 0 {
			root = m
		}
		if parent != nil {
			parent.Globals[parts[i]] = object.ObjValue(m)
		}
		parent = m
		leaf = m
	}
	return root, leaf, nil
}

// importOne loads a single (fully qualified) module: cache hit, built-in
// table, then the search-path probe. Modules are cached before their
// top-level runs so import cycles see the partially initialized module
// instead of recursing forever.
func (vm *VM) importOne(name string) (*object.ObjModule, error) {
	if m, ok := vm.modules[name]; ok {
		return m, nil
	}

	if b, ok := stdlib.Builtins()[name]; ok {
		m := vm.newModule(name)
		vm.registerNatives(m, b.Natives)
		if b.Init != nil {
			b.Init(vm, m)
		}
		if b.Source != "" {
			if res := vm.runInModule(m, "<"+name+">", b.Source); res != Success {
				delete(vm.modules, name)
				if res == RuntimeError {
					return nil, vm.popAsError()
				}
				return nil, vm.newError("ImportException", "built-in module '%s' failed to load", name)
			}
		}
		return m, nil
	}

	resolver := module.NewResolver(vm.cfg.ImportPaths...)
	path, src, rerr := resolver.Resolve(name)
	if rerr != nil {
		return nil, vm.newError("ImportException", "%s", rerr.Error())
	}

	m := vm.newModule(name)
	if res := vm.runInModule(m, path, src); res != Success {
		delete(vm.modules, name)
		switch res {
		case RuntimeError:
			return nil, vm.popAsError()
		default:
			return nil, vm.newError("ImportException", "cannot compile module '%s' (%s)", name, path)
		}
	}
	return m, nil
}

// popAsError lifts the exception runInModule left on the stack back into
// an error so the importing frame's handlers get a chance at it.
func (vm *VM) popAsError() error {
	exc := vm.pop()
	vm.flightExc = object.NullVal()
	msg := vm.Stringify(exc)
	if inst, ok := vm.obj(exc).(*object.ObjInstance); ok {
		if s, ok := vm.asString(inst.Fields["_err"]); ok {
			msg = inst.Class.Name + ": " + s.Chars
		}
	}
	return &object.RuntimeError{Exc: exc, Msg: msg}
}
