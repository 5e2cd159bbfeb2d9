package vm

import (
	"fmt"

	"jstar/object"
)

// stacktraceField is the hidden instance field the raise machinery stores
// the captured trace in; Exception.printStacktrace reads it back.
const stacktraceField = "_stacktrace"

// newError builds an instance of the named core exception class with the
// formatted message, captures the current stack trace, and wraps it in a
// *object.RuntimeError ready to unwind (spec §4.4's exception model).
func (vm *VM) newError(class, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	cls := vm.coreClass(class)
	if cls == nil {
		// Core is still loading; nothing can catch this anyway.
		return &object.RuntimeError{Exc: vm.internString(msg), Msg: class + ": " + msg}
	}
	inst := object.NewInstance(cls)
	vm.heap.Alloc(inst)
	inst.Fields["_err"] = vm.internString(msg)
	vm.attachTrace(inst)
	return &object.RuntimeError{Exc: object.ObjValue(inst), Msg: class + ": " + msg}
}

// Raise implements Runtime.Raise for natives (spec §6.2).
func (vm *VM) Raise(class, format string, args ...any) error {
	return vm.newError(class, format, args...)
}

// asRuntimeError normalizes any error escaping a native into an
// unwindable *object.RuntimeError.
func (vm *VM) asRuntimeError(err error) error {
	if re, ok := err.(*object.RuntimeError); ok {
		return re
	}
	return vm.newError("Exception", "%s", err.Error())
}

// attachTrace snapshots every live frame into a StackTrace and stores it
// on the exception, unless one is already attached (a re-raise keeps the
// original trace).
func (vm *VM) attachTrace(inst *object.ObjInstance) {
	if _, ok := inst.Fields[stacktraceField]; ok {
		return
	}
	st := &object.ObjStackTrace{Frames: vm.captureFrames()}
	vm.heap.Alloc(st)
	inst.Fields[stacktraceField] = object.ObjValue(st)
}

func (vm *VM) captureFrames() []object.StackFrame {
	frames := make([]object.StackFrame, 0, len(vm.frames))
	for i := range vm.frames {
		f := &vm.frames[i]
		sf := object.StackFrame{Line: -1}
		if f.module != nil {
			sf.ModuleName = f.module.Name
		}
		switch {
		case f.closure != nil:
			p := f.closure.Fn.Proto
			sf.FuncName = callableName(p.Name)
			if ip := f.ip - 1; ip >= 0 && ip < len(p.Lines) {
				sf.Line = p.Lines[ip]
			}
		case f.native != nil:
			sf.FuncName = f.native.Name
		}
		frames = append(frames, sf)
	}
	return frames
}

// raiseValue implements the RAISE opcode: the operand must be an
// exception instance (or a class, which is instantiated on the spot); a
// trace is attached on first raise only.
func (vm *VM) raiseValue(v object.Value) error {
	switch o := vm.obj(v).(type) {
	case *object.ObjInstance:
		if vm.classes.exception != nil && !o.Class.IsSubclassOf(vm.classes.exception) {
			return vm.newError("TypeException", "can only raise Exception instances, not '%s'", o.Class.Name)
		}
		vm.attachTrace(o)
		msg := ""
		if s, ok := vm.asString(o.Fields["_err"]); ok {
			msg = s.Chars
		}
		return &object.RuntimeError{Exc: v, Msg: o.Class.Name + ": " + msg}
	case *object.ObjClass:
		res, err := vm.Call(v, nil)
		if err != nil {
			return err
		}
		return vm.raiseValue(res)
	}
	return vm.newError("TypeException", "can only raise exception instances, not %s", vm.typeName(v))
}

// unwind walks handler records innermost-out (spec §4.4): a catch target
// resumes the frame with the exception pushed; an ensure target resumes
// with the exception pending so END_ENSURE re-raises it; a frame with no
// handlers is popped. Returns true when some handler resumed execution;
// false when the exception escaped past frame index floor (the caller
// must propagate it).
func (vm *VM) unwind(exc object.Value, floor int) bool {
	for {
		if len(vm.frames) == 0 {
			vm.flightExc = exc
			return false
		}
		fi := len(vm.frames) - 1
		f := &vm.frames[fi]
		for len(f.handlers) > 0 {
			h := f.handlers[len(f.handlers)-1]
			f.handlers = f.handlers[:len(f.handlers)-1]
			vm.closeUpvalues(h.savedSP)
			vm.sp = h.savedSP
			if h.catchAddr >= 0 {
				// Re-arm an ensure-only record so a raise inside the
				// except body still runs the ensure clause.
				if h.ensureAddr >= 0 {
					f.handlers = append(f.handlers, handler{catchAddr: -1, ensureAddr: h.ensureAddr, savedSP: h.savedSP})
				}
				vm.push(exc)
				f.ip = h.catchAddr
				return true
			}
			if h.ensureAddr >= 0 {
				// Skip the BEGIN_ENSURE opcode itself; the pending entry
				// takes its place.
				f.pendings = append(f.pendings, pending{hasExc: true, exc: exc})
				f.ip = h.ensureAddr + 1
				return true
			}
		}
		if fi < floor {
			// This frame belongs to an outer run invocation; hand the
			// exception back through the Go call chain instead.
			vm.flightExc = exc
			return false
		}
		vm.closeUpvalues(f.base)
		vm.sp = f.base
		vm.frames = vm.frames[:fi]
		if fi == floor {
			vm.flightExc = exc
			return false
		}
	}
}

// handleError routes an error raised during dispatch: a RuntimeError
// resumes at a handler when one exists, anything else aborts.
func (vm *VM) handleError(err error, floor int) (resumed bool, out error) {
	re, ok := err.(*object.RuntimeError)
	if !ok {
		return false, err
	}
	if vm.unwind(re.Exc, floor) {
		vm.flightExc = object.NullVal()
		return true, nil
	}
	return false, re
}
