// Package vm implements the J* bytecode interpreter of spec §4.4: a
// stack machine with call frames, per-frame exception handler stacks,
// open-upvalue tracking, and the module-level global namespace, driving
// the mark-sweep heap of the object package.
package vm

import (
	"fmt"
	"io"
	"os"

	"jstar/object"
	"jstar/stdlib"
)

const (
	defaultStackSize = 1 << 15
	defaultMaxFrames = 1024
)

// handler is one SETUP_HANDLER record (spec's "handler record"): where to
// resume for a matching raise, where the ensure block starts, and the
// stack height to restore before either.
type handler struct {
	catchAddr  int // -1 when the try has no except clauses
	ensureAddr int // -1 when the try has no ensure clause
	savedSP    int
}

// pending tracks why an ensure block is running: normal completion, or an
// in-flight exception END_ENSURE must re-raise.
type pending struct {
	hasExc bool
	exc    object.Value
}

// frame is one call record. Exactly one of closure/native is set.
type frame struct {
	closure  *object.ObjClosure
	native   *object.ObjNative
	module   *object.ObjModule
	ip       int
	base     int
	handlers []handler
	pendings []pending
}

type openUV struct {
	idx int
	uv  *object.ObjUpvalue
}

// ErrorFunc receives compile-time diagnostics (spec §4.2's injected
// callback).
type ErrorFunc func(path string, line int, message string)

// Config carries the embedder-tunable knobs of spec §6.1.
type Config struct {
	Stdout      io.Writer
	Stderr      io.Writer
	Args        []string
	ImportPaths []string
	StackSize   int
	MaxFrames   int
	InitialGC   int
	HeapGrow    float64
	StressGC    bool
	Trace       bool
	OnError     ErrorFunc
}

// Option mutates a Config before the VM is built.
type Option func(*Config)

func WithStdout(w io.Writer) Option      { return func(c *Config) { c.Stdout = w } }
func WithStderr(w io.Writer) Option      { return func(c *Config) { c.Stderr = w } }
func WithArgs(args []string) Option      { return func(c *Config) { c.Args = args } }
func WithImportPath(ps ...string) Option { return func(c *Config) { c.ImportPaths = append(c.ImportPaths, ps...) } }
func WithStackSize(n int) Option         { return func(c *Config) { c.StackSize = n } }
func WithMaxFrames(n int) Option         { return func(c *Config) { c.MaxFrames = n } }
func WithGCThreshold(n int) Option       { return func(c *Config) { c.InitialGC = n } }
func WithHeapGrowRate(r float64) Option  { return func(c *Config) { c.HeapGrow = r } }
func WithStressGC() Option               { return func(c *Config) { c.StressGC = true } }
func WithTrace() Option                  { return func(c *Config) { c.Trace = true } }
func WithErrorFunc(f ErrorFunc) Option   { return func(c *Config) { c.OnError = f } }

// builtinClasses caches the core classes the dispatcher consults for
// method calls on non-instance values (spec §3.3 invariant 4's class_ref,
// realized as a kind-indexed lookup instead of a per-object pointer).
type builtinClasses struct {
	number, boolean, null, str, list, tuple, table *object.ObjClass
	function, module, stackTrace, userdata         *object.ObjClass
	exception                                      *object.ObjClass
}

// VM is a single-threaded J* interpreter. A VM must only ever be driven
// from one goroutine (spec §5).
type VM struct {
	cfg  Config
	heap *object.Heap

	// The stack is allocated once at full capacity: open upvalues alias
	// its slots by pointer, so it must never be reallocated.
	stack []object.Value
	sp    int

	frames  []frame
	openUVs []openUV

	modules map[string]*object.ObjModule
	core    *object.ObjModule
	classes builtinClasses

	// nativeReg backs DEFINE_NATIVE: per-module tables of natives
	// registered by built-in modules (spec §6.3's registration protocol).
	nativeReg map[string]map[string]*object.ObjNative

	// flightExc holds an exception that escaped every handler, left for
	// the embedder (spec §7 layer 4).
	flightExc object.Value
}

// New builds a VM, installs the __core__ module (print and friends, the
// exception hierarchy of spec §7, and the built-in value classes), and
// returns it ready to evaluate code.
func New(opts ...Option) *VM {
	cfg := Config{
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		StackSize: defaultStackSize,
		MaxFrames: defaultMaxFrames,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if os.Getenv("JSTAR_TRACE") == "1" {
		cfg.Trace = true
	}
	if cfg.OnError == nil {
		stderr := cfg.Stderr
		cfg.OnError = func(path string, line int, message string) {
			fmt.Fprintf(stderr, "%s:%d: %s\n", path, line, message)
		}
	}

	vm := &VM{
		cfg:       cfg,
		heap:      object.NewHeap(),
		stack:     make([]object.Value, cfg.StackSize),
		frames:    make([]frame, 0, cfg.MaxFrames),
		modules:   make(map[string]*object.ObjModule),
		nativeReg: make(map[string]map[string]*object.ObjNative),
	}
	vm.heap.Tune(cfg.InitialGC, cfg.HeapGrow)
	vm.initCore()
	return vm
}

func (vm *VM) initCore() {
	core := vm.newModule("__core__")
	vm.core = core
	vm.registerNatives(core, stdlib.CoreNatives())
	stdlib.InstallBuiltinClasses(vm.heap, core)
	vm.classes = builtinClasses{
		number:     vm.coreClass("Number"),
		boolean:    vm.coreClass("Bool"),
		null:       vm.coreClass("Null"),
		str:        vm.coreClass("String"),
		list:       vm.coreClass("List"),
		tuple:      vm.coreClass("Tuple"),
		table:      vm.coreClass("Table"),
		function:   vm.coreClass("Function"),
		module:     vm.coreClass("Module"),
		stackTrace: vm.coreClass("StackTrace"),
		userdata:   vm.coreClass("Userdata"),
	}
	if res := vm.runInModule(core, "<core>", stdlib.CoreSource); res != Success {
		panic(fmt.Sprintf("vm: __core__ failed to load: %v", res))
	}
	vm.classes.exception = vm.coreClass("Exception")
}

func (vm *VM) coreClass(name string) *object.ObjClass {
	v, ok := vm.core.Globals[name]
	if !ok || !v.IsObject() {
		return nil
	}
	cls, _ := vm.heap.Get(v.AsRef()).(*object.ObjClass)
	return cls
}

// newModule creates and caches a module, seeding its __name__ global
// (spec §4.6).
func (vm *VM) newModule(name string) *object.ObjModule {
	m := object.NewModule(name)
	vm.heap.Alloc(m)
	m.Globals["__name__"] = vm.internString(name)
	vm.modules[name] = m
	return m
}

// registerNatives allocates each native, binds it as a module global, and
// records it in the DEFINE_NATIVE registry.
func (vm *VM) registerNatives(m *object.ObjModule, defs []stdlib.NativeDef) {
	reg := vm.nativeReg[m.Name]
	if reg == nil {
		reg = make(map[string]*object.ObjNative)
		vm.nativeReg[m.Name] = reg
	}
	for _, d := range defs {
		n := &object.ObjNative{
			Name:     d.Name,
			Arity:    d.Arity,
			Defaults: d.Defaults,
			Vararg:   d.Vararg,
			Fn:       d.Fn,
		}
		vm.heap.Alloc(n)
		m.Globals[d.Name] = object.ObjValue(n)
		reg[d.Name] = n
	}
}

// ---- stack primitives ----

func (vm *VM) push(v object.Value) {
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() object.Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(n int) object.Value { return vm.stack[vm.sp-1-n] }

func (vm *VM) drop(n int) { vm.sp -= n }

// ensureStack verifies n more slots fit, the jsrEnsureStack check of
// spec §5.
func (vm *VM) ensureStack(n int) error {
	if vm.sp+n > len(vm.stack) {
		return vm.newError("StackOverflowException", "value stack overflow")
	}
	return nil
}

// ---- upvalues ----

// captureUpvalue returns the open upvalue for stack slot idx, reusing an
// existing one so every closure over the same variable shares storage
// (spec §3.4). The list is kept sorted by descending slot index.
func (vm *VM) captureUpvalue(idx int) *object.ObjUpvalue {
	i := 0
	for i < len(vm.openUVs) && vm.openUVs[i].idx > idx {
		i++
	}
	if i < len(vm.openUVs) && vm.openUVs[i].idx == idx {
		return vm.openUVs[i].uv
	}
	uv := object.NewOpenUpvalue(&vm.stack[idx])
	vm.heap.Alloc(uv)
	vm.openUVs = append(vm.openUVs, openUV{})
	copy(vm.openUVs[i+1:], vm.openUVs[i:])
	vm.openUVs[i] = openUV{idx: idx, uv: uv}
	return uv
}

// closeUpvalues closes every open upvalue at or above stack slot from
// (function return, scope exit, exception unwind — spec §3.4).
func (vm *VM) closeUpvalues(from int) {
	n := 0
	for n < len(vm.openUVs) && vm.openUVs[n].idx >= from {
		vm.openUVs[n].uv.Close()
		n++
	}
	vm.openUVs = vm.openUVs[n:]
}

// ---- garbage collection ----

// maybeCollect runs a collection at a safepoint: every live value is on
// the stack, in a module, in a frame, or in flight through the unwinder.
func (vm *VM) maybeCollect() {
	if vm.cfg.StressGC || vm.heap.NeedsGC() {
		vm.collect()
	}
}

func (vm *VM) collect() {
	vm.heap.Collect(func(mark func(object.Value)) {
		for i := 0; i < vm.sp; i++ {
			mark(vm.stack[i])
		}
		for _, m := range vm.modules {
			mark(object.ObjValue(m))
		}
		for fi := range vm.frames {
			f := &vm.frames[fi]
			if f.closure != nil {
				mark(object.ObjValue(f.closure))
			}
			if f.native != nil {
				mark(object.ObjValue(f.native))
			}
			if f.module != nil {
				mark(object.ObjValue(f.module))
			}
			for _, p := range f.pendings {
				if p.hasExc {
					mark(p.exc)
				}
			}
		}
		for _, o := range vm.openUVs {
			mark(object.ObjValue(o.uv))
		}
		for _, reg := range vm.nativeReg {
			for _, n := range reg {
				mark(object.ObjValue(n))
			}
		}
		mark(vm.flightExc)
	})
}

// ---- object.Runtime implementation (the native-facing surface, §6.2) ----

func (vm *VM) Heap() *object.Heap { return vm.heap }
func (vm *VM) Stdout() io.Writer  { return vm.cfg.Stdout }
func (vm *VM) Stderr() io.Writer  { return vm.cfg.Stderr }
func (vm *VM) Argv() []string     { return vm.cfg.Args }

func (vm *VM) ClassOf(v object.Value) object.Value {
	if cls := vm.classOf(v); cls != nil {
		return object.ObjValue(cls)
	}
	return object.NullVal()
}

// ---- misc helpers ----

func (vm *VM) internString(s string) object.Value {
	return object.ObjVal(vm.heap.InternString(s))
}

func (vm *VM) obj(v object.Value) object.Obj {
	if !v.IsObject() {
		return nil
	}
	return vm.heap.Get(v.AsRef())
}
