package object

const (
	initialGCThreshold = 1 << 20 // 1 MiB, before the first collection can trigger
	heapGrowFactor     = 2.0
)

// Heap is the single arena every heap object lives in, addressed by Ref
// rather than Go pointer (spec's design note on representing cyclic
// references as arena indices). Allocation go through reallocate-style
// bookkeeping: every Alloc adds to bytesAllocated, and Collect is the only
// thing that ever subtracts from it.
type Heap struct {
	objects []Obj // nil entries are freed slots, reused by Alloc
	free    []Ref

	strings map[string]Ref // weak intern table: entries die at sweep time

	bytesAllocated int
	nextGC         int
	initialGC      int
	growFactor     float64
	gray           []Obj
}

func NewHeap() *Heap {
	return &Heap{
		strings:    make(map[string]Ref),
		nextGC:     initialGCThreshold,
		initialGC:  initialGCThreshold,
		growFactor: heapGrowFactor,
	}
}

// Tune adjusts the collection threshold knobs (spec §6.1's GC tuning).
// Zero values leave the corresponding knob unchanged.
func (h *Heap) Tune(initialGC int, growFactor float64) {
	if initialGC > 0 {
		h.initialGC = initialGC
		if h.nextGC < initialGC {
			h.nextGC = initialGC
		}
	}
	if growFactor > 1 {
		h.growFactor = growFactor
	}
}

// Alloc places o in the arena, records its Ref in its header, and returns
// the Ref.
func (h *Heap) Alloc(o Obj) Ref {
	h.bytesAllocated += sizeOf(o)
	var r Ref
	if n := len(h.free); n > 0 {
		r = h.free[n-1]
		h.free = h.free[:n-1]
		h.objects[r] = o
	} else {
		h.objects = append(h.objects, o)
		r = Ref(len(h.objects) - 1)
	}
	o.setRef(r)
	return r
}

func (h *Heap) Get(r Ref) Obj {
	if r < 0 || int(r) >= len(h.objects) {
		return nil
	}
	return h.objects[r]
}

// Stats reports the live object count and the allocated-byte estimate,
// for diagnostics.
func (h *Heap) Stats() (objects, bytes int) {
	for _, o := range h.objects {
		if o != nil {
			objects++
		}
	}
	return objects, h.bytesAllocated
}

// NeedsGC reports whether allocation since the last collection has crossed
// the current threshold; the VM checks this at safepoints (before each
// dispatched instruction) rather than on every single allocation.
func (h *Heap) NeedsGC() bool { return h.bytesAllocated > h.nextGC }

// InternString returns the Ref for s, allocating and interning it if this
// is the first time s has been seen (spec §3.2).
func (h *Heap) InternString(s string) Ref {
	if r, ok := h.strings[s]; ok {
		return r
	}
	r := h.Alloc(&ObjString{Chars: s, Hash: hashString(s)})
	h.strings[s] = r
	return r
}

func sizeOf(o Obj) int {
	const word = 8
	switch v := o.(type) {
	case *ObjString:
		return 32 + len(v.Chars)
	case *ObjList:
		return 24 + len(v.Elems)*word
	case *ObjTuple:
		return 24 + len(v.Elems)*word
	case *ObjTable:
		return 24 + len(v.entries)*(2*word+2)
	case *ObjClass:
		return 48 + len(v.Methods)*word
	case *ObjInstance:
		return 32 + len(v.Fields)*word
	case *ObjFunction:
		return 64
	case *ObjClosure:
		return 32 + len(v.Upvalues)*word
	case *ObjUpvalue:
		return 24
	case *ObjNative:
		return 32 + len(v.Defaults)*word
	case *ObjBoundMethod:
		return 24
	case *ObjModule:
		return 48 + len(v.Globals)*word
	case *ObjStackTrace:
		return 24 + len(v.Frames)*32
	case *ObjUserdata:
		return 32
	default:
		return 16
	}
}

// mark marks o live and, the first time it's seen this collection, pushes
// it onto the gray stack for its children to be traced. o and the Obj
// stored in the arena at its Ref are the same pointer, so marking works
// whether reached through a Value's Ref or a typed Go field like
// ObjClass.Super — there is only ever one object, one header.
func (h *Heap) mark(o Obj) {
	if o == nil || o.marked() {
		return
	}
	o.setMarked(true)
	h.gray = append(h.gray, o)
}

func (h *Heap) markValue(v Value) {
	if v.IsObject() {
		h.mark(h.Get(v.AsRef()))
	}
}

// blacken traces the outgoing references of o, marking each reachable
// child gray in turn.
func (h *Heap) blacken(o Obj) {
	switch o := o.(type) {
	case *ObjString:
	case *ObjList:
		for _, v := range o.Elems {
			h.markValue(v)
		}
	case *ObjTuple:
		for _, v := range o.Elems {
			h.markValue(v)
		}
	case *ObjTable:
		for _, e := range o.entries {
			if !e.present || e.tombstone {
				continue
			}
			h.markValue(e.key)
			h.markValue(e.value)
		}
	case *ObjClass:
		if o.Super != nil {
			h.mark(o.Super)
		}
		for _, m := range o.Methods {
			h.mark(m)
		}
	case *ObjInstance:
		h.mark(o.Class)
		for _, v := range o.Fields {
			h.markValue(v)
		}
	case *ObjFunction:
		// Proto.Constants may hold nested *compiler.Proto values, but those
		// are plain compiled data, not heap objects, until MAKE_CLOSURE
		// instantiates one — nothing here to trace.
	case *ObjClosure:
		h.mark(o.Fn)
		for _, uv := range o.Upvalues {
			h.mark(uv)
		}
		if o.Class != nil {
			h.mark(o.Class)
		}
		if o.Module != nil {
			h.mark(o.Module)
		}
	case *ObjUpvalue:
		h.markValue(o.Get())
	case *ObjNative:
		for _, d := range o.Defaults {
			h.markValue(d)
		}
	case *ObjBoundMethod:
		h.markValue(o.Receiver)
		h.mark(o.Method)
	case *ObjModule:
		for _, v := range o.Globals {
			h.markValue(v)
		}
	case *ObjStackTrace:
	case *ObjUserdata:
	}
}

// Collect runs a full mark-sweep cycle (spec §4.5). markRoots is invoked
// once with a callback the caller uses to mark every root Value it holds
// (VM stack slots, globals, open upvalues, in-flight exception values).
func (h *Heap) Collect(markRoots func(mark func(Value))) {
	h.gray = h.gray[:0]
	markRoots(h.markValue)
	for len(h.gray) > 0 {
		o := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.blacken(o)
	}
	h.sweep()
}

func (h *Heap) sweep() {
	live := 0
	for i, o := range h.objects {
		if o == nil {
			continue
		}
		if o.marked() {
			o.setMarked(false)
			live += sizeOf(o)
			continue
		}
		if s, ok := o.(*ObjString); ok {
			delete(h.strings, s.Chars)
		}
		h.objects[i] = nil
		h.free = append(h.free, Ref(i))
	}
	h.bytesAllocated = live
	target := int(float64(live) * h.growFactor)
	if target < h.initialGC {
		target = h.initialGC
	}
	h.nextGC = target
}
