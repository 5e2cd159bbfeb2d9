package compiler

// UpvalueDesc tells the VM where a closure's Nth upvalue comes from: either
// an enclosing function's local slot (IsLocal true) or that function's own
// upvalue list at Index (spec §4.3's chained upvalue descriptors).
type UpvalueDesc struct {
	IsLocal bool
	Index   int
}

// Proto is a compiled function prototype: the constant immutable half of
// what the VM calls a closure. A *Proto appears in an enclosing function's
// constant pool and is wrapped in a runtime closure object at MAKE_CLOSURE
// time (spec §4.3/§4.4).
//
// Arity counts every declared parameter, including the trailing tuple
// collector when HasVararg is set; Defaults holds the constant values of
// the trailing optional parameters, in declaration order.
type Proto struct {
	Name       string
	Arity      int
	Defaults   []any
	HasVararg  bool
	Code       Instructions
	Constants  []any // float64, string, bool, nil, or a nested *Proto
	Upvalues   []UpvalueDesc
	MaxLocals  int
	Lines      []int // one source line per byte in Code, for stack traces
	ModuleName string
}
