package stdlib

import (
	"math"
	"math/rand"

	"jstar/object"
)

// mathModule wraps the host math library one native per function.
func mathModule() ModuleDef {
	unary := func(name string, fn func(float64) float64) NativeDef {
		return NativeDef{Name: name, Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			n, err := numberArg(rt, args, 0, "x")
			if err != nil {
				return object.NullVal(), err
			}
			return object.NumberVal(fn(n)), nil
		}}
	}
	binary := func(name string, fn func(a, b float64) float64) NativeDef {
		return NativeDef{Name: name, Arity: 2, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
			a, err := numberArg(rt, args, 0, "a")
			if err != nil {
				return object.NullVal(), err
			}
			b, err := numberArg(rt, args, 1, "b")
			if err != nil {
				return object.NullVal(), err
			}
			return object.NumberVal(fn(a, b)), nil
		}}
	}
	return ModuleDef{
		Natives: []NativeDef{
			unary("sqrt", math.Sqrt),
			unary("floor", math.Floor),
			unary("ceil", math.Ceil),
			unary("abs", math.Abs),
			unary("sin", math.Sin),
			unary("cos", math.Cos),
			unary("tan", math.Tan),
			unary("log", math.Log),
			unary("exp", math.Exp),
			unary("round", math.Round),
			binary("min", math.Min),
			binary("max", math.Max),
			binary("pow", math.Pow),
			{Name: "random", Arity: 0, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
				return object.NumberVal(rand.Float64()), nil
			}},
		},
		Init: func(rt object.Runtime, m *object.ObjModule) {
			m.Globals["pi"] = object.NumberVal(math.Pi)
			m.Globals["e"] = object.NumberVal(math.E)
			m.Globals["huge"] = object.NumberVal(math.Inf(1))
			m.Globals["nan"] = object.NumberVal(math.NaN())
		},
	}
}
