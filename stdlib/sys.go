package stdlib

import (
	"os"
	"runtime"
	"time"

	"jstar/object"
)

var processStart = time.Now()

// sysModule exposes process-level facilities: argv, exit, wall-clock and
// monotonic time, platform identification, and environment access.
func sysModule() ModuleDef {
	return ModuleDef{
		Natives: []NativeDef{
			{Name: "exit", Arity: 1, Defaults: []object.Value{object.NumberVal(0)}, Fn: sysExit},
			{Name: "time", Arity: 0, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
				return object.NumberVal(float64(time.Now().UnixNano()) / 1e9), nil
			}},
			{Name: "clock", Arity: 0, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
				return object.NumberVal(time.Since(processStart).Seconds()), nil
			}},
			{Name: "platform", Arity: 0, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
				return internString(rt, runtime.GOOS), nil
			}},
			{Name: "getenv", Arity: 1, Fn: sysGetenv},
		},
		Init: func(rt object.Runtime, m *object.ObjModule) {
			elems := make([]object.Value, 0, len(rt.Argv()))
			for _, a := range rt.Argv() {
				elems = append(elems, internString(rt, a))
			}
			m.Globals["args"] = newList(rt, elems)
		},
	}
}

func sysExit(rt object.Runtime, args []object.Value) (object.Value, error) {
	code := 0
	if arg(args, 0).IsNumber() {
		code = int(arg(args, 0).AsNumber())
	}
	os.Exit(code)
	return object.NullVal(), nil
}

func sysGetenv(rt object.Runtime, args []object.Value) (object.Value, error) {
	name, err := stringArg(rt, args, 0, "name")
	if err != nil {
		return object.NullVal(), err
	}
	v, ok := os.LookupEnv(name)
	if !ok {
		return object.NullVal(), nil
	}
	return internString(rt, v), nil
}
