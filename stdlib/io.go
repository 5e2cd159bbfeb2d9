package stdlib

import (
	"fmt"
	"os"

	"jstar/object"
)

// ioModule exposes basic file and stream I/O. Failures raise
// FileNotFoundException or IOException (spec §7's core hierarchy).
func ioModule() ModuleDef {
	return ModuleDef{
		Natives: []NativeDef{
			{Name: "write", Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
				fmt.Fprint(rt.Stdout(), rt.Stringify(arg(args, 0)))
				return object.NullVal(), nil
			}},
			{Name: "ewrite", Arity: 1, Fn: func(rt object.Runtime, args []object.Value) (object.Value, error) {
				fmt.Fprint(rt.Stderr(), rt.Stringify(arg(args, 0)))
				return object.NullVal(), nil
			}},
			{Name: "readFile", Arity: 1, Fn: ioReadFile},
			{Name: "writeFile", Arity: 2, Fn: ioWriteFile},
			{Name: "exists", Arity: 1, Fn: ioExists},
			{Name: "remove", Arity: 1, Fn: ioRemove},
		},
	}
}

func ioReadFile(rt object.Runtime, args []object.Value) (object.Value, error) {
	path, err := stringArg(rt, args, 0, "path")
	if err != nil {
		return object.NullVal(), err
	}
	data, rerr := os.ReadFile(path)
	if rerr != nil {
		if os.IsNotExist(rerr) {
			return object.NullVal(), rt.Raise("FileNotFoundException", "no such file: %s", path)
		}
		return object.NullVal(), rt.Raise("IOException", "%s", rerr.Error())
	}
	return internString(rt, string(data)), nil
}

func ioWriteFile(rt object.Runtime, args []object.Value) (object.Value, error) {
	path, err := stringArg(rt, args, 0, "path")
	if err != nil {
		return object.NullVal(), err
	}
	data, err := stringArg(rt, args, 1, "data")
	if err != nil {
		return object.NullVal(), err
	}
	if werr := os.WriteFile(path, []byte(data), 0o644); werr != nil {
		return object.NullVal(), rt.Raise("IOException", "%s", werr.Error())
	}
	return object.NullVal(), nil
}

func ioExists(rt object.Runtime, args []object.Value) (object.Value, error) {
	path, err := stringArg(rt, args, 0, "path")
	if err != nil {
		return object.NullVal(), err
	}
	_, serr := os.Stat(path)
	return object.BoolVal(serr == nil), nil
}

func ioRemove(rt object.Runtime, args []object.Value) (object.Value, error) {
	path, err := stringArg(rt, args, 0, "path")
	if err != nil {
		return object.NullVal(), err
	}
	if rerr := os.Remove(path); rerr != nil {
		if os.IsNotExist(rerr) {
			return object.NullVal(), rt.Raise("FileNotFoundException", "no such file: %s", path)
		}
		return object.NullVal(), rt.Raise("IOException", "%s", rerr.Error())
	}
	return object.NullVal(), nil
}
