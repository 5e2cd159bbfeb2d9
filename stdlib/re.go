package stdlib

import (
	"regexp"

	"jstar/object"
)

// reModule wraps Go's regexp. Pattern syntax errors raise RegexException.
func reModule() ModuleDef {
	return ModuleDef{
		Natives: []NativeDef{
			{Name: "match", Arity: 2, Fn: reMatch},
			{Name: "find", Arity: 2, Fn: reFind},
			{Name: "findAll", Arity: 2, Fn: reFindAll},
			{Name: "replace", Arity: 3, Fn: reReplace},
			{Name: "split", Arity: 2, Fn: reSplit},
		},
	}
}

func compilePattern(rt object.Runtime, args []object.Value) (*regexp.Regexp, string, error) {
	pattern, err := stringArg(rt, args, 0, "pattern")
	if err != nil {
		return nil, "", err
	}
	subject, err := stringArg(rt, args, 1, "string")
	if err != nil {
		return nil, "", err
	}
	re, cerr := regexp.Compile(pattern)
	if cerr != nil {
		return nil, "", rt.Raise("RegexException", "%s", cerr.Error())
	}
	return re, subject, nil
}

func reMatch(rt object.Runtime, args []object.Value) (object.Value, error) {
	re, subject, err := compilePattern(rt, args)
	if err != nil {
		return object.NullVal(), err
	}
	return object.BoolVal(re.MatchString(subject)), nil
}

// reFind returns the first match's capture groups as a list (group 0
// first), or null when nothing matches.
func reFind(rt object.Runtime, args []object.Value) (object.Value, error) {
	re, subject, err := compilePattern(rt, args)
	if err != nil {
		return object.NullVal(), err
	}
	m := re.FindStringSubmatch(subject)
	if m == nil {
		return object.NullVal(), nil
	}
	elems := make([]object.Value, len(m))
	for i, g := range m {
		elems[i] = internString(rt, g)
	}
	return newList(rt, elems), nil
}

func reFindAll(rt object.Runtime, args []object.Value) (object.Value, error) {
	re, subject, err := compilePattern(rt, args)
	if err != nil {
		return object.NullVal(), err
	}
	var elems []object.Value
	for _, m := range re.FindAllString(subject, -1) {
		elems = append(elems, internString(rt, m))
	}
	return newList(rt, elems), nil
}

func reReplace(rt object.Runtime, args []object.Value) (object.Value, error) {
	re, subject, err := compilePattern(rt, args)
	if err != nil {
		return object.NullVal(), err
	}
	repl, err := stringArg(rt, args, 2, "replacement")
	if err != nil {
		return object.NullVal(), err
	}
	return internString(rt, re.ReplaceAllString(subject, repl)), nil
}

func reSplit(rt object.Runtime, args []object.Value) (object.Value, error) {
	re, subject, err := compilePattern(rt, args)
	if err != nil {
		return object.NullVal(), err
	}
	parts := re.Split(subject, -1)
	elems := make([]object.Value, len(parts))
	for i, p := range parts {
		elems[i] = internString(rt, p)
	}
	return newList(rt, elems), nil
}
