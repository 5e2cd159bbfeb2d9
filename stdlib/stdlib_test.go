package stdlib_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"jstar/object"
	"jstar/stdlib"
)

func TestBuiltinTableCoversSpecifiedModules(t *testing.T) {
	builtins := stdlib.Builtins()
	for _, name := range []string{"sys", "io", "math", "re", "debug"} {
		def, ok := builtins[name]
		require.True(t, ok, "missing built-in %q", name)
		require.NotEmpty(t, def.Natives, "built-in %q has no natives", name)
	}
	_, hasCore := builtins["__core__"]
	require.False(t, hasCore, "__core__ is installed by the VM, not imported")
}

func TestCoreNativesIncludePrint(t *testing.T) {
	names := map[string]stdlib.NativeDef{}
	for _, d := range stdlib.CoreNatives() {
		names[d.Name] = d
	}
	require.Contains(t, names, "print")
	require.True(t, names["print"].Vararg)
	require.Contains(t, names, "__printStacktrace")
	require.Contains(t, names, "assert")
}

func TestCoreSourceDefinesExceptionHierarchy(t *testing.T) {
	for _, cls := range []string{
		"Exception", "TypeException", "NameException", "FieldException",
		"MethodException", "ImportException", "StackOverflowException",
		"SyntaxException", "InvalidArgException", "IndexOutOfBoundException",
		"AssertException", "NotImplementedException", "ProgramInterrupt",
		"FileNotFoundException", "IOException", "RegexException",
	} {
		require.True(t, strings.Contains(stdlib.CoreSource, cls), "core source missing %s", cls)
	}
}

func TestInstallBuiltinClassesBindsCoreGlobals(t *testing.T) {
	h := object.NewHeap()
	core := object.NewModule("__core__")
	h.Alloc(core)

	stdlib.InstallBuiltinClasses(h, core)

	for _, name := range []string{"Number", "Bool", "Null", "String", "List", "Tuple", "Table", "Function", "Module"} {
		v, ok := core.Globals[name]
		require.True(t, ok, "missing class %s", name)
		cls, isClass := h.Get(v.AsRef()).(*object.ObjClass)
		require.True(t, isClass)
		require.Equal(t, name, cls.Name)
	}

	strCls, _ := h.Get(core.Globals["String"].AsRef()).(*object.ObjClass)
	m, ok := strCls.Resolve("upper")
	require.True(t, ok)
	require.Equal(t, object.ONative, m.Kind())
}
