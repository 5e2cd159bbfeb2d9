package module_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"jstar/module"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolveFlatModule(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "util.jsr"), "var x = 1")

	r := module.NewResolver(dir)
	path, src, err := r.Resolve("util")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "util.jsr"), path)
	require.Equal(t, "var x = 1", src)
}

func TestResolvePrefersPackageFile(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "pkg", "package.jsr"), "var kind = \"pkg\"")
	write(t, filepath.Join(dir, "pkg.jsr"), "var kind = \"flat\"")

	r := module.NewResolver(dir)
	path, _, err := r.Resolve("pkg")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "pkg", "package.jsr"), path)
}

func TestResolveDottedName(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "a", "b.jsr"), "var x = 2")

	r := module.NewResolver(dir)
	path, _, err := r.Resolve("a.b")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "a", "b.jsr"), path)
}

func TestResolveNotFound(t *testing.T) {
	r := module.NewResolver(t.TempDir())
	_, _, err := r.Resolve("missing")
	var nf *module.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "missing", nf.Name)
	require.NotEmpty(t, nf.Probed)
}

func TestJSTARPATHIsSearchedFirst(t *testing.T) {
	envDir := t.TempDir()
	argDir := t.TempDir()
	write(t, filepath.Join(envDir, "shadow.jsr"), "var from = \"env\"")
	write(t, filepath.Join(argDir, "shadow.jsr"), "var from = \"arg\"")
	t.Setenv(module.EnvPathVar, envDir)

	r := module.NewResolver(argDir)
	path, _, err := r.Resolve("shadow")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(envDir, "shadow.jsr"), path)
}
