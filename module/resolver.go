// Package module resolves import names to J* source files (spec §4.6):
// each path in the search list is probed for
// <path>/<name-with-dots-as-slashes>/package.jsr, then
// <path>/<name-with-dots-as-slashes>.jsr. The JSTARPATH environment
// variable (spec §6.5) is prepended to the embedder-supplied paths, and a
// trailing "./" is always probed last.
package module

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SourceExt is the J* source file extension.
const SourceExt = ".jsr"

// PackageFile is the file probed inside a directory-shaped module.
const PackageFile = "package" + SourceExt

// EnvPathVar names the environment variable holding extra import paths,
// separated by the platform's list separator.
const EnvPathVar = "JSTARPATH"

// NotFoundError reports that no search path contained the module.
type NotFoundError struct {
	Name   string
	Probed []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("module %q not found (probed %d locations)", e.Name, len(e.Probed))
}

// Resolver locates module sources on disk.
type Resolver struct {
	paths []string
}

// NewResolver builds a Resolver over the given search paths, prepending
// JSTARPATH and appending the working directory.
func NewResolver(paths ...string) *Resolver {
	var all []string
	if env := os.Getenv(EnvPathVar); env != "" {
		for _, p := range filepath.SplitList(env) {
			if p != "" {
				all = append(all, p)
			}
		}
	}
	all = append(all, paths...)
	all = append(all, ".")
	return &Resolver{paths: all}
}

// Paths returns the effective search path list, in probe order.
func (r *Resolver) Paths() []string { return append([]string(nil), r.paths...) }

// Resolve maps a dotted module name to the path and contents of its
// source file, or a *NotFoundError.
func (r *Resolver) Resolve(name string) (path string, src string, err error) {
	rel := strings.ReplaceAll(name, ".", string(filepath.Separator))
	var probed []string
	for _, base := range r.paths {
		for _, candidate := range []string{
			filepath.Join(base, rel, PackageFile),
			filepath.Join(base, rel+SourceExt),
		} {
			probed = append(probed, candidate)
			data, readErr := os.ReadFile(candidate)
			if readErr == nil {
				return candidate, string(data), nil
			}
		}
	}
	return "", "", &NotFoundError{Name: name, Probed: probed}
}
