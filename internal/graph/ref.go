package graph

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (

	// Extension of graph files.
	fileExt = ".hcl"

	// File looked up inside a module directory (e.g., hello_world/graph.hcl).
	packageFile = "graph" + fileExt
)

// Matches a single module segment or an entrypoint name.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Reference to a graph: the module holding the graph file and the entrypoint
// service.
type Ref struct {
	Module     string // Dotted module path (e.g., "examples.hello_world").
	Entrypoint string // Name of the entrypoint service (e.g., "Frontend").
}

// Parses a graph reference of the form "<module>:<Entrypoint>".
//
// The module may be written as a relative file path ("./hello_world.hcl" or
// "examples/hello_world"); it is normalized to its dotted form. Each module
// segment and the entrypoint must be identifiers.
func ParseRef(s string) (Ref, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return Ref{}, fmt.Errorf("%w: %q: expected <module>:<Entrypoint>", ErrGraphRef, s)
	}

	module := normalizeModule(s[:i])
	entrypoint := s[i+1:]

	if module == "" {
		return Ref{}, fmt.Errorf("%w: %q: missing module", ErrGraphRef, s)
	}
	for _, seg := range strings.Split(module, ".") {
		if !identifier.MatchString(seg) {
			return Ref{}, fmt.Errorf("%w: %q: invalid module segment %q", ErrGraphRef, s, seg)
		}
	}
	if !identifier.MatchString(entrypoint) {
		return Ref{}, fmt.Errorf("%w: %q: invalid entrypoint %q", ErrGraphRef, s, entrypoint)
	}

	return Ref{Module: module, Entrypoint: entrypoint}, nil
}

// Returns the reference in "<module>:<Entrypoint>" form.
func (r Ref) String() string {
	return r.Module + ":" + r.Entrypoint
}

// Returns the last segment of the module (e.g., "hello_world" for
// "examples.hello_world").
func (r Ref) Name() string {
	if i := strings.LastIndexByte(r.Module, '.'); i >= 0 {
		return r.Module[i+1:]
	}
	return r.Module
}

// Returns the candidate graph file paths for the module, relative to dir.
//
// Module "a.b" maps to "<dir>/a/b.hcl" first and "<dir>/a/b/graph.hcl"
// second.
func (r Ref) Paths(dir string) []string {
	base := filepath.Join(append([]string{dir}, strings.Split(r.Module, ".")...)...)
	return []string{
		base + fileExt,
		filepath.Join(base, packageFile),
	}
}

// Returns the first candidate graph file that exists.
func (r Ref) Resolve(dir string) (string, error) {
	candidates := r.Paths(dir)
	for _, path := range candidates {
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s (looked for %s)", ErrGraphNotFound, r.Module, strings.Join(candidates, ", "))
}

// Converts path-like module spellings to the dotted form.
func normalizeModule(m string) string {
	m = strings.TrimSpace(m)
	m = strings.TrimPrefix(m, "./")
	m = strings.TrimSuffix(m, fileExt)
	m = strings.TrimSuffix(m, "/")
	return strings.ReplaceAll(filepath.ToSlash(m), "/", ".")
}
