package graph

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Namespace assigned to services that do not declare one.
const DefaultNamespace = "dynamo"

// A service declared in a graph file.
type Service struct {
	Name      string         // Service name, unique within the graph.
	Namespace string         // Dynamo namespace the service registers in.
	Workers   int            // Number of worker processes, at least 1.
	DependsOn []string       // Names of services this service calls.
	Command   []string       // Command that starts the service.
	Resources Resources      // Resource requests for deployment.
	Config    map[string]any // Default service configuration.
}

// Resource requests of a service.
type Resources struct {
	CPU    string `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Memory string `json:"memory,omitempty" yaml:"memory,omitempty"`
	GPU    string `json:"gpu,omitempty" yaml:"gpu,omitempty"`
}

// Build instructions declared in the graph file.
type BuildSpec struct {
	Env        map[string]string // Environment set during the build and in the image.
	Run        []string          // Shell commands run in the image after the sources are copied.
	Exclude    []string          // Patterns excluded from the packaged sources.
	Entrypoint []string          // Entrypoint of the image. Defaults to serving the graph.
}

// An inference graph rooted at its entrypoint service.
type Graph struct {
	Ref      Ref                 // Reference the graph was loaded from.
	Dir      string              // Root directory holding the graph sources.
	File     string              // Path to the graph file.
	Services map[string]*Service // Services reachable from the entrypoint.
	Build    BuildSpec           // Build instructions.
}

// Loads the graph named by ref from the sources under dir.
//
// The graph file is parsed and validated, then pruned to the services
// reachable from the entrypoint. Dependencies on undeclared services and
// dependency cycles are rejected.
func Load(ctx context.Context, dir string, ref Ref) (*Graph, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGraphFile, err)
	}

	path, err := ref.Resolve(abs)
	if err != nil {
		return nil, err
	}

	logrus.WithField("file", path).Debug("loading graph")

	services, build, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	if _, ok := services[ref.Entrypoint]; !ok {
		return nil, fmt.Errorf("%w: entrypoint %q is not declared in %s", ErrUnknownService, ref.Entrypoint, path)
	}

	reachable, err := walk(services, ref.Entrypoint)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	g := &Graph{
		Ref:      ref,
		Dir:      abs,
		File:     path,
		Services: reachable,
		Build:    build,
	}

	logrus.WithFields(logrus.Fields{
		"graph":    ref.String(),
		"services": g.Names(),
	}).Debug("graph loaded")

	return g, nil
}

// Returns the service names in lexical order.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.Services))
	for name := range g.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Returns the services with every dependency before its dependents.
//
// Ties are broken by name so the order is stable across runs. Because all
// services are reachable from the entrypoint, the entrypoint comes last.
func (g *Graph) Order() []*Service {
	indegree := make(map[string]int, len(g.Services))
	dependents := make(map[string][]string, len(g.Services))
	for name, svc := range g.Services {
		indegree[name] += 0
		for _, dep := range svc.DependsOn {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, n := range indegree {
		if n == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]*Service, 0, len(g.Services))
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		order = append(order, g.Services[name])

		for _, d := range dependents[name] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	return order
}

// Collects the services reachable from root, checking that every dependency
// exists and that no dependency cycle is reachable.
func walk(services map[string]*Service, root string) (map[string]*Service, error) {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int, len(services))
	reachable := make(map[string]*Service)
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			i := slices.Index(stack, name)
			cycle := append(slices.Clone(stack[i:]), name)
			return fmt.Errorf("%w: %s", ErrCycle, strings.Join(cycle, " -> "))
		case done:
			return nil
		}

		svc := services[name]
		state[name] = visiting
		stack = append(stack, name)

		for _, dep := range svc.DependsOn {
			if _, ok := services[dep]; !ok {
				return fmt.Errorf("%w: %q depends on undeclared service %q", ErrUnknownService, name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = done
		reachable[name] = svc
		return nil
	}

	if err := visit(root); err != nil {
		return nil, err
	}
	return reachable, nil
}
