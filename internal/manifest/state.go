package manifest

import (
	"maps"
	"sort"
)

// Default shell used for run steps when no shell modifier has been set.
const DefaultShell = "/bin/sh"

// Tracks accumulated modifiers while a stage's steps execute.
//
// State flows linearly through the step list. Standalone modifiers update
// the state permanently via [State.Apply]. Operations read the effective
// values for a single step via [State.Resolve] without modifying the
// persistent state.
type State struct {
	Shell   string            // Shell used for run steps.
	Workdir string            // Working directory, empty for the image's.
	Env     map[string]string // Environment variables added to run steps.
}

// Creates a new [State] with default values.
func NewState() *State {
	return &State{
		Shell: DefaultShell,
		Env:   make(map[string]string),
	}
}

// Persists modifier fields from a step into the state.
//
// Called for standalone modifier steps and step groups. The state is
// mutated permanently, affecting all subsequent steps.
func (s *State) Apply(step Step) {
	if step.Shell != "" {
		s.Shell = step.Shell
	}
	if step.Workdir != "" {
		s.Workdir = step.Workdir
	}
	maps.Copy(s.Env, step.Env)
}

// Returns a new [State] with step-level modifiers overlaid on the
// persistent state. The receiver is not modified.
//
// Step-level modifiers override the corresponding state values for this
// operation only.
func (s *State) Resolve(step Step) *State {
	resolved := &State{
		Shell:   s.Shell,
		Workdir: s.Workdir,
		Env:     make(map[string]string, len(s.Env)+len(step.Env)),
	}
	maps.Copy(resolved.Env, s.Env)
	maps.Copy(resolved.Env, step.Env)

	if step.Shell != "" {
		resolved.Shell = step.Shell
	}
	if step.Workdir != "" {
		resolved.Workdir = step.Workdir
	}

	return resolved
}

// Formats the environment as a sorted list of "key=value" strings suitable
// for passing to container exec.
func (s *State) Environ() []string {
	env := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
