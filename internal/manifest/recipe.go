package manifest

import (
	"fmt"

	"github.com/ai-dynamo/dynamo-cli/internal/image"
)

// Build instructions for an image.
type Recipe struct {
	Stages []Stage // Stages in build order.
}

// A build stage.
type Stage struct {
	Name      string // Optional name, referenced by cross-stage copies.
	From      string // Base image reference or OCI archive.
	Transient bool   // Whether the stage only feeds later stages.
	Steps     []Step // Steps run in the stage container.
}

// A single build step.
//
// A step with Run or Copy is an operation; its modifiers apply to that
// operation only. A step with only modifiers changes the state for every
// later step in the stage. A step with nested Steps applies its modifiers
// and then runs the nested steps.
type Step struct {
	Run     string            // Shell command.
	Copy    string            // "src dest" or "stage:src dest".
	Exclude []string          // Patterns skipped by a host directory copy.
	Shell   string            // Shell used for run steps.
	Workdir string            // Working directory.
	Env     map[string]string // Environment variables.
	Steps   []Step            // Nested steps.
}

// Configuration of the output image.
type Image struct {
	Tag        string            // Fully qualified tag the image is stored under.
	Entrypoint []string          // Replaces the base image's entrypoint when set.
	Cmd        []string          // Replaces the base image's command when Entrypoint or Cmd is set.
	Env        map[string]string // Added to the base image's environment.
	Workdir    string            // Working directory of the image.
	Labels     map[string]string // Added to the base image's labels.
}

// Kind of base image source.
type SourceKind int

const (
	SourceRegistry SourceKind = iota // Image pulled from a registry.
	SourceArchive                    // OCI archive on the local filesystem.
)

// A parsed stage base image.
type Source struct {
	Kind  SourceKind
	Value string // Reference for registry sources, file path for archives.
}

// Parses the stage's base image.
func (s Stage) ParseFrom() (Source, error) {
	if s.From == "" {
		return Source{}, ErrMissingFrom
	}
	if path, ok := image.ArchivePath(s.From); ok {
		return Source{Kind: SourceArchive, Value: path}, nil
	}
	return Source{Kind: SourceRegistry, Value: s.From}, nil
}

// Checks the recipe's structure.
//
// A recipe needs at least one stage, exactly one non-transient stage, unique
// stage names, a base image on every stage, and steps with at most one
// operation each.
func (r *Recipe) Validate() error {
	if len(r.Stages) == 0 {
		return fmt.Errorf("%w: no stages", ErrInvalidRecipe)
	}

	names := make(map[string]bool, len(r.Stages))
	outputs := 0

	for i, stage := range r.Stages {
		if stage.From == "" {
			return fmt.Errorf("%w: stage %d: %w", ErrInvalidRecipe, i+1, ErrMissingFrom)
		}
		if stage.Name != "" {
			if names[stage.Name] {
				return fmt.Errorf("%w: duplicate stage name %q", ErrInvalidRecipe, stage.Name)
			}
			names[stage.Name] = true
		}
		if !stage.Transient {
			outputs++
		}
		if err := validateSteps(stage.Steps); err != nil {
			return fmt.Errorf("%w: stage %d: %w", ErrInvalidRecipe, i+1, err)
		}
	}

	if outputs != 1 {
		return fmt.Errorf("%w: expected exactly one non-transient stage, found %d", ErrInvalidRecipe, outputs)
	}
	return nil
}

func validateSteps(steps []Step) error {
	for i, step := range steps {
		if step.Run != "" && step.Copy != "" {
			return fmt.Errorf("step %d: run and copy are mutually exclusive", i+1)
		}
		if len(step.Steps) > 0 && (step.Run != "" || step.Copy != "") {
			return fmt.Errorf("step %d: a group cannot run or copy", i+1)
		}
		if err := validateSteps(step.Steps); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}
