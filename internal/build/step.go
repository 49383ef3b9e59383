package build

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal/manifest"
	"github.com/ai-dynamo/dynamo-cli/internal/runtime"
)

// Executes the steps of one stage against its build container.
type executor struct {
	ctr      *runtime.Container            // Stage container.
	buildCtx string                        // Directory host copy sources are resolved against.
	stages   map[string]*runtime.Container // Named stage containers of the same platform.
	log      io.Writer                     // Receives step output.
}

// Executes a list of steps in order against the build container.
func (ex *executor) steps(ctx context.Context, steps []manifest.Step, state *manifest.State) error {
	for i, step := range steps {
		if err := ex.step(ctx, step, state); err != nil {
			return fmt.Errorf("%w: step %d: %w", ErrBuild, i+1, err)
		}
	}
	return nil
}

// Executes a single step, dispatching to operation execution, group recursion,
// or state mutation depending on the step's fields.
func (ex *executor) step(ctx context.Context, step manifest.Step, state *manifest.State) error {
	hasOp := step.Run != "" || step.Copy != ""

	// Group: apply group-level modifiers and recurse.
	if len(step.Steps) > 0 {
		state.Apply(step)
		return ex.steps(ctx, step.Steps, state)
	}

	// Operation with optional scoped modifiers.
	if hasOp {
		return ex.operation(ctx, step, state)
	}

	// Standalone modifier(s): persist in state.
	state.Apply(step)
	return nil
}

// Executes a run or copy operation with scoped modifier overrides.
//
// Step-level modifiers override the persistent state for this operation only.
// The persistent state is not modified.
func (ex *executor) operation(ctx context.Context, step manifest.Step, state *manifest.State) error {
	resolved := state.Resolve(step)

	if resolved.Workdir != "" {
		if err := ex.ctr.MkdirAll(ctx, resolved.Workdir); err != nil {
			return err
		}
	}

	switch {
	case step.Run != "":
		logrus.WithFields(logrus.Fields{"command": step.Run, "shell": resolved.Shell}).Debug("run")
		result, err := ex.ctr.Exec(ctx, resolved.Shell, step.Run, resolved.Environ(), resolved.Workdir, ex.log)
		if err != nil {
			return err
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("%w: %q exited with code %d: %s", ErrCommandFailed, step.Run, result.ExitCode, result.Stderr)
		}

	case step.Copy != "":
		if err := ex.copy(ctx, step.Copy, resolved.Workdir, step.Exclude); err != nil {
			return err
		}
	}

	return nil
}
