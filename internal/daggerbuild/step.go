package daggerbuild

import (
	"fmt"
	"os"
	"path/filepath"

	"dagger.io/dagger"
	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal/manifest"
)

// Translates the steps of one stage into container operations.
type executor struct {
	client   *dagger.Client
	ctr      *dagger.Container            // Stage container, replaced as steps are added.
	buildCtx string                       // Directory host copy sources are resolved against.
	stages   map[string]*dagger.Container // Earlier named stages of the same platform.
}

// Adds a list of steps in order.
func (ex *executor) steps(steps []manifest.Step, state *manifest.State) error {
	for i, step := range steps {
		if err := ex.step(step, state); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// Adds a single step, recursing into groups and recording modifiers.
func (ex *executor) step(step manifest.Step, state *manifest.State) error {
	if len(step.Steps) > 0 {
		state.Apply(step)
		return ex.steps(step.Steps, state)
	}

	if step.Run != "" || step.Copy != "" {
		return ex.operation(step, state)
	}

	state.Apply(step)
	return nil
}

// Adds a run or copy operation.
//
// Modifiers only shape the environment the operation runs in. The stage
// container keeps its own configuration and takes the resulting root
// filesystem, so build-time environment and working directory never reach
// the output image.
func (ex *executor) operation(step manifest.Step, state *manifest.State) error {
	resolved := state.Resolve(step)

	scoped := ex.ctr
	for _, k := range sortedKeys(resolved.Env) {
		scoped = scoped.WithEnvVariable(k, resolved.Env[k])
	}
	if resolved.Workdir != "" {
		scoped = scoped.WithWorkdir(resolved.Workdir)
	}

	switch {
	case step.Run != "":
		logrus.WithFields(logrus.Fields{"command": step.Run, "shell": resolved.Shell}).Debug("run")
		scoped = scoped.WithExec([]string{resolved.Shell, "-c", step.Run})

	case step.Copy != "":
		var err error
		if scoped, err = ex.copy(scoped, step.Copy, resolved.Workdir, step.Exclude); err != nil {
			return err
		}
	}

	ex.ctr = ex.ctr.WithRootfs(scoped.Rootfs())
	return nil
}

// Adds a copy operation.
//
// Host sources are resolved relative to the build context. Cross-stage
// sources place the named path inside the parent of dest, as a tar copy
// between containers would.
func (ex *executor) copy(ctr *dagger.Container, copyStr, workdir string, excludes []string) (*dagger.Container, error) {
	src, dest, err := manifest.ParseCopy(copyStr, workdir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCopy, err)
	}

	if stage, path, ok := manifest.ParseStageCopy(src); ok {
		srcCtr, ok := ex.stages[stage]
		if !ok {
			return nil, fmt.Errorf("%w: unknown stage %q", ErrCopy, stage)
		}
		logrus.WithFields(logrus.Fields{"stage": stage, "src": path, "dest": dest}).Debug("cross-stage copy")
		return ctr.WithDirectory(filepath.Dir(dest), srcCtr.Directory(filepath.Dir(path)), dagger.ContainerWithDirectoryOpts{
			Include: []string{filepath.Base(path)},
		}), nil
	}

	if !filepath.IsAbs(src) {
		src = filepath.Join(ex.buildCtx, src)
	}

	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCopy, err)
	}

	logrus.WithFields(logrus.Fields{"src": src, "dest": dest, "dir": info.IsDir()}).Debug("copy")

	if info.IsDir() {
		dir := ex.client.Host().Directory(src, dagger.HostDirectoryOpts{Exclude: excludes})
		return ctr.WithDirectory(dest, dir), nil
	}
	return ctr.WithFile(dest, ex.client.Host().File(src)), nil
}
