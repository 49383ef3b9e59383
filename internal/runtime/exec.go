package runtime

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Bytes of output kept in an [ExecResult].
const outputTail = 8 << 10

// Sequence counter for generating unique exec process identifiers.
var execSeq uint64

// Returns a unique exec process identifier.
func nextExecID() string {
	return fmt.Sprintf("exec-%d", atomic.AddUint64(&execSeq, 1))
}

// A process to run inside a container.
type Command struct {
	Args    []string  // Program and arguments.
	Env     []string  // "KEY=value" entries merged over the container's environment.
	Workdir string    // Working directory, the container's when empty.
	Stdin   io.Reader // Standard input, disconnected when nil.
	Stdout  io.Writer // Standard output, discarded when nil.
	Stderr  io.Writer // Standard error, discarded when nil.
}

// Output of a command execution inside a container.
type ExecResult struct {
	ExitCode int    // Exit code of the process.
	Stdout   string // Last bytes of standard output.
	Stderr   string // Last bytes of standard error.
}

// Runs a shell command inside the container.
//
// The command is passed to the shell as "shell -c command". Environment
// variables and working directory override the container's OCI spec for
// this execution only. Output is copied to output as it is produced, when
// output is non-nil, and the tail of each stream is kept in the result.
func (c *Container) Exec(ctx context.Context, shell, command string, env []string, workdir string, output io.Writer) (*ExecResult, error) {
	return c.capture(ctx, Command{
		Args:    []string{shell, "-c", command},
		Env:     env,
		Workdir: workdir,
	}, output)
}

// Runs a command inside the container and returns its exit code.
//
// A non-zero exit code is not treated as an error; the caller decides.
func (c *Container) Run(ctx context.Context, cmd Command) (int, error) {
	pspec, err := c.buildProcessSpec(ctx, cmd.Env, cmd.Workdir, cmd.Args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return c.execProcess(ctx, pspec, cmd.Stdin, cmd.Stdout, cmd.Stderr)
}

// Runs cmd, keeping the tail of both output streams and teeing them to
// output.
func (c *Container) capture(ctx context.Context, cmd Command, output io.Writer) (*ExecResult, error) {
	stdout := newTailBuffer(outputTail)
	stderr := newTailBuffer(outputTail)

	cmd.Stdout, cmd.Stderr = io.Writer(stdout), io.Writer(stderr)
	if output != nil {
		cmd.Stdout = io.MultiWriter(stdout, output)
		cmd.Stderr = io.MultiWriter(stderr, output)
	}

	exitCode, err := c.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}

	return &ExecResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Builds an OCI process spec for running a command inside the container.
//
// The base values are copied from the container's own OCI spec, then env and
// workdir are overridden if provided.
func (c *Container) buildProcessSpec(ctx context.Context, env []string, workdir string, args ...string) (*specs.Process, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, err
	}

	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, err
	}

	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = args

	if len(env) > 0 {
		pspec.Env = mergeEnv(pspec.Env, env)
	}
	if workdir != "" {
		pspec.Cwd = workdir
	}

	return &pspec, nil
}

// Merges override env vars on top of a base env slice. Entries without "="
// are dropped and the result is sorted by key.
func mergeEnv(base, overrides []string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, entry := range append(base[:len(base):len(base)], overrides...) {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}

	result := make([]string, 0, len(merged))
	for k, v := range merged {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// Starts a process inside the container's running task, waits for it to exit,
// and returns the exit code.
//
// The process is attached to the task as an additional exec, which requires
// the task started by [Container.startTask] to be running. Nil output
// streams are replaced with io.Discard.
//
// When stdin is provided, the process stdin is closed explicitly once the
// reader returns EOF. The containerd shim holds both ends of the stdin FIFO
// open and does not propagate EOF on its own.
func (c *Container) execProcess(ctx context.Context, pspec *specs.Process, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	task, err := c.loadTask(ctx)
	if err != nil {
		return 0, err
	}

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	var stdinDone <-chan struct{}
	if stdin != nil {
		dr := newDoneReader(stdin)
		stdin = dr
		stdinDone = dr.done
	}

	process, err := task.Exec(ctx, nextExecID(), pspec, cio.NewCreator(
		cio.WithStreams(stdin, stdout, stderr),
	))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	return awaitProcess(ctx, process, stdinDone)
}

// Loads the container's running task.
func (c *Container) loadTask(ctx context.Context) (containerd.Task, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	return task, nil
}

// Waits for an exec process to exit and returns the exit code.
//
// If stdinDone is non-nil, the process stdin is closed when the channel
// fires. The process is always deleted before returning.
func awaitProcess(ctx context.Context, process containerd.Process, stdinDone <-chan struct{}) (int, error) {
	statusC, err := process.Wait(ctx)
	if err != nil {
		process.Delete(ctx)
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := process.Start(ctx); err != nil {
		process.Delete(ctx)
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if stdinDone != nil {
		go func() {
			<-stdinDone
			process.CloseIO(ctx, containerd.WithStdinCloser)
		}()
	}

	exitStatus := <-statusC
	process.Delete(ctx)

	code, _, err := exitStatus.Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	return int(code), nil
}
