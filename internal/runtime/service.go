package runtime

import (
	"context"
	"fmt"
	"io"
	"syscall"
	"time"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"
)

// Time a service gets to exit after SIGTERM before it is killed.
const DefaultStopTimeout = 10 * time.Second

// A host directory mounted into a service container.
type Mount struct {
	Source   string // Host path.
	Target   string // Path inside the container.
	ReadOnly bool
}

// Configures a long-running service container.
type RunOptions struct {
	ID       string    // Container ID, replaced if it already exists.
	Image    string    // Image record to run.
	Platform string    // OCI platform, the host's when empty.
	Args     []string  // Replaces the image's entrypoint and command when set.
	Env      []string  // "KEY=value" entries added to the image environment.
	Cwd      string    // Working directory, the image's when empty.
	Mounts   []Mount   // Host directories to bind.
	Stdout   io.Writer // Standard output, discarded when nil.
	Stderr   io.Writer // Standard error, discarded when nil.
}

// A running service container.
type Process struct {
	ctr    containerd.Container
	task   containerd.Task
	exitC  <-chan containerd.ExitStatus
	id     string
	status *containerd.ExitStatus
}

// Starts a service container and returns once its process is running.
//
// The container shares the host network namespace so services reach each
// other and the outside world as local processes would.
func (rt *Runtime) Run(ctx context.Context, opts RunOptions) (*Process, error) {
	platform := opts.Platform
	if platform == "" {
		platform = DefaultPlatform()
	}

	c := &Container{client: rt.client, id: opts.ID, platform: platform, snapshotter: rt.snapshotter}
	c.remove(ctx)

	image, err := rt.resolveImage(ctx, opts.Image, platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	specOpts := []oci.SpecOpts{
		oci.WithDefaultSpecForPlatform(platform),
		oci.WithImageConfig(image),
		oci.WithHostNamespace(specs.NetworkNamespace),
		oci.WithHostResolvconf,
		oci.WithHostHostsFile,
		oci.WithEnv(opts.Env),
		oci.WithMounts(bindMounts(opts.Mounts)),
	}
	if len(opts.Args) > 0 {
		specOpts = append(specOpts, oci.WithProcessArgs(opts.Args...))
	}
	if opts.Cwd != "" {
		specOpts = append(specOpts, oci.WithProcessCwd(opts.Cwd))
	}

	ctr, err := rt.client.NewContainer(ctx, opts.ID,
		containerd.WithImage(image),
		containerd.WithSnapshotter(rt.snapshotter),
		containerd.WithNewSnapshot(opts.ID, image),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithNewSpec(specOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: creating container %s: %w", ErrRuntime, opts.ID, err)
	}

	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	task, err := ctr.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, stdout, stderr)))
	if err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: starting container %s: %w", ErrRuntime, opts.ID, err)
	}

	exitC, err := waitExit(ctx, task)
	if err != nil {
		task.Delete(ctx)
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: starting container %s: %w", ErrRuntime, opts.ID, err)
	}

	logrus.WithFields(logrus.Fields{"id": opts.ID, "image": opts.Image, "pid": task.Pid()}).Debug("service started")
	return &Process{ctr: ctr, task: task, exitC: exitC, id: opts.ID}, nil
}

// Subscribes to a task's exit.
type exitWaiter interface {
	Wait(ctx context.Context) (<-chan containerd.ExitStatus, error)
}

// Returns the exit channel of a task. The subscription is detached from
// ctx's cancellation: a cancelled Wait reports an unknown exit status at
// once, and Stop must still see the real exit after SIGTERM.
func waitExit(ctx context.Context, task exitWaiter) (<-chan containerd.ExitStatus, error) {
	return task.Wait(context.WithoutCancel(ctx))
}

// Blocks until the process exits or ctx is done, and returns its exit code.
func (p *Process) Wait(ctx context.Context) (int, error) {
	if p.status != nil {
		return exitCode(*p.status)
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case status := <-p.exitC:
		p.status = &status
		return exitCode(status)
	}
}

// Stops the process and removes its container.
//
// The process receives SIGTERM and is killed if it has not exited within
// timeout.
func (p *Process) Stop(ctx context.Context, timeout time.Duration) error {
	if p.status == nil {
		if err := p.task.Kill(ctx, syscall.SIGTERM); err != nil && !errdefs.IsNotFound(err) {
			logrus.WithError(err).WithField("id", p.id).Debug("failed to signal service")
		}

		select {
		case status := <-p.exitC:
			p.status = &status
		case <-time.After(timeout):
			logrus.WithField("id", p.id).Warn("service did not stop in time, killing")
			p.task.Kill(ctx, syscall.SIGKILL)
			status := <-p.exitC
			p.status = &status
		}
	}

	if _, err := p.task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	if err := p.ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return nil
}

// Returns the exit code of an exit status.
func exitCode(status containerd.ExitStatus) (int, error) {
	code, _, err := status.Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return int(code), nil
}

// Converts host bind mounts to OCI mounts.
func bindMounts(mounts []Mount) []specs.Mount {
	out := make([]specs.Mount, 0, len(mounts))
	for _, m := range mounts {
		options := []string{"rbind", "rw"}
		if m.ReadOnly {
			options = []string{"rbind", "ro"}
		}
		out = append(out, specs.Mount{
			Type:        "bind",
			Source:      m.Source,
			Destination: m.Target,
			Options:     options,
		})
	}
	return out
}
