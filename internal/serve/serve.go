package serve

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal/graph"
	"github.com/ai-dynamo/dynamo-cli/internal/image"
	"github.com/ai-dynamo/dynamo-cli/internal/manifest"
	"github.com/ai-dynamo/dynamo-cli/internal/runtime"
)

const (

	// Directory the graph sources are mounted at.
	SourceDir = "/src"

	// Environment variables set for every service.
	EnvServiceConfig = "DYNAMO_SERVICE_CONFIG"
	EnvNamespace     = "DYN_NAMESPACE"
	EnvServiceName   = "DYNAMO_SERVICE_NAME"
	EnvWorkers       = "DYNAMO_WORKERS"
)

// Host variables passed through to services when set.
var passthroughEnv = []string{"NATS_SERVER", "ETCD_ENDPOINTS", "HF_TOKEN", "CUDA_VISIBLE_DEVICES"}

// Controls a local run of a graph.
type Options struct {
	Runtime     *runtime.Runtime    // Containerd runtime the services run on.
	Graph       *graph.Graph        // Graph to serve.
	Config      graph.Config        // Resolved service configuration.
	Image       string              // Image the services run in.
	Pull        runtime.PullOptions // How the image is obtained.
	Getenv      func(string) string // Host environment lookup, os.Getenv when nil.
	StopTimeout time.Duration       // Grace period on shutdown, [runtime.DefaultStopTimeout] when zero.
	Output      io.Writer           // Receives prefixed service output. Discarded when nil.
}

// Prints the service configuration and the environment variable carrying it,
// without starting anything.
func DryRun(w io.Writer, cfg graph.Config) error {
	pretty, err := cfg.Pretty()
	if err != nil {
		return err
	}
	compact, err := cfg.JSON()
	if err != nil {
		return err
	}
	if compact == "" {
		compact = "{}"
	}

	_, err = fmt.Fprintf(w, "Service Configuration:\n%s\n\nEnvironment Variable that would be set:\n%s=%s\n", pretty, EnvServiceConfig, compact)
	return err
}

// A started service, as [Serve] supervises it.
type process interface {
	Wait(ctx context.Context) (int, error)
	Stop(ctx context.Context, timeout time.Duration) error
}

// Starts a service container.
type startFunc func(ctx context.Context, opts runtime.RunOptions) (process, error)

// Runs every service of the graph until ctx is cancelled, all services exit,
// or one of them fails.
//
// Services without a command are rejected before anything starts. When a
// service exits with a non-zero code the others are stopped and
// [ErrServiceFailed] is returned. Cancellation stops all services and is not
// an error.
func Serve(ctx context.Context, opts Options) error {
	if opts.Runtime == nil {
		return fmt.Errorf("%w: no runtime", ErrServe)
	}

	platform := runtime.DefaultPlatform()
	src, err := imageSource(opts.Image)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServe, err)
	}
	img, err := opts.Runtime.EnsureImage(ctx, src, platform, opts.Pull)
	if err != nil {
		return err
	}
	opts.Image = img

	return serve(ctx, opts, func(ctx context.Context, ro runtime.RunOptions) (process, error) {
		return opts.Runtime.Run(ctx, ro)
	})
}

// Returns where the services' image comes from. Registry references are
// normalized to the fully qualified name the image store records.
func imageSource(ref string) (manifest.Source, error) {
	src, err := manifest.Stage{From: ref}.ParseFrom()
	if err != nil {
		return manifest.Source{}, err
	}
	if src.Kind == manifest.SourceRegistry {
		if src.Value, err = image.Normalize(src.Value); err != nil {
			return manifest.Source{}, err
		}
	}
	return src, nil
}

// Runs the services through start.
func serve(ctx context.Context, opts Options, start startFunc) error {
	if err := checkCommands(opts.Graph); err != nil {
		return err
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = runtime.DefaultStopTimeout
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}

	configJSON, err := opts.Config.JSON()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServe, err)
	}

	session := uuid.New().String()[:8]
	var mu sync.Mutex

	s := &supervisor{timeout: opts.StopTimeout}
	defer s.flush()

	for _, svc := range opts.Graph.Order() {
		w := newPrefixWriter(opts.Output, &mu, svc.Name)
		ro := runOptions(opts, svc, session, configJSON)
		ro.Stdout, ro.Stderr = w, w

		p, err := start(ctx, ro)
		if err != nil {
			s.stop(ctx)
			return fmt.Errorf("%w: %s: %w", ErrServe, svc.Name, err)
		}

		s.add(svc.Name, p, w)
		logrus.WithFields(logrus.Fields{"service": svc.Name, "id": ro.ID}).Info("service started")
	}

	return s.wait(ctx)
}

// Rejects graphs with services that cannot be started.
func checkCommands(g *graph.Graph) error {
	for _, name := range g.Names() {
		if len(g.Services[name].Command) == 0 {
			return fmt.Errorf("%w: %s", ErrNoCommand, name)
		}
	}
	return nil
}

// Returns the container configuration of a service.
func runOptions(opts Options, svc *graph.Service, session, configJSON string) runtime.RunOptions {
	env := []string{
		EnvNamespace + "=" + svc.Namespace,
		EnvServiceName + "=" + svc.Name,
		EnvWorkers + "=" + strconv.Itoa(max(svc.Workers, 1)),
	}
	if configJSON != "" {
		env = append(env, EnvServiceConfig+"="+configJSON)
	}
	for _, k := range passthroughEnv {
		if v := opts.Getenv(k); v != "" {
			env = append(env, k+"="+v)
		}
	}

	return runtime.RunOptions{
		ID:     containerID(session, svc.Name),
		Image:  opts.Image,
		Args:   slices.Clone(svc.Command),
		Env:    env,
		Cwd:    SourceDir,
		Mounts: []runtime.Mount{{Source: opts.Graph.Dir, Target: SourceDir}},
	}
}

// Returns the container ID of a service within a serve session.
func containerID(session, service string) string {
	return "dynamo-serve-" + session + "-" + strings.ToLower(service)
}

// Exit of a supervised service.
type exit struct {
	name string
	code int
	err  error
}

// Tracks the running services of a session.
type supervisor struct {
	timeout time.Duration
	names   []string
	procs   []process
	writers []*prefixWriter
}

func (s *supervisor) add(name string, p process, w *prefixWriter) {
	s.names = append(s.names, name)
	s.procs = append(s.procs, p)
	s.writers = append(s.writers, w)
}

// Waits for the services, stopping all of them on cancellation or on the
// first failure.
func (s *supervisor) wait(ctx context.Context) error {
	waitCtx, cancel := context.WithCancel(ctx)
	exits := make(chan exit, len(s.procs))

	var wg sync.WaitGroup
	for i, p := range s.procs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := p.Wait(waitCtx)
			if waitCtx.Err() != nil {
				return
			}
			exits <- exit{name: s.names[i], code: code, err: err}
		}()
	}

	// Wait goroutines must be gone before Stop reads the exit status.
	shutdown := func() {
		cancel()
		wg.Wait()
		s.stop(ctx)
	}

	for remaining := len(s.procs); remaining > 0; remaining-- {
		select {
		case <-ctx.Done():
			logrus.Info("stopping services")
			shutdown()
			return nil

		case e := <-exits:
			log := logrus.WithFields(logrus.Fields{"service": e.name, "code": e.code})
			if e.err != nil {
				shutdown()
				return fmt.Errorf("%w: %s: %w", ErrServiceFailed, e.name, e.err)
			}
			if e.code != 0 {
				log.Error("service exited")
				shutdown()
				return fmt.Errorf("%w: %s exited with code %d", ErrServiceFailed, e.name, e.code)
			}
			log.Info("service exited")
		}
	}

	shutdown()
	return nil
}

// Stops the services in reverse start order and removes their containers.
func (s *supervisor) stop(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(s.procs) - 1; i >= 0; i-- {
		if err := s.procs[i].Stop(ctx, s.timeout); err != nil {
			logrus.WithError(err).WithField("service", s.names[i]).Warn("failed to stop service")
		}
	}
	s.procs, s.names = nil, nil
}

// Writes out pending partial lines.
func (s *supervisor) flush() {
	for _, w := range s.writers {
		w.Flush()
	}
}
