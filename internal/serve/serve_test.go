package serve

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ai-dynamo/dynamo-cli/internal/graph"
	"github.com/ai-dynamo/dynamo-cli/internal/image"
	"github.com/ai-dynamo/dynamo-cli/internal/manifest"
	"github.com/ai-dynamo/dynamo-cli/internal/runtime"
)

func helloWorld() *graph.Graph {
	return &graph.Graph{
		Ref: graph.Ref{Module: "hello_world", Entrypoint: "Frontend"},
		Dir: "/work/examples",
		Services: map[string]*graph.Service{
			"Frontend": {Name: "Frontend", Namespace: "dynamo", Workers: 1, DependsOn: []string{"Middle"}, Command: []string{"python3", "-m", "hello_world.frontend"}},
			"Middle":   {Name: "Middle", Namespace: "dynamo", Workers: 2, DependsOn: []string{"Backend"}, Command: []string{"python3", "-m", "hello_world.middle"}},
			"Backend":  {Name: "Backend", Namespace: "dynamo", Workers: 1, Command: []string{"python3", "-m", "hello_world.backend"}},
		},
	}
}

func TestDryRun(t *testing.T) {
	cfg := graph.Config{
		"Frontend": {"model": "qwentastic"},
		"Middle":   {"bias": 0.5},
	}

	var buf bytes.Buffer
	if err := DryRun(&buf, cfg); err != nil {
		t.Fatalf("DryRun: %v", err)
	}

	want := `Service Configuration:
{
  "Frontend": {
    "model": "qwentastic"
  },
  "Middle": {
    "bias": 0.5
  }
}

Environment Variable that would be set:
DYNAMO_SERVICE_CONFIG={"Frontend":{"model":"qwentastic"},"Middle":{"bias":0.5}}
`
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestDryRunEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := DryRun(&buf, nil); err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "DYNAMO_SERVICE_CONFIG={}\n") {
		t.Fatalf("output = %q", buf.String())
	}
}

// Records starts and stops of fake services.
type recorder struct {
	mu      sync.Mutex
	started []runtime.RunOptions
	stopped []string
	procs   map[string]*fakeProcess
	failOn  string
}

func newRecorder() *recorder {
	return &recorder{procs: map[string]*fakeProcess{}}
}

func (r *recorder) start(ctx context.Context, opts runtime.RunOptions) (process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := serviceName(opts)
	if name == r.failOn {
		return nil, errors.New("image not found")
	}

	r.started = append(r.started, opts)
	p := &fakeProcess{name: name, exit: make(chan int, 1), rec: r}
	r.procs[name] = p
	return p, nil
}

func (r *recorder) process(name string) *fakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.procs[name]
}

func (r *recorder) stops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stopped...)
}

func serviceName(opts runtime.RunOptions) string {
	for _, e := range opts.Env {
		if v, ok := strings.CutPrefix(e, EnvServiceName+"="); ok {
			return v
		}
	}
	return ""
}

type fakeProcess struct {
	name string
	exit chan int
	rec  *recorder
}

func (p *fakeProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case code := <-p.exit:
		return code, nil
	}
}

func (p *fakeProcess) Stop(ctx context.Context, timeout time.Duration) error {
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	p.rec.stopped = append(p.rec.stopped, p.name)
	return nil
}

// Runs serve in the background and waits until every service started.
func startServe(t *testing.T, ctx context.Context, rec *recorder) <-chan error {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, Options{Graph: helloWorld(), Image: "base:1"}, rec.start)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for rec.process("Frontend") == nil {
		if time.Now().After(deadline) {
			t.Fatal("services did not start")
		}
		time.Sleep(time.Millisecond)
	}
	return done
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
		return nil
	}
}

func TestServeStopsOnFailure(t *testing.T) {
	rec := newRecorder()
	done := startServe(t, context.Background(), rec)

	rec.process("Backend").exit <- 1

	err := waitResult(t, done)
	if !errors.Is(err, ErrServiceFailed) {
		t.Fatalf("err = %v, want ErrServiceFailed", err)
	}
	if diff := cmp.Diff([]string{"Frontend", "Middle", "Backend"}, rec.stops()); diff != "" {
		t.Fatalf("stop order mismatch (-want +got):\n%s", diff)
	}
}

func TestServeCancel(t *testing.T) {
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	done := startServe(t, ctx, rec)

	cancel()

	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"Frontend", "Middle", "Backend"}, rec.stops()); diff != "" {
		t.Fatalf("stop order mismatch (-want +got):\n%s", diff)
	}
}

func TestServeCleanExit(t *testing.T) {
	rec := newRecorder()
	done := startServe(t, context.Background(), rec)

	for _, name := range []string{"Frontend", "Middle", "Backend"} {
		rec.process(name).exit <- 0
	}

	if err := waitResult(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(rec.stops()); got != 3 {
		t.Fatalf("stopped %d services, want 3", got)
	}
}

func TestServeStartFailure(t *testing.T) {
	rec := newRecorder()
	rec.failOn = "Middle"

	err := serve(context.Background(), Options{Graph: helloWorld(), Image: "base:1"}, rec.start)
	if !errors.Is(err, ErrServe) {
		t.Fatalf("err = %v, want ErrServe", err)
	}
	if diff := cmp.Diff([]string{"Backend"}, rec.stops()); diff != "" {
		t.Fatalf("stopped mismatch (-want +got):\n%s", diff)
	}
}

func TestServeNoCommand(t *testing.T) {
	g := helloWorld()
	g.Services["Middle"].Command = nil

	rec := newRecorder()
	err := serve(context.Background(), Options{Graph: g, Image: "base:1"}, rec.start)
	if !errors.Is(err, ErrNoCommand) {
		t.Fatalf("err = %v, want ErrNoCommand", err)
	}
	if len(rec.started) != 0 {
		t.Fatalf("started %d services", len(rec.started))
	}
}

func TestRunOptions(t *testing.T) {
	g := helloWorld()
	getenv := func(k string) string {
		if k == "NATS_SERVER" {
			return "nats://localhost:4222"
		}
		return ""
	}

	got := runOptions(Options{Graph: g, Image: "base:1", Getenv: getenv}, g.Services["Middle"], "0a1b2c3d", `{"Middle":{"bias":0.5}}`)

	want := runtime.RunOptions{
		ID:    "dynamo-serve-0a1b2c3d-middle",
		Image: "base:1",
		Args:  []string{"python3", "-m", "hello_world.middle"},
		Env: []string{
			"DYN_NAMESPACE=dynamo",
			"DYNAMO_SERVICE_NAME=Middle",
			"DYNAMO_WORKERS=2",
			`DYNAMO_SERVICE_CONFIG={"Middle":{"bias":0.5}}`,
			"NATS_SERVER=nats://localhost:4222",
		},
		Cwd:    "/src",
		Mounts: []runtime.Mount{{Source: "/work/examples", Target: "/src"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("RunOptions mismatch (-want +got):\n%s", diff)
	}
}

func TestPrefixWriter(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex

	a := newPrefixWriter(&buf, &mu, "Frontend")
	b := newPrefixWriter(&buf, &mu, "Middle")

	a.Write([]byte("listen"))
	b.Write([]byte("ready\nserving\n"))
	a.Write([]byte("ing on :8000\n"))
	b.Write([]byte("tail"))
	b.Flush()
	a.Flush()

	want := "[Middle] ready\n[Middle] serving\n[Frontend] listening on :8000\n[Middle] tail\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestImageSource(t *testing.T) {
	tests := []struct {
		ref     string
		want    manifest.Source
		wantErr error
	}{
		{
			ref:  "frontend-hello-world:latest",
			want: manifest.Source{Kind: manifest.SourceRegistry, Value: "docker.io/library/frontend-hello-world:latest"},
		},
		{
			ref:  "my-registry/dynamo-base-docker:hello-world",
			want: manifest.Source{Kind: manifest.SourceRegistry, Value: "docker.io/my-registry/dynamo-base-docker:hello-world"},
		},
		{
			ref:  "nvcr.io/nvidia/dynamo:0.1",
			want: manifest.Source{Kind: manifest.SourceRegistry, Value: "nvcr.io/nvidia/dynamo:0.1"},
		},
		{
			ref:  "oci-archive:/images/frontend.tar",
			want: manifest.Source{Kind: manifest.SourceArchive, Value: "/images/frontend.tar"},
		},
		{
			ref:     "frontend:bad tag",
			wantErr: image.ErrInvalidReference,
		},
		{
			ref:     "",
			wantErr: manifest.ErrMissingFrom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := imageSource(tt.ref)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("imageSource mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
