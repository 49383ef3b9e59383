package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	goruntime "runtime"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/remotes"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal/manifest"
	"github.com/ai-dynamo/dynamo-cli/internal/timing"
)

const (

	// Snapshotter used when none is configured. Matches the default of
	// Docker Engine's containerd image store.
	defaultSnapshotter = "overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"
)

// Manages the containerd client and provides image and container operations.
type Runtime struct {
	client      *containerd.Client // Containerd client for managing containers and images.
	snapshotter string             // Snapshotter for container filesystems and unpacked images.
}

// Configures a [Runtime].
type Option func(*Runtime)

// Sets the snapshotter used for containers and image unpacking.
func WithSnapshotter(name string) Option {
	return func(rt *Runtime) {
		if name != "" {
			rt.snapshotter = name
		}
	}
}

// Controls how base images are obtained.
type PullOptions struct {
	Resolver remotes.Resolver // Registry resolver. Uses containerd's default when nil.
	Always   bool             // Pull even when the image is already present.
}

// Creates a runtime connected to the containerd socket at the given address.
//
// The namespace scopes all containerd operations to a single tenant. The
// runtime must be closed when no longer needed.
func New(address, namespace string, opts ...Option) (*Runtime, error) {
	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %w", ErrRuntime, address, err)
	}

	rt := &Runtime{client: client, snapshotter: defaultSnapshotter}
	for _, opt := range opts {
		opt(rt)
	}
	return rt, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Returns a context holding a containerd lease, and a function releasing it.
//
// Content written under the lease is protected from garbage collection until
// it is referenced by an image record or the lease is released.
func (rt *Runtime) WithLease(ctx context.Context) (context.Context, func(context.Context) error, error) {
	ctx, done, err := rt.client.WithLease(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return ctx, done, nil
}

// Makes a stage base image available for the target platform and returns
// the name of its image record.
//
// Registry images already present in the image store are reused unless
// opts.Always is set; otherwise they are pulled. OCI archives are imported
// under a name derived from their path. Either way the layers for the
// platform are unpacked into the snapshotter.
func (rt *Runtime) EnsureImage(ctx context.Context, src manifest.Source, platform string, opts PullOptions) (string, error) {
	if src.Kind == manifest.SourceArchive {
		tag := archiveTag(src.Value)
		if err := rt.importArchive(ctx, src.Value, tag); err != nil {
			return "", fmt.Errorf("%w: importing %s: %w", ErrRuntime, src.Value, err)
		}
		if err := rt.unpackImage(ctx, tag, platform); err != nil {
			return "", fmt.Errorf("%w: %w", ErrRuntime, err)
		}
		return tag, nil
	}

	name := src.Value
	if !opts.Always {
		if _, err := rt.client.ImageService().Get(ctx, name); err == nil {
			if err := rt.unpackImage(ctx, name, platform); err == nil {
				logrus.WithFields(logrus.Fields{"image": name, "platform": platform}).Debug("using local image")
				return name, nil
			}
		}
	}

	if err := rt.Pull(ctx, name, platform, opts.Resolver); err != nil {
		return "", err
	}
	return name, nil
}

// Pulls an image for the given platform and unpacks it.
func (rt *Runtime) Pull(ctx context.Context, ref, platform string, resolver remotes.Resolver) error {
	defer timing.Track("pull", logrus.Fields{"image": ref, "platform": platform})()

	p, err := platforms.Parse(platform)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	opts := []containerd.RemoteOpt{
		containerd.WithPlatformMatcher(platforms.Only(p)),
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(rt.snapshotter),
	}
	if resolver != nil {
		opts = append(opts, containerd.WithResolver(resolver))
	}

	logrus.WithFields(logrus.Fields{"image": ref, "platform": platform}).Info("pulling image")

	if _, err := rt.client.Pull(ctx, ref, opts...); err != nil {
		return fmt.Errorf("%w: pulling %s: %w", ErrRuntime, ref, err)
	}
	return nil
}

// Imports an OCI archive and stores it under the given tag, then unpacks it
// for the host platform.
func (rt *Runtime) ImportImage(ctx context.Context, path, tag string) error {
	if err := rt.importArchive(ctx, path, tag); err != nil {
		return fmt.Errorf("%w: importing %s: %w", ErrRuntime, path, err)
	}

	if err := rt.unpackImage(ctx, tag, DefaultPlatform()); err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	logrus.WithField("tag", tag).Debug("image imported")
	return nil
}

// Imports an OCI archive into the content store and names its index.
//
// Reference annotations inside the archive are ignored so the import never
// overwrites unrelated image records; the archive's index is stored under
// tag. Per-platform selection happens later, through the index.
func (rt *Runtime) importArchive(ctx context.Context, path, tag string) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	imported, err := rt.client.Import(ctx, fh,
		containerd.WithIndexName(tag),
		containerd.WithImageRefTranslator(func(string) string { return "" }),
	)
	if err != nil {
		return err
	}

	for _, img := range imported {
		if img.Name == tag {
			return nil
		}
	}
	return ErrEmptyArchive
}

// Creates or updates an image record.
func (rt *Runtime) tagImage(ctx context.Context, img images.Image) error {
	is := rt.client.ImageService()

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target", "labels"); err != nil {
			return err
		}
	}
	return nil
}

// Unpacks the image layers for the target platform into the snapshotter.
func (rt *Runtime) unpackImage(ctx context.Context, tag, platform string) error {
	image, err := rt.resolveImage(ctx, tag, platform)
	if err != nil {
		return err
	}

	return image.Unpack(ctx, rt.snapshotter)
}

// Looks up a tagged image and selects the manifest for the given platform.
//
// Multi-platform images contain manifests for multiple architectures. This
// method selects one, so that subsequent operations target the correct
// architecture.
func (rt *Runtime) resolveImage(ctx context.Context, tag, platform string) (containerd.Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, err
	}

	img, err := rt.client.ImageService().Get(ctx, tag)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, tag)
		}
		return nil, err
	}

	return containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p)), nil
}

// Reports whether an image record exists.
func (rt *Runtime) HasImage(ctx context.Context, tag string) (bool, error) {
	if _, err := rt.client.ImageService().Get(ctx, tag); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return true, nil
}

// Starts a build container from an available image.
//
// Any stale container with the same ID is removed first. The container runs
// a long-running task (sleep infinity) so that Exec calls have a running
// process to attach to. Building for a platform other than the host requires
// QEMU / binfmt_misc support in the kernel.
func (rt *Runtime) StartContainer(ctx context.Context, tag, id, platform string) (*Container, error) {
	c := &Container{
		client:      rt.client,
		id:          id,
		platform:    platform,
		snapshotter: rt.snapshotter,
	}

	c.remove(ctx)

	image, err := rt.resolveImage(ctx, tag, platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	ctr, err := c.create(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("%w: creating container %s: %w", ErrRuntime, id, err)
	}

	if err := c.startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: starting container %s: %w", ErrRuntime, id, err)
	}

	logrus.WithFields(logrus.Fields{"id": id, "image": tag, "platform": platform}).Debug("container started")
	return c, nil
}

// Removes an image and all containers created from it.
//
// Containers are discovered by querying containerd for records whose image
// field matches the tag. Each container's task is killed before the container
// and its snapshot are deleted.
func (rt *Runtime) DestroyImage(ctx context.Context, tag string) error {
	ctrs, err := rt.client.Containers(ctx, fmt.Sprintf("image==%s", tag))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	for _, ctr := range ctrs {
		if task, taskErr := ctr.Task(ctx, nil); taskErr == nil {
			task.Kill(ctx, syscall.SIGKILL)
			task.Delete(ctx, containerd.WithProcessKill)
		}
		if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %w", ErrRuntime, err)
		}
	}

	if err := rt.client.ImageService().Delete(ctx, tag); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	logrus.WithField("tag", tag).Debug("image destroyed")
	return nil
}

// Returns the name under which an OCI archive is imported.
//
// The path is hashed so the name is a valid reference whatever characters
// the path contains.
func archiveTag(path string) string {
	return "import/" + shortHash(path) + ":latest"
}

// Returns the hex SHA-256 of s.
func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// Returns the default OCI platform for the host architecture.
func DefaultPlatform() string {
	return "linux/" + goruntime.GOARCH
}
