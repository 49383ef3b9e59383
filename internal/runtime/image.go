package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/images/archive"
	"github.com/containerd/containerd/v2/core/remotes"
	"github.com/containerd/platforms"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal/paths"
	"github.com/ai-dynamo/dynamo-cli/internal/timing"
)

// Stores committed manifests under a tag and unpacks them.
//
// A single manifest becomes the image target directly. Several manifests,
// one per platform, are collected into a new OCI image index. Existing
// records with the same tag are replaced. The caller's lease can be released
// once this returns.
func (rt *Runtime) CreateImage(ctx context.Context, tag string, manifests []ocispec.Descriptor) error {
	if len(manifests) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyIndex, tag)
	}

	target, err := rt.imageTarget(ctx, tag, manifests)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := rt.tagImage(ctx, images.Image{Name: tag, Target: target}); err != nil {
		return fmt.Errorf("%w: tagging %s: %w", ErrRuntime, tag, err)
	}

	for _, m := range manifests {
		if m.Platform == nil {
			continue
		}
		platform := platforms.Format(*m.Platform)
		if err := rt.unpackImage(ctx, tag, platform); err != nil {
			return fmt.Errorf("%w: unpacking %s for %s: %w", ErrRuntime, tag, platform, err)
		}
	}

	logrus.WithFields(logrus.Fields{"tag": tag, "digest": target.Digest.String()}).Debug("image created")
	return nil
}

// Returns the target descriptor for a set of manifests, writing an index
// when there is more than one.
func (rt *Runtime) imageTarget(ctx context.Context, tag string, manifests []ocispec.Descriptor) (ocispec.Descriptor, error) {
	if len(manifests) == 1 {
		target := manifests[0]
		target.Platform = nil
		return target, nil
	}

	idx := ocispec.Index{
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: manifests,
	}
	idx.SchemaVersion = 2

	return writeJSON(ctx, rt.client.ContentStore(), ocispec.MediaTypeImageIndex, idx, shortHash(tag)+"-index", content.WithLabels(indexGCLabels(idx)))
}

// Writes a tagged image to an OCI tar archive at path.
//
// Every platform of the image is included. The archive carries both the OCI
// layout and a Docker manifest, so it can be loaded with "docker load".
func (rt *Runtime) ExportImage(ctx context.Context, tag, path string) error {
	defer timing.Track("export", logrus.Fields{"tag": tag, "path": path})()

	if err := os.MkdirAll(filepath.Dir(path), paths.DefaultDirMode); err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	defer f.Close()

	err = rt.client.Export(ctx, f,
		archive.WithImage(rt.client.ImageService(), tag),
		archive.WithAllPlatforms(),
	)
	if err != nil {
		return fmt.Errorf("%w: exporting %s: %w", ErrRuntime, tag, err)
	}

	logrus.WithField("path", path).Info("image exported")
	return nil
}

// Pushes a tagged image and every platform it holds to its registry.
func (rt *Runtime) Push(ctx context.Context, tag string, resolver remotes.Resolver) error {
	defer timing.Track("push", logrus.Fields{"tag": tag})()

	img, err := rt.client.ImageService().Get(ctx, tag)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrImageNotFound, tag, err)
	}

	var opts []containerd.RemoteOpt
	if resolver != nil {
		opts = append(opts, containerd.WithResolver(resolver))
	}

	logrus.WithField("tag", tag).Info("pushing image")

	if err := rt.client.Push(ctx, tag, img.Target, opts...); err != nil {
		return fmt.Errorf("%w: pushing %s: %w", ErrRuntime, tag, err)
	}
	return nil
}
