package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/containerd/containerd/v2/core/containers"
	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/pkg/rootfs"
	"github.com/containerd/platforms"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal/manifest"
)

// History entry recorded for committed layers.
const commitCreatedBy = "dynamo build"

// Commits the container's filesystem changes as a new image manifest.
//
// The diff between the container's snapshot and its parent is stored as a
// new layer on top of the base image's layers, and the image configuration
// from img is applied to the base image's config. The new manifest and
// config are written to the content store; no image record is created or
// modified, see [Runtime.CreateImage]. The returned descriptor carries the
// manifest's platform.
//
// The caller must hold a lease (see [Runtime.WithLease]) until the manifest
// is referenced by an image record, otherwise the blobs may be collected.
func (c *Container) Commit(ctx context.Context, img manifest.Image) (ocispec.Descriptor, error) {
	loaded, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	info, err := loaded.Info(ctx)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	layer, diffID, err := c.snapshotDiff(ctx, info)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: diffing %s: %w", ErrRuntime, c.id, err)
	}

	base, err := c.client.ImageService().Get(ctx, info.Image)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	target, err := c.resolveManifestDescriptor(ctx, base.Target, info.Image)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	desc, err := c.mutateManifest(ctx, target, func(m *ocispec.Manifest, config *ocispec.Image) {
		now := time.Now().UTC()

		m.Layers = append(m.Layers, layer)
		config.RootFS.DiffIDs = append(config.RootFS.DiffIDs, diffID)
		config.Created = &now
		config.History = append(config.History, ocispec.History{
			Created:   &now,
			CreatedBy: commitCreatedBy,
		})
		applyImageConfig(&config.Config, img)
	})
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	logrus.WithFields(logrus.Fields{
		"id":       c.id,
		"platform": c.platform,
		"digest":   desc.Digest.String(),
	}).Debug("container committed")

	return desc, nil
}

// Applies the output image settings to an image config.
//
// Setting an entrypoint also replaces the command, so a base image's command
// never ends up as arguments to a different entrypoint.
func applyImageConfig(cfg *ocispec.ImageConfig, img manifest.Image) {
	switch {
	case len(img.Entrypoint) > 0:
		cfg.Entrypoint = img.Entrypoint
		cfg.Cmd = img.Cmd
	case len(img.Cmd) > 0:
		cfg.Cmd = img.Cmd
	}

	if len(img.Env) > 0 {
		cfg.Env = mergeEnv(cfg.Env, envList(img.Env))
	}

	if img.Workdir != "" {
		cfg.WorkingDir = img.Workdir
	}

	if len(img.Labels) > 0 {
		if cfg.Labels == nil {
			cfg.Labels = make(map[string]string, len(img.Labels))
		}
		maps.Copy(cfg.Labels, img.Labels)
	}
}

// Converts an environment map to sorted "KEY=value" entries.
func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

// Computes the diff between the container's snapshot and its parent, returning
// the layer descriptor and its diff ID without modifying the image.
func (c *Container) snapshotDiff(ctx context.Context, info containers.Container) (ocispec.Descriptor, digest.Digest, error) {
	layer, err := rootfs.CreateDiff(ctx,
		info.SnapshotKey,
		c.client.SnapshotService(info.Snapshotter),
		c.client.DiffService(),
	)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	diffID, err := images.GetDiffID(ctx, c.client.ContentStore(), layer)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	return layer, diffID, nil
}

// Resolves the image root descriptor to a platform-specific manifest.
//
// If the root is an OCI Image Index, the index is read and walked to find
// the manifest matching the container's platform.
//
// Some registries (notably Docker Hub) serve index entries without explicit
// platform metadata. When a descriptor lacks a platform field, the manifest
// and its config are read to extract the platform from the image config, the
// same fallback that containerd's images.Manifest uses internally.
func (c *Container) resolveManifestDescriptor(ctx context.Context, root ocispec.Descriptor, imageName string) (ocispec.Descriptor, error) {
	if !images.IsIndexType(root.MediaType) {
		return root, nil
	}

	cs := c.client.ContentStore()

	var idx ocispec.Index
	if err := readJSON(ctx, cs, root, &idx); err != nil {
		return ocispec.Descriptor{}, err
	}

	if len(idx.Manifests) == 0 {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %s", ErrEmptyIndex, imageName)
	}

	p, err := platforms.Parse(c.platform)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	i, ok := matchManifest(ctx, cs, idx, platforms.OnlyStrict(p))
	if !ok {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %s has no %s manifest", ErrNoManifest, imageName, c.platform)
	}
	return idx.Manifests[i], nil
}

// Searches the index for a manifest matching the given platform.
//
// Descriptors with an explicit platform field are checked first. If none
// match, descriptors without a platform field are probed by reading the
// image config to discover the platform. Returns the index position and true
// when a match is found.
func matchManifest(ctx context.Context, cs content.Provider, idx ocispec.Index, matcher platforms.MatchComparer) (int, bool) {
	for i, m := range idx.Manifests {
		if m.Platform != nil && matcher.Match(*m.Platform) {
			return i, true
		}
	}
	for i, m := range idx.Manifests {
		if m.Platform != nil || !images.IsManifestType(m.MediaType) {
			continue
		}
		if p, ok := configPlatform(ctx, cs, m); ok && matcher.Match(p) {
			return i, true
		}
	}
	return 0, false
}

// Reads the image config referenced by a manifest descriptor and returns the
// platform declared in the config.
//
// Returns false when the config cannot be read.
func configPlatform(ctx context.Context, cs content.Provider, desc ocispec.Descriptor) (ocispec.Platform, bool) {
	var m ocispec.Manifest
	if err := readJSON(ctx, cs, desc, &m); err != nil {
		return ocispec.Platform{}, false
	}
	var config ocispec.Image
	if err := readJSON(ctx, cs, m.Config, &config); err != nil {
		return ocispec.Platform{}, false
	}
	return imagePlatform(config), true
}

// Returns the platform declared by an image config.
func imagePlatform(config ocispec.Image) ocispec.Platform {
	return ocispec.Platform{
		OS:           config.OS,
		Architecture: config.Architecture,
		Variant:      config.Variant,
	}
}

// Reads the manifest and config, applies the mutation, and writes the
// updated blobs back to the content store.
//
// The returned descriptor has its platform set from the mutated config.
func (c *Container) mutateManifest(ctx context.Context, target ocispec.Descriptor, mutate func(*ocispec.Manifest, *ocispec.Image)) (ocispec.Descriptor, error) {
	cs := c.client.ContentStore()

	var m ocispec.Manifest
	if err := readJSON(ctx, cs, target, &m); err != nil {
		return ocispec.Descriptor{}, err
	}

	var config ocispec.Image
	if err := readJSON(ctx, cs, m.Config, &config); err != nil {
		return ocispec.Descriptor{}, err
	}

	mutate(&m, &config)

	configDesc, err := writeJSON(ctx, cs, m.Config.MediaType, config, c.id+"-config")
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	m.Config = configDesc

	desc, err := writeJSON(ctx, cs, target.MediaType, m, c.id+"-manifest", content.WithLabels(manifestGCLabels(m)))
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	p := imagePlatform(config)
	desc.Platform = &p
	return desc, nil
}

// Loads a JSON blob from the content store into v.
func readJSON(ctx context.Context, cs content.Provider, desc ocispec.Descriptor, v any) error {
	b, err := content.ReadBlob(ctx, cs, desc)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Serializes a value and writes it to the content store, returning the
// descriptor that references the stored blob.
func writeJSON(ctx context.Context, cs content.Ingester, mediaType string, v any, ref string, opts ...content.Opt) (ocispec.Descriptor, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(b),
		Size:      int64(len(b)),
	}
	if err := content.WriteBlob(ctx, cs, ref, bytes.NewReader(b), desc, opts...); err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

// Computes containerd GC reference labels for a manifest's children.
//
// These labels allow containerd's garbage collector to trace reachability
// from the manifest blob to its config and layer blobs.
func manifestGCLabels(m ocispec.Manifest) map[string]string {
	labels := map[string]string{
		"containerd.io/gc.ref.content.config": m.Config.Digest.String(),
	}
	for i, layer := range m.Layers {
		key := fmt.Sprintf("containerd.io/gc.ref.content.l.%d", i)
		labels[key] = layer.Digest.String()
	}
	return labels
}

// Computes containerd GC reference labels for an index's children.
func indexGCLabels(idx ocispec.Index) map[string]string {
	labels := make(map[string]string, len(idx.Manifests))
	for i, m := range idx.Manifests {
		key := fmt.Sprintf("containerd.io/gc.ref.content.m.%d", i)
		labels[key] = m.Digest.String()
	}
	return labels
}
