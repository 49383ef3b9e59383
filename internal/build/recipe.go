package build

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal/image"
	"github.com/ai-dynamo/dynamo-cli/internal/manifest"
	"github.com/ai-dynamo/dynamo-cli/internal/runtime"
)

// Holds shared state for building all stages of a recipe.
type recipe struct {
	rt         *runtime.Runtime     // Container runtime for image and container operations.
	opts       Options              // Options the build was started with.
	containers []*runtime.Container // All stage containers across all platforms, destroyed after the build completes.
}

// Creates a new [recipe] from the given options.
func newRecipe(rt *runtime.Runtime, opts Options) *recipe {
	return &recipe{rt: rt, opts: opts}
}

// Builds the recipe end-to-end against the container runtime.
//
// Each target platform is built independently and yields one manifest. The
// manifests are then stored under the output tag and, when requested,
// exported. All stage containers are destroyed when the build completes.
func (r *recipe) build(ctx context.Context, recipeStages []manifest.Stage) (*Result, error) {
	defer r.destroyContainers(context.WithoutCancel(ctx))

	result := &Result{Tag: r.opts.Image.Tag}

	for _, platform := range r.opts.Platforms {
		desc, err := r.buildPlatform(ctx, recipeStages, platform)
		if err != nil {
			return nil, err
		}
		result.Manifests = append(result.Manifests, desc)
	}

	if err := r.rt.CreateImage(ctx, r.opts.Image.Tag, result.Manifests); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	if r.opts.Output != "" {
		archives, err := r.export(ctx, result.Manifests)
		if err != nil {
			return nil, err
		}
		result.Archives = archives
	}

	return result, nil
}

// Exports the output image into the output directory.
//
// A single-platform build is written to {output}/image.tar. A multi-platform
// build additionally gets one archive per platform subdirectory (e.g.,
// {output}/linux-amd64/image.tar) holding that platform's manifest only.
func (r *recipe) export(ctx context.Context, manifests []ocispec.Descriptor) ([]string, error) {
	tag := r.opts.Image.Tag
	path := filepath.Join(r.opts.Output, ArchiveName)

	if err := r.rt.ExportImage(ctx, tag, path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}
	archives := []string{path}

	if len(r.opts.Platforms) == 1 {
		return archives, nil
	}

	for i, platform := range r.opts.Platforms {
		ptag := platformTag(tag, platform)
		if err := r.rt.CreateImage(ctx, ptag, manifests[i:i+1]); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBuild, err)
		}

		path := filepath.Join(r.platformOutput(platform), ArchiveName)
		err := r.rt.ExportImage(ctx, ptag, path)
		r.rt.DestroyImage(context.WithoutCancel(ctx), ptag)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBuild, err)
		}
		archives = append(archives, path)
	}

	return archives, nil
}

// Builds all stages of the recipe for a single platform and returns the
// committed manifest of the non-transient stage.
//
// Each platform maintains its own set of named stage containers for
// cross-stage copy lookups.
func (r *recipe) buildPlatform(ctx context.Context, recipeStages []manifest.Stage, platform string) (ocispec.Descriptor, error) {
	logrus.WithField("platform", platform).Info("building platform")

	stages := make(map[string]*runtime.Container)
	var output ocispec.Descriptor

	for i, stage := range recipeStages {
		desc, err := r.buildStage(ctx, stage, i, platform, stages)
		if err != nil {
			return ocispec.Descriptor{}, fmt.Errorf("%w: platform %s, stage %s: %w", ErrBuild, platform, stageLabel(stage.Name, i), err)
		}
		if !stage.Transient {
			output = desc
		}
	}

	return output, nil
}

// Builds a single stage of a recipe for a specific platform.
//
// Resolves the stage's base image, starts a build container, and executes
// the stage's steps. The non-transient stage is stopped and committed.
func (r *recipe) buildStage(ctx context.Context, stage manifest.Stage, index int, platform string, stages map[string]*runtime.Container) (ocispec.Descriptor, error) {
	label := stageLabel(stage.Name, index)
	logrus.WithField("platform", platform).Infof("building stage %s", label)

	src, err := stage.ParseFrom()
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if src.Kind == manifest.SourceRegistry {
		if src.Value, err = image.Normalize(src.Value); err != nil {
			return ocispec.Descriptor{}, err
		}
	}

	base, err := r.rt.EnsureImage(ctx, src, platform, r.opts.Pull)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	id := r.containerID(stage.Name, index, platform)
	ctr, err := r.rt.StartContainer(ctx, base, id, platform)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	r.containers = append(r.containers, ctr)
	if stage.Name != "" {
		stages[stage.Name] = ctr
	}

	ex := &executor{
		ctr:      ctr,
		buildCtx: r.opts.Root,
		stages:   stages,
		log:      r.opts.Log,
	}
	if err := ex.steps(ctx, stage.Steps, manifest.NewState()); err != nil {
		return ocispec.Descriptor{}, err
	}

	if stage.Transient {
		return ocispec.Descriptor{}, nil
	}

	if err := ctr.Stop(ctx); err != nil {
		return ocispec.Descriptor{}, err
	}

	return ctr.Commit(ctx, r.opts.Image)
}

// Destroys all stage containers.
func (r *recipe) destroyContainers(ctx context.Context) {
	for _, ctr := range r.containers {
		ctr.Destroy(ctx)
	}
}

// Returns a unique container ID for a stage, scoped to this resource and platform.
func (r *recipe) containerID(name string, index int, platform string) string {
	slug := platformSlug(platform)
	if name != "" {
		return fmt.Sprintf("%s-%s-stage-%s", r.opts.Resource, slug, name)
	}
	return fmt.Sprintf("%s-%s-stage-%d", r.opts.Resource, slug, index+1)
}

// Returns the output directory for a specific platform.
func (r *recipe) platformOutput(platform string) string {
	return filepath.Join(r.opts.Output, platformSlug(platform))
}

// Returns the temporary tag a single platform of an image is exported under.
func platformTag(tag, platform string) string {
	return tag + "-" + platformSlug(platform)
}

// Converts a platform string to a filesystem-safe slug.
//
// Replaces slashes with dashes (e.g., "linux/amd64" becomes "linux-amd64").
func platformSlug(platform string) string {
	return strings.ReplaceAll(platform, "/", "-")
}

// Returns a label for a stage, preferring the name when available and falling
// back to the 1-based index.
func stageLabel(name string, index int) string {
	if name != "" {
		return fmt.Sprintf("%q", name)
	}
	return fmt.Sprintf("%d", index+1)
}
