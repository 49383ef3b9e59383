package daggerbuild

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"dagger.io/dagger"
	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal/image"
	"github.com/ai-dynamo/dynamo-cli/internal/manifest"
	"github.com/ai-dynamo/dynamo-cli/internal/paths"
	"github.com/ai-dynamo/dynamo-cli/internal/runtime"
	"github.com/ai-dynamo/dynamo-cli/internal/timing"
)

// Filename of the OCI archive written to the output directory.
const ArchiveName = "image.tar"

// Controls recipe execution on a Dagger engine.
type Options struct {
	Recipe      *manifest.Recipe  // Recipe to execute.
	Image       manifest.Image    // Configuration and tag of the output image.
	Root        string            // Project root, for resolving copy sources.
	Output      string            // Directory for the exported archive. A cache directory is used when empty.
	Platforms   []string          // Target platforms. Defaults to host.
	Publish     bool              // Push the image to its registry from the engine.
	Credentials image.Credentials // Registry credentials for base images and publishing. Anonymous when nil.
	Log         io.Writer         // Receives engine progress output. Discarded when nil.
}

// Returned after successful recipe execution.
type Result struct {
	Tag       string // Tag the image was imported under.
	Archive   string // Exported OCI archive.
	Published string // Reference with digest, when the image was published.
}

// Executes a recipe on a Dagger engine.
//
// The engine is started or reached through the Dagger SDK. When rt is
// non-nil the exported archive is imported into containerd under the image
// tag.
func Run(ctx context.Context, rt *runtime.Runtime, opts Options) (*Result, error) {
	if opts.Recipe == nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, manifest.ErrInvalidRecipe)
	}
	if err := opts.Recipe.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}
	if opts.Image.Tag == "" {
		return nil, fmt.Errorf("%w: output image has no tag", ErrBuild)
	}
	if len(opts.Platforms) == 0 {
		opts.Platforms = []string{runtime.DefaultPlatform()}
	}
	if opts.Log == nil {
		opts.Log = io.Discard
	}
	if opts.Output == "" {
		opts.Output = filepath.Join(paths.Cache(), "dagger")
	}

	defer timing.Track("dagger build", logrus.Fields{"tag": opts.Image.Tag})()

	client, err := dagger.Connect(ctx, dagger.WithLogOutput(opts.Log))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer client.Close()

	b := &builder{client: client, opts: opts}

	variants := make([]*dagger.Container, 0, len(opts.Platforms))
	for _, platform := range opts.Platforms {
		ctr, err := b.buildPlatform(ctx, platform)
		if err != nil {
			return nil, err
		}
		variants = append(variants, ctr)
	}

	if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	archive := filepath.Join(opts.Output, ArchiveName)
	if _, err := variants[0].Export(ctx, archive, dagger.ContainerExportOpts{
		PlatformVariants: variants[1:],
	}); err != nil {
		return nil, fmt.Errorf("%w: exporting: %w", ErrBuild, err)
	}

	logrus.WithField("path", archive).Info("image exported")

	result := &Result{Tag: opts.Image.Tag, Archive: archive}

	if rt != nil {
		if err := rt.ImportImage(ctx, archive, opts.Image.Tag); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBuild, err)
		}
	}

	if opts.Publish {
		publisher, err := b.withRegistryAuth(ctx, variants[0], opts.Image.Tag)
		if err != nil {
			return nil, err
		}
		ref, err := publisher.Publish(ctx, opts.Image.Tag, dagger.ContainerPublishOpts{
			PlatformVariants: variants[1:],
		})
		if err != nil {
			return nil, fmt.Errorf("%w: publishing %s: %w", ErrBuild, opts.Image.Tag, err)
		}
		logrus.WithField("ref", ref).Info("image published")
		result.Published = ref
	}

	return result, nil
}

// Builds recipe stages as Dagger containers.
type builder struct {
	client *dagger.Client
	opts   Options
}

// Builds every stage for one platform and returns the configured output
// container.
func (b *builder) buildPlatform(ctx context.Context, platform string) (*dagger.Container, error) {
	logrus.WithField("platform", platform).Info("building platform")

	stages := make(map[string]*dagger.Container)
	var output *dagger.Container

	for i, stage := range b.opts.Recipe.Stages {
		ctr, err := b.buildStage(ctx, stage, platform, stages)
		if err != nil {
			return nil, fmt.Errorf("%w: platform %s, stage %d: %w", ErrBuild, platform, i+1, err)
		}
		if stage.Name != "" {
			stages[stage.Name] = ctr
		}
		if !stage.Transient {
			output = ctr
		}
	}

	return configure(output, b.opts.Image), nil
}

// Builds a single stage for a platform.
func (b *builder) buildStage(ctx context.Context, stage manifest.Stage, platform string, stages map[string]*dagger.Container) (*dagger.Container, error) {
	src, err := stage.ParseFrom()
	if err != nil {
		return nil, err
	}

	ctr := b.client.Container(dagger.ContainerOpts{Platform: dagger.Platform(platform)})

	switch src.Kind {
	case manifest.SourceArchive:
		ctr = ctr.Import(b.client.Host().File(src.Value))
	default:
		ref, err := image.Normalize(src.Value)
		if err != nil {
			return nil, err
		}
		if ctr, err = b.withRegistryAuth(ctx, ctr, ref); err != nil {
			return nil, err
		}
		ctr = ctr.From(ref)
	}

	ex := &executor{client: b.client, ctr: ctr, buildCtx: b.opts.Root, stages: stages}
	if err := ex.steps(stage.Steps, manifest.NewState()); err != nil {
		return nil, err
	}

	// Evaluate the stage so failures surface with the stage that caused them.
	if _, err := ex.ctr.Sync(ctx); err != nil {
		return nil, err
	}
	return ex.ctr, nil
}

// Adds registry credentials for the host of ref, when any are configured.
func (b *builder) withRegistryAuth(ctx context.Context, ctr *dagger.Container, ref string) (*dagger.Container, error) {
	if b.opts.Credentials == nil {
		return ctr, nil
	}

	host := image.Domain(ref)
	user, secret, err := b.opts.Credentials.Lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	if user == "" && secret == "" {
		return ctr, nil
	}

	return ctr.WithRegistryAuth(host, user, b.client.SetSecret("registry-"+host, secret)), nil
}

// Applies the output image configuration to a container.
func configure(ctr *dagger.Container, img manifest.Image) *dagger.Container {
	switch {
	case len(img.Entrypoint) > 0:
		ctr = ctr.WithEntrypoint(img.Entrypoint)
		if len(img.Cmd) > 0 {
			ctr = ctr.WithDefaultArgs(img.Cmd)
		} else {
			ctr = ctr.WithoutDefaultArgs()
		}
	case len(img.Cmd) > 0:
		ctr = ctr.WithDefaultArgs(img.Cmd)
	}

	for _, k := range sortedKeys(img.Env) {
		ctr = ctr.WithEnvVariable(k, img.Env[k])
	}

	if img.Workdir != "" {
		ctr = ctr.WithWorkdir(img.Workdir)
	}

	for _, k := range sortedKeys(img.Labels) {
		ctr = ctr.WithLabel(k, img.Labels[k])
	}

	return ctr
}

// Returns the keys of m in sorted order, so the resulting container
// definition is deterministic.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
