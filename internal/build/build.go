package build

import (
	"context"
	"fmt"
	"io"
	"os"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal/manifest"
	"github.com/ai-dynamo/dynamo-cli/internal/paths"
	"github.com/ai-dynamo/dynamo-cli/internal/runtime"
	"github.com/ai-dynamo/dynamo-cli/internal/timing"
)

// Filename of the OCI archive written to the output directory.
const ArchiveName = "image.tar"

// Controls recipe execution.
type Options struct {
	Recipe    *manifest.Recipe    // Recipe to execute.
	Image     manifest.Image      // Configuration and tag of the output image.
	Resource  string              // Resource name, used as a prefix for container IDs.
	Output    string              // Directory for the exported image. No archive is written when empty.
	Root      string              // Project root, for resolving copy sources.
	Platforms []string            // Target platforms (e.g., ["linux/amd64"]). Defaults to host.
	Pull      runtime.PullOptions // How stage base images are obtained.
	Log       io.Writer           // Receives step output. Discarded when nil.
}

// Returned after successful recipe execution.
type Result struct {
	Tag       string               // Tag the output image is stored under.
	Manifests []ocispec.Descriptor // One manifest per platform.
	Archives  []string             // Exported OCI archives, when an output directory was given.
}

// Executes a recipe against the container runtime.
//
// Stages are built in declaration order for each platform. Each stage starts
// a container from its base image and executes the stage's steps. The
// non-transient stage is committed, and the manifests of all platforms are
// stored under Options.Image.Tag. When an output directory is set the image
// is also exported as an OCI archive.
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

	logrus.WithFields(logrus.Fields{
		"resource":  opts.Resource,
		"tag":       opts.Image.Tag,
		"stages":    len(opts.Recipe.Stages),
		"platforms": opts.Platforms,
	}).Info("executing recipe")

	defer timing.Track("build", logrus.Fields{"tag": opts.Image.Tag})()

	if opts.Output != "" {
		if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
		}
	}

	// Committed blobs are unreferenced until the image record exists.
	ctx, done, err := rt.WithLease(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}
	defer done(context.WithoutCancel(ctx))

	return newRecipe(rt, opts).build(ctx, opts.Recipe.Stages)
}
