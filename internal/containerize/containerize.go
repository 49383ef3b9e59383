package containerize

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal/build"
	"github.com/ai-dynamo/dynamo-cli/internal/bundle"
	"github.com/ai-dynamo/dynamo-cli/internal/daggerbuild"
	"github.com/ai-dynamo/dynamo-cli/internal/graph"
	"github.com/ai-dynamo/dynamo-cli/internal/image"
	"github.com/ai-dynamo/dynamo-cli/internal/objectstore"
	"github.com/ai-dynamo/dynamo-cli/internal/paths"
	"github.com/ai-dynamo/dynamo-cli/internal/runtime"
	"github.com/ai-dynamo/dynamo-cli/internal/settings"
)

// Controls a containerized build.
type Options struct {
	Graph     *graph.Graph        // Graph to containerize.
	Bundle    *bundle.Bundle      // Packaged graph the image is recorded on.
	Store     *bundle.Store       // Store holding the bundle.
	Config    graph.Config        // Resolved service configuration.
	BaseImage string              // Explicit base image, overrides DYNAMO_IMAGE.
	Version   string              // Image tag version, "latest" when empty.
	Engine    string              // Build engine, from settings when empty.
	Platforms []string            // Target platforms, from settings or the host when empty.
	Registry  string              // Registry prefix of the tag, from settings when empty.
	Pull      bool                // Pull the base image even when present locally.
	Push      bool                // Push the image after building.
	Output    string              // Directory to export OCI archives to.
	Upload    string              // Object store prefix to upload archives to.
	Settings  *settings.Settings  // Containerd, registry and AWS settings.
	Getenv    func(string) string // Environment lookup, os.Getenv when nil.
	Stdout    io.Writer           // Receives the image tag.
	Log       io.Writer           // Receives build output.

	ObjectStore objectstore.ObjectStore // Upload target, S3 from the environment when nil.
}

// Returned after a successful containerized build.
type Result struct {
	Tag       string   // Short tag, as Docker prints it (e.g., "frontend-hello-world:latest").
	Ref       string   // Fully qualified tag.
	BaseImage string   // Image the build started from.
	Archives  []string // Exported OCI archives.
	Uploads   []string // Uploaded object paths.
}

// Builds the container image for a packaged graph.
//
// The base image is the explicit one, DYNAMO_IMAGE, or the image the base
// image pipeline published for the CI registry and commit, in that order.
// A base image given as an object store path is downloaded first and built
// from as an OCI archive. The image is stored in containerd under its tag, optionally exported,
// pushed and uploaded, and recorded on the bundle. The short tag is written
// to Stdout.
func Containerize(ctx context.Context, opts Options) (*Result, error) {
	opts = withDefaults(opts)
	if opts.Engine != settings.EngineContainerd && opts.Engine != settings.EngineDagger {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, opts.Engine)
	}

	result, err := resolve(opts)
	if err != nil {
		return nil, err
	}

	configJSON, err := opts.Config.JSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContainerize, err)
	}

	var buildID string
	if opts.Bundle != nil {
		buildID = opts.Bundle.BuildID
	}

	s := opts.Settings
	stores := &storeOnce{store: opts.ObjectStore, region: s.AWS.Region}

	var from string
	if objectstore.IsObjectPath(result.BaseImage) {
		dir, err := scratchDir("base-")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(dir)

		if from, err = fetchBaseImage(ctx, stores, result.BaseImage, dir); err != nil {
			return nil, err
		}
	}

	recipe, img := Plan(opts.Graph, PlanOptions{
		BaseImage: result.BaseImage,
		From:      from,
		Tag:       result.Ref,
		BuildID:   buildID,
		Config:    configJSON,
	})

	logrus.WithFields(logrus.Fields{
		"graph":  opts.Graph.Ref.String(),
		"base":   result.BaseImage,
		"tag":    result.Ref,
		"engine": opts.Engine,
	}).Info("containerizing graph")

	output := opts.Output
	if output == "" && opts.Upload != "" {
		tmp, err := scratchDir("export-")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(tmp)
		output = tmp
	}

	creds := image.NewCredentials(image.StaticCredentials{
		Username: s.Registry.Username,
		Password: s.Registry.Password,
	}, s.AWS.Region)
	resolver := image.NewResolver(ctx, creds, s.Registry.Insecure)

	rt, err := runtime.New(s.Containerd.Address, s.Containerd.Namespace, runtime.WithSnapshotter(s.Containerd.Snapshotter))
	if err != nil {
		if opts.Engine != settings.EngineDagger {
			return nil, fmt.Errorf("%w: %w", ErrContainerize, err)
		}
		logrus.WithError(err).Warn("containerd unavailable, the image is only exported")
	} else {
		defer rt.Close()
	}

	switch opts.Engine {
	case settings.EngineContainerd:
		res, err := build.Run(ctx, rt, build.Options{
			Recipe:    recipe,
			Image:     img,
			Resource:  image.RepositoryName(opts.Graph.Ref),
			Output:    output,
			Root:      opts.Graph.Dir,
			Platforms: opts.Platforms,
			Pull:      runtime.PullOptions{Resolver: resolver, Always: opts.Pull},
			Log:       opts.Log,
		})
		if err != nil {
			return nil, err
		}
		result.Archives = res.Archives

		if opts.Push {
			if err := rt.Push(ctx, result.Ref, resolver); err != nil {
				return nil, err
			}
		}

	case settings.EngineDagger:
		res, err := daggerbuild.Run(ctx, rt, daggerbuild.Options{
			Recipe:      recipe,
			Image:       img,
			Root:        opts.Graph.Dir,
			Output:      output,
			Platforms:   opts.Platforms,
			Publish:     opts.Push,
			Credentials: creds,
			Log:         opts.Log,
		})
		if err != nil {
			return nil, err
		}
		if output != "" {
			result.Archives = []string{res.Archive}
		}
	}

	if opts.Upload != "" {
		store, err := stores.get(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpload, err)
		}
		if result.Uploads, err = upload(ctx, store, opts, output, result.Archives); err != nil {
			return nil, err
		}
	}

	// Archives in a scratch directory are gone once this returns.
	if opts.Output == "" {
		result.Archives = nil
	}

	if err := record(opts, result); err != nil {
		return nil, err
	}

	fmt.Fprintln(opts.Stdout, result.Tag)
	return result, nil
}

// Fills in options left empty from the settings and the environment.
func withDefaults(opts Options) Options {
	if opts.Settings == nil {
		opts.Settings = &settings.Settings{Containerd: settings.Containerd{
			Address:     settings.DefaultAddress,
			Namespace:   settings.DefaultNamespace,
			Snapshotter: settings.DefaultSnapshotter,
		}}
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Engine == "" {
		opts.Engine = opts.Settings.Build.Engine
	}
	if opts.Engine == "" {
		opts.Engine = settings.EngineContainerd
	}
	if len(opts.Platforms) == 0 {
		opts.Platforms = opts.Settings.Build.Platforms
	}
	if opts.Registry == "" {
		opts.Registry = opts.Settings.Build.Registry
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	return opts
}

// Determines the base image and the image tag.
func resolve(opts Options) (*Result, error) {
	base, err := image.ResolveBaseImage(opts.BaseImage, opts.Getenv)
	if err != nil {
		return nil, err
	}

	tag, err := image.TagFor(opts.Graph.Ref, opts.Version, opts.Registry)
	if err != nil {
		return nil, err
	}

	ref, err := image.Normalize(tag)
	if err != nil {
		return nil, err
	}

	return &Result{
		Tag:       image.Familiar(ref),
		Ref:       ref,
		BaseImage: base,
	}, nil
}

// Uploads the exported archives, and the bundle's sources when there is a
// bundle, under the upload prefix.
func upload(ctx context.Context, store objectstore.ObjectStore, opts Options, output string, archives []string) ([]string, error) {
	repo := image.RepositoryName(opts.Graph.Ref)
	version := opts.Version
	if version == "" {
		version = image.DefaultVersion
	}

	files := make(map[string]string, len(archives)+1)
	names := make([]string, 0, len(archives)+1)
	for _, archive := range archives {
		name := archiveObjectName(repo, version, output, archive)
		files[name] = archive
		names = append(names, name)
	}
	if opts.Bundle != nil {
		name := opts.Bundle.Name + "-" + opts.Bundle.Version + "-" + bundle.SourceArchive
		files[name] = opts.Bundle.ArchivePath()
		names = append(names, name)
	}

	existing := make(map[string]bool)
	if listed, err := store.ListObjects(ctx, opts.Upload); err != nil {
		logrus.WithError(err).Debug("listing upload prefix failed")
	} else {
		for _, p := range listed {
			existing[p] = true
		}
	}

	var uploads []string
	for _, name := range names {
		if target, err := objectstore.Join(opts.Upload, name); err == nil && existing[target] {
			logrus.WithField("dest", target).Warn("replacing existing object")
		}

		location, err := objectstore.UploadFileAs(ctx, store, opts.Upload, files[name], name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpload, err)
		}
		uploads = append(uploads, location)
	}

	return uploads, nil
}

// Creates the object store on first use.
type storeOnce struct {
	store  objectstore.ObjectStore // Store in use, nil until first needed.
	region string                  // AWS region for the S3 store.
}

// Returns the object store, creating an S3 store from the environment when
// none was given.
func (s *storeOnce) get(ctx context.Context) (objectstore.ObjectStore, error) {
	if s.store != nil {
		return s.store, nil
	}
	store, err := objectstore.NewS3FromEnv(ctx, s.region)
	if err != nil {
		return nil, err
	}
	s.store = store
	return store, nil
}

// Downloads a base image archive kept in the object store and returns the
// base image naming the local copy.
func fetchBaseImage(ctx context.Context, stores *storeOnce, src, dir string) (string, error) {
	store, err := stores.get(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrContainerize, err)
	}

	logrus.WithField("src", src).Info("fetching base image archive")

	local, err := objectstore.DownloadFile(ctx, store, src, dir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrContainerize, err)
	}
	return image.ArchiveRef(local), nil
}

// Returns the object name of an exported archive.
//
// The archive at the top of the output directory is named after the image;
// per-platform archives in subdirectories get the platform appended
// ("frontend-hello-world-latest-linux-amd64.tar").
func archiveObjectName(repo, version, output, archive string) string {
	name := repo + "-" + version
	if rel, err := filepath.Rel(output, filepath.Dir(archive)); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
		name += "-" + strings.ReplaceAll(filepath.ToSlash(rel), "/", "-")
	}
	return name + ".tar"
}

// Records the image on the bundle.
func record(opts Options, result *Result) error {
	if opts.Bundle == nil || opts.Store == nil {
		return nil
	}

	platforms := opts.Platforms
	if len(platforms) == 0 {
		platforms = []string{runtime.DefaultPlatform()}
	}

	opts.Bundle.Image = &bundle.ImageInfo{
		Tag:       result.Ref,
		BaseImage: result.BaseImage,
		Engine:    opts.Engine,
		Platforms: platforms,
		Archives:  result.Archives,
		Pushed:    opts.Push,
		Uploads:   result.Uploads,
	}
	return opts.Store.Put(opts.Bundle)
}

// Creates a scratch directory under the cache, for archives that are only
// uploaded or only downloaded.
func scratchDir(prefix string) (string, error) {
	if err := os.MkdirAll(paths.Cache(), paths.DefaultDirMode); err != nil {
		return "", fmt.Errorf("%w: %w", ErrContainerize, err)
	}
	dir, err := os.MkdirTemp(paths.Cache(), prefix)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrContainerize, err)
	}
	return dir, nil
}
