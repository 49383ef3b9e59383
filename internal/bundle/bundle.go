package bundle

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/distribution/reference"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal/graph"
	"github.com/ai-dynamo/dynamo-cli/internal/image"
	"github.com/ai-dynamo/dynamo-cli/internal/paths"
	"github.com/ai-dynamo/dynamo-cli/internal/tarball"
)

const (

	// Name of the packaged sources inside a build directory.
	SourceArchive = "src.tar.gz"

	// Name of the build record inside a build directory.
	RecordFile = "dynamo.yaml"

	// Version that resolves to the most recent build.
	Latest = "latest"
)

// Paths never packaged, in addition to the graph's own excludes.
var defaultExcludes = []string{".git", "__pycache__/", "*.pyc", ".venv/", SourceArchive}

// Returns the patterns excluded when packaging or copying a graph's sources.
func Excludes(g *graph.Graph) []string {
	return append(append([]string{}, defaultExcludes...), g.Build.Exclude...)
}

// Valid versions are valid image tags.
var versionPattern = regexp.MustCompile(`^` + reference.TagRegexp.String() + `$`)

// A packaged graph and its build record.
type Bundle struct {
	Name       string       `yaml:"name"`
	Version    string       `yaml:"version"`
	Tag        string       `yaml:"tag"`        // "name:version".
	Graph      string       `yaml:"graph"`      // Graph reference, e.g. "hello_world:Frontend".
	Entrypoint string       `yaml:"entrypoint"` // Entrypoint service.
	Services   []Service    `yaml:"services"`   // Services in start order.
	Config     graph.Config `yaml:"config,omitempty"`
	BuildID    string       `yaml:"build_id"`
	CreatedAt  time.Time    `yaml:"created_at"`
	Archive    string       `yaml:"archive"` // Source archive, relative to Dir.
	Image      *ImageInfo   `yaml:"image,omitempty"`
	Dir        string       `yaml:"-"` // Build directory.
}

// A service recorded in a build.
type Service struct {
	Name      string          `yaml:"name"`
	Namespace string          `yaml:"namespace"`
	Workers   int             `yaml:"workers"`
	DependsOn []string        `yaml:"depends_on,omitempty"`
	Command   []string        `yaml:"command,omitempty"`
	Resources graph.Resources `yaml:"resources,omitempty"`
}

// The container image built for a bundle.
type ImageInfo struct {
	Tag       string   `yaml:"tag"`        // Fully qualified image tag.
	BaseImage string   `yaml:"base_image"` // Image the build started from.
	Engine    string   `yaml:"engine"`     // Build engine.
	Platforms []string `yaml:"platforms"`
	Archives  []string `yaml:"archives,omitempty"` // Exported OCI archives.
	Pushed    bool     `yaml:"pushed,omitempty"`
	Uploads   []string `yaml:"uploads,omitempty"` // Object store locations of uploaded archives.
}

// Returns the path of the source archive.
func (b *Bundle) ArchivePath() string {
	return filepath.Join(b.Dir, b.Archive)
}

// Controls packaging.
type Options struct {
	Store   *Store       // Store the bundle is written to.
	Version string       // Build version. Defaults to the build id.
	Config  graph.Config // Resolved service configuration.
}

// Packages a graph into the store.
//
// The graph directory is archived without excluded paths, and the record is
// written last so a partially written build is never listed. Packaging the
// same name and version again replaces the earlier build.
func Package(ctx context.Context, g *graph.Graph, opts Options) (*Bundle, error) {
	if opts.Store == nil {
		opts.Store = NewStore(paths.Builds())
	}

	buildID := NewBuildID(time.Now())

	version := opts.Version
	if version == "" {
		version = buildID
	}
	if !versionPattern.MatchString(version) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}

	name := image.RepositoryName(g.Ref)
	b := &Bundle{
		Name:       name,
		Version:    version,
		Tag:        name + ":" + version,
		Graph:      g.Ref.String(),
		Entrypoint: g.Ref.Entrypoint,
		Services:   services(g),
		Config:     opts.Config,
		BuildID:    buildID,
		CreatedAt:  time.Now().UTC(),
		Archive:    SourceArchive,
		Dir:        opts.Store.Dir(name, version),
	}

	if err := os.RemoveAll(b.Dir); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBundle, err)
	}
	if err := os.MkdirAll(b.Dir, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBundle, err)
	}

	if err := writeSources(ctx, g.Dir, b.ArchivePath(), Excludes(g)); err != nil {
		return nil, fmt.Errorf("%w: packaging %s: %w", ErrBundle, g.Dir, err)
	}

	if err := opts.Store.Put(b); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"tag": b.Tag, "dir": b.Dir}).Info("graph packaged")
	return b, nil
}

// Returns a time-ordered build id, e.g. "20240501093000-1f2e3d4c".
func NewBuildID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.UTC().Format("20060102150405") + "-" + suffix
}

// Writes the sources under dir to a gzip compressed tarball.
func writeSources(ctx context.Context, dir, path string, excludes []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, paths.DefaultFileMode)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	if err := tarball.WriteDir(tw, dir, "", excludes); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return f.Close()
}

// Returns the graph's services in start order.
func services(g *graph.Graph) []Service {
	ordered := g.Order()
	out := make([]Service, 0, len(ordered))
	for _, svc := range ordered {
		deps := append([]string(nil), svc.DependsOn...)
		sort.Strings(deps)
		out = append(out, Service{
			Name:      svc.Name,
			Namespace: svc.Namespace,
			Workers:   svc.Workers,
			DependsOn: deps,
			Command:   svc.Command,
			Resources: svc.Resources,
		})
	}
	return out
}
