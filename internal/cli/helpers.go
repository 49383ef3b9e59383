package cli

import (
	"context"
	"io"
	"os"

	"github.com/ai-dynamo/dynamo-cli/internal"
	"github.com/ai-dynamo/dynamo-cli/internal/bundle"
	"github.com/ai-dynamo/dynamo-cli/internal/cloud"
	"github.com/ai-dynamo/dynamo-cli/internal/graph"
	"github.com/ai-dynamo/dynamo-cli/internal/paths"
	"github.com/ai-dynamo/dynamo-cli/internal/runtime"
	"github.com/ai-dynamo/dynamo-cli/internal/settings"
)

// Loads the settings file named by --config, or the default one.
func loadSettings() (*settings.Settings, error) {
	return settings.Load(RootCmd.Config)
}

// Parses a graph reference and loads the graph from the working directory.
func loadGraph(ctx context.Context, ref string) (*graph.Graph, error) {
	r, err := graph.ParseRef(ref)
	if err != nil {
		return nil, err
	}
	return graph.Load(ctx, RootCmd.WorkingDir, r)
}

// Merges the graph defaults, the config file and the command-line overrides.
//
// A nil graph skips the defaults and the check for unknown services.
func resolveConfig(g *graph.Graph, file string, overrides graph.Config, base ...graph.Config) (graph.Config, error) {
	layers := append([]graph.Config{}, base...)
	if file != "" {
		fromFile, err := graph.LoadConfigFile(file)
		if err != nil {
			return nil, err
		}
		layers = append(layers, fromFile)
	}
	layers = append(layers, overrides)
	return graph.ResolveConfig(g, layers...)
}

// Returns the store holding packaged builds.
func buildStore() *bundle.Store {
	return bundle.NewStore(paths.Builds())
}

// Connects to containerd as configured.
func newRuntime(s *settings.Settings) (*runtime.Runtime, error) {
	return runtime.New(s.Containerd.Address, s.Containerd.Namespace, runtime.WithSnapshotter(s.Containerd.Snapshotter))
}

// Creates a Dynamo Cloud client from the stored credentials.
func newCloudClient(s *settings.Settings) (*cloud.Client, error) {
	return cloud.New(s.Cloud.Endpoint, s.Cloud.Token, cloud.WithUserAgent(internal.UserAgent()))
}

// Returns the writer receiving build and service output, silenced in quiet
// mode.
func progress() io.Writer {
	if internal.IsQuiet() {
		return io.Discard
	}
	return os.Stderr
}

// Returns the first non-empty value.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
