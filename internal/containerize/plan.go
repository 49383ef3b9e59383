package containerize

import (
	"maps"
	"strings"

	"github.com/ai-dynamo/dynamo-cli/internal/bundle"
	"github.com/ai-dynamo/dynamo-cli/internal/graph"
	"github.com/ai-dynamo/dynamo-cli/internal/manifest"
)

const (

	// Directory the graph sources are copied to inside the image.
	SourceDir = "/src"

	// Environment variables set in the image.
	EnvGraph         = "DYNAMO_GRAPH"
	EnvServiceConfig = "DYNAMO_SERVICE_CONFIG"

	// Labels set on the image.
	LabelGraph     = "ai.dynamo.graph"
	LabelServices  = "ai.dynamo.services"
	LabelBuildID   = "ai.dynamo.build-id"
	LabelBaseImage = "ai.dynamo.base-image"
)

// Inputs of [Plan] that do not come from the graph.
type PlanOptions struct {
	BaseImage string // Image the build starts from, as recorded in the labels.
	From      string // Local copy of BaseImage the stage starts from, BaseImage when empty.
	Tag       string // Fully qualified output tag.
	BuildID   string // Build id of the packaged graph.
	Config    string // Resolved service configuration as JSON, empty for none.
}

// Describes the image for a graph as a recipe and an image configuration.
func Plan(g *graph.Graph, opts PlanOptions) (*manifest.Recipe, manifest.Image) {
	var steps []manifest.Step
	if len(g.Build.Env) > 0 {
		steps = append(steps, manifest.Step{Env: maps.Clone(g.Build.Env)})
	}
	steps = append(steps,
		manifest.Step{Workdir: SourceDir},
		manifest.Step{Copy: ". " + SourceDir, Exclude: bundle.Excludes(g)},
	)
	for _, cmd := range g.Build.Run {
		steps = append(steps, manifest.Step{Run: cmd})
	}

	from := opts.From
	if from == "" {
		from = opts.BaseImage
	}

	recipe := &manifest.Recipe{Stages: []manifest.Stage{{
		From:  from,
		Steps: steps,
	}}}

	env := make(map[string]string, len(g.Build.Env)+2)
	maps.Copy(env, g.Build.Env)
	env[EnvGraph] = g.Ref.String()
	if opts.Config != "" {
		env[EnvServiceConfig] = opts.Config
	}

	labels := map[string]string{
		LabelGraph:     g.Ref.String(),
		LabelServices:  strings.Join(g.Names(), ","),
		LabelBaseImage: opts.BaseImage,
	}
	if opts.BuildID != "" {
		labels[LabelBuildID] = opts.BuildID
	}

	entrypoint := g.Build.Entrypoint
	if len(entrypoint) == 0 {
		entrypoint = []string{"dynamo", "serve", g.Ref.String()}
	}

	return recipe, manifest.Image{
		Tag:        opts.Tag,
		Entrypoint: entrypoint,
		Env:        env,
		Workdir:    SourceDir,
		Labels:     labels,
	}
}
