package cli

import (
	"context"
	"os"

	"github.com/ai-dynamo/dynamo-cli/internal/graph"
	"github.com/ai-dynamo/dynamo-cli/internal/image"
	"github.com/ai-dynamo/dynamo-cli/internal/runtime"
	"github.com/ai-dynamo/dynamo-cli/internal/serve"
)

// Represents the 'dynamo serve' command.
type ServeCmd struct {
	Graph      string `arg:"" help:"Graph reference (e.g., hello_world:Frontend)."`
	DryRun     bool   `name:"dry-run" help:"Print the service configuration without starting anything."`
	ConfigFile string `short:"f" name:"config-file" help:"Service configuration file." type:"existingfile" placeholder:"FILE"`
	Image      string `env:"DYNAMO_IMAGE" help:"Image the services run in." placeholder:"IMAGE"`
	Pull       bool   `help:"Pull the image even when present locally."`
}

// Executes the serve command.
//
// Services run until interrupted. With --dry-run the resolved configuration
// and the environment variable carrying it are printed instead.
func (c *ServeCmd) Run(ctx context.Context, overrides graph.Config) error {
	g, err := loadGraph(ctx, c.Graph)
	if err != nil {
		return err
	}

	cfg, err := resolveConfig(g, c.ConfigFile, overrides)
	if err != nil {
		return err
	}

	if c.DryRun {
		return serve.DryRun(os.Stdout, cfg)
	}

	img, err := image.ResolveBaseImage(c.Image, os.Getenv)
	if err != nil {
		return err
	}

	s, err := loadSettings()
	if err != nil {
		return err
	}

	rt, err := newRuntime(s)
	if err != nil {
		return err
	}
	defer rt.Close()

	creds := image.NewCredentials(image.StaticCredentials{
		Username: s.Registry.Username,
		Password: s.Registry.Password,
	}, s.AWS.Region)

	return serve.Serve(ctx, serve.Options{
		Runtime: rt,
		Graph:   g,
		Config:  cfg,
		Image:   img,
		Pull: runtime.PullOptions{
			Resolver: image.NewResolver(ctx, creds, s.Registry.Insecure),
			Always:   c.Pull,
		},
		Output: os.Stdout,
	})
}
