package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/ai-dynamo/dynamo-cli/internal/bundle"
	"github.com/ai-dynamo/dynamo-cli/internal/containerize"
	"github.com/ai-dynamo/dynamo-cli/internal/graph"
	"github.com/ai-dynamo/dynamo-cli/internal/objectstore"
)

// Represents the 'dynamo build' command.
type BuildCmd struct {
	Graph        string   `arg:"" help:"Graph reference (e.g., hello_world:Frontend)."`
	Containerize bool     `help:"Build a container image from the packaged graph."`
	Version      string   `name:"build-version" help:"Version of the build and tag of the image." placeholder:"VERSION"`
	ConfigFile   string   `short:"f" name:"config-file" help:"Service configuration file." type:"existingfile" placeholder:"FILE"`
	BaseImage    string   `name:"base-image" env:"DYNAMO_IMAGE" help:"Base image to build from." placeholder:"IMAGE"`
	Engine       string   `help:"Build engine (containerd or dagger), from the settings when empty." placeholder:"ENGINE"`
	Platform     []string `help:"Target platform, repeatable (e.g., linux/amd64)." placeholder:"PLATFORM"`
	Registry     string   `help:"Registry prefix of the image tag." placeholder:"REGISTRY"`
	Pull         bool     `help:"Pull the base image even when present locally."`
	Push         bool     `help:"Push the image after building."`
	Output       string   `short:"o" help:"Directory to export OCI archives to." type:"path" placeholder:"DIR"`
	Upload       string   `help:"Object store prefix to upload archives to (s3://bucket/prefix)." placeholder:"URL"`
}

// Executes the build command.
//
// The graph is always packaged into the build store. With --containerize the
// package is built into an image and the image tag is printed; otherwise the
// build tag is printed.
func (c *BuildCmd) Run(ctx context.Context, overrides graph.Config) error {
	if c.Upload != "" && !objectstore.IsObjectPath(c.Upload) {
		return fmt.Errorf("--upload expects an s3:// location, got %q", c.Upload)
	}
	if !c.Containerize && (c.Push || c.Output != "" || c.Upload != "") {
		return fmt.Errorf("--push, --output and --upload require --containerize")
	}

	s, err := loadSettings()
	if err != nil {
		return err
	}

	g, err := loadGraph(ctx, c.Graph)
	if err != nil {
		return err
	}

	cfg, err := resolveConfig(g, c.ConfigFile, overrides)
	if err != nil {
		return err
	}

	store := buildStore()
	b, err := bundle.Package(ctx, g, bundle.Options{
		Store:   store,
		Version: c.Version,
		Config:  cfg,
	})
	if err != nil {
		return err
	}

	if !c.Containerize {
		fmt.Println(b.Tag)
		return nil
	}

	_, err = containerize.Containerize(ctx, containerize.Options{
		Graph:     g,
		Bundle:    b,
		Store:     store,
		Config:    cfg,
		BaseImage: c.BaseImage,
		Version:   c.Version,
		Engine:    c.Engine,
		Platforms: c.Platform,
		Registry:  c.Registry,
		Pull:      c.Pull,
		Push:      c.Push,
		Output:    c.Output,
		Upload:    c.Upload,
		Settings:  s,
		Stdout:    os.Stdout,
		Log:       progress(),
	})
	return err
}
