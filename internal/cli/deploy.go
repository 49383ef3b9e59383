package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal/bundle"
	"github.com/ai-dynamo/dynamo-cli/internal/cloud"
	"github.com/ai-dynamo/dynamo-cli/internal/graph"
)

// Represents the 'dynamo deploy' command.
type DeployCmd struct {
	DeployFlags `embed:""`
}

// Executes the deploy command.
func (c *DeployCmd) Run(ctx context.Context, overrides graph.Config) error {
	return c.deploy(ctx, overrides)
}

// Flags shared by 'dynamo deploy' and 'dynamo deployment create'.
type DeployFlags struct {
	Tag        string `arg:"" help:"Build tag to deploy (name[:version])."`
	Name       string `short:"n" help:"Deployment name." placeholder:"NAME"`
	Cluster    string `help:"Target cluster." placeholder:"CLUSTER"`
	ConfigFile string `short:"f" name:"config-file" help:"Service configuration file." type:"existingfile" placeholder:"FILE"`
	Wait       bool   `negatable:"" default:"true" help:"Wait for the deployment to be ready."`
	Timeout    int    `default:"3600" help:"Seconds to wait for the deployment to be ready."`
}

// Creates the deployment and optionally waits for it.
//
// The service configuration recorded with the build is the base; the config
// file and overrides are applied on top.
func (c *DeployFlags) deploy(ctx context.Context, overrides graph.Config) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	client, err := newCloudClient(s)
	if err != nil {
		return err
	}
	defer client.Close()

	b, err := buildStore().Get(c.Tag)
	if err != nil {
		return err
	}

	cfg, err := resolveConfig(nil, c.ConfigFile, overrides, b.Config)
	if err != nil {
		return err
	}
	if err := checkServices(b, cfg); err != nil {
		return err
	}

	req, err := cloud.NewDeploymentRequest(c.Name, b.Tag, cfg)
	if err != nil {
		return err
	}
	req.Cluster = firstNonEmpty(c.Cluster, s.Cloud.Cluster)

	d, err := client.Create(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("Created deployment %q in cluster %q\n", d.Name, d.Cluster)

	if !c.Wait {
		return nil
	}

	logrus.Info("waiting for the deployment to be ready, use --no-wait to skip")
	d, err = client.WaitUntilReady(ctx, d.Name, d.Cluster, time.Duration(c.Timeout)*time.Second)
	if err != nil {
		return err
	}

	fmt.Printf("Deployment %q is %s\n", d.Name, d.Status)
	for _, u := range d.URLs {
		fmt.Printf("  %s\n", u)
	}
	return nil
}

// Rejects configuration sections for services the build does not contain.
func checkServices(b *bundle.Bundle, cfg graph.Config) error {
	known := make(map[string]bool, len(b.Services))
	for _, svc := range b.Services {
		known[svc.Name] = true
	}
	for name := range cfg {
		if !known[name] {
			return fmt.Errorf("%w: %q is not part of %s", graph.ErrUnknownService, name, b.Tag)
		}
	}
	return nil
}
