package cli

import (
	"context"
	"fmt"

	"github.com/ai-dynamo/dynamo-cli/internal"
	"github.com/ai-dynamo/dynamo-cli/internal/cloud"
	"github.com/ai-dynamo/dynamo-cli/internal/settings"
)

// Represents the 'dynamo cloud' command group.
type CloudCmd struct {
	Login  CloudLoginCmd  `cmd:"" help:"Store Dynamo Cloud credentials."`
	Logout CloudLogoutCmd `cmd:"" help:"Remove stored Dynamo Cloud credentials."`
}

// Represents the 'dynamo cloud login' command.
type CloudLoginCmd struct {
	Endpoint string `required:"" help:"Dynamo Cloud endpoint URL." placeholder:"URL"`
	Token    string `required:"" env:"DYNAMO_CLOUD_TOKEN" help:"API token." placeholder:"TOKEN"`
	Cluster  string `help:"Default cluster for deployments." placeholder:"CLUSTER"`
}

// Executes the login command.
//
// The credentials are checked with a deployment listing before they are
// written to the settings file.
func (c *CloudLoginCmd) Run(ctx context.Context) error {
	client, err := cloud.New(c.Endpoint, c.Token, cloud.WithUserAgent(internal.UserAgent()))
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.List(ctx, cloud.ListOptions{Cluster: c.Cluster}); err != nil {
		return err
	}

	if err := settings.Save(RootCmd.Config, map[string]any{
		"cloud.endpoint": c.Endpoint,
		"cloud.token":    c.Token,
		"cloud.cluster":  c.Cluster,
	}); err != nil {
		return err
	}

	fmt.Printf("Logged in to %s\n", c.Endpoint)
	return nil
}

// Represents the 'dynamo cloud logout' command.
type CloudLogoutCmd struct{}

// Executes the logout command.
func (c *CloudLogoutCmd) Run(ctx context.Context) error {
	return settings.Save(RootCmd.Config, map[string]any{
		"cloud.endpoint": "",
		"cloud.token":    "",
		"cloud.cluster":  "",
	})
}
