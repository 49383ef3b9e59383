package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ai-dynamo/dynamo-cli/internal/cloud"
	"github.com/ai-dynamo/dynamo-cli/internal/graph"
)

// Represents the 'dynamo deployment' command group.
type DeploymentCmd struct {
	Create DeploymentCreateCmd `cmd:"" help:"Create a deployment."`
	Get    DeploymentGetCmd    `cmd:"" help:"Show a deployment."`
	List   DeploymentListCmd   `cmd:"" help:"List deployments."`
	Delete DeploymentDeleteCmd `cmd:"" help:"Delete a deployment."`
}

// Represents the 'dynamo deployment create' command.
type DeploymentCreateCmd struct {
	DeployFlags `embed:""`
}

// Executes the deployment create command.
func (c *DeploymentCreateCmd) Run(ctx context.Context, overrides graph.Config) error {
	return c.deploy(ctx, overrides)
}

// Represents the 'dynamo deployment get' command.
type DeploymentGetCmd struct {
	Name    string `arg:"" help:"Deployment name."`
	Cluster string `help:"Cluster name." placeholder:"CLUSTER"`
}

// Executes the deployment get command.
func (c *DeploymentGetCmd) Run(ctx context.Context) error {
	return withCloud(func(client *cloud.Client, cluster string) error {
		d, err := client.Get(ctx, c.Name, firstNonEmpty(c.Cluster, cluster))
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "Name:\t%s\n", d.Name)
		fmt.Fprintf(tw, "Cluster:\t%s\n", d.Cluster)
		fmt.Fprintf(tw, "Build:\t%s\n", d.Bento)
		fmt.Fprintf(tw, "Status:\t%s\n", d.Status)
		for _, u := range d.URLs {
			fmt.Fprintf(tw, "URL:\t%s\n", u)
		}
		return tw.Flush()
	})
}

// Represents the 'dynamo deployment list' command.
type DeploymentListCmd struct {
	Cluster string            `help:"Cluster name." placeholder:"CLUSTER"`
	Search  string            `help:"Search query." placeholder:"TEXT"`
	Query   string            `name:"query" help:"Advanced query string." placeholder:"QUERY"`
	Label   map[string]string `help:"Label filter, repeatable (key=value)." placeholder:"KEY=VALUE"`
	Dev     bool              `help:"List development deployments."`
}

// Executes the deployment list command.
func (c *DeploymentListCmd) Run(ctx context.Context) error {
	return withCloud(func(client *cloud.Client, cluster string) error {
		deployments, err := client.List(ctx, cloud.ListOptions{
			Cluster: firstNonEmpty(c.Cluster, cluster),
			Search:  c.Search,
			Query:   c.Query,
			Labels:  c.Label,
			Dev:     c.Dev,
		})
		if err != nil {
			return err
		}

		if len(deployments) == 0 {
			fmt.Println("No deployments found")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tCLUSTER\tBUILD\tSTATUS")
		for _, d := range deployments {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Cluster, d.Bento, d.Status)
		}
		return tw.Flush()
	})
}

// Represents the 'dynamo deployment delete' command.
type DeploymentDeleteCmd struct {
	Name    string `arg:"" help:"Deployment name."`
	Cluster string `help:"Cluster name." placeholder:"CLUSTER"`
}

// Executes the deployment delete command.
func (c *DeploymentDeleteCmd) Run(ctx context.Context) error {
	return withCloud(func(client *cloud.Client, cluster string) error {
		if err := client.Delete(ctx, c.Name, firstNonEmpty(c.Cluster, cluster)); err != nil {
			return err
		}
		fmt.Printf("Deleted deployment %q\n", c.Name)
		return nil
	})
}

// Runs fn with a client for the configured endpoint and the default cluster.
func withCloud(fn func(client *cloud.Client, cluster string) error) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	client, err := newCloudClient(s)
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(client, s.Cloud.Cluster)
}
