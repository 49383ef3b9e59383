package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Represents the 'dynamo get' command.
type GetCmd struct {
	Tag string `arg:"" help:"Build tag (name[:version]); the latest build when no version is given."`
}

// Executes the get command, printing the build record as YAML.
func (c *GetCmd) Run(ctx context.Context) error {
	b, err := buildStore().Get(c.Tag)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(b); err != nil {
		return err
	}
	return enc.Close()
}

// Represents the 'dynamo list' command.
type ListCmd struct{}

// Executes the list command, printing one line per build.
func (c *ListCmd) Run(ctx context.Context) error {
	builds, err := buildStore().List()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TAG\tGRAPH\tIMAGE\tCREATED")
	for _, b := range builds {
		img := "-"
		if b.Image != nil {
			img = b.Image.Tag
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.Tag, b.Graph, img, b.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

// Represents the 'dynamo delete' command.
type DeleteCmd struct {
	Tag        string `arg:"" help:"Build tag (name:version)."`
	PruneImage bool   `help:"Also remove the build's image and its containers from containerd."`
}

// Executes the delete command.
//
// The build's image is kept unless --prune-image is given.
func (c *DeleteCmd) Run(ctx context.Context) error {
	store := buildStore()

	b, err := store.Get(c.Tag)
	if err != nil {
		return err
	}

	if c.PruneImage && b.Image != nil {
		if err := pruneImage(ctx, b.Image.Tag); err != nil {
			return err
		}
	}

	return store.Delete(b.Tag)
}

// Removes an image from containerd, when present.
func pruneImage(ctx context.Context, tag string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	rt, err := newRuntime(s)
	if err != nil {
		return err
	}
	defer rt.Close()

	ok, err := rt.HasImage(ctx, tag)
	if err != nil {
		return err
	}
	if !ok {
		logrus.WithField("image", tag).Debug("image already removed")
		return nil
	}

	if err := rt.DestroyImage(ctx, tag); err != nil {
		return err
	}

	logrus.WithField("image", tag).Info("image removed")
	return nil
}
