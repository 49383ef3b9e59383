package cli

import (
	"context"
	"fmt"

	"github.com/ai-dynamo/dynamo-cli/internal"
)

// Represents the 'dynamo version' command.
type VersionCmd struct{}

// Executes the version command.
func (c *VersionCmd) Run(ctx context.Context) error {
	fmt.Println(internal.VersionString())
	return nil
}
