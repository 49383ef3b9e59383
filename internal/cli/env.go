package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ai-dynamo/dynamo-cli/internal"
	"github.com/ai-dynamo/dynamo-cli/internal/image"
	"github.com/ai-dynamo/dynamo-cli/internal/paths"
	"github.com/ai-dynamo/dynamo-cli/internal/settings"
)

// Environment variables that affect builds and services.
var reportedEnv = []string{
	image.EnvImage,
	image.EnvRegistryImage,
	image.EnvCommitSHA,
	"NATS_SERVER",
	"ETCD_ENDPOINTS",
	"AWS_REGION",
	"AWS_PROFILE",
	"DYNAMO_CONTAINERD_ADDRESS",
	"DYNAMO_CONTAINERD_NAMESPACE",
	"DYNAMO_BUILD_ENGINE",
	"DYNAMO_CLOUD_ENDPOINT",
}

// Represents the 'dynamo env' command.
type EnvCmd struct{}

// Executes the env command, printing version, platform, paths, effective
// settings and the relevant environment variables.
func (c *EnvCmd) Run(ctx context.Context) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	return printEnv(os.Stdout, s, os.Getenv)
}

func printEnv(w io.Writer, s *settings.Settings, getenv func(string) string) error {
	settingsFile := firstNonEmpty(RootCmd.Config, paths.ConfigFile())

	lines := [][2]string{
		{"version", internal.VersionString()},
		{"platform", internal.Platform()},
		{"settings", settingsFile},
		{"builds", paths.Builds()},
		{"cache", paths.Cache()},
		{"containerd.address", s.Containerd.Address},
		{"containerd.namespace", s.Containerd.Namespace},
		{"build.engine", s.Build.Engine},
		{"cloud.endpoint", firstNonEmpty(s.Cloud.Endpoint, "(not logged in)")},
	}
	for _, k := range reportedEnv {
		if v := getenv(k); v != "" {
			lines = append(lines, [2]string{k, v})
		}
	}

	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%s=%s\n", l[0], l[1]); err != nil {
			return err
		}
	}
	return nil
}
