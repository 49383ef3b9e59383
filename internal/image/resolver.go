package image

import (
	"context"

	"github.com/containerd/containerd/v2/core/remotes"
	"github.com/containerd/containerd/v2/core/remotes/docker"
	dockerconfig "github.com/containerd/containerd/v2/core/remotes/docker/config"
)

// Creates a registry resolver for pulling and pushing images.
//
// Credentials are looked up per host when the registry asks for them. With
// insecure set, registries are contacted over plain HTTP.
func NewResolver(ctx context.Context, creds Credentials, insecure bool) remotes.Resolver {
	hostOptions := dockerconfig.HostOptions{
		Credentials: func(host string) (string, string, error) {
			return creds.Lookup(ctx, host)
		},
	}
	if insecure {
		hostOptions.DefaultScheme = "http"
	}

	return docker.NewResolver(docker.ResolverOptions{
		Tracker: docker.NewInMemoryTracker(),
		Hosts:   dockerconfig.ConfigureHosts(ctx, hostOptions),
	})
}
