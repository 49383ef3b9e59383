// Package build executes recipes against the containerd runtime.
//
// A recipe is an ordered sequence of stages, each backed by a container
// created from a base image. The build pipeline starts a container for
// each stage, dispatches its steps (shell commands, file copies, and
// inter-stage transfers), and commits the final non-transient stage as an
// image stored under the requested tag. Multi-platform builds repeat the
// pipeline per platform and store the results under one image index.
//
// Container operations are delegated to the runtime package. Step state
// (environment variables, working directory, shell) is accumulated across
// steps within a stage and reset between stages.
//
// Example usage:
//
//	result, err := build.Run(ctx, rt, build.Options{
//	    Recipe:    recipe,
//	    Image:     manifest.Image{Tag: "docker.io/library/frontend-hello-world:latest"},
//	    Resource:  "frontend-hello-world",
//	    Output:    "dist",
//	    Root:      ".",
//	    Platforms: []string{"linux/amd64", "linux/arm64"},
//	})
//	if err != nil {
//	    return err
//	}
package build
