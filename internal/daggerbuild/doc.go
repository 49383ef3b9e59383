// Package daggerbuild executes recipes on a Dagger engine.
//
// Each stage is expressed as a chain of Dagger container operations: the
// stage base image, environment and working directory modifiers, shell
// commands run through WithExec, host directories and files, and
// directories taken from earlier stages. The output stage gets the image
// configuration and is exported as an OCI archive holding one variant per
// platform, which is then imported into containerd under the image tag so
// it can be run and pushed like a containerd build.
//
// Example usage:
//
//	result, err := daggerbuild.Run(ctx, rt, daggerbuild.Options{
//	    Recipe:    recipe,
//	    Image:     manifest.Image{Tag: "docker.io/library/frontend-hello-world:latest"},
//	    Root:      ".",
//	    Output:    "dist",
//	    Platforms: []string{"linux/amd64"},
//	})
//	if err != nil {
//	    return err
//	}
package daggerbuild
