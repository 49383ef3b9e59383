// Package containerize turns a packaged graph into a container image.
//
// [Plan] describes the image as a single stage recipe: starting from the
// Dynamo base image, the graph's build environment is set, the graph
// sources are copied to /src and the graph's build commands are run. The
// image is labelled with the graph, its services, the build id and the base
// image, carries the resolved service configuration in
// DYNAMO_SERVICE_CONFIG, and serves the graph by default.
//
// [Containerize] resolves the base image and the image tag, runs the recipe
// on the configured engine, and optionally exports, pushes and uploads the
// result. The image tag is derived from the graph reference; for
// "hello_world:Frontend" it is "frontend-hello-world:latest".
//
// Example usage:
//
//	result, err := containerize.Containerize(ctx, containerize.Options{
//	    Graph:    g,
//	    Bundle:   b,
//	    Store:    store,
//	    Config:   cfg,
//	    Settings: s,
//	})
//	if err != nil {
//	    return err
//	}
//
//	fmt.Println(result.Tag)
package containerize
