// Package bundle packages graphs and keeps a record of every build.
//
// Packaging a graph writes its sources, minus excluded paths, to a gzip
// compressed tarball and records the graph's services and resolved
// configuration next to it. Each build lives in its own directory:
//
//	<builds>/<name>/<version>/
//	    src.tar.gz
//	    dynamo.yaml
//
// The name is derived from the graph reference the same way image tags are
// ("frontend-hello-world") and the version defaults to a time-ordered build
// id. Builds are addressed by "name:version" tags; "name" and "name:latest"
// resolve to the most recent build unless a build was explicitly versioned
// "latest".
//
// Example usage:
//
//	store := bundle.NewStore(paths.Builds())
//
//	b, err := bundle.Package(ctx, g, bundle.Options{Store: store, Config: cfg})
//	if err != nil {
//	    return err
//	}
//
//	fmt.Println(b.Tag)
package bundle
