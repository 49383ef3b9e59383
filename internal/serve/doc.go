// Runs an inference graph locally.
//
// Every service of the graph runs in its own container, created from the
// base image (or the graph's image) with the graph directory bind-mounted at
// /src and the host network shared, so services reach NATS, etcd and each
// other on localhost. Services start in dependency order and stop in reverse
// order. The resolved service configuration reaches each service through
// DYNAMO_SERVICE_CONFIG.
//
// Output of every service is interleaved line by line on the given writer,
// each line prefixed with the service name:
//
//	[Frontend] listening on :8000
//	[Middle] connected to nats://localhost:4222
//
// Example usage:
//
//	err := serve.Serve(ctx, serve.Options{
//		Runtime: rt,
//		Graph:   g,
//		Config:  cfg,
//		Image:   "my-registry/dynamo-base-docker:hello-world",
//		Output:  os.Stdout,
//	})
//
// A dry run prints the configuration instead:
//
//	serve.DryRun(os.Stdout, cfg)
package serve
