// Loads and persists user settings.
//
// Settings are read from a YAML file (by default config.yaml under the
// config directory returned by the paths package) and may be overridden by
// DYNAMO_* environment variables. Missing files are tolerated so that a fresh
// install works with defaults: the system containerd socket, the "moby"
// namespace, and the containerd build engine.
//
// Example config.yaml:
//
//	containerd:
//	  namespace: dynamo
//	build:
//	  engine: dagger
//	  registry: nvcr.io/my-org
//	cloud:
//	  endpoint: https://dynamo.example.com
package settings
