// Provides platform-appropriate paths for the CLI.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS. The name "dynamo" is used as the subdirectory under each base
// path. Settings live under the config directory, packaged builds under the
// data directory, and temporary image archives under the cache directory.
package paths
