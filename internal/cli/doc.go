// Parses the command line and runs dynamo commands.
//
// Global flags:
//
//	-q, --quiet              Suppress informational output.
//	-v, --verbose            Enable verbose output.
//	-d, --debug              Enable debug output.
//	    --config=PATH        Settings file.
//	-C, --working-dir=DIR    Directory graph files are resolved in.
//	    --version            Show version information and exit.
//
// Commands:
//
//	build <graph>            Package a graph, and containerize it with --containerize.
//	serve <graph>            Run a graph locally.
//	get <tag>                Show a build.
//	list                     List builds.
//	delete <tag>             Remove a build.
//	env                      Show the environment dynamo runs in.
//	deploy <tag>             Deploy a build to Dynamo Cloud.
//	deployment ...           Create, get, list and delete deployments.
//	cloud login|logout       Manage Dynamo Cloud credentials.
//	version                  Show version information.
//
// Service configuration overrides of the form --<Service>.<key>=<value> are
// accepted anywhere on the command line and apply to build, serve and deploy:
//
//	dynamo serve hello_world:Frontend --Frontend.model=qwentastic --dry-run
//
// Flags override build-time defaults set via linker flags. After parsing, the
// global logger is reconfigured to reflect the final level and verbosity
// before the command runs.
package cli
