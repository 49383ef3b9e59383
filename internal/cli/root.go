package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal"
	"github.com/ai-dynamo/dynamo-cli/internal/graph"
)

// Represents the root command of the dynamo CLI.
var RootCmd struct {
	Quiet       bool             `short:"q" help:"Suppress informational output."`
	Verbose     bool             `short:"v" help:"Enable verbose output."`
	Debug       bool             `short:"d" help:"Enable debug output."`
	Config      string           `help:"Settings file." type:"path" placeholder:"PATH"`
	WorkingDir  string           `short:"C" name:"working-dir" help:"Directory graph files are resolved in." type:"existingdir" default:"." placeholder:"DIR"`
	ShowVersion kong.VersionFlag `name:"version" help:"Show version information and exit."`

	Build      BuildCmd      `cmd:"" help:"Package a graph, and containerize it with --containerize."`
	Serve      ServeCmd      `cmd:"" help:"Run a graph locally."`
	Get        GetCmd        `cmd:"" help:"Show a build."`
	List       ListCmd       `cmd:"" help:"List builds."`
	Delete     DeleteCmd     `cmd:"" help:"Remove a build."`
	Env        EnvCmd        `cmd:"" help:"Show the environment dynamo runs in."`
	Deploy     DeployCmd     `cmd:"" help:"Deploy a build to Dynamo Cloud."`
	Deployment DeploymentCmd `cmd:"" help:"Manage deployments on Dynamo Cloud."`
	Cloud      CloudCmd      `cmd:"" help:"Manage Dynamo Cloud credentials."`
	Version    VersionCmd    `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
//
// Service configuration overrides are taken out of args before the flag
// parser sees them and are bound to the commands as a [graph.Config].
func Execute(args []string) error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args, overrides, err := graph.ParseOverrides(args)
	if err != nil {
		return err
	}

	parser, err := kong.New(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Build, serve and deploy Dynamo inference graphs."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Bind(overrides),
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)

	configureLogger()

	return kongCtx.Run()
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	internal.SetDebug(RootCmd.Debug || internal.IsDebug())
	internal.SetQuiet(RootCmd.Quiet || internal.IsQuiet())
	internal.SetVerbose(RootCmd.Verbose || internal.IsVerbose())

	tty := isatty.IsTerminal(os.Stderr.Fd())

	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(internal.LogLevel())
	logrus.SetReportCaller(internal.IsVerbose())
	logrus.SetFormatter(&logrus.TextFormatter{
		ForceColors:   tty,
		DisableColors: !tty,
		FullTimestamp: tty,
	})
}
