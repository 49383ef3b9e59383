package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal"
	"github.com/ai-dynamo/dynamo-cli/internal/cli"
)

// The entry point for the dynamo CLI.
//
// Initializes logging, displays startup information, and executes the root
// command. If any error occurs during execution, it exits with a non-zero code.
func main() {
	configureLogger()

	logrus.WithField("version", internal.VersionString()).Debug("build")

	logrus.WithFields(logrus.Fields{
		"pid":  os.Getpid(),
		"cwd":  cwd(),
		"args": os.Args,
	}).Debug("dynamo is running")

	if err := cli.Execute(os.Args[1:]); err != nil {
		logrus.Error(err.Error())
		os.Exit(1)
	}
}

// Seeds the logger from build-time linker flags.
//
// The logger is reconfigured after flag parsing via cli.Execute.
func configureLogger() {
	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(internal.LogLevel())
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}
