package internal

import (
	"strconv"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var (
	quietMode   atomic.Bool // Warnings and errors only.
	debugMode   atomic.Bool // Debug logging.
	verboseMode atomic.Bool // Caller information on every log entry.
)

// Seeds the modes from the linker flags. Unparseable values leave the mode
// disabled.
func init() {
	if v, err := strconv.ParseBool(rawQuiet); err == nil {
		quietMode.Store(v)
	}
	if v, err := strconv.ParseBool(rawDebug); err == nil {
		debugMode.Store(v)
	}
	if v, err := strconv.ParseBool(rawVerbose); err == nil {
		verboseMode.Store(v)
	}
}

// Enables or disables quiet mode.
func SetQuiet(enabled bool) {
	quietMode.Store(enabled)
}

// Returns true if quiet mode is enabled.
func IsQuiet() bool {
	return quietMode.Load()
}

// Enables or disables debug mode.
func SetDebug(enabled bool) {
	debugMode.Store(enabled)
}

// Returns true if debug mode is enabled.
func IsDebug() bool {
	return debugMode.Load()
}

// Enables or disables verbose logging.
func SetVerbose(enabled bool) {
	verboseMode.Store(enabled)
}

// Returns true if verbose logging is enabled.
func IsVerbose() bool {
	return verboseMode.Load()
}

// Returns the log level implied by the current modes.
//
// Debug wins over quiet, so "-q -d" still prints debug output.
func LogLevel() logrus.Level {
	if IsDebug() {
		return logrus.DebugLevel
	}
	if IsQuiet() {
		return logrus.WarnLevel
	}
	return logrus.InfoLevel
}
