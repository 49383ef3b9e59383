package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Subdirectory name under each base path.
	appName = "dynamo"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644

	// Permission mode for files holding credentials.
	PrivateFileMode os.FileMode = 0600
)

// Directory holding the settings file.
//
//	Linux:   $XDG_CONFIG_HOME/dynamo or ~/.config/dynamo
//	macOS:   ~/Library/Application Support/dynamo
func Config() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

// Default path to the settings file.
//
//	Linux:   ~/.config/dynamo/config.yaml
func ConfigFile() string {
	return filepath.Join(Config(), "config.yaml")
}

// Directory holding packaged builds and build records.
//
//	Linux:   $XDG_DATA_HOME/dynamo or ~/.local/share/dynamo
//	macOS:   ~/Library/Application Support/dynamo
func Data() string {
	return filepath.Join(xdg.DataHome, appName)
}

// Directory holding one subdirectory per packaged build.
//
//	Linux:   ~/.local/share/dynamo/builds
func Builds() string {
	return filepath.Join(Data(), "builds")
}

// Directory for scratch files that can be discarded between runs, such as
// image archives waiting to be imported.
//
//	Linux:   $XDG_CACHE_HOME/dynamo or ~/.cache/dynamo
func Cache() string {
	return filepath.Join(xdg.CacheHome, appName)
}
