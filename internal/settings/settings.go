package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ai-dynamo/dynamo-cli/internal/paths"
	"github.com/spf13/viper"
)

const (

	// Prefix for environment variable overrides (e.g., DYNAMO_CLOUD_TOKEN).
	envPrefix = "DYNAMO"

	// Default containerd socket.
	DefaultAddress = "/run/containerd/containerd.sock"

	// Default containerd namespace. Docker Engine stores images in "moby"
	// when it uses the containerd image store, so images built here show up
	// in "docker images".
	DefaultNamespace = "moby"

	// Default snapshotter for build containers.
	DefaultSnapshotter = "overlayfs"

	// Engine names accepted by build.engine.
	EngineContainerd = "containerd"
	EngineDagger     = "dagger"
)

// User settings, read from the settings file and DYNAMO_* variables.
type Settings struct {
	Containerd Containerd `mapstructure:"containerd"`
	Build      Build      `mapstructure:"build"`
	Registry   Registry   `mapstructure:"registry"`
	AWS        AWS        `mapstructure:"aws"`
	Cloud      Cloud      `mapstructure:"cloud"`
}

// Connection to the containerd daemon.
type Containerd struct {
	Address     string `mapstructure:"address"`     // Socket path.
	Namespace   string `mapstructure:"namespace"`   // Namespace for images and containers.
	Snapshotter string `mapstructure:"snapshotter"` // Snapshotter for build and service containers.
}

// Defaults for "dynamo build".
type Build struct {
	Engine    string   `mapstructure:"engine"`    // "containerd" or "dagger".
	Platforms []string `mapstructure:"platforms"` // Target platforms, host platform when empty.
	Registry  string   `mapstructure:"registry"`  // Registry prefix for image tags.
}

// Static credentials for image registries.
type Registry struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Insecure bool   `mapstructure:"insecure"` // Use plain HTTP.
}

// AWS settings used for ECR and S3.
type AWS struct {
	Region string `mapstructure:"region"`
}

// Dynamo cloud endpoint.
type Cloud struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
	Cluster  string `mapstructure:"cluster"`
}

// Loads settings from the given file, falling back to the default settings
// file when path is empty.
//
// A missing file is not an error; defaults and environment overrides still
// apply. Every key can be overridden with an environment variable named
// after the key, upper-cased, with dots replaced by underscores and a DYNAMO_
// prefix (e.g., containerd.namespace is DYNAMO_CONTAINERD_NAMESPACE).
func Load(path string) (*Settings, error) {
	if path == "" {
		path = paths.ConfigFile()
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("%w: %s: %w", ErrSettings, path, err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSettings, path, err)
	}

	return &s, s.Validate()
}

// Persists key/value pairs into the settings file, keeping existing keys.
//
// The file is created with owner-only permissions because it may hold
// registry passwords and cloud tokens.
func Save(path string, values map[string]any) error {
	if path == "" {
		path = paths.ConfigFile()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
		return fmt.Errorf("%w: %s: %w", ErrSettings, path, err)
	}

	for k, val := range values {
		v.Set(k, val)
	}

	if err := os.MkdirAll(filepath.Dir(path), paths.DefaultDirMode); err != nil {
		return fmt.Errorf("%w: %w", ErrSettings, err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSettings, path, err)
	}
	return os.Chmod(path, paths.PrivateFileMode)
}

// Checks that enumerated settings hold accepted values.
func (s *Settings) Validate() error {
	switch s.Build.Engine {
	case EngineContainerd, EngineDagger:
	default:
		return fmt.Errorf("%w: build.engine %q", ErrUnknownEngine, s.Build.Engine)
	}
	return nil
}

// Creates a viper instance bound to the settings file, environment and
// defaults.
func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("containerd.address", DefaultAddress)
	v.SetDefault("containerd.namespace", DefaultNamespace)
	v.SetDefault("containerd.snapshotter", DefaultSnapshotter)
	v.SetDefault("build.engine", EngineContainerd)
	v.SetDefault("build.platforms", []string{})
	v.SetDefault("build.registry", "")
	v.SetDefault("registry.username", "")
	v.SetDefault("registry.password", "")
	v.SetDefault("registry.insecure", false)
	v.SetDefault("aws.region", "")
	v.SetDefault("cloud.endpoint", "")
	v.SetDefault("cloud.token", "")
	v.SetDefault("cloud.cluster", "")

	return v
}

// Whether err reports a missing settings file.
func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
}
