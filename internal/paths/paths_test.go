package paths

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestPathsScopedToApp(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"config", Config()},
		{"data", Data()},
		{"cache", Cache()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(tt.path, appName) {
				t.Fatalf("%s path %q does not contain %q", tt.name, tt.path, appName)
			}
			if !filepath.IsAbs(tt.path) {
				t.Fatalf("%s path %q is not absolute", tt.name, tt.path)
			}
		})
	}
}

func TestNestedPaths(t *testing.T) {
	if got, want := ConfigFile(), filepath.Join(Config(), "config.yaml"); got != want {
		t.Fatalf("ConfigFile() = %q, want %q", got, want)
	}
	if got, want := Builds(), filepath.Join(Data(), "builds"); got != want {
		t.Fatalf("Builds() = %q, want %q", got, want)
	}
}
