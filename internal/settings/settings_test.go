package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Containerd{
		Address:     DefaultAddress,
		Namespace:   DefaultNamespace,
		Snapshotter: DefaultSnapshotter,
	}
	if diff := cmp.Diff(want, s.Containerd); diff != "" {
		t.Fatalf("containerd settings mismatch (-want +got):\n%s", diff)
	}
	if s.Build.Engine != EngineContainerd {
		t.Fatalf("engine = %q, want %q", s.Build.Engine, EngineContainerd)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`containerd:
  namespace: dynamo
build:
  engine: dagger
  platforms: [linux/amd64, linux/arm64]
cloud:
  endpoint: https://cloud.example.com
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.Containerd.Namespace != "dynamo" {
		t.Errorf("namespace = %q, want dynamo", s.Containerd.Namespace)
	}
	if s.Containerd.Address != DefaultAddress {
		t.Errorf("address = %q, want default", s.Containerd.Address)
	}
	if s.Build.Engine != EngineDagger {
		t.Errorf("engine = %q, want dagger", s.Build.Engine)
	}
	if diff := cmp.Diff([]string{"linux/amd64", "linux/arm64"}, s.Build.Platforms); diff != "" {
		t.Errorf("platforms mismatch (-want +got):\n%s", diff)
	}
	if s.Cloud.Endpoint != "https://cloud.example.com" {
		t.Errorf("endpoint = %q", s.Cloud.Endpoint)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DYNAMO_CONTAINERD_NAMESPACE", "from-env")
	t.Setenv("DYNAMO_CLOUD_TOKEN", "secret")

	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Containerd.Namespace != "from-env" {
		t.Errorf("namespace = %q, want from-env", s.Containerd.Namespace)
	}
	if s.Cloud.Token != "secret" {
		t.Errorf("token = %q, want secret", s.Cloud.Token)
	}
}

func TestLoadUnknownEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("build:\n  engine: podman\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if !errors.Is(err, ErrUnknownEngine) {
		t.Fatalf("err = %v, want ErrUnknownEngine", err)
	}
}

func TestSaveMergesKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := Save(path, map[string]any{"cloud.endpoint": "https://a.example.com"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Save(path, map[string]any{"cloud.token": "tok"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Cloud{Endpoint: "https://a.example.com", Token: "tok"}
	if diff := cmp.Diff(want, s.Cloud); diff != "" {
		t.Fatalf("cloud settings mismatch (-want +got):\n%s", diff)
	}
}
