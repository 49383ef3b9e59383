package runtime

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ai-dynamo/dynamo-cli/internal/manifest"
)

func TestManifestGCLabels(t *testing.T) {
	m := ocispec.Manifest{
		Config: ocispec.Descriptor{
			Digest: digest.FromString("config"),
		},
		Layers: []ocispec.Descriptor{
			{Digest: digest.FromString("layer0")},
			{Digest: digest.FromString("layer1")},
		},
	}

	labels := manifestGCLabels(m)

	configLabel := labels["containerd.io/gc.ref.content.config"]
	if configLabel != m.Config.Digest.String() {
		t.Fatalf("config label = %q, want %q", configLabel, m.Config.Digest.String())
	}

	for i, layer := range m.Layers {
		key := "containerd.io/gc.ref.content.l." + string(rune('0'+i))
		got := labels[key]
		if got != layer.Digest.String() {
			t.Fatalf("labels[%q] = %q, want %q", key, got, layer.Digest.String())
		}
	}

	if len(labels) != 3 {
		t.Fatalf("len(labels) = %d, want 3", len(labels))
	}
}

func TestManifestGCLabelsNoLayers(t *testing.T) {
	m := ocispec.Manifest{
		Config: ocispec.Descriptor{
			Digest: digest.FromString("config-only"),
		},
	}

	labels := manifestGCLabels(m)
	if len(labels) != 1 {
		t.Fatalf("len(labels) = %d, want 1", len(labels))
	}
	if labels["containerd.io/gc.ref.content.config"] != m.Config.Digest.String() {
		t.Fatal("config label mismatch")
	}
}

func TestIndexGCLabels(t *testing.T) {
	idx := ocispec.Index{Manifests: []ocispec.Descriptor{
		{Digest: digest.FromString("amd64")},
		{Digest: digest.FromString("arm64")},
	}}

	want := map[string]string{
		"containerd.io/gc.ref.content.m.0": digest.FromString("amd64").String(),
		"containerd.io/gc.ref.content.m.1": digest.FromString("arm64").String(),
	}
	if diff := cmp.Diff(want, indexGCLabels(idx)); diff != "" {
		t.Fatalf("indexGCLabels mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyImageConfig(t *testing.T) {
	base := func() ocispec.ImageConfig {
		return ocispec.ImageConfig{
			Entrypoint: []string{"/bin/sh"},
			Cmd:        []string{"-c", "echo base"},
			Env:        []string{"PATH=/usr/bin", "LANG=C"},
			WorkingDir: "/",
			Labels:     map[string]string{"maintainer": "base"},
		}
	}

	tests := []struct {
		name string
		img  manifest.Image
		want ocispec.ImageConfig
	}{
		{
			name: "empty keeps base",
			img:  manifest.Image{},
			want: base(),
		},
		{
			name: "entrypoint replaces command",
			img:  manifest.Image{Entrypoint: []string{"dynamo", "serve", "graphs.agg:Frontend"}},
			want: ocispec.ImageConfig{
				Entrypoint: []string{"dynamo", "serve", "graphs.agg:Frontend"},
				Env:        []string{"PATH=/usr/bin", "LANG=C"},
				WorkingDir: "/",
				Labels:     map[string]string{"maintainer": "base"},
			},
		},
		{
			name: "command only",
			img:  manifest.Image{Cmd: []string{"--help"}},
			want: ocispec.ImageConfig{
				Entrypoint: []string{"/bin/sh"},
				Cmd:        []string{"--help"},
				Env:        []string{"PATH=/usr/bin", "LANG=C"},
				WorkingDir: "/",
				Labels:     map[string]string{"maintainer": "base"},
			},
		},
		{
			name: "env workdir and labels",
			img: manifest.Image{
				Env:     map[string]string{"LANG": "C.UTF-8", "DYNAMO_GRAPH": "graphs.agg:Frontend"},
				Workdir: "/src",
				Labels:  map[string]string{"ai.dynamo.graph": "graphs.agg:Frontend"},
			},
			want: ocispec.ImageConfig{
				Entrypoint: []string{"/bin/sh"},
				Cmd:        []string{"-c", "echo base"},
				Env:        []string{"DYNAMO_GRAPH=graphs.agg:Frontend", "LANG=C.UTF-8", "PATH=/usr/bin"},
				WorkingDir: "/src",
				Labels:     map[string]string{"maintainer": "base", "ai.dynamo.graph": "graphs.agg:Frontend"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			applyImageConfig(&cfg, tt.img)
			if diff := cmp.Diff(tt.want, cfg); diff != "" {
				t.Fatalf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEnvList(t *testing.T) {
	got := envList(map[string]string{"B": "2", "A": "1"})
	want := []string{"A=1", "B=2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("envList mismatch (-want +got):\n%s", diff)
	}
}
