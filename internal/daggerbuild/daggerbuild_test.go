package daggerbuild

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ai-dynamo/dynamo-cli/internal/manifest"
)

func TestSortedKeys(t *testing.T) {
	got := sortedKeys(map[string]string{"b": "2", "c": "3", "a": "1"})
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Fatalf("sortedKeys mismatch (-want +got):\n%s", diff)
	}
	if got := sortedKeys(nil); len(got) != 0 {
		t.Fatalf("sortedKeys(nil) = %v, want empty", got)
	}
}

func TestRunRejectsInvalidOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{
			name:    "no recipe",
			opts:    Options{Image: manifest.Image{Tag: "app:latest"}},
			wantErr: manifest.ErrInvalidRecipe,
		},
		{
			name: "two output stages",
			opts: Options{
				Recipe: &manifest.Recipe{Stages: []manifest.Stage{{From: "a:1"}, {From: "b:1"}}},
				Image:  manifest.Image{Tag: "app:latest"},
			},
			wantErr: manifest.ErrInvalidRecipe,
		},
		{
			name: "no tag",
			opts: Options{
				Recipe: &manifest.Recipe{Stages: []manifest.Stage{{From: "a:1"}}},
			},
			wantErr: ErrBuild,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), nil, tt.opts)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
