package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseFrom(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "base.tar")
	if err := os.WriteFile(archive, nil, 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		from    string
		want    Source
		wantErr error
	}{
		{
			name: "registry",
			from: "my-registry/dynamo-base-docker:hello-world",
			want: Source{Kind: SourceRegistry, Value: "my-registry/dynamo-base-docker:hello-world"},
		},
		{
			name: "archive path",
			from: archive,
			want: Source{Kind: SourceArchive, Value: archive},
		},
		{
			name: "archive prefix",
			from: "oci-archive:/images/base.tar",
			want: Source{Kind: SourceArchive, Value: "/images/base.tar"},
		},
		{
			name:    "empty",
			wantErr: ErrMissingFrom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Stage{From: tt.from}.ParseFrom()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseFrom = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		recipe  Recipe
		wantErr bool
	}{
		{
			name: "single stage",
			recipe: Recipe{Stages: []Stage{
				{From: "base:1", Steps: []Step{{Run: "true"}}},
			}},
		},
		{
			name: "builder and output",
			recipe: Recipe{Stages: []Stage{
				{Name: "builder", From: "base:1", Transient: true},
				{From: "base:1", Steps: []Step{{Copy: "builder:/out /opt/out"}}},
			}},
		},
		{
			name:    "no stages",
			recipe:  Recipe{},
			wantErr: true,
		},
		{
			name: "missing from",
			recipe: Recipe{Stages: []Stage{
				{Steps: []Step{{Run: "true"}}},
			}},
			wantErr: true,
		},
		{
			name: "two outputs",
			recipe: Recipe{Stages: []Stage{
				{From: "base:1"},
				{From: "base:1"},
			}},
			wantErr: true,
		},
		{
			name: "only transient stages",
			recipe: Recipe{Stages: []Stage{
				{From: "base:1", Transient: true},
			}},
			wantErr: true,
		},
		{
			name: "duplicate names",
			recipe: Recipe{Stages: []Stage{
				{Name: "a", From: "base:1", Transient: true},
				{Name: "a", From: "base:1"},
			}},
			wantErr: true,
		},
		{
			name: "run and copy",
			recipe: Recipe{Stages: []Stage{
				{From: "base:1", Steps: []Step{{Run: "true", Copy: "a /b"}}},
			}},
			wantErr: true,
		},
		{
			name: "nested run and copy",
			recipe: Recipe{Stages: []Stage{
				{From: "base:1", Steps: []Step{{Workdir: "/a", Steps: []Step{{Run: "true", Copy: "a /b"}}}}},
			}},
			wantErr: true,
		},
		{
			name: "group with operation",
			recipe: Recipe{Stages: []Stage{
				{From: "base:1", Steps: []Step{{Run: "true", Steps: []Step{{Run: "true"}}}}},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.recipe.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRecipe) {
					t.Fatalf("err = %v, want ErrInvalidRecipe", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
