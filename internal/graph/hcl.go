package graph

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Top-level structure of a graph file.
type hclGraphFile struct {
	Services []*hclService `hcl:"service,block"`
	Build    *hclBuild     `hcl:"build,block"`
}

// A service block.
type hclService struct {
	Name      string        `hcl:"name,label"`
	Namespace *string       `hcl:"namespace,optional"`
	Workers   *int          `hcl:"workers,optional"`
	DependsOn []string      `hcl:"depends_on,optional"`
	Command   []string      `hcl:"command,optional"`
	Resources *hclResources `hcl:"resources,block"`
	Config    cty.Value     `hcl:"config,optional"`
}

// A resources block inside a service block.
type hclResources struct {
	CPU    *string `hcl:"cpu,optional"`
	Memory *string `hcl:"memory,optional"`
	GPU    *string `hcl:"gpu,optional"`
}

// The build block.
type hclBuild struct {
	Env        map[string]string `hcl:"env,optional"`
	Run        []string          `hcl:"run,optional"`
	Exclude    []string          `hcl:"exclude,optional"`
	Entrypoint []string          `hcl:"entrypoint,optional"`
}

// Parses a graph file into its services and build instructions.
func decodeFile(path string) (map[string]*Service, BuildSpec, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, BuildSpec{}, fmt.Errorf("%w: %s", ErrGraphFile, diags.Error())
	}

	var parsed hclGraphFile
	diags = gohcl.DecodeBody(file.Body, nil, &parsed)
	if diags.HasErrors() {
		return nil, BuildSpec{}, fmt.Errorf("%w: %s", ErrGraphFile, diags.Error())
	}

	services := make(map[string]*Service, len(parsed.Services))
	for _, hs := range parsed.Services {
		if _, dup := services[hs.Name]; dup {
			return nil, BuildSpec{}, fmt.Errorf("%w: %s: service %q declared more than once", ErrGraphFile, path, hs.Name)
		}
		svc, err := hs.service()
		if err != nil {
			return nil, BuildSpec{}, fmt.Errorf("%w: %s: %w", ErrGraphFile, path, err)
		}
		services[hs.Name] = svc
	}

	var build BuildSpec
	if parsed.Build != nil {
		build = BuildSpec{
			Env:        parsed.Build.Env,
			Run:        parsed.Build.Run,
			Exclude:    parsed.Build.Exclude,
			Entrypoint: parsed.Build.Entrypoint,
		}
	}

	return services, build, nil
}

// Converts a decoded service block, applying defaults.
func (hs *hclService) service() (*Service, error) {
	if !identifier.MatchString(hs.Name) {
		return nil, fmt.Errorf("invalid service name %q", hs.Name)
	}

	svc := &Service{
		Name:      hs.Name,
		Namespace: DefaultNamespace,
		Workers:   1,
		DependsOn: hs.DependsOn,
		Command:   hs.Command,
	}

	if hs.Namespace != nil && *hs.Namespace != "" {
		svc.Namespace = *hs.Namespace
	}
	if hs.Workers != nil {
		if *hs.Workers < 0 {
			return nil, fmt.Errorf("service %q: workers must not be negative", hs.Name)
		}
		if *hs.Workers > 0 {
			svc.Workers = *hs.Workers
		}
	}
	if r := hs.Resources; r != nil {
		svc.Resources = Resources{
			CPU:    deref(r.CPU),
			Memory: deref(r.Memory),
			GPU:    deref(r.GPU),
		}
	}

	config, err := objectToMap(hs.Config)
	if err != nil {
		return nil, fmt.Errorf("service %q: config: %w", hs.Name, err)
	}
	svc.Config = config

	return svc, nil
}

// Converts an HCL object or map value into plain Go values.
//
// Numbers become float64, matching what encoding/json produces, so values
// round-trip unchanged into DYNAMO_SERVICE_CONFIG.
func objectToMap(v cty.Value) (map[string]any, error) {
	if v.IsNull() {
		return nil, nil
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("expected an object, got %s", ty.FriendlyName())
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value must be known")
	}

	b, err := ctyjson.Marshal(v, ty)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
