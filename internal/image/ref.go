package image

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/ai-dynamo/dynamo-cli/internal/graph"
	"github.com/distribution/reference"
)

const (

	// Environment variable naming the base image.
	EnvImage = "DYNAMO_IMAGE"

	// CI variables the base image pipeline is parameterized with.
	EnvRegistryImage = "CI_REGISTRY_IMAGE"
	EnvCommitSHA     = "CI_COMMIT_SHA"

	// Repository name of the base image under the CI registry.
	baseRepository = "dynamo-base-docker"

	// Tag used when no version is given.
	DefaultVersion = "latest"

	// Prefix marking a base image given as a local OCI archive.
	archivePrefix = "oci-archive:"
)

// Returns the base image reference produced by the base image pipeline for
// the given registry and commit (e.g., "my-registry/dynamo-base-docker:abc").
func BaseImageRef(registry, commit string) (string, error) {
	registry = strings.TrimSuffix(strings.TrimSpace(registry), "/")
	commit = strings.TrimSpace(commit)
	if registry == "" || commit == "" {
		return "", fmt.Errorf("%w: registry and commit are required", ErrInvalidReference)
	}

	ref := fmt.Sprintf("%s/%s:%s", registry, baseRepository, commit)
	if _, err := reference.ParseNormalizedNamed(ref); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidReference, ref, err)
	}
	return ref, nil
}

// Determines the base image to build from.
//
// An explicit value wins, then DYNAMO_IMAGE, then the image the base image
// pipeline publishes for CI_REGISTRY_IMAGE and CI_COMMIT_SHA. Returns
// [ErrNoBaseImage] when none of them is set.
func ResolveBaseImage(explicit string, getenv func(string) string) (string, error) {
	if v := strings.TrimSpace(explicit); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(getenv(EnvImage)); v != "" {
		return v, nil
	}

	registry, commit := getenv(EnvRegistryImage), getenv(EnvCommitSHA)
	if registry != "" && commit != "" {
		return BaseImageRef(registry, commit)
	}

	return "", fmt.Errorf("%w: set %s or pass --base-image", ErrNoBaseImage, EnvImage)
}

// Returns the image tag for a graph.
//
// The repository is the entrypoint followed by the module name, both in
// kebab case. The version defaults to "latest" and an optional registry is
// prepended. For hello_world:Frontend the tag is
// "frontend-hello-world:latest".
func TagFor(ref graph.Ref, version, registry string) (string, error) {
	if version == "" {
		version = DefaultVersion
	}

	name := RepositoryName(ref)
	if registry = strings.TrimSuffix(strings.TrimSpace(registry), "/"); registry != "" {
		name = registry + "/" + name
	}

	tag := name + ":" + version
	if _, err := reference.ParseNormalizedNamed(tag); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidReference, tag, err)
	}
	return tag, nil
}

// Returns the repository name of a graph's image, the entrypoint followed by
// the module name in kebab case (e.g., "frontend-hello-world").
func RepositoryName(ref graph.Ref) string {
	return kebab(ref.Entrypoint) + "-" + kebab(ref.Name())
}

// Returns the fully qualified form of a reference, as containerd stores it
// (e.g., "docker.io/library/frontend-hello-world:latest"). References without
// a tag or digest get ":latest".
func Normalize(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidReference, ref, err)
	}
	return reference.TagNameOnly(named).String(), nil
}

// Returns the short form of a reference, as Docker prints it
// (e.g., "frontend-hello-world:latest"). Unparseable input is returned as is.
func Familiar(ref string) string {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return ref
	}
	return reference.FamiliarString(reference.TagNameOnly(named))
}

// Returns the host part of a reference (e.g., "docker.io").
func Domain(ref string) string {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return ""
	}
	return reference.Domain(named)
}

// Reports whether the base image names a local OCI archive and returns its
// path.
//
// Archives are written as "oci-archive:<path>" or as a path to an existing
// ".tar" file.
func ArchivePath(ref string) (string, bool) {
	if path, ok := strings.CutPrefix(ref, archivePrefix); ok {
		return path, true
	}
	if strings.HasSuffix(ref, ".tar") {
		if info, err := os.Stat(ref); err == nil && !info.IsDir() {
			return ref, true
		}
	}
	return "", false
}

// Returns the base image naming a local OCI archive.
func ArchiveRef(path string) string {
	return archivePrefix + path
}

// Converts an identifier to kebab case.
//
// Word boundaries are underscores, dots, dashes, lower-to-upper transitions
// ("VllmWorker" -> "vllm-worker") and the end of an acronym ("LLMRouter" ->
// "llm-router").
func kebab(s string) string {
	runes := []rune(s)
	var b strings.Builder

	for i, r := range runes {
		switch {
		case r == '_' || r == '.' || r == '-' || unicode.IsSpace(r):
			b.WriteByte('-')
			continue
		case unicode.IsUpper(r) && i > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}

	parts := strings.FieldsFunc(b.String(), func(r rune) bool { return r == '-' })
	return strings.Join(parts, "-")
}
