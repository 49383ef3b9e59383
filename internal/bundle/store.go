package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ai-dynamo/dynamo-cli/internal/paths"
)

// Build records kept in a directory tree, one directory per name and
// version.
type Store struct {
	root string
}

// Creates a store rooted at the given directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Returns the directory of a build.
func (s *Store) Dir(name, version string) string {
	return filepath.Join(s.root, name, version)
}

// Writes a build record into its build directory.
//
// The record is written to a temporary file and renamed into place.
func (s *Store) Put(b *Bundle) error {
	if b.Dir == "" {
		b.Dir = s.Dir(b.Name, b.Version)
	}
	if err := os.MkdirAll(b.Dir, paths.DefaultDirMode); err != nil {
		return fmt.Errorf("%w: %w", ErrBundle, err)
	}

	data, err := yaml.Marshal(b)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBundle, err)
	}

	path := filepath.Join(b.Dir, RecordFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, paths.DefaultFileMode); err != nil {
		return fmt.Errorf("%w: %w", ErrBundle, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %w", ErrBundle, err)
	}
	return nil
}

// Returns the build for a "name:version" tag.
//
// A bare name or the "latest" version selects the most recent build of the
// name, unless a build was explicitly versioned "latest".
func (s *Store) Get(tag string) (*Bundle, error) {
	name, version, err := ParseTag(tag)
	if err != nil {
		return nil, err
	}

	b, err := s.read(name, version)
	if err == nil || version != Latest || !errors.Is(err, ErrNotFound) {
		return b, err
	}

	builds, err := s.listName(name)
	if err != nil {
		return nil, err
	}
	if len(builds) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tag)
	}
	return builds[0], nil
}

// Returns every build, grouped by name and newest first within a name.
func (s *Store) List() ([]*Bundle, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBundle, err)
	}

	var all []*Bundle
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		builds, err := s.listName(e.Name())
		if err != nil {
			return nil, err
		}
		all = append(all, builds...)
	}
	return all, nil
}

// Removes a build and its directory. Removing the last build of a name also
// removes the name's directory.
func (s *Store) Delete(tag string) error {
	b, err := s.Get(tag)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(b.Dir); err != nil {
		return fmt.Errorf("%w: %w", ErrBundle, err)
	}

	// Fails harmlessly while other versions remain.
	os.Remove(filepath.Dir(b.Dir))
	return nil
}

// Returns the builds of a name, newest first.
func (s *Store) listName(name string) ([]*Bundle, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBundle, err)
	}

	var builds []*Bundle
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		b, err := s.read(name, e.Name())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}

	sort.SliceStable(builds, func(i, j int) bool {
		return builds[i].CreatedAt.After(builds[j].CreatedAt)
	})
	return builds, nil
}

// Reads the record of a build.
func (s *Store) read(name, version string) (*Bundle, error) {
	dir := s.Dir(name, version)

	data, err := os.ReadFile(filepath.Join(dir, RecordFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s:%s", ErrNotFound, name, version)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBundle, err)
	}

	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %s:%s: %w", ErrBundle, name, version, err)
	}
	b.Dir = dir
	return &b, nil
}

// Splits a build tag into name and version. The version defaults to
// "latest".
func ParseTag(tag string) (name, version string, err error) {
	name, version, found := strings.Cut(strings.TrimSpace(tag), ":")
	if !found {
		version = Latest
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	if !versionPattern.MatchString(version) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	return name, version, nil
}
