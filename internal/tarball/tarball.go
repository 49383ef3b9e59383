package tarball

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Writes a single file to a tar writer with the given archive name.
func WriteFile(tw *tar.Writer, hostPath, name string) error {
	info, err := os.Stat(hostPath)
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

// Writes a directory tree to a tar writer rooted at the given archive prefix.
//
// Entries matching any of the exclude patterns are left out. An empty prefix
// places the directory's contents at the archive root.
func WriteDir(tw *tar.Writer, hostDir, prefix string, excludes []string) error {
	return filepath.WalkDir(hostDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(hostDir, p)
		if err != nil {
			return err
		}

		if relPath != "." && Excluded(filepath.ToSlash(relPath), d.IsDir(), excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		archivePath := path.Join(prefix, filepath.ToSlash(relPath))
		if archivePath == "." || archivePath == "" {
			return nil
		}
		return writeEntry(tw, p, archivePath, d)
	})
}

// Reports whether a relative, slash separated path matches any of the
// patterns.
//
// A trailing slash restricts a pattern to directories. A leading slash
// anchors it to the root; otherwise a pattern without a slash also matches
// base names at any depth.
func Excluded(rel string, isDir bool, patterns []string) bool {
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)

		dirOnly := strings.HasSuffix(pattern, "/")
		pattern = strings.TrimRight(pattern, "/")
		anchored := strings.HasPrefix(pattern, "/")
		pattern = strings.TrimLeft(pattern, "/")

		if pattern == "" || (dirOnly && !isDir) {
			continue
		}

		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if anchored || strings.Contains(pattern, "/") {
			continue
		}
		if ok, _ := path.Match(pattern, path.Base(rel)); ok {
			return true
		}
	}
	return false
}

// Writes a single file, directory or symlink entry to a tar writer.
func writeEntry(tw *tar.Writer, hostPath, archivePath string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(hostPath); err != nil {
			return err
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = archivePath
	if info.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if info.Mode().IsRegular() {
		f, err := os.Open(hostPath)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	}

	return nil
}
