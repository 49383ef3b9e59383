package build

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal/manifest"
	"github.com/ai-dynamo/dynamo-cli/internal/tarball"
)

// Executes a copy operation, transferring files into the container.
//
// The copy string has the format "src dest" for host copies, or "stage:src
// dest" for cross-stage copies. Host sources are resolved relative to the
// build context and skip entries matching excludes. Cross-stage sources are
// read from a named stage container's filesystem.
func (ex *executor) copy(ctx context.Context, copyStr, workdir string, excludes []string) error {
	src, dest, err := manifest.ParseCopy(copyStr, workdir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	// Ensure the destination parent directory exists.
	if destDir := filepath.Dir(dest); destDir != "" {
		if err := ex.ctr.MkdirAll(ctx, destDir); err != nil {
			return fmt.Errorf("%w: %w", ErrCopy, err)
		}
	}

	// Cross-stage copy: "stage:path".
	if stage, path, ok := manifest.ParseStageCopy(src); ok {
		return ex.stageCopy(ctx, stage, path, dest)
	}

	return ex.hostCopy(ctx, src, dest, excludes)
}

// Copies a file or directory from the host into the container.
func (ex *executor) hostCopy(ctx context.Context, src, dest string, excludes []string) error {
	if !filepath.IsAbs(src) {
		src = filepath.Join(ex.buildCtx, src)
	}

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	logrus.WithFields(logrus.Fields{"src": src, "dest": dest, "dir": info.IsDir()}).Debug("copy")

	pr, pw := io.Pipe()

	go func() {
		tw := tar.NewWriter(pw)
		var writeErr error

		if info.IsDir() {
			writeErr = tarball.WriteDir(tw, src, filepath.Base(dest), excludes)
		} else {
			writeErr = tarball.WriteFile(tw, src, filepath.Base(dest))
		}

		if closeErr := tw.Close(); writeErr == nil {
			writeErr = closeErr
		}
		pw.CloseWithError(writeErr)
	}()

	if err := ex.ctr.CopyTo(ctx, pr, filepath.Dir(dest)); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	return nil
}

// Copies a path from a named stage container into the target container.
//
// The tar stream is piped directly from the source container's CopyFrom
// to the target container's CopyTo.
func (ex *executor) stageCopy(ctx context.Context, stage, path, dest string) error {
	srcCtr, ok := ex.stages[stage]
	if !ok {
		return fmt.Errorf("%w: unknown stage %q", ErrCopy, stage)
	}

	logrus.WithFields(logrus.Fields{"stage": stage, "src": path, "dest": dest}).Debug("cross-stage copy")

	pr, pw := io.Pipe()

	errc := make(chan error, 1)
	go func() {
		err := srcCtr.CopyFrom(ctx, pw, path)
		pw.CloseWithError(err)
		errc <- err
	}()

	if err := ex.ctr.CopyTo(ctx, pr, filepath.Dir(dest)); err != nil {
		pr.CloseWithError(err)
		<-errc
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	if err := <-errc; err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	return nil
}
