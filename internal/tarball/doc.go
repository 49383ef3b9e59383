// Package tarball writes host files and directory trees to tar streams.
//
// Directory walks honour exclude patterns, so the same rules decide what is
// copied into a build container and what is packaged into a bundle.
// Patterns use [path.Match] syntax and are matched against the slash
// separated path relative to the walked directory and against each path
// element. A pattern ending in "/" only matches directories. A matching
// directory is skipped with everything under it.
//
// Example usage:
//
//	tw := tar.NewWriter(w)
//	defer tw.Close()
//
//	err := tarball.WriteDir(tw, "graphs", "src", []string{"*.pyc", "__pycache__/", ".git"})
//	if err != nil {
//	    return err
//	}
package tarball
