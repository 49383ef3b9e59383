// Package runtime manages images and containers backed by containerd.
//
// A [Runtime] connects to a containerd daemon and provides image pull,
// import, export and push, plus container creation. Base images are reused
// from the image store when present, pulled otherwise, and unpacked for the
// target platform into the configured snapshotter.
//
// Each [Container] wraps a running containerd task. Commands can be
// executed inside the container, files can be copied in and out as tar
// streams, and the final filesystem state can be committed as a new image
// manifest. Manifests committed for several platforms are stored under one
// tag with [Runtime.CreateImage]. When the container is no longer needed it
// should be destroyed to release its snapshot and task resources.
//
// Long-running service containers are started with [Runtime.Run].
//
// Example usage:
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "moby")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	ctx, done, err := rt.WithLease(ctx)
//	if err != nil {
//	    return err
//	}
//	defer done(context.Background())
//
//	ctr, err := rt.StartContainer(ctx, "docker.io/library/python:3.12", "build-1", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//	defer ctr.Destroy(ctx)
//
//	if _, err := ctr.Exec(ctx, "/bin/sh", "pip install dynamo", nil, "", nil); err != nil {
//	    return err
//	}
//
//	desc, err := ctr.Commit(ctx, manifest.Image{Entrypoint: []string{"dynamo", "serve"}})
//	if err != nil {
//	    return err
//	}
//
//	if err := rt.CreateImage(ctx, "docker.io/library/app:latest", []ocispec.Descriptor{desc}); err != nil {
//	    return err
//	}
package runtime
