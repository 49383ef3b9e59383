// Package manifest describes how an image is built.
//
// A [Recipe] is an ordered list of stages. Each stage starts from a base
// image (a registry reference or a local OCI archive) and runs a list of
// steps: shell commands, host copies and copies from earlier stages, with
// shell, working directory and environment modifiers that persist for the
// rest of the stage. Exactly one stage is not transient; it becomes the
// output image, configured by an [Image].
//
// Recipes are engine-neutral. The build package runs them on containerd and
// the daggerbuild package runs them on a Dagger engine.
package manifest
