// Package image names container images and authenticates against registries.
//
// Graph images are tagged after the graph they contain: the entrypoint and
// the module name in kebab case, so hello_world:Frontend becomes
// "frontend-hello-world:latest". Base images are taken from DYNAMO_IMAGE, or
// derived from the CI variables the base image pipeline is run with
// ("<CI_REGISTRY_IMAGE>/dynamo-base-docker:<CI_COMMIT_SHA>").
//
// Registry access goes through a containerd resolver. Credentials for
// Amazon ECR hosts are fetched from ECR with the default AWS credential
// chain; every other host uses the static credentials from the settings.
//
// Example usage:
//
//	base, err := image.ResolveBaseImage("", os.Getenv)
//	if err != nil {
//	    return err
//	}
//
//	tag, err := image.TagFor(ref, "", "")
//	if err != nil {
//	    return err
//	}
//
//	resolver := image.NewResolver(ctx, image.NewCredentials(static, ""), false)
package image
