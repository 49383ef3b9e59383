// Package objectstore reads and writes objects in an external object store
// addressed by "s3://bucket/key" paths.
//
// Example usage:
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	if err != nil {
//	    return err
//	}
//
//	store := objectstore.NewS3(cfg)
//	location, err := objectstore.UploadFileAs(ctx, store, "s3://artifacts/builds", "dist/image.tar", "frontend-v1.tar")
//	if err != nil {
//	    return err
//	}
package objectstore
