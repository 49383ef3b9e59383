package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal/timing"
)

const (

	// Scheme prefix of object store paths.
	s3Scheme = "s3://"

	// Size of the parts uploads are split into. Objects larger than one part
	// are sent as a multipart upload, which lifts the single request limit
	// of 5 GiB.
	uploadPartSize = 64 << 20
)

var (
	ErrInvalidPath = errors.New("invalid object store path")
	ErrObjectStore = errors.New("object store error")
)

// Modifies a download request.
type DownloadObjectOption = func(*s3.GetObjectInput)

// Reads and writes objects in an external object storage service such as
// AWS S3.
type ObjectStore interface {
	UploadObject(ctx context.Context, path string, r io.Reader) error
	DownloadObject(ctx context.Context, path string, opts ...DownloadObjectOption) (io.ReadCloser, error)
	ListObjects(ctx context.Context, path string) ([]string, error)
}

// Reports whether a path names an object store location.
func IsObjectPath(p string) bool {
	return strings.HasPrefix(p, s3Scheme)
}

// Splits "s3://bucket/key" into bucket and key.
func splitS3Path(p string) (bucket string, key string, err error) {
	if !strings.HasPrefix(p, s3Scheme) {
		return "", "", fmt.Errorf("%w: missing %s prefix: %s", ErrInvalidPath, s3Scheme, p)
	}
	bucket, key, found := strings.Cut(p[len(s3Scheme):], "/")
	if !found || bucket == "" {
		return "", "", fmt.Errorf("%w: no bucket and key in %s", ErrInvalidPath, p)
	}
	return bucket, key, nil
}

// AWS S3 implementation of [ObjectStore].
type s3ObjectStore struct {
	client   *s3.Client        // Client for downloads and listings.
	uploader *manager.Uploader // Splits uploads into parts.
}

// Creates an S3 backed object store.
func NewS3(cfg aws.Config) ObjectStore {
	client := s3.NewFromConfig(cfg)
	return &s3ObjectStore{client: client, uploader: newUploader(client, uploadPartSize)}
}

// Creates an uploader sending parts of partSize bytes.
func newUploader(client manager.UploadAPIClient, partSize int64) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
}

// Creates an S3 backed object store from the default AWS credential chain.
// An empty region uses the region from the environment or shared config.
func NewS3FromEnv(ctx context.Context, region string) (ObjectStore, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrObjectStore, err)
	}
	return NewS3(cfg), nil
}

func (store *s3ObjectStore) UploadObject(ctx context.Context, p string, r io.Reader) error {
	bucket, key, err := splitS3Path(p)
	if err != nil {
		return err
	}

	if _, err := store.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   r,
	}); err != nil {
		return fmt.Errorf("%w: uploading %s: %w", ErrObjectStore, p, err)
	}
	return nil
}

func (store *s3ObjectStore) DownloadObject(ctx context.Context, p string, opts ...DownloadObjectOption) (io.ReadCloser, error) {
	bucket, key, err := splitS3Path(p)
	if err != nil {
		return nil, err
	}

	in := s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}
	for _, opt := range opts {
		opt(&in)
	}

	out, err := store.client.GetObject(ctx, &in)
	if err != nil {
		return nil, fmt.Errorf("%w: downloading %s: %w", ErrObjectStore, p, err)
	}
	return out.Body, nil
}

func (store *s3ObjectStore) ListObjects(ctx context.Context, p string) ([]string, error) {
	bucket, prefix, err := splitS3Path(p)
	if err != nil {
		return nil, err
	}

	paginator := s3.NewListObjectsV2Paginator(store.client, &s3.ListObjectsV2Input{
		Bucket: &bucket,
		Prefix: &prefix,
	})

	objectPaths := []string{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: listing %s: %w", ErrObjectStore, p, err)
		}
		for _, obj := range page.Contents {
			objectPaths = append(objectPaths, fmt.Sprintf("%s%s/%s", s3Scheme, bucket, aws.ToString(obj.Key)))
		}
	}
	return objectPaths, nil
}

// Uploads a local file under the destination prefix with the given object
// name and returns the object path.
func UploadFileAs(ctx context.Context, store ObjectStore, dest, local, name string) (string, error) {
	target, err := Join(dest, name)
	if err != nil {
		return "", err
	}

	defer timing.Track("upload", logrus.Fields{"src": local, "dest": target})()

	f, err := os.Open(local)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrObjectStore, err)
	}
	defer f.Close()

	if err := store.UploadObject(ctx, target, f); err != nil {
		return "", err
	}

	logrus.WithField("dest", target).Info("uploaded")
	return target, nil
}

// Returns the object path of name under the destination prefix.
func Join(dest, name string) (string, error) {
	bucket, prefix, err := splitS3Path(strings.TrimSuffix(dest, "/") + "/")
	if err != nil {
		return "", err
	}
	return s3Scheme + bucket + "/" + path.Join(prefix, name), nil
}

// Downloads an object into dir and returns the local path, named after the
// object's base name.
func DownloadFile(ctx context.Context, store ObjectStore, src, dir string) (string, error) {
	if _, _, err := splitS3Path(src); err != nil {
		return "", err
	}
	local := filepath.Join(dir, path.Base(src))

	defer timing.Track("download", logrus.Fields{"src": src, "dest": local})()

	body, err := store.DownloadObject(ctx, src)
	if err != nil {
		return "", err
	}
	defer body.Close()

	f, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrObjectStore, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return "", fmt.Errorf("%w: downloading %s: %w", ErrObjectStore, src, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrObjectStore, err)
	}

	logrus.WithField("src", src).Debug("downloaded")
	return local, nil
}
