package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestSplitS3Path(t *testing.T) {
	tests := []struct {
		path    string
		bucket  string
		key     string
		wantErr bool
	}{
		{path: "s3://artifacts/builds/image.tar", bucket: "artifacts", key: "builds/image.tar"},
		{path: "s3://artifacts/", bucket: "artifacts", key: ""},
		{path: "s3://artifacts", wantErr: true},
		{path: "s3:///key", wantErr: true},
		{path: "gs://artifacts/key", wantErr: true},
		{path: "/local/path", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			bucket, key, err := splitS3Path(tt.path)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPath) {
					t.Fatalf("err = %v, want ErrInvalidPath", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Fatalf("splitS3Path = %q, %q, want %q, %q", bucket, key, tt.bucket, tt.key)
			}
		})
	}
}

func TestIsObjectPath(t *testing.T) {
	if !IsObjectPath("s3://bucket/key") {
		t.Fatal("s3 path not recognized")
	}
	if IsObjectPath("dist/image.tar") {
		t.Fatal("local path recognized as object path")
	}
}

// Keeps uploaded objects in memory.
type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) UploadObject(ctx context.Context, path string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memoryStore) DownloadObject(ctx context.Context, path string, opts ...DownloadObjectOption) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.objects[path])), nil
}

func (m *memoryStore) ListObjects(ctx context.Context, path string) ([]string, error) {
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, path) {
			out = append(out, k)
		}
	}
	return out, nil
}

func TestUploadFileAs(t *testing.T) {
	local := filepath.Join(t.TempDir(), "image.tar")
	if err := os.WriteFile(local, []byte("archive"), 0644); err != nil {
		t.Fatal(err)
	}

	store := &memoryStore{objects: map[string][]byte{}}

	for _, dest := range []string{"s3://artifacts/builds", "s3://artifacts/builds/"} {
		got, err := UploadFileAs(context.Background(), store, dest, local, "image.tar")
		if err != nil {
			t.Fatalf("UploadFileAs(%q): %v", dest, err)
		}
		if got != "s3://artifacts/builds/image.tar" {
			t.Fatalf("UploadFileAs(%q) = %q", dest, got)
		}
	}

	if string(store.objects["s3://artifacts/builds/image.tar"]) != "archive" {
		t.Fatalf("objects = %v", store.objects)
	}
}

func TestUploadFileAsBucketRoot(t *testing.T) {
	local := filepath.Join(t.TempDir(), "image.tar")
	if err := os.WriteFile(local, []byte("archive"), 0644); err != nil {
		t.Fatal(err)
	}

	store := &memoryStore{objects: map[string][]byte{}}
	got, err := UploadFileAs(context.Background(), store, "s3://artifacts", local, "frontend-hello-world-v1.tar")
	if err != nil {
		t.Fatal(err)
	}
	if got != "s3://artifacts/frontend-hello-world-v1.tar" {
		t.Fatalf("UploadFileAs = %q", got)
	}
}

func TestUploadFileRejectsLocalDestination(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{}}
	if _, err := UploadFileAs(context.Background(), store, "/tmp/out", "image.tar", "image.tar"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
}

func TestDownloadFile(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{
		"s3://artifacts/bases/base.tar": []byte("layers"),
	}}

	dir := t.TempDir()
	got, err := DownloadFile(context.Background(), store, "s3://artifacts/bases/base.tar", dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(dir, "base.tar") {
		t.Fatalf("DownloadFile = %q", got)
	}

	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "layers" {
		t.Fatalf("content = %q", data)
	}

	if _, err := DownloadFile(context.Background(), store, "bases/base.tar", dir); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		dest string
		want string
	}{
		{dest: "s3://artifacts", want: "s3://artifacts/image.tar"},
		{dest: "s3://artifacts/builds/", want: "s3://artifacts/builds/image.tar"},
		{dest: "s3://artifacts/a/b", want: "s3://artifacts/a/b/image.tar"},
	}

	for _, tt := range tests {
		got, err := Join(tt.dest, "image.tar")
		if err != nil {
			t.Fatalf("Join(%q): %v", tt.dest, err)
		}
		if got != tt.want {
			t.Fatalf("Join(%q) = %q, want %q", tt.dest, got, tt.want)
		}
	}
}

// Records the requests an uploader sends to S3.
type uploadClient struct {
	mu        sync.Mutex
	puts      int
	creates   int
	completes int
	parts     map[int32][]byte
}

func (c *uploadClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	return &s3.PutObjectOutput{}, nil
}

func (c *uploadClient) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creates++
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (c *uploadClient) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parts[in.PartNumber] = b
	return &s3.UploadPartOutput{ETag: aws.String("etag")}, nil
}

func (c *uploadClient) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completes++
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (c *uploadClient) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestUploadObjectMultipart(t *testing.T) {
	client := &uploadClient{parts: map[int32][]byte{}}
	store := &s3ObjectStore{uploader: newUploader(client, manager.MinUploadPartSize)}

	data := bytes.Repeat([]byte("x"), int(2*manager.MinUploadPartSize+1))
	if err := store.UploadObject(context.Background(), "s3://artifacts/builds/image.tar", bytes.NewReader(data)); err != nil {
		t.Fatal(err)
	}

	if client.puts != 0 || client.creates != 1 || client.completes != 1 {
		t.Fatalf("puts = %d, creates = %d, completes = %d, want one multipart upload", client.puts, client.creates, client.completes)
	}
	if len(client.parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(client.parts))
	}

	var got []byte
	for n := int32(1); n <= 3; n++ {
		got = append(got, client.parts[n]...)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("reassembled %d bytes, want %d", len(got), len(data))
	}
}

func TestUploadObjectInvalidPath(t *testing.T) {
	store := &s3ObjectStore{uploader: newUploader(&uploadClient{parts: map[int32][]byte{}}, manager.MinUploadPartSize)}
	if err := store.UploadObject(context.Background(), "/tmp/image.tar", strings.NewReader("x")); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
}
