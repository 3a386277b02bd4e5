package media

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSUploader stores media in a Cloud Storage bucket.
type GCSUploader struct {
	client *storage.Client
	bucket string
}

// NewGCSUploader wraps an existing storage client.
func NewGCSUploader(client *storage.Client, bucket string) *GCSUploader {
	return &GCSUploader{client: client, bucket: bucket}
}

// Upload writes the reader's bytes to the bucket and returns the public
// object URL.
func (u *GCSUploader) Upload(ctx context.Context, r io.Reader, objectPath string) (string, error) {
	w := u.client.Bucket(u.bucket).Object(objectPath).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object %s: %w", objectPath, err)
	}
	return PublicURL(u.bucket, objectPath), nil
}

// PublicURL builds the canonical download URL for a bucket object.
func PublicURL(bucket, objectPath string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, objectPath)
}
