// Package media provides the upload collaborator used for messages that
// reference a local file queued while offline.
package media

import (
	"context"
	"errors"
	"io"
)

// Uploader stores media bytes and returns a public URL for them.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, objectPath string) (string, error)
}

// ErrNoUploader is returned when media delivery is attempted but no
// storage backend is configured.
var ErrNoUploader = errors.New("no media uploader configured")

// Disabled is an Uploader that rejects every upload. Used when the
// storage bucket is not configured.
type Disabled struct{}

func (Disabled) Upload(context.Context, io.Reader, string) (string, error) {
	return "", ErrNoUploader
}
