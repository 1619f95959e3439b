package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the object operations used to persist imported problem files.
type ObjectStorage interface {
	// PutObject uploads size bytes from reader. userMeta is stored as object metadata.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, size int64, contentType string, userMeta map[string]string) error

	// GetObject opens a reader for an object. Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)

	// EnsureBucket creates bucket when it does not exist yet.
	EnsureBucket(ctx context.Context, bucket string) error
}

// ObjectStat contains object metadata.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
	UserMeta    map[string]string
}
