package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strconv"
	"strings"

	"vjudge/internal/common/storage"

	"github.com/klauspost/compress/zstd"
)

const (
	metaEncoding     = "encoding"
	metaOriginalSize = "original-size"
	encodingZstd     = "zstd"
)

// FileStore keeps the files of imported problems in object storage.
// Testdata is stored zstd-compressed; additional files are stored as they are.
type FileStore struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
	encoder *zstd.Encoder
}

func NewFileStore(objectStorage storage.ObjectStorage, bucket, prefix string) (*FileStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	return &FileStore{
		storage: objectStorage,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		encoder: encoder,
	}, nil
}

// EnsureBucket creates the bucket on first use.
func (s *FileStore) EnsureBucket(ctx context.Context) error {
	return s.storage.EnsureBucket(ctx, s.bucket)
}

// PutTestdata uploads one testdata file of a problem.
func (s *FileStore) PutTestdata(ctx context.Context, domainID, pid, name string, data []byte) error {
	compressed := s.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	meta := map[string]string{
		metaEncoding:     encodingZstd,
		metaOriginalSize: strconv.Itoa(len(data)),
	}
	key := s.objectKey(domainID, pid, "testdata", name) + ".zst"
	return s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), "application/zstd", meta)
}

// PutAdditionalFile uploads one additional file of a problem.
func (s *FileStore) PutAdditionalFile(ctx context.Context, domainID, pid, name string, data []byte) error {
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := s.objectKey(domainID, pid, "additional_file", name)
	return s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), contentType, nil)
}

// OpenTestdata returns the decompressed content of a testdata file.
func (s *FileStore) OpenTestdata(ctx context.Context, domainID, pid, name string) ([]byte, error) {
	reader, err := s.storage.GetObject(ctx, s.bucket, s.objectKey(domainID, pid, "testdata", name)+".zst")
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	decoder, err := zstd.NewReader(reader)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader failed: %w", err)
	}
	defer decoder.Close()
	return io.ReadAll(decoder)
}

func (s *FileStore) objectKey(domainID, pid, kind, name string) string {
	name = path.Base(path.Clean("/" + name))
	return path.Join(s.prefix, domainID, pid, kind, name)
}
