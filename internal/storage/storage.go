package storage

import (
	"context"
	"io"
)

// ObjectInfo represents metadata for a remote file/object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ObjectStorage captures the S3-compatible operations a sync pass needs.
type ObjectStorage interface {
	// ListObjects returns every object under prefix in listing order. No
	// matches is an empty result, not an error.
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)

	// DownloadObject opens the full content of an object. Callers must close
	// the returned reader.
	DownloadObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// DeleteObject removes one object. A missing object yields nil or an
	// error matching ErrObjectNotFound, depending on the backend.
	DeleteObject(ctx context.Context, bucket, key string) error
}

// Credentials is the static access key pair used to sign requests. Both
// fields empty means the backend's default credential chain.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// New builds the client selected by the backend option. extra carries the
// pass-through options of the configuration section.
func New(ctx context.Context, creds Credentials, extra map[string]string) (ObjectStorage, error) {
	opts, err := ParseOptions(extra)
	if err != nil {
		return nil, err
	}

	switch opts.Backend {
	case BackendAWS:
		return NewS3Client(ctx, creds, opts)
	default:
		return NewMinioClient(creds, opts)
	}
}
