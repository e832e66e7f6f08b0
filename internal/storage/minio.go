package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient implements ObjectStorage for S3 and S3-compatible services
// through minio-go.
type MinioClient struct {
	client *minio.Client
}

// NewMinioClient builds a MinioClient. Without a custom endpoint it talks to
// AWS S3.
func NewMinioClient(creds Credentials, opts Options) (*MinioClient, error) {
	host := opts.Host
	if host == "" {
		host = defaultEndpoint
	}

	var provider *credentials.Credentials
	if creds.AccessKey != "" || creds.SecretKey != "" {
		provider = credentials.NewStaticV4(creds.AccessKey, creds.SecretKey, opts.SessionToken)
	} else {
		provider = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{Client: &http.Client{Transport: http.DefaultTransport}},
		})
	}

	lookup := minio.BucketLookupAuto
	if opts.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(host, &minio.Options{
		Creds:        provider,
		Secure:       opts.Secure,
		Region:       opts.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client for %s: %w", host, err)
	}

	return &MinioClient{client: client}, nil
}

// ListObjects lists all objects for a given prefix.
func (c *MinioClient) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	results := make([]ObjectInfo, 0)
	for object := range c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, newObjectError("list", bucket, "", minioError(object.Err))
		}
		results = append(results, ObjectInfo{
			Key:  object.Key,
			Size: object.Size,
		})
	}
	return results, nil
}

// DownloadObject opens the object for reading. minio-go defers the request
// until the first read, so the object is stat'ed up front to surface
// missing keys and auth failures here.
func (c *MinioClient) DownloadObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	object, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, newObjectError("download", bucket, key, minioError(err))
	}
	if _, err := object.Stat(); err != nil {
		object.Close()
		return nil, newObjectError("download", bucket, key, minioError(err))
	}
	return object, nil
}

// DeleteObject removes key from bucket.
func (c *MinioClient) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := c.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return newObjectError("delete", bucket, key, minioError(err))
	}
	return nil
}

func minioError(err error) error {
	return classify(minio.ToErrorResponse(err).Code, err)
}

var _ ObjectStorage = (*MinioClient)(nil)
