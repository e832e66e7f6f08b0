package storage

import (
	"errors"
	"fmt"
)

// Error is a failed storage operation together with the bucket and key it
// was addressing.
type Error struct {
	// Op is the operation that failed ("list", "download", "delete").
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("storage.%s bucket %s: %v", e.Op, e.Bucket, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newObjectError(op, bucket, key string, err error) *Error {
	return &Error{Op: op, Bucket: bucket, Key: key, Err: err}
}

var (
	// ErrObjectNotFound indicates that the requested object does not exist
	ErrObjectNotFound = errors.New("storage: object not found")

	// ErrBucketNotFound indicates that the requested bucket does not exist
	ErrBucketNotFound = errors.New("storage: bucket not found")

	// ErrAccessDenied indicates rejected credentials or missing permissions
	ErrAccessDenied = errors.New("storage: access denied")

	// ErrUnknownOption indicates a pass-through option no backend understands
	ErrUnknownOption = errors.New("storage: unknown client option")

	// ErrInvalidOption indicates a known option with an unusable value
	ErrInvalidOption = errors.New("storage: invalid client option")
)

// classify maps a provider error code onto the sentinels above, keeping the
// provider error in the chain.
func classify(code string, err error) error {
	switch code {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%w: %w", ErrObjectNotFound, err)
	case "NoSuchBucket":
		return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	return err
}
