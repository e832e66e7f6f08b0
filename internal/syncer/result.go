package syncer

import (
	"fmt"

	"github.com/andresuchdata/s3downloader/internal/storage"
)

// KeyError ties a failure to the object key it happened on.
type KeyError struct {
	Key string
	Err error
}

func (e KeyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e KeyError) Unwrap() error {
	return e.Err
}

// DownloadResult is the outcome of the download phase. Keys appear in
// listing order.
type DownloadResult struct {
	Downloaded []string
	// Skipped holds keys whose local file already existed, directory
	// placeholders, and keys sharing a base name with an earlier key.
	Skipped []string
	Failed  []KeyError
	// Aborted holds keys that were never attempted because an earlier key
	// failed or the pass was cancelled.
	Aborted []string
	Bytes   int64
}

// OK reports whether every listed key was either downloaded or skipped.
func (r DownloadResult) OK() bool {
	return len(r.Failed) == 0 && len(r.Aborted) == 0
}

// DeleteResult is the outcome of the delete phase.
type DeleteResult struct {
	Deleted []string
	Failed  []KeyError
}

func (r DeleteResult) OK() bool {
	return len(r.Failed) == 0
}

// Report describes one synchronization pass.
type Report struct {
	Listed   []storage.ObjectInfo
	ListErr  error
	Download DownloadResult
	// Delete is nil when the delete phase did not run.
	Delete *DeleteResult
}

// OK is false if listing failed, any download failed or was aborted, or
// any delete failed.
func (r *Report) OK() bool {
	if r.ListErr != nil || !r.Download.OK() {
		return false
	}
	return r.Delete == nil || r.Delete.OK()
}
