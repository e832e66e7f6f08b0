// Package testutil provides an in-memory object store for tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/andresuchdata/s3downloader/internal/storage"
)

// MemoryStore is an ObjectStorage backed by maps. Failures can be injected
// per operation and key, and every call is recorded.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte

	// ListErr fails every ListObjects call.
	ListErr error
	// DownloadErrs fails DownloadObject for the given keys.
	DownloadErrs map[string]error
	// DeleteErrs fails DeleteObject for the given keys.
	DeleteErrs map[string]error
	// OnDownload, if set, runs before a download is served.
	OnDownload func(key string)

	Listed     int
	Downloaded []string
	Deleted    []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets:      make(map[string]map[string][]byte),
		DownloadErrs: make(map[string]error),
		DeleteErrs:   make(map[string]error),
	}
}

// Put stores content under bucket/key, creating the bucket on first use.
func (m *MemoryStore) Put(bucket, key, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	objects, ok := m.buckets[bucket]
	if !ok {
		objects = make(map[string][]byte)
		m.buckets[bucket] = objects
	}
	objects[key] = []byte(content)
}

// Keys returns the keys currently held in bucket, sorted.
func (m *MemoryStore) Keys(bucket string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.buckets[bucket]))
	for k := range m.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryStore) ListObjects(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Listed++
	if m.ListErr != nil {
		return nil, &storage.Error{Op: "list", Bucket: bucket, Err: m.ListErr}
	}
	objects, ok := m.buckets[bucket]
	if !ok {
		return nil, &storage.Error{Op: "list", Bucket: bucket, Err: storage.ErrBucketNotFound}
	}

	results := make([]storage.ObjectInfo, 0)
	for key, data := range objects {
		if strings.HasPrefix(key, prefix) {
			results = append(results, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

func (m *MemoryStore) DownloadObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if m.OnDownload != nil {
		m.OnDownload(key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Downloaded = append(m.Downloaded, key)
	if err := m.DownloadErrs[key]; err != nil {
		return nil, &storage.Error{Op: "download", Bucket: bucket, Key: key, Err: err}
	}
	data, ok := m.buckets[bucket][key]
	if !ok {
		return nil, &storage.Error{Op: "download", Bucket: bucket, Key: key, Err: storage.ErrObjectNotFound}
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

func (m *MemoryStore) DeleteObject(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.DeleteErrs[key]; err != nil {
		return &storage.Error{Op: "delete", Bucket: bucket, Key: key, Err: err}
	}
	if _, ok := m.buckets[bucket][key]; !ok {
		return &storage.Error{Op: "delete", Bucket: bucket, Key: key, Err: fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)}
	}
	delete(m.buckets[bucket], key)
	m.Deleted = append(m.Deleted, key)
	return nil
}

var _ storage.ObjectStorage = (*MemoryStore)(nil)
