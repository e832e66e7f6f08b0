// Package syncer runs one pass of copying a bucket prefix into a local
// directory, optionally emptying the prefix afterwards.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/s3downloader/internal/localfs"
	"github.com/andresuchdata/s3downloader/internal/storage"
)

// Options control a sync pass.
type Options struct {
	Bucket string
	Prefix string
	// DeleteAfter removes every listed object once all downloads succeeded.
	DeleteAfter bool
	// Workers bounds concurrent downloads. Values below 1 mean 1.
	Workers int
}

// Syncer copies objects from a bucket into a local directory. A local file
// with the same base name as an object counts as already synchronized,
// whatever its content.
type Syncer struct {
	store storage.ObjectStorage
	dir   *localfs.Dir
	opts  Options
	log   zerolog.Logger
}

func New(store storage.ObjectStorage, dir *localfs.Dir, opts Options, log zerolog.Logger) (*Syncer, error) {
	if store == nil {
		return nil, fmt.Errorf("syncer: nil object storage")
	}
	if dir == nil {
		return nil, fmt.Errorf("syncer: nil destination directory")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("syncer: bucket must be provided")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	return &Syncer{
		store: store,
		dir:   dir,
		opts:  opts,
		log: log.With().
			Str("bucket", opts.Bucket).
			Str("prefix", opts.Prefix).
			Logger(),
	}, nil
}

// Run performs one pass: list, skip what exists locally, download the rest,
// then delete the listed objects if requested and nothing failed. Failures
// of the pass are described by the report; the returned error is only set
// when ctx was cancelled.
func (s *Syncer) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	s.log.Debug().Msg("listing objects")
	objects, err := s.store.ListObjects(ctx, s.opts.Bucket, s.opts.Prefix)
	if err != nil {
		report.ListErr = err
		s.log.Error().Err(err).Msg("failed to list objects")
		return report, ctx.Err()
	}
	report.Listed = objects
	s.log.Debug().Int("objects", len(objects)).Msg("listed objects")

	report.Download = s.download(ctx, objects)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	switch {
	case !report.Download.OK():
		s.log.Error().
			Int("failed", len(report.Download.Failed)).
			Int("aborted", len(report.Download.Aborted)).
			Msg("download pass failed, remote objects are kept")
	case s.opts.DeleteAfter:
		// The listing taken before downloading is reused so that objects
		// uploaded during the pass are never deleted unseen.
		deleted := s.deleteObjects(ctx, objects)
		report.Delete = &deleted
	}

	s.logSummary(report)
	return report, ctx.Err()
}

func (s *Syncer) download(ctx context.Context, objects []storage.ObjectInfo) DownloadResult {
	var (
		mu      sync.Mutex
		result  DownloadResult
		claimed = make(map[string]string, len(objects))
	)

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fail := func(key string, err error) {
		mu.Lock()
		result.Failed = append(result.Failed, KeyError{Key: key, Err: err})
		mu.Unlock()
		cancel()
	}
	record := func(dst *[]string, key string) {
		mu.Lock()
		*dst = append(*dst, key)
		mu.Unlock()
	}

	g := new(errgroup.Group)
	g.SetLimit(s.opts.Workers)

	for _, obj := range objects {
		key := obj.Key
		log := s.log.With().Str("key", key).Logger()

		if gctx.Err() != nil {
			record(&result.Aborted, key)
			continue
		}

		if strings.HasSuffix(key, "/") {
			log.Debug().Msg("skipping directory placeholder")
			record(&result.Skipped, key)
			continue
		}

		name := path.Base(key)
		if err := localfs.ValidName(name); err != nil {
			log.Error().Err(err).Msg("object key has no usable file name")
			fail(key, err)
			continue
		}

		log = log.With().Str("file", s.dir.PathOf(name)).Logger()

		if first, ok := claimed[name]; ok {
			log.Warn().Str("first_key", first).Msg("file name already taken by another object in this pass, skipping")
			record(&result.Skipped, key)
			continue
		}
		claimed[name] = key

		log.Debug().Msg("checking if file exists locally")
		exists, err := s.dir.Exists(name)
		if err != nil {
			log.Error().Err(err).Msg("failed to check local file")
			fail(key, err)
			continue
		}
		if exists {
			log.Warn().Msg("file already exists locally, skipping")
			record(&result.Skipped, key)
			continue
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				record(&result.Aborted, key)
				return nil
			}

			n, err := s.downloadOne(gctx, key, name, log)
			if err != nil {
				log.Error().Err(err).Msg("failed to download object")
				fail(key, err)
				return err
			}

			mu.Lock()
			result.Downloaded = append(result.Downloaded, key)
			result.Bytes += n
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.log.Debug().Err(err).Msg("download phase stopped early")
	}

	order := make(map[string]int, len(objects))
	for i, obj := range objects {
		order[obj.Key] = i
	}
	sortByListing(result.Downloaded, order)
	sortByListing(result.Skipped, order)
	sortByListing(result.Aborted, order)
	sort.SliceStable(result.Failed, func(i, j int) bool {
		return order[result.Failed[i].Key] < order[result.Failed[j].Key]
	})

	return result
}

func (s *Syncer) downloadOne(ctx context.Context, key, name string, log zerolog.Logger) (int64, error) {
	log.Info().Msg("downloading object")

	body, err := s.store.DownloadObject(ctx, s.opts.Bucket, key)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	log.Debug().Msg("moving file to final directory")
	n, err := s.dir.Materialize(body, name)
	if err != nil {
		return 0, err
	}

	log.Debug().Int64("bytes", n).Msg("object downloaded")
	return n, nil
}

func (s *Syncer) deleteObjects(ctx context.Context, objects []storage.ObjectInfo) DeleteResult {
	var result DeleteResult

	s.log.Debug().Int("objects", len(objects)).Msg("deleting objects")
	for _, obj := range objects {
		log := s.log.With().Str("key", obj.Key).Logger()

		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, KeyError{Key: obj.Key, Err: err})
			continue
		}

		log.Info().Msg("deleting object")
		err := s.store.DeleteObject(ctx, s.opts.Bucket, obj.Key)
		switch {
		case err == nil:
			result.Deleted = append(result.Deleted, obj.Key)
		case errors.Is(err, storage.ErrObjectNotFound):
			log.Debug().Msg("object already gone")
			result.Deleted = append(result.Deleted, obj.Key)
		default:
			log.Error().Err(err).Msg("failed to delete object")
			result.Failed = append(result.Failed, KeyError{Key: obj.Key, Err: err})
		}
	}

	return result
}

func (s *Syncer) logSummary(r *Report) {
	ev := s.log.Info()
	if !r.OK() {
		ev = s.log.Error()
	}
	ev = ev.
		Int("listed", len(r.Listed)).
		Int("downloaded", len(r.Download.Downloaded)).
		Int("skipped", len(r.Download.Skipped)).
		Int("failed", len(r.Download.Failed)).
		Int64("bytes", r.Download.Bytes)
	if r.Delete != nil {
		ev = ev.Int("deleted", len(r.Delete.Deleted)).Int("delete_failed", len(r.Delete.Failed))
	}
	ev.Msg("sync pass finished")
}

func sortByListing(keys []string, order map[string]int) {
	sort.SliceStable(keys, func(i, j int) bool {
		return order[keys[i]] < order[keys[j]]
	})
}
