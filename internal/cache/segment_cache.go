package cache

import (
	"abstream/internal/logger"
	"abstream/internal/models"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// initSegmentID is the pseudo segment id under which a chapter's
// initialization segment is cached.
const initSegmentID = "init"

// Fetcher downloads segment bodies from the content service.
type Fetcher interface {
	DownloadSegment(ctx context.Context, key models.CacheKey, locator string) ([]byte, error)
}

// SegmentCache provides a thread-safe, in-memory cache for segment
// resources keyed by (chapter, segment, bitrate). Exactly one chapter plays
// at a time, so every chapter switch clears the whole cache rather than
// evicting entry by entry.
//
// Concurrent fetches for the same key are deduplicated: a seek and a
// natural advance racing toward the same segment share one download.
type SegmentCache struct {
	mutex   sync.RWMutex
	entries map[models.CacheKey]*models.Resource
	group   singleflight.Group
	fetcher Fetcher
	logger  logger.Logger

	// generation increments on every invalidation; downloads that complete
	// under an older generation are never stored.
	generation uint64

	// prefetchCtx scopes background prefetches; cancelled on invalidation
	// and on Stop.
	prefetchCtx    context.Context
	prefetchCancel context.CancelFunc
	prefetchWG     sync.WaitGroup
}

// New creates and returns a new SegmentCache.
func New(log logger.Logger, fetcher Fetcher) *SegmentCache {
	ctx, cancel := context.WithCancel(context.Background())
	return &SegmentCache{
		entries:        make(map[models.CacheKey]*models.Resource),
		fetcher:        fetcher,
		logger:         log,
		prefetchCtx:    ctx,
		prefetchCancel: cancel,
	}
}

// Fetch returns the resource for a segment, downloading it (and the
// chapter's initialization segment, when one is referenced) on a miss.
// Racing callers for the same key await a single download.
func (sc *SegmentCache) Fetch(ctx context.Context, key models.CacheKey, segment models.Segment, initRef string) (*models.Resource, error) {
	if res, ok := sc.Peek(key); ok {
		return res, nil
	}

	sc.mutex.RLock()
	gen := sc.generation
	sc.mutex.RUnlock()

	v, err, shared := sc.group.Do(key.String(), func() (interface{}, error) {
		// A racing caller may have filled the entry while we queued.
		if res, ok := sc.Peek(key); ok {
			return res, nil
		}

		// The init segment and the media segment download concurrently.
		var initData, data []byte
		g, gctx := errgroup.WithContext(ctx)
		if initRef != "" {
			g.Go(func() error {
				var err error
				initData, err = sc.fetchInit(gctx, key, initRef)
				return err
			})
		}
		g.Go(func() error {
			var err error
			data, err = sc.fetcher.DownloadSegment(gctx, key, segment.Locator)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}

		res := &models.Resource{
			Key:       key,
			Data:      data,
			Init:      initData,
			Duration:  segment.Duration,
			FetchedAt: time.Now(),
		}
		sc.store(gen, key, res)
		return res, nil
	})
	if err != nil {
		return nil, &models.FetchError{Key: key, Err: err}
	}
	if shared {
		sc.logger.Debugf("Fetch for %s joined an in-flight download", key)
	}
	return v.(*models.Resource), nil
}

// fetchInit downloads and caches the chapter's initialization segment.
func (sc *SegmentCache) fetchInit(ctx context.Context, key models.CacheKey, initRef string) ([]byte, error) {
	initKey := models.CacheKey{ChapterID: key.ChapterID, SegmentID: initSegmentID, Bitrate: key.Bitrate}
	if res, ok := sc.Peek(initKey); ok {
		return res.Data, nil
	}

	sc.mutex.RLock()
	gen := sc.generation
	sc.mutex.RUnlock()

	v, err, _ := sc.group.Do(initKey.String(), func() (interface{}, error) {
		if res, ok := sc.Peek(initKey); ok {
			return res.Data, nil
		}
		data, err := sc.fetcher.DownloadSegment(ctx, initKey, initRef)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch init segment for chapter %s: %w", key.ChapterID, err)
		}
		sc.store(gen, initKey, &models.Resource{Key: initKey, Data: data, FetchedAt: time.Now()})
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Prefetch runs the same fetch in the background. Failures are logged and
// swallowed; playback never sees them. The download is cancelled if the
// cache is invalidated before it completes.
func (sc *SegmentCache) Prefetch(key models.CacheKey, segment models.Segment, initRef string) {
	sc.mutex.RLock()
	ctx := sc.prefetchCtx
	sc.mutex.RUnlock()

	sc.prefetchWG.Add(1)
	go func() {
		defer sc.prefetchWG.Done()
		if _, err := sc.Fetch(ctx, key, segment, initRef); err != nil {
			sc.logger.Warnf("Prefetch for %s failed: %v", key, err)
			return
		}
		sc.logger.Debugf("Prefetched segment %s", key)
	}()
}

// Peek returns the cached resource for a key without fetching.
func (sc *SegmentCache) Peek(key models.CacheKey) (*models.Resource, bool) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	res, found := sc.entries[key]
	return res, found
}

// store records a download result unless the cache was invalidated while
// the download ran. Stale results are dropped, never applied.
func (sc *SegmentCache) store(gen uint64, key models.CacheKey, res *models.Resource) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	if gen != sc.generation {
		sc.logger.Debugf("Discarding stale download result for %s", key)
		return
	}
	sc.entries[key] = res
	sc.logger.Debugf("Cached segment %s, size: %d bytes", key, len(res.Data))
}

// InvalidateChapter is called on every chapter switch. The whole cache is
// cleared rather than evicting only the old chapter's entries; with a
// single playing chapter the extra bookkeeping buys nothing.
func (sc *SegmentCache) InvalidateChapter(chapterID string) {
	sc.logger.Debugf("Invalidating segment cache on switch away from chapter %s", chapterID)
	sc.InvalidateAll()
}

// InvalidateAll drops every cached entry and cancels in-flight prefetches.
func (sc *SegmentCache) InvalidateAll() {
	sc.mutex.Lock()
	count := len(sc.entries)
	sc.entries = make(map[models.CacheKey]*models.Resource)
	sc.generation++
	sc.prefetchCancel()
	ctx, cancel := context.WithCancel(context.Background())
	sc.prefetchCtx = ctx
	sc.prefetchCancel = cancel
	sc.mutex.Unlock()

	sc.logger.Infof("Cleared segment cache (%d entries dropped)", count)
}

// Stop cancels outstanding prefetches and waits for them to finish.
func (sc *SegmentCache) Stop() {
	sc.mutex.Lock()
	sc.prefetchCancel()
	sc.mutex.Unlock()
	sc.prefetchWG.Wait()
}
