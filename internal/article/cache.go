// Package article implements the per-article sink (§4.3): decoded bytes are
// either copied into a bounded RAM cache or written straight to a
// preallocated output file, and completed files are reassembled from
// whichever mix of cached/temp/direct-write parts arrived.
package article

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/javi11/nzbqueued/internal/queue"
)

// SentinelWriter marks on disk whether the cache currently holds unflushed
// bytes, so a restart after a crash knows not to trust partial-download
// checkpoints (§4.1, §4.3). Satisfied by *diskstate.Store.
type SentinelWriter interface {
	SetCacheDirty(dirty bool) error
}

// Cache is the global byte-bounded allocator described in §4.3. It is safe
// for concurrent use by many Article Writers and one Flusher.
type Cache struct {
	mu        sync.Mutex
	cond      *sync.Cond
	allocated int64
	limit     int64
	sentinel  SentinelWriter

	// candidates tracks, per FileInfo id, how many cached bytes it holds and
	// whether it has an active download. It is a size-bounded LRU; the
	// flusher still walks all of its keys to pick a flush target.
	candidates *lru.Cache[int64, *candidateFile]

	log *slog.Logger
}

type candidateFile struct {
	file       *queue.FileInfo
	cachedSize int64
	active     bool // has an in-flight (non-cached) article writer right now
}

// NewCache returns a Cache bounded at limit bytes. sentinel may be nil in
// tests that don't exercise the acache-sentinel behavior.
func NewCache(limit int64, sentinel SentinelWriter) *Cache {
	candidates, _ := lru.New[int64, *candidateFile](4096)
	c := &Cache{
		limit:      limit,
		sentinel:   sentinel,
		candidates: candidates,
		log:        slog.Default().With("component", "article-cache"),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Alloc requests n bytes from the cache. It returns (buf, true) on success,
// or (nil, false) if the limit would be exceeded — the caller must then
// fall back to direct-write or temp-per-article mode (§4.3 backpressure,
// §5 "Backpressure").
func (c *Cache) Alloc(n int64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.allocated+n > c.limit {
		return nil, false
	}

	wasEmpty := c.allocated == 0
	c.allocated += n
	if wasEmpty && c.sentinel != nil {
		if err := c.sentinel.SetCacheDirty(true); err != nil {
			c.log.Warn("failed to set cache-dirty sentinel", "error", err)
		}
	}
	c.cond.Broadcast()

	return make([]byte, n), true
}

// Release returns n bytes to the allocator, e.g. after a cached segment is
// flushed to disk or discarded.
func (c *Cache) Release(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.allocated -= n
	if c.allocated < 0 {
		c.allocated = 0
	}
	if c.allocated == 0 && c.sentinel != nil {
		if err := c.sentinel.SetCacheDirty(false); err != nil {
			c.log.Warn("failed to clear cache-dirty sentinel", "error", err)
		}
	}
	c.cond.Broadcast()
}

// Allocated returns the current allocated-byte counter (§3 invariant 7).
func (c *Cache) Allocated() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocated
}

// FillRatio returns allocated/limit, used to decide when the flusher should
// run more aggressively (§4.3: "fill ratio >= 90%").
func (c *Cache) FillRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit == 0 {
		return 0
	}
	return float64(c.allocated) / float64(c.limit)
}

// MarkCandidate records that fileID has cachedSize bytes of cached articles
// and whether it currently has an active (non-cached) download in flight.
// PickFlushTarget only considers files registered here; the Queue
// Coordinator and the Article Writer do not call it.
func (c *Cache) MarkCandidate(f *queue.FileInfo, cachedSize int64, active bool) {
	c.candidates.Add(f.ID, &candidateFile{file: f, cachedSize: cachedSize, active: active})
}

// ForgetCandidate removes fileID from flush candidacy, e.g. once it
// completes or is dropped from the queue.
func (c *Cache) ForgetCandidate(fileID int64) {
	c.candidates.Remove(fileID)
}

// PickFlushTarget selects a FileInfo to flush per §4.3: prefer one with
// cached articles and no active downloads; if none, and requireIdle is
// false (fill ratio critical), return any candidate with cached bytes.
func (c *Cache) PickFlushTarget(requireIdle bool) *queue.FileInfo {
	for _, id := range c.candidates.Keys() {
		cf, ok := c.candidates.Peek(id)
		if !ok || cf.cachedSize == 0 {
			continue
		}
		if !cf.active {
			return cf.file
		}
	}
	if requireIdle {
		return nil
	}
	for _, id := range c.candidates.Keys() {
		cf, ok := c.candidates.Peek(id)
		if ok && cf.cachedSize > 0 {
			return cf.file
		}
	}
	return nil
}

// Flusher drains cached articles back to disk. Its loop runs once a second
// on a timer and is not woken early by allocations or by a high fill ratio.
// On each tick a fill ratio of 90% or more lets it flush a candidate that
// still has an active download; below that only idle candidates are flushed.
type Flusher struct {
	cache    *Cache
	flushOne func(ctx context.Context, f *queue.FileInfo) error
	log      *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewFlusher returns a Flusher that calls flushOne on whatever FileInfo
// PickFlushTarget selects.
func NewFlusher(cache *Cache, flushOne func(ctx context.Context, f *queue.FileInfo) error) *Flusher {
	return &Flusher{
		cache:    cache,
		flushOne: flushOne,
		log:      slog.Default().With("component", "article-flusher"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Stop is called.
func (fl *Flusher) Run(ctx context.Context) {
	defer close(fl.done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fl.stop:
			return
		case <-ticker.C:
			fl.tick(ctx)
		}
	}
}

func (fl *Flusher) tick(ctx context.Context) {
	critical := fl.cache.FillRatio() >= 0.90

	target := fl.cache.PickFlushTarget(!critical)
	if target == nil {
		return
	}

	if err := fl.flushOne(ctx, target); err != nil {
		fl.log.ErrorContext(ctx, "flush failed", "nzb_id", target.NzbID, "file_id", target.ID, "error", err)
		return
	}
	fl.cache.ForgetCandidate(target.ID)
}

// Stop signals Run to return and waits for it to finish.
func (fl *Flusher) Stop() {
	close(fl.stop)
	<-fl.done
}
