// Package downloadworker runs the goroutines that actually pull article
// bytes off Usenet: each one loops on the Queue Coordinator's
// ReserveArticle/CompleteArticle pair, fetching through an
// internal/nntp.ArticlePuller and writing through an internal/article.Writer.
package downloadworker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/javi11/nzbqueued/internal/article"
	"github.com/javi11/nzbqueued/internal/coordinator"
	ownerrors "github.com/javi11/nzbqueued/internal/errors"
	"github.com/javi11/nzbqueued/internal/nntp"
)

// Pool runs a fixed number of article-fetch goroutines against one
// Coordinator.
type Pool struct {
	coordinator *coordinator.Coordinator
	puller      nntp.ArticlePuller
	cache       *article.Cache
	log         *slog.Logger

	concurrency int
	idleDelay   time.Duration

	attempts  uint
	baseDelay time.Duration
	maxDelay  time.Duration

	paused  atomic.Bool
	limiter *rateLimiter
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithConcurrency sets the number of fetch goroutines Run spawns. Default 4.
func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithIdleDelay sets how long a worker sleeps after finding nothing
// reservable before polling again. Default 250ms.
func WithIdleDelay(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.idleDelay = d
		}
	}
}

// New builds a Pool. cache may be nil (the Article Writer falls back to
// temp-per-article/direct-write storage, §4.3).
func New(coord *coordinator.Coordinator, puller nntp.ArticlePuller, cache *article.Cache, opts ...Option) *Pool {
	p := &Pool{
		coordinator: coord,
		puller:      puller,
		cache:       cache,
		log:         slog.Default().With("component", "download-worker"),
		concurrency: 4,
		idleDelay:   250 * time.Millisecond,
		attempts:    3,
		baseDelay:   200 * time.Millisecond,
		maxDelay:    10 * time.Second,
		limiter:     newRateLimiter(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetPaused implements scheduler.Actions: while paused, workers stop
// reserving new articles but finish any fetch already in flight.
func (p *Pool) SetPaused(paused bool) {
	p.paused.Store(paused)
}

// SetDownloadRate implements scheduler.Actions: kbps <= 0 removes the cap.
func (p *Pool) SetDownloadRate(kbps int) {
	if kbps <= 0 {
		p.limiter.SetLimit(0)
		return
	}
	p.limiter.SetLimit(int64(kbps) * 1024)
}

// Close stops the internal rate limiter goroutine.
func (p *Pool) Close() {
	p.limiter.Stop()
}

// Run spawns the worker goroutines and blocks until ctx is canceled.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < p.concurrency; i++ {
		go p.loop(ctx, i, done)
	}
	for i := 0; i < p.concurrency; i++ {
		<-done
	}
}

func (p *Pool) loop(ctx context.Context, workerID int, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.paused.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.idleDelay):
			}
			continue
		}

		res, ok := p.coordinator.ReserveArticle()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.idleDelay):
			}
			continue
		}

		p.fetchOne(ctx, workerID, res)
	}
}

// fetchOne fetches and writes one reserved article, then reports the
// outcome back to the Coordinator. A permanent NNTP status (article/group
// not found) or a classified non-retryable error fails the article
// immediately; anything else is retried with jittered backoff before being
// counted failed (§11, grounded on the importer queue claimer's retry-go
// configuration).
func (p *Pool) fetchOne(ctx context.Context, workerID int, res coordinator.Reservation) {
	w := article.NewWriter(p.cache, res.File, res.Article, res.Nzb.DestDir, res.File.ForceDirectWrite)
	if err := w.Start(res.File.Size); err != nil {
		p.log.ErrorContext(ctx, "failed to start article writer",
			"worker_id", workerID, "nzb_id", res.Nzb.ID, "file_id", res.File.ID, "error", err)
		_ = w.Finish(false)
		p.complete(ctx, res, false)
		return
	}

	err := retry.Do(
		func() error { return p.fetchAndWrite(ctx, w, res) },
		retry.Context(ctx),
		retry.Attempts(p.attempts),
		retry.Delay(p.baseDelay),
		retry.MaxDelay(p.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			jitter := time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
			time.Sleep(jitter)
			p.log.WarnContext(ctx, "article fetch failed, retrying",
				"worker_id", workerID,
				"nzb_id", res.Nzb.ID,
				"file_id", res.File.ID,
				"message_id", res.Article.MessageID,
				"attempt", n+1,
				"error", err)
		}),
	)

	success := err == nil
	if finishErr := w.Finish(success); finishErr != nil {
		p.log.ErrorContext(ctx, "failed to finish article writer",
			"worker_id", workerID, "nzb_id", res.Nzb.ID, "file_id", res.File.ID, "error", finishErr)
		success = false
	}
	if !success && err != nil {
		p.log.ErrorContext(ctx, "article fetch permanently failed",
			"worker_id", workerID, "nzb_id", res.Nzb.ID, "file_id", res.File.ID,
			"message_id", res.Article.MessageID, "error", err)
	}

	p.complete(ctx, res, success)
}

func (p *Pool) fetchAndWrite(ctx context.Context, w *article.Writer, res coordinator.Reservation) error {
	body, err := p.puller.BodyReader(ctx, res.Article.MessageID, res.File.Groups)
	if err != nil {
		var statusErr *nntp.StatusError
		if errors.As(err, &statusErr) && statusErr.Permanent() {
			return ownerrors.WrapNonRetryable(err)
		}
		return err
	}
	defer body.Close()

	if _, err := io.Copy(writerAdapter{w, p.limiter}, body); err != nil {
		return err
	}
	return nil
}

func (p *Pool) complete(ctx context.Context, res coordinator.Reservation, success bool) {
	if err := p.coordinator.CompleteArticle(res.Nzb.ID, res.File.ID, res.Article, success); err != nil {
		p.log.ErrorContext(ctx, "failed to report article completion",
			"nzb_id", res.Nzb.ID, "file_id", res.File.ID, "error", err)
	}
}

func isRetryable(err error) bool {
	return !ownerrors.IsNonRetryable(err)
}

// writerAdapter bridges article.Writer.Write(p []byte) error onto the
// standard io.Writer signature so io.Copy can drive it directly, metering
// bytes through limiter first when a Scheduler task has capped the rate.
type writerAdapter struct {
	w       *article.Writer
	limiter *rateLimiter
}

func (a writerAdapter) Write(p []byte) (int, error) {
	if a.limiter != nil {
		a.limiter.Wait(len(p))
	}
	if err := a.w.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
