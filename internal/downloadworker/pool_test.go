package downloadworker

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javi11/nzbqueued/internal/coordinator"
	ownerrors "github.com/javi11/nzbqueued/internal/errors"
	"github.com/javi11/nzbqueued/internal/nntp"
	"github.com/javi11/nzbqueued/internal/queue"
)

type fakePuller struct {
	bodies  map[string]string
	errs    map[string]error
	errSeqs map[string][]error
	calls   map[string]int
}

func newFakePuller() *fakePuller {
	return &fakePuller{
		bodies:  map[string]string{},
		errs:    map[string]error{},
		errSeqs: map[string][]error{},
		calls:   map[string]int{},
	}
}

func (f *fakePuller) BodyReader(_ context.Context, messageID string, _ []string) (io.ReadCloser, error) {
	f.calls[messageID]++

	if seq, ok := f.errSeqs[messageID]; ok && len(seq) > 0 {
		err := seq[0]
		f.errSeqs[messageID] = seq[1:]
		if err != nil {
			return nil, err
		}
		return io.NopCloser(strings.NewReader(f.bodies[messageID])), nil
	}

	if err, ok := f.errs[messageID]; ok {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(f.bodies[messageID])), nil
}

func singleArticleNzb(dir string) (*queue.NzbInfo, *queue.FileInfo, *queue.ArticleInfo) {
	a := &queue.ArticleInfo{PartNumber: 1, Size: 5, MessageID: "msg-1@example"}
	f := &queue.FileInfo{
		ID:            1,
		Filename:      "file.bin",
		Size:          5,
		TotalArticles: 1,
		Articles:      []*queue.ArticleInfo{a},
		Groups:        []string{"alt.binaries.test"},
	}
	n := &queue.NzbInfo{ID: 1, Name: "job", DestDir: dir, FileList: []*queue.FileInfo{f}, Priority: 0}
	return n, f, a
}

func TestPool_FetchOne_Success(t *testing.T) {
	dir := t.TempDir()
	model := queue.NewModel()
	coord := coordinator.New(model)

	nzb, _, a := singleArticleNzb(dir)
	coord.Enqueue(nzb)

	puller := newFakePuller()
	puller.bodies[a.MessageID] = "hello"

	p := New(coord, puller, nil, WithConcurrency(1), WithIdleDelay(10*time.Millisecond))

	res, ok := coord.ReserveArticle()
	require.True(t, ok)

	p.fetchOne(context.Background(), 0, res)

	assert.Equal(t, queue.ArticleFinished, a.Status)
	assert.Equal(t, 1, puller.calls[a.MessageID])
}

func TestPool_FetchOne_PermanentStatusError_NoRetry(t *testing.T) {
	dir := t.TempDir()
	model := queue.NewModel()
	coord := coordinator.New(model)

	nzb, _, a := singleArticleNzb(dir)
	coord.Enqueue(nzb)

	puller := newFakePuller()
	puller.errs[a.MessageID] = &nntp.StatusError{Code: 430, Message: "no such article"}

	p := New(coord, puller, nil, WithConcurrency(1))

	res, ok := coord.ReserveArticle()
	require.True(t, ok)

	p.fetchOne(context.Background(), 0, res)

	assert.Equal(t, queue.ArticleFailed, a.Status)
	assert.Equal(t, 1, puller.calls[a.MessageID], "a permanent status error must not be retried")
}

func TestPool_FetchOne_TransientError_RetriesThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	model := queue.NewModel()
	coord := coordinator.New(model)

	nzb, _, a := singleArticleNzb(dir)
	coord.Enqueue(nzb)

	puller := newFakePuller()
	puller.bodies[a.MessageID] = "hello"
	puller.errSeqs[a.MessageID] = []error{io.ErrUnexpectedEOF, nil}

	p := New(coord, puller, nil, WithConcurrency(1))
	p.baseDelay = time.Millisecond
	p.maxDelay = 5 * time.Millisecond

	res, ok := coord.ReserveArticle()
	require.True(t, ok)

	p.fetchOne(context.Background(), 0, res)

	assert.Equal(t, queue.ArticleFinished, a.Status)
	assert.Equal(t, 2, puller.calls[a.MessageID])
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(io.ErrUnexpectedEOF))
	assert.False(t, isRetryable(ownerrors.WrapNonRetryable(io.ErrUnexpectedEOF)))
}
