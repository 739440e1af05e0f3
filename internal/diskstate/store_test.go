package diskstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/javi11/nzbqueued/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue")

	require.NoError(t, WriteAtomic(path, []byte("hello\n"), true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp file after a successful write")
}

func TestRecoverIncomplete_PicksUpLeftoverTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue")
	tmp := path + ".new.deadbeef"
	require.NoError(t, os.WriteFile(tmp, []byte("recovered\n"), 0o644))

	require.NoError(t, RecoverIncomplete(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "recovered\n", string(data))
}

func TestRecoverIncomplete_NoopWhenDestinationPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue")
	require.NoError(t, os.WriteFile(path, []byte("committed\n"), 0o644))
	require.NoError(t, os.WriteFile(path+".new.stale", []byte("stale\n"), 0o644))

	require.NoError(t, RecoverIncomplete(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "committed\n", string(data))
}

func sampleNzb(id int64) *queue.NzbInfo {
	return &queue.NzbInfo{
		ID:       id,
		Kind:     queue.KindNzb,
		Name:     "Some.Release",
		DestDir:  "/tmp/dest",
		Category: "movies",
		Priority: 5,
		DupeKey:  "release-key",
		DupeScore: 10,
		DupeMode: queue.DupeModeScore,
		Size:     1 << 34, // exceeds 32 bits, exercises the hi/lo split
		SuccessSize: 1 << 33,
		TotalArticles: 100,
		SuccessArticles: 90,
		FailedArticles: 5,
		ParStatus: queue.StatusSuccess,
		Changed:   true,
		FileList:  []*queue.FileInfo{{ID: 1, NzbID: id}, {ID: 2, NzbID: id}},
		CompletedFiles: []*queue.CompletedFile{{ID: 3, Filename: "done.mkv", Status: queue.CompletedSuccess}},
		Parameters: map[string]string{"*unpack:password": "hunter2"},
		ScriptStatuses: map[string]queue.Status{"post.sh": queue.StatusSuccess},
	}
}

func TestStore_QueueRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir(), true)
	n := sampleNzb(42)

	require.NoError(t, s.SaveQueue([]*queue.NzbInfo{n}))

	loaded, err := s.LoadQueue()
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, n.Name, got.Name)
	assert.Equal(t, n.Size, got.Size, "64-bit size must survive the hi/lo split")
	assert.Equal(t, n.SuccessSize, got.SuccessSize)
	assert.Equal(t, n.DupeKey, got.DupeKey)
	assert.Equal(t, n.DupeScore, got.DupeScore)
	assert.Len(t, got.FileList, 2)
	require.Len(t, got.CompletedFiles, 1)
	assert.Equal(t, "done.mkv", got.CompletedFiles[0].Filename)
	assert.Equal(t, "hunter2", got.Parameters["*unpack:password"])
	assert.Equal(t, queue.StatusSuccess, got.ScriptStatuses["post.sh"])
}

func TestStore_LoadQueue_MissingFileReturnsNil(t *testing.T) {
	s := NewStore(t.TempDir(), true)
	loaded, err := s.LoadQueue()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStore_VersionFloorRejected(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, true)
	path := filepath.Join(dir, "queue")
	require.NoError(t, os.WriteFile(path, []byte("nzbqueued diskstate file version 1\n"), 0o644))

	_, err := s.LoadQueue()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too old")
}

func TestStore_FileSummaryRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir(), true)
	f := &queue.FileInfo{
		ID:            7,
		Subject:       `[1/3] "movie.mkv" yEnc (1/500)`,
		Filename:      "movie.mkv",
		Size:          1 << 31,
		TotalArticles: 2,
		Groups:        []string{"alt.binaries.movies"},
		Articles: []*queue.ArticleInfo{
			{PartNumber: 1, Size: 700000, MessageID: "<a@b>", SegmentOffset: 0, SegmentSize: 700000},
			{PartNumber: 2, Size: 700000, MessageID: "<c@d>", SegmentOffset: 700000, SegmentSize: 700000},
		},
	}

	require.NoError(t, s.SaveFileSummary(f))

	got, err := s.LoadFileSummary(7)
	require.NoError(t, err)
	assert.Equal(t, f.Subject, got.Subject)
	assert.Equal(t, f.Filename, got.Filename)
	assert.Equal(t, f.Size, got.Size)
	assert.Equal(t, f.Groups, got.Groups)
	require.Len(t, got.Articles, 2)
	assert.Equal(t, f.Articles[1].MessageID, got.Articles[1].MessageID)
	assert.Equal(t, f.Articles[1].SegmentOffset, got.Articles[1].SegmentOffset)
}

func TestStore_CacheDirtySentinel(t *testing.T) {
	s := NewStore(t.TempDir(), true)

	dirty, err := s.CacheDirty()
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, s.SetCacheDirty(true))
	dirty, err = s.CacheDirty()
	require.NoError(t, err)
	assert.True(t, dirty)

	require.NoError(t, s.SetCacheDirty(false))
	dirty, err = s.CacheDirty()
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestStore_PartialStateDiscardedWhenCacheDirty(t *testing.T) {
	s := NewStore(t.TempDir(), true)
	f := &queue.FileInfo{ID: 9, Size: 100, Articles: []*queue.ArticleInfo{{PartNumber: 1, Status: queue.ArticleFinished, SegmentSize: 100}}}
	require.NoError(t, s.SavePartialState(f))
	require.NoError(t, s.SetCacheDirty(true))

	_, _, _, _, ok, err := s.LoadPartialStateIfValid(9)
	require.NoError(t, err)
	assert.False(t, ok, "a dirty cache sentinel must invalidate stale partial state (S3)")
}

func TestStore_Cleanup_RemovesStrayPerIDFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, true)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "1"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2s"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "3c"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "n4.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "5"), []byte("x"), 0o644))

	require.NoError(t, s.Cleanup(map[int64]bool{5: true}))

	_, err := os.Stat(filepath.Join(dir, "1"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "2s"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "3c"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "n4.log"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "5"))
	assert.NoError(t, err)
}

func TestStore_HistoryRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir(), true)
	h := &queue.HistoryInfo{ID: 1, Kind: queue.HistoryKindNzb, Nzb: sampleNzb(1)}

	require.NoError(t, s.SaveHistory([]*queue.HistoryInfo{h}))

	loaded, err := s.LoadHistory()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, h.ID, loaded[0].ID)
	require.NotNil(t, loaded[0].Nzb)
	assert.Equal(t, "Some.Release", loaded[0].Nzb.Name)
}
