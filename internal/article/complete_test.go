package article

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/javi11/nzbqueued/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteFileParts_AssemblesCachedArticlesInOrder(t *testing.T) {
	dir := t.TempDir()
	nzb := &queue.NzbInfo{DestDir: dir}
	f := &queue.FileInfo{
		ID:       1,
		Filename: "movie.mkv",
		Articles: []*queue.ArticleInfo{
			{PartNumber: 2, Status: queue.ArticleFinished, SegmentOffset: 5, SegmentSize: 5, CachedSegment: []byte("world")},
			{PartNumber: 1, Status: queue.ArticleFinished, SegmentOffset: 0, SegmentSize: 5, CachedSegment: []byte("hello")},
		},
	}
	nzb.FileList = []*queue.FileInfo{f}

	cf, err := CompleteFileParts(nzb, f)
	require.NoError(t, err)
	assert.Equal(t, "movie.mkv", cf.Filename)
	assert.Equal(t, queue.CompletedSuccess, cf.Status)

	data, err := os.ReadFile(filepath.Join(dir, "movie.mkv"))
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(data))
}

func TestCompleteFileParts_ZeroFillsMissingArticleGap(t *testing.T) {
	dir := t.TempDir()
	nzb := &queue.NzbInfo{DestDir: dir}
	f := &queue.FileInfo{
		ID:       2,
		Filename: "partial.bin",
		Articles: []*queue.ArticleInfo{
			{PartNumber: 1, Status: queue.ArticleFinished, SegmentOffset: 0, SegmentSize: 3, CachedSegment: []byte("abc")},
			{PartNumber: 2, Status: queue.ArticleFailed, SegmentOffset: 3, SegmentSize: 4},
			{PartNumber: 3, Status: queue.ArticleFinished, SegmentOffset: 7, SegmentSize: 3, CachedSegment: []byte("xyz")},
		},
	}
	nzb.FileList = []*queue.FileInfo{f}

	_, err := CompleteFileParts(nzb, f)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "partial.bin"))
	require.NoError(t, err)
	assert.Equal(t, "abc\x00\x00\x00\x00xyz", string(data))
}

func TestUniqueFilename_SubjectFallbackOnCollidingNames(t *testing.T) {
	dir := t.TempDir()
	a := &queue.FileInfo{ID: 1, Filename: "same.mkv", Subject: "subject-a"}
	b := &queue.FileInfo{ID: 2, Filename: "same.mkv", Subject: "subject-b"}
	nzb := &queue.NzbInfo{DestDir: dir, FileList: []*queue.FileInfo{a, b}}

	nameA := uniqueFilename(nzb, a, dir)
	nameB := uniqueFilename(nzb, b, dir)

	assert.Equal(t, "subject-a", nameA)
	assert.Equal(t, "subject-b", nameB)
}

func TestUniqueFilename_NoCollisionKeepsParsedName(t *testing.T) {
	dir := t.TempDir()
	a := &queue.FileInfo{ID: 1, Filename: "movie.mkv", Subject: "subject-a"}
	nzb := &queue.NzbInfo{DestDir: dir, FileList: []*queue.FileInfo{a}}

	assert.Equal(t, "movie.mkv", uniqueFilename(nzb, a, dir))
}

func TestRelocateCompletedFiles_MovesSuccessfulFilesToNewDir(t *testing.T) {
	oldDir := t.TempDir()
	newDir := filepath.Join(t.TempDir(), "renamed")
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "a.mkv"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "b.mkv"), []byte("b"), 0o644))

	nzb := &queue.NzbInfo{
		DestDir: oldDir,
		CompletedFiles: []*queue.CompletedFile{
			{ID: 1, Filename: "a.mkv", Status: queue.CompletedSuccess},
			{ID: 2, Filename: "b.mkv", Status: queue.CompletedSuccess},
			{ID: 3, Filename: "c.mkv", Status: queue.CompletedFailure},
		},
	}

	err := RelocateCompletedFiles(nzb, oldDir, newDir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(newDir, "a.mkv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(newDir, "b.mkv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(oldDir, "a.mkv"))
	assert.True(t, os.IsNotExist(err))
}

func TestRelocateCompletedFiles_NoopWhenDirsMatch(t *testing.T) {
	dir := t.TempDir()
	nzb := &queue.NzbInfo{DestDir: dir}
	assert.NoError(t, RelocateCompletedFiles(nzb, dir, dir))
}

func TestEffectiveDestDir_PrefersFinalDir(t *testing.T) {
	nzb := &queue.NzbInfo{DestDir: "/dest", FinalDir: "/final"}
	assert.Equal(t, "/final", EffectiveDestDir(nzb))

	nzb2 := &queue.NzbInfo{DestDir: "/dest"}
	assert.Equal(t, "/dest", EffectiveDestDir(nzb2))
}

func TestAvoidDiskCollision_AppendsNumericSuffix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "movie.mkv"), []byte("x"), 0o644))

	got := avoidDiskCollision(dir, "movie.mkv", 99)
	assert.Equal(t, "movie.1.mkv", got)
}
