package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNzb(m *Model, name string) *NzbInfo {
	return &NzbInfo{ID: m.NextID(), Name: name}
}

func TestModel_AddBackFindRemove(t *testing.T) {
	m := NewModel()
	a := newTestNzb(m, "a")
	m.AddBack(a)

	require.Equal(t, a, m.Find(a.ID))
	assert.Len(t, m.Queue(), 1)

	assert.True(t, m.Remove(a.ID))
	assert.Nil(t, m.Find(a.ID))
	assert.False(t, m.Remove(a.ID))
}

func TestModel_AddFrontOrdering(t *testing.T) {
	m := NewModel()
	a := newTestNzb(m, "a")
	b := newTestNzb(m, "b")
	m.AddBack(a)
	m.AddFront(b)

	q := m.Queue()
	require.Len(t, q, 2)
	assert.Equal(t, b.ID, q[0].ID)
	assert.Equal(t, a.ID, q[1].ID)
}

func TestModel_Move(t *testing.T) {
	m := NewModel()
	ids := make([]int64, 0, 3)
	for _, name := range []string{"a", "b", "c"} {
		n := newTestNzb(m, name)
		m.AddBack(n)
		ids = append(ids, n.ID)
	}

	require.True(t, m.Move(ids[2], 0))
	q := m.Queue()
	assert.Equal(t, ids[2], q[0].ID)
	assert.Equal(t, ids[0], q[1].ID)
	assert.Equal(t, ids[1], q[2].ID)
}

func TestModel_MergeAdjustsCountersAndDropsSource(t *testing.T) {
	m := NewModel()
	src := newTestNzb(m, "src")
	src.Size = 100
	src.SuccessSize = 40
	src.TotalArticles = 10
	src.FileList = []*FileInfo{{ID: 1, NzbID: src.ID}, {ID: 2, NzbID: src.ID}}
	src.CompletedFiles = []*CompletedFile{{ID: 3}}

	dst := newTestNzb(m, "dst")
	dst.Size = 50
	dst.FileList = []*FileInfo{{ID: 4, NzbID: dst.ID}}

	m.AddBack(src)
	m.AddBack(dst)

	require.NoError(t, m.Merge(src.ID, dst.ID))

	assert.Nil(t, m.Find(src.ID))
	assert.Len(t, dst.FileList, 3)
	assert.Len(t, dst.CompletedFiles, 1)
	assert.Equal(t, int64(150), dst.Size)
	assert.Equal(t, int64(40), dst.SuccessSize)
	assert.Equal(t, 10, dst.TotalArticles)
	for _, f := range dst.FileList {
		assert.Equal(t, dst.ID, f.NzbID)
	}
}

func TestModel_MergeUnknownIDs(t *testing.T) {
	m := NewModel()
	a := newTestNzb(m, "a")
	m.AddBack(a)

	assert.Error(t, m.Merge(a.ID, 999))
	assert.Error(t, m.Merge(999, a.ID))
	assert.Error(t, m.Merge(a.ID, a.ID))
}

func TestModel_ParkMovesToHistoryHead(t *testing.T) {
	m := NewModel()
	a := newTestNzb(m, "a")
	b := newTestNzb(m, "b")
	m.AddBack(a)
	m.AddBack(b)

	h := m.Park(a.ID)
	require.NotNil(t, h)
	assert.Equal(t, a, h.Nzb)
	assert.Nil(t, m.Find(a.ID))
	assert.Len(t, m.Queue(), 1)

	hist := m.History()
	require.Len(t, hist, 1)
	assert.Equal(t, a.ID, hist[0].ID)
}

func TestModel_ObserveIDRaisesGenerator(t *testing.T) {
	m := NewModel()
	m.ObserveID(50)
	assert.Equal(t, int64(51), m.NextID())
}

func TestFileInfo_InvariantHelpers(t *testing.T) {
	f := &FileInfo{
		Size:          300,
		TotalArticles: 3,
		Articles: []*ArticleInfo{
			{Status: ArticleFinished, SegmentSize: 100},
			{Status: ArticleFailed, SegmentSize: 100},
			{Status: ArticleRunning, SegmentSize: 100},
		},
		SuccessArticles: 1,
		FailedArticles:  1,
	}

	assert.Equal(t, int64(100), f.RemainingSize())
	assert.Equal(t, 1, f.Pending())
}
