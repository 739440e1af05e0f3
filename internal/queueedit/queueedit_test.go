package queueedit

import (
	"testing"

	"github.com/javi11/nzbqueued/internal/coordinator"
	"github.com/javi11/nzbqueued/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEditor() (*Editor, *queue.Model) {
	model := queue.NewModel()
	coord := coordinator.New(model)
	return New(model, coord), model
}

func addGroup(model *queue.Model, id int64, name string, fileIDs ...int64) *queue.NzbInfo {
	n := &queue.NzbInfo{ID: id, Name: name, Parameters: map[string]string{}}
	for _, fid := range fileIDs {
		n.FileList = append(n.FileList, &queue.FileInfo{ID: fid, NzbID: id, Filename: name})
	}
	model.AddBack(n)
	return n
}

func TestEditPauseResumeGroupScope(t *testing.T) {
	e, model := newEditor()
	addGroup(model, 1, "a", 10, 11)

	ok, err := e.Edit(Request{Scope: ScopeGroup, IDs: []int64{1}, Action: ActionPause})
	require.NoError(t, err)
	assert.True(t, ok)
	for _, f := range model.Find(1).FileList {
		assert.True(t, f.Paused)
	}

	ok, err = e.Edit(Request{Scope: ScopeGroup, IDs: []int64{1}, Action: ActionResume})
	require.NoError(t, err)
	assert.True(t, ok)
	for _, f := range model.Find(1).FileList {
		assert.False(t, f.Paused)
	}
}

func TestEditPauseExtraParsKeepsSmallestVolume(t *testing.T) {
	e, model := newEditor()
	n := addGroup(model, 1, "a")
	n.FileList = []*queue.FileInfo{
		{ID: 10, Filename: "x.vol003+04.par2", IsParFile: true, Size: 300},
		{ID: 11, Filename: "x.vol000+01.par2", IsParFile: true, Size: 100},
		{ID: 12, Filename: "x.vol001+02.par2", IsParFile: true, Size: 200},
	}

	ok, err := e.Edit(Request{Scope: ScopeGroup, IDs: []int64{1}, Action: ActionPauseExtraPars})
	require.NoError(t, err)
	assert.True(t, ok)

	for _, f := range n.FileList {
		if f.ID == 11 {
			assert.False(t, f.Paused, "the smallest volume must stay downloadable")
		} else {
			assert.True(t, f.Paused)
		}
	}
}

func TestEditPauseExtraParsWithBaseParKeepsBaseUnpaused(t *testing.T) {
	e, model := newEditor()
	n := addGroup(model, 1, "a")
	n.FileList = []*queue.FileInfo{
		{ID: 10, Filename: "x.par2", IsParFile: true, Size: 50},
		{ID: 11, Filename: "x.vol000+01.par2", IsParFile: true, Size: 100},
	}

	_, err := e.Edit(Request{Scope: ScopeGroup, IDs: []int64{1}, Action: ActionPauseExtraPars})
	require.NoError(t, err)

	assert.False(t, n.FileList[0].Paused, "base par set is never touched")
	assert.True(t, n.FileList[1].Paused, "all volumes pause when a base set exists")
}

func TestEditMoveGroupSmartOrderPreservesRelativeOrderAndClamps(t *testing.T) {
	e, model := newEditor()
	for i := int64(1); i <= 5; i++ {
		addGroup(model, i, "g")
	}

	// move groups 1 and 2 toward the bottom by a large offset; smart-order
	// must preserve 1 before 2 and clamp at the queue boundary.
	ok, err := e.Edit(Request{Scope: ScopeGroup, IDs: []int64{1, 2}, Action: ActionMoveOffset, Offset: 10, SmartOrder: true})
	require.NoError(t, err)
	assert.True(t, ok)

	ids := nzbIDsOf(model.Queue())
	idx1 := indexOfID(ids, 1)
	idx2 := indexOfID(ids, 2)
	assert.Less(t, idx1, idx2, "relative order of the moved items must be preserved")
	assert.Equal(t, 4, idx2, "the later item clamps at the last slot")
}

func TestEditMoveTopAndBottom(t *testing.T) {
	e, model := newEditor()
	for i := int64(1); i <= 3; i++ {
		addGroup(model, i, "g")
	}

	_, err := e.Edit(Request{Scope: ScopeGroup, IDs: []int64{3}, Action: ActionMoveTop, SmartOrder: true})
	require.NoError(t, err)
	assert.Equal(t, int64(3), model.Queue()[0].ID)

	_, err = e.Edit(Request{Scope: ScopeGroup, IDs: []int64{3}, Action: ActionMoveBottom, SmartOrder: true})
	require.NoError(t, err)
	assert.Equal(t, int64(3), model.Queue()[len(model.Queue())-1].ID)
}

func TestEditDeleteGroupIsSoft(t *testing.T) {
	e, model := newEditor()
	addGroup(model, 1, "a")

	ok, err := e.Edit(Request{Scope: ScopeGroup, IDs: []int64{1}, Action: ActionDelete})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, model.Find(1).Deleted)
	assert.Equal(t, queue.StatusManual, model.Find(1).DeleteStatus)
	assert.NotNil(t, model.Find(1), "soft delete does not remove the item from the queue")
}

func TestEditDeleteFileFinalizesAccounting(t *testing.T) {
	e, model := newEditor()
	n := addGroup(model, 1, "a", 10)
	n.DestDir = t.TempDir()
	n.FileList[0].TotalArticles = 2
	n.FileList[0].Articles = []*queue.ArticleInfo{
		{Status: queue.ArticleFinished, SegmentSize: 100},
		{Status: queue.ArticleUndefined, SegmentSize: 50},
	}
	n.TotalArticles = 2
	n.SuccessArticles = 1

	ok, err := e.Edit(Request{Scope: ScopeFile, IDs: []int64{10}, Action: ActionDelete})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, n.FailedArticles, "the not-yet-arrived article is counted failed")
	assert.Len(t, n.FileList, 0, "the deleted file leaves the active file list")
	assert.Len(t, n.CompletedFiles, 1)
}

func TestEditSetCategoryNameParameter(t *testing.T) {
	e, model := newEditor()
	addGroup(model, 1, "a")

	_, err := e.Edit(Request{Scope: ScopeGroup, IDs: []int64{1}, Action: ActionSetCategory, Text: "movies"})
	require.NoError(t, err)
	assert.Equal(t, "movies", model.Find(1).Category)

	_, err = e.Edit(Request{Scope: ScopeGroup, IDs: []int64{1}, Action: ActionSetName, Text: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", model.Find(1).Name)

	_, err = e.Edit(Request{Scope: ScopeGroup, IDs: []int64{1}, Action: ActionSetParameter, Text: "foo=bar"})
	require.NoError(t, err)
	assert.Equal(t, "bar", model.Find(1).Parameters["foo"])

	_, err = e.Edit(Request{Scope: ScopeGroup, IDs: []int64{1}, Action: ActionSetParameter, Text: "invalid"})
	assert.Error(t, err)
}

func TestEditMerge(t *testing.T) {
	e, model := newEditor()
	addGroup(model, 1, "a", 10)
	addGroup(model, 2, "b", 20)

	ok, err := e.Edit(Request{Scope: ScopeGroup, IDs: []int64{1, 2}, Action: ActionMerge})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, model.Find(2))
	assert.Len(t, model.Find(1).FileList, 2)
}

func TestEditReorder(t *testing.T) {
	e, model := newEditor()
	addGroup(model, 1, "a", 10, 11, 12)

	ok, err := e.Edit(Request{Scope: ScopeFile, IDs: []int64{12, 10}, Action: ActionReorder})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int64{12, 10, 11}, fileIDsOf(model.Find(1).FileList))
}

func TestEditSetPriorityRejectsFileScope(t *testing.T) {
	e, model := newEditor()
	addGroup(model, 1, "a", 10)

	_, err := e.Edit(Request{Scope: ScopeFile, IDs: []int64{10}, Action: ActionSetPriority, Text: "5"})
	assert.Error(t, err)
}
