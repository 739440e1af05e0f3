package postprocess

import (
	"context"
	"testing"

	"github.com/javi11/nzbqueued/internal/dupe"
	"github.com/javi11/nzbqueued/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeParChecker struct {
	outcome ParOutcome
	needed  int64
	err     error
}

func (f *fakeParChecker) Check(ctx context.Context, n *queue.NzbInfo) (ParOutcome, int64, error) {
	return f.outcome, f.needed, f.err
}

type fakeUnpacker struct{ outcome UnpackOutcome }

func (f *fakeUnpacker) Unpack(ctx context.Context, n *queue.NzbInfo) (UnpackOutcome, error) {
	return f.outcome, nil
}

type fakeMover struct{ called bool }

func (f *fakeMover) Move(ctx context.Context, src, dst string) error {
	f.called = true
	return nil
}

type fakeScriptRunner struct {
	outcome    ScriptOutcome
	directives []string
}

func (f *fakeScriptRunner) RunPostScript(ctx context.Context, script string, n *queue.NzbInfo) (ScriptOutcome, []string, error) {
	return f.outcome, f.directives, nil
}

func newReadyNzb() *queue.NzbInfo {
	return &queue.NzbInfo{
		ID:              1,
		Name:            "release.one",
		SuccessArticles: 100,
		Parameters:      map[string]string{},
		ScriptStatuses:  map[string]queue.Status{},
		Post:            &queue.PostInfo{Stage: queue.PtQueued},
	}
}

func TestRunStage_SkipParCheckFailsBelowCriticalHealth(t *testing.T) {
	model := queue.NewModel()
	c := New(Config{Model: model})

	n := newReadyNzb()
	n.SuccessArticles = 1
	n.FailedArticles = 5 // health well below 900/1000

	c.runStage(context.Background(), n)

	assert.Equal(t, queue.StatusFailure, n.ParStatus)
}

func TestRunStage_SkipParCheckSucceedsAboveCriticalHealth(t *testing.T) {
	model := queue.NewModel()
	c := New(Config{Model: model})

	n := newReadyNzb()
	c.runStage(context.Background(), n)

	assert.Equal(t, queue.StatusSkipped, n.ParStatus)
}

func TestRunStage_ParCheckRequestsMoreBlocks(t *testing.T) {
	model := queue.NewModel()
	c := New(Config{Model: model, ParChecker: &fakeParChecker{outcome: ParRequestMoreBlocks, needed: 100}})

	n := newReadyNzb()
	n.ParRenameStatus = queue.StatusSuccess // rename already done, so this stage call reaches par-check
	n.CompletedFiles = append(n.CompletedFiles, &queue.CompletedFile{IsParFile: true})
	n.FileList = []*queue.FileInfo{
		{ID: 10, IsParFile: true, Paused: true, Size: 100},
		{ID: 11, IsParFile: true, Paused: true, Size: 200},
	}

	c.runStage(context.Background(), n)

	assert.Equal(t, queue.StatusNone, n.ParStatus)
	assert.True(t, n.Post.Paused)
	assert.False(t, n.FileList[0].Paused, "the smallest paused par-volume covering the request should be unpaused")
	assert.True(t, n.FileList[0].ExtraPriority)
	assert.True(t, n.FileList[1].Paused, "the larger par-volume is not needed once the smaller one covers the request")
}

func TestFullPipeline_RunsEveryStageThroughFinish(t *testing.T) {
	model := queue.NewModel()
	dupeCoord := dupe.New(model)
	mover := &fakeMover{}
	c := New(Config{
		Model:       model,
		Dupe:        dupeCoord,
		ParChecker:  &fakeParChecker{outcome: ParSuccess},
		Unpacker:    &fakeUnpacker{outcome: UnpackSuccess},
		Mover:       mover,
		Scripts:     &fakeScriptRunner{outcome: ScriptSuccess},
		PostScripts: []string{"organize.sh"},
		HistoryKept: true,
	})

	n := newReadyNzb()
	n.FinalDir = "/final"
	n.DestDir = "/intermediate"
	n.CompletedFiles = append(n.CompletedFiles, &queue.CompletedFile{IsParFile: true})
	model.AddBack(n)

	for i := 0; i < 10 && n.Post != nil; i++ {
		c.Tick(context.Background())
	}

	require.Nil(t, n.Post, "post-processing should have finished")
	assert.Equal(t, queue.StatusSuccess, n.ParStatus)
	assert.Equal(t, queue.StatusSuccess, n.UnpackStatus)
	assert.Equal(t, queue.StatusSuccess, n.MoveStatus)
	assert.True(t, mover.called)
	assert.Equal(t, queue.StatusSuccess, n.ScriptStatuses["organize.sh"])
	assert.Nil(t, model.Find(n.ID), "finished nzb should have left the live queue")

	h := model.History()
	require.Len(t, h, 1)
	assert.Equal(t, n.ID, h[0].Nzb.ID)
}

func TestCancel_SetsStopFlagAndCancelsContext(t *testing.T) {
	model := queue.NewModel()
	c := New(Config{Model: model})

	n := newReadyNzb()
	model.AddBack(n)

	assert.False(t, c.Cancel(n.ID), "nothing running yet")

	done := make(chan struct{})
	c.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	c.running[n.ID] = cancel
	c.mu.Unlock()
	go func() {
		<-ctx.Done()
		close(done)
	}()

	assert.True(t, c.Cancel(n.ID))
	<-done
	assert.True(t, n.Post.Stop)
}
