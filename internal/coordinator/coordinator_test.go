package coordinator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/javi11/nzbqueued/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestNzb(t *testing.T, fileCount, articlesPerFile int) *queue.NzbInfo {
	t.Helper()
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="iso-8859-1"?>` + "\n")
	sb.WriteString(`<!DOCTYPE nzb PUBLIC "-//newzBin//DTD NZB 1.1//EN" "http://www.newzbin.com/DTD/nzb/nzb-1.1.dtd">` + "\n")
	sb.WriteString(`<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">` + "\n")
	for fi := 0; fi < fileCount; fi++ {
		sb.WriteString(`<file poster="a" date="1000000000" subject="file` + itoa(fi) + ` (1/1)">` + "\n")
		sb.WriteString(`<groups><group>alt.binaries.test</group></groups>` + "\n")
		sb.WriteString(`<segments>` + "\n")
		for si := 0; si < articlesPerFile; si++ {
			sb.WriteString(`<segment bytes="100" number="` + itoa(si+1) + `">msg` + itoa(fi) + "-" + itoa(si) + `@example</segment>` + "\n")
		}
		sb.WriteString(`</segments>` + "\n")
		sb.WriteString(`</file>` + "\n")
	}
	sb.WriteString(`</nzb>`)

	nzb, err := ParseNzb(strings.NewReader(sb.String()), IngestOptions{Name: "a.nzb"})
	require.NoError(t, err)
	require.Len(t, nzb.FileList, fileCount)
	return nzb
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

func TestCoordinator_EnqueueAssignsIDsAndPublishesEvent(t *testing.T) {
	model := queue.NewModel()
	c := New(model)

	var events []Event
	c.Subscribe(func(e Event) { events = append(events, e) })

	nzb := buildTestNzb(t, 2, 3)
	c.Enqueue(nzb)

	assert.NotZero(t, nzb.ID)
	for _, f := range nzb.FileList {
		assert.NotZero(t, f.ID)
		assert.Equal(t, nzb.ID, f.NzbID)
	}
	require.Len(t, events, 1)
	assert.Equal(t, EventNzbAdded, events[0].Kind)
}

func TestCoordinator_S1_AllArticlesSuccessCompletesFiles(t *testing.T) {
	model := queue.NewModel()
	c := New(model)
	nzb := buildTestNzb(t, 10, 100)
	nzb.DestDir = t.TempDir()
	c.Enqueue(nzb)

	var completed int
	c.Subscribe(func(e Event) {
		if e.Kind == EventFileCompleted {
			completed++
		}
	})

	for {
		res, ok := c.ReserveArticle()
		if !ok {
			break
		}
		res.Article.CachedSegment = make([]byte, res.Article.Size)
		require.NoError(t, c.CompleteArticle(res.Nzb.ID, res.File.ID, res.Article, true))
	}

	assert.Empty(t, nzb.FileList, "every file should have left FileList")
	assert.Len(t, nzb.CompletedFiles, 10)
	assert.Equal(t, 10, completed)
	assert.Equal(t, nzb.Size, nzb.SuccessSize)
	assert.True(t, nzb.ReadyForPostProcessing())
	for _, cf := range nzb.CompletedFiles {
		assert.Equal(t, queue.CompletedSuccess, cf.Status)
	}
}

func TestCoordinator_LateDirectoryChange_RelocatesAlreadyCompletedFiles(t *testing.T) {
	model := queue.NewModel()
	c := New(model)
	nzb := buildTestNzb(t, 3, 1)
	nzb.DestDir = t.TempDir()
	c.Enqueue(nzb)

	reserveAndComplete := func() {
		res, ok := c.ReserveArticle()
		require.True(t, ok)
		res.Article.CachedSegment = make([]byte, res.Article.Size)
		require.NoError(t, c.CompleteArticle(res.Nzb.ID, res.File.ID, res.Article, true))
	}

	reserveAndComplete() // first file lands in the original DestDir

	newDir := filepath.Join(t.TempDir(), "renamed")
	nzb.FinalDir = newDir // simulates a queue-script DIRECTORY= directive

	reserveAndComplete() // second file's finalize should relocate the first
	reserveAndComplete() // third file lands directly in newDir

	require.Len(t, nzb.CompletedFiles, 3)
	for _, cf := range nzb.CompletedFiles {
		_, err := os.Stat(filepath.Join(newDir, cf.Filename))
		assert.NoError(t, err, "completed file %q should have been relocated to the new directory", cf.Filename)
	}
	assert.Equal(t, newDir, nzb.CompletedDir)
}

func TestCoordinator_ReserveArticle_HonoursPriorityThenQueueOrder(t *testing.T) {
	model := queue.NewModel()
	c := New(model)

	low := buildTestNzb(t, 1, 1)
	low.Priority = 0
	low.DestDir = t.TempDir()
	c.Enqueue(low)

	high := buildTestNzb(t, 1, 1)
	high.Priority = 10
	high.DestDir = t.TempDir()
	c.Enqueue(high)

	res, ok := c.ReserveArticle()
	require.True(t, ok)
	assert.Equal(t, high.ID, res.Nzb.ID, "higher priority nzb must be served first")
}

func TestCoordinator_ReserveArticle_SkipsHealthPausedNzb(t *testing.T) {
	model := queue.NewModel()
	c := New(model)

	nzb := buildTestNzb(t, 1, 1)
	nzb.HealthPaused = true
	c.Enqueue(nzb)

	_, ok := c.ReserveArticle()
	assert.False(t, ok)
}

func TestCoordinator_Drop_RemovesFromQueueAndPublishes(t *testing.T) {
	model := queue.NewModel()
	c := New(model)
	nzb := buildTestNzb(t, 1, 1)
	c.Enqueue(nzb)

	var kinds []EventKind
	c.Subscribe(func(e Event) { kinds = append(kinds, e.Kind) })

	assert.True(t, c.Drop(nzb.ID))
	assert.Nil(t, model.Find(nzb.ID))
	assert.Contains(t, kinds, EventNzbDeleted)
}
