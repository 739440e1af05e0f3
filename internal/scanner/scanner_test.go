package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/javi11/nzbqueued/internal/coordinator"
	"github.com/javi11/nzbqueued/internal/dupe"
	"github.com/javi11/nzbqueued/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNzbXML = `<?xml version="1.0" encoding="iso-8859-1"?>
<!DOCTYPE nzb PUBLIC "-//newzBin//DTD NZB 1.1//EN" "http://www.newzbin.com/DTD/nzb/nzb-1.1.dtd">
<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">
<file poster="a" date="1000000000" subject="file1 (1/1)">
<groups><group>alt.binaries.test</group></groups>
<segments><segment bytes="100" number="1">msg1@example</segment></segments>
</file>
</nzb>`

func newTestScanner(t *testing.T, cfg Config, script ScanScriptRunner) (*Scanner, *queue.Model) {
	t.Helper()
	model := queue.NewModel()
	dupeCoord := dupe.New(model)
	queueCoord := coordinator.New(model)
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	return New(cfg, dupeCoord, queueCoord, script), model
}

func writeNzb(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(testNzbXML), 0o644))
	return path
}

func TestTick_AdmitsOnlyAfterSizeAndMtimeAreStable(t *testing.T) {
	dir := t.TempDir()
	s, model := newTestScanner(t, Config{Dir: dir, MinAge: 0}, nil)
	writeNzb(t, dir, "release.nzb")

	s.Tick(context.Background())
	assert.Empty(t, model.Queue(), "first sighting only records state, never admits")

	s.Tick(context.Background())
	assert.Len(t, model.Queue(), 1, "unchanged size/mtime on the second tick admits")
}

func TestTick_ChangingSizeResetsStability(t *testing.T) {
	dir := t.TempDir()
	s, model := newTestScanner(t, Config{Dir: dir, MinAge: 0}, nil)
	path := writeNzb(t, dir, "release.nzb")

	s.Tick(context.Background())
	require.NoError(t, os.WriteFile(path, []byte(testNzbXML+"\n"), 0o644))
	s.Tick(context.Background())
	assert.Empty(t, model.Queue(), "a size change on the second tick restarts the stability window")
}

func TestAdmit_RenamesQueuedOnSuccessAndParses(t *testing.T) {
	dir := t.TempDir()
	s, model := newTestScanner(t, Config{Dir: dir, MinAge: 0, Category: "movies"}, nil)
	writeNzb(t, dir, "release.nzb")

	s.Tick(context.Background())
	s.Tick(context.Background())

	require.Len(t, model.Queue(), 1)
	assert.Equal(t, "movies", model.Queue()[0].Category)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "release.nzb.queued", entries[0].Name())
}

type fakeScript struct {
	outcome    ScanOutcome
	directives []string
	err        error
}

func (f *fakeScript) RunScanScript(ctx context.Context, script, path, category string) (ScanOutcome, []string, error) {
	return f.outcome, f.directives, f.err
}

func TestAdmit_ScriptFailureRenamesError(t *testing.T) {
	dir := t.TempDir()
	script := &fakeScript{outcome: ScanFailure}
	s, model := newTestScanner(t, Config{Dir: dir, MinAge: 0, ScanScript: "check.sh"}, script)
	writeNzb(t, dir, "release.nzb")

	s.Tick(context.Background())
	s.Tick(context.Background())

	assert.Empty(t, model.Queue())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "release.nzb.error", entries[0].Name())
}

func TestAdmit_ScriptSkipRenamesNzbProcessedAndDoesNotQueue(t *testing.T) {
	dir := t.TempDir()
	script := &fakeScript{outcome: ScanSkip}
	s, model := newTestScanner(t, Config{Dir: dir, MinAge: 0, ScanScript: "check.sh"}, script)
	writeNzb(t, dir, "release.nzb")

	s.Tick(context.Background())
	s.Tick(context.Background())

	assert.Empty(t, model.Queue())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "release.nzb.nzb_processed", entries[0].Name())
}

func TestAdmit_ScriptDirectivesOverrideNameCategoryPriorityTopPaused(t *testing.T) {
	dir := t.TempDir()
	script := &fakeScript{outcome: ScanSuccess, directives: []string{
		"[NZB] NZBNAME=renamed-release",
		"[NZB] CATEGORY=tv",
		"[NZB] PRIORITY=5",
		"[NZB] TOP=1",
		"[NZB] PAUSED=1",
		"[NZB] DUPEKEY=somekey",
		"[NZB] DUPESCORE=10",
		"[NZB] DUPEMODE=ALL",
	}}
	s, model := newTestScanner(t, Config{Dir: dir, MinAge: 0, ScanScript: "check.sh"}, script)
	writeNzb(t, dir, "release.nzb")
	// a pre-existing queued item so TOP= has somewhere to move ahead of.
	model.AddBack(&queue.NzbInfo{ID: 1, Name: "existing"})

	s.Tick(context.Background())
	s.Tick(context.Background())

	require.Len(t, model.Queue(), 2)
	added := model.Queue()[0]
	assert.Equal(t, "renamed-release", added.Name)
	assert.Equal(t, "tv", added.Category)
	assert.Equal(t, 5, added.Priority)
	assert.Equal(t, "somekey", added.DupeKey)
	assert.Equal(t, 10, added.DupeScore)
	assert.Equal(t, queue.DupeModeAll, added.DupeMode)
	for _, f := range added.FileList {
		assert.True(t, f.Paused)
	}
}

func TestTick_MultiPassPicksUpFileExtractedByScanScript(t *testing.T) {
	dir := t.TempDir()
	extracted := false
	script := &fakeScriptThatExtracts{dir: &dir, done: &extracted}
	s, _ := newTestScanner(t, Config{Dir: dir, MinAge: 0, ScanScript: "extract.sh"}, script)
	writeNzb(t, dir, "trigger.nzb")

	s.Tick(context.Background())
	s.Tick(context.Background())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	assert.True(t, names["trigger.nzb.queued"] || names["trigger.nzb.error"] || names["trigger.nzb.nzb_processed"])
	assert.True(t, names["extracted.nzb.queued"], "a later pass picks up the NZB the scan-script extracted")
}

// fakeScriptThatExtracts writes a second NZB into the scan directory the
// first time it runs, simulating a scan-script that extracts a fresh NZB
// out of an archive (§4.8 item 4's reason for multi-pass scanning).
type fakeScriptThatExtracts struct {
	dir  *string
	done *bool
}

func (f *fakeScriptThatExtracts) RunScanScript(ctx context.Context, script, path, category string) (ScanOutcome, []string, error) {
	if !*f.done {
		*f.done = true
		_ = os.WriteFile(filepath.Join(*f.dir, "extracted.nzb"), []byte(testNzbXML), 0o644)
	}
	return ScanSuccess, nil, nil
}

func TestScanner_StopEndsRunPromptly(t *testing.T) {
	s, _ := newTestScanner(t, Config{TickInterval: 10 * time.Millisecond}, nil)
	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
