// Package scanner implements the Scanner (§4.8): a directory watcher that
// admits stable NZB files into the queue, optionally running a user
// scan-script first.
package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/javi11/nzbqueued/internal/coordinator"
	"github.com/javi11/nzbqueued/internal/dupe"
	"github.com/javi11/nzbqueued/internal/queue"
	"github.com/javi11/nzbqueued/internal/scriptenv"
)

// maxPassesWithScript is how many full directory passes one tick makes when
// a scan-script is configured, since the script may itself extract further
// NZBs into the directory mid-tick (§4.8 item 4).
const maxPassesWithScript = 3

// ScanOutcome is the scan-script's verdict for one admitted file.
type ScanOutcome int

const (
	ScanSuccess ScanOutcome = iota
	ScanFailure
	ScanSkip
)

// ScanScriptRunner executes the configured scan-script against one
// candidate file and reports its outcome plus any "[NZB] key=value" stdout
// directives (§4.8, §6). Mirrors postprocess.ScriptRunner's boundary.
type ScanScriptRunner interface {
	RunScanScript(ctx context.Context, script, path, category string) (ScanOutcome, []string, error)
}

// fileState is the stability record kept across ticks for one candidate
// path (Scanner.cpp's FileData: size and mtime are compared tick to tick;
// a file is admitted only once both have held steady for MinAge).
type fileState struct {
	size       int64
	modTime    time.Time
	lastChange time.Time
}

// Config configures one watched directory.
type Config struct {
	Dir          string
	Category     string
	ScanScript   string
	MinAge       time.Duration
	TickInterval time.Duration
}

// Scanner watches Config.Dir on a timer and admits stable *.nzb files into
// the queue via the Duplicate Coordinator and Queue Coordinator.
type Scanner struct {
	cfg    Config
	dupe   *dupe.Coordinator
	queue  *coordinator.Coordinator
	script ScanScriptRunner
	log    *slog.Logger

	mu    sync.Mutex
	files map[string]*fileState

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config, dupeCoord *dupe.Coordinator, queueCoord *coordinator.Coordinator, script ScanScriptRunner) *Scanner {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Second
	}
	return &Scanner{
		cfg:    cfg,
		dupe:   dupeCoord,
		queue:  queueCoord,
		script: script,
		log:    slog.Default().With("component", "scanner"),
		files:  make(map[string]*fileState),
		stopCh: make(chan struct{}),
	}
}

// Run ticks until ctx is cancelled or Stop is called (the scanner ticker
// loop, §5).
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop signals Run to return promptly.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Tick performs one or more directory passes (up to maxPassesWithScript when
// a scan-script is configured, else one), admitting every file that has
// become stable.
func (s *Scanner) Tick(ctx context.Context) {
	passes := 1
	if s.cfg.ScanScript != "" {
		passes = maxPassesWithScript
	}

	for p := 0; p < passes; p++ {
		admitted := s.scanOnce(ctx)
		if admitted == 0 && p > 0 {
			// nothing new surfaced by the previous pass's scan-script run;
			// further passes this tick would just re-walk an unchanged tree.
			break
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context) int {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		s.log.Error("read scan directory failed", "dir", s.cfg.Dir, "error", err)
		return 0
	}

	admitted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !isCandidate(entry.Name()) {
			continue
		}
		path := filepath.Join(s.cfg.Dir, entry.Name())
		if s.admitIfStable(ctx, path, entry) {
			admitted++
		}
	}

	s.dropStale()
	return admitted
}

// isCandidate excludes files already renamed to a terminal suffix by a
// previous admit attempt.
func isCandidate(name string) bool {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".queued"),
		strings.HasSuffix(lower, ".error"),
		strings.HasSuffix(lower, ".nzb_processed"):
		return false
	}
	return true
}

func (s *Scanner) admitIfStable(ctx context.Context, path string, entry fs.DirEntry) bool {
	info, err := entry.Info()
	if err != nil {
		return false
	}

	now := time.Now()

	s.mu.Lock()
	state, seen := s.files[path]
	if !seen {
		s.files[path] = &fileState{size: info.Size(), modTime: info.ModTime(), lastChange: now}
		s.mu.Unlock()
		return false
	}
	if state.size != info.Size() || !state.modTime.Equal(info.ModTime()) {
		state.size = info.Size()
		state.modTime = info.ModTime()
		state.lastChange = now
		s.mu.Unlock()
		return false
	}
	stableFor := now.Sub(state.lastChange)
	if stableFor < s.cfg.MinAge {
		s.mu.Unlock()
		return false
	}
	delete(s.files, path)
	s.mu.Unlock()

	s.admit(ctx, path)
	return true
}

// dropStale forgets tracked paths that vanished from the directory (picked
// up elsewhere, or deleted out from under the scanner) so the state map
// does not grow without bound (Scanner::DropOldFiles).
func (s *Scanner) dropStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path := range s.files {
		if _, err := os.Stat(path); err != nil {
			delete(s.files, path)
		}
	}
}

// admit runs the scan-script (if configured), renames the source file per
// its verdict, and on success parses and hands the NZB down the admission
// chain (§4.8 items 1-3).
func (s *Scanner) admit(ctx context.Context, path string) {
	opts := coordinator.IngestOptions{Category: s.cfg.Category}
	addTop := false
	addPaused := false
	outcome := ScanSuccess

	if s.script != nil && s.cfg.ScanScript != "" {
		result, directives, err := s.script.RunScanScript(ctx, s.cfg.ScanScript, path, s.cfg.Category)
		if err != nil {
			s.log.Error("scan-script failed", "path", path, "error", err)
			outcome = ScanFailure
		} else {
			outcome = result
			applyScanDirectives(&opts, &addTop, &addPaused, directives)
		}
	}

	suffix := ".queued"
	switch outcome {
	case ScanFailure:
		suffix = ".error"
	case ScanSkip:
		suffix = ".nzb_processed"
	}

	renamed := path + suffix
	if err := os.Rename(path, renamed); err != nil {
		s.log.Error("rename scanned file failed", "path", path, "target", renamed, "error", err)
		return
	}

	if outcome != ScanSuccess {
		return
	}

	s.parseAndEnqueue(renamed, opts, addTop, addPaused)
}

func (s *Scanner) parseAndEnqueue(path string, opts coordinator.IngestOptions, addTop, addPaused bool) {
	f, err := os.Open(path)
	if err != nil {
		s.log.Error("open admitted nzb failed", "path", path, "error", err)
		return
	}
	defer f.Close()

	nzb, err := coordinator.ParseNzb(f, opts)
	if err != nil {
		s.log.Error("parse admitted nzb failed", "path", path, "error", err)
		return
	}
	nzb.QueuedFilename = path

	if addPaused {
		for _, file := range nzb.FileList {
			file.Paused = true
		}
	}

	result := s.dupe.Admit(nzb)
	switch result.Outcome {
	case dupe.AdmitRejectedDuplicate, dupe.AdmitBackedUp:
		s.log.Info("admitted nzb dropped by dupe check", "name", nzb.Name, "reason", result.Reason)
		return
	}

	s.queue.Enqueue(nzb)
	if addTop {
		s.queue.MoveToFront(nzb.ID)
	}
}

// applyScanDirectives interprets the scan-script's "[NZB] key=value" stdout
// lines (§4.8 item 1, §6). Unlike the post-processor's narrower vocabulary
// (scriptenv.ParseDirective's NZBPR_/DIRECTORY=/MARK=BAD cases), the
// scan-script may also set nzb-name, category, priority, add-top/paused,
// and dupe-key/score/mode; these all fall through ParseDirective's generic
// key=value case, so no separate parser is needed here.
func applyScanDirectives(opts *coordinator.IngestOptions, addTop, addPaused *bool, lines []string) {
	for _, line := range lines {
		d, ok := scriptenv.ParseDirective(line)
		if !ok {
			continue
		}
		switch {
		case d.SetParameter != "":
			continue // NZBPR_ lines are not applied by the scanner; the parameter is dropped
		case d.Key == "NZBNAME":
			opts.Name = d.Value
		case d.Key == "CATEGORY":
			opts.Category = d.Value
		case d.Key == "PRIORITY":
			if v, err := strconv.Atoi(d.Value); err == nil {
				opts.Priority = v
			}
		case d.Key == "TOP":
			*addTop = d.Value != "" && d.Value != "0"
		case d.Key == "PAUSED":
			*addPaused = d.Value != "" && d.Value != "0"
		case d.Key == "DUPEKEY":
			opts.DupeKey = d.Value
		case d.Key == "DUPESCORE":
			if v, err := strconv.Atoi(d.Value); err == nil {
				opts.DupeScore = v
			}
		case d.Key == "DUPEMODE":
			opts.DupeMode = parseDupeMode(d.Value)
		}
	}
}

func parseDupeMode(v string) queue.DupeMode {
	switch strings.ToUpper(v) {
	case "ALL":
		return queue.DupeModeAll
	case "FORCE":
		return queue.DupeModeForce
	default:
		return queue.DupeModeScore
	}
}
