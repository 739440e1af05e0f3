// Package execrunner implements the Pre/Post-Processor, Scanner and
// Queue-Script Hook's external-process collaborators (par2 verify/repair,
// archive extraction, directory move, and user script execution) by
// shelling out with os/exec, the way the rclone mount service starts and
// supervises its own external process.
package execrunner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/javi11/nzbqueued/internal/postprocess"
	"github.com/javi11/nzbqueued/internal/queue"
	"github.com/javi11/nzbqueued/internal/queuescript"
	"github.com/javi11/nzbqueued/internal/scanner"
	"github.com/javi11/nzbqueued/internal/scriptenv"
)

// logWriter routes one stream of a child process's output into the structured
// logger line by line.
type logWriter struct {
	level  slog.Level
	prefix string
}

func (w *logWriter) Write(p []byte) (int, error) {
	slog.Log(context.Background(), w.level, w.prefix, "line", string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

// captureWriter both logs and accumulates every line, so callers that need
// the child's full stdout (to parse "[NZB] ..." directives) can have it.
type captureWriter struct {
	log   *logWriter
	lines []string
	buf   bytes.Buffer
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.lines = append(w.lines, string(bytes.TrimRight([]byte(line), "\n")))
	}
	return w.log.Write(p)
}

func runCaptured(ctx context.Context, name string, args []string, dir string, env []string) (lines []string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = append(os.Environ(), env...)
	}

	out := &captureWriter{log: &logWriter{level: slog.LevelInfo, prefix: name}}
	cmd.Stdout = out
	cmd.Stderr = &logWriter{level: slog.LevelWarn, prefix: name}

	err = cmd.Run()
	return out.lines, err
}

// exitCode extracts the child process's exit code from err, or -1 if the
// process never started.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if bytesAsExitError(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func bytesAsExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}

// ParChecker runs an external par2 tool to verify (and, when needed,
// repair) a job's downloaded files.
type ParChecker struct {
	Binary      string // defaults to "par2" on PATH
	TimeLimit   time.Duration
}

// Check runs `par2 r <main .par2 file>` inside n's destination directory.
// par2cmdline's convention: exit 0 success, 1 repair not possible, 2 need
// more recovery data, 3 repair possible but not attempted (read-only check
// gives this for -v); anything else is treated as failure.
func (p *ParChecker) Check(ctx context.Context, n *queue.NzbInfo) (postprocess.ParOutcome, int64, error) {
	binary := p.Binary
	if binary == "" {
		binary = "par2"
	}

	main := mainPar2File(n)
	if main == "" {
		return postprocess.ParSuccess, 0, nil
	}

	timeout := p.TimeLimit
	if timeout <= 0 {
		timeout = time.Hour
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := runCaptured(runCtx, binary, []string{"r", main}, n.DestDir, nil)
	code := exitCode(err)

	switch code {
	case 0:
		return postprocess.ParSuccess, 0, nil
	case 2:
		return postprocess.ParRequestMoreBlocks, 0, nil
	case 1, 3:
		return postprocess.ParFailure, 0, nil
	default:
		if err != nil && code == -1 {
			return postprocess.ParFailure, 0, fmt.Errorf("par2 did not run: %w", err)
		}
		return postprocess.ParFailure, 0, nil
	}
}

func mainPar2File(n *queue.NzbInfo) string {
	for _, cf := range n.CompletedFiles {
		if cf.IsParFile {
			return cf.Filename
		}
	}
	return ""
}

// Unpacker extracts archives (rar/zip/7z) found among a job's completed
// files using an external 7z-compatible binary.
type Unpacker struct {
	Binary string // defaults to "7z"
}

// Unpack runs `7z x -y -o<destdir> <archive>` for the job's first archive
// part. 7z's own exit codes: 0 success, 1 warning (treated as success), 2
// fatal error, 7 command line error, 8 not enough memory, 255 user stopped;
// a password prompt is detected from the captured stdout lines (stderr is
// only logged, not scanned).
func (u *Unpacker) Unpack(ctx context.Context, n *queue.NzbInfo) (postprocess.UnpackOutcome, error) {
	binary := u.Binary
	if binary == "" {
		binary = "7z"
	}

	archive := firstArchiveFile(n)
	if archive == "" {
		return postprocess.UnpackSuccess, nil
	}

	lines, err := runCaptured(ctx, binary, []string{"x", "-y", "-o" + n.DestDir, archive}, n.DestDir, nil)
	code := exitCode(err)

	for _, line := range lines {
		if bytesContainsFold(line, "wrong password") || bytesContainsFold(line, "enter password") {
			return postprocess.UnpackPasswordProtected, nil
		}
	}

	switch code {
	case 0, 1:
		return postprocess.UnpackSuccess, nil
	default:
		return postprocess.UnpackFailure, err
	}
}

func bytesContainsFold(s, substr string) bool {
	return bytes.Contains(bytes.ToLower([]byte(s)), bytes.ToLower([]byte(substr)))
}

func firstArchiveFile(n *queue.NzbInfo) string {
	for _, cf := range n.CompletedFiles {
		switch filepath.Ext(cf.Filename) {
		case ".rar", ".zip", ".7z":
			return cf.Filename
		}
		if len(cf.Filename) > 4 && cf.Filename[len(cf.Filename)-4:len(cf.Filename)-2] == ".r" {
			return cf.Filename // .r00, .r01, ... split-rar first-volume naming
		}
	}
	return ""
}

// Mover relocates a job's files from its intermediate directory to its
// final directory with os.Rename, falling back to a recursive copy+remove
// when the two directories live on different devices.
type Mover struct{}

func (Mover) Move(ctx context.Context, srcDir, dstDir string) error {
	if srcDir == dstDir {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dstDir), 0o755); err != nil {
		return fmt.Errorf("create destination parent: %w", err)
	}
	if err := os.Rename(srcDir, dstDir); err == nil {
		return nil
	}
	return copyAndRemoveTree(srcDir, dstDir)
}

func copyAndRemoveTree(srcDir, dstDir string) error {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(srcDir, entry.Name())
		dstPath := filepath.Join(dstDir, entry.Name())
		if entry.IsDir() {
			if err := copyAndRemoveTree(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return os.RemoveAll(srcDir)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.ReadFrom(in); err != nil {
		return err
	}
	return out.Sync()
}

// postScriptExitCode maps one exit code to a postprocess.ScriptOutcome,
// per the post-script exit-code convention (93=success, 94=error,
// 95=none/skipped, 91=request-par-check-current, 92=request-par-check-all).
func postScriptExitCode(code int) postprocess.ScriptOutcome {
	switch code {
	case 93:
		return postprocess.ScriptSuccess
	case 94:
		return postprocess.ScriptError
	case 95:
		return postprocess.ScriptNone
	case 91:
		return postprocess.ScriptRequestParCheckCurrent
	case 92:
		return postprocess.ScriptRequestParCheckAll
	default:
		return postprocess.ScriptUnknown
	}
}

// ScriptRunner runs configured post-processing scripts in a job's
// destination directory.
type ScriptRunner struct {
	Dirs    []string // directories searched for a named script, in order
	Timeout time.Duration
}

func (r *ScriptRunner) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	for _, dir := range r.Dirs {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return name
}

func (r *ScriptRunner) RunPostScript(ctx context.Context, script string, n *queue.NzbInfo) (postprocess.ScriptOutcome, []string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env := append(
		[]string{"NZBPP_DIRECTORY=" + n.DestDir, "NZBPP_NZBNAME=" + n.Name, "NZBPP_CATEGORY=" + n.Category},
		scriptenv.EnvParameterVars(n.Parameters)...,
	)

	lines, err := runCaptured(runCtx, r.resolve(script), nil, n.DestDir, env)
	if err != nil && exitCode(err) == -1 {
		return postprocess.ScriptError, nil, err
	}
	return postScriptExitCode(exitCode(err)), lines, nil
}

// ScanScriptRunner runs a configured scan-script against one candidate
// file the Scanner found stable.
type ScanScriptRunner struct {
	Timeout time.Duration
}

func (r *ScanScriptRunner) RunScanScript(ctx context.Context, script, path, category string) (scanner.ScanOutcome, []string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env := []string{"NZBNP_FILENAME=" + path, "NZBNP_CATEGORY=" + category}
	lines, err := runCaptured(runCtx, script, []string{path}, filepath.Dir(path), env)
	code := exitCode(err)

	switch {
	case code == 0:
		return scanner.ScanSuccess, lines, nil
	case code == -1 && err != nil:
		return scanner.ScanFailure, nil, err
	default:
		return scanner.ScanFailure, lines, nil
	}
}

// QueueScriptRunner runs one queue-script invocation for a lifecycle event.
type QueueScriptRunner struct{}

func (QueueScriptRunner) RunQueueScript(ctx context.Context, script string, env []string, nzbID int64, event queuescript.Event) ([]string, error) {
	lines, err := runCaptured(ctx, script, nil, "", env)
	if err != nil && exitCode(err) == -1 {
		return nil, err
	}
	return lines, nil
}

// RateController is the subset of the download worker Pool's knobs a
// scheduled task needs (§4.9).
type RateController interface {
	SetPaused(paused bool)
	SetDownloadRate(kbps int)
}

// SchedulerActions implements scheduler.Actions on top of a RateController
// (the download worker Pool) plus ad-hoc process execution.
type SchedulerActions struct {
	Controller RateController
}

func (a SchedulerActions) SetPaused(paused bool) {
	a.Controller.SetPaused(paused)
}

func (a SchedulerActions) SetDownloadRate(kbps int) {
	a.Controller.SetDownloadRate(kbps)
}

// RunProcess runs a configured process to completion, blocking the caller
// until it exits; failures are logged but never propagated, matching the
// Scheduler's "never an error" cancellation/shutdown stance (§7).
func (a SchedulerActions) RunProcess(ctx context.Context, process string) {
	if process == "" {
		return
	}
	if _, err := runCaptured(ctx, process, nil, "", nil); err != nil {
		slog.Error("scheduled process failed", "process", process, "error", err)
	}
}
