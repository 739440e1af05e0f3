// Package diskstate implements the atomic, line-oriented persistence of the
// queue, history, and per-file partial-download state (§4.1).
package diskstate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WriteAtomic implements the write protocol of §4.1: write to a temp file,
// optionally fsync it, close, unlink the destination, rename the temp file
// into place, optionally fsync the containing directory.
//
// The temp name uses a uuid suffix rather than the bare ".new" nzbget uses,
// so two save triggers racing on the same file never clobber each other's
// temp file before the first rename lands.
func WriteAtomic(path string, content []byte, flush bool) error {
	dir := filepath.Dir(path)
	tmp := path + ".new." + uuid.NewString()

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("diskstate: open temp file: %w", err)
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("diskstate: write temp file: %w", err)
	}

	if flush {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("diskstate: fsync temp file: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("diskstate: close temp file: %w", err)
	}

	// Unlinking before rename matches §4.1's ordering; on POSIX the rename
	// alone is already atomic and would replace the destination, but a
	// missing destination must never block the rename.
	os.Remove(path)

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("diskstate: rename temp file into place: %w", err)
	}

	if flush {
		if err := fsyncDir(dir); err != nil {
			return fmt.Errorf("diskstate: fsync directory: %w", err)
		}
	}

	return nil
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// RecoverIncomplete renames path+".new.*" into path if path itself is
// missing, implementing the §4.1 recovery rule: a crash between rename and
// the caller's next open must not look like data loss. Since temp names now
// carry a uuid suffix, this picks the first match found by glob (this
// repo's save protocol only ever leaves at most one such leftover unless the
// process is killed mid-rename, which removes the source and renames
// exactly once, so a glob match here is always the previous crash's
// leftover).
func RecoverIncomplete(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // destination already present, nothing to recover
	}

	matches, err := filepath.Glob(path + ".new.*")
	if err != nil {
		return fmt.Errorf("diskstate: glob temp files: %w", err)
	}
	if len(matches) == 0 {
		return nil
	}

	return os.Rename(matches[0], path)
}
