package article

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/javi11/nzbqueued/internal/queue"
)

// Mode is the storage strategy an Article Writer picked at Start (§4.3).
type Mode int

const (
	ModeCached Mode = iota
	ModeDirectWrite
	ModeTempPerArticle
)

// outputLocks serializes multiple article writers racing to create/extend
// the same FileInfo's direct-write output file (§5, "per-FileInfo output
// file lock").
var outputLocks sync.Map // map[int64]*sync.Mutex, keyed by FileInfo id

func outputLock(fileID int64) *sync.Mutex {
	v, _ := outputLocks.LoadOrStore(fileID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Writer is instantiated per article by an external NNTP worker.
type Writer struct {
	cache *Cache

	file    *queue.FileInfo
	article *queue.ArticleInfo

	mode       Mode
	destDir    string
	outputPath string

	buf      []byte
	written  int64
	tempFile *os.File
	tempPath string
}

// NewWriter prepares a Writer for one article of file, writing into destDir
// once the file completes. forceDirectWrite mirrors FileInfo.ForceDirectWrite
// (the caller may request direct-write regardless of cache availability).
func NewWriter(cache *Cache, file *queue.FileInfo, a *queue.ArticleInfo, destDir string, forceDirectWrite bool) *Writer {
	return &Writer{
		cache:   cache,
		file:    file,
		article: a,
		destDir: destDir,
		mode:    pickMode(cache, file, a, forceDirectWrite),
	}
}

func pickMode(cache *Cache, file *queue.FileInfo, a *queue.ArticleInfo, forceDirectWrite bool) Mode {
	if forceDirectWrite || file.ForceDirectWrite {
		return ModeDirectWrite
	}
	if cache != nil {
		if _, ok := cache.Alloc(a.Size); ok {
			cache.Release(a.Size) // Start() allocates for real; this was only a feasibility probe
			return ModeCached
		}
	}
	return ModeTempPerArticle
}

// Start begins receiving decoded bytes for the article. fileSize is the
// declared size of the whole output file; the filename and the article's
// offset and size come from the FileInfo and ArticleInfo the Writer was
// built with. There is no output-format argument.
func (w *Writer) Start(fileSize int64) error {
	switch w.mode {
	case ModeCached:
		buf, ok := w.cache.Alloc(w.article.Size)
		if !ok {
			w.mode = ModeTempPerArticle
			return w.startTempPerArticle()
		}
		w.buf = buf
		return nil

	case ModeDirectWrite:
		return w.startDirectWrite(fileSize)

	default:
		return w.startTempPerArticle()
	}
}

func (w *Writer) startDirectWrite(fileSize int64) error {
	lock := outputLock(w.file.ID)
	lock.Lock()
	defer lock.Unlock()

	if w.file.OutputInitialized {
		f, err := os.OpenFile(w.outputFilePath(), os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("article: reopen direct-write output: %w", err)
		}
		w.tempFile = f
		return nil
	}

	if err := os.MkdirAll(w.destDir, 0o755); err != nil {
		return fmt.Errorf("article: create destination dir: %w", err)
	}

	path := w.outputFilePath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("article: create direct-write output: %w", err)
	}
	if fileSize > 0 {
		if err := f.Truncate(fileSize); err != nil {
			f.Close()
			return fmt.Errorf("article: preallocate direct-write output: %w", err)
		}
	}
	w.tempFile = f
	w.file.OutputInitialized = true
	return nil
}

func (w *Writer) outputFilePath() string {
	if w.outputPath == "" {
		w.outputPath = filepath.Join(w.destDir, fmt.Sprintf(".%d.partial", w.file.ID))
	}
	return w.outputPath
}

func (w *Writer) startTempPerArticle() error {
	f, err := os.CreateTemp(w.destDir, fmt.Sprintf(".article-%d-*.tmp", w.article.PartNumber))
	if err != nil {
		return fmt.Errorf("article: create temp-per-article file: %w", err)
	}
	w.tempFile = f
	w.tempPath = f.Name()
	return nil
}

// Write appends decoded bytes. Per §4.3, writing past the article's
// declared size is not an error: the excess is silently dropped (damage is
// caught downstream by CRC).
func (w *Writer) Write(p []byte) error {
	remaining := w.article.Size - w.written
	if remaining <= 0 {
		return nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	switch w.mode {
	case ModeCached:
		copy(w.buf[w.written:], p)
	case ModeDirectWrite:
		if _, err := w.tempFile.WriteAt(p, w.article.SegmentOffset+w.written); err != nil {
			return fmt.Errorf("article: direct-write: %w", err)
		}
	case ModeTempPerArticle:
		if _, err := w.tempFile.Write(p); err != nil {
			return fmt.Errorf("article: temp-per-article write: %w", err)
		}
	}

	w.written += int64(len(p))
	return nil
}

// Finish completes the article. On success, a cached buffer is attached to
// the ArticleInfo; a direct-write output is closed (already in place); a
// temp-per-article file's path is recorded as the article's ResultFilename.
func (w *Writer) Finish(success bool) error {
	defer func() {
		if w.tempFile != nil {
			w.tempFile.Close()
		}
	}()

	if !success {
		w.article.Status = queue.ArticleFailed
		if w.mode == ModeCached && w.buf != nil {
			w.cache.Release(int64(len(w.buf)))
		}
		if w.tempPath != "" {
			os.Remove(w.tempPath)
		}
		return nil
	}

	w.article.Status = queue.ArticleFinished
	w.article.SegmentSize = w.written

	switch w.mode {
	case ModeCached:
		w.article.CachedSegment = w.buf[:w.written]
	case ModeDirectWrite:
		// offset/size only, per §4.3; nothing further to attach.
	case ModeTempPerArticle:
		w.article.ResultFilename = w.tempPath
	}

	return nil
}
