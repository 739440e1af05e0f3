package coordinator

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"runtime"
	"sort"

	"github.com/javi11/nzbparser"
	"github.com/javi11/nzbqueued/internal/queue"
	concpool "github.com/sourcegraph/conc/pool"
)

// parFilePattern recognizes PAR2 index and recovery-volume files by name.
var parFilePattern = regexp.MustCompile(`(?i)\.par2$|\.vol\d+\+\d+\.par2$`)

// IngestOptions carries the admission-time fields the Scanner's
// scan-script hook or a direct API add can set before the NzbInfo is built.
type IngestOptions struct {
	Name     string
	Category string
	DestDir  string
	Priority int
	DupeKey   string
	DupeScore int
	DupeMode  queue.DupeMode
}

// ParseNzb reads an NZB XML document and builds the FileInfo/ArticleInfo
// tree plus the two content fingerprints (§4.4), without touching the
// queue model. Per-file conversion runs in a bounded worker pool, mirroring
// the way the teacher's NZB parser fans out per-file work.
func ParseNzb(r io.Reader, opts IngestOptions) (*queue.NzbInfo, error) {
	doc, err := nzbparser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("coordinator: parse nzb xml: %w", err)
	}
	if len(doc.Files) == 0 {
		return nil, fmt.Errorf("coordinator: nzb contains no files")
	}

	type result struct {
		index int
		file  *queue.FileInfo
	}

	pool := concpool.NewWithResults[result]().WithMaxGoroutines(runtime.NumCPU())
	for i, nf := range doc.Files {
		i, nf := i, nf
		pool.Go(func() result {
			return result{index: i, file: convertFile(nf)}
		})
	}

	results := pool.Wait()
	sort.Slice(results, func(a, b int) bool { return results[a].index < results[b].index })

	files := make([]*queue.FileInfo, len(results))
	var totalSize int64
	var totalArticles int
	for i, r := range results {
		files[i] = r.file
		totalSize += r.file.Size
		totalArticles += r.file.TotalArticles
	}

	full, filtered := contentHashes(files)

	name := opts.Name
	if name == "" && len(files) > 0 {
		name = files[0].Subject
	}

	nzb := &queue.NzbInfo{
		Kind:                queue.KindNzb,
		Name:                name,
		DestDir:             opts.DestDir,
		Category:            opts.Category,
		Priority:            opts.Priority,
		DupeKey:             opts.DupeKey,
		DupeScore:           opts.DupeScore,
		DupeMode:            opts.DupeMode,
		FullContentHash:     full,
		FilteredContentHash: filtered,
		Size:                totalSize,
		TotalArticles:       totalArticles,
		FileList:            files,
		Parameters:          make(map[string]string),
		ScriptStatuses:      make(map[string]queue.Status),
	}
	return nzb, nil
}

func convertFile(nf nzbparser.NzbFile) *queue.FileInfo {
	sort.Sort(nf.Segments)

	f := &queue.FileInfo{
		Subject:   nf.Subject,
		Filename:  nf.Filename,
		IsParFile: parFilePattern.MatchString(nf.Filename),
		Groups:    nf.Groups,
	}

	var offset int64
	articles := make([]*queue.ArticleInfo, 0, len(nf.Segments))
	for _, seg := range nf.Segments {
		a := &queue.ArticleInfo{
			PartNumber:    seg.Number,
			Size:          int64(seg.Bytes),
			MessageID:     seg.ID,
			Status:        queue.ArticleUndefined,
			SegmentOffset: offset,
			SegmentSize:   int64(seg.Bytes),
		}
		articles = append(articles, a)
		offset += int64(seg.Bytes)
		f.Size += int64(seg.Bytes)
	}

	f.Articles = articles
	f.TotalArticles = len(articles)
	slog.Default().With("component", "ingest").Debug("converted nzb file",
		"subject", f.Subject, "articles", f.TotalArticles, "size", f.Size)
	return f
}
