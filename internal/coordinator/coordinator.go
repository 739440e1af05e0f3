// Package coordinator implements the Queue Coordinator (§4.4): the
// component that holds the queue, hands reserved articles to external NNTP
// workers, and publishes structured events as the queue changes.
package coordinator

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/javi11/nzbqueued/internal/article"
	"github.com/javi11/nzbqueued/internal/queue"
)

// extraPriorityBoost is added to an NzbInfo's numeric priority when a file
// carries the extra-priority flag (set by the Pre/Post-Processor's "request
// more par blocks" step, §4.6), so those files are served before anything
// else in the same NzbInfo without disturbing priority across NzbInfos.
const extraPriorityBoost = 1 << 20

// Coordinator is the Queue Coordinator. It owns no goroutine of its own:
// ReserveArticle/CompleteArticle are called by external NNTP worker
// goroutines, and Enqueue/Drop are called by ingest and the Queue Editor.
type Coordinator struct {
	model *queue.Model
	log   *slog.Logger
	bus   broadcaster
}

// New wraps an existing Model (so the Disk-State Store and the Coordinator
// share one queue instance).
func New(model *queue.Model) *Coordinator {
	return &Coordinator{
		model: model,
		log:   slog.Default().With("component", "coordinator"),
	}
}

// Subscribe registers an observer for every published event.
func (c *Coordinator) Subscribe(o Observer) {
	c.bus.Subscribe(o)
}

// Enqueue admits an already-parsed, already-deduplicated NzbInfo to the
// back of the queue and publishes nzb-added. The Duplicate Coordinator's
// admit sequence (§4.5) must run before this is called.
func (c *Coordinator) Enqueue(nzb *queue.NzbInfo) {
	id := c.model.NextID()
	nzb.ID = id
	for _, f := range nzb.FileList {
		f.NzbID = id
		if f.ID == 0 {
			f.ID = c.model.NextID()
		}
	}
	c.model.AddBack(nzb)
	c.log.Info("enqueued nzb", "id", nzb.ID, "name", nzb.Name, "files", len(nzb.FileList))
	c.bus.Publish(Event{Kind: EventNzbAdded, NzbID: nzb.ID})
}

// Drop removes an NzbInfo from the queue outright and publishes
// nzb-deleted. The Queue Editor's group-scope soft-delete (§4.7) only sets
// Deleted and does not call Drop; no component calls Drop for a soft-deleted
// item, which stays in the queue and is skipped by ReserveArticle.
func (c *Coordinator) Drop(id int64) bool {
	nzb := c.model.Find(id)
	if nzb == nil {
		return false
	}
	nzb.Deleted = true
	ok := c.model.Remove(id)
	if ok {
		c.bus.Publish(Event{Kind: EventNzbDeleted, NzbID: id})
	}
	return ok
}

// MoveToFront relocates an already-enqueued NzbInfo to the head of the
// queue, used by the Scanner's scan-script "TOP=" directive (§4.8) to add a
// job ahead of everything already queued.
func (c *Coordinator) MoveToFront(id int64) bool {
	return c.model.Move(id, 0)
}

// Reservation is one article handed to an external NNTP worker.
type Reservation struct {
	Nzb     *queue.NzbInfo
	File    *queue.FileInfo
	Article *queue.ArticleInfo
}

// ReserveArticle returns the next downloadable article, honoring priority
// (numeric value plus extra-priority boost), pause, and tie-break-by-
// queue-order (§4.4). Returns ok=false if nothing is currently reservable.
func (c *Coordinator) ReserveArticle() (Reservation, bool) {
	c.model.Lock()
	defer c.model.Unlock()

	candidates := c.model.QueueLocked()
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	for _, nzb := range candidates {
		if nzb.Deleted || nzb.HealthPaused || nzb.AddURLPaused {
			continue
		}
		if nzb.Post != nil && nzb.Post.Paused {
			continue
		}
		file, art, ok := reserveWithinNzb(nzb)
		if !ok {
			continue
		}
		art.Status = queue.ArticleRunning
		return Reservation{Nzb: nzb, File: file, Article: art}, true
	}
	return Reservation{}, false
}

func reserveWithinNzb(nzb *queue.NzbInfo) (*queue.FileInfo, *queue.ArticleInfo, bool) {
	var best *queue.FileInfo
	bestPriority := -(1 << 62)

	for _, f := range nzb.FileList {
		if f.Paused || f.Deleted {
			continue
		}
		if f.Pending() <= 0 {
			continue
		}
		effective := nzb.Priority
		if f.ExtraPriority {
			effective += extraPriorityBoost
		}
		if best == nil || effective > bestPriority {
			best = f
			bestPriority = effective
		}
	}
	if best == nil {
		return nil, nil, false
	}
	for _, a := range best.Articles {
		if a.Status == queue.ArticleUndefined {
			return best, a, true
		}
	}
	return nil, nil, false
}

// CompleteArticle records the outcome of one reserved article. success=false
// marks the article failed (its bytes are never reassembled, and the gap is
// zero-filled by CompleteFileParts). When the owning FileInfo has no
// pending articles left, the file is finalized: CompleteFileParts is run,
// the result is appended to CompletedFiles, and file-completed is
// published. When the NzbInfo has no files left, it becomes ready for
// post-processing (§3 invariant 4); the caller (the Pre/Post-Processor)
// notices via NzbInfo.ReadyForPostProcessing.
func (c *Coordinator) CompleteArticle(nzbID, fileID int64, a *queue.ArticleInfo, success bool) error {
	c.model.Lock()
	defer c.model.Unlock()

	nzb := c.model.FindLocked(nzbID)
	if nzb == nil {
		return fmt.Errorf("coordinator: complete_article: nzb %d not queued", nzbID)
	}
	file := findFile(nzb, fileID)
	if file == nil {
		return fmt.Errorf("coordinator: complete_article: file %d not in nzb %d", fileID, nzbID)
	}

	if success {
		a.Status = queue.ArticleFinished
		file.SuccessArticles++
		nzb.SuccessArticles++
		nzb.CurSuccessArts++
		nzb.SuccessSize += a.SegmentSize
	} else {
		a.Status = queue.ArticleFailed
		file.FailedArticles++
		nzb.FailedArticles++
		nzb.CurFailedArts++
		nzb.FailedSize += a.SegmentSize
	}
	nzb.Changed = true

	if file.Pending() > 0 {
		return nil
	}

	return c.finalizeFileLocked(nzb, file)
}

func (c *Coordinator) finalizeFileLocked(nzb *queue.NzbInfo, file *queue.FileInfo) error {
	destDir := article.EffectiveDestDir(nzb)

	// The destination may have moved under us (a DIRECTORY= directive from
	// a queue-script or post-script landed while other files were still
	// downloading, §4.3 step 6). Relocate what's already on disk before
	// this file lands in the new directory too.
	if nzb.CompletedDir != "" && nzb.CompletedDir != destDir {
		if err := article.RelocateCompletedFiles(nzb, nzb.CompletedDir, destDir); err != nil {
			c.log.Error("relocate completed files failed", "nzb_id", nzb.ID, "old_dir", nzb.CompletedDir, "new_dir", destDir, "error", err)
		} else {
			nzb.CompletedDir = destDir
		}
	}

	cf, err := article.CompleteFileParts(nzb, file)
	if err != nil {
		c.log.Error("finalize file failed", "nzb_id", nzb.ID, "file_id", file.ID, "error", err)
		cf = &queue.CompletedFile{ID: file.ID, Filename: file.Filename, OrigName: file.OrigName, Status: queue.CompletedFailure}
	} else {
		nzb.CompletedDir = destDir
	}

	nzb.CompletedFiles = append(nzb.CompletedFiles, cf)
	removeFile(nzb, file.ID)
	c.bus.Publish(Event{Kind: EventFileCompleted, NzbID: nzb.ID, FileID: file.ID})

	if nzb.ReadyForPostProcessing() && nzb.Post == nil {
		nzb.Post = &queue.PostInfo{Stage: queue.PtQueued}
	}

	return err
}

// DeleteFile removes a single file from an in-progress job's active
// download set (the Queue Editor's file-scoped delete, §4.7). Any
// not-yet-arrived articles are counted failed so the file's byte
// accounting stays consistent (§3 invariant 2), then the file is
// finalized exactly as if its last article had just completed.
func (c *Coordinator) DeleteFile(nzbID, fileID int64) bool {
	c.model.Lock()
	defer c.model.Unlock()

	nzb := c.model.FindLocked(nzbID)
	if nzb == nil {
		return false
	}
	file := findFile(nzb, fileID)
	if file == nil {
		return false
	}

	file.Deleted = true
	for _, a := range file.Articles {
		if a.Status == queue.ArticleUndefined || a.Status == queue.ArticleRunning {
			a.Status = queue.ArticleFailed
			file.FailedArticles++
			nzb.FailedArticles++
			nzb.CurFailedArts++
			nzb.FailedSize += a.SegmentSize
		}
	}
	nzb.Changed = true

	if err := c.finalizeFileLocked(nzb, file); err != nil {
		c.log.Error("finalize deleted file failed", "nzb_id", nzbID, "file_id", fileID, "error", err)
	}
	return true
}

func findFile(nzb *queue.NzbInfo, fileID int64) *queue.FileInfo {
	for _, f := range nzb.FileList {
		if f.ID == fileID {
			return f
		}
	}
	return nil
}

func removeFile(nzb *queue.NzbInfo, fileID int64) {
	for i, f := range nzb.FileList {
		if f.ID == fileID {
			nzb.FileList = append(nzb.FileList[:i], nzb.FileList[i+1:]...)
			return
		}
	}
}
