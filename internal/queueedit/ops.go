package queueedit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/javi11/nzbqueued/internal/queue"
)

func (e *Editor) editPauseResume(req Request) (bool, error) {
	e.model.Lock()
	defer e.model.Unlock()

	files := e.resolveFilesLocked(req)
	pause := req.Action == ActionPause

	changed := false
	for _, f := range files {
		if f.Paused != pause {
			f.Paused = pause
			changed = true
		}
	}
	return changed, nil
}

// editDelete soft-deletes at group scope (it sets Deleted and DeleteStatus
// only; the item stays in the queue, where ReserveArticle skips it, and
// nothing drops it afterwards) and finalizes in-flight byte accounting at
// file scope via the Queue Coordinator (§4.7).
func (e *Editor) editDelete(req Request) (bool, error) {
	if req.Scope == ScopeGroup {
		e.model.Lock()
		defer e.model.Unlock()

		changed := false
		for _, id := range req.IDs {
			n := e.model.FindLocked(id)
			if n == nil || n.Deleted {
				continue
			}
			n.Deleted = true
			n.DeleteStatus = queue.StatusManual
			n.Changed = true
			changed = true
		}
		return changed, nil
	}

	changed := false
	for _, ref := range e.fileOwners(req.IDs) {
		if e.coordinator.DeleteFile(ref.nzbID, ref.fileID) {
			changed = true
		}
	}
	return changed, nil
}

// editSetPriority sets an NzbInfo's scheduling priority. Priority is a
// group-level property here (the Queue Coordinator's ReserveArticle sorts
// by NzbInfo.Priority, boosted per-file only by ExtraPriority) rather than
// nzbget's per-FileInfo priority field, so this edit is group-scoped only.
func (e *Editor) editSetPriority(req Request) (bool, error) {
	priority, err := strconv.Atoi(req.Text)
	if err != nil {
		return false, fmt.Errorf("queueedit: set-priority: invalid priority %q: %w", req.Text, err)
	}

	e.model.Lock()
	defer e.model.Unlock()

	changed := false
	for _, id := range req.IDs {
		n := e.model.FindLocked(id)
		if n == nil {
			continue
		}
		if n.Priority != priority {
			n.Priority = priority
			n.Changed = true
			changed = true
		}
	}
	return changed, nil
}

func (e *Editor) editSetCategory(req Request) (bool, error) {
	return e.setGroupField(req, func(n *queue.NzbInfo) { n.Category = req.Text })
}

func (e *Editor) editSetName(req Request) (bool, error) {
	return e.setGroupField(req, func(n *queue.NzbInfo) { n.Name = req.Text })
}

// editSetParameter parses "key=value" and stores it in the NzbInfo's
// Parameters map (QueueEditor::SetNZBParameter, §4.7).
func (e *Editor) editSetParameter(req Request) (bool, error) {
	key, value, ok := strings.Cut(req.Text, "=")
	if !ok {
		return false, fmt.Errorf("queueedit: set-parameter: invalid argument %q, expected key=value", req.Text)
	}
	return e.setGroupField(req, func(n *queue.NzbInfo) {
		if n.Parameters == nil {
			n.Parameters = map[string]string{}
		}
		n.Parameters[key] = value
	})
}

func (e *Editor) setGroupField(req Request, apply func(*queue.NzbInfo)) (bool, error) {
	e.model.Lock()
	defer e.model.Unlock()

	changed := false
	for _, id := range req.IDs {
		n := e.model.FindLocked(id)
		if n == nil {
			continue
		}
		apply(n)
		n.Changed = true
		changed = true
	}
	return changed, nil
}

// editMerge moves every id after the first into the first (the merge
// destination), then drops them (QueueEditor::MergeGroups, §4.7).
func (e *Editor) editMerge(req Request) (bool, error) {
	if len(req.IDs) < 2 {
		return false, nil
	}

	e.model.Lock()
	defer e.model.Unlock()

	dst := req.IDs[0]
	merged := false
	for _, src := range req.IDs[1:] {
		if err := e.model.MergeLocked(src, dst); err == nil {
			merged = true
		}
	}
	return merged, nil
}

// editReorder moves the named files, in the order ids were given in, to the
// front of their group's file list (QueueEditor::ReorderFiles, §4.7).
func (e *Editor) editReorder(req Request) (bool, error) {
	e.model.Lock()
	defer e.model.Unlock()

	nzb := ownerOfAnyFile(e.model.QueueLocked(), req.IDs)
	if nzb == nil || len(req.IDs) == 0 {
		return false, nil
	}

	insertPos := 0
	changed := false
	for _, id := range req.IDs {
		idx := indexOfID(fileIDsOf(nzb.FileList), id)
		if idx < 0 {
			continue
		}
		f := nzb.FileList[idx]
		files := append(append([]*queue.FileInfo{}, nzb.FileList[:idx]...), nzb.FileList[idx+1:]...)
		files = append(files[:insertPos], append([]*queue.FileInfo{f}, files[insertPos:]...)...)
		nzb.FileList = files
		insertPos++
		changed = true
	}
	return changed, nil
}

// resolveFilesLocked expands a Request's ids into concrete FileInfo
// pointers: at file scope the named files directly, at group scope every
// file belonging to the named groups. Caller must hold the model lock.
func (e *Editor) resolveFilesLocked(req Request) []*queue.FileInfo {
	if req.Scope == ScopeFile {
		want := toSet(req.IDs)
		var out []*queue.FileInfo
		for _, n := range e.model.QueueLocked() {
			for _, f := range n.FileList {
				if want[f.ID] {
					out = append(out, f)
				}
			}
		}
		return out
	}

	want := toSet(req.IDs)
	var out []*queue.FileInfo
	for _, n := range e.model.QueueLocked() {
		if want[n.ID] {
			out = append(out, n.FileList...)
		}
	}
	return out
}

type fileRef struct {
	nzbID  int64
	fileID int64
}

// fileOwners locates the owning NzbInfo id for each file id. It manages its
// own locking since it must not be held across the Queue Coordinator call
// that follows.
func (e *Editor) fileOwners(ids []int64) []fileRef {
	e.model.Lock()
	defer e.model.Unlock()

	want := toSet(ids)
	var out []fileRef
	for _, n := range e.model.QueueLocked() {
		for _, f := range n.FileList {
			if want[f.ID] {
				out = append(out, fileRef{nzbID: n.ID, fileID: f.ID})
			}
		}
	}
	return out
}

func toSet(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
