package queueedit

import "github.com/javi11/nzbqueued/internal/queue"

const maxID = 100000000

// smartMove is one item's resolved move: its id and the offset actually
// applied to it, once overshoot and boundary clamping have been accounted
// for relative to the other selected items.
type smartMove struct {
	id     int64
	offset int
}

// resolveSmartMoves computes, for each selected id in order, the offset that
// preserves relative order among the selected items and never lets one
// selected item overshoot the destination already claimed by another
// (QueueEditor::PrepareList's smart-order branch, §4.7).
func resolveSmartMoves(order []int64, selectedIDs []int64, offset int) []smartMove {
	selected := make(map[int64]bool, len(selectedIDs))
	for _, id := range selectedIDs {
		selected[id] = true
	}

	n := len(order)
	var start, end, step int
	if offset < 0 {
		start, end, step = 0, n, 1
	} else {
		start, end, step = n-1, -1, -1
	}

	lastDestPos := -1
	var moves []smartMove
	for i := start; i != end; i += step {
		id := order[i]
		if !selected[id] {
			continue
		}

		workOffset := offset
		destPos := i + workOffset
		if lastDestPos == -1 {
			if destPos < 0 {
				workOffset = -i
			} else if destPos > n-1 {
				workOffset = n - 1 - i
			}
		} else {
			if workOffset < 0 && destPos <= lastDestPos {
				workOffset = lastDestPos - i + 1
			} else if workOffset > 0 && destPos >= lastDestPos {
				workOffset = lastDestPos - i - 1
			}
		}
		lastDestPos = i + workOffset
		moves = append(moves, smartMove{id: id, offset: workOffset})
	}
	return moves
}

// resolveOffset turns a MoveTop/MoveBottom/MoveOffset action into the
// signed offset smart-order resolution expects.
func resolveOffset(action Action, offset int) int {
	switch action {
	case ActionMoveTop:
		return -maxID
	case ActionMoveBottom:
		return maxID
	default:
		return offset
	}
}

func (e *Editor) editMove(req Request) (bool, error) {
	resolved := resolveOffset(req.Action, req.Offset)

	e.model.Lock()
	defer e.model.Unlock()

	if req.Scope == ScopeGroup {
		return e.moveGroupLocked(req.IDs, resolved, req.SmartOrder), nil
	}
	return e.moveFileLocked(req.IDs, resolved, req.SmartOrder), nil
}

func (e *Editor) moveGroupLocked(ids []int64, offset int, smartOrder bool) bool {
	moved := false

	if smartOrder && offset != 0 {
		order := nzbIDsOf(e.model.QueueLocked())
		for _, mv := range resolveSmartMoves(order, ids, offset) {
			idx := indexOfID(nzbIDsOf(e.model.QueueLocked()), mv.id)
			if idx < 0 {
				continue
			}
			if e.model.MoveLocked(mv.id, idx+mv.offset) {
				moved = true
			}
		}
		return moved
	}

	for _, id := range ids {
		idx := indexOfID(nzbIDsOf(e.model.QueueLocked()), id)
		if idx < 0 {
			continue
		}
		if e.model.MoveLocked(id, idx+offset) {
			moved = true
		}
	}
	return moved
}

func (e *Editor) moveFileLocked(ids []int64, offset int, smartOrder bool) bool {
	nzb := ownerOfAnyFile(e.model.QueueLocked(), ids)
	if nzb == nil {
		return false
	}

	moved := false

	if smartOrder && offset != 0 {
		order := fileIDsOf(nzb.FileList)
		for _, mv := range resolveSmartMoves(order, ids, offset) {
			idx := indexOfID(fileIDsOf(nzb.FileList), mv.id)
			if idx < 0 {
				continue
			}
			if moveFileInList(nzb, mv.id, idx+mv.offset) {
				moved = true
			}
		}
		return moved
	}

	for _, id := range ids {
		idx := indexOfID(fileIDsOf(nzb.FileList), id)
		if idx < 0 {
			continue
		}
		if moveFileInList(nzb, id, idx+offset) {
			moved = true
		}
	}
	return moved
}

// moveFileInList relocates one FileInfo within its owning NzbInfo's
// FileList, clamped to bounds (QueueEditor::MoveEntry, §4.7).
func moveFileInList(nzb *queue.NzbInfo, id int64, newIndex int) bool {
	files := nzb.FileList
	idx := indexOfID(fileIDsOf(files), id)
	if idx < 0 {
		return false
	}
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex > len(files)-1 {
		newIndex = len(files) - 1
	}
	if newIndex == idx {
		return true
	}
	f := files[idx]
	files = append(files[:idx], files[idx+1:]...)
	files = append(files[:newIndex], append([]*queue.FileInfo{f}, files[newIndex:]...)...)
	nzb.FileList = files
	return true
}

func nzbIDsOf(nzbs []*queue.NzbInfo) []int64 {
	ids := make([]int64, len(nzbs))
	for i, n := range nzbs {
		ids[i] = n.ID
	}
	return ids
}

func fileIDsOf(files []*queue.FileInfo) []int64 {
	ids := make([]int64, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	return ids
}

func indexOfID(ids []int64, id int64) int {
	for i, x := range ids {
		if x == id {
			return i
		}
	}
	return -1
}

// ownerOfAnyFile returns the NzbInfo owning the first of ids found across
// any queued job's FileList; every file-scoped edit in one Request is
// expected to belong to the same group (QueueEditor::ReorderFiles assumes
// the same, taking the first item's group).
func ownerOfAnyFile(nzbs []*queue.NzbInfo, ids []int64) *queue.NzbInfo {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, n := range nzbs {
		for _, f := range n.FileList {
			if want[f.ID] {
				return n
			}
		}
	}
	return nil
}
