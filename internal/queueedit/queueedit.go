// Package queueedit implements the Queue Editor (§4.7): a single entry
// point that applies user- or script-issued edits to queued items
// atomically, at either file or group (NzbInfo) scope.
package queueedit

import (
	"fmt"
	"log/slog"

	"github.com/javi11/nzbqueued/internal/coordinator"
	"github.com/javi11/nzbqueued/internal/queue"
)

// Scope selects whether ids in a Request name FileInfos or NzbInfos.
type Scope int

const (
	ScopeFile Scope = iota
	ScopeGroup
)

// Action enumerates every edit the queue supports.
type Action int

const (
	ActionPause Action = iota
	ActionResume
	ActionPauseAllPars
	ActionPauseExtraPars
	ActionMoveOffset
	ActionMoveTop
	ActionMoveBottom
	ActionDelete
	ActionSetPriority
	ActionSetCategory
	ActionSetName
	ActionSetParameter
	ActionMerge
	ActionReorder
)

// Request is the single entry point's argument: edit(ids, action, offset, text).
type Request struct {
	Scope      Scope
	IDs        []int64
	Action     Action
	Offset     int
	Text       string
	SmartOrder bool
}

// Editor is the Queue Editor. It mutates the shared queue.Model directly for
// pure bookkeeping edits, and calls into the Queue Coordinator for the one
// edit (file-scoped delete) that must also finalize in-flight byte
// accounting the way article completion does (§4.4).
type Editor struct {
	model       *queue.Model
	coordinator *coordinator.Coordinator
	log         *slog.Logger
}

func New(model *queue.Model, coord *coordinator.Coordinator) *Editor {
	return &Editor{
		model:       model,
		coordinator: coord,
		log:         slog.Default().With("component", "queue-editor"),
	}
}

// Edit applies req atomically and reports whether anything was changed.
func (e *Editor) Edit(req Request) (bool, error) {
	if len(req.IDs) == 0 {
		return false, fmt.Errorf("queueedit: no ids given")
	}

	switch req.Action {
	case ActionSetCategory, ActionSetName, ActionSetParameter, ActionMerge, ActionSetPriority:
		if req.Scope != ScopeGroup {
			return false, fmt.Errorf("queueedit: action requires group scope")
		}
	case ActionReorder:
		if req.Scope != ScopeFile {
			return false, fmt.Errorf("queueedit: reorder requires file scope")
		}
	}

	switch req.Action {
	case ActionPause, ActionResume:
		return e.editPauseResume(req)
	case ActionPauseAllPars, ActionPauseExtraPars:
		return e.editPausePars(req)
	case ActionMoveOffset, ActionMoveTop, ActionMoveBottom:
		return e.editMove(req)
	case ActionDelete:
		return e.editDelete(req)
	case ActionSetPriority:
		return e.editSetPriority(req)
	case ActionSetCategory:
		return e.editSetCategory(req)
	case ActionSetName:
		return e.editSetName(req)
	case ActionSetParameter:
		return e.editSetParameter(req)
	case ActionMerge:
		return e.editMerge(req)
	case ActionReorder:
		return e.editReorder(req)
	default:
		return false, fmt.Errorf("queueedit: unknown action %d", req.Action)
	}
}
