// Package dupe implements the Duplicate Coordinator (§4.5): admission-time
// dedupe against the live queue and history, and the mark-good/mark-bad/
// ReturnBestDupe machinery that redownloads a backup after a failure.
package dupe

import (
	"log/slog"
	"strings"
	"time"

	"github.com/javi11/nzbqueued/internal/queue"
)

// criticalHealthPermille is the health floor (successful articles per 1000)
// below which an NzbInfo that skipped both par-check and unpack is treated
// as a failure for dupe purposes (§4.5 "success is defined by...").
const criticalHealthPermille = 900

// Coordinator runs the admit/complete/mark operations against a shared
// queue.Model. It holds no state of its own.
type Coordinator struct {
	model *queue.Model
	log   *slog.Logger
}

// New wraps model.
func New(model *queue.Model) *Coordinator {
	return &Coordinator{
		model: model,
		log:   slog.Default().With("component", "dupe-coordinator"),
	}
}

// sameReleaseAs is the name-or-key equality helper (§4.5, §12): compare
// dupe keys case-sensitively when both sides carry one, else fall back to
// a case-insensitive name comparison.
func sameReleaseAs(name1, key1, name2, key2 string) bool {
	if key1 != "" && key2 != "" {
		return key1 == key2
	}
	return strings.EqualFold(name1, name2)
}

// isSuccess computes the boolean success definition from §4.5: not deleted,
// not marked bad, par not failed, unpack not failed, and — if both par and
// unpack were skipped — health at or above the critical floor.
func isSuccess(n *queue.NzbInfo) bool {
	if n.Deleted || n.MarkStatus == queue.StatusBad {
		return false
	}
	if n.ParStatus == queue.StatusFailure || n.UnpackStatus == queue.StatusFailure {
		return false
	}
	if n.ParStatus == queue.StatusSkipped && n.UnpackStatus == queue.StatusSkipped {
		return n.HealthPermille() >= criticalHealthPermille
	}
	return true
}

// historyFields extracts the name/dupeKey/dupeScore/dupeMode/status that
// every HistoryInfo carries regardless of which kind it wraps (NZB record or
// collapsed DupInfo backup). ok is false for a URL-kind record, which has no
// dupe identity.
func historyFields(h *queue.HistoryInfo) (name, key string, score int, mode queue.DupeMode, success, good, bad bool, ok bool) {
	switch h.Kind {
	case queue.HistoryKindNzb:
		if h.Nzb == nil {
			return
		}
		n := h.Nzb
		return n.Name, n.DupeKey, n.DupeScore, n.DupeMode, isSuccess(n), n.MarkStatus == queue.StatusGood, n.MarkStatus == queue.StatusBad, true
	case queue.HistoryKindDup:
		if h.Dup == nil {
			return
		}
		d := h.Dup
		success = d.Status == queue.DupInfoSuccess || d.Status == queue.DupInfoGood
		good = d.Status == queue.DupInfoGood
		bad = d.Status == queue.DupInfoBad
		return d.Name, d.DupeKey, d.DupeScore, d.DupeMode, success, good, bad, true
	default:
		return
	}
}

func recordBackup(model *queue.Model, n *queue.NzbInfo) {
	n.Deleted = true
	n.DeleteStatus = queue.StatusDupe
	h := &queue.HistoryInfo{
		ID:             model.NextIDLocked(),
		Kind:           queue.HistoryKindNzb,
		Nzb:            n,
		CompletionTime: time.Now(),
	}
	model.AddHistoryLocked(h)
}
