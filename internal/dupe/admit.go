package dupe

import (
	"github.com/javi11/nzbqueued/internal/queue"
)

// AdmitOutcome reports what the admit sequence did with a freshly parsed
// NzbInfo that has not yet been handed to the Queue Coordinator.
type AdmitOutcome int

const (
	// AdmitQueued means n should proceed to Coordinator.Enqueue unchanged.
	AdmitQueued AdmitOutcome = iota
	// AdmitRejectedDuplicate means n duplicates something already queued or
	// in history (identical content, a good-marked release, or an
	// equal-or-better scored dupe-history record); n.Deleted is set and it
	// must not be enqueued.
	AdmitRejectedDuplicate
	// AdmitBackedUp means n lost a score comparison against an existing
	// release; it has been recorded to history as a dupe-backup and must
	// not be enqueued.
	AdmitBackedUp
)

// AdmitResult is the verdict of one Admit call.
type AdmitResult struct {
	Outcome AdmitOutcome
	Reason  string
}

// Admit runs the five-step admission sequence against the live queue and
// history (§4.5, grounded on NZBFound): exact-content dedupe, dupe-key/score
// inheritance, history-level hard skips, score-mode backup against history,
// and score-mode backup against the live queue (which may itself demote an
// existing, lower-scoring queued item to history).
//
// Admit must run before Coordinator.Enqueue. It takes the model lock itself.
func (c *Coordinator) Admit(n *queue.NzbInfo) AdmitResult {
	c.model.Lock()
	defer c.model.Unlock()

	queued := c.model.QueueLocked()
	history := c.model.HistoryLocked()

	// Step 1: identical content already queued.
	for _, q := range queued {
		if q == n {
			continue
		}
		if sameContent(n, q) {
			n.Deleted = true
			n.DeleteStatus = queue.StatusManual
			c.log.Info("rejecting exact duplicate already queued", "name", n.Name, "existing_id", q.ID)
			return AdmitResult{Outcome: AdmitRejectedDuplicate, Reason: "identical content already queued"}
		}
	}

	// Step 2: inherit dupe key/score from a same-named item, queue first
	// then history, if n was not given one explicitly.
	if n.DupeKey == "" && n.DupeScore == 0 {
		inheritFromQueue(n, queued)
	}
	if n.DupeKey == "" && n.DupeScore == 0 {
		inheritFromHistory(n, history)
	}

	// Step 3: history-level hard skips.
	for _, h := range history {
		name, key, score, _, success, good, _, ok := historyFields(h)
		if !ok {
			continue
		}
		if sameContentHistory(n, h) {
			n.Deleted = true
			n.DeleteStatus = queue.StatusManual
			c.log.Info("rejecting exact duplicate found in history", "name", n.Name)
			return AdmitResult{Outcome: AdmitRejectedDuplicate, Reason: "identical content already in history"}
		}
		if good && sameReleaseAs(name, key, n.Name, n.DupeKey) {
			n.Deleted = true
			n.DeleteStatus = queue.StatusManual
			c.log.Info("rejecting duplicate of a good-marked history item", "name", n.Name)
			return AdmitResult{Outcome: AdmitRejectedDuplicate, Reason: "release already marked good in history"}
		}
		if h.Kind == queue.HistoryKindDup && n.DupeMode == queue.DupeModeScore && success && score >= n.DupeScore && sameReleaseAs(name, key, n.Name, n.DupeKey) {
			n.Deleted = true
			n.DeleteStatus = queue.StatusManual
			c.log.Info("rejecting duplicate beaten on score by history item", "name", n.Name, "their_score", score, "our_score", n.DupeScore)
			return AdmitResult{Outcome: AdmitRejectedDuplicate, Reason: "equal-or-better scored success already in history"}
		}
	}

	if n.DupeMode == queue.DupeModeAll {
		return AdmitResult{Outcome: AdmitQueued}
	}

	// Step 4: score mode, same-release success already in history at or
	// above our score backs n up without ever touching the live queue.
	if n.DupeMode == queue.DupeModeScore {
		for _, h := range history {
			name, key, score, mode, success, _, _, ok := historyFields(h)
			if !ok || mode == queue.DupeModeForce {
				continue
			}
			if success && score >= n.DupeScore && sameReleaseAs(name, key, n.Name, n.DupeKey) {
				recordBackup(c.model, n)
				c.log.Info("backing up new item behind existing history success", "name", n.Name)
				return AdmitResult{Outcome: AdmitBackedUp, Reason: "equal-or-better scored success already in history"}
			}
		}
	}

	// Step 5: score mode, compare against every other release currently
	// queued. n backs up if it loses; any queued item it beats is demoted
	// to history as a backup instead.
	if n.DupeMode == queue.DupeModeScore {
		for _, q := range queued {
			if q == n || q.DupeMode == queue.DupeModeForce {
				continue
			}
			if !sameReleaseAs(q.Name, q.DupeKey, n.Name, n.DupeKey) {
				continue
			}
			if n.DupeScore <= q.DupeScore {
				recordBackup(c.model, n)
				c.log.Info("backing up new item behind better-scored queued item", "name", n.Name, "existing_id", q.ID)
				return AdmitResult{Outcome: AdmitBackedUp, Reason: "equal-or-better scored release already queued"}
			}
			demote(c.model, q)
			c.log.Info("demoting lower-scored queued item to history backup", "name", q.Name, "id", q.ID, "winner", n.Name)
		}
	}

	return AdmitResult{Outcome: AdmitQueued}
}

func sameContent(a, b *queue.NzbInfo) bool {
	return a.FullContentHash == b.FullContentHash || a.FilteredContentHash == b.FilteredContentHash
}

func sameContentHistory(n *queue.NzbInfo, h *queue.HistoryInfo) bool {
	if h.Kind != queue.HistoryKindNzb || h.Nzb == nil {
		return false
	}
	return sameContent(n, h.Nzb)
}

func inheritFromQueue(n *queue.NzbInfo, queued []*queue.NzbInfo) {
	for _, q := range queued {
		if q == n {
			continue
		}
		if sameReleaseAs(q.Name, "", n.Name, "") && (q.DupeKey != "" || q.DupeScore != 0) {
			n.DupeKey = q.DupeKey
			n.DupeScore = q.DupeScore
			return
		}
	}
}

func inheritFromHistory(n *queue.NzbInfo, history []*queue.HistoryInfo) {
	for _, h := range history {
		name, key, score, _, _, _, _, ok := historyFields(h)
		if !ok {
			continue
		}
		if sameReleaseAs(name, "", n.Name, "") && (key != "" || score != 0) {
			n.DupeKey = key
			n.DupeScore = score
			return
		}
	}
}

// demote removes q from the live queue and parks it into history marked as
// a dupe backup, so a later ReturnBestDupe can still find it.
func demote(model *queue.Model, q *queue.NzbInfo) {
	q.Deleted = true
	q.DeleteStatus = queue.StatusDupe
	model.ParkLocked(q.ID)
}
