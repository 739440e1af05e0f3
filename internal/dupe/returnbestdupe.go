package dupe

import "github.com/javi11/nzbqueued/internal/queue"

// ReturnBestDupe finds the best-scoring dupe-backup for a release and
// re-admits it to the queue, grounded on ReturnBestDupe in the original
// Duplicate Coordinator. It is called after a job finishes unsuccessfully in
// score mode (§4.5): the backup only needs to come back if nothing already
// queued or in history satisfies the release at an equal or higher score,
// and a "good"-marked record already in history means nothing further is
// needed at all.
//
// Returns the reinstated NzbInfo and true if one was found and requeued.
func (c *Coordinator) ReturnBestDupe(name, key string) (*queue.NzbInfo, bool) {
	c.model.Lock()
	defer c.model.Unlock()

	history := c.model.HistoryLocked()
	queued := c.model.QueueLocked()

	bestExisting := -1 << 62
	for _, h := range history {
		hname, hkey, score, _, success, good, _, ok := historyFields(h)
		if !ok || !sameReleaseAs(hname, hkey, name, key) {
			continue
		}
		if h.Kind == queue.HistoryKindNzb && h.Nzb != nil && h.Nzb.DeleteStatus == queue.StatusDupe {
			continue // this is itself a backup candidate, not a satisfied release
		}
		if !success {
			continue
		}
		if good {
			return nil, false // already satisfied permanently, no redownload needed
		}
		if score > bestExisting {
			bestExisting = score
		}
	}

	for _, q := range queued {
		if !sameReleaseAs(q.Name, q.DupeKey, name, key) {
			continue
		}
		if q.DupeScore > bestExisting {
			bestExisting = q.DupeScore
		}
	}

	var best *queue.HistoryInfo
	bestScore := bestExisting
	for _, h := range history {
		if h.Kind != queue.HistoryKindNzb || h.Nzb == nil {
			continue
		}
		n := h.Nzb
		if n.DeleteStatus != queue.StatusDupe || n.MarkStatus == queue.StatusBad {
			continue
		}
		if !sameReleaseAs(n.Name, n.DupeKey, name, key) {
			continue
		}
		if n.DupeScore > bestScore {
			best = h
			bestScore = n.DupeScore
		}
	}

	if best == nil {
		return nil, false
	}

	c.model.RemoveHistoryLocked(best.ID)
	n := best.Nzb
	n.Deleted = false
	n.DeleteStatus = queue.StatusNone
	c.model.AddFrontLocked(n)
	c.log.Info("reinstating best dupe backup", "name", n.Name, "id", n.ID, "score", n.DupeScore)
	return n, true
}
