package dupe

import "github.com/javi11/nzbqueued/internal/queue"

// Completed runs the post-completion hook (NZBCompleted): in score mode, a
// non-successful outcome tries to bring back the best remaining backup so
// the release is still attempted.
func (c *Coordinator) Completed(n *queue.NzbInfo) {
	if n.DupeMode != queue.DupeModeScore {
		return
	}
	if isSuccess(n) {
		return
	}
	c.ReturnBestDupe(n.Name, n.DupeKey)
}

// MarkGood marks a history item permanently good and collapses every other
// backup for the same release into compact DupInfo records, so they stop
// being considered by future admits or ReturnBestDupe (HistoryMark +
// HistoryCleanup's good-mark cascade).
func (c *Coordinator) MarkGood(id int64) bool {
	c.model.Lock()
	defer c.model.Unlock()

	h := c.model.FindHistoryLocked(id)
	if h == nil || h.Kind != queue.HistoryKindNzb || h.Nzb == nil {
		return false
	}
	h.Nzb.MarkStatus = queue.StatusGood
	c.collapseOtherBackupsLocked(h.Nzb.Name, h.Nzb.DupeKey, id)
	return true
}

// MarkBad marks a history item permanently bad and triggers a redownload of
// the best remaining backup (HistoryMark's bad-mark branch).
func (c *Coordinator) MarkBad(id int64) bool {
	c.model.Lock()
	name, key, ok := func() (string, string, bool) {
		h := c.model.FindHistoryLocked(id)
		if h == nil || h.Kind != queue.HistoryKindNzb || h.Nzb == nil {
			return "", "", false
		}
		h.Nzb.MarkStatus = queue.StatusBad
		return h.Nzb.Name, h.Nzb.DupeKey, true
	}()
	c.model.Unlock()

	if !ok {
		return false
	}
	c.ReturnBestDupe(name, key)
	return true
}

// collapseOtherBackupsLocked turns every other NZB-kind, dupe-marked history
// record for the same release into a compact DupInfo record (HistoryHide),
// since they can never again be promoted once goodID has won. The caller
// must already hold the model lock.
func (c *Coordinator) collapseOtherBackupsLocked(name, key string, goodID int64) {
	for _, h := range c.model.HistoryLocked() {
		if h.ID == goodID || h.Kind != queue.HistoryKindNzb || h.Nzb == nil {
			continue
		}
		n := h.Nzb
		if n.DeleteStatus != queue.StatusDupe {
			continue
		}
		if !sameReleaseAs(n.Name, n.DupeKey, name, key) {
			continue
		}
		c.model.RemoveHistoryLocked(h.ID)
		dup := &queue.HistoryInfo{
			ID:             h.ID,
			Kind:           queue.HistoryKindDup,
			CompletionTime: h.CompletionTime,
			Dup: &queue.DupInfo{
				ID:           n.ID,
				Name:         n.Name,
				DupeKey:      n.DupeKey,
				DupeScore:    n.DupeScore,
				DupeMode:     n.DupeMode,
				Size:         n.Size,
				FullHash:     n.FullContentHash,
				FilteredHash: n.FilteredContentHash,
				Status:       queue.DupInfoDupe,
			},
		}
		c.model.AddHistoryLocked(dup)
	}
}
