package postprocess

import "github.com/javi11/nzbqueued/internal/queue"

// finish runs decision-table step 9: detach PostInfo, park the NzbInfo into
// history (or discard it if history is disabled), and let the Duplicate
// Coordinator's on-completed hook decide whether a backup needs to come
// back (§4.5, §4.6).
func (c *Coordinator) finish(n *queue.NzbInfo) {
	n.Post.Stage = queue.PtFinished
	n.Post = nil

	c.model.Lock()
	if c.historyKept && !n.AvoidHistory {
		c.model.ParkLocked(n.ID)
	} else {
		c.model.RemoveLocked(n.ID)
	}
	c.model.Unlock()

	c.log.Info("post-processing finished", "nzb_id", n.ID, "name", n.Name)

	if c.dupe != nil {
		c.dupe.Completed(n)
	}
}
