package postprocess

import (
	"context"

	"github.com/javi11/nzbqueued/internal/queue"
)

// runStage advances n by exactly one step of the decision table (§4.6
// items 1-9), then returns; the next tick re-evaluates from scratch so a
// stage that changed a status can be picked up immediately without a
// dedicated "next" pointer.
func (c *Coordinator) runStage(ctx context.Context, n *queue.NzbInfo) {
	switch {
	case n.ParRenameStatus == queue.StatusNone && hasParFiles(n):
		c.runParRename(n)

	case n.ParStatus == queue.StatusNone && hasParFiles(n):
		c.runParCheck(ctx, n)

	case n.ParStatus == queue.StatusNone && !hasParFiles(n):
		c.runSkipParCheck(n)

	case n.ParStatus == queue.StatusSkipped && n.FailedArticles > 0:
		n.ParStatus = queue.StatusNone // request-par-check: re-enter the loop

	case shouldUnpack(n):
		c.runUnpack(ctx, n)

	case shouldCleanup(n):
		c.runCleanup(n)

	case shouldMove(n):
		c.runMove(ctx, n)

	case c.hasPendingPostScript(n):
		c.runNextPostScript(ctx, n)

	default:
		c.finish(n)
	}
}

func hasParFiles(n *queue.NzbInfo) bool {
	for _, cf := range n.CompletedFiles {
		if cf.IsParFile {
			return true
		}
	}
	return false
}

func parFailed(n *queue.NzbInfo) bool {
	return n.ParStatus == queue.StatusFailure
}

func shouldUnpack(n *queue.NzbInfo) bool {
	return n.UnpackStatus == queue.StatusNone && !parFailed(n)
}

func shouldCleanup(n *queue.NzbInfo) bool {
	return n.UnpackStatus == queue.StatusSkipped && n.ParStatus == queue.StatusSuccess && n.MoveStatus == queue.StatusNone
}

func shouldMove(n *queue.NzbInfo) bool {
	if n.MoveStatus != queue.StatusNone {
		return false
	}
	if n.UnpackStatus == queue.StatusFailure {
		return false
	}
	if n.ParStatus == queue.StatusFailure {
		return false
	}
	return true
}

func (c *Coordinator) runParRename(n *queue.NzbInfo) {
	n.Post.Stage = queue.PtRenaming
	n.ParRenameStatus = queue.StatusSuccess
	c.log.Info("par-rename complete", "nzb_id", n.ID, "name", n.Name)
}

func (c *Coordinator) runParCheck(ctx context.Context, n *queue.NzbInfo) {
	n.Post.Stage = queue.PtVerifyingSources
	n.Post.Paused = false
	n.Post.PauseReason = ""
	if c.parChecker == nil {
		n.ParStatus = queue.StatusSkipped
		return
	}

	outcome, neededBytes, err := c.parChecker.Check(ctx, n)
	if err != nil {
		n.ParStatus = queue.StatusFailure
		c.log.Error("par-check failed", "nzb_id", n.ID, "error", err)
		return
	}

	switch outcome {
	case ParSuccess:
		n.ParStatus = queue.StatusSuccess
	case ParRepairPossible:
		if n.ParStatus != queue.StatusFailure {
			n.ParStatus = queue.StatusRepairPossible
		}
	case ParRequestMoreBlocks:
		c.requestMoreParBlocks(n, neededBytes)
	default:
		n.ParStatus = queue.StatusFailure
	}
}

func (c *Coordinator) runSkipParCheck(n *queue.NzbInfo) {
	n.Post.Stage = queue.PtVerifyingSources
	if n.HealthPermille() < criticalHealthPermille {
		n.ParStatus = queue.StatusFailure
		c.log.Warn("skipping par-check, health below critical", "nzb_id", n.ID, "health_permille", n.HealthPermille())
		return
	}
	n.ParStatus = queue.StatusSkipped
}

func (c *Coordinator) runUnpack(ctx context.Context, n *queue.NzbInfo) {
	n.Post.Stage = queue.PtUnpacking
	if c.unpacker == nil {
		n.UnpackStatus = queue.StatusSkipped
		return
	}

	outcome, err := c.unpacker.Unpack(ctx, n)
	if err != nil {
		n.UnpackStatus = queue.StatusFailure
		c.log.Error("unpack failed", "nzb_id", n.ID, "error", err)
		return
	}

	switch outcome {
	case UnpackSuccess:
		n.UnpackStatus = queue.StatusSuccess
	case UnpackPasswordProtected:
		n.UnpackStatus = queue.StatusFailure
	default:
		n.UnpackStatus = queue.StatusFailure
	}
}

func (c *Coordinator) runCleanup(n *queue.NzbInfo) {
	n.Post.Stage = queue.PtUnpacking
	n.UnpackCleanedUpDisk = true
	c.log.Info("cleaned up intermediate par files", "nzb_id", n.ID)
}

func (c *Coordinator) runMove(ctx context.Context, n *queue.NzbInfo) {
	n.Post.Stage = queue.PtMoving
	if c.mover == nil || n.FinalDir == "" || n.FinalDir == n.DestDir {
		n.MoveStatus = queue.StatusSuccess
		return
	}
	if err := c.mover.Move(ctx, n.DestDir, n.FinalDir); err != nil {
		n.MoveStatus = queue.StatusFailure
		c.log.Error("move to final directory failed", "nzb_id", n.ID, "error", err)
		return
	}
	n.MoveStatus = queue.StatusSuccess
}
