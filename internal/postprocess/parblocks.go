package postprocess

import (
	"sort"

	"github.com/javi11/nzbqueued/internal/queue"
)

// requestMoreParBlocks unpauses the smallest set of this NzbInfo's paused
// par-volumes, ordered by ascending size, whose cumulative size meets
// neededBytes, and marks them extra-priority so the Queue Coordinator serves
// them ahead of everything else in the same NzbInfo. Grounded on
// ParCoordinator::RequestMorePars's "unpause just enough blocks" strategy;
// simplified to a byte-size proxy since par2 block-count metadata is an
// external par2-library concern out of scope here.
func (c *Coordinator) requestMoreParBlocks(n *queue.NzbInfo, neededBytes int64) {
	n.Post.Paused = true
	n.Post.PauseReason = "waiting for more par-volumes"

	candidates := selectAdditionalParBlocks(n.FileList, neededBytes)
	for _, f := range candidates {
		f.Paused = false
		f.ExtraPriority = true
		c.log.Info("unpausing par-volume for repair", "nzb_id", n.ID, "file", f.Filename)
	}
}

// selectAdditionalParBlocks returns the smallest-sufficient prefix, by
// ascending size, of this NzbInfo's currently paused par-volumes whose
// cumulative size meets neededBytes.
func selectAdditionalParBlocks(files []*queue.FileInfo, neededBytes int64) []*queue.FileInfo {
	var paused []*queue.FileInfo
	for _, f := range files {
		if f.Paused && f.IsParFile {
			paused = append(paused, f)
		}
	}
	sort.Slice(paused, func(i, j int) bool { return paused[i].Size < paused[j].Size })

	var selected []*queue.FileInfo
	var sum int64
	for _, f := range paused {
		if sum >= neededBytes {
			break
		}
		selected = append(selected, f)
		sum += f.Size
	}
	return selected
}
