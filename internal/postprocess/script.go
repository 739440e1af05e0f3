package postprocess

import (
	"context"

	"github.com/javi11/nzbqueued/internal/queue"
	"github.com/javi11/nzbqueued/internal/scriptenv"
)

// hasPendingPostScript reports whether any configured post-script has not
// yet recorded a status for n.
func (c *Coordinator) hasPendingPostScript(n *queue.NzbInfo) bool {
	if n.MoveStatus == queue.StatusNone {
		return false // move must run (or be ruled out) before scripts, per the decision table order
	}
	_, pending := c.nextPostScript(n)
	return pending
}

func (c *Coordinator) nextPostScript(n *queue.NzbInfo) (name string, ok bool) {
	for _, script := range c.postScripts {
		if _, done := n.ScriptStatuses[script]; !done {
			return script, true
		}
	}
	return "", false
}

// runNextPostScript runs the next not-yet-executed configured script in
// order and applies its §6 exit-code outcome and any "[NZB] ..." directives
// it emitted on stdout.
func (c *Coordinator) runNextPostScript(ctx context.Context, n *queue.NzbInfo) {
	n.Post.Stage = queue.PtExecutingScript
	script, ok := c.nextPostScript(n)
	if !ok {
		return
	}
	if c.scripts == nil {
		n.ScriptStatuses[script] = queue.StatusSkipped
		return
	}

	outcome, directives, err := c.scripts.RunPostScript(ctx, script, n)
	if err != nil {
		n.ScriptStatuses[script] = queue.StatusFailure
		c.log.Error("post-script failed", "nzb_id", n.ID, "script", script, "error", err)
		return
	}

	switch outcome {
	case ScriptSuccess, ScriptNone:
		n.ScriptStatuses[script] = queue.StatusSuccess
	case ScriptRequestParCheckCurrent, ScriptRequestParCheckAll:
		n.ScriptStatuses[script] = queue.StatusSuccess
		n.ParStatus = queue.StatusNone
	default:
		n.ScriptStatuses[script] = queue.StatusFailure
	}

	c.applyDirectives(n, directives)
}

func (c *Coordinator) applyDirectives(n *queue.NzbInfo, lines []string) {
	for _, line := range lines {
		d, ok := scriptenv.ParseDirective(line)
		if !ok {
			continue
		}
		switch {
		case d.MarkBad:
			n.MarkStatus = queue.StatusBad
		case d.SetDirectory != "":
			n.FinalDir = d.SetDirectory
		case d.SetParameter != "":
			n.Parameters[d.SetParameter] = d.Value
		}
	}
}
