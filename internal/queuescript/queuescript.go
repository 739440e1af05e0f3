// Package queuescript implements the Queue-Script Hook (§4.10): a
// single-slot "current" plus FIFO-pending scheduler for user queue-scripts
// triggered by job lifecycle events.
package queuescript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/javi11/nzbqueued/internal/queue"
	"github.com/javi11/nzbqueued/internal/scriptenv"
)

// Event is one queue lifecycle trigger. Declaration order is also priority
// order: when the current script finishes, the highest-valued pending
// Event is promoted next (QueueScriptCoordinator::CheckQueue, §4.10).
type Event int

const (
	EventFileDownloaded Event = iota
	EventURLCompleted
	EventNzbMarked
	EventNzbAdded
	EventNzbNamed
	EventNzbDownloaded
	EventNzbDeleted
)

func (e Event) String() string {
	switch e {
	case EventFileDownloaded:
		return "FILE_DOWNLOADED"
	case EventURLCompleted:
		return "URL_COMPLETED"
	case EventNzbMarked:
		return "NZB_MARKED"
	case EventNzbAdded:
		return "NZB_ADDED"
	case EventNzbNamed:
		return "NZB_NAMED"
	case EventNzbDownloaded:
		return "NZB_DOWNLOADED"
	case EventNzbDeleted:
		return "NZB_DELETED"
	default:
		return "UNKNOWN"
	}
}

// Runner executes one queue-script invocation and returns the "[NZB] ..."
// stdout directives it printed (a mark-bad request arrives as one of them).
type Runner interface {
	RunQueueScript(ctx context.Context, script string, env []string, nzbID int64, event Event) (directives []string, err error)
}

// item is one pending (or current) invocation.
type item struct {
	nzbID  int64
	script string
	event  Event
}

// Coordinator owns the single "current" slot and the FIFO of everything
// else waiting to run (§4.10).
type Coordinator struct {
	mu      sync.Mutex
	current *item
	pending []*item

	scripts       []string
	eventInterval time.Duration

	model  *queue.Model
	runner Runner
	log    *slog.Logger
}

// New builds a Coordinator. eventInterval mirrors nzbget's EventInterval
// option: 0 disables the FILE_DOWNLOADED cooldown entirely (every file
// completion enqueues), a negative value disables FILE_DOWNLOADED queueing
// outright, and a positive value is the minimum time since the job's last
// queue-script enqueue (for any event) before another FILE_DOWNLOADED is
// enqueued for it.
func New(model *queue.Model, runner Runner, scripts []string, eventInterval time.Duration) *Coordinator {
	return &Coordinator{
		model:         model,
		runner:        runner,
		scripts:       scripts,
		eventInterval: eventInterval,
		log:           slog.Default().With("component", "queue-script"),
	}
}

// Enqueue schedules event for nzb against every configured script
// (QueueScriptCoordinator::EnqueueScript, §4.10). If nothing is currently
// running, the first queued item starts immediately.
func (c *Coordinator) Enqueue(ctx context.Context, nzb *queue.NzbInfo, event Event) {
	if len(c.scripts) == 0 {
		return
	}

	c.mu.Lock()

	if event == EventNzbDownloaded {
		c.dropPendingForLocked(nzb.ID)
	}

	if event == EventFileDownloaded && c.cooldownActiveLocked(nzb) {
		c.mu.Unlock()
		return
	}

	started := false
	for _, script := range c.scripts {
		if event == EventFileDownloaded && c.alreadyQueuedLocked(nzb.ID, script) {
			continue
		}
		it := &item{nzbID: nzb.ID, script: script, event: event}
		if c.current == nil {
			c.current = it
			started = true
		} else {
			c.pending = append(c.pending, it)
		}
	}
	nzb.QueueScriptTime = time.Now()
	cur := c.current
	c.mu.Unlock()

	if started {
		c.run(ctx, cur)
	}
}

func (c *Coordinator) cooldownActiveLocked(nzb *queue.NzbInfo) bool {
	if c.eventInterval < 0 {
		return true
	}
	if c.eventInterval == 0 {
		return false
	}
	elapsed := time.Since(nzb.QueueScriptTime)
	return !nzb.QueueScriptTime.IsZero() && elapsed > 0 && elapsed < c.eventInterval
}

func (c *Coordinator) alreadyQueuedLocked(nzbID int64, script string) bool {
	if c.current != nil && c.current.nzbID == nzbID && c.current.script == script {
		return true
	}
	for _, p := range c.pending {
		if p.nzbID == nzbID && p.script == script {
			return true
		}
	}
	return false
}

func (c *Coordinator) dropPendingForLocked(nzbID int64) {
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.nzbID != nzbID {
			kept = append(kept, p)
		}
	}
	c.pending = kept
}

// run executes it and, once it finishes, promotes the next item
// (QueueScriptController::Run / QueueScriptCoordinator::CheckQueue, §4.10).
func (c *Coordinator) run(ctx context.Context, it *item) {
	nzb := c.model.Find(it.nzbID)
	if nzb == nil {
		c.finish(ctx)
		return
	}

	env := BuildEnv(nzb, it.event)
	var directives []string
	err := retry.Do(func() error {
		var runErr error
		directives, runErr = c.runner.RunQueueScript(ctx, it.script, env, it.nzbID, it.event)
		return runErr
	}, retry.Attempts(3), retry.Context(ctx))
	if err != nil {
		c.log.Error("queue-script failed", "nzb_id", it.nzbID, "script", it.script, "event", it.event, "error", err)
	} else {
		c.applyDirectives(it.nzbID, directives)
	}

	c.finish(ctx)
}

// finish clears the current slot and promotes the highest-priority pending
// item, if any (QueueScriptCoordinator::CheckQueue, §4.10).
func (c *Coordinator) finish(ctx context.Context) {
	c.mu.Lock()
	c.current = nil

	best := -1
	for i, p := range c.pending {
		if best == -1 || p.event > c.pending[best].event {
			best = i
		}
	}

	var next *item
	if best >= 0 {
		next = c.pending[best]
		c.pending = append(c.pending[:best], c.pending[best+1:]...)
		c.current = next
	}
	c.mu.Unlock()

	if next != nil {
		c.run(ctx, next)
	}
}

// applyDirectives interprets the script's "[NZB] ..." stdout lines
// (QueueScriptController::AddMessage, §4.10, §6). DIRECTORY= is only
// meaningful for NZB_DOWNLOADED, but applying it unconditionally is
// harmless since no other event's script normally emits it.
func (c *Coordinator) applyDirectives(nzbID int64, lines []string) {
	nzb := c.model.Find(nzbID)
	if nzb == nil {
		return
	}
	markBad := false
	for _, line := range lines {
		d, ok := scriptenv.ParseDirective(line)
		if !ok {
			continue
		}
		switch {
		case d.MarkBad:
			markBad = true
		case d.SetDirectory != "":
			nzb.FinalDir = d.SetDirectory
		case d.SetParameter != "":
			if nzb.Parameters == nil {
				nzb.Parameters = map[string]string{}
			}
			nzb.Parameters[d.SetParameter] = d.Value
		}
	}
	if markBad {
		nzb.MarkStatus = queue.StatusBad
		c.log.Warn("queue-script marked job bad", "nzb_id", nzbID)
	}
}

// Busy reports whether nzbID has a running or pending queue-script
// invocation (QueueScriptCoordinator::HasJob).
func (c *Coordinator) Busy(nzbID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.nzbID == nzbID {
		return true
	}
	for _, p := range c.pending {
		if p.nzbID == nzbID {
			return true
		}
	}
	return false
}

// QueueSize reports the current plus pending invocation count
// (QueueScriptCoordinator::GetQueueSize).
func (c *Coordinator) QueueSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.pending)
	if c.current != nil {
		n++
	}
	return n
}
