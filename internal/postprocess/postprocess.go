// Package postprocess implements the Pre/Post-Processor stage machine
// (§4.6): it drives each completed NzbInfo through par-check, unpack,
// cleanup, move, and post-script stages, one NzbInfo at a time, ticking
// cooperatively rather than blocking a dedicated goroutine per job.
package postprocess

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/javi11/nzbqueued/internal/dupe"
	"github.com/javi11/nzbqueued/internal/queue"
)

// criticalHealthPermille mirrors the Duplicate Coordinator's floor (§4.5,
// §4.6 "skip-par-check if health below critical").
const criticalHealthPermille = 900

// tickInterval is the cooperative scheduling period of the main loop (§4.6).
const tickInterval = 200 * time.Millisecond

// cancelGrace is how long Cancel waits before logging a warning that a
// cancelled stage is still running (§4.6, §5).
const cancelGrace = 5 * time.Second

// ParChecker is the external par2 collaborator. Outcome reflects the map in
// §4.6 item 2: repaired/repair-not-needed collapse to success by the time
// Check returns.
type ParChecker interface {
	// Check returns an outcome, and when the outcome is ParRequestMoreBlocks,
	// the number of additional bytes of par-volumes needed to proceed.
	Check(ctx context.Context, n *queue.NzbInfo) (outcome ParOutcome, neededBytes int64, err error)
}

// ParOutcome is the result reported by a ParChecker.
type ParOutcome int

const (
	ParSuccess ParOutcome = iota
	ParRepairPossible
	ParFailure
	ParRequestMoreBlocks
)

// Unpacker is the external archive-extraction collaborator.
type Unpacker interface {
	Unpack(ctx context.Context, n *queue.NzbInfo) (UnpackOutcome, error)
}

// UnpackOutcome is the result reported by an Unpacker.
type UnpackOutcome int

const (
	UnpackSuccess UnpackOutcome = iota
	UnpackFailure
	UnpackPasswordProtected
)

// Mover relocates a finished job's files from its intermediate destination
// directory to its final directory.
type Mover interface {
	Move(ctx context.Context, srcDir, dstDir string) error
}

// ScriptRunner executes one configured post-processing script and reports
// its exit outcome (§6 exit-code map).
type ScriptRunner interface {
	RunPostScript(ctx context.Context, script string, n *queue.NzbInfo) (ScriptOutcome, []string, error)
}

// ScriptOutcome mirrors the §6 post-script exit-code map.
type ScriptOutcome int

const (
	ScriptSuccess ScriptOutcome = iota
	ScriptError
	ScriptNone
	ScriptRequestParCheckCurrent
	ScriptRequestParCheckAll
	ScriptUnknown
)

// Config wires the Coordinator's external collaborators and policy knobs.
type Config struct {
	Model        *queue.Model
	Dupe         *dupe.Coordinator
	ParChecker   ParChecker
	Unpacker     Unpacker
	Mover        Mover
	Scripts      ScriptRunner
	PostScripts  []string // names run in order at stage PtExecutingScript
	HistoryKept  bool      // whether finished jobs are parked into history
	ParRepairTimeLimit time.Duration
}

// Coordinator is the Pre/Post-Processor.
type Coordinator struct {
	model       *queue.Model
	dupe        *dupe.Coordinator
	parChecker  ParChecker
	unpacker    Unpacker
	mover       Mover
	scripts     ScriptRunner
	postScripts []string
	historyKept bool
	repairLimit time.Duration
	log         *slog.Logger

	mu      sync.Mutex
	running map[int64]context.CancelFunc // nzb id -> cancel for the stage currently in flight
}

func New(cfg Config) *Coordinator {
	return &Coordinator{
		model:       cfg.Model,
		dupe:        cfg.Dupe,
		parChecker:  cfg.ParChecker,
		unpacker:    cfg.Unpacker,
		mover:       cfg.Mover,
		scripts:     cfg.Scripts,
		postScripts: cfg.PostScripts,
		historyKept: cfg.HistoryKept,
		repairLimit: cfg.ParRepairTimeLimit,
		log:         slog.Default().With("component", "postprocessor"),
		running:     make(map[int64]context.CancelFunc),
	}
}

// Run ticks the stage machine every 200ms until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick advances at most one eligible NzbInfo by one stage step. Eligible
// means: ReadyForPostProcessing, a PostInfo is attached, and it is not
// already Working (another tick's stage call is still in flight).
func (c *Coordinator) Tick(ctx context.Context) {
	n := c.pickNext()
	if n == nil {
		return
	}

	post := n.Post
	post.Working = true
	post.StageStartedAt = time.Now()

	stageCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.running[n.ID] = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.running, n.ID)
		c.mu.Unlock()
		post.Working = false
	}()

	c.runStage(stageCtx, n)
}

// Cancel requests cooperative cancellation of the stage currently running
// for nzbID (user edit "delete post-job", §4.6, §5). The stage's context is
// cancelled immediately; a ScriptRunner/ParChecker/Unpacker implementation
// is expected to honor ctx and exit within the ~5s grace period, after
// which it is responsible for forcibly killing its own subprocess. Returns
// false if nothing is currently running for nzbID.
func (c *Coordinator) Cancel(nzbID int64) bool {
	if n := c.model.Find(nzbID); n != nil && n.Post != nil {
		n.Post.Stop = true
	}

	c.mu.Lock()
	cancel, ok := c.running[nzbID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	cancel()

	go func() {
		time.Sleep(cancelGrace)
		c.mu.Lock()
		_, stillRunning := c.running[nzbID]
		c.mu.Unlock()
		if stillRunning {
			c.log.Warn("stage did not stop within grace period", "nzb_id", nzbID, "grace", cancelGrace)
		}
	}()
	return true
}

func (c *Coordinator) pickNext() *queue.NzbInfo {
	c.model.Lock()
	defer c.model.Unlock()

	var best *queue.NzbInfo
	for _, n := range c.model.QueueLocked() {
		if n.Post == nil || n.Post.Working || n.Post.Stop {
			continue
		}
		if !n.ReadyForPostProcessing() {
			continue
		}
		if best == nil || n.Priority > best.Priority {
			best = n
		}
	}
	return best
}
