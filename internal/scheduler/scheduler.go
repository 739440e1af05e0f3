// Package scheduler implements the Scheduler (§4.9): a calendar of tasks
// keyed by (hour, minute, weekday-mask, command) that catch up on a 1-second
// tick and reset on large clock jumps.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Command enumerates the scheduled actions (§4.9).
type Command int

const (
	CommandPause Command = iota
	CommandUnpause
	CommandDownloadRate
	CommandProcess
)

// Task is one calendar entry. WeekdayMask bit 0 is Monday through bit 6
// Sunday; a zero mask means every day.
type Task struct {
	Hour, Minute int
	WeekdayMask  int
	Command      Command
	DownloadRate int
	Process      string

	schedule     cron.Schedule
	lastExecuted time.Time
}

// Actions are the side effects a scheduled task triggers
// (Scheduler::ExecuteTask, §4.9). Implemented by whatever owns download-rate
// limiting, global pause, and process spawning.
type Actions interface {
	SetPaused(paused bool)
	SetDownloadRate(kbps int)
	RunProcess(ctx context.Context, process string)
}

// Scheduler holds the task calendar and the last-check watermark used for
// catch-up.
type Scheduler struct {
	mu    sync.Mutex
	tasks []*Task

	actions Actions
	log     *slog.Logger

	lastCheck time.Time
	first     bool
}

func New(actions Actions) *Scheduler {
	return &Scheduler{
		actions: actions,
		log:     slog.Default().With("component", "scheduler"),
		first:   true,
	}
}

// AddTask registers t, precomputing its calendar schedule via
// robfig/cron/v3 (used here purely as a calendar calculator: Next() answers
// "when is this task's next occurrence after t", the weekday mask and
// hour/minute encoded as a standard 5-field cron spec).
func (s *Scheduler) AddTask(t *Task) error {
	sched, err := buildSchedule(t.Minute, t.Hour, t.WeekdayMask)
	if err != nil {
		return fmt.Errorf("scheduler: add task: %w", err)
	}
	t.schedule = sched

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	return nil
}

func buildSchedule(minute, hour, weekdayMask int) (cron.Schedule, error) {
	dow := "*"
	if weekdayMask != 0 {
		var days []string
		for bit := 0; bit < 7; bit++ {
			if weekdayMask&(1<<uint(bit)) != 0 {
				// bit 0 = Monday = cron dow 1 ... bit 6 = Sunday = cron dow 0
				days = append(days, strconv.Itoa((bit+1)%7))
			}
		}
		if len(days) == 0 {
			return nil, fmt.Errorf("empty weekday mask %#x", weekdayMask)
		}
		dow = strings.Join(days, ",")
	}
	spec := fmt.Sprintf("%d %d * * %s", minute, hour, dow)
	return cron.ParseStandard(spec)
}

// Run ticks once a second until ctx is cancelled (§5: the scheduler loop
// sleeps ~1s between checks).
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, time.Now())
		}
	}
}

// Tick is the per-second catch-up check (Scheduler::CheckTasks, §4.9). It is
// exported directly so tests can drive it deterministically without relying
// on wall-clock ticks.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.first {
		s.first = false
		s.lastCheck = now.Add(-7 * 24 * time.Hour)
		// bootstrap: catch up pause/rate state over the past week, but never
		// replay process scripts for that whole window (Scheduler::FirstCheck).
		s.runDue(ctx, now, false)
		s.lastCheck = now
		return
	}

	diff := now.Sub(s.lastCheck)
	if diff > 90*time.Minute || diff < -90*time.Minute {
		s.log.Debug("clock jump detected, resetting scheduled tasks", "diff", diff)
		for _, t := range s.tasks {
			t.lastExecuted = time.Time{}
		}
		s.lastCheck = now
		return
	}

	s.runDue(ctx, now, true)
	s.lastCheck = now
}

// runDue executes every task occurrence that falls in (watermark, now] for
// each task, where watermark is the later of the task's own last execution
// and the scheduler's last-check time. A task with a daily or more frequent
// schedule may fire more than once in a single call after a long gap.
func (s *Scheduler) runDue(ctx context.Context, now time.Time, executeProcess bool) {
	for _, t := range s.tasks {
		from := t.lastExecuted
		if from.Before(s.lastCheck) {
			from = s.lastCheck
		}
		for {
			next := t.schedule.Next(from)
			if next.After(now) {
				break
			}
			s.execute(ctx, t, executeProcess)
			t.lastExecuted = next
			from = next
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, t *Task, executeProcess bool) {
	switch t.Command {
	case CommandDownloadRate:
		s.log.Debug("executing scheduled command", "command", "download-rate", "kbps", t.DownloadRate)
		s.actions.SetDownloadRate(t.DownloadRate)
	case CommandPause:
		s.log.Debug("executing scheduled command", "command", "pause")
		s.actions.SetPaused(true)
	case CommandUnpause:
		s.log.Debug("executing scheduled command", "command", "unpause")
		s.actions.SetPaused(false)
	case CommandProcess:
		if executeProcess {
			s.log.Debug("executing scheduled command", "command", "process", "process", t.Process)
			s.actions.RunProcess(ctx, t.Process)
		}
	}
}
