package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/javi11/nzbqueued/internal/article"
	"github.com/javi11/nzbqueued/internal/config"
	"github.com/javi11/nzbqueued/internal/coordinator"
	"github.com/javi11/nzbqueued/internal/diskstate"
	"github.com/javi11/nzbqueued/internal/downloadworker"
	"github.com/javi11/nzbqueued/internal/dupe"
	"github.com/javi11/nzbqueued/internal/execrunner"
	"github.com/javi11/nzbqueued/internal/pool"
	"github.com/javi11/nzbqueued/internal/postprocess"
	"github.com/javi11/nzbqueued/internal/queue"
	"github.com/javi11/nzbqueued/internal/queuescript"
	"github.com/javi11/nzbqueued/internal/scanner"
	"github.com/javi11/nzbqueued/internal/scheduler"
	"github.com/javi11/nzbqueued/internal/slogutil"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Job Coordinator",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(configFile)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(configFile string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.ValidateDirectories(); err != nil {
		return fmt.Errorf("config directories: %w", err)
	}

	logger := slogutil.SetupLogRotation(cfg.Log)
	slog.SetDefault(logger)

	configManager, err := config.NewManager(configFile)
	if err != nil {
		return fmt.Errorf("config manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolManager := pool.NewManager(ctx)
	pool.RegisterConfigHandlers(ctx, configManager, poolManager)
	if len(cfg.Providers) > 0 {
		if err := poolManager.SetProviders(cfg.ToNNTPProviders()); err != nil {
			return fmt.Errorf("set providers: %w", err)
		}
	}
	defer func() {
		if err := poolManager.ClearPool(); err != nil {
			slog.Error("failed to clear connection pool", "error", err)
		}
	}()

	store := diskstate.NewStore(cfg.Queue.Dir, cfg.Queue.FlushOnSave)

	model := queue.NewModel()
	if nzbs, err := store.LoadQueue(); err != nil {
		slog.Error("failed to load queue state", "error", err)
	} else {
		for _, n := range nzbs {
			model.ObserveID(n.ID)
			model.AddBack(n)
		}
	}
	if history, err := store.LoadHistory(); err != nil {
		slog.Error("failed to load history state", "error", err)
	} else {
		for _, h := range history {
			model.AddHistory(h)
		}
	}

	cache := article.NewCache(cfg.GetArticleCacheBytes(), store)
	flusher := article.NewFlusher(cache, func(ctx context.Context, f *queue.FileInfo) error {
		n := model.Find(f.NzbID)
		if n == nil {
			return fmt.Errorf("flush: nzb %d not found", f.NzbID)
		}
		_, err := article.CompleteFileParts(n, f)
		return err
	})

	queueCoord := coordinator.New(model)
	dupeCoord := dupe.New(model)

	postCoord := postprocess.New(postprocess.Config{
		Model:              model,
		Dupe:               dupeCoord,
		ParChecker:         parCheckerOrNil(cfg),
		Unpacker:           unpackerOrNil(cfg),
		Mover:              execrunner.Mover{},
		Scripts:            &execrunner.ScriptRunner{Dirs: cfg.Post.ScriptDirs, Timeout: cfg.GetScriptTimeout()},
		PostScripts:        cfg.Post.Scripts,
		HistoryKept:        cfg.Post.HistoryKept,
		ParRepairTimeLimit: cfg.GetParRepairTimeLimit(),
	})

	downloadPool := downloadworker.New(queueCoord, pool.NewPuller(poolManager), cache, downloadworkerOptions(cfg)...)

	scanners := make([]*scanner.Scanner, 0, len(cfg.Scan))
	for _, sc := range cfg.Scan {
		scriptRunner := &execrunner.ScanScriptRunner{Timeout: cfg.GetScriptTimeout()}
		scanners = append(scanners, scanner.New(scanner.Config{
			Dir:          sc.Dir,
			Category:     sc.Category,
			ScanScript:   sc.ScanScript,
			MinAge:       sc.GetMinAge(),
			TickInterval: sc.GetTickInterval(),
		}, dupeCoord, queueCoord, scriptRunner))
	}

	sched := scheduler.New(execrunner.SchedulerActions{Controller: downloadPool})
	for i, t := range cfg.Schedule.Tasks {
		cmdValue, err := parseScheduleCommand(t.Command)
		if err != nil {
			return fmt.Errorf("schedule.tasks[%d]: %w", i, err)
		}
		if err := sched.AddTask(&scheduler.Task{
			Hour:         t.Hour,
			Minute:       t.Minute,
			WeekdayMask:  t.WeekdayMask,
			Command:      cmdValue,
			DownloadRate: t.DownloadRate,
			Process:      t.Process,
		}); err != nil {
			return fmt.Errorf("schedule.tasks[%d]: %w", i, err)
		}
	}

	queueScriptCoord := queuescript.New(model, execrunner.QueueScriptRunner{}, cfg.QueueScript.Scripts, cfg.GetEventInterval())

	queueCoord.Subscribe(func(ev coordinator.Event) {
		if n := model.Find(ev.NzbID); n != nil {
			queueScriptCoord.Enqueue(ctx, n, eventFromCoordinator(ev))
		}
	})

	go flusher.Run(ctx)
	go downloadPool.Run(ctx)
	go postCoord.Run(ctx)
	for _, s := range scanners {
		go s.Run(ctx)
	}
	go sched.Run(ctx)

	slog.Info("nzbqueued started", "scan_dirs", len(scanners), "providers", len(cfg.Providers))

	waitForShutdownSignal()
	cancel()
	flusher.Stop()

	if err := store.SaveQueue(model.Queue()); err != nil {
		slog.Error("failed to save queue state", "error", err)
	}
	if err := store.SaveHistory(model.History()); err != nil {
		slog.Error("failed to save history state", "error", err)
	}
	downloadPool.Close()

	slog.Info("nzbqueued shut down gracefully")
	return nil
}

func parCheckerOrNil(cfg *config.Config) postprocess.ParChecker {
	if !cfg.Post.ParCheck {
		return nil
	}
	return &execrunner.ParChecker{TimeLimit: cfg.GetParRepairTimeLimit()}
}

func unpackerOrNil(cfg *config.Config) postprocess.Unpacker {
	if !cfg.Post.Unpack {
		return nil
	}
	return &execrunner.Unpacker{}
}

func downloadworkerOptions(cfg *config.Config) []downloadworker.Option {
	total := 0
	for _, p := range cfg.Providers {
		total += p.MaxConnections
	}
	if total <= 0 {
		return nil
	}
	return []downloadworker.Option{downloadworker.WithConcurrency(total)}
}

func parseScheduleCommand(s string) (scheduler.Command, error) {
	switch strings.ToLower(s) {
	case "pause":
		return scheduler.CommandPause, nil
	case "unpause":
		return scheduler.CommandUnpause, nil
	case "download_rate":
		return scheduler.CommandDownloadRate, nil
	case "process":
		return scheduler.CommandProcess, nil
	default:
		return 0, fmt.Errorf("unknown schedule command %q", s)
	}
}

func eventFromCoordinator(ev coordinator.Event) queuescript.Event {
	switch ev.Kind {
	case coordinator.EventNzbAdded:
		return queuescript.EventNzbAdded
	case coordinator.EventFileCompleted:
		return queuescript.EventFileDownloaded
	case coordinator.EventURLCompleted:
		return queuescript.EventURLCompleted
	case coordinator.EventNzbDeleted:
		return queuescript.EventNzbDeleted
	default:
		return queuescript.EventFileDownloaded
	}
}

// waitForShutdownSignal blocks until SIGINT or SIGTERM arrives.
func waitForShutdownSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
