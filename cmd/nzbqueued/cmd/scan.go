package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/javi11/nzbqueued/internal/config"
	"github.com/javi11/nzbqueued/internal/coordinator"
	"github.com/javi11/nzbqueued/internal/diskstate"
	"github.com/javi11/nzbqueued/internal/dupe"
	"github.com/javi11/nzbqueued/internal/execrunner"
	"github.com/javi11/nzbqueued/internal/queue"
	"github.com/javi11/nzbqueued/internal/scanner"
)

func init() {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one admission pass over the configured scan directories",
		Long: `Run one pass of the Scanner against every configured scan directory and exit,
without starting the rest of the daemon. Useful for a one-shot cron invocation or to
verify a scan directory admits the files you expect.`,
		RunE: runScanOnce,
	}
	rootCmd.AddCommand(scanCmd)
}

func runScanOnce(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

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

	queueCoord := coordinator.New(model)
	dupeCoord := dupe.New(model)

	ctx := context.Background()
	for _, sc := range cfg.Scan {
		s := scanner.New(scanner.Config{
			Dir:          sc.Dir,
			Category:     sc.Category,
			ScanScript:   sc.ScanScript,
			MinAge:       sc.GetMinAge(),
			TickInterval: sc.GetTickInterval(),
		}, dupeCoord, queueCoord, &execrunner.ScanScriptRunner{Timeout: cfg.GetScriptTimeout()})
		s.Tick(ctx)
	}

	if err := store.SaveQueue(model.Queue()); err != nil {
		return fmt.Errorf("save queue state: %w", err)
	}
	fmt.Printf("scan complete, %d NZB(s) now queued\n", len(model.Queue()))
	return nil
}
