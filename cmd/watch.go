package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/offsync/internal/config"
	"github.com/marcus/offsync/internal/output"
	"github.com/marcus/offsync/internal/sync"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run sync passes periodically until interrupted",
	Long: `Runs a sync pass every --interval (default from sync.interval, 5m).
A pass also runs at start unless sync.on_start is false. Conflicts are
resolved with --resolve or the configured default. Passes that replayed
anything are posted to webhook.url when one is configured.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = config.SyncInterval()
		}
		res, err := resolutionFlag(cmd)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		return withApp(func(ctx context.Context, a *app) error {
			if !a.session.IsLoggedIn() {
				output.Error("not logged in, run offsync login first")
				return errNotLoggedIn
			}
			m := a.syncManager(progressDelegate(res, nil, false))
			fmt.Printf("Syncing every %s, Ctrl-C to stop\n", interval)
			watchLoop(ctx, m, interval, config.SyncOnStart(), func(rep sync.Report) {
				if rep.Count > 0 || rep.Err != nil {
					a.notify(ctx, rep)
					fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), output.FormatSyncSummary(summaryOf(rep)))
				}
			})
			return nil
		})(cmd, args)
	},
}

// watchLoop runs a pass every interval until ctx ends, and once up front
// when onStart is set. Passes never overlap: a tick during a long pass is
// dropped.
func watchLoop(ctx context.Context, m *sync.Manager, interval time.Duration, onStart bool, onReport func(sync.Report)) {
	run := func() {
		rep := m.Sync(ctx)
		slog.Debug("watch: pass", "count", rep.Count, "done", rep.Done, "failed", rep.Failed, "conflicts", rep.Conflicts)
		if rep.Err != nil && ctx.Err() == nil {
			slog.Warn("watch: pass", "err", rep.Err)
		}
		if onReport != nil {
			onReport(rep)
		}
	}

	if onStart {
		run()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

func init() {
	watchCmd.Flags().Duration("interval", 0, "Time between passes (e.g. 30s, 5m)")
	res := new(sync.Resolution)
	watchCmd.Flags().Var(res, "resolve", "conflict resolution: ignore, use-local, use-remote, discard (default from config)")
	rootCmd.AddCommand(watchCmd)
}
