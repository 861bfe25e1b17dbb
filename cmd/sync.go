package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/marcus/offsync/internal/cache"
	"github.com/marcus/offsync/internal/config"
	"github.com/marcus/offsync/internal/dateparse"
	"github.com/marcus/offsync/internal/output"
	"github.com/marcus/offsync/internal/sync"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var errNotLoggedIn = errors.New("not logged in")

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay pending local changes to the server",
	Long: `Runs one sync pass: every dirty cache entry is replayed, grouped by
collection and ordered by key within each. Conflicts between a local change and a newer remote version are
resolved with --resolve, or by prompting when --interactive is set.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := resolutionFlag(cmd)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		interactive, _ := cmd.Flags().GetBool("interactive")
		jsonOut, _ := cmd.Flags().GetBool("json")
		if interactive && !term.IsTerminal(int(os.Stdin.Fd())) {
			output.Error("--interactive needs a terminal")
			return fmt.Errorf("stdin is not a terminal")
		}

		return withApp(func(ctx context.Context, a *app) error {
			if !a.session.IsLoggedIn() {
				output.Error("not logged in, run offsync login first")
				return errNotLoggedIn
			}
			var prompt func(tag, key string, remote, local any) sync.Resolution
			if interactive {
				prompt = promptResolution
			}
			m := a.syncManager(progressDelegate(res, prompt, !jsonOut))
			rep := m.Sync(ctx)
			a.notify(ctx, rep)
			return reportPass(rep, jsonOut)
		})(cmd, args)
	},
}

// resolutionFlag returns --resolve when given, otherwise the configured
// default.
func resolutionFlag(c *cobra.Command) (sync.Resolution, error) {
	if f := c.Flags().Lookup("resolve"); f != nil && f.Changed {
		return *f.Value.(*sync.Resolution), nil
	}
	return sync.ParseResolution(config.ConflictResolution())
}

// progressDelegate prints one line per replayed entry when verbose. Conflicts
// go to prompt when set, otherwise they all get res.
func progressDelegate(res sync.Resolution, prompt func(tag, key string, remote, local any) sync.Resolution, verbose bool) sync.Delegate {
	return sync.Events{
		Count: func(n int) {
			if verbose && n > 0 {
				fmt.Printf("Syncing %d pending entries\n", n)
			}
		},
		ItemDone: func(tag, key string, _ cache.Attributes) {
			if verbose {
				fmt.Printf("  %s %s/%s\n", output.FormatState(false), tag, key)
			}
		},
		ItemFail: func(tag, key string, _ cache.Attributes, err error) {
			if verbose {
				fmt.Printf("  %s %s/%s %s %v\n", output.FormatState(true), tag, key, output.FormatKind(err), err)
			}
		},
		Conflict: func(tag, key string, remote, local any, resolve func(sync.Resolution)) {
			if prompt != nil {
				resolve(prompt(tag, key, remote, local))
				return
			}
			resolve(res)
		},
	}
}

// promptResolution asks which side of a conflict to keep. An aborted
// prompt is Ignore.
func promptResolution(tag, key string, remote, local any) sync.Resolution {
	choice := sync.Ignore
	desc := fmt.Sprintf("remote: %s\nlocal:  %s",
		output.Truncate(compactJSON(remote), 120),
		output.Truncate(compactJSON(local), 120))

	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[sync.Resolution]().
			Title(fmt.Sprintf("Conflict on %s/%s", tag, key)).
			Description(desc).
			Options(
				huh.NewOption("Keep local (overwrite the server)", sync.UseLocal),
				huh.NewOption("Keep remote (drop the local change)", sync.UseRemote),
				huh.NewOption("Discard the local entry", sync.Discard),
				huh.NewOption("Skip for now", sync.Ignore),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		slog.Debug("cmd: conflict prompt", "err", err)
		return sync.Ignore
	}
	return choice
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func summaryOf(rep sync.Report) output.SyncSummary {
	return output.SyncSummary{
		Count:     rep.Count,
		Done:      rep.Done,
		Failed:    rep.Failed,
		Conflicts: rep.Conflicts,
		Skipped:   rep.Skipped,
	}
}

// reportPass prints a pass summary and turns failures into an error.
func reportPass(rep sync.Report, jsonOut bool) error {
	summary := summaryOf(rep)
	if jsonOut {
		if err := output.JSON(summary); err != nil {
			return err
		}
	} else {
		fmt.Println(output.FormatSyncSummary(summary))
	}
	if rep.Err != nil {
		output.KindError(rep.Err)
		return rep.Err
	}
	if rep.Failed > 0 {
		return fmt.Errorf("%d of %d entries failed", rep.Failed, rep.Count)
	}
	return nil
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show login, server reachability and pending changes",
	RunE: withAppArgs(func(ctx context.Context, a *app, args []string) error {
		s, ok := a.session.Current()
		if !ok {
			fmt.Println("Not logged in.")
		} else {
			who := s.EmailAddress
			if who == "" {
				who = fmt.Sprintf("user %d", s.UserID)
			}
			fmt.Printf("User:    %s\n", who)
			fmt.Printf("Server:  %s\n", s.ServerURL)

			hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			health, err := s.Client().Health(hctx)
			cancel()
			if err != nil {
				fmt.Printf("Remote:  unreachable %s\n", output.FormatKind(err))
			} else {
				fmt.Printf("Remote:  %s\n", health.Status)
			}
		}

		byCollection, err := a.store.PendingByCollection(ctx)
		if err != nil {
			output.KindError(err)
			return err
		}
		total := 0
		names := make([]string, 0, len(byCollection))
		for name, n := range byCollection {
			total += n
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Printf("Pending: %d\n", total)
		for _, name := range names {
			fmt.Printf("  %-12s %d\n", name, byCollection[name])
		}
		return nil
	}),
}

var syncConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Show recent sync conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 || limit > 1000 {
			output.Error("limit must be between 1 and 1000")
			return fmt.Errorf("invalid limit: %d", limit)
		}
		sinceStr, _ := cmd.Flags().GetString("since")
		jsonOut, _ := cmd.Flags().GetBool("json")

		var since *time.Time
		if sinceStr != "" {
			t, err := dateparse.ParseSince(sinceStr)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			since = &t
		}

		return withApp(func(ctx context.Context, a *app) error {
			conflicts, err := a.store.RecentConflicts(ctx, limit, since)
			if err != nil {
				output.KindError(err)
				return err
			}
			if jsonOut {
				if conflicts == nil {
					conflicts = []cache.Conflict{}
				}
				return output.JSON(conflicts)
			}
			if len(conflicts) == 0 {
				fmt.Println("No sync conflicts found.")
				return nil
			}
			fmt.Println("Recent sync conflicts:")
			for _, c := range conflicts {
				fmt.Println("  " + output.FormatConflict(c))
			}
			return nil
		})(cmd, args)
	},
}

func init() {
	res := new(sync.Resolution)
	syncCmd.Flags().Var(res, "resolve", "conflict resolution: ignore, use-local, use-remote, discard (default from config)")
	syncCmd.Flags().BoolP("interactive", "i", false, "Prompt for each conflict")
	syncCmd.Flags().Bool("json", false, "Print the pass summary as JSON")

	syncConflictsCmd.Flags().Int("limit", 20, "Max conflicts to show")
	syncConflictsCmd.Flags().String("since", "", "Show conflicts since a time (e.g. 24h, 7d, yesterday, 2026-03-01)")
	syncConflictsCmd.Flags().Bool("json", false, "JSON output")

	syncCmd.AddCommand(syncStatusCmd, syncConflictsCmd)
	rootCmd.AddCommand(syncCmd)
}
