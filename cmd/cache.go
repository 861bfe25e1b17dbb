package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/marcus/offsync/internal/cache"
	"github.com/marcus/offsync/internal/output"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:     "cache",
	Short:   "Inspect and edit the offline cache",
	GroupID: "cache",
}

type entryJSON struct {
	Collection   string           `json:"collection"`
	Key          string           `json:"key"`
	Value        string           `json:"value"`
	Dirty        bool             `json:"dirty"`
	Synchronized *time.Time       `json:"synchronized,omitempty"`
	Attributes   cache.Attributes `json:"attributes,omitempty"`
}

var cacheGetCmd = &cobra.Command{
	Use:   "get <collection> <key>",
	Short: "Print a cached value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		return withApp(func(ctx context.Context, a *app) error {
			e, err := a.store.GetEntry(ctx, args[0], args[1])
			if err != nil {
				output.KindError(err)
				return err
			}
			if e == nil {
				output.Error("%s/%s not cached", args[0], args[1])
				return fmt.Errorf("not cached: %s/%s", args[0], args[1])
			}
			if jsonOut {
				return output.JSON(entryJSON{
					Collection:   e.Collection,
					Key:          e.Key,
					Value:        string(e.Value),
					Dirty:        e.Dirty(),
					Synchronized: e.Synchronized,
					Attributes:   e.Attributes,
				})
			}
			_, err = os.Stdout.Write(e.Value)
			if err == nil && len(e.Value) > 0 && e.Value[len(e.Value)-1] != '\n' {
				fmt.Println()
			}
			return err
		})(cmd, args)
	},
}

var cacheSetCmd = &cobra.Command{
	Use:   "set <collection> <key> <value>",
	Short: "Store a value, clean unless --dirty",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		dirty, _ := cmd.Flags().GetBool("dirty")
		pairs, _ := cmd.Flags().GetStringArray("attr")
		attrs, err := parseAssignments(pairs)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			set := a.store.SetClean
			if dirty {
				set = a.store.SetDirty
			}
			if err := set(ctx, args[0], args[1], []byte(args[2]), cache.Attributes(attrs)); err != nil {
				output.KindError(err)
				return err
			}
			output.Success("Stored %s/%s %s", args[0], args[1], output.FormatState(dirty))
			return nil
		})(cmd, args)
	},
}

var cacheRmCmd = &cobra.Command{
	Use:     "rm <collection> [key]",
	Aliases: []string{"remove"},
	Short:   "Remove one entry, or a whole collection",
	Args:    cobra.RangeArgs(1, 2),
	RunE: withAppArgs(func(ctx context.Context, a *app, args []string) error {
		var err error
		if len(args) == 2 {
			err = a.store.Remove(ctx, args[0], args[1])
		} else {
			err = a.store.RemoveCollection(ctx, args[0])
		}
		if err != nil {
			output.KindError(err)
			return err
		}
		if len(args) == 2 {
			output.Success("Removed %s/%s", args[0], args[1])
		} else {
			output.Success("Removed collection %s", args[0])
		}
		return nil
	}),
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached entry, after any running sync pass",
	RunE: withAppArgs(func(ctx context.Context, a *app, args []string) error {
		if err := a.syncManager(nil).Clear(ctx); err != nil {
			output.KindError(err)
			return err
		}
		output.Success("Cache cleared")
		return nil
	}),
}

var cachePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List entries waiting to be synced",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		return withApp(func(ctx context.Context, a *app) error {
			var pending []cache.Pending
			err := a.store.ForEachPending(ctx, func(p cache.Pending) bool {
				pending = append(pending, p)
				return true
			})
			if err != nil {
				output.KindError(err)
				return err
			}
			if jsonOut {
				if pending == nil {
					pending = []cache.Pending{}
				}
				return output.JSON(pending)
			}
			if len(pending) == 0 {
				fmt.Println("Nothing pending")
				return nil
			}
			for _, p := range pending {
				fmt.Println(output.FormatPending(p))
			}
			return nil
		})(cmd, args)
	},
}

var cacheKeysCmd = &cobra.Command{
	Use:   "keys [collection]",
	Short: "List collections, or the entries of one collection",
	Args:  cobra.MaximumNArgs(1),
	RunE: withAppArgs(func(ctx context.Context, a *app, args []string) error {
		if len(args) == 0 {
			names, err := a.store.Collections(ctx)
			if err != nil {
				output.KindError(err)
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		}

		keys, err := a.store.Keys(ctx, args[0])
		if err != nil {
			output.KindError(err)
			return err
		}
		sort.Strings(keys)
		entries, err := a.store.GetBatchWithAttributes(ctx, args[0], keys)
		if err != nil {
			output.KindError(err)
			return err
		}
		for _, e := range entries {
			if e != nil {
				fmt.Println(output.FormatEntryShort(e))
			}
		}
		return nil
	}),
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <collection> <key>",
	Short: "Render an entry with its metadata",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetBool("raw")
		return withApp(func(ctx context.Context, a *app) error {
			e, err := a.store.GetEntry(ctx, args[0], args[1])
			if err != nil {
				output.KindError(err)
				return err
			}
			if e == nil {
				output.Error("%s/%s not cached", args[0], args[1])
				return fmt.Errorf("not cached: %s/%s", args[0], args[1])
			}
			md := output.EntryMarkdown(e)
			if raw {
				fmt.Print(md)
				return nil
			}
			rendered, err := output.RenderMarkdown(md)
			if err != nil {
				fmt.Print(md)
				return nil
			}
			fmt.Print(rendered)
			return nil
		})(cmd, args)
	},
}

// withAppArgs is withApp for commands that only need their args.
func withAppArgs(fn func(ctx context.Context, a *app, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return fn(ctx, a, args)
		})(cmd, args)
	}
}

func init() {
	cacheGetCmd.Flags().Bool("json", false, "Print the entry with metadata as JSON")
	cacheSetCmd.Flags().Bool("dirty", false, "Store as a local change to sync")
	cacheSetCmd.Flags().StringArray("attr", nil, "Attribute key=value (repeatable)")
	cachePendingCmd.Flags().Bool("json", false, "JSON output")
	cacheShowCmd.Flags().Bool("raw", false, "Print markdown without rendering")

	cacheCmd.AddCommand(cacheGetCmd, cacheSetCmd, cacheRmCmd, cacheClearCmd, cachePendingCmd, cacheKeysCmd, cacheShowCmd)
	rootCmd.AddCommand(cacheCmd)
}
