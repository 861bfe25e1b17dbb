package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marcus/offsync/internal/cache"
	"github.com/marcus/offsync/internal/forms"
	"github.com/marcus/offsync/internal/interactor"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/output"
	"github.com/marcus/offsync/internal/remote"
	"github.com/marcus/offsync/internal/strategy"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:     "record",
	Short:   "Load and submit form records",
	GroupID: "data",
}

var recordLoadCmd = &cobra.Command{
	Use:   "load <id>",
	Short: "Load a record, and its form with --structure",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("record id", args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		structure, _ := cmd.Flags().GetInt64("structure")
		jsonOut, _ := cmd.Flags().GetBool("json")
		policy, err := policyFlag(cmd)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		return withApp(func(ctx context.Context, a *app) error {
			req := &forms.LoadRecordRequest{Session: a.session, RecordID: id, StructureID: structure}
			it := &interactor.Interactor{Engine: a.engine, Policy: policy}
			call, err := it.Run(ctx, req)
			if err != nil {
				output.KindError(err)
				return err
			}
			req.Done(call.Sent())

			source := "cache"
			if call.Sent() {
				source = "remote"
			}
			if jsonOut {
				return output.JSON(map[string]any{"source": source, "form": req.Form, "record": req.Record})
			}
			printRecord(req.Form, req.Record, source)
			return nil
		})(cmd, args)
	},
}

func printRecord(form *models.Form, rec *models.Record, source string) {
	if form != nil {
		fmt.Printf("Form:    %s (structure %d)\n", form.Name, form.StructureID)
	}
	fmt.Printf("Record:  %d (set %d) from %s\n", rec.ID(), rec.RecordSetID, source)
	if md, ok := rec.ModifiedDate(); ok {
		fmt.Printf("Version: %d\n", md)
	}
	keys := make([]string, 0, len(rec.Values))
	for k := range rec.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-16s %v\n", k, rec.Values[k])
	}
	for _, d := range rec.Documents {
		state := d.URL
		if d.Pending() {
			state = output.FormatState(true) + " " + d.CachedKey
		}
		fmt.Printf("  %-16s %s %s\n", d.Field, d.Title, state)
	}
}

var recordSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Create or update a record",
	Long: `Sends a record to the server. Under remote-first a record that cannot be
sent is kept dirty in the cache for the next sync; cache-only and cache-first
only store it. Attachments given with --doc are uploaded first; while any of
them is still pending the record waits in the cache.`,
	Example: `  offsync record submit --record-set 3 --set title=Survey --set count=4
  offsync record submit --record-set 3 --id 12 --set title=Fixed --doc photo=./site.jpg`,
	RunE: func(cmd *cobra.Command, args []string) error {
		recordSet, _ := cmd.Flags().GetInt64("record-set")
		id, _ := cmd.Flags().GetInt64("id")
		structure, _ := cmd.Flags().GetInt64("structure")
		sets, _ := cmd.Flags().GetStringArray("set")
		docs, _ := cmd.Flags().GetStringArray("doc")
		prefix, _ := cmd.Flags().GetString("file-prefix")
		repository, _ := cmd.Flags().GetInt64("repository")
		policy, err := policyFlag(cmd)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		values, err := parseAssignments(sets)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		rec := &models.Record{RecordSetID: recordSet, StructureID: structure, Values: values}
		if id > 0 {
			rec.RecordID = models.Int64Ptr(id)
		}

		return withApp(func(ctx context.Context, a *app) error {
			if id > 0 {
				// Keep the cached version so the sync pass can detect conflicts.
				if e, err := a.store.GetEntry(ctx, forms.Collection, forms.RecordKey(id)); err == nil && e != nil {
					if base, err := forms.DecodeRecord(e.Attributes); err == nil {
						rec.Attributes = base.Attributes
					}
				}
			}
			if repository == 0 {
				if s, ok := a.session.Current(); ok {
					repository = s.GroupID
				}
			}

			pending := false
			for _, arg := range docs {
				d, err := uploadAttachment(ctx, a, policy, arg, prefix, repository)
				if err != nil {
					output.KindError(err)
					return err
				}
				rec.Documents = append(rec.Documents, d)
				if d.Pending() {
					pending = true
				} else {
					rec.Values[d.Field] = d.URL
				}
			}

			form, err := cachedForm(ctx, a.store, structure)
			if err != nil {
				output.KindError(err)
				return err
			}

			req := forms.NewSubmitRecordRequest(a.session, rec, form)
			s := writeStrategy(policy)
			if pending {
				s = strategy.WriteToCache
			}
			it := &interactor.Interactor{Engine: a.engine, Strategy: s}
			call, err := it.Run(ctx, req)
			if err == nil {
				err = a.engine.Flush()
			}
			if err != nil {
				output.KindError(err)
				return err
			}
			if call.Sent() && req.Result != nil {
				output.Success("Submitted record %d", req.Result.ID())
				return nil
			}
			output.Warning("Stored %s/%s for the next sync", forms.Collection, req.Key)
			return nil
		})(cmd, args)
	},
}

// uploadAttachment sends one --doc field=path attachment, or caches it dirty
// when it cannot be sent.
func uploadAttachment(ctx context.Context, a *app, policy strategy.Policy, arg, prefix string, repository int64) (models.Document, error) {
	field, path, ok := strings.Cut(arg, "=")
	if !ok || field == "" || path == "" {
		return models.Document{}, fmt.Errorf("invalid attachment %q (want field=path)", arg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Document{}, fmt.Errorf("read attachment: %w", err)
	}
	req := forms.NewUploadDocumentRequest(a.session, remote.DocumentUpload{
		RepositoryID: repository,
		FilePrefix:   prefix,
		Name:         filepath.Base(path),
		Data:         data,
	})
	it := &interactor.Interactor{Engine: a.engine, Strategy: writeStrategy(policy)}
	if _, err := it.Run(ctx, req); err != nil {
		return models.Document{}, err
	}
	if err := a.engine.Flush(); err != nil {
		return models.Document{}, err
	}
	return req.Document(field), nil
}

// writeStrategy is strategy.ForWrite, except that remote-only still caches
// what the server returned so the result can be read back.
func writeStrategy(p strategy.Policy) strategy.Strategy {
	if p == strategy.RemoteOnly {
		return strategy.WhenSucceeds(strategy.Remote, strategy.WriteToCache)
	}
	return strategy.ForWrite(p)
}

// cachedForm returns the cached form of a structure, or nil when it was
// never loaded.
func cachedForm(ctx context.Context, store *cache.Store, structureID int64) (*models.Form, error) {
	if structureID <= 0 {
		return nil, nil
	}
	data, ok, err := store.Get(ctx, forms.Collection, forms.StructureKey(structureID))
	if err != nil || !ok {
		return nil, err
	}
	var form models.Form
	if err := json.Unmarshal(data, &form); err != nil {
		return nil, fmt.Errorf("decode cached form: %w", err)
	}
	return &form, nil
}

func init() {
	recordLoadCmd.Flags().Int64("structure", 0, "Also load the form of this structure id")
	recordLoadCmd.Flags().Bool("json", false, "JSON output")
	addPolicyFlag(recordLoadCmd)

	recordSubmitCmd.Flags().Int64("record-set", 0, "Record set id (required)")
	recordSubmitCmd.Flags().Int64("id", 0, "Record id to update; omit to create")
	recordSubmitCmd.Flags().Int64("structure", 0, "Structure id whose cached form validates required fields")
	recordSubmitCmd.Flags().StringArray("set", nil, "Field value key=value (repeatable)")
	recordSubmitCmd.Flags().StringArray("doc", nil, "Attachment field=path (repeatable)")
	recordSubmitCmd.Flags().String("file-prefix", "offsync", "File name prefix for attachments")
	recordSubmitCmd.Flags().Int64("repository", 0, "Document repository id (default: your group)")
	recordSubmitCmd.MarkFlagRequired("record-set")
	addPolicyFlag(recordSubmitCmd)

	recordCmd.AddCommand(recordLoadCmd, recordSubmitCmd)
	rootCmd.AddCommand(recordCmd)
}
